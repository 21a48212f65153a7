package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateRecipe stores recipe and fills its ID and timestamps.
func (p *PostgresClient) CreateRecipe(ctx context.Context, recipe *Recipe) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO recipes (recipe_name, document)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, recipe.RecipeName, []byte(recipe.Document)).Scan(&recipe.ID, &recipe.CreatedAt, &recipe.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert recipe: %w", err)
	}
	return nil
}

func (p *PostgresClient) GetRecipe(ctx context.Context, recipeID uuid.UUID) (*Recipe, error) {
	var recipe Recipe
	var doc []byte
	err := p.pool.QueryRow(ctx, `
		SELECT id, recipe_name, document, created_at, updated_at
		FROM recipes
		WHERE id = $1
	`, recipeID).Scan(&recipe.ID, &recipe.RecipeName, &doc, &recipe.CreatedAt, &recipe.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("recipe %s: %w", recipeID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	recipe.Document = doc
	return &recipe, nil
}

// ListRecipes returns all recipes without their documents.
func (p *PostgresClient) ListRecipes(ctx context.Context) ([]*Recipe, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, recipe_name, created_at, updated_at
		FROM recipes
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	recipes := make([]*Recipe, 0)
	for rows.Next() {
		var r Recipe
		if err := rows.Scan(&r.ID, &r.RecipeName, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		recipes = append(recipes, &r)
	}
	return recipes, rows.Err()
}

func (p *PostgresClient) UpdateRecipe(ctx context.Context, recipe *Recipe) error {
	err := p.pool.QueryRow(ctx, `
		UPDATE recipes SET recipe_name = $1, document = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at
	`, recipe.RecipeName, []byte(recipe.Document), recipe.ID).Scan(&recipe.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("recipe %s: %w", recipe.ID, ErrNotFound)
		}
		return fmt.Errorf("failed to update recipe: %w", err)
	}
	return nil
}

func (p *PostgresClient) DeleteRecipe(ctx context.Context, recipeID uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, recipeID)
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("recipe %s: %w", recipeID, ErrNotFound)
	}
	return nil
}
