package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/auth"
	"github.com/KevinKickass/OpenLabCore/internal/engine"
	"github.com/KevinKickass/OpenLabCore/internal/machine"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/types"
)

const maxDocumentSize = 1 << 20

// requestFormat picks the document format from the Content-Type header.
func requestFormat(c *gin.Context) task.Format {
	ct := strings.ToLower(c.ContentType())
	if strings.Contains(ct, "yaml") {
		return task.FormatYAML
	}
	return task.FormatJSON
}

func parseID(c *gin.Context, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(code, "Invalid "+param, err.Error()))
		return uuid.Nil, false
	}
	return id, true
}

// readDocument validates the request body and returns the document in its
// stored JSON form. It writes the error response itself.
func (s *Server) readDocument(c *gin.Context) (*task.Document, json.RawMessage, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("RECIPE_400", "Failed to read body", err.Error()))
		return nil, nil, false
	}

	format := requestFormat(c)
	report := s.lm.Validator().Validate(body, format)
	if !report.Valid {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("RECIPE_422", "Recipe is invalid", report))
		return nil, nil, false
	}

	doc, err := s.lm.Schema().Decode(body, format)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("RECIPE_422", "Recipe is invalid", err.Error()))
		return nil, nil, false
	}
	stored, err := doc.Encode(task.FormatJSON)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("RECIPE_500", "Failed to encode recipe", err.Error()))
		return nil, nil, false
	}
	return doc, stored, true
}

func (s *Server) storeError(c *gin.Context, code string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(code+"_404", "Not found", err.Error()))
		return
	}
	s.logger.Error("Store request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, types.NewErrorResponse(code+"_500", "Storage error", err.Error()))
}

// GET /api/v1/recipes
func (s *Server) listRecipes(c *gin.Context) {
	recipes, err := s.lm.Store().ListRecipes(c.Request.Context())
	if err != nil {
		s.storeError(c, "RECIPE", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipes": recipes, "count": len(recipes)})
}

// GET /api/v1/recipes/:id[?format=yaml]
func (s *Server) getRecipe(c *gin.Context) {
	id, ok := parseID(c, "id", "RECIPE_400")
	if !ok {
		return
	}

	recipe, err := s.lm.Store().GetRecipe(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "RECIPE", err)
		return
	}

	if c.Query("format") != string(task.FormatYAML) {
		c.JSON(http.StatusOK, recipe)
		return
	}

	doc, err := s.lm.Schema().Decode(recipe.Document, task.FormatJSON)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("RECIPE_500", "Stored recipe is unreadable", err.Error()))
		return
	}
	out, err := doc.Encode(task.FormatYAML)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("RECIPE_500", "Failed to encode recipe", err.Error()))
		return
	}
	c.Data(http.StatusOK, "application/yaml", out)
}

// POST /api/v1/recipes/validate
func (s *Server) validateRecipe(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("RECIPE_400", "Failed to read body", err.Error()))
		return
	}
	c.JSON(http.StatusOK, s.lm.Validator().Validate(body, requestFormat(c)))
}

// POST /api/v1/recipes
func (s *Server) createRecipe(c *gin.Context) {
	doc, stored, ok := s.readDocument(c)
	if !ok {
		return
	}

	recipe := &storage.Recipe{RecipeName: doc.Recipe.Name, Document: stored}
	if err := s.lm.Store().CreateRecipe(c.Request.Context(), recipe); err != nil {
		s.storeError(c, "RECIPE", err)
		return
	}

	s.logger.Info("Recipe created",
		zap.String("recipe_id", recipe.ID.String()),
		zap.String("name", recipe.RecipeName),
		zap.String("by", auth.GetUsername(c)))
	c.JSON(http.StatusCreated, recipe)
}

// PUT /api/v1/recipes/:id
func (s *Server) updateRecipe(c *gin.Context) {
	id, ok := parseID(c, "id", "RECIPE_400")
	if !ok {
		return
	}
	doc, stored, ok := s.readDocument(c)
	if !ok {
		return
	}

	recipe := &storage.Recipe{ID: id, RecipeName: doc.Recipe.Name, Document: stored}
	if err := s.lm.Store().UpdateRecipe(c.Request.Context(), recipe); err != nil {
		s.storeError(c, "RECIPE", err)
		return
	}
	c.JSON(http.StatusOK, recipe)
}

// DELETE /api/v1/recipes/:id
func (s *Server) deleteRecipe(c *gin.Context) {
	id, ok := parseID(c, "id", "RECIPE_400")
	if !ok {
		return
	}
	if err := s.lm.Store().DeleteRecipe(c.Request.Context(), id); err != nil {
		s.storeError(c, "RECIPE", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/recipes/:id/run
func (s *Server) runRecipe(c *gin.Context) {
	id, ok := parseID(c, "id", "RECIPE_400")
	if !ok {
		return
	}

	stored, err := s.lm.Store().GetRecipe(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "RECIPE", err)
		return
	}

	doc, err := s.lm.Schema().Decode(stored.Document, task.FormatJSON)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("RECIPE_422", "Stored recipe is invalid", err.Error()))
		return
	}
	if report := s.lm.Validator().ValidateDocument(doc); !report.Valid {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("RECIPE_422", "Recipe is invalid", report))
		return
	}
	recipe, err := doc.Build(&task.IDGenerator{})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("RECIPE_422", "Recipe is invalid", err.Error()))
		return
	}

	execID, err := s.lm.MachineController().Run(c.Request.Context(), recipe, &id)
	if err != nil {
		if missing, ok := engine.IsMissingDevices(err); ok {
			c.JSON(http.StatusConflict, types.NewErrorResponse("DEVICE_409", "Devices not available", gin.H{"missing": missing}))
			return
		}
		if errors.Is(err, machine.ErrBusy) {
			c.JSON(http.StatusConflict, types.NewErrorResponse("MACHINE_409", "Bench is busy", err.Error()))
			return
		}
		s.logger.Error("Recipe start failed", zap.String("recipe_id", id.String()), zap.Error(err))
		c.JSON(types.FaultResponse("RECIPE", "Failed to start recipe", err))
		return
	}

	s.logger.Info("Recipe run requested",
		zap.String("recipe", recipe.Name()),
		zap.String("execution_id", execID.String()),
		zap.String("by", auth.GetUsername(c)))
	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": execID,
		"recipe":       recipe.Name(),
	})
}
