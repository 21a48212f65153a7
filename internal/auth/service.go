package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/config"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
)

type Permission string

const (
	// PermOperator reads recipes, executions and device status.
	PermOperator Permission = "operator"
	// PermTechnician edits and runs recipes.
	PermTechnician Permission = "technician"
	// PermAdmin resets the bench and deletes data.
	PermAdmin Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
)

// UserStore is the persistence the service needs. *storage.PostgresClient
// implements it.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error)
	EnsureUser(ctx context.Context, username, passwordHash, role string) error
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error
	ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error
	StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*uuid.UUID, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) error
	LogAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ipAddress, userAgent string, success bool, reason string) error
}

type AuthService struct {
	storage        UserStore
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	cfg            config.AuthConfig
	logger         *zap.Logger
}

func NewAuthService(store UserStore, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		storage:        store,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		passwordHasher: NewPasswordHasher(),
		cfg:            cfg,
		logger:         logger,
	}
}

// SeedUsers creates or updates the accounts listed in the configuration.
// Entries without a password hash are skipped.
func (a *AuthService) SeedUsers(ctx context.Context, users []config.UserConfig) error {
	for _, u := range users {
		if u.PasswordHash == "" {
			a.logger.Warn("Configured user has no password hash, skipped", zap.String("username", u.Username))
			continue
		}
		role := u.Role
		if role == "" {
			role = string(PermOperator)
		}
		if err := a.storage.EnsureUser(ctx, u.Username, u.PasswordHash, role); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
	}
	return nil
}

// LoginUser authenticates a user and returns tokens
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (accessToken, refreshToken string, err error) {
	user, err := a.storage.GetUserByUsername(ctx, username)
	if err != nil {
		a.logAuthEvent(ctx, "user_login_failed", nil, ipAddress, userAgent, false, "user not found")
		return "", "", ErrInvalidCredentials
	}

	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, ipAddress, userAgent, false, "account locked")
		return "", "", fmt.Errorf("%w until %s", ErrAccountLocked, user.LockedUntil.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		if err := a.storage.IncrementFailedLoginAttempts(ctx, user.ID, a.cfg.MaxFailedLoginAttempts, a.cfg.AccountLockDuration); err != nil {
			a.logger.Error("Failed to count login attempt", zap.Error(err))
		}
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, ipAddress, userAgent, false, "invalid password")
		return "", "", ErrInvalidCredentials
	}

	_ = a.storage.ResetFailedLoginAttempts(ctx, user.ID)

	accessToken, refreshToken, err = a.issueTokens(ctx, user)
	if err != nil {
		return "", "", err
	}

	_ = a.storage.UpdateLastLogin(ctx, user.ID)
	a.logAuthEvent(ctx, "user_login_success", &user.ID, ipAddress, userAgent, true, "")

	return accessToken, refreshToken, nil
}

func (a *AuthService) issueTokens(ctx context.Context, user *storage.User) (string, string, error) {
	accessToken, err := a.jwtHandler.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, refreshHash, err := a.jwtHandler.GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}

	if err := a.storage.StoreRefreshToken(ctx, user.ID, refreshHash, a.jwtHandler.refreshExpiry()); err != nil {
		return "", "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

// ValidateToken checks an access token and returns the claims and the
// permissions it grants.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, claims.Perms, nil
}

// RolePermissions maps a role to its permissions. Unknown roles are operators.
func RolePermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ip, userAgent string, success bool, reason string) {
	if err := a.storage.LogAuthEvent(ctx, eventType, userID, ip, userAgent, success, reason); err != nil {
		a.logger.Warn("Failed to log auth event", zap.String("event", eventType), zap.Error(err))
	}
}

// RefreshAccessToken rotates a refresh token and issues a new access token.
func (a *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	tokenHash := hashRefreshToken(refreshToken)

	userID, err := a.storage.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		return "", "", fmt.Errorf("invalid refresh token: %w", err)
	}

	user, err := a.storage.GetUserByID(ctx, *userID)
	if err != nil {
		return "", "", fmt.Errorf("user not found: %w", err)
	}

	// Alter Token ist nur einmal gültig
	if err := a.storage.RevokeRefreshToken(ctx, tokenHash); err != nil {
		return "", "", fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return a.issueTokens(ctx, user)
}

func (a *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	return a.storage.RevokeRefreshToken(ctx, hashRefreshToken(refreshToken))
}

// LogoutAll revokes every refresh token of the user.
func (a *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return a.storage.RevokeAllUserRefreshTokens(ctx, userID)
}

// HashPassword returns the argon2id encoding for a configuration entry.
func HashPassword(password string) (string, error) {
	return NewPasswordHasher().HashPassword(password)
}
