package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "openlabcore"

// JWTClaims identify a bench user. Perms is fixed at issuance, so a role
// change takes effect with the next refresh.
type JWTClaims struct {
	UserID   uuid.UUID    `json:"sub"`
	Username string       `json:"username"`
	Role     string       `json:"role"`
	Perms    []Permission `json:"perms"`
	jwt.RegisteredClaims
}

// Allows reports whether the token grants p.
func (c *JWTClaims) Allows(p Permission) bool {
	return slices.Contains(c.Perms, p)
}

type JWTHandler struct {
	secretKey       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewJWTHandler(secretKey string, accessTTL, refreshTTL time.Duration) *JWTHandler {
	return &JWTHandler{
		secretKey:       []byte(secretKey),
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
	}
}

// GenerateAccessToken signs an HS256 token carrying the permissions of role.
func (j *JWTHandler) GenerateAccessToken(userID uuid.UUID, username, role string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		Perms:    RolePermissions(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTokenTTL)),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
}

// GenerateRefreshToken returns a random opaque token and the hash under
// which it is stored. Only the hash reaches the database.
func (j *JWTHandler) GenerateRefreshToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	token = hex.EncodeToString(b)
	return token, hashRefreshToken(token), nil
}

func (j *JWTHandler) refreshExpiry() time.Time {
	return time.Now().Add(j.refreshTokenTTL)
}

// ValidateAccessToken parses tokenString. Tokens from older builds without
// perms get the permissions of their role.
func (j *JWTHandler) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return j.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token without subject")
	}
	if len(claims.Perms) == 0 {
		claims.Perms = RolePermissions(claims.Role)
	}
	return claims, nil
}

func hashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
