package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ctxPermissions = "permissions"
	ctxUserID      = "user_id"
	ctxUsername    = "username"
	ctxRole        = "role"
)

// AuthMiddleware validates bearer tokens
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization header format",
			})
			return
		}

		claims, permissions, err := a.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		SetIdentity(c, claims.UserID, claims.Username, claims.Role, permissions)
		c.Next()
	}
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		permissions := GetUserPermissions(c)
		if permissions == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "no permissions found",
			})
			return
		}

		if !slices.Contains(permissions, required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": string(required),
			})
			return
		}

		c.Next()
	}
}

// SetIdentity stores the authenticated user on the request context.
func SetIdentity(c *gin.Context, userID uuid.UUID, username, role string, permissions []Permission) {
	c.Set(ctxPermissions, permissions)
	c.Set(ctxUserID, userID)
	c.Set(ctxUsername, username)
	c.Set(ctxRole, role)
}

func GetUserPermissions(c *gin.Context) []Permission {
	if perms, ok := c.Get(ctxPermissions); ok {
		p, _ := perms.([]Permission)
		return p
	}
	return nil
}

// GetUsername returns the authenticated user name, or "".
func GetUsername(c *gin.Context) string {
	return c.GetString(ctxUsername)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// GetUserID returns the authenticated user id, or uuid.Nil.
func GetUserID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ctxUserID); ok {
		id, _ := v.(uuid.UUID)
		return id
	}
	return uuid.Nil
}
