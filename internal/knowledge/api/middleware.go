package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/eventops/knowledge-service/internal/knowledge/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

const callerContextKey = "caller"

// AuthMiddleware creates a Gin middleware that validates the bearer JWT and
// stores the resolved caller in the request context. Tokens carry the user ID
// in "sub", the tenancy in "org" and the role in "role"; the superadmin role
// yields an unscoped caller regardless of the org claim.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			c.Abort()
			return
		}

		userID, ok := claims["sub"].(string)
		if !ok || userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			c.Abort()
			return
		}

		caller := service.Caller{UserID: userID}
		if role, ok := claims["role"].(string); ok {
			caller.Role = role
		}
		if caller.Role != "superadmin" {
			org, ok := claims["org"].(string)
			if !ok || org == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "token carries no organization"})
				c.Abort()
				return
			}
			caller.OrganizationID = &org
		}

		c.Set(callerContextKey, caller)
		c.Next()
	}
}

// callerFrom retrieves the caller placed in the context by AuthMiddleware.
func callerFrom(c *gin.Context) (service.Caller, bool) {
	value, exists := c.Get(callerContextKey)
	if !exists {
		return service.Caller{}, false
	}
	caller, ok := value.(service.Caller)
	return caller, ok
}
