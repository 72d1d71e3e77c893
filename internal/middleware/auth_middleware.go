package middleware

import (
	"strings"

	"ridehail/internal/utils"

	"github.com/gin-gonic/gin"
)

// AuthRequired validates the bearer token and puts user_id (ObjectID) and
// user_type into the gin context for handlers downstream.
func AuthRequired(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.UnauthorizedResponse(c)
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			utils.UnauthorizedResponse(c)
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(tokenString, secretKey)
		if err != nil {
			utils.UnauthorizedResponse(c)
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_type", claims.UserType)
		c.Next()
	}
}

// DriverRequired gates driver-only endpoints.
func DriverRequired() gin.HandlerFunc {
	return requireUserType(utils.UserTypeDriver)
}

// PassengerRequired gates passenger-only endpoints.
func PassengerRequired() gin.HandlerFunc {
	return requireUserType(utils.UserTypePassenger)
}

// AdminRequired gates operational endpoints.
func AdminRequired() gin.HandlerFunc {
	return requireUserType(utils.UserTypeAdmin)
}

func requireUserType(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userType, exists := c.Get("user_type")
		if !exists {
			utils.UnauthorizedResponse(c)
			c.Abort()
			return
		}

		if typeStr, ok := userType.(string); !ok || typeStr != required {
			utils.ForbiddenResponse(c)
			c.Abort()
			return
		}

		c.Next()
	}
}
