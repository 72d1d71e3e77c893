package routes

import (
	"ridehail/internal/handlers"
	"ridehail/internal/middleware"

	"github.com/gin-gonic/gin"
)

func SetupNotificationRoutes(r *gin.RouterGroup, notificationHandler *handlers.NotificationHandler, jwtSecret string) {
	notifications := r.Group("/notifications")
	notifications.Use(middleware.AuthRequired(jwtSecret))
	{
		notifications.POST("/device-token", notificationHandler.RegisterDeviceToken)
	}
}
