package routes

import (
	"ridehail/internal/handlers"
	"ridehail/internal/middleware"

	"github.com/gin-gonic/gin"
)

func SetupDriverRoutes(r *gin.RouterGroup, driverHandler *handlers.DriverHandler, jwtSecret string) {
	drivers := r.Group("/drivers")
	drivers.Use(middleware.AuthRequired(jwtSecret))
	{
		drivers.GET("/me", middleware.DriverRequired(), driverHandler.GetProfile)
		drivers.PUT("/status", middleware.DriverRequired(), driverHandler.UpdateStatus)
		drivers.PUT("/location", middleware.DriverRequired(), driverHandler.UpdateLocation)

		drivers.GET("/nearby", middleware.AdminRequired(), driverHandler.NearbyDrivers)
	}
}
