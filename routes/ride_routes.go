package routes

import (
	"ridehail/internal/handlers"
	"ridehail/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRideRoutes wires the dispatch API. Accept, decline, status updates
// and passenger-rating are driver operations; creation and driver-rating are
// passenger operations; reads and cancellation belong to either participant.
func SetupRideRoutes(r *gin.RouterGroup, rideHandler *handlers.RideHandler, jwtSecret string) {
	rides := r.Group("/rides")
	rides.Use(middleware.AuthRequired(jwtSecret))
	{
		rides.POST("", middleware.PassengerRequired(), rideHandler.CreateRide)
		rides.GET("/history", rideHandler.History)
		rides.GET("/:id", rideHandler.GetRide)
		rides.PUT("/:id", middleware.DriverRequired(), rideHandler.UpdateStatus)

		rides.POST("/:id/accept", middleware.DriverRequired(), rideHandler.AcceptRide)
		rides.POST("/:id/decline", middleware.DriverRequired(), rideHandler.DeclineRide)
		rides.POST("/:id/cancel", rideHandler.CancelRide)

		rides.POST("/:id/rate-driver", middleware.PassengerRequired(), rideHandler.RateDriver)
		rides.POST("/:id/rate-passenger", middleware.DriverRequired(), rideHandler.RatePassenger)
	}
}
