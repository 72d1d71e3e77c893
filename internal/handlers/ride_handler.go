package handlers

import (
	"ridehail/internal/models"
	"ridehail/internal/services"
	"ridehail/internal/utils"
	"ridehail/internal/validators"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RideHandler struct {
	rideService services.RideService
}

func NewRideHandler(rideService services.RideService) *RideHandler {
	return &RideHandler{
		rideService: rideService,
	}
}

// CreateRide handles POST /rides. The response returns immediately with the
// requested ride; matching continues asynchronously.
func (h *RideHandler) CreateRide(c *gin.Context) {
	passengerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var request validators.RideCreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateRideCreate(&request); errs.HasErrors() {
		utils.ValidationErrorResponse(c, errs.ToMap())
		return
	}

	fromZoneID, _ := primitive.ObjectIDFromHex(request.FromZoneID)
	toZoneID, _ := primitive.ObjectIDFromHex(request.ToZoneID)

	ride, err := h.rideService.CreateRide(c.Request.Context(), passengerID, &services.CreateRideInput{
		PickupLocation:       models.NewPoint(request.PickupLng, request.PickupLat, request.PickupAddress),
		DestinationLocation:  models.NewPoint(request.DestinationLng, request.DestinationLat, request.DestinationAddress),
		FromZoneID:           fromZoneID,
		ToZoneID:             toZoneID,
		EstimatedDistanceKm:  request.EstimatedDistanceKm,
		EstimatedDurationMin: request.EstimatedDurationMin,
		Price:                request.Price,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, "Ride requested", ride)
}

// GetRide handles GET /rides/:id.
func (h *RideHandler) GetRide(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c)
	if !ok {
		return
	}

	ride, err := h.rideService.GetRide(c.Request.Context(), rideID, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Ride retrieved", ride)
}

// History handles GET /rides/history.
func (h *RideHandler) History(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	rides, total, err := h.rideService.History(c.Request.Context(), userID, params)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Ride history retrieved", rides, &utils.Meta{
		Pagination: utils.CreatePaginationMeta(params, total),
	})
}

// AcceptRide handles POST /rides/:id/accept.
func (h *RideHandler) AcceptRide(c *gin.Context) {
	driverID, ok := currentUserID(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c)
	if !ok {
		return
	}

	ride, err := h.rideService.AcceptRide(c.Request.Context(), rideID, driverID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Ride accepted", ride)
}

// DeclineRide handles POST /rides/:id/decline.
func (h *RideHandler) DeclineRide(c *gin.Context) {
	driverID, ok := currentUserID(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c)
	if !ok {
		return
	}

	if err := h.rideService.DeclineRide(c.Request.Context(), rideID, driverID); err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Offer declined", nil)
}

// UpdateStatus handles PUT /rides/:id.
func (h *RideHandler) UpdateStatus(c *gin.Context) {
	driverID, ok := currentUserID(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c)
	if !ok {
		return
	}

	var request validators.RideStatusUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateRideStatusUpdate(&request); errs.HasErrors() {
		utils.ValidationErrorResponse(c, errs.ToMap())
		return
	}

	ride, err := h.rideService.UpdateStatus(c.Request.Context(), rideID, driverID, models.RideStatus(request.Status))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Ride status updated", ride)
}

// CancelRide handles POST /rides/:id/cancel.
func (h *RideHandler) CancelRide(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c)
	if !ok {
		return
	}

	var request validators.RideCancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			utils.BadRequestResponse(c, "Invalid request: "+err.Error())
			return
		}
	}
	if errs := validators.ValidateRideCancel(&request); errs.HasErrors() {
		utils.ValidationErrorResponse(c, errs.ToMap())
		return
	}

	ride, err := h.rideService.CancelRide(c.Request.Context(), rideID, userID, request.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Ride cancelled", ride)
}

// RateDriver handles POST /rides/:id/rate-driver.
func (h *RideHandler) RateDriver(c *gin.Context) {
	passengerID, ok := currentUserID(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c)
	if !ok {
		return
	}

	var request validators.RideRatingRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateRideRating(&request); errs.HasErrors() {
		utils.ValidationErrorResponse(c, errs.ToMap())
		return
	}

	ride, err := h.rideService.RateDriver(c.Request.Context(), rideID, passengerID, request.Rating, request.Feedback)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Driver rated", ride)
}

// RatePassenger handles POST /rides/:id/rate-passenger.
func (h *RideHandler) RatePassenger(c *gin.Context) {
	driverID, ok := currentUserID(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c)
	if !ok {
		return
	}

	var request validators.RideRatingRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateRideRating(&request); errs.HasErrors() {
		utils.ValidationErrorResponse(c, errs.ToMap())
		return
	}

	ride, err := h.rideService.RatePassenger(c.Request.Context(), rideID, driverID, request.Rating, request.Feedback)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Passenger rated", ride)
}
