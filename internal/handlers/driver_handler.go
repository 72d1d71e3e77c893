package handlers

import (
	"strconv"

	"ridehail/internal/models"
	"ridehail/internal/services"
	"ridehail/internal/utils"
	"ridehail/internal/validators"

	"github.com/gin-gonic/gin"
)

type DriverHandler struct {
	driverService services.DriverService
}

func NewDriverHandler(driverService services.DriverService) *DriverHandler {
	return &DriverHandler{
		driverService: driverService,
	}
}

// GetProfile handles GET /drivers/me.
func (h *DriverHandler) GetProfile(c *gin.Context) {
	driverID, ok := currentUserID(c)
	if !ok {
		return
	}

	driver, err := h.driverService.GetDriver(c.Request.Context(), driverID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Driver retrieved", driver)
}

// UpdateStatus handles PUT /drivers/status.
func (h *DriverHandler) UpdateStatus(c *gin.Context) {
	driverID, ok := currentUserID(c)
	if !ok {
		return
	}

	var request validators.DriverStatusRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateDriverStatus(&request); errs.HasErrors() {
		utils.ValidationErrorResponse(c, errs.ToMap())
		return
	}

	driver, err := h.driverService.SetStatus(c.Request.Context(), driverID, models.DriverStatus(request.Status))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Driver status updated", driver)
}

// UpdateLocation handles PUT /drivers/location.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	driverID, ok := currentUserID(c)
	if !ok {
		return
	}

	var request validators.DriverLocationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateDriverLocation(&request); errs.HasErrors() {
		utils.ValidationErrorResponse(c, errs.ToMap())
		return
	}

	location := models.NewPoint(request.Longitude, request.Latitude, request.Address)
	if err := h.driverService.UpdateLocation(c.Request.Context(), driverID, location); err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Location updated", nil)
}

// NearbyDrivers handles GET /drivers/nearby.
func (h *DriverHandler) NearbyDrivers(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		utils.BadRequestResponse(c, "lat and lng query parameters are required")
		return
	}

	radius := utils.SearchRadiusMeters
	if raw := c.Query("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			utils.BadRequestResponse(c, "radius must be a positive number of meters")
			return
		}
		radius = parsed
	}

	drivers, err := h.driverService.NearbyDrivers(c.Request.Context(), lng, lat, radius)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Nearby drivers retrieved", drivers, &utils.Meta{
		Count: len(drivers),
	})
}
