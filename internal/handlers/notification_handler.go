package handlers

import (
	"ridehail/internal/services"
	"ridehail/internal/utils"
	"ridehail/internal/validators"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	cache services.CacheService
}

func NewNotificationHandler(cache services.CacheService) *NotificationHandler {
	return &NotificationHandler{
		cache: cache,
	}
}

// RegisterDeviceToken handles POST /notifications/device-token. The token is
// the push fallback address used when the user has no live websocket.
func (h *NotificationHandler) RegisterDeviceToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var request validators.DeviceTokenRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateDeviceToken(&request); errs.HasErrors() {
		utils.ValidationErrorResponse(c, errs.ToMap())
		return
	}

	if err := h.cache.SetDeviceToken(c.Request.Context(), userID, request.Platform, request.Token); err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Device token registered", nil)
}
