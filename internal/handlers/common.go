package handlers

import (
	"errors"

	"ridehail/internal/services"
	"ridehail/internal/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// currentUserID pulls the authenticated user out of the gin context. The
// auth middleware guarantees it is present on protected routes.
func currentUserID(c *gin.Context) (primitive.ObjectID, bool) {
	raw, exists := c.Get("user_id")
	if !exists {
		utils.UnauthorizedResponse(c)
		return primitive.NilObjectID, false
	}

	userID, ok := raw.(primitive.ObjectID)
	if !ok {
		utils.UnauthorizedResponse(c)
		return primitive.NilObjectID, false
	}
	return userID, true
}

func rideIDParam(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid ride ID")
		return primitive.NilObjectID, false
	}
	return id, true
}

// respondServiceError maps the service error taxonomy onto HTTP codes.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		utils.BadRequestResponse(c, err.Error())
	case errors.Is(err, services.ErrNotFound):
		utils.NotFoundResponse(c, "Resource")
	case errors.Is(err, services.ErrCapacity):
		utils.CapacityExceededResponse(c, err.Error())
	case errors.Is(err, services.ErrConflict):
		utils.ConflictResponse(c, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		utils.ForbiddenResponse(c)
	case errors.Is(err, services.ErrUnavailable):
		utils.ServiceUnavailableResponse(c, err.Error())
	default:
		utils.InternalServerErrorResponse(c)
	}
}
