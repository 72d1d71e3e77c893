package validators

import (
	"ridehail/internal/models"
	"ridehail/internal/utils"
)

type RideCreateRequest struct {
	PickupLat            float64 `json:"pickup_lat"`
	PickupLng            float64 `json:"pickup_lng"`
	PickupAddress        string  `json:"pickup_address"`
	DestinationLat       float64 `json:"destination_lat"`
	DestinationLng       float64 `json:"destination_lng"`
	DestinationAddress   string  `json:"destination_address"`
	FromZoneID           string  `json:"from_zone_id"`
	ToZoneID             string  `json:"to_zone_id"`
	EstimatedDistanceKm  float64 `json:"estimated_distance_km"`
	EstimatedDurationMin int     `json:"estimated_duration_min"`
	Price                float64 `json:"price"`
}

type RideStatusUpdateRequest struct {
	Status string `json:"status"`
}

type RideCancelRequest struct {
	Reason string `json:"reason"`
}

type RideRatingRequest struct {
	Rating   float64 `json:"rating"`
	Feedback string  `json:"feedback"`
}

func ValidateRideCreate(req *RideCreateRequest) ValidationErrors {
	var errors ValidationErrors

	if !validLatitude(req.PickupLat) || !validLongitude(req.PickupLng) {
		errors = append(errors, ValidationError{Field: "pickup", Message: "pickup coordinates out of range"})
	}
	if !validLatitude(req.DestinationLat) || !validLongitude(req.DestinationLng) {
		errors = append(errors, ValidationError{Field: "destination", Message: "destination coordinates out of range"})
	}
	if req.PickupLat == 0 && req.PickupLng == 0 {
		errors = append(errors, ValidationError{Field: "pickup", Message: "pickup location is required"})
	}
	if req.DestinationLat == 0 && req.DestinationLng == 0 {
		errors = append(errors, ValidationError{Field: "destination", Message: "destination location is required"})
	}
	if !validObjectID(req.FromZoneID) {
		errors = append(errors, ValidationError{Field: "from_zone_id", Message: "valid pickup zone id is required"})
	}
	if !validObjectID(req.ToZoneID) {
		errors = append(errors, ValidationError{Field: "to_zone_id", Message: "valid destination zone id is required"})
	}
	if req.EstimatedDistanceKm < 0 {
		errors = append(errors, ValidationError{Field: "estimated_distance_km", Message: "distance cannot be negative"})
	}
	if req.EstimatedDurationMin < 0 {
		errors = append(errors, ValidationError{Field: "estimated_duration_min", Message: "duration cannot be negative"})
	}
	if req.Price < 0 {
		errors = append(errors, ValidationError{Field: "price", Message: "price cannot be negative"})
	}

	return errors
}

// ValidateRideStatusUpdate accepts only driver-driven forward transitions;
// accepted is reached through the accept endpoint and cancelled through the
// cancel endpoint.
func ValidateRideStatusUpdate(req *RideStatusUpdateRequest) ValidationErrors {
	switch models.RideStatus(req.Status) {
	case models.RideStatusArrived, models.RideStatusInProgress, models.RideStatusCompleted:
		return nil
	}
	return ValidationErrors{{Field: "status", Message: "status must be one of arrived, inProgress, completed"}}
}

func ValidateRideCancel(req *RideCancelRequest) ValidationErrors {
	if len(req.Reason) > 255 {
		return ValidationErrors{{Field: "reason", Message: "reason must be at most 255 characters"}}
	}
	return nil
}

func ValidateRideRating(req *RideRatingRequest) ValidationErrors {
	var errors ValidationErrors

	if req.Rating < utils.MinRating || req.Rating > utils.MaxRating {
		errors = append(errors, ValidationError{Field: "rating", Message: "rating must be between 1 and 5"})
	}
	if len(req.Feedback) > 500 {
		errors = append(errors, ValidationError{Field: "feedback", Message: "feedback must be at most 500 characters"})
	}

	return errors
}
