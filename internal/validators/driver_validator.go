package validators

import (
	"ridehail/internal/models"
)

type DriverStatusRequest struct {
	Status string `json:"status"`
}

type DriverLocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

type DeviceTokenRequest struct {
	Platform string `json:"platform"`
	Token    string `json:"token"`
}

func ValidateDriverStatus(req *DriverStatusRequest) ValidationErrors {
	switch models.DriverStatus(req.Status) {
	case models.DriverStatusAvailable, models.DriverStatusOffline:
		return nil
	}
	return ValidationErrors{{Field: "status", Message: "status must be available or offline"}}
}

func ValidateDriverLocation(req *DriverLocationRequest) ValidationErrors {
	var errors ValidationErrors

	if !validLatitude(req.Latitude) {
		errors = append(errors, ValidationError{Field: "latitude", Message: "latitude out of range"})
	}
	if !validLongitude(req.Longitude) {
		errors = append(errors, ValidationError{Field: "longitude", Message: "longitude out of range"})
	}
	if req.Latitude == 0 && req.Longitude == 0 {
		errors = append(errors, ValidationError{Field: "location", Message: "coordinates are required"})
	}

	return errors
}

func ValidateDeviceToken(req *DeviceTokenRequest) ValidationErrors {
	var errors ValidationErrors

	if req.Platform != "ios" && req.Platform != "android" {
		errors = append(errors, ValidationError{Field: "platform", Message: "platform must be ios or android"})
	}
	if req.Token == "" {
		errors = append(errors, ValidationError{Field: "token", Message: "device token is required"})
	}

	return errors
}
