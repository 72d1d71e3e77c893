package validators

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ToMap flattens errors into the details shape the response envelope uses.
func (e ValidationErrors) ToMap() map[string]string {
	m := make(map[string]string, len(e))
	for _, err := range e {
		m[err.Field] = err.Message
	}
	return m
}

func validLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

func validLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}

func validObjectID(hex string) bool {
	_, err := primitive.ObjectIDFromHex(hex)
	return err == nil
}
