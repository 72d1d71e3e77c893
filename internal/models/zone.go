package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Zone is a service area. Ride requests must reference a resolvable pickup
// and destination zone; fares are configured per zone pair elsewhere.
type Zone struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name      string             `json:"name" bson:"name" validate:"required"`
	Active    bool               `json:"active" bson:"active" default:"true"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}
