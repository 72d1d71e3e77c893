package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DriverStatus string

const (
	DriverStatusOffline   DriverStatus = "offline"
	DriverStatusAvailable DriverStatus = "available"
	DriverStatusBusy      DriverStatus = "busy"
)

// Driver is the availability record the dispatch engine reads and mutates.
// ActiveRideCount is only ever changed through conditional increments, which
// is what keeps the concurrent-rides cap hard under racing accepts.
type Driver struct {
	ID                 primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	FirstName          string             `json:"first_name" bson:"first_name"`
	LastName           string             `json:"last_name" bson:"last_name"`
	Phone              string             `json:"phone" bson:"phone"`
	Status             DriverStatus       `json:"status" bson:"status" default:"offline"`
	CurrentLocation    *Location          `json:"current_location" bson:"current_location"`
	LastLocationUpdate *time.Time         `json:"last_location_update" bson:"last_location_update"`
	Rating             float64            `json:"rating" bson:"rating" default:"0"`
	TotalRatings       int64              `json:"total_ratings" bson:"total_ratings" default:"0"`
	TotalRides         int64              `json:"total_rides" bson:"total_rides" default:"0"`
	ActiveRideCount    int64              `json:"active_ride_count" bson:"active_ride_count" default:"0"`
	CreatedAt          time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" bson:"updated_at"`
}

func (d *Driver) FullName() string {
	if d.LastName == "" {
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}
