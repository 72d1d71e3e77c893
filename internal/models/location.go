package models

import (
	"time"
)

// Location is a GeoJSON point with a free-text address, stored in the shape
// the mongo 2dsphere index expects (lng first).
type Location struct {
	Type        string    `json:"type" bson:"type" default:"Point"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates" validate:"required,len=2"`
	Address     string    `json:"address" bson:"address"`
	Timestamp   time.Time `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
}

func NewPoint(lng, lat float64, address string) Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{lng, lat},
		Address:     address,
	}
}

func (l Location) Latitude() float64 {
	if len(l.Coordinates) >= 2 {
		return l.Coordinates[1]
	}
	return 0
}

func (l Location) Longitude() float64 {
	if len(l.Coordinates) >= 1 {
		return l.Coordinates[0]
	}
	return 0
}

func (l Location) IsZero() bool {
	return len(l.Coordinates) != 2
}
