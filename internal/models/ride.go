package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RideStatus string
type CancellationInitiator string

const (
	RideStatusRequested  RideStatus = "requested"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusArrived    RideStatus = "arrived"
	RideStatusInProgress RideStatus = "inProgress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"

	InitiatorPassenger CancellationInitiator = "passenger"
	InitiatorDriver    CancellationInitiator = "driver"
	InitiatorSystem    CancellationInitiator = "system"
)

// Ride is the aggregate root of the dispatch engine. Every status change goes
// through a conditional store update keyed on the expected prior status, so a
// ride can never skip forward or leave a terminal state.
type Ride struct {
	ID                    primitive.ObjectID    `json:"id" bson:"_id,omitempty"`
	PassengerID           primitive.ObjectID    `json:"passenger_id" bson:"passenger_id" validate:"required"`
	DriverID              *primitive.ObjectID   `json:"driver_id" bson:"driver_id"`
	PickupLocation        Location              `json:"pickup_location" bson:"pickup_location" validate:"required"`
	DestinationLocation   Location              `json:"destination_location" bson:"destination_location" validate:"required"`
	FromZoneID            primitive.ObjectID    `json:"from_zone_id" bson:"from_zone_id" validate:"required"`
	ToZoneID              primitive.ObjectID    `json:"to_zone_id" bson:"to_zone_id" validate:"required"`
	EstimatedDistanceKm   float64               `json:"estimated_distance_km" bson:"estimated_distance_km"`
	EstimatedDurationMin  int                   `json:"estimated_duration_min" bson:"estimated_duration_min"`
	Price                 float64               `json:"price" bson:"price"`
	Status                RideStatus            `json:"status" bson:"status" default:"requested"`
	RequestedAt           time.Time             `json:"requested_at" bson:"requested_at"`
	AcceptedAt            *time.Time            `json:"accepted_at" bson:"accepted_at"`
	ArrivedAt             *time.Time            `json:"arrived_at" bson:"arrived_at"`
	StartedAt             *time.Time            `json:"started_at" bson:"started_at"`
	CompletedAt           *time.Time            `json:"completed_at" bson:"completed_at"`
	CancelledAt           *time.Time            `json:"cancelled_at" bson:"cancelled_at"`
	CancellationReason    string                `json:"cancellation_reason" bson:"cancellation_reason"`
	CancellationInitiator CancellationInitiator `json:"cancellation_initiator" bson:"cancellation_initiator"`
	OfferQueue            []primitive.ObjectID  `json:"offer_queue" bson:"offer_queue"`
	SkippedDriverIDs      []primitive.ObjectID  `json:"skipped_driver_ids" bson:"skipped_driver_ids"`
	LastOfferAt           *time.Time            `json:"last_offer_at" bson:"last_offer_at"`
	DriverRating          *float64              `json:"driver_rating" bson:"driver_rating"`
	PassengerRating       *float64              `json:"passenger_rating" bson:"passenger_rating"`
	DriverFeedback        string                `json:"driver_feedback" bson:"driver_feedback"`
	PassengerFeedback     string                `json:"passenger_feedback" bson:"passenger_feedback"`
	CreatedAt             time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at" bson:"updated_at"`
}

// rideTransitions encodes the lifecycle DAG. Cancellation is handled
// separately because it is reachable from every non-terminal state.
var rideTransitions = map[RideStatus]RideStatus{
	RideStatusAccepted:   RideStatusRequested,
	RideStatusArrived:    RideStatusAccepted,
	RideStatusInProgress: RideStatusArrived,
	RideStatusCompleted:  RideStatusInProgress,
}

// PredecessorOf returns the single status a ride must currently hold for the
// given target to be a legal forward transition.
func PredecessorOf(target RideStatus) (RideStatus, bool) {
	prev, ok := rideTransitions[target]
	return prev, ok
}

// ActiveRideStatuses are the states in which a ride occupies a driver slot or
// blocks the passenger from requesting another ride.
func ActiveRideStatuses() []RideStatus {
	return []RideStatus{RideStatusRequested, RideStatusAccepted, RideStatusArrived, RideStatusInProgress}
}

func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusRequested, RideStatusAccepted, RideStatusArrived,
		RideStatusInProgress, RideStatusCompleted, RideStatusCancelled:
		return true
	}
	return false
}

// OfferHead returns the driver currently holding the outstanding offer.
func (r *Ride) OfferHead() (primitive.ObjectID, bool) {
	if len(r.OfferQueue) == 0 {
		return primitive.NilObjectID, false
	}
	return r.OfferQueue[0], true
}

func (r *Ride) HasSkipped(driverID primitive.ObjectID) bool {
	for _, id := range r.SkippedDriverIDs {
		if id == driverID {
			return true
		}
	}
	return false
}

func (r *Ride) IsPassenger(userID primitive.ObjectID) bool {
	return r.PassengerID == userID
}

func (r *Ride) IsDriver(userID primitive.ObjectID) bool {
	return r.DriverID != nil && *r.DriverID == userID
}

func (r *Ride) IsParticipant(userID primitive.ObjectID) bool {
	return r.IsPassenger(userID) || r.IsDriver(userID)
}
