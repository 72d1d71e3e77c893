package interfaces

import (
	"context"
	"time"

	"ridehail/internal/models"
	"ridehail/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RideRepository persists rides. Every mutating method except Create is
// conditional: the update only applies when the stored document still matches
// the expected prior state, and a mismatch surfaces as services.ErrConflict
// (services.ErrNotFound when the ride id does not exist at all). This is the
// only concurrency control the engine relies on.
type RideRepository interface {
	Create(ctx context.Context, ride *models.Ride) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error)

	// HasActiveByPassenger reports whether the passenger already has a ride
	// in a non-terminal status.
	HasActiveByPassenger(ctx context.Context, passengerID primitive.ObjectID) (bool, error)

	// GetByParticipant lists rides where the user is the passenger or the
	// assigned driver, newest first.
	GetByParticipant(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Ride, int64, error)

	// TransitionStatus moves the ride from exactly `from` to `to`, stamping
	// the matching timestamp field.
	TransitionStatus(ctx context.Context, id primitive.ObjectID, from, to models.RideStatus) (*models.Ride, error)

	// Accept assigns the driver and moves requested → accepted in one
	// conditional write. It only succeeds while driver_id is still unset, so
	// at most one driver ever lands on a ride.
	Accept(ctx context.Context, id primitive.ObjectID, driverID primitive.ObjectID) (*models.Ride, error)

	// Cancel terminates the ride from any non-terminal status.
	Cancel(ctx context.Context, id primitive.ObjectID, initiator models.CancellationInitiator, reason string) (*models.Ride, error)

	// SetOfferQueue installs the ranked candidate queue while the ride is
	// still in requested status.
	SetOfferQueue(ctx context.Context, id primitive.ObjectID, queue []primitive.ObjectID) (*models.Ride, error)

	// HasOutstandingOffer reports whether the driver holds the offer head on
	// a different ride still being matched, with the offer stamped after
	// `since`. Coordinators check it so one driver is never shown two offers
	// at once.
	HasOutstandingOffer(ctx context.Context, driverID, excludeRideID primitive.ObjectID, since time.Time) (bool, error)

	// SkipOfferHead pops expectedHead off the queue and records it as
	// skipped. The write is keyed on the current queue head, so a stale
	// escalation (the offer already moved on, or the ride resolved) fails
	// with ErrConflict instead of corrupting the queue.
	SkipOfferHead(ctx context.Context, id primitive.ObjectID, expectedHead primitive.ObjectID) (*models.Ride, error)

	// SetDriverRating / SetPassengerRating record a rating once; a second
	// write for the same side fails with ErrConflict.
	SetDriverRating(ctx context.Context, id primitive.ObjectID, rating float64, feedback string) (*models.Ride, error)
	SetPassengerRating(ctx context.Context, id primitive.ObjectID, rating float64, feedback string) (*models.Ride, error)
}
