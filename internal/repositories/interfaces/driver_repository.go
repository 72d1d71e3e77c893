package interfaces

import (
	"context"

	"ridehail/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DriverRepository persists driver availability records. ReserveSlot and
// ReleaseSlot are the capacity ledger: the active-ride counter only moves
// through conditional increments, which is what keeps the concurrent-rides
// cap hard when several accepts race for the same driver.
type DriverRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error)

	// FindAvailableNear returns available drivers with capacity to spare
	// within radiusMeters of the point, nearest first ($near order).
	FindAvailableNear(ctx context.Context, location models.Location, radiusMeters float64, maxActive int64) ([]*models.Driver, error)

	// ReserveSlot increments active_ride_count if the driver is available
	// and still under maxActive; it returns the post-increment record.
	// Fails with services.ErrConflict when the driver is offline, busy, or
	// at capacity.
	ReserveSlot(ctx context.Context, id primitive.ObjectID, maxActive int64) (*models.Driver, error)

	// ReleaseSlot decrements active_ride_count (never below zero) and flips
	// a busy driver back to available unless they went offline meanwhile.
	ReleaseSlot(ctx context.Context, id primitive.ObjectID) (*models.Driver, error)

	SetStatus(ctx context.Context, id primitive.ObjectID, status models.DriverStatus) error
	UpdateLocation(ctx context.Context, id primitive.ObjectID, location models.Location) error

	// ApplyRating folds a new rating value into the running average and
	// bumps total_ratings.
	ApplyRating(ctx context.Context, id primitive.ObjectID, value float64) error
	IncrementTotalRides(ctx context.Context, id primitive.ObjectID) error
}
