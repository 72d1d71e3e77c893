package services

import (
	"context"

	"ridehail/internal/models"
	"ridehail/internal/repositories/interfaces"
	"ridehail/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CapacityService is the driver capacity ledger. A slot is reserved before a
// ride accept is attempted and released when the ride leaves the driver's
// hands (completion or cancellation), so the concurrent-rides cap holds even
// when several accepts race for the same driver.
type CapacityService interface {
	// Reserve takes one slot. Fails with ErrCapacity at the cap and
	// ErrConflict when the driver is offline or busy.
	Reserve(ctx context.Context, driverID primitive.ObjectID) (*models.Driver, error)

	// Release gives one slot back and restores availability for a busy
	// driver. Releasing an empty ledger is a no-op.
	Release(ctx context.Context, driverID primitive.ObjectID) (*models.Driver, error)

	// CanAcceptMore is the matching-side filter.
	CanAcceptMore(driver *models.Driver) bool

	// MaxConcurrent exposes the cap for candidate queries.
	MaxConcurrent() int64
}

type capacityService struct {
	driverRepo interfaces.DriverRepository
	maxActive  int64
	logger     *logger.Logger
}

func NewCapacityService(driverRepo interfaces.DriverRepository, maxActive int64, log *logger.Logger) CapacityService {
	return &capacityService{
		driverRepo: driverRepo,
		maxActive:  maxActive,
		logger:     log,
	}
}

func (s *capacityService) Reserve(ctx context.Context, driverID primitive.ObjectID) (*models.Driver, error) {
	driver, err := s.driverRepo.ReserveSlot(ctx, driverID, s.maxActive)
	if err != nil {
		return nil, err
	}

	s.logger.WithUserID(driverID).
		WithField("active_rides", driver.ActiveRideCount).
		Debug("Driver slot reserved")
	return driver, nil
}

func (s *capacityService) Release(ctx context.Context, driverID primitive.ObjectID) (*models.Driver, error) {
	driver, err := s.driverRepo.ReleaseSlot(ctx, driverID)
	if err != nil {
		return nil, err
	}

	s.logger.WithUserID(driverID).
		WithField("active_rides", driver.ActiveRideCount).
		Debug("Driver slot released")
	return driver, nil
}

func (s *capacityService) CanAcceptMore(driver *models.Driver) bool {
	return driver.Status == models.DriverStatusAvailable && driver.ActiveRideCount < s.maxActive
}

func (s *capacityService) MaxConcurrent() int64 {
	return s.maxActive
}
