package services

import (
	"context"
	"fmt"
	"math"

	"ridehail/internal/models"
	"ridehail/internal/repositories/interfaces"
	"ridehail/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DriverService covers the driver-facing surface outside of rides:
// availability, location reporting, and the nearby-drivers query.
type DriverService interface {
	GetDriver(ctx context.Context, driverID primitive.ObjectID) (*models.Driver, error)
	SetStatus(ctx context.Context, driverID primitive.ObjectID, status models.DriverStatus) (*models.Driver, error)
	UpdateLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location) error
	NearbyDrivers(ctx context.Context, lng, lat, radiusMeters float64) ([]*models.Driver, error)
}

type driverService struct {
	driverRepo interfaces.DriverRepository
	cache      CacheService
	notifier   NotificationService
	logger     *logger.Logger
}

func NewDriverService(driverRepo interfaces.DriverRepository, cache CacheService, notifier NotificationService, log *logger.Logger) DriverService {
	return &driverService{
		driverRepo: driverRepo,
		cache:      cache,
		notifier:   notifier,
		logger:     log,
	}
}

func (s *driverService) GetDriver(ctx context.Context, driverID primitive.ObjectID) (*models.Driver, error) {
	return s.driverRepo.GetByID(ctx, driverID)
}

func (s *driverService) SetStatus(ctx context.Context, driverID primitive.ObjectID, status models.DriverStatus) (*models.Driver, error) {
	switch status {
	case models.DriverStatusAvailable, models.DriverStatusOffline:
	default:
		return nil, fmt.Errorf("%w: drivers can only go available or offline", ErrValidation)
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if status == models.DriverStatusOffline && driver.ActiveRideCount > 0 {
		return nil, fmt.Errorf("%w: cannot go offline with %d active rides", ErrConflict, driver.ActiveRideCount)
	}

	if err := s.driverRepo.SetStatus(ctx, driverID, status); err != nil {
		return nil, err
	}
	driver.Status = status

	if status == models.DriverStatusOffline && s.cache != nil {
		if err := s.cache.RemoveDriverLocation(ctx, driverID); err != nil {
			s.logger.WithUserID(driverID).WithError(err).Warn("Failed to drop driver from geo index")
		}
	}

	s.logger.WithUserID(driverID).WithField("status", string(status)).Info("Driver status changed")
	return driver, nil
}

func (s *driverService) UpdateLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location) error {
	if location.IsZero() {
		return fmt.Errorf("%w: location coordinates are required", ErrValidation)
	}

	if err := s.driverRepo.UpdateLocation(ctx, driverID, location); err != nil {
		return err
	}

	// Geo index and broadcast are best effort; mongo holds the truth.
	if s.cache != nil {
		if err := s.cache.SetDriverLocation(ctx, driverID, location); err != nil {
			s.logger.WithUserID(driverID).WithError(err).Warn("Failed to refresh driver geo index")
		}
	}
	if s.notifier != nil {
		s.notifier.BroadcastDriverLocation(ctx, driverID, location)
	}

	return nil
}

// NearbyDrivers answers from the redis geo index and hydrates the records
// from mongo; a cache outage falls back to the mongo geo query.
func (s *driverService) NearbyDrivers(ctx context.Context, lng, lat, radiusMeters float64) ([]*models.Driver, error) {
	point := models.NewPoint(lng, lat, "")

	if s.cache != nil {
		ids, err := s.cache.NearbyDriverIDs(ctx, lng, lat, radiusMeters)
		if err == nil {
			drivers := make([]*models.Driver, 0, len(ids))
			for _, hex := range ids {
				id, err := primitive.ObjectIDFromHex(hex)
				if err != nil {
					continue
				}
				driver, err := s.driverRepo.GetByID(ctx, id)
				if err != nil {
					continue
				}
				if driver.Status == models.DriverStatusAvailable {
					drivers = append(drivers, driver)
				}
			}
			return drivers, nil
		}
		s.logger.WithError(err).Warn("Geo index unavailable, falling back to store query")
	}

	return s.driverRepo.FindAvailableNear(ctx, point, radiusMeters, math.MaxInt64)
}
