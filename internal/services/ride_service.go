package services

import (
	"context"
	"fmt"
	"math"

	"ridehail/internal/models"
	"ridehail/internal/repositories/interfaces"
	"ridehail/internal/utils"
	"ridehail/pkg/logger"
	"ridehail/pkg/maps"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Dispatcher is the slice of the matching coordinator the ride state machine
// needs: start a dispatch for a fresh ride, hand over a decline, and wake a
// running coordinator after the ride resolved underneath it.
type Dispatcher interface {
	Begin(ride *models.Ride)
	Decline(ctx context.Context, rideID, driverID primitive.ObjectID) error
	Wake(rideID primitive.ObjectID)
}

type CreateRideInput struct {
	PickupLocation       models.Location
	DestinationLocation  models.Location
	FromZoneID           primitive.ObjectID
	ToZoneID             primitive.ObjectID
	EstimatedDistanceKm  float64
	EstimatedDurationMin int
	Price                float64
}

// RideService drives the ride lifecycle. Every transition funnels through a
// conditional repository write, so two callers racing on the same ride see
// exactly one winner and one ErrConflict.
type RideService interface {
	CreateRide(ctx context.Context, passengerID primitive.ObjectID, input *CreateRideInput) (*models.Ride, error)
	GetRide(ctx context.Context, rideID, requesterID primitive.ObjectID) (*models.Ride, error)
	History(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Ride, int64, error)

	AcceptRide(ctx context.Context, rideID, driverID primitive.ObjectID) (*models.Ride, error)
	DeclineRide(ctx context.Context, rideID, driverID primitive.ObjectID) error
	UpdateStatus(ctx context.Context, rideID, driverID primitive.ObjectID, target models.RideStatus) (*models.Ride, error)
	CancelRide(ctx context.Context, rideID, userID primitive.ObjectID, reason string) (*models.Ride, error)

	RateDriver(ctx context.Context, rideID, passengerID primitive.ObjectID, rating float64, feedback string) (*models.Ride, error)
	RatePassenger(ctx context.Context, rideID, driverID primitive.ObjectID, rating float64, feedback string) (*models.Ride, error)
}

type rideService struct {
	rideRepo   interfaces.RideRepository
	driverRepo interfaces.DriverRepository
	zoneRepo   interfaces.ZoneRepository
	capacity   CapacityService
	notifier   NotificationService
	dispatcher Dispatcher
	maps       maps.MapsProvider
	logger     *logger.Logger
}

func NewRideService(
	rideRepo interfaces.RideRepository,
	driverRepo interfaces.DriverRepository,
	zoneRepo interfaces.ZoneRepository,
	capacity CapacityService,
	notifier NotificationService,
	dispatcher Dispatcher,
	mapsProvider maps.MapsProvider,
	log *logger.Logger,
) RideService {
	return &rideService{
		rideRepo:   rideRepo,
		driverRepo: driverRepo,
		zoneRepo:   zoneRepo,
		capacity:   capacity,
		notifier:   notifier,
		dispatcher: dispatcher,
		maps:       mapsProvider,
		logger:     log,
	}
}

func (s *rideService) CreateRide(ctx context.Context, passengerID primitive.ObjectID, input *CreateRideInput) (*models.Ride, error) {
	if input.PickupLocation.IsZero() || input.DestinationLocation.IsZero() {
		return nil, fmt.Errorf("%w: pickup and destination coordinates are required", ErrValidation)
	}

	if _, err := s.zoneRepo.GetByID(ctx, input.FromZoneID); err != nil {
		return nil, fmt.Errorf("%w: unknown pickup zone %s", ErrValidation, input.FromZoneID.Hex())
	}
	if _, err := s.zoneRepo.GetByID(ctx, input.ToZoneID); err != nil {
		return nil, fmt.Errorf("%w: unknown destination zone %s", ErrValidation, input.ToZoneID.Hex())
	}

	active, err := s.rideRepo.HasActiveByPassenger(ctx, passengerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: passenger already has an active ride", ErrConflict)
	}

	ride := &models.Ride{
		PassengerID:          passengerID,
		PickupLocation:       input.PickupLocation,
		DestinationLocation:  input.DestinationLocation,
		FromZoneID:           input.FromZoneID,
		ToZoneID:             input.ToZoneID,
		EstimatedDistanceKm:  input.EstimatedDistanceKm,
		EstimatedDurationMin: input.EstimatedDurationMin,
		Price:                input.Price,
	}

	// Fill missing route estimates from the maps provider. A provider
	// outage must not block the request, so failures only log.
	if ride.EstimatedDistanceKm == 0 || ride.EstimatedDurationMin == 0 {
		s.fillRouteEstimate(ctx, ride)
	}

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, err
	}

	s.logger.WithRideID(ride.ID).WithUserID(passengerID).Info("Ride requested")

	if s.dispatcher != nil {
		s.dispatcher.Begin(ride)
	}
	return ride, nil
}

func (s *rideService) fillRouteEstimate(ctx context.Context, ride *models.Ride) {
	if s.maps == nil {
		s.fillStraightLineEstimate(ride)
		return
	}

	resp, err := s.maps.GetDirections(ctx, &maps.DirectionsRequest{
		Origin: maps.Location{
			Latitude:  ride.PickupLocation.Latitude(),
			Longitude: ride.PickupLocation.Longitude(),
		},
		Destination: maps.Location{
			Latitude:  ride.DestinationLocation.Latitude(),
			Longitude: ride.DestinationLocation.Longitude(),
		},
		Mode: "driving",
	})
	if err != nil {
		s.logger.WithError(err).Warn("Route estimate unavailable, falling back to straight line")
		s.fillStraightLineEstimate(ride)
		return
	}
	if len(resp.Routes) == 0 {
		s.logger.Warn("Maps provider returned no route, falling back to straight line")
		s.fillStraightLineEstimate(ride)
		return
	}

	route := resp.Routes[0]
	if ride.EstimatedDistanceKm == 0 {
		ride.EstimatedDistanceKm = math.Round(route.Distance.Value/100) / 10
	}
	if ride.EstimatedDurationMin == 0 {
		ride.EstimatedDurationMin = int(math.Ceil(float64(route.Duration.Value) / 60))
	}
}

// fillStraightLineEstimate is the no-provider approximation: great-circle
// distance and city-speed travel time.
func (s *rideService) fillStraightLineEstimate(ride *models.Ride) {
	distanceKm := utils.CalculateDistance(
		ride.PickupLocation.Latitude(), ride.PickupLocation.Longitude(),
		ride.DestinationLocation.Latitude(), ride.DestinationLocation.Longitude(),
	)
	if ride.EstimatedDistanceKm == 0 {
		ride.EstimatedDistanceKm = math.Round(distanceKm*10) / 10
	}
	if ride.EstimatedDurationMin == 0 {
		ride.EstimatedDurationMin = utils.EstimateETAMinutes(distanceKm, 0)
	}
}

func (s *rideService) GetRide(ctx context.Context, rideID, requesterID primitive.ObjectID) (*models.Ride, error) {
	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.IsParticipant(requesterID) {
		return nil, fmt.Errorf("%w: not a participant of this ride", ErrUnauthorized)
	}
	return ride, nil
}

func (s *rideService) History(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Ride, int64, error) {
	return s.rideRepo.GetByParticipant(ctx, userID, params)
}

// AcceptRide is the reserve-then-accept unit: the driver's capacity slot is
// taken first, then the ride is claimed with a conditional write. Losing the
// claim returns the slot, so a failed accept never leaks capacity.
func (s *rideService) AcceptRide(ctx context.Context, rideID, driverID primitive.ObjectID) (*models.Ride, error) {
	driver, err := s.capacity.Reserve(ctx, driverID)
	if err != nil {
		return nil, err
	}

	ride, err := s.rideRepo.Accept(ctx, rideID, driverID)
	if err != nil {
		if _, relErr := s.capacity.Release(ctx, driverID); relErr != nil {
			s.logger.WithRideID(rideID).WithUserID(driverID).WithError(relErr).
				Error("Failed to return reserved slot after lost accept")
		}
		return nil, err
	}

	s.logger.WithRideID(ride.ID).WithUserID(driverID).Info("Ride accepted")

	if s.dispatcher != nil {
		s.dispatcher.Wake(ride.ID)
	}

	data := rideEventData(ride)
	data["driver_name"] = driver.FullName()
	data["driver_rating"] = driver.Rating
	s.notifier.NotifyUser(ctx, ride.PassengerID, utils.EventRideAccepted, data)
	s.notifier.NotifyUser(ctx, driverID, utils.EventRideAcceptConfirmed, rideEventData(ride))
	s.notifier.NotifyDrivers(ctx, utils.EventRideTaken, map[string]interface{}{
		"ride_id": ride.ID.Hex(),
	})

	return ride, nil
}

func (s *rideService) DeclineRide(ctx context.Context, rideID, driverID primitive.ObjectID) error {
	if s.dispatcher == nil {
		return fmt.Errorf("%w: dispatch is not running", ErrUnavailable)
	}
	return s.dispatcher.Decline(ctx, rideID, driverID)
}

func (s *rideService) UpdateStatus(ctx context.Context, rideID, driverID primitive.ObjectID, target models.RideStatus) (*models.Ride, error) {
	from, ok := models.PredecessorOf(target)
	if !ok || target == models.RideStatusAccepted {
		return nil, fmt.Errorf("%w: cannot move a ride to %q directly", ErrValidation, target)
	}

	current, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !current.IsDriver(driverID) {
		return nil, fmt.Errorf("%w: only the assigned driver can update this ride", ErrUnauthorized)
	}

	ride, err := s.rideRepo.TransitionStatus(ctx, rideID, from, target)
	if err != nil {
		return nil, err
	}

	s.logger.WithRideID(ride.ID).
		WithField("status", string(ride.Status)).
		Info("Ride status updated")

	if ride.Status == models.RideStatusCompleted {
		s.settleCompletion(ctx, ride, driverID)
	}

	s.notifier.NotifyUser(ctx, ride.PassengerID, utils.EventRideStatusUpdate, rideEventData(ride))
	return ride, nil
}

// settleCompletion returns the driver's capacity slot and bumps their ride
// count. Ledger errors are logged, not returned: the ride is already
// completed and must stay that way.
func (s *rideService) settleCompletion(ctx context.Context, ride *models.Ride, driverID primitive.ObjectID) {
	if _, err := s.capacity.Release(ctx, driverID); err != nil {
		s.logger.WithRideID(ride.ID).WithUserID(driverID).WithError(err).
			Error("Failed to release driver slot after completion")
	}
	if err := s.driverRepo.IncrementTotalRides(ctx, driverID); err != nil {
		s.logger.WithRideID(ride.ID).WithUserID(driverID).WithError(err).
			Error("Failed to bump driver ride count")
	}
}

func (s *rideService) CancelRide(ctx context.Context, rideID, userID primitive.ObjectID, reason string) (*models.Ride, error) {
	current, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}

	var initiator models.CancellationInitiator
	switch {
	case current.IsPassenger(userID):
		initiator = models.InitiatorPassenger
	case current.IsDriver(userID):
		initiator = models.InitiatorDriver
	default:
		return nil, fmt.Errorf("%w: not a participant of this ride", ErrUnauthorized)
	}

	ride, err := s.rideRepo.Cancel(ctx, rideID, initiator, reason)
	if err != nil {
		return nil, err
	}

	s.logger.WithRideID(ride.ID).
		WithField("initiator", string(initiator)).
		Info("Ride cancelled")

	if ride.DriverID != nil {
		if _, err := s.capacity.Release(ctx, *ride.DriverID); err != nil {
			s.logger.WithRideID(ride.ID).WithError(err).
				Error("Failed to release driver slot after cancellation")
		}
	}

	if s.dispatcher != nil {
		s.dispatcher.Wake(ride.ID)
	}

	data := rideEventData(ride)
	data["reason"] = reason
	data["initiator"] = string(initiator)
	if initiator == models.InitiatorPassenger && ride.DriverID != nil {
		s.notifier.NotifyUser(ctx, *ride.DriverID, utils.EventRideCancelled, data)
	} else if initiator == models.InitiatorDriver {
		s.notifier.NotifyUser(ctx, ride.PassengerID, utils.EventRideCancelled, data)
	}

	return ride, nil
}

func (s *rideService) RateDriver(ctx context.Context, rideID, passengerID primitive.ObjectID, rating float64, feedback string) (*models.Ride, error) {
	if err := validateRating(rating); err != nil {
		return nil, err
	}

	current, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !current.IsPassenger(passengerID) {
		return nil, fmt.Errorf("%w: only the passenger can rate the driver", ErrUnauthorized)
	}
	if current.DriverID == nil {
		return nil, fmt.Errorf("%w: ride has no driver to rate", ErrValidation)
	}

	ride, err := s.rideRepo.SetDriverRating(ctx, rideID, rating, feedback)
	if err != nil {
		return nil, err
	}

	// The conditional write above is the idempotency gate, so the aggregate
	// below moves at most once per ride.
	if err := s.driverRepo.ApplyRating(ctx, *ride.DriverID, rating); err != nil {
		s.logger.WithRideID(ride.ID).WithError(err).
			Error("Failed to fold rating into driver aggregate")
	}

	return ride, nil
}

func (s *rideService) RatePassenger(ctx context.Context, rideID, driverID primitive.ObjectID, rating float64, feedback string) (*models.Ride, error) {
	if err := validateRating(rating); err != nil {
		return nil, err
	}

	current, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !current.IsDriver(driverID) {
		return nil, fmt.Errorf("%w: only the assigned driver can rate the passenger", ErrUnauthorized)
	}

	return s.rideRepo.SetPassengerRating(ctx, rideID, rating, feedback)
}

func validateRating(rating float64) error {
	if rating < utils.MinRating || rating > utils.MaxRating {
		return fmt.Errorf("%w: rating must be between %v and %v", ErrValidation, utils.MinRating, utils.MaxRating)
	}
	return nil
}

func rideEventData(ride *models.Ride) map[string]interface{} {
	data := map[string]interface{}{
		"ride_id": ride.ID.Hex(),
		"status":  string(ride.Status),
		"pickup":  ride.PickupLocation,
		"dropoff": ride.DestinationLocation,
		"price":   ride.Price,
	}
	if ride.DriverID != nil {
		data["driver_id"] = ride.DriverID.Hex()
	}
	return data
}
