package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ridehail/internal/models"
	"ridehail/internal/repositories/interfaces"
	"ridehail/internal/utils"
	"ridehail/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DispatchOptions are the matching knobs, loaded from config at startup.
type DispatchOptions struct {
	OfferWindow        time.Duration
	GlobalTimeout      time.Duration
	SearchRadiusMeters float64
}

// dispatchService runs one coordinator goroutine per ride being matched. The
// coordinator owns nothing: every decision it takes is a conditional store
// write, and it re-reads the ride before acting, so a coordinator racing an
// accept, a decline, or its own stale timer always settles on one winner.
type dispatchService struct {
	rideRepo   interfaces.RideRepository
	driverRepo interfaces.DriverRepository
	capacity   CapacityService
	notifier   NotificationService
	scheduler  Scheduler
	opts       DispatchOptions
	logger     *logger.Logger

	mu      sync.Mutex
	signals map[primitive.ObjectID]chan struct{}
}

func NewDispatchService(
	rideRepo interfaces.RideRepository,
	driverRepo interfaces.DriverRepository,
	capacity CapacityService,
	notifier NotificationService,
	scheduler Scheduler,
	opts DispatchOptions,
	log *logger.Logger,
) Dispatcher {
	return &dispatchService{
		rideRepo:   rideRepo,
		driverRepo: driverRepo,
		capacity:   capacity,
		notifier:   notifier,
		scheduler:  scheduler,
		opts:       opts,
		logger:     log,
		signals:    make(map[primitive.ObjectID]chan struct{}),
	}
}

func (s *dispatchService) Begin(ride *models.Ride) {
	go s.run(ride)
}

// Decline hands the current offer back. The write is keyed on the declining
// driver still holding the queue head, so a late decline (offer already
// escalated, ride already resolved) fails with ErrConflict.
func (s *dispatchService) Decline(ctx context.Context, rideID, driverID primitive.ObjectID) error {
	current, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return err
	}
	if current.Status != models.RideStatusRequested {
		return fmt.Errorf("%w: ride is no longer being matched", ErrConflict)
	}
	if head, ok := current.OfferHead(); !ok || head != driverID {
		return fmt.Errorf("%w: driver does not hold the current offer", ErrConflict)
	}

	if _, err := s.rideRepo.SkipOfferHead(ctx, rideID, driverID); err != nil {
		return err
	}

	s.logger.WithRideID(rideID).WithUserID(driverID).Info("Offer declined")
	s.Wake(rideID)
	return nil
}

// Wake nudges the ride's coordinator to re-read instead of waiting out the
// current offer window. Safe to call when no coordinator is running.
func (s *dispatchService) Wake(rideID primitive.ObjectID) {
	s.mu.Lock()
	signal, ok := s.signals[rideID]
	s.mu.Unlock()
	if !ok {
		return
	}

	select {
	case signal <- struct{}{}:
	default:
	}
}

func (s *dispatchService) run(ride *models.Ride) {
	ctx := context.Background()
	log := s.logger.WithRideID(ride.ID)

	signal := s.registerSignal(ride.ID)
	defer s.dropSignal(ride.ID)

	// The backstop is armed independently of the escalation walk: when a
	// store error kills the coordinator mid-loop, an unmatched ride is still
	// cancelled at the global deadline instead of sitting in requested
	// forever. It is stopped only once the ride is known to be resolved.
	backstop := s.scheduler.AfterFunc(s.opts.GlobalTimeout, func() {
		s.cancelUnmatched(ctx, ride, "no driver accepted in time")
	})

	deadline := s.scheduler.Now().Add(s.opts.GlobalTimeout)

	queue, err := s.buildOfferQueue(ctx, ride)
	if err != nil {
		log.WithError(err).Error("Candidate search failed")
		if s.cancelUnmatched(ctx, ride, "driver search failed") {
			backstop.Stop()
		}
		return
	}
	if len(queue) == 0 {
		log.Info("No drivers available near pickup")
		if s.cancelUnmatched(ctx, ride, "no drivers available") {
			backstop.Stop()
		}
		return
	}

	if _, err := s.rideRepo.SetOfferQueue(ctx, ride.ID, queue); err != nil {
		// Conflict means the ride resolved before matching even started. On
		// a store error the backstop stays armed.
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			backstop.Stop()
		} else {
			log.WithError(err).Error("Failed to install offer queue")
		}
		return
	}

	s.logger.LogRideEvent(ride.ID, "dispatch_started", map[string]interface{}{
		"candidates": len(queue),
	})

	var lastOffered primitive.ObjectID
	for {
		current, err := s.rideRepo.GetByID(ctx, ride.ID)
		if err != nil {
			// Escalation stops here but the backstop stays armed, so the
			// ride still resolves at the deadline.
			log.WithError(err).Error("Dispatch lost the ride")
			return
		}
		if current.Status != models.RideStatusRequested {
			log.WithField("status", string(current.Status)).Debug("Dispatch finished")
			backstop.Stop()
			return
		}

		remaining := deadline.Sub(s.scheduler.Now())
		if remaining <= 0 {
			if s.cancelUnmatched(ctx, ride, "no driver accepted in time") {
				backstop.Stop()
			}
			return
		}

		head, ok := current.OfferHead()
		if !ok {
			if s.cancelUnmatched(ctx, ride, "all drivers declined") {
				backstop.Stop()
			}
			return
		}

		if head != lastOffered {
			if !s.offerable(ctx, ride.ID, head) {
				log.WithField("driver_id", head.Hex()).Info("Skipping ineligible candidate")
				if _, err := s.rideRepo.SkipOfferHead(ctx, ride.ID, head); err != nil &&
					!errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
					log.WithError(err).Error("Failed to skip candidate")
					return
				}
				continue
			}
			s.notifier.NotifyUser(ctx, head, utils.EventRideRequest, rideEventData(current))
			lastOffered = head
		}

		wait := s.opts.OfferWindow
		if remaining < wait {
			wait = remaining
		}

		fired := make(chan struct{}, 1)
		timer := s.scheduler.AfterFunc(wait, func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		})

		expired := false
		select {
		case <-fired:
			expired = true
		case <-signal:
			timer.Stop()
		}

		if expired {
			if _, err := s.rideRepo.SkipOfferHead(ctx, ride.ID, head); err != nil {
				// Someone moved the queue or resolved the ride while the
				// timer was in flight; the next re-read sorts it out.
				if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
					log.WithError(err).Error("Failed to escalate offer")
					return
				}
			} else {
				log.WithField("driver_id", head.Hex()).Info("Offer window expired, escalating")
			}
		}
	}
}

// buildOfferQueue finds candidates within the search radius and ranks them:
// best rating first, most experience breaking ties, object id as the final
// deterministic tiebreak.
func (s *dispatchService) buildOfferQueue(ctx context.Context, ride *models.Ride) ([]primitive.ObjectID, error) {
	drivers, err := s.driverRepo.FindAvailableNear(ctx, ride.PickupLocation, s.opts.SearchRadiusMeters, s.capacity.MaxConcurrent())
	if err != nil {
		return nil, err
	}

	sort.SliceStable(drivers, func(i, j int) bool {
		if drivers[i].Rating != drivers[j].Rating {
			return drivers[i].Rating > drivers[j].Rating
		}
		if drivers[i].TotalRides != drivers[j].TotalRides {
			return drivers[i].TotalRides > drivers[j].TotalRides
		}
		return drivers[i].ID.Hex() < drivers[j].ID.Hex()
	})

	queue := make([]primitive.ObjectID, 0, len(drivers))
	for _, d := range drivers {
		if s.capacity.CanAcceptMore(d) {
			queue = append(queue, d.ID)
		}
	}
	return queue, nil
}

// offerable re-checks the queue head just before it is notified: the ranked
// snapshot taken at dispatch start goes stale as drivers go offline, fill
// their last slot, or pick up the offer head on another ride. A failed check
// degrades to offering anyway rather than stalling the walk.
func (s *dispatchService) offerable(ctx context.Context, rideID, driverID primitive.ObjectID) bool {
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false
		}
		s.logger.WithRideID(rideID).WithUserID(driverID).WithError(err).Warn("Candidate re-check degraded, offering anyway")
		return true
	}
	if !s.capacity.CanAcceptMore(driver) {
		return false
	}

	since := s.scheduler.Now().Add(-s.opts.OfferWindow)
	held, err := s.rideRepo.HasOutstandingOffer(ctx, driverID, rideID, since)
	if err != nil {
		s.logger.WithRideID(rideID).WithUserID(driverID).WithError(err).Warn("Outstanding-offer check degraded, offering anyway")
		return true
	}
	return !held
}

// cancelUnmatched terminates a ride nobody took. The conditional cancel is
// the notification gate: only the winner tells the passenger, so racing
// resolutions never double-notify. It reports whether the ride is known to be
// resolved; false means a store error and the caller must leave the global
// backstop armed.
func (s *dispatchService) cancelUnmatched(ctx context.Context, ride *models.Ride, reason string) bool {
	cancelled, err := s.rideRepo.Cancel(ctx, ride.ID, models.InitiatorSystem, reason)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return true
		}
		s.logger.WithRideID(ride.ID).WithError(err).Error("Failed to cancel unmatched ride")
		return false
	}

	s.logger.WithRideID(ride.ID).WithField("reason", reason).Info("Unmatched ride cancelled")

	data := rideEventData(cancelled)
	data["reason"] = reason
	data["initiator"] = string(models.InitiatorSystem)
	s.notifier.NotifyUser(ctx, cancelled.PassengerID, utils.EventRideCancelled, data)
	return true
}

func (s *dispatchService) registerSignal(rideID primitive.ObjectID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	signal := make(chan struct{}, 1)
	s.signals[rideID] = signal
	return signal
}

func (s *dispatchService) dropSignal(rideID primitive.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signals, rideID)
}
