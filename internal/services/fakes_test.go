package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"ridehail/internal/models"
	"ridehail/internal/utils"
	"ridehail/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Format: "text"})
	if err != nil {
		t.Fatalf("test logger: %v", err)
	}
	log.SetOutput(io.Discard)
	return log
}

// fakeRideRepo reproduces the conditional-write contract of the mongo
// repository: mutations only apply when the stored ride still matches the
// expected prior state, otherwise ErrConflict (ErrNotFound for unknown ids).
type fakeRideRepo struct {
	mu    sync.Mutex
	rides map[primitive.ObjectID]*models.Ride
}

func newFakeRideRepo() *fakeRideRepo {
	return &fakeRideRepo{rides: make(map[primitive.ObjectID]*models.Ride)}
}

func (r *fakeRideRepo) snapshot(ride *models.Ride) *models.Ride {
	cp := *ride
	cp.OfferQueue = append([]primitive.ObjectID(nil), ride.OfferQueue...)
	cp.SkippedDriverIDs = append([]primitive.ObjectID(nil), ride.SkippedDriverIDs...)
	return &cp
}

func (r *fakeRideRepo) Create(ctx context.Context, ride *models.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	ride.ID = primitive.NewObjectID()
	ride.Status = models.RideStatusRequested
	ride.RequestedAt = now
	ride.CreatedAt = now
	ride.UpdatedAt = now
	r.rides[ride.ID] = r.snapshot(ride)
	return nil
}

func (r *fakeRideRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ride, ok := r.rides[id]
	if !ok {
		return nil, fmt.Errorf("%w: ride %s", ErrNotFound, id.Hex())
	}
	return r.snapshot(ride), nil
}

func (r *fakeRideRepo) HasActiveByPassenger(ctx context.Context, passengerID primitive.ObjectID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ride := range r.rides {
		if ride.PassengerID == passengerID && !ride.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRideRepo) GetByParticipant(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Ride, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Ride
	for _, ride := range r.rides {
		if ride.IsParticipant(userID) {
			out = append(out, r.snapshot(ride))
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeRideRepo) update(id primitive.ObjectID, check func(*models.Ride) error, apply func(*models.Ride)) (*models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ride, ok := r.rides[id]
	if !ok {
		return nil, fmt.Errorf("%w: ride %s", ErrNotFound, id.Hex())
	}
	if err := check(ride); err != nil {
		return nil, err
	}
	apply(ride)
	ride.UpdatedAt = time.Now()
	return r.snapshot(ride), nil
}

func (r *fakeRideRepo) TransitionStatus(ctx context.Context, id primitive.ObjectID, from, to models.RideStatus) (*models.Ride, error) {
	return r.update(id,
		func(ride *models.Ride) error {
			if ride.Status != from {
				return fmt.Errorf("%w: ride is %s, not %s", ErrConflict, ride.Status, from)
			}
			return nil
		},
		func(ride *models.Ride) {
			now := time.Now()
			ride.Status = to
			switch to {
			case models.RideStatusArrived:
				ride.ArrivedAt = &now
			case models.RideStatusInProgress:
				ride.StartedAt = &now
			case models.RideStatusCompleted:
				ride.CompletedAt = &now
			}
		})
}

func (r *fakeRideRepo) Accept(ctx context.Context, id primitive.ObjectID, driverID primitive.ObjectID) (*models.Ride, error) {
	return r.update(id,
		func(ride *models.Ride) error {
			if ride.Status != models.RideStatusRequested || ride.DriverID != nil {
				return fmt.Errorf("%w: ride already taken or resolved", ErrConflict)
			}
			return nil
		},
		func(ride *models.Ride) {
			now := time.Now()
			d := driverID
			ride.DriverID = &d
			ride.Status = models.RideStatusAccepted
			ride.AcceptedAt = &now
		})
}

func (r *fakeRideRepo) Cancel(ctx context.Context, id primitive.ObjectID, initiator models.CancellationInitiator, reason string) (*models.Ride, error) {
	return r.update(id,
		func(ride *models.Ride) error {
			if ride.Status.IsTerminal() {
				return fmt.Errorf("%w: ride already resolved", ErrConflict)
			}
			return nil
		},
		func(ride *models.Ride) {
			now := time.Now()
			ride.Status = models.RideStatusCancelled
			ride.CancelledAt = &now
			ride.CancellationInitiator = initiator
			ride.CancellationReason = reason
		})
}

func (r *fakeRideRepo) SetOfferQueue(ctx context.Context, id primitive.ObjectID, queue []primitive.ObjectID) (*models.Ride, error) {
	return r.update(id,
		func(ride *models.Ride) error {
			if ride.Status != models.RideStatusRequested {
				return fmt.Errorf("%w: ride is no longer being matched", ErrConflict)
			}
			return nil
		},
		func(ride *models.Ride) {
			now := time.Now()
			ride.OfferQueue = append([]primitive.ObjectID(nil), queue...)
			ride.LastOfferAt = &now
		})
}

func (r *fakeRideRepo) HasOutstandingOffer(ctx context.Context, driverID, excludeRideID primitive.ObjectID, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, ride := range r.rides {
		if id == excludeRideID || ride.Status != models.RideStatusRequested {
			continue
		}
		if len(ride.OfferQueue) == 0 || ride.OfferQueue[0] != driverID {
			continue
		}
		if ride.LastOfferAt != nil && !ride.LastOfferAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRideRepo) SkipOfferHead(ctx context.Context, id primitive.ObjectID, expectedHead primitive.ObjectID) (*models.Ride, error) {
	return r.update(id,
		func(ride *models.Ride) error {
			if ride.Status != models.RideStatusRequested {
				return fmt.Errorf("%w: ride is no longer being matched", ErrConflict)
			}
			if len(ride.OfferQueue) == 0 || ride.OfferQueue[0] != expectedHead {
				return fmt.Errorf("%w: offer queue moved", ErrConflict)
			}
			return nil
		},
		func(ride *models.Ride) {
			now := time.Now()
			ride.OfferQueue = append([]primitive.ObjectID(nil), ride.OfferQueue[1:]...)
			ride.SkippedDriverIDs = append(ride.SkippedDriverIDs, expectedHead)
			ride.LastOfferAt = &now
		})
}

func (r *fakeRideRepo) SetDriverRating(ctx context.Context, id primitive.ObjectID, rating float64, feedback string) (*models.Ride, error) {
	return r.update(id,
		func(ride *models.Ride) error {
			if ride.DriverRating != nil {
				return fmt.Errorf("%w: driver already rated", ErrConflict)
			}
			return nil
		},
		func(ride *models.Ride) {
			ride.DriverRating = &rating
			ride.DriverFeedback = feedback
		})
}

func (r *fakeRideRepo) SetPassengerRating(ctx context.Context, id primitive.ObjectID, rating float64, feedback string) (*models.Ride, error) {
	return r.update(id,
		func(ride *models.Ride) error {
			if ride.PassengerRating != nil {
				return fmt.Errorf("%w: passenger already rated", ErrConflict)
			}
			return nil
		},
		func(ride *models.Ride) {
			ride.PassengerRating = &rating
			ride.PassengerFeedback = feedback
		})
}

// fakeDriverRepo keeps the capacity ledger rules of the mongo repository:
// slot movement only happens under the same conditions the conditional
// increments enforce.
type fakeDriverRepo struct {
	mu      sync.Mutex
	drivers map[primitive.ObjectID]*models.Driver
}

func newFakeDriverRepo() *fakeDriverRepo {
	return &fakeDriverRepo{drivers: make(map[primitive.ObjectID]*models.Driver)}
}

func (r *fakeDriverRepo) add(driver *models.Driver) primitive.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if driver.ID.IsZero() {
		driver.ID = primitive.NewObjectID()
	}
	cp := *driver
	r.drivers[driver.ID] = &cp
	return driver.ID
}

func (r *fakeDriverRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", ErrNotFound, id.Hex())
	}
	cp := *driver
	return &cp, nil
}

func (r *fakeDriverRepo) FindAvailableNear(ctx context.Context, location models.Location, radiusMeters float64, maxActive int64) ([]*models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Driver
	for _, driver := range r.drivers {
		if driver.Status != models.DriverStatusAvailable || driver.ActiveRideCount >= maxActive {
			continue
		}
		if driver.CurrentLocation == nil {
			continue
		}
		if !utils.IsWithinRadius(
			location.Latitude(), location.Longitude(),
			driver.CurrentLocation.Latitude(), driver.CurrentLocation.Longitude(),
			radiusMeters/1000,
		) {
			continue
		}
		cp := *driver
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeDriverRepo) ReserveSlot(ctx context.Context, id primitive.ObjectID, maxActive int64) (*models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", ErrNotFound, id.Hex())
	}
	if driver.Status != models.DriverStatusAvailable {
		return nil, fmt.Errorf("%w: driver is %s", ErrConflict, driver.Status)
	}
	if driver.ActiveRideCount >= maxActive {
		return nil, fmt.Errorf("%w: %d active rides", ErrCapacity, driver.ActiveRideCount)
	}

	driver.ActiveRideCount++
	if driver.ActiveRideCount >= maxActive {
		driver.Status = models.DriverStatusBusy
	}
	cp := *driver
	return &cp, nil
}

func (r *fakeDriverRepo) ReleaseSlot(ctx context.Context, id primitive.ObjectID) (*models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", ErrNotFound, id.Hex())
	}
	if driver.ActiveRideCount > 0 {
		driver.ActiveRideCount--
	}
	if driver.Status == models.DriverStatusBusy {
		driver.Status = models.DriverStatusAvailable
	}
	cp := *driver
	return &cp, nil
}

func (r *fakeDriverRepo) SetStatus(ctx context.Context, id primitive.ObjectID, status models.DriverStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return fmt.Errorf("%w: driver %s", ErrNotFound, id.Hex())
	}
	driver.Status = status
	return nil
}

func (r *fakeDriverRepo) UpdateLocation(ctx context.Context, id primitive.ObjectID, location models.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return fmt.Errorf("%w: driver %s", ErrNotFound, id.Hex())
	}
	loc := location
	driver.CurrentLocation = &loc
	now := time.Now()
	driver.LastLocationUpdate = &now
	return nil
}

func (r *fakeDriverRepo) ApplyRating(ctx context.Context, id primitive.ObjectID, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return fmt.Errorf("%w: driver %s", ErrNotFound, id.Hex())
	}
	total := float64(driver.TotalRatings)
	driver.Rating = (driver.Rating*total + value) / (total + 1)
	driver.TotalRatings++
	return nil
}

func (r *fakeDriverRepo) IncrementTotalRides(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return fmt.Errorf("%w: driver %s", ErrNotFound, id.Hex())
	}
	driver.TotalRides++
	return nil
}

type fakeZoneRepo struct {
	mu    sync.Mutex
	zones map[primitive.ObjectID]*models.Zone
}

func newFakeZoneRepo() *fakeZoneRepo {
	return &fakeZoneRepo{zones: make(map[primitive.ObjectID]*models.Zone)}
}

func (r *fakeZoneRepo) add(name string) primitive.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()

	zone := &models.Zone{ID: primitive.NewObjectID(), Name: name, Active: true}
	r.zones[zone.ID] = zone
	return zone.ID
}

func (r *fakeZoneRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Zone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	zone, ok := r.zones[id]
	if !ok {
		return nil, fmt.Errorf("%w: zone %s", ErrNotFound, id.Hex())
	}
	cp := *zone
	return &cp, nil
}

func (r *fakeZoneRepo) List(ctx context.Context) ([]*models.Zone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Zone
	for _, zone := range r.zones {
		cp := *zone
		out = append(out, &cp)
	}
	return out, nil
}

type notifiedEvent struct {
	UserID primitive.ObjectID
	Event  string
	Data   map[string]interface{}
}

// fakeNotifier records every delivery so tests can assert exactly-once
// notification behavior.
type fakeNotifier struct {
	mu         sync.Mutex
	userEvents []notifiedEvent
	broadcasts []notifiedEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{}
}

func (n *fakeNotifier) NotifyUser(ctx context.Context, userID primitive.ObjectID, event string, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userEvents = append(n.userEvents, notifiedEvent{UserID: userID, Event: event, Data: data})
}

func (n *fakeNotifier) NotifyDrivers(ctx context.Context, event string, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, notifiedEvent{Event: event, Data: data})
}

func (n *fakeNotifier) BroadcastDriverLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location) {
}

func (n *fakeNotifier) eventsFor(userID primitive.ObjectID, event string) []notifiedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []notifiedEvent
	for _, e := range n.userEvents {
		if e.UserID == userID && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeScheduler is a virtual clock. Advance moves time forward and fires
// every timer whose deadline passed, in deadline order, on the caller's
// goroutine.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	sched    *fakeScheduler
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := &fakeTimer{sched: s, deadline: s.now.Add(d), fn: fn}
	s.timers = append(s.timers, timer)
	return timer
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()

	for {
		timer := s.nextDue()
		if timer == nil {
			return
		}
		timer.fn()
	}
}

func (s *fakeScheduler) nextDue() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due *fakeTimer
	for _, timer := range s.timers {
		if timer.fired || timer.stopped || timer.deadline.After(s.now) {
			continue
		}
		if due == nil || timer.deadline.Before(due.deadline) {
			due = timer
		}
	}
	if due != nil {
		due.fired = true
	}
	return due
}

// pendingTimers counts armed, unfired timers. Tests use it to wait for the
// coordinator to arm its next offer window before advancing the clock.
func (s *fakeScheduler) pendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, timer := range s.timers {
		if !timer.fired && !timer.stopped {
			n++
		}
	}
	return n
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}
