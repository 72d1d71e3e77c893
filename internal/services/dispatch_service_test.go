package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ridehail/internal/models"
	"ridehail/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type dispatchEnv struct {
	rides      *fakeRideRepo
	drivers    *fakeDriverRepo
	notifier   *fakeNotifier
	sched      *fakeScheduler
	capacity   CapacityService
	dispatcher Dispatcher
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()

	log := newTestLogger(t)
	env := &dispatchEnv{
		rides:    newFakeRideRepo(),
		drivers:  newFakeDriverRepo(),
		notifier: newFakeNotifier(),
		sched:    newFakeScheduler(),
	}
	env.capacity = NewCapacityService(env.drivers, utils.MaxConcurrentRides, log)
	env.dispatcher = NewDispatchService(env.rides, env.drivers, env.capacity, env.notifier, env.sched, DispatchOptions{
		OfferWindow:        utils.OfferWindow,
		GlobalTimeout:      utils.GlobalDispatchTimeout,
		SearchRadiusMeters: utils.SearchRadiusMeters,
	}, log)
	return env
}

var testPickup = models.NewPoint(77.5946, 12.9716, "MG Road")

func (env *dispatchEnv) addDriver(t *testing.T, rating float64, totalRides int64, loc models.Location) primitive.ObjectID {
	t.Helper()

	l := loc
	return env.drivers.add(&models.Driver{
		FirstName:       "Driver",
		Status:          models.DriverStatusAvailable,
		CurrentLocation: &l,
		Rating:          rating,
		TotalRides:      totalRides,
	})
}

func (env *dispatchEnv) newRide(t *testing.T) *models.Ride {
	t.Helper()

	ride := &models.Ride{
		PassengerID:         primitive.NewObjectID(),
		PickupLocation:      testPickup,
		DestinationLocation: models.NewPoint(77.6412, 12.9783, "Indiranagar"),
	}
	if err := env.rides.Create(context.Background(), ride); err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return ride
}

func (env *dispatchEnv) currentRide(t *testing.T, id primitive.ObjectID) *models.Ride {
	t.Helper()

	ride, err := env.rides.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	return ride
}

func (env *dispatchEnv) awaitOfferTo(t *testing.T, driverID primitive.ObjectID) {
	t.Helper()

	eventually(t, time.Second, func() bool {
		return len(env.notifier.eventsFor(driverID, utils.EventRideRequest)) > 0
	}, "driver never received the offer")
}

func (env *dispatchEnv) awaitArmedTimer(t *testing.T) {
	t.Helper()

	// The coordinator keeps the global backstop armed for its whole run, so
	// an armed offer window means at least two pending timers.
	eventually(t, time.Second, func() bool {
		return env.sched.pendingTimers() >= 2
	}, "coordinator never armed an offer window")
}

func TestDispatch_RanksByRatingThenExperienceThenID(t *testing.T) {
	env := newDispatchEnv(t)

	d1 := env.addDriver(t, 4.9, 120, testPickup)
	d2 := env.addDriver(t, 4.9, 80, testPickup)
	d3 := env.addDriver(t, 4.5, 200, testPickup)

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)

	eventually(t, time.Second, func() bool {
		return len(env.currentRide(t, ride.ID).OfferQueue) == 3
	}, "offer queue never installed")

	queue := env.currentRide(t, ride.ID).OfferQueue
	want := []primitive.ObjectID{d1, d2, d3}
	for i := range want {
		if queue[i] != want[i] {
			t.Fatalf("queue[%d] = %s, want %s", i, queue[i].Hex(), want[i].Hex())
		}
	}

	// The top-ranked driver holds the first offer.
	env.awaitOfferTo(t, d1)
	if got := env.notifier.eventsFor(d2, utils.EventRideRequest); len(got) != 0 {
		t.Fatalf("second candidate was offered early: %d events", len(got))
	}
}

func TestDispatch_IDTiebreakIsDeterministic(t *testing.T) {
	env := newDispatchEnv(t)

	a := env.addDriver(t, 4.8, 50, testPickup)
	b := env.addDriver(t, 4.8, 50, testPickup)

	first, second := a, b
	if b.Hex() < a.Hex() {
		first, second = b, a
	}

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)

	eventually(t, time.Second, func() bool {
		return len(env.currentRide(t, ride.ID).OfferQueue) == 2
	}, "offer queue never installed")

	queue := env.currentRide(t, ride.ID).OfferQueue
	if queue[0] != first || queue[1] != second {
		t.Fatalf("tie not broken by id: got [%s %s], want [%s %s]",
			queue[0].Hex(), queue[1].Hex(), first.Hex(), second.Hex())
	}
}

func TestDispatch_ExcludesIneligibleDrivers(t *testing.T) {
	env := newDispatchEnv(t)

	eligible := env.addDriver(t, 4.0, 10, testPickup)

	// Out of radius (roughly 5km away).
	env.addDriver(t, 5.0, 500, models.NewPoint(77.6412, 12.9783, "far"))

	// Offline.
	offline := env.addDriver(t, 5.0, 500, testPickup)
	if err := env.drivers.SetStatus(context.Background(), offline, models.DriverStatusOffline); err != nil {
		t.Fatalf("set status: %v", err)
	}

	// At the concurrent-rides cap.
	saturated := env.addDriver(t, 5.0, 500, testPickup)
	for i := 0; i < utils.MaxConcurrentRides; i++ {
		if _, err := env.drivers.ReserveSlot(context.Background(), saturated, utils.MaxConcurrentRides); err != nil {
			t.Fatalf("saturate driver: %v", err)
		}
	}

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)

	eventually(t, time.Second, func() bool {
		return len(env.currentRide(t, ride.ID).OfferQueue) > 0
	}, "offer queue never installed")

	queue := env.currentRide(t, ride.ID).OfferQueue
	if len(queue) != 1 || queue[0] != eligible {
		t.Fatalf("expected only the eligible driver in queue, got %v", queue)
	}
}

func TestDispatch_OfferWindowExpiryEscalates(t *testing.T) {
	env := newDispatchEnv(t)

	d1 := env.addDriver(t, 4.9, 100, testPickup)
	d2 := env.addDriver(t, 4.0, 100, testPickup)

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)

	env.awaitOfferTo(t, d1)
	env.awaitArmedTimer(t)

	env.sched.Advance(utils.OfferWindow)

	env.awaitOfferTo(t, d2)

	current := env.currentRide(t, ride.ID)
	if head, ok := current.OfferHead(); !ok || head != d2 {
		t.Fatalf("expected offer head %s after expiry, got %v", d2.Hex(), current.OfferQueue)
	}
	if !current.HasSkipped(d1) {
		t.Fatal("expired driver was not recorded as skipped")
	}
}

func TestDispatch_DeclineEscalatesImmediately(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	d1 := env.addDriver(t, 4.9, 100, testPickup)
	d2 := env.addDriver(t, 4.0, 100, testPickup)

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)
	env.awaitOfferTo(t, d1)

	// A driver who does not hold the offer cannot decline it.
	if err := env.dispatcher.Decline(ctx, ride.ID, d2); !errors.Is(err, ErrConflict) {
		t.Fatalf("non-head decline: got %v, want ErrConflict", err)
	}

	if err := env.dispatcher.Decline(ctx, ride.ID, d1); err != nil {
		t.Fatalf("decline: %v", err)
	}

	env.awaitOfferTo(t, d2)

	current := env.currentRide(t, ride.ID)
	if !current.HasSkipped(d1) {
		t.Fatal("declining driver was not recorded as skipped")
	}

	// A second decline from the same driver is stale.
	if err := env.dispatcher.Decline(ctx, ride.ID, d1); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale decline: got %v, want ErrConflict", err)
	}
}

func TestDispatch_EmptyPoolCancelsImmediately(t *testing.T) {
	env := newDispatchEnv(t)

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)

	eventually(t, time.Second, func() bool {
		return env.currentRide(t, ride.ID).Status == models.RideStatusCancelled
	}, "ride was never cancelled")

	current := env.currentRide(t, ride.ID)
	if current.CancellationInitiator != models.InitiatorSystem {
		t.Fatalf("initiator = %s, want system", current.CancellationInitiator)
	}
	if current.CancellationReason != "no drivers available" {
		t.Fatalf("reason = %q", current.CancellationReason)
	}

	cancels := env.notifier.eventsFor(ride.PassengerID, utils.EventRideCancelled)
	if len(cancels) != 1 {
		t.Fatalf("passenger got %d cancellation notices, want exactly 1", len(cancels))
	}
}

func TestDispatch_GlobalTimeoutCancelsOnce(t *testing.T) {
	env := newDispatchEnv(t)

	drivers := []primitive.ObjectID{
		env.addDriver(t, 4.9, 100, testPickup),
		env.addDriver(t, 4.8, 100, testPickup),
		env.addDriver(t, 4.7, 100, testPickup),
		env.addDriver(t, 4.6, 100, testPickup),
	}

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)

	// Three full offer windows exhaust the global timeout.
	for i := 0; i < 3; i++ {
		env.awaitOfferTo(t, drivers[i])
		env.awaitArmedTimer(t)
		env.sched.Advance(utils.OfferWindow)
	}

	eventually(t, time.Second, func() bool {
		return env.currentRide(t, ride.ID).Status == models.RideStatusCancelled
	}, "ride was never cancelled at the global deadline")

	current := env.currentRide(t, ride.ID)
	if current.CancellationReason != "no driver accepted in time" {
		t.Fatalf("reason = %q", current.CancellationReason)
	}

	// The fourth candidate never saw an offer.
	if got := env.notifier.eventsFor(drivers[3], utils.EventRideRequest); len(got) != 0 {
		t.Fatalf("candidate past the deadline was offered: %d events", len(got))
	}

	cancels := env.notifier.eventsFor(ride.PassengerID, utils.EventRideCancelled)
	if len(cancels) != 1 {
		t.Fatalf("passenger got %d cancellation notices, want exactly 1", len(cancels))
	}
}

func TestDispatch_AcceptStopsCoordinator(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	d1 := env.addDriver(t, 4.9, 100, testPickup)

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)
	env.awaitOfferTo(t, d1)
	env.awaitArmedTimer(t)

	if _, err := env.rides.Accept(ctx, ride.ID, d1); err != nil {
		t.Fatalf("accept: %v", err)
	}
	env.dispatcher.Wake(ride.ID)

	eventually(t, time.Second, func() bool {
		return env.sched.pendingTimers() == 0
	}, "coordinator kept an offer window armed after accept")

	// A late window expiry must not disturb the accepted ride.
	env.sched.Advance(utils.OfferWindow)
	current := env.currentRide(t, ride.ID)
	if current.Status != models.RideStatusAccepted {
		t.Fatalf("status = %s, want accepted", current.Status)
	}
	if len(env.notifier.eventsFor(ride.PassengerID, utils.EventRideCancelled)) != 0 {
		t.Fatal("accepted ride produced a cancellation notice")
	}
}

// flakyRideRepo fails a fixed number of reads before behaving normally,
// standing in for a transient store outage.
type flakyRideRepo struct {
	*fakeRideRepo
	mu        sync.Mutex
	readFails int
}

func (r *flakyRideRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error) {
	r.mu.Lock()
	if r.readFails > 0 {
		r.readFails--
		r.mu.Unlock()
		return nil, errors.New("store timeout")
	}
	r.mu.Unlock()
	return r.fakeRideRepo.GetByID(ctx, id)
}

func TestDispatch_BackstopCancelsAfterStoreError(t *testing.T) {
	env := newDispatchEnv(t)
	flaky := &flakyRideRepo{fakeRideRepo: env.rides, readFails: 1}
	env.dispatcher = NewDispatchService(flaky, env.drivers, env.capacity, env.notifier, env.sched, DispatchOptions{
		OfferWindow:        utils.OfferWindow,
		GlobalTimeout:      utils.GlobalDispatchTimeout,
		SearchRadiusMeters: utils.SearchRadiusMeters,
	}, newTestLogger(t))

	driverID := env.addDriver(t, 4.9, 100, testPickup)

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)

	// The failed read kills the escalation walk before the first offer; only
	// the backstop timer survives.
	eventually(t, time.Second, func() bool {
		return len(env.currentRide(t, ride.ID).OfferQueue) == 1
	}, "offer queue never installed")
	if got := env.notifier.eventsFor(driverID, utils.EventRideRequest); len(got) != 0 {
		t.Fatalf("driver was offered despite the dead coordinator: %d events", len(got))
	}

	env.sched.Advance(utils.GlobalDispatchTimeout)

	eventually(t, time.Second, func() bool {
		return env.currentRide(t, ride.ID).Status == models.RideStatusCancelled
	}, "ride stayed requested past the global deadline")

	current := env.currentRide(t, ride.ID)
	if current.CancellationInitiator != models.InitiatorSystem {
		t.Fatalf("initiator = %s, want system", current.CancellationInitiator)
	}
	if current.CancellationReason != "no driver accepted in time" {
		t.Fatalf("reason = %q", current.CancellationReason)
	}
	if cancels := env.notifier.eventsFor(ride.PassengerID, utils.EventRideCancelled); len(cancels) != 1 {
		t.Fatalf("passenger got %d cancellation notices, want exactly 1", len(cancels))
	}
}

func TestDispatch_SkipsHeadWhoSaturatedMidEscalation(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	d1 := env.addDriver(t, 4.9, 100, testPickup)
	d2 := env.addDriver(t, 4.0, 100, testPickup)
	d3 := env.addDriver(t, 3.5, 100, testPickup)

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)
	env.awaitOfferTo(t, d1)
	env.awaitArmedTimer(t)

	// The second candidate fills their last slot while the first holds the
	// offer; the ranked snapshot is now stale.
	for i := 0; i < utils.MaxConcurrentRides; i++ {
		if _, err := env.drivers.ReserveSlot(ctx, d2, utils.MaxConcurrentRides); err != nil {
			t.Fatalf("saturate driver: %v", err)
		}
	}

	env.sched.Advance(utils.OfferWindow)

	env.awaitOfferTo(t, d3)
	if got := env.notifier.eventsFor(d2, utils.EventRideRequest); len(got) != 0 {
		t.Fatalf("saturated driver was offered: %d events", len(got))
	}
	if !env.currentRide(t, ride.ID).HasSkipped(d2) {
		t.Fatal("saturated driver was not recorded as skipped")
	}
}

func TestDispatch_SkipsHeadWhoWentOffline(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	d1 := env.addDriver(t, 4.9, 100, testPickup)
	d2 := env.addDriver(t, 4.0, 100, testPickup)
	d3 := env.addDriver(t, 3.5, 100, testPickup)

	ride := env.newRide(t)
	env.dispatcher.Begin(ride)
	env.awaitOfferTo(t, d1)
	env.awaitArmedTimer(t)

	if err := env.drivers.SetStatus(ctx, d2, models.DriverStatusOffline); err != nil {
		t.Fatalf("set status: %v", err)
	}

	env.sched.Advance(utils.OfferWindow)

	env.awaitOfferTo(t, d3)
	if got := env.notifier.eventsFor(d2, utils.EventRideRequest); len(got) != 0 {
		t.Fatalf("offline driver was offered: %d events", len(got))
	}
}

func TestDispatch_DoesNotOfferDriverHoldingAnotherOffer(t *testing.T) {
	env := newDispatchEnv(t)

	d1 := env.addDriver(t, 4.9, 100, testPickup)
	d2 := env.addDriver(t, 4.0, 100, testPickup)

	rideA := env.newRide(t)
	env.dispatcher.Begin(rideA)
	env.awaitOfferTo(t, d1)

	// While the top-ranked driver holds rideA's offer, a second dispatch
	// must pass over them.
	rideB := env.newRide(t)
	env.dispatcher.Begin(rideB)

	env.awaitOfferTo(t, d2)
	if got := env.notifier.eventsFor(d1, utils.EventRideRequest); len(got) != 1 {
		t.Fatalf("driver holding an offer got %d offers, want only the first", len(got))
	}
	if !env.currentRide(t, rideB.ID).HasSkipped(d1) {
		t.Fatal("busy-with-offer driver was not recorded as skipped on the second ride")
	}
}
