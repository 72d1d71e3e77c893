package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ridehail/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeCache is an in-memory CacheService. Setting failGeo simulates a redis
// outage on the geo index paths.
type fakeCache struct {
	mu        sync.Mutex
	locations map[primitive.ObjectID]models.Location
	tokens    map[primitive.ObjectID]*DeviceToken
	failGeo   bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		locations: make(map[primitive.ObjectID]models.Location),
		tokens:    make(map[primitive.ObjectID]*DeviceToken),
	}
}

func (c *fakeCache) CacheRide(ctx context.Context, ride *models.Ride) error { return nil }

func (c *fakeCache) GetCachedRide(ctx context.Context, rideID primitive.ObjectID) (*models.Ride, error) {
	return nil, nil
}

func (c *fakeCache) InvalidateRide(ctx context.Context, rideID primitive.ObjectID) error { return nil }

func (c *fakeCache) SetDriverLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGeo {
		return errors.New("geo index down")
	}
	c.locations[driverID] = location
	return nil
}

func (c *fakeCache) GetDriverLocation(ctx context.Context, driverID primitive.ObjectID) (*models.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, ok := c.locations[driverID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (c *fakeCache) NearbyDriverIDs(ctx context.Context, lng, lat, radiusMeters float64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGeo {
		return nil, errors.New("geo index down")
	}
	var ids []string
	for id := range c.locations {
		ids = append(ids, id.Hex())
	}
	return ids, nil
}

func (c *fakeCache) RemoveDriverLocation(ctx context.Context, driverID primitive.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locations, driverID)
	return nil
}

func (c *fakeCache) SetDeviceToken(ctx context.Context, userID primitive.ObjectID, platform, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[userID] = &DeviceToken{Platform: platform, Token: token}
	return nil
}

func (c *fakeCache) GetDeviceToken(ctx context.Context, userID primitive.ObjectID) (*DeviceToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[userID], nil
}

func (c *fakeCache) Ping(ctx context.Context) error { return nil }

func newDriverFixture(t *testing.T) (*fakeDriverRepo, *fakeCache, DriverService) {
	t.Helper()

	repo := newFakeDriverRepo()
	cache := newFakeCache()
	svc := NewDriverService(repo, cache, newFakeNotifier(), newTestLogger(t))
	return repo, cache, svc
}

func TestDriverSetStatus_OnlyAvailableOrOffline(t *testing.T) {
	repo, _, svc := newDriverFixture(t)
	ctx := context.Background()

	driverID := repo.add(&models.Driver{Status: models.DriverStatusOffline})

	if _, err := svc.SetStatus(ctx, driverID, models.DriverStatusBusy); !errors.Is(err, ErrValidation) {
		t.Fatalf("busy: got %v, want ErrValidation", err)
	}

	driver, err := svc.SetStatus(ctx, driverID, models.DriverStatusAvailable)
	if err != nil {
		t.Fatalf("go available: %v", err)
	}
	if driver.Status != models.DriverStatusAvailable {
		t.Fatalf("status = %s", driver.Status)
	}
}

func TestDriverSetStatus_BlocksOfflineWithActiveRides(t *testing.T) {
	repo, _, svc := newDriverFixture(t)
	ctx := context.Background()

	driverID := repo.add(&models.Driver{Status: models.DriverStatusAvailable, ActiveRideCount: 1})

	if _, err := svc.SetStatus(ctx, driverID, models.DriverStatusOffline); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestDriverSetStatus_OfflineDropsGeoIndexEntry(t *testing.T) {
	repo, cache, svc := newDriverFixture(t)
	ctx := context.Background()

	loc := models.NewPoint(77.5946, 12.9716, "")
	driverID := repo.add(&models.Driver{Status: models.DriverStatusAvailable})
	if err := svc.UpdateLocation(ctx, driverID, loc); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if got, _ := cache.GetDriverLocation(ctx, driverID); got == nil {
		t.Fatal("location not indexed")
	}

	if _, err := svc.SetStatus(ctx, driverID, models.DriverStatusOffline); err != nil {
		t.Fatalf("go offline: %v", err)
	}
	if got, _ := cache.GetDriverLocation(ctx, driverID); got != nil {
		t.Fatal("offline driver still in geo index")
	}
}

func TestDriverUpdateLocation_RequiresCoordinates(t *testing.T) {
	repo, _, svc := newDriverFixture(t)

	driverID := repo.add(&models.Driver{Status: models.DriverStatusAvailable})

	err := svc.UpdateLocation(context.Background(), driverID, models.Location{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestDriverUpdateLocation_SurvivesGeoIndexOutage(t *testing.T) {
	repo, cache, svc := newDriverFixture(t)
	ctx := context.Background()

	cache.failGeo = true
	driverID := repo.add(&models.Driver{Status: models.DriverStatusAvailable})

	// Mongo is the source of truth; the index write failing must not fail
	// the update.
	if err := svc.UpdateLocation(ctx, driverID, models.NewPoint(77.5946, 12.9716, "")); err != nil {
		t.Fatalf("update location: %v", err)
	}

	driver, err := repo.GetByID(ctx, driverID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if driver.CurrentLocation == nil {
		t.Fatal("location not persisted")
	}
}

func TestNearbyDrivers_AnswersFromGeoIndex(t *testing.T) {
	repo, _, svc := newDriverFixture(t)
	ctx := context.Background()

	loc := models.NewPoint(77.5946, 12.9716, "")
	available := repo.add(&models.Driver{Status: models.DriverStatusAvailable})
	if err := svc.UpdateLocation(ctx, available, loc); err != nil {
		t.Fatalf("update location: %v", err)
	}

	// Indexed but no longer available: hydration filters it out.
	busy := repo.add(&models.Driver{Status: models.DriverStatusAvailable})
	if err := svc.UpdateLocation(ctx, busy, loc); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if err := repo.SetStatus(ctx, busy, models.DriverStatusBusy); err != nil {
		t.Fatalf("set status: %v", err)
	}

	drivers, err := svc.NearbyDrivers(ctx, 77.5946, 12.9716, 500)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(drivers) != 1 || drivers[0].ID != available {
		t.Fatalf("got %d drivers, want only the available one", len(drivers))
	}
}

func TestNearbyDrivers_FallsBackToStoreOnOutage(t *testing.T) {
	repo, cache, svc := newDriverFixture(t)
	ctx := context.Background()

	loc := models.NewPoint(77.5946, 12.9716, "")
	driverID := repo.add(&models.Driver{Status: models.DriverStatusAvailable, CurrentLocation: &loc})

	cache.failGeo = true

	drivers, err := svc.NearbyDrivers(ctx, 77.5946, 12.9716, 500)
	if err != nil {
		t.Fatalf("nearby with outage: %v", err)
	}
	if len(drivers) != 1 || drivers[0].ID != driverID {
		t.Fatalf("fallback returned %d drivers", len(drivers))
	}
}
