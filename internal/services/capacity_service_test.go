package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ridehail/internal/models"
	"ridehail/internal/utils"
)

func newCapacityFixture(t *testing.T) (*fakeDriverRepo, CapacityService) {
	t.Helper()

	repo := newFakeDriverRepo()
	return repo, NewCapacityService(repo, utils.MaxConcurrentRides, newTestLogger(t))
}

func TestCapacity_ConcurrentReservesHoldTheCap(t *testing.T) {
	repo, capacity := newCapacityFixture(t)
	ctx := context.Background()

	driverID := repo.add(&models.Driver{Status: models.DriverStatusAvailable})

	const attempts = 25
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = capacity.Reserve(ctx, driverID)
		}(i)
	}
	wg.Wait()

	granted := 0
	for i, err := range results {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, ErrCapacity), errors.Is(err, ErrConflict):
		default:
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if granted != utils.MaxConcurrentRides {
		t.Fatalf("granted %d slots, cap is %d", granted, utils.MaxConcurrentRides)
	}

	driver, err := repo.GetByID(ctx, driverID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if driver.ActiveRideCount != utils.MaxConcurrentRides {
		t.Fatalf("active ride count = %d, want %d", driver.ActiveRideCount, utils.MaxConcurrentRides)
	}
}

func TestCapacity_FullDriverFlipsBusyAndReleaseRestores(t *testing.T) {
	repo, capacity := newCapacityFixture(t)
	ctx := context.Background()

	driverID := repo.add(&models.Driver{Status: models.DriverStatusAvailable})

	for i := 0; i < utils.MaxConcurrentRides; i++ {
		if _, err := capacity.Reserve(ctx, driverID); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	driver, err := repo.GetByID(ctx, driverID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if driver.Status != models.DriverStatusBusy {
		t.Fatalf("status = %s, want busy at the cap", driver.Status)
	}

	released, err := capacity.Release(ctx, driverID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != models.DriverStatusAvailable {
		t.Fatalf("status = %s, want available after release", released.Status)
	}
	if released.ActiveRideCount != utils.MaxConcurrentRides-1 {
		t.Fatalf("active ride count = %d after release", released.ActiveRideCount)
	}
}

func TestCapacity_ReserveRejectsOfflineDriver(t *testing.T) {
	repo, capacity := newCapacityFixture(t)

	driverID := repo.add(&models.Driver{Status: models.DriverStatusOffline})

	_, err := capacity.Reserve(context.Background(), driverID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestCapacity_CanAcceptMore(t *testing.T) {
	_, capacity := newCapacityFixture(t)

	cases := []struct {
		name   string
		driver models.Driver
		want   bool
	}{
		{"available with room", models.Driver{Status: models.DriverStatusAvailable, ActiveRideCount: 2}, true},
		{"available at cap", models.Driver{Status: models.DriverStatusAvailable, ActiveRideCount: utils.MaxConcurrentRides}, false},
		{"busy", models.Driver{Status: models.DriverStatusBusy, ActiveRideCount: 1}, false},
		{"offline", models.Driver{Status: models.DriverStatusOffline}, false},
	}

	for _, c := range cases {
		if got := capacity.CanAcceptMore(&c.driver); got != c.want {
			t.Errorf("%s: CanAcceptMore = %v, want %v", c.name, got, c.want)
		}
	}
}
