package services

import (
	"context"
	"fmt"
	"time"

	"ridehail/internal/models"
	"ridehail/pkg/cache"
	"ridehail/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	rideCacheTTL       = 15 * time.Minute
	deviceTokenTTL     = 30 * 24 * time.Hour
	driverGeoKey       = "drivers:geo"
	driverLocationTTL  = 5 * time.Minute
	deviceTokenKeyFmt  = "device_token:%s"
	rideCacheKeyFmt    = "ride:%s"
	driverLocKeyFmt    = "driver_location:%s"
)

// CacheService is the redis-backed hot path: active ride snapshots, the
// driver geo index, and push device tokens. Everything here is best effort;
// mongo stays the source of truth and callers treat cache errors as soft.
type CacheService interface {
	CacheRide(ctx context.Context, ride *models.Ride) error
	GetCachedRide(ctx context.Context, rideID primitive.ObjectID) (*models.Ride, error)
	InvalidateRide(ctx context.Context, rideID primitive.ObjectID) error

	SetDriverLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location) error
	GetDriverLocation(ctx context.Context, driverID primitive.ObjectID) (*models.Location, error)
	NearbyDriverIDs(ctx context.Context, lng, lat, radiusMeters float64) ([]string, error)
	RemoveDriverLocation(ctx context.Context, driverID primitive.ObjectID) error

	SetDeviceToken(ctx context.Context, userID primitive.ObjectID, platform, token string) error
	GetDeviceToken(ctx context.Context, userID primitive.ObjectID) (*DeviceToken, error)

	Ping(ctx context.Context) error
}

type DeviceToken struct {
	Platform string `json:"platform"` // ios, android
	Token    string `json:"token"`
}

type cacheService struct {
	redis  *cache.RedisCache
	logger *logger.Logger
}

func NewCacheService(redisCache *cache.RedisCache, log *logger.Logger) CacheService {
	return &cacheService{
		redis:  redisCache,
		logger: log,
	}
}

func (s *cacheService) CacheRide(ctx context.Context, ride *models.Ride) error {
	key := fmt.Sprintf(rideCacheKeyFmt, ride.ID.Hex())
	return s.redis.Set(ctx, key, ride, rideCacheTTL)
}

func (s *cacheService) GetCachedRide(ctx context.Context, rideID primitive.ObjectID) (*models.Ride, error) {
	key := fmt.Sprintf(rideCacheKeyFmt, rideID.Hex())

	var ride models.Ride
	if err := s.redis.Get(ctx, key, &ride); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return &ride, nil
}

func (s *cacheService) InvalidateRide(ctx context.Context, rideID primitive.ObjectID) error {
	return s.redis.Delete(ctx, fmt.Sprintf(rideCacheKeyFmt, rideID.Hex()))
}

func (s *cacheService) SetDriverLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location) error {
	if location.IsZero() {
		return fmt.Errorf("%w: location has no coordinates", ErrValidation)
	}

	if err := s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      driverID.Hex(),
		Longitude: location.Longitude(),
		Latitude:  location.Latitude(),
	}); err != nil {
		return err
	}

	key := fmt.Sprintf(driverLocKeyFmt, driverID.Hex())
	return s.redis.Set(ctx, key, location, driverLocationTTL)
}

func (s *cacheService) GetDriverLocation(ctx context.Context, driverID primitive.ObjectID) (*models.Location, error) {
	key := fmt.Sprintf(driverLocKeyFmt, driverID.Hex())

	var loc models.Location
	if err := s.redis.Get(ctx, key, &loc); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return &loc, nil
}

func (s *cacheService) NearbyDriverIDs(ctx context.Context, lng, lat, radiusMeters float64) ([]string, error) {
	results, err := s.redis.GeoRadius(ctx, driverGeoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		Sort:      "ASC",
		WithCoord: true,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Name)
	}
	return ids, nil
}

func (s *cacheService) RemoveDriverLocation(ctx context.Context, driverID primitive.ObjectID) error {
	if err := s.redis.Delete(ctx, fmt.Sprintf(driverLocKeyFmt, driverID.Hex())); err != nil {
		return err
	}
	// The geo index is a sorted set underneath, so ZREM drops the member.
	return s.redis.ZRem(ctx, driverGeoKey, driverID.Hex())
}

func (s *cacheService) SetDeviceToken(ctx context.Context, userID primitive.ObjectID, platform, token string) error {
	key := fmt.Sprintf(deviceTokenKeyFmt, userID.Hex())
	return s.redis.Set(ctx, key, &DeviceToken{Platform: platform, Token: token}, deviceTokenTTL)
}

func (s *cacheService) GetDeviceToken(ctx context.Context, userID primitive.ObjectID) (*DeviceToken, error) {
	key := fmt.Sprintf(deviceTokenKeyFmt, userID.Hex())

	var dt DeviceToken
	if err := s.redis.Get(ctx, key, &dt); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return &dt, nil
}

func (s *cacheService) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}
