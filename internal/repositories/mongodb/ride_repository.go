package mongodb

import (
	"context"
	"fmt"
	"time"

	"ridehail/internal/models"
	"ridehail/internal/repositories/interfaces"
	"ridehail/internal/services"
	"ridehail/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type rideRepository struct {
	collection *mongo.Collection
	cache      services.CacheService
}

func NewRideRepository(db *mongo.Database, cache services.CacheService) interfaces.RideRepository {
	return &rideRepository{
		collection: db.Collection("rides"),
		cache:      cache,
	}
}

// statusTimestampField maps a target status to the field stamped on entry.
var statusTimestampField = map[models.RideStatus]string{
	models.RideStatusAccepted:   "accepted_at",
	models.RideStatusArrived:    "arrived_at",
	models.RideStatusInProgress: "started_at",
	models.RideStatusCompleted:  "completed_at",
	models.RideStatusCancelled:  "cancelled_at",
}

func (r *rideRepository) Create(ctx context.Context, ride *models.Ride) error {
	now := time.Now()
	ride.ID = primitive.NewObjectID()
	ride.Status = models.RideStatusRequested
	ride.RequestedAt = now
	ride.CreatedAt = now
	ride.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, ride); err != nil {
		return fmt.Errorf("failed to create ride: %w", err)
	}

	r.cacheRide(ctx, ride)
	return nil
}

func (r *rideRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error) {
	if ride := r.getRideFromCache(ctx, id); ride != nil {
		return ride, nil
	}

	var ride models.Ride
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&ride)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: ride %s", services.ErrNotFound, id.Hex())
		}
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}

	if !ride.Status.IsTerminal() {
		r.cacheRide(ctx, &ride)
	}
	return &ride, nil
}

func (r *rideRepository) HasActiveByPassenger(ctx context.Context, passengerID primitive.ObjectID) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"passenger_id": passengerID,
		"status":       bson.M{"$in": models.ActiveRideStatuses()},
	})
	if err != nil {
		return false, fmt.Errorf("failed to count active rides: %w", err)
	}
	return count > 0, nil
}

func (r *rideRepository) GetByParticipant(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Ride, int64, error) {
	filter := bson.M{"$or": []bson.M{
		{"passenger_id": userID},
		{"driver_id": userID},
	}}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rides: %w", err)
	}

	cursor, err := r.collection.Find(ctx, filter, params.GetSortOptions())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find rides: %w", err)
	}
	defer cursor.Close(ctx)

	var rides []*models.Ride
	for cursor.Next(ctx) {
		var ride models.Ride
		if err := cursor.Decode(&ride); err != nil {
			return nil, 0, fmt.Errorf("failed to decode ride: %w", err)
		}
		rides = append(rides, &ride)
	}

	return rides, total, nil
}

func (r *rideRepository) TransitionStatus(ctx context.Context, id primitive.ObjectID, from, to models.RideStatus) (*models.Ride, error) {
	update := bson.M{
		"status":     to,
		"updated_at": time.Now(),
	}
	if field, ok := statusTimestampField[to]; ok {
		update[field] = time.Now()
	}

	return r.conditionalUpdate(ctx, id,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": update},
	)
}

func (r *rideRepository) Accept(ctx context.Context, id primitive.ObjectID, driverID primitive.ObjectID) (*models.Ride, error) {
	now := time.Now()
	return r.conditionalUpdate(ctx, id,
		bson.M{
			"_id":       id,
			"status":    models.RideStatusRequested,
			"driver_id": nil,
		},
		bson.M{"$set": bson.M{
			"status":      models.RideStatusAccepted,
			"driver_id":   driverID,
			"accepted_at": now,
			"updated_at":  now,
		}},
	)
}

func (r *rideRepository) Cancel(ctx context.Context, id primitive.ObjectID, initiator models.CancellationInitiator, reason string) (*models.Ride, error) {
	now := time.Now()
	return r.conditionalUpdate(ctx, id,
		bson.M{
			"_id":    id,
			"status": bson.M{"$in": models.ActiveRideStatuses()},
		},
		bson.M{"$set": bson.M{
			"status":                 models.RideStatusCancelled,
			"cancelled_at":           now,
			"cancellation_reason":    reason,
			"cancellation_initiator": initiator,
			"updated_at":             now,
		}},
	)
}

func (r *rideRepository) SetOfferQueue(ctx context.Context, id primitive.ObjectID, queue []primitive.ObjectID) (*models.Ride, error) {
	now := time.Now()
	return r.conditionalUpdate(ctx, id,
		bson.M{"_id": id, "status": models.RideStatusRequested},
		bson.M{"$set": bson.M{
			"offer_queue":   queue,
			"last_offer_at": now,
			"updated_at":    now,
		}},
	)
}

func (r *rideRepository) HasOutstandingOffer(ctx context.Context, driverID, excludeRideID primitive.ObjectID, since time.Time) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"_id":           bson.M{"$ne": excludeRideID},
		"status":        models.RideStatusRequested,
		"offer_queue.0": driverID,
		"last_offer_at": bson.M{"$gte": since},
	})
	if err != nil {
		return false, fmt.Errorf("failed to count outstanding offers: %w", err)
	}
	return count > 0, nil
}

func (r *rideRepository) SkipOfferHead(ctx context.Context, id primitive.ObjectID, expectedHead primitive.ObjectID) (*models.Ride, error) {
	now := time.Now()
	return r.conditionalUpdate(ctx, id,
		bson.M{
			"_id":           id,
			"status":        models.RideStatusRequested,
			"offer_queue.0": expectedHead,
		},
		bson.M{
			"$pop":      bson.M{"offer_queue": -1},
			"$addToSet": bson.M{"skipped_driver_ids": expectedHead},
			"$set": bson.M{
				"last_offer_at": now,
				"updated_at":    now,
			},
		},
	)
}

func (r *rideRepository) SetDriverRating(ctx context.Context, id primitive.ObjectID, rating float64, feedback string) (*models.Ride, error) {
	return r.conditionalUpdate(ctx, id,
		bson.M{
			"_id":           id,
			"status":        models.RideStatusCompleted,
			"driver_rating": nil,
		},
		bson.M{"$set": bson.M{
			"driver_rating":   rating,
			"driver_feedback": feedback,
			"updated_at":      time.Now(),
		}},
	)
}

func (r *rideRepository) SetPassengerRating(ctx context.Context, id primitive.ObjectID, rating float64, feedback string) (*models.Ride, error) {
	return r.conditionalUpdate(ctx, id,
		bson.M{
			"_id":              id,
			"status":           models.RideStatusCompleted,
			"passenger_rating": nil,
		},
		bson.M{"$set": bson.M{
			"passenger_rating":   rating,
			"passenger_feedback": feedback,
			"updated_at":         time.Now(),
		}},
	)
}

// conditionalUpdate runs a FindOneAndUpdate keyed on the caller's expected
// prior state. When the filter misses, it distinguishes a missing ride from
// a ride in a different state so callers get the right taxonomy error.
func (r *rideRepository) conditionalUpdate(ctx context.Context, id primitive.ObjectID, filter, update bson.M) (*models.Ride, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ride models.Ride
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&ride)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			count, countErr := r.collection.CountDocuments(ctx, bson.M{"_id": id})
			if countErr == nil && count == 0 {
				return nil, fmt.Errorf("%w: ride %s", services.ErrNotFound, id.Hex())
			}
			return nil, fmt.Errorf("%w: ride %s not in expected state", services.ErrConflict, id.Hex())
		}
		return nil, fmt.Errorf("failed to update ride: %w", err)
	}

	if ride.Status.IsTerminal() {
		r.invalidateRideCache(ctx, ride.ID)
	} else {
		r.cacheRide(ctx, &ride)
	}
	return &ride, nil
}

func (r *rideRepository) cacheRide(ctx context.Context, ride *models.Ride) {
	if r.cache != nil {
		r.cache.CacheRide(ctx, ride)
	}
}

func (r *rideRepository) getRideFromCache(ctx context.Context, id primitive.ObjectID) *models.Ride {
	if r.cache == nil {
		return nil
	}
	ride, err := r.cache.GetCachedRide(ctx, id)
	if err != nil {
		return nil
	}
	return ride
}

func (r *rideRepository) invalidateRideCache(ctx context.Context, id primitive.ObjectID) {
	if r.cache != nil {
		r.cache.InvalidateRide(ctx, id)
	}
}
