package mongodb

import (
	"context"
	"fmt"
	"time"

	"ridehail/internal/models"
	"ridehail/internal/repositories/interfaces"
	"ridehail/internal/services"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type driverRepository struct {
	collection *mongo.Collection
}

func NewDriverRepository(db *mongo.Database) interfaces.DriverRepository {
	return &driverRepository{
		collection: db.Collection("drivers"),
	}
}

func (r *driverRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error) {
	var driver models.Driver
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&driver)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: driver %s", services.ErrNotFound, id.Hex())
		}
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}
	return &driver, nil
}

func (r *driverRepository) FindAvailableNear(ctx context.Context, location models.Location, radiusMeters float64, maxActive int64) ([]*models.Driver, error) {
	filter := bson.M{
		"status":            models.DriverStatusAvailable,
		"active_ride_count": bson.M{"$lt": maxActive},
		"current_location": bson.M{
			"$near": bson.M{
				"$geometry": bson.M{
					"type":        "Point",
					"coordinates": location.Coordinates,
				},
				"$maxDistance": radiusMeters,
			},
		},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearby drivers: %w", err)
	}
	defer cursor.Close(ctx)

	var drivers []*models.Driver
	for cursor.Next(ctx) {
		var driver models.Driver
		if err := cursor.Decode(&driver); err != nil {
			return nil, fmt.Errorf("failed to decode driver: %w", err)
		}
		drivers = append(drivers, &driver)
	}

	return drivers, nil
}

func (r *driverRepository) ReserveSlot(ctx context.Context, id primitive.ObjectID, maxActive int64) (*models.Driver, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var driver models.Driver
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{
			"_id":               id,
			"status":            models.DriverStatusAvailable,
			"active_ride_count": bson.M{"$lt": maxActive},
		},
		bson.M{
			"$inc": bson.M{"active_ride_count": 1},
			"$set": bson.M{"updated_at": time.Now()},
		},
		opts,
	).Decode(&driver)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, r.reserveFailure(ctx, id, maxActive)
		}
		return nil, fmt.Errorf("failed to reserve driver slot: %w", err)
	}

	// Flip to busy once the cap is hit so matching stops offering them rides.
	if driver.ActiveRideCount >= maxActive {
		_, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": id, "status": models.DriverStatusAvailable, "active_ride_count": bson.M{"$gte": maxActive}},
			bson.M{"$set": bson.M{"status": models.DriverStatusBusy, "updated_at": time.Now()}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to mark driver busy: %w", err)
		}
		driver.Status = models.DriverStatusBusy
	}

	return &driver, nil
}

// reserveFailure works out why the conditional increment missed.
func (r *driverRepository) reserveFailure(ctx context.Context, id primitive.ObjectID, maxActive int64) error {
	driver, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if driver.ActiveRideCount >= maxActive {
		return fmt.Errorf("%w: driver %s has %d active rides", services.ErrCapacity, id.Hex(), driver.ActiveRideCount)
	}
	return fmt.Errorf("%w: driver %s is %s", services.ErrConflict, id.Hex(), driver.Status)
}

func (r *driverRepository) ReleaseSlot(ctx context.Context, id primitive.ObjectID) (*models.Driver, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var driver models.Driver
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "active_ride_count": bson.M{"$gt": 0}},
		bson.M{
			"$inc": bson.M{"active_ride_count": -1},
			"$set": bson.M{"updated_at": time.Now()},
		},
		opts,
	).Decode(&driver)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// Counter already at zero, or driver gone. Releasing twice is
			// not an error worth failing a cancellation over.
			return r.GetByID(ctx, id)
		}
		return nil, fmt.Errorf("failed to release driver slot: %w", err)
	}

	// A busy driver regains availability; an offline driver stays offline.
	if driver.Status == models.DriverStatusBusy {
		_, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": id, "status": models.DriverStatusBusy},
			bson.M{"$set": bson.M{"status": models.DriverStatusAvailable, "updated_at": time.Now()}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to restore driver availability: %w", err)
		}
		driver.Status = models.DriverStatusAvailable
	}

	return &driver, nil
}

func (r *driverRepository) SetStatus(ctx context.Context, id primitive.ObjectID, status models.DriverStatus) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to set driver status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: driver %s", services.ErrNotFound, id.Hex())
	}
	return nil
}

func (r *driverRepository) UpdateLocation(ctx context.Context, id primitive.ObjectID, location models.Location) error {
	now := time.Now()
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"current_location":     location,
			"last_location_update": now,
			"updated_at":           now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update driver location: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: driver %s", services.ErrNotFound, id.Hex())
	}
	return nil
}

func (r *driverRepository) ApplyRating(ctx context.Context, id primitive.ObjectID, value float64) error {
	// Single pipeline update so the running average and the count move
	// together even under concurrent ratings.
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"rating": bson.M{"$divide": []interface{}{
				bson.M{"$add": []interface{}{
					bson.M{"$multiply": []interface{}{"$rating", "$total_ratings"}},
					value,
				}},
				bson.M{"$add": []interface{}{"$total_ratings", 1}},
			}},
			"total_ratings": bson.M{"$add": []interface{}{"$total_ratings", 1}},
			"updated_at":    "$$NOW",
		}}},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, pipeline)
	if err != nil {
		return fmt.Errorf("failed to apply driver rating: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: driver %s", services.ErrNotFound, id.Hex())
	}
	return nil
}

func (r *driverRepository) IncrementTotalRides(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"total_rides": 1},
			"$set": bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to increment total rides: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: driver %s", services.ErrNotFound, id.Hex())
	}
	return nil
}
