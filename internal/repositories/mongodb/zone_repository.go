package mongodb

import (
	"context"
	"fmt"

	"ridehail/internal/models"
	"ridehail/internal/repositories/interfaces"
	"ridehail/internal/services"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type zoneRepository struct {
	collection *mongo.Collection
}

func NewZoneRepository(db *mongo.Database) interfaces.ZoneRepository {
	return &zoneRepository{
		collection: db.Collection("zones"),
	}
}

func (r *zoneRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Zone, error) {
	var zone models.Zone
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&zone)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: zone %s", services.ErrNotFound, id.Hex())
		}
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	return &zone, nil
}

func (r *zoneRepository) List(ctx context.Context) ([]*models.Zone, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer cursor.Close(ctx)

	var zones []*models.Zone
	for cursor.Next(ctx) {
		var zone models.Zone
		if err := cursor.Decode(&zone); err != nil {
			return nil, fmt.Errorf("failed to decode zone: %w", err)
		}
		zones = append(zones, &zone)
	}

	return zones, nil
}
