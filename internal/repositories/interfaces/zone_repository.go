package interfaces

import (
	"context"

	"ridehail/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ZoneRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Zone, error)
	List(ctx context.Context) ([]*models.Zone, error)
}
