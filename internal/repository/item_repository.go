package repository

import (
	"context"

	"github.com/honeynil/ReWearExchange/internal/models"
)

// ItemRepository is the item registry. Status writes go through Reserve, Release
// and Finalize only, each a conditional update checked against the item state table.
type ItemRepository interface {
	Create(ctx context.Context, item *models.Item) error
	GetByID(ctx context.Context, id int64) (*models.Item, error)
	GetForUpdate(ctx context.Context, id int64) (*models.Item, error)
	List(ctx context.Context, filter models.ItemFilter) ([]models.Item, error)
	UpdateDetails(ctx context.Context, id int64, details models.ItemDetails) (*models.Item, error)
	SetApproved(ctx context.Context, id int64, approved bool) (*models.Item, error)
	Delete(ctx context.Context, id int64) error

	Reserve(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64) error
	Finalize(ctx context.Context, id int64, status models.ItemStatus, newOwner *int64) error
}
