package repository

import (
	"context"

	"github.com/honeynil/ReWearExchange/internal/models"
)

type ExchangeRepository interface {
	Create(ctx context.Context, ex *models.Exchange) error
	GetByID(ctx context.Context, id int64) (*models.Exchange, error)
	GetForUpdate(ctx context.Context, id int64) (*models.Exchange, error)
	// UpdateStatus writes ex.Status and ex.PointsUsed if the stored status still equals from.
	UpdateStatus(ctx context.Context, ex *models.Exchange, from models.ExchangeStatus) error
	ListByUser(ctx context.Context, userID int64) ([]models.Exchange, error)
	CountActiveByItem(ctx context.Context, itemID int64) (int, error)
}
