package repository

import (
	"context"

	"github.com/honeynil/ReWearExchange/internal/models"
)

type LedgerRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	Get(ctx context.Context, userID int64) (*models.Account, error)
	GetForUpdate(ctx context.Context, userID int64) (*models.Account, error)
	// Debit subtracts amount only if the balance covers it, in one statement.
	Debit(ctx context.Context, userID, amount int64) (newBalance int64, err error)
	Credit(ctx context.Context, userID, amount int64) (newBalance int64, err error)
}
