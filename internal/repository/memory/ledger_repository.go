package memory

import (
	"context"
	"fmt"

	"github.com/honeynil/ReWearExchange/internal/models"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
)

type ledgerRepository struct {
	s *Store
}

func (r *ledgerRepository) CreateAccount(_ context.Context, account *models.Account) error {
	if account == nil {
		return fmt.Errorf("%w: account is nil", pkgerrors.ErrInvalidInput)
	}
	if account.Balance < 0 {
		return pkgerrors.ErrNegativeAmount
	}
	if _, exists := r.s.state.accounts[account.UserID]; exists {
		return fmt.Errorf("%w: account %d already exists", pkgerrors.ErrConflict, account.UserID)
	}
	if account.Role == "" {
		account.Role = models.RoleUser
	}
	account.CreatedAt = r.s.now()
	r.s.state.accounts[account.UserID] = *account
	return nil
}

func (r *ledgerRepository) Get(_ context.Context, userID int64) (*models.Account, error) {
	acc, ok := r.s.state.accounts[userID]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return &acc, nil
}

func (r *ledgerRepository) GetForUpdate(ctx context.Context, userID int64) (*models.Account, error) {
	return r.Get(ctx, userID)
}

func (r *ledgerRepository) Debit(_ context.Context, userID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, pkgerrors.ErrNegativeAmount
	}
	acc, ok := r.s.state.accounts[userID]
	if !ok {
		return 0, pkgerrors.ErrUserNotFound
	}
	if acc.Balance < amount {
		return 0, fmt.Errorf("%w: balance %d, needed %d", pkgerrors.ErrInsufficientFunds, acc.Balance, amount)
	}
	acc.Balance -= amount
	r.s.state.accounts[userID] = acc
	return acc.Balance, nil
}

func (r *ledgerRepository) Credit(_ context.Context, userID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, pkgerrors.ErrNegativeAmount
	}
	acc, ok := r.s.state.accounts[userID]
	if !ok {
		return 0, pkgerrors.ErrUserNotFound
	}
	acc.Balance += amount
	r.s.state.accounts[userID] = acc
	return acc.Balance, nil
}
