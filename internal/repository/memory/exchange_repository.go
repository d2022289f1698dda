package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/honeynil/ReWearExchange/internal/models"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
)

type exchangeRepository struct {
	s *Store
}

func (r *exchangeRepository) Create(_ context.Context, ex *models.Exchange) error {
	if ex == nil {
		return pkgerrors.ErrNilExchange
	}
	if ex.Kind != models.KindSwap && ex.Kind != models.KindRedemption {
		return fmt.Errorf("%w: unknown exchange kind %q", pkgerrors.ErrInvalidInput, ex.Kind)
	}
	if (ex.Kind == models.KindSwap) != (ex.OfferedItemID != nil) {
		return fmt.Errorf("%w: offered item must be set for swaps and only for swaps", pkgerrors.ErrInvalidInput)
	}
	if !ex.Status.Valid() {
		return pkgerrors.ErrInvalidStatus
	}
	if ex.PointsUsed < 0 {
		return pkgerrors.ErrNegativeAmount
	}
	r.s.state.exchangeSeq++
	now := r.s.now()
	ex.ID = r.s.state.exchangeSeq
	ex.CreatedAt = now
	ex.UpdatedAt = now
	r.s.state.exchanges[ex.ID] = cloneExchange(*ex)
	return nil
}

func (r *exchangeRepository) GetByID(_ context.Context, id int64) (*models.Exchange, error) {
	ex, ok := r.s.state.exchanges[id]
	if !ok {
		return nil, pkgerrors.ErrExchangeNotFound
	}
	ex = cloneExchange(ex)
	return &ex, nil
}

func (r *exchangeRepository) GetForUpdate(ctx context.Context, id int64) (*models.Exchange, error) {
	return r.GetByID(ctx, id)
}

func (r *exchangeRepository) UpdateStatus(_ context.Context, ex *models.Exchange, from models.ExchangeStatus) error {
	if ex == nil {
		return pkgerrors.ErrNilExchange
	}
	stored, ok := r.s.state.exchanges[ex.ID]
	if !ok {
		return pkgerrors.ErrExchangeNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("%w: exchange %d is no longer %s", pkgerrors.ErrConflict, ex.ID, from)
	}
	stored.Status = ex.Status
	stored.PointsUsed = ex.PointsUsed
	stored.UpdatedAt = r.s.now()
	r.s.state.exchanges[ex.ID] = stored
	ex.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *exchangeRepository) ListByUser(_ context.Context, userID int64) ([]models.Exchange, error) {
	out := make([]models.Exchange, 0)
	for _, ex := range r.s.state.exchanges {
		if ex.RequesterID == userID || ex.OwnerID == userID {
			out = append(out, cloneExchange(ex))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *exchangeRepository) CountActiveByItem(_ context.Context, itemID int64) (int, error) {
	n := 0
	for _, ex := range r.s.state.exchanges {
		if ex.Active() && ex.References(itemID) {
			n++
		}
	}
	return n, nil
}
