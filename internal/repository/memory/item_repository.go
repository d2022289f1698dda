package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/honeynil/ReWearExchange/internal/models"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
)

type itemRepository struct {
	s *Store
}

func copyItem(it models.Item) *models.Item {
	it.Tags = slices.Clone(it.Tags)
	it.ImageURLs = slices.Clone(it.ImageURLs)
	return &it
}

func (r *itemRepository) Create(_ context.Context, item *models.Item) error {
	if item == nil {
		return pkgerrors.ErrNilItem
	}
	if item.PointsValue < 0 {
		return pkgerrors.ErrNegativeAmount
	}
	if !item.Status.Valid() {
		return pkgerrors.ErrInvalidStatus
	}
	if _, ok := r.s.state.accounts[item.OwnerID]; !ok {
		return fmt.Errorf("%w: owner account missing", pkgerrors.ErrUserNotFound)
	}
	r.s.state.itemSeq++
	now := r.s.now()
	item.ID = r.s.state.itemSeq
	item.CreatedAt = now
	item.UpdatedAt = now
	r.s.state.items[item.ID] = *copyItem(*item)
	return nil
}

func (r *itemRepository) GetByID(_ context.Context, id int64) (*models.Item, error) {
	it, ok := r.s.state.items[id]
	if !ok {
		return nil, pkgerrors.ErrItemNotFound
	}
	return copyItem(it), nil
}

func (r *itemRepository) GetForUpdate(ctx context.Context, id int64) (*models.Item, error) {
	return r.GetByID(ctx, id)
}

func (r *itemRepository) List(_ context.Context, f models.ItemFilter) ([]models.Item, error) {
	items := make([]models.Item, 0)
	for _, it := range r.s.state.items {
		if f.Category != nil && it.Category != *f.Category {
			continue
		}
		if f.Size != nil && it.Size != *f.Size {
			continue
		}
		if f.Status != nil && it.Status != *f.Status {
			continue
		}
		if f.Approved != nil && it.Approved != *f.Approved {
			continue
		}
		if f.OwnerID != nil && it.OwnerID != *f.OwnerID {
			continue
		}
		items = append(items, *copyItem(it))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (r *itemRepository) UpdateDetails(_ context.Context, id int64, d models.ItemDetails) (*models.Item, error) {
	it, ok := r.s.state.items[id]
	if !ok {
		return nil, pkgerrors.ErrItemNotFound
	}
	if d.PointsValue != nil && *d.PointsValue < 0 {
		return nil, pkgerrors.ErrNegativeAmount
	}
	if d.Title != nil {
		it.Title = *d.Title
	}
	if d.Description != nil {
		it.Description = *d.Description
	}
	if d.Category != nil {
		it.Category = *d.Category
	}
	if d.Type != nil {
		it.Type = *d.Type
	}
	if d.Size != nil {
		it.Size = *d.Size
	}
	if d.Condition != nil {
		it.Condition = *d.Condition
	}
	if d.Tags != nil {
		it.Tags = slices.Clone(d.Tags)
	}
	if d.ImageURLs != nil {
		it.ImageURLs = slices.Clone(d.ImageURLs)
	}
	if d.PointsValue != nil {
		it.PointsValue = *d.PointsValue
	}
	it.UpdatedAt = r.s.now()
	r.s.state.items[id] = it
	return copyItem(it), nil
}

func (r *itemRepository) SetApproved(_ context.Context, id int64, approved bool) (*models.Item, error) {
	it, ok := r.s.state.items[id]
	if !ok {
		return nil, pkgerrors.ErrItemNotFound
	}
	it.Approved = approved
	it.UpdatedAt = r.s.now()
	r.s.state.items[id] = it
	return copyItem(it), nil
}

func (r *itemRepository) Delete(_ context.Context, id int64) error {
	if _, ok := r.s.state.items[id]; !ok {
		return pkgerrors.ErrItemNotFound
	}
	delete(r.s.state.items, id)
	return nil
}

func (r *itemRepository) Reserve(_ context.Context, id int64) error {
	return r.apply(id, models.ItemReserve, nil, pkgerrors.ErrItemReserved)
}

func (r *itemRepository) Release(_ context.Context, id int64) error {
	return r.apply(id, models.ItemRelease, nil, pkgerrors.ErrIllegalTransition)
}

func (r *itemRepository) Finalize(_ context.Context, id int64, status models.ItemStatus, newOwner *int64) error {
	event, ok := models.FinalizeEvent(status)
	if !ok {
		return fmt.Errorf("%w: %s is not a terminal item status", pkgerrors.ErrInvalidStatus, status)
	}
	return r.apply(id, event, newOwner, pkgerrors.ErrIllegalTransition)
}

func (r *itemRepository) apply(id int64, event models.ItemEvent, newOwner *int64, miss error) error {
	it, ok := r.s.state.items[id]
	if !ok {
		return pkgerrors.ErrItemNotFound
	}
	next, ok := models.NextItemStatus(it.Status, event)
	if !ok {
		return fmt.Errorf("%w: item %d is %s, cannot %s", miss, id, it.Status, event)
	}
	it.Status = next
	if newOwner != nil {
		it.OwnerID = *newOwner
	}
	it.UpdatedAt = r.s.now()
	r.s.state.items[id] = it
	return nil
}
