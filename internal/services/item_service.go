package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/honeynil/ReWearExchange/internal/repository"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ItemService is the listing and moderation surface around the item registry.
// It never changes item status or ownership; that belongs to the exchange coordinator.
type ItemService interface {
	Create(ctx context.Context, actor models.Actor, item *models.Item) (*models.Item, error)
	Get(ctx context.Context, actor models.Actor, id int64) (*models.Item, error)
	List(ctx context.Context, actor models.Actor, filter models.ItemFilter) ([]models.Item, error)
	UpdateDetails(ctx context.Context, actor models.Actor, id int64, details models.ItemDetails) (*models.Item, error)
	SetApproved(ctx context.Context, actor models.Actor, id int64, approved bool) (*models.Item, error)
	Delete(ctx context.Context, actor models.Actor, id int64) error
}

type itemService struct {
	uow  repository.UnitOfWork
	opts Options
}

func NewItemService(uow repository.UnitOfWork, opts Options) *itemService {
	return &itemService{uow: uow, opts: opts.withDefaults()}
}

func validateItem(item *models.Item) error {
	required := map[string]string{
		"title":       item.Title,
		"description": item.Description,
		"category":    item.Category,
		"type":        item.Type,
		"size":        item.Size,
		"condition":   item.Condition,
	}
	for _, field := range []string{"title", "description", "category", "type", "size", "condition"} {
		if strings.TrimSpace(required[field]) == "" {
			return fmt.Errorf("%w: %s is required", pkgerrors.ErrInvalidInput, field)
		}
	}
	if !models.ValidCondition(item.Condition) {
		return fmt.Errorf("%w: unknown condition %q", pkgerrors.ErrInvalidInput, item.Condition)
	}
	if len(item.ImageURLs) == 0 {
		return fmt.Errorf("%w: an item must have at least one image", pkgerrors.ErrInvalidInput)
	}
	if item.PointsValue < 0 {
		return pkgerrors.ErrNegativeAmount
	}
	return nil
}

func (s *itemService) Create(ctx context.Context, actor models.Actor, item *models.Item) (*models.Item, error) {
	ctx, span := otel.Tracer("item-service").Start(ctx, "CreateItem")
	defer span.End()

	if item == nil {
		return nil, fail(span, "CreateItem", pkgerrors.ErrNilItem)
	}
	item.Title = strings.TrimSpace(item.Title)
	if err := validateItem(item); err != nil {
		return nil, fail(span, "CreateItem", err, "owner_id", actor.ID)
	}
	item.OwnerID = actor.ID
	item.Status = models.ItemAvailable
	item.Approved = false
	if item.Tags == nil {
		item.Tags = []string{}
	}

	err := withRetry(ctx, s.opts, "CreateItem", func() error {
		return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			if _, err := tx.Ledger().Get(ctx, actor.ID); err != nil {
				return err
			}
			return tx.Items().Create(ctx, item)
		})
	})
	if err != nil {
		return nil, fail(span, "CreateItem", err, "owner_id", actor.ID)
	}

	span.SetAttributes(attribute.Int64("item_id", item.ID))
	slog.Info("item listed", "method", "CreateItem", "item_id", item.ID, "owner_id", item.OwnerID)
	return item, nil
}

func (s *itemService) Get(ctx context.Context, actor models.Actor, id int64) (*models.Item, error) {
	ctx, span := otel.Tracer("item-service").Start(ctx, "GetItem")
	defer span.End()
	span.SetAttributes(attribute.Int64("item_id", id))

	var item *models.Item
	err := withRetry(ctx, s.opts, "GetItem", func() error {
		return s.uow.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			item, err = tx.Items().GetByID(ctx, id)
			return err
		})
	})
	if err != nil {
		return nil, fail(span, "GetItem", err, "item_id", id)
	}
	if !item.Approved && item.OwnerID != actor.ID && !actor.IsAdmin() {
		return nil, fail(span, "GetItem", fmt.Errorf("%w: item not approved", pkgerrors.ErrForbidden), "item_id", id)
	}
	return item, nil
}

// List defaults to approved items. Only admins may list unapproved ones, except
// that owners may always list their own listings.
func (s *itemService) List(ctx context.Context, actor models.Actor, filter models.ItemFilter) ([]models.Item, error) {
	ctx, span := otel.Tracer("item-service").Start(ctx, "ListItems")
	defer span.End()

	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fail(span, "ListItems", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidStatus, *filter.Status))
	}
	ownListing := filter.OwnerID != nil && *filter.OwnerID == actor.ID
	if filter.Approved == nil && !ownListing {
		approved := true
		filter.Approved = &approved
	}
	if filter.Approved != nil && !*filter.Approved && !actor.IsAdmin() && !ownListing {
		approved := true
		filter.Approved = &approved
	}

	var items []models.Item
	err := withRetry(ctx, s.opts, "ListItems", func() error {
		return s.uow.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			items, err = tx.Items().List(ctx, filter)
			return err
		})
	})
	if err != nil {
		return nil, fail(span, "ListItems", err)
	}
	return items, nil
}

func (s *itemService) UpdateDetails(ctx context.Context, actor models.Actor, id int64, details models.ItemDetails) (*models.Item, error) {
	ctx, span := otel.Tracer("item-service").Start(ctx, "UpdateItem")
	defer span.End()
	span.SetAttributes(attribute.Int64("item_id", id))

	if details.Condition != nil && !models.ValidCondition(*details.Condition) {
		return nil, fail(span, "UpdateItem", fmt.Errorf("%w: unknown condition %q", pkgerrors.ErrInvalidInput, *details.Condition))
	}
	if details.ImageURLs != nil && len(details.ImageURLs) == 0 {
		return nil, fail(span, "UpdateItem", fmt.Errorf("%w: an item must have at least one image", pkgerrors.ErrInvalidInput))
	}
	if details.PointsValue != nil && *details.PointsValue < 0 {
		return nil, fail(span, "UpdateItem", pkgerrors.ErrNegativeAmount)
	}

	var updated *models.Item
	err := withRetry(ctx, s.opts, "UpdateItem", func() error {
		return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			item, err := tx.Items().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if item.OwnerID != actor.ID && !actor.IsAdmin() {
				return fmt.Errorf("%w: not authorized to update this item", pkgerrors.ErrForbidden)
			}
			if item.Status != models.ItemAvailable {
				return fmt.Errorf("%w: item %d is %s", pkgerrors.ErrItemNotAvailable, item.ID, item.Status)
			}
			updated, err = tx.Items().UpdateDetails(ctx, id, details)
			return err
		})
	})
	if err != nil {
		return nil, fail(span, "UpdateItem", err, "item_id", id, "actor_id", actor.ID)
	}

	slog.Info("item updated", "method", "UpdateItem", "item_id", id, "actor_id", actor.ID)
	return updated, nil
}

func (s *itemService) SetApproved(ctx context.Context, actor models.Actor, id int64, approved bool) (*models.Item, error) {
	ctx, span := otel.Tracer("item-service").Start(ctx, "SetItemApproved")
	defer span.End()
	span.SetAttributes(attribute.Int64("item_id", id), attribute.Bool("approved", approved))

	if !actor.IsAdmin() {
		return nil, fail(span, "SetItemApproved", pkgerrors.ErrNotAuthorized, "actor_id", actor.ID)
	}

	var item *models.Item
	err := withRetry(ctx, s.opts, "SetItemApproved", func() error {
		return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			item, err = tx.Items().SetApproved(ctx, id, approved)
			return err
		})
	})
	if err != nil {
		return nil, fail(span, "SetItemApproved", err, "item_id", id)
	}

	slog.Info("item approval changed", "method", "SetItemApproved", "item_id", id, "approved", approved, "admin_id", actor.ID)
	return item, nil
}

// Delete removes a listing that no active exchange references.
func (s *itemService) Delete(ctx context.Context, actor models.Actor, id int64) error {
	ctx, span := otel.Tracer("item-service").Start(ctx, "DeleteItem")
	defer span.End()
	span.SetAttributes(attribute.Int64("item_id", id))

	err := withRetry(ctx, s.opts, "DeleteItem", func() error {
		return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			item, err := tx.Items().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if item.OwnerID != actor.ID && !actor.IsAdmin() {
				return fmt.Errorf("%w: not authorized to delete this item", pkgerrors.ErrForbidden)
			}
			active, err := tx.Exchanges().CountActiveByItem(ctx, id)
			if err != nil {
				return err
			}
			if active > 0 {
				return pkgerrors.ErrItemInActiveExchange
			}
			return tx.Items().Delete(ctx, id)
		})
	})
	if err != nil {
		return fail(span, "DeleteItem", err, "item_id", id, "actor_id", actor.ID)
	}

	slog.Info("item deleted", "method", "DeleteItem", "item_id", id, "actor_id", actor.ID)
	return nil
}
