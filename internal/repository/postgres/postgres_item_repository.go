package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/observability"
	"github.com/honeynil/ReWearExchange/internal/models"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const itemTracer = "item-repository"

var itemColumns = []string{
	"id", "owner_id", "title", "description", "category", "type", "size", "condition",
	"tags", "image_urls", "points_value", "approved", "status", "created_at", "updated_at",
}

const itemSelect = `SELECT id, owner_id, title, description, category, type, size, condition, tags, image_urls, points_value, approved, status, created_at, updated_at FROM items`

type PostgresItemRepository struct {
	q querier
}

func NewPostgresItemRepository(q querier) *PostgresItemRepository {
	return &PostgresItemRepository{q: q}
}

func scanItem(row rowScanner) (*models.Item, error) {
	var it models.Item
	err := row.Scan(
		&it.ID,
		&it.OwnerID,
		&it.Title,
		&it.Description,
		&it.Category,
		&it.Type,
		&it.Size,
		&it.Condition,
		pq.Array(&it.Tags),
		pq.Array(&it.ImageURLs),
		&it.PointsValue,
		&it.Approved,
		&it.Status,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *PostgresItemRepository) Create(ctx context.Context, item *models.Item) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, itemTracer, "CreateItem")
	defer done(&err)

	if item == nil {
		err = pkgerrors.ErrNilItem
		slog.Error("failed to create item", "method", "Create", "error", err)
		return err
	}
	if item.PointsValue < 0 {
		err = pkgerrors.ErrNegativeAmount
		slog.Error("invalid points value", "method", "Create", "points_value", item.PointsValue, "error", err)
		return err
	}
	if !item.Status.Valid() {
		err = pkgerrors.ErrInvalidStatus
		slog.Error("invalid item status", "method", "Create", "status", item.Status, "error", err)
		return err
	}
	span.SetAttributes(attribute.Int64("owner_id", item.OwnerID))

	query := `INSERT INTO items (owner_id, title, description, category, type, size, condition, tags, image_urls, points_value, approved, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id, created_at, updated_at`
	err = r.q.QueryRowContext(ctx, query,
		item.OwnerID,
		item.Title,
		item.Description,
		item.Category,
		item.Type,
		item.Size,
		item.Condition,
		pq.Array(item.Tags),
		pq.Array(item.ImageURLs),
		item.PointsValue,
		item.Approved,
		item.Status,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		slog.Error("failed to create item", "method", "Create", "owner_id", item.OwnerID, "error", err)
		err = classify(fmt.Errorf("failed to create item: %w", err))
		return err
	}

	slog.Info("item created", "method", "Create", "item_id", item.ID, "owner_id", item.OwnerID)
	return nil
}

func (r *PostgresItemRepository) GetByID(ctx context.Context, id int64) (*models.Item, error) {
	return r.get(ctx, "GetItemByID", itemSelect+` WHERE id = $1`, id)
}

// GetForUpdate locks the item row until the enclosing transaction ends.
func (r *PostgresItemRepository) GetForUpdate(ctx context.Context, id int64) (*models.Item, error) {
	return r.get(ctx, "GetItemForUpdate", itemSelect+` WHERE id = $1 FOR UPDATE NOWAIT`, id)
}

func (r *PostgresItemRepository) get(ctx context.Context, method, query string, id int64) (item *models.Item, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, itemTracer, method)
	defer done(&err)
	span.SetAttributes(attribute.Int64("item_id", id))

	item, err = scanItem(r.q.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrItemNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get item", "method", method, "item_id", id, "error", err)
		err = classify(fmt.Errorf("failed to get item: %w", err))
		return nil, err
	}
	return item, nil
}

func (r *PostgresItemRepository) List(ctx context.Context, filter models.ItemFilter) (items []models.Item, err error) {
	ctx, _, done := observability.TrackRepositoryCall(ctx, itemTracer, "ListItems")
	defer done(&err)

	qb := psql.Select(itemColumns...).From("items")
	if filter.Category != nil {
		qb = qb.Where(sq.Eq{"category": *filter.Category})
	}
	if filter.Size != nil {
		qb = qb.Where(sq.Eq{"size": *filter.Size})
	}
	if filter.Status != nil {
		qb = qb.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.Approved != nil {
		qb = qb.Where(sq.Eq{"approved": *filter.Approved})
	}
	if filter.OwnerID != nil {
		qb = qb.Where(sq.Eq{"owner_id": *filter.OwnerID})
	}
	query, args, err := qb.OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		slog.Error("failed to build item query", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list items", "method", "List", "query", query, "error", err)
		err = classify(fmt.Errorf("failed to list items: %w", err))
		return nil, err
	}
	defer rows.Close()

	items = make([]models.Item, 0)
	for rows.Next() {
		it, scanErr := scanItem(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan item: %w", scanErr)
			return nil, err
		}
		items = append(items, *it)
	}
	if err = rows.Err(); err != nil {
		err = classify(fmt.Errorf("failed to iterate items: %w", err))
		return nil, err
	}
	return items, nil
}

func (r *PostgresItemRepository) UpdateDetails(ctx context.Context, id int64, d models.ItemDetails) (item *models.Item, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, itemTracer, "UpdateItemDetails")
	defer done(&err)
	span.SetAttributes(attribute.Int64("item_id", id))

	if d.PointsValue != nil && *d.PointsValue < 0 {
		err = pkgerrors.ErrNegativeAmount
		return nil, err
	}

	ub := psql.Update("items")
	changed := false
	set := func(col string, v any) {
		ub = ub.Set(col, v)
		changed = true
	}
	if d.Title != nil {
		set("title", *d.Title)
	}
	if d.Description != nil {
		set("description", *d.Description)
	}
	if d.Category != nil {
		set("category", *d.Category)
	}
	if d.Type != nil {
		set("type", *d.Type)
	}
	if d.Size != nil {
		set("size", *d.Size)
	}
	if d.Condition != nil {
		set("condition", *d.Condition)
	}
	if d.Tags != nil {
		set("tags", pq.Array(d.Tags))
	}
	if d.ImageURLs != nil {
		set("image_urls", pq.Array(d.ImageURLs))
	}
	if d.PointsValue != nil {
		set("points_value", *d.PointsValue)
	}
	if !changed {
		return r.GetByID(ctx, id)
	}

	query, args, err := ub.Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING id, owner_id, title, description, category, type, size, condition, tags, image_urls, points_value, approved, status, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item update: %w", err)
	}

	item, err = scanItem(r.q.QueryRowContext(ctx, query, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrItemNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to update item", "method", "UpdateDetails", "item_id", id, "error", err)
		err = classify(fmt.Errorf("failed to update item: %w", err))
		return nil, err
	}

	slog.Info("item details updated", "method", "UpdateDetails", "item_id", id)
	return item, nil
}

func (r *PostgresItemRepository) SetApproved(ctx context.Context, id int64, approved bool) (item *models.Item, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, itemTracer, "SetItemApproved")
	defer done(&err)
	span.SetAttributes(attribute.Int64("item_id", id), attribute.Bool("approved", approved))

	query := `UPDATE items SET approved = $1, updated_at = NOW() WHERE id = $2 RETURNING id, owner_id, title, description, category, type, size, condition, tags, image_urls, points_value, approved, status, created_at, updated_at`
	item, err = scanItem(r.q.QueryRowContext(ctx, query, approved, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrItemNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to set item approval", "method", "SetApproved", "item_id", id, "error", err)
		err = classify(fmt.Errorf("failed to set item approval: %w", err))
		return nil, err
	}

	slog.Info("item approval changed", "method", "SetApproved", "item_id", id, "approved", approved)
	return item, nil
}

func (r *PostgresItemRepository) Delete(ctx context.Context, id int64) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, itemTracer, "DeleteItem")
	defer done(&err)
	span.SetAttributes(attribute.Int64("item_id", id))

	res, err := r.q.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		slog.Error("failed to delete item", "method", "Delete", "item_id", id, "error", err)
		err = classify(fmt.Errorf("failed to delete item: %w", err))
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		err = pkgerrors.ErrItemNotFound
		return err
	}

	slog.Info("item deleted", "method", "Delete", "item_id", id)
	return nil
}

// Reserve moves an available item to pending_swap. A concurrent reservation that
// committed first leaves no matching row, which surfaces as ErrItemReserved.
func (r *PostgresItemRepository) Reserve(ctx context.Context, id int64) error {
	return r.transition(ctx, "ReserveItem", id, models.ItemReserve, nil, pkgerrors.ErrItemReserved)
}

func (r *PostgresItemRepository) Release(ctx context.Context, id int64) error {
	return r.transition(ctx, "ReleaseItem", id, models.ItemRelease, nil, pkgerrors.ErrIllegalTransition)
}

func (r *PostgresItemRepository) Finalize(ctx context.Context, id int64, status models.ItemStatus, newOwner *int64) error {
	event, ok := models.FinalizeEvent(status)
	if !ok {
		slog.Error("invalid finalize status", "method", "Finalize", "item_id", id, "status", status)
		return fmt.Errorf("%w: %s is not a terminal item status", pkgerrors.ErrInvalidStatus, status)
	}
	return r.transition(ctx, "FinalizeItem", id, event, newOwner, pkgerrors.ErrIllegalTransition)
}

func (r *PostgresItemRepository) transition(ctx context.Context, method string, id int64, event models.ItemEvent, newOwner *int64, miss error) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, itemTracer, method)
	defer done(&err)
	span.SetAttributes(attribute.Int64("item_id", id), attribute.String("event", string(event)))

	from := models.SourceStatuses(event)
	sources := make([]string, 0, len(from))
	var target models.ItemStatus
	for _, s := range from {
		sources = append(sources, string(s))
		target, _ = models.NextItemStatus(s, event)
	}

	query := `UPDATE items SET status = $1, owner_id = COALESCE($2, owner_id), updated_at = NOW() WHERE id = $3 AND status = ANY($4) RETURNING id`
	var updated int64
	err = r.q.QueryRowContext(ctx, query, string(target), newOwner, id, pq.Array(sources)).Scan(&updated)
	if stderrors.Is(err, sql.ErrNoRows) {
		var current string
		err = r.q.QueryRowContext(ctx, `SELECT status FROM items WHERE id = $1`, id).Scan(&current)
		if stderrors.Is(err, sql.ErrNoRows) {
			err = pkgerrors.ErrItemNotFound
			return err
		}
		if err != nil {
			err = classify(fmt.Errorf("failed to read item status: %w", err))
			return err
		}
		err = fmt.Errorf("%w: item %d is %s, cannot %s", miss, id, current, event)
		slog.Warn("item transition rejected", "method", method, "item_id", id, "status", current, "event", event)
		return err
	}
	if err != nil {
		slog.Error("failed to transition item", "method", method, "item_id", id, "event", event, "error", err)
		err = classify(fmt.Errorf("failed to %s item: %w", event, err))
		return err
	}

	slog.Info("item transitioned", "method", method, "item_id", id, "status", target)
	return nil
}
