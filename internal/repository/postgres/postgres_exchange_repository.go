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
	"go.opentelemetry.io/otel/attribute"
)

const exchangeTracer = "exchange-repository"

var exchangeColumns = []string{
	"id", "requester_id", "requested_item_id", "offered_item_id", "owner_id",
	"kind", "status", "points_used", "created_at", "updated_at",
}

const exchangeSelect = `SELECT id, requester_id, requested_item_id, offered_item_id, owner_id, kind, status, points_used, created_at, updated_at FROM exchanges`

type PostgresExchangeRepository struct {
	q querier
}

func NewPostgresExchangeRepository(q querier) *PostgresExchangeRepository {
	return &PostgresExchangeRepository{q: q}
}

func scanExchange(row rowScanner) (*models.Exchange, error) {
	var ex models.Exchange
	var offered sql.NullInt64
	err := row.Scan(
		&ex.ID,
		&ex.RequesterID,
		&ex.RequestedItemID,
		&offered,
		&ex.OwnerID,
		&ex.Kind,
		&ex.Status,
		&ex.PointsUsed,
		&ex.CreatedAt,
		&ex.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if offered.Valid {
		id := offered.Int64
		ex.OfferedItemID = &id
	}
	return &ex, nil
}

func (r *PostgresExchangeRepository) Create(ctx context.Context, ex *models.Exchange) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, exchangeTracer, "CreateExchange")
	defer done(&err)

	if ex == nil {
		err = pkgerrors.ErrNilExchange
		slog.Error("failed to create exchange", "method", "Create", "error", err)
		return err
	}
	if ex.Kind != models.KindSwap && ex.Kind != models.KindRedemption {
		err = fmt.Errorf("%w: unknown exchange kind %q", pkgerrors.ErrInvalidInput, ex.Kind)
		slog.Error("invalid exchange kind", "method", "Create", "kind", ex.Kind, "error", err)
		return err
	}
	if (ex.Kind == models.KindSwap) != (ex.OfferedItemID != nil) {
		err = fmt.Errorf("%w: offered item must be set for swaps and only for swaps", pkgerrors.ErrInvalidInput)
		slog.Error("invalid exchange shape", "method", "Create", "kind", ex.Kind, "error", err)
		return err
	}
	if !ex.Status.Valid() {
		err = pkgerrors.ErrInvalidStatus
		slog.Error("invalid exchange status", "method", "Create", "status", ex.Status, "error", err)
		return err
	}
	if ex.PointsUsed < 0 {
		err = pkgerrors.ErrNegativeAmount
		return err
	}

	span.SetAttributes(
		attribute.Int64("requester_id", ex.RequesterID),
		attribute.Int64("requested_item_id", ex.RequestedItemID),
		attribute.Int64("owner_id", ex.OwnerID),
		attribute.String("kind", string(ex.Kind)),
		attribute.String("status", string(ex.Status)),
	)

	query := `INSERT INTO exchanges (requester_id, requested_item_id, offered_item_id, owner_id, kind, status, points_used) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`
	err = r.q.QueryRowContext(ctx, query,
		ex.RequesterID,
		ex.RequestedItemID,
		ex.OfferedItemID,
		ex.OwnerID,
		string(ex.Kind),
		string(ex.Status),
		ex.PointsUsed,
	).Scan(&ex.ID, &ex.CreatedAt, &ex.UpdatedAt)
	if err != nil {
		slog.Error("failed to create exchange", "method", "Create", "requester_id", ex.RequesterID, "requested_item_id", ex.RequestedItemID, "error", err)
		err = classify(fmt.Errorf("failed to create exchange: %w", err))
		return err
	}

	slog.Info("exchange created", "method", "Create", "exchange_id", ex.ID, "kind", ex.Kind, "status", ex.Status)
	return nil
}

func (r *PostgresExchangeRepository) GetByID(ctx context.Context, id int64) (*models.Exchange, error) {
	return r.get(ctx, "GetExchangeByID", exchangeSelect+` WHERE id = $1`, id)
}

func (r *PostgresExchangeRepository) GetForUpdate(ctx context.Context, id int64) (*models.Exchange, error) {
	return r.get(ctx, "GetExchangeForUpdate", exchangeSelect+` WHERE id = $1 FOR UPDATE NOWAIT`, id)
}

func (r *PostgresExchangeRepository) get(ctx context.Context, method, query string, id int64) (ex *models.Exchange, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, exchangeTracer, method)
	defer done(&err)
	span.SetAttributes(attribute.Int64("exchange_id", id))

	ex, err = scanExchange(r.q.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrExchangeNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get exchange", "method", method, "exchange_id", id, "error", err)
		err = classify(fmt.Errorf("failed to get exchange: %w", err))
		return nil, err
	}
	return ex, nil
}

func (r *PostgresExchangeRepository) UpdateStatus(ctx context.Context, ex *models.Exchange, from models.ExchangeStatus) (err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, exchangeTracer, "UpdateExchangeStatus")
	defer done(&err)

	if ex == nil {
		err = pkgerrors.ErrNilExchange
		return err
	}
	span.SetAttributes(
		attribute.Int64("exchange_id", ex.ID),
		attribute.String("from", string(from)),
		attribute.String("to", string(ex.Status)),
	)

	query := `UPDATE exchanges SET status = $1, points_used = $2, updated_at = NOW() WHERE id = $3 AND status = $4 RETURNING updated_at`
	err = r.q.QueryRowContext(ctx, query, string(ex.Status), ex.PointsUsed, ex.ID, string(from)).Scan(&ex.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: exchange %d is no longer %s", pkgerrors.ErrConflict, ex.ID, from)
		slog.Warn("exchange status changed concurrently", "method", "UpdateStatus", "exchange_id", ex.ID, "expected", from)
		return err
	}
	if err != nil {
		slog.Error("failed to update exchange status", "method", "UpdateStatus", "exchange_id", ex.ID, "error", err)
		err = classify(fmt.Errorf("failed to update exchange status: %w", err))
		return err
	}

	slog.Info("exchange status updated", "method", "UpdateStatus", "exchange_id", ex.ID, "from", from, "to", ex.Status)
	return nil
}

// ListByUser returns every exchange the user requested or owns, newest first.
func (r *PostgresExchangeRepository) ListByUser(ctx context.Context, userID int64) (exchanges []models.Exchange, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, exchangeTracer, "ListExchangesByUser")
	defer done(&err)
	span.SetAttributes(attribute.Int64("user_id", userID))

	query, args, err := psql.Select(exchangeColumns...).
		From("exchanges").
		Where(sq.Or{sq.Eq{"requester_id": userID}, sq.Eq{"owner_id": userID}}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list exchanges", "method", "ListByUser", "user_id", userID, "error", err)
		err = classify(fmt.Errorf("failed to list exchanges: %w", err))
		return nil, err
	}
	defer rows.Close()

	exchanges = make([]models.Exchange, 0)
	for rows.Next() {
		ex, scanErr := scanExchange(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan exchange: %w", scanErr)
			return nil, err
		}
		exchanges = append(exchanges, *ex)
	}
	if err = rows.Err(); err != nil {
		err = classify(fmt.Errorf("failed to iterate exchanges: %w", err))
		return nil, err
	}

	slog.Info("exchange history retrieved", "method", "ListByUser", "user_id", userID, "count", len(exchanges))
	return exchanges, nil
}

func (r *PostgresExchangeRepository) CountActiveByItem(ctx context.Context, itemID int64) (count int, err error) {
	ctx, span, done := observability.TrackRepositoryCall(ctx, exchangeTracer, "CountActiveExchangesByItem")
	defer done(&err)
	span.SetAttributes(attribute.Int64("item_id", itemID))

	query := `SELECT COUNT(*) FROM exchanges WHERE (requested_item_id = $1 OR offered_item_id = $1) AND status IN ('pending', 'approved')`
	err = r.q.QueryRowContext(ctx, query, itemID).Scan(&count)
	if err != nil {
		slog.Error("failed to count active exchanges", "method", "CountActiveByItem", "item_id", itemID, "error", err)
		err = classify(fmt.Errorf("failed to count active exchanges: %w", err))
		return 0, err
	}
	return count, nil
}
