package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/ReWearExchange/internal/infrastructure/observability"
	"github.com/honeynil/ReWearExchange/internal/repository"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const DefaultTxTimeout = 5 * time.Second

type postgresTx struct {
	items     *PostgresItemRepository
	ledger    *PostgresLedgerRepository
	exchanges *PostgresExchangeRepository
}

func (t *postgresTx) Items() repository.ItemRepository         { return t.items }
func (t *postgresTx) Ledger() repository.LedgerRepository      { return t.ledger }
func (t *postgresTx) Exchanges() repository.ExchangeRepository { return t.exchanges }

// PostgresUnitOfWork runs units of work in SERIALIZABLE transactions bounded by timeout.
type PostgresUnitOfWork struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresUnitOfWork(db *sql.DB, timeout time.Duration) *PostgresUnitOfWork {
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	return &PostgresUnitOfWork{db: db, timeout: timeout}
}

func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return u.run(ctx, "UnitOfWork", &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (u *PostgresUnitOfWork) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return u.run(ctx, "ReadOnlyUnitOfWork", &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}, fn)
}

func (u *PostgresUnitOfWork) run(ctx context.Context, name string, opts *sql.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	ctx, span := otel.Tracer("unit-of-work").Start(ctx, name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	dbTx, err := u.db.BeginTx(ctx, opts)
	if err != nil {
		slog.Error("failed to begin transaction", "method", name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		observability.UnitOfWorkOutcomes.WithLabelValues("transient").Inc()
		return fmt.Errorf("%w: failed to begin transaction", pkgerrors.ErrTransient)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := dbTx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("rollback failed", "method", name, "error", rbErr)
		}
		if p := recover(); p != nil {
			observability.UnitOfWorkOutcomes.WithLabelValues("aborted").Inc()
			panic(p)
		}
	}()

	tx := &postgresTx{
		items:     NewPostgresItemRepository(dbTx),
		ledger:    NewPostgresLedgerRepository(dbTx),
		exchanges: NewPostgresExchangeRepository(dbTx),
	}

	if err = fn(ctx, tx); err != nil {
		err = classify(err)
		if ctxErr := ctx.Err(); ctxErr != nil && !pkgerrors.IsTransient(err) {
			slog.Warn("unit of work interrupted", "method", name, "context", ctxErr, "error", err)
			err = fmt.Errorf("%w: unit of work timed out", pkgerrors.ErrTransient)
		}
		outcome := "aborted"
		if pkgerrors.IsTransient(err) {
			outcome = "transient"
		}
		observability.UnitOfWorkOutcomes.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "aborted")
		return err
	}

	if err = dbTx.Commit(); err != nil {
		// the transaction is finished either way; the deferred rollback is a no-op
		slog.Error("failed to commit transaction", "method", name, "error", err)
		observability.UnitOfWorkOutcomes.WithLabelValues("transient").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("%w: failed to commit transaction", pkgerrors.ErrTransient)
	}
	committed = true
	observability.UnitOfWorkOutcomes.WithLabelValues("committed").Inc()
	return nil
}
