package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"github.com/lib/pq"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type rowScanner interface {
	Scan(dest ...any) error
}

// classify maps Postgres failures onto error kinds. Errors that already carry a
// kind, and errors it does not recognise, are returned unchanged. Kinded results
// never carry driver text: callers surface them to clients, so the detail is logged here.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, pkgerrors.ErrInternal) || pkgerrors.Kind(err) != pkgerrors.ErrInternal {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, sql.ErrConnDone) {
		slog.Warn("database unavailable", "error", err)
		return fmt.Errorf("%w: database unavailable", pkgerrors.ErrTransient)
	}
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return err
	}
	var kinded error
	switch pqErr.Code {
	case "40001", "40P01":
		kinded = fmt.Errorf("%w: concurrent update, sqlstate %s", pkgerrors.ErrTransient, pqErr.Code)
	case "55P03":
		kinded = fmt.Errorf("%w: row is locked by a concurrent request", pkgerrors.ErrConflict)
	case "23503":
		kinded = fmt.Errorf("%w: referenced row does not exist", pkgerrors.ErrNotFound)
	case "23505":
		kinded = fmt.Errorf("%w: duplicate record", pkgerrors.ErrConflict)
	case "23514":
		kinded = fmt.Errorf("%w: value violates a constraint", pkgerrors.ErrInvalidInput)
	default:
		return err
	}
	slog.Warn("database error classified", "sqlstate", string(pqErr.Code), "kind", pkgerrors.Kind(kinded), "error", err)
	return kinded
}
