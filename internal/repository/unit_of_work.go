package repository

import (
	"context"
)

// Tx exposes the repositories bound to one open transaction.
type Tx interface {
	Items() ItemRepository
	Ledger() LedgerRepository
	Exchanges() ExchangeRepository
}

// UnitOfWork runs fn inside a transaction. The transaction commits only when fn
// returns nil; any error, panic or timeout rolls back every write made through tx.
// Serialization failures and timeouts are reported as pkg/errors.ErrTransient.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
