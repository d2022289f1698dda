package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/honeynil/ReWearExchange/internal/infrastructure/observability"
	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/honeynil/ReWearExchange/internal/repository"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
)

// Store keeps items, accounts and exchanges in process memory. A single slot
// semaphore admits one unit of work at a time, so every unit of work is
// serializable; rollback restores the snapshot taken when it started.
type Store struct {
	sem     chan struct{}
	timeout time.Duration
	now     func() time.Time

	state state
}

type state struct {
	items       map[int64]models.Item
	accounts    map[int64]models.Account
	exchanges   map[int64]models.Exchange
	itemSeq     int64
	exchangeSeq int64
}

// New creates an empty Store. A zero timeout uses five seconds.
func New(timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		sem:     make(chan struct{}, 1),
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		state: state{
			items:     make(map[int64]models.Item),
			accounts:  make(map[int64]models.Account),
			exchanges: make(map[int64]models.Exchange),
		},
	}
}

func (s state) clone() state {
	c := state{
		items:       make(map[int64]models.Item, len(s.items)),
		accounts:    make(map[int64]models.Account, len(s.accounts)),
		exchanges:   make(map[int64]models.Exchange, len(s.exchanges)),
		itemSeq:     s.itemSeq,
		exchangeSeq: s.exchangeSeq,
	}
	for k, v := range s.items {
		v.Tags = slices.Clone(v.Tags)
		v.ImageURLs = slices.Clone(v.ImageURLs)
		c.items[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.exchanges {
		c.exchanges[k] = cloneExchange(v)
	}
	return c
}

func cloneExchange(ex models.Exchange) models.Exchange {
	if ex.OfferedItemID != nil {
		id := *ex.OfferedItemID
		ex.OfferedItemID = &id
	}
	return ex
}

type memoryTx struct {
	store *Store
}

func (t *memoryTx) Items() repository.ItemRepository         { return &itemRepository{s: t.store} }
func (t *memoryTx) Ledger() repository.LedgerRepository      { return &ledgerRepository{s: t.store} }
func (t *memoryTx) Exchanges() repository.ExchangeRepository { return &exchangeRepository{s: t.store} }

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.run(ctx, "UnitOfWork", fn)
}

func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.run(ctx, "ReadOnlyUnitOfWork", fn)
}

func (s *Store) run(ctx context.Context, name string, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		observability.UnitOfWorkOutcomes.WithLabelValues("transient").Inc()
		slog.Warn("unit of work not started", "method", name, "error", ctx.Err())
		return fmt.Errorf("%w: waiting for unit of work", pkgerrors.ErrTransient)
	}
	defer func() { <-s.sem }()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = snapshot
		}
	}()

	if err = fn(ctx, &memoryTx{store: s}); err != nil {
		outcome := "aborted"
		if pkgerrors.IsTransient(err) {
			outcome = "transient"
		}
		observability.UnitOfWorkOutcomes.WithLabelValues(outcome).Inc()
		slog.Debug("unit of work aborted", "method", name, "error", err)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		observability.UnitOfWorkOutcomes.WithLabelValues("transient").Inc()
		slog.Warn("unit of work interrupted", "method", name, "error", ctxErr)
		return fmt.Errorf("%w: unit of work did not finish in time", pkgerrors.ErrTransient)
	}

	committed = true
	observability.UnitOfWorkOutcomes.WithLabelValues("committed").Inc()
	return nil
}
