package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	stderrors "errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/kafka"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/observability"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/redis"
	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/honeynil/ReWearExchange/internal/repository"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultOwnerSharePercent = 80
	DefaultMaxAttempts       = 3
	DefaultTopic             = "exchange-events"

	balanceTTL    = 5 * time.Minute
	requestTTL    = 24 * time.Hour
	publishWindow = 2 * time.Second
)

type ExchangeService interface {
	RequestSwap(ctx context.Context, requesterID, requestedItemID int64, offeredItemID *int64) (*models.Exchange, error)
	Redeem(ctx context.Context, userID, itemID int64, requestID string) (*models.Exchange, error)
	UpdateStatus(ctx context.Context, exchangeID int64, actor models.Actor, newStatus models.ExchangeStatus) (*models.Exchange, error)
	GetExchangeHistory(ctx context.Context, userID int64) ([]models.Exchange, error)
	GetExchange(ctx context.Context, exchangeID int64, actor models.Actor) (*models.Exchange, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
}

// Options tunes the exchange coordinator. Zero values select the defaults.
type Options struct {
	OwnerSharePercent    int64
	MaxAttempts          int
	RetryInitialInterval time.Duration
	Topic                string
}

func (o Options) withDefaults() Options {
	if o.OwnerSharePercent <= 0 || o.OwnerSharePercent > 100 {
		o.OwnerSharePercent = DefaultOwnerSharePercent
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 50 * time.Millisecond
	}
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	return o
}

type exchangeService struct {
	uow         repository.UnitOfWork
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	opts        Options
}

// NewExchangeService wires the coordinator. redisClient and producer may be nil,
// which disables caching, idempotency keys and event publishing.
func NewExchangeService(
	uow repository.UnitOfWork,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	opts Options,
) *exchangeService {
	return &exchangeService{
		uow:         uow,
		redisClient: redisClient,
		producer:    producer,
		opts:        opts.withDefaults(),
	}
}

// OwnerShare is the number of points credited to an item's owner when it is
// redeemed for points, rounded down.
func OwnerShare(points, percent int64) int64 {
	return decimal.NewFromInt(points).
		Mul(decimal.NewFromInt(percent)).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}

// ledgerMoves accumulates committed point movements for metrics.
type ledgerMoves struct {
	debited  int64
	credited int64
}

func (m *ledgerMoves) record() {
	if m.debited > 0 {
		observability.LedgerPoints.WithLabelValues("debit").Add(float64(m.debited))
	}
	if m.credited > 0 {
		observability.LedgerPoints.WithLabelValues("credit").Add(float64(m.credited))
	}
}

func (s *exchangeService) RequestSwap(ctx context.Context, requesterID, requestedItemID int64, offeredItemID *int64) (*models.Exchange, error) {
	ctx, span := otel.Tracer("exchange-service").Start(ctx, "RequestSwap")
	defer span.End()
	span.SetAttributes(attribute.Int64("requester_id", requesterID), attribute.Int64("requested_item_id", requestedItemID))

	var ex *models.Exchange
	err := withRetry(ctx, s.opts, "RequestSwap", func() error {
		return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			requested, err := tx.Items().GetForUpdate(ctx, requestedItemID)
			if err != nil {
				return err
			}
			if requested.Status != models.ItemAvailable {
				return fmt.Errorf("%w: requested item %d is %s", pkgerrors.ErrItemNotAvailable, requested.ID, requested.Status)
			}
			if requested.OwnerID == requesterID {
				return pkgerrors.ErrOwnItem
			}

			kind := models.KindRedemption
			if offeredItemID != nil {
				kind = models.KindSwap
				if *offeredItemID == requestedItemID {
					return pkgerrors.ErrSameItem
				}
				offered, err := tx.Items().GetForUpdate(ctx, *offeredItemID)
				if err != nil {
					return err
				}
				if offered.Status != models.ItemAvailable {
					return fmt.Errorf("%w: offered item %d is %s", pkgerrors.ErrItemNotAvailable, offered.ID, offered.Status)
				}
				if offered.OwnerID != requesterID {
					return pkgerrors.ErrNotItemOwner
				}
				if err := tx.Items().Reserve(ctx, offered.ID); err != nil {
					return err
				}
			}
			if err := tx.Items().Reserve(ctx, requested.ID); err != nil {
				return err
			}

			ex = &models.Exchange{
				RequesterID:     requesterID,
				RequestedItemID: requested.ID,
				OfferedItemID:   offeredItemID,
				OwnerID:         requested.OwnerID,
				Kind:            kind,
				Status:          models.ExchangePending,
			}
			return tx.Exchanges().Create(ctx, ex)
		})
	})
	if err != nil {
		return nil, fail(span, "RequestSwap", err, "requester_id", requesterID, "requested_item_id", requestedItemID)
	}

	observability.ExchangeTransitions.WithLabelValues(string(ex.Kind), string(ex.Status)).Inc()
	s.publish(ctx, models.EventExchangeRequested, ex, ex.RequesterID, ex.OwnerID)

	slog.Info("exchange requested",
		"method", "RequestSwap",
		"exchange_id", ex.ID,
		"kind", ex.Kind,
		"requester_id", requesterID,
		"requested_item_id", requestedItemID)
	return ex, nil
}

func (s *exchangeService) Redeem(ctx context.Context, userID, itemID int64, requestID string) (*models.Exchange, error) {
	ctx, span := otel.Tracer("exchange-service").Start(ctx, "Redeem")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("item_id", itemID))

	var requestKey string
	if requestID != "" && s.redisClient != nil {
		requestKey = redis.RequestKey(requestID)
		ok, err := s.redisClient.SetNX(ctx, requestKey, "pending", requestTTL)
		if err != nil {
			slog.Error("failed to set request key", "method", "Redeem", "request_id", requestID, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to set request key")
			return nil, fmt.Errorf("%w: idempotency store unavailable", pkgerrors.ErrTransient)
		}
		if !ok {
			slog.Warn("request already processed", "method", "Redeem", "request_id", requestID, "user_id", userID)
			span.SetStatus(codes.Error, "request already processed")
			return nil, pkgerrors.ErrRequestReplay
		}
	}

	var (
		ex    *models.Exchange
		moves ledgerMoves
	)
	err := withRetry(ctx, s.opts, "Redeem", func() error {
		moves = ledgerMoves{}
		return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			item, err := tx.Items().GetForUpdate(ctx, itemID)
			if err != nil {
				return err
			}
			account, err := tx.Ledger().GetForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if item.Status != models.ItemAvailable {
				return fmt.Errorf("%w: item %d is %s", pkgerrors.ErrItemNotAvailable, item.ID, item.Status)
			}
			if !item.Approved {
				return pkgerrors.ErrItemNotApproved
			}
			if item.OwnerID == userID {
				return pkgerrors.ErrOwnItem
			}
			if account.Balance < item.PointsValue {
				return fmt.Errorf("%w: balance %d, needed %d", pkgerrors.ErrInsufficientFunds, account.Balance, item.PointsValue)
			}

			if _, err := tx.Ledger().Debit(ctx, userID, item.PointsValue); err != nil {
				return err
			}
			moves.debited += item.PointsValue

			ex = &models.Exchange{
				RequesterID:     userID,
				RequestedItemID: item.ID,
				OwnerID:         item.OwnerID,
				Kind:            models.KindRedemption,
				Status:          models.ExchangeCompleted,
				PointsUsed:      item.PointsValue,
			}
			if err := tx.Exchanges().Create(ctx, ex); err != nil {
				return err
			}
			if err := tx.Items().Finalize(ctx, item.ID, models.ItemRedeemed, nil); err != nil {
				return err
			}
			credited, err := s.creditOwner(ctx, tx, item.OwnerID, item.PointsValue)
			if err != nil {
				return err
			}
			moves.credited += credited
			return nil
		})
	})
	if err != nil {
		if requestKey != "" {
			s.releaseRequestKey(ctx, requestKey, requestID)
		}
		return nil, fail(span, "Redeem", err, "user_id", userID, "item_id", itemID)
	}

	if requestKey != "" {
		if err := s.redisClient.Set(ctx, requestKey, "completed", requestTTL); err != nil {
			slog.Error("failed to mark request completed", "method", "Redeem", "request_id", requestID, "error", err)
		}
	}
	observability.ExchangeTransitions.WithLabelValues(string(ex.Kind), string(ex.Status)).Inc()
	moves.record()
	s.invalidateBalances(ctx, ex.RequesterID, ex.OwnerID)
	s.publish(ctx, models.EventItemRedeemed, ex, ex.RequesterID, ex.OwnerID)

	slog.Info("item redeemed",
		"method", "Redeem",
		"exchange_id", ex.ID,
		"user_id", userID,
		"item_id", itemID,
		"points_used", ex.PointsUsed)
	return ex, nil
}

// releaseRequestKey frees the idempotency key so the client can retry. It must
// outlive a cancelled request, otherwise the key stays pending for requestTTL.
func (s *exchangeService) releaseRequestKey(ctx context.Context, key, requestID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishWindow)
	defer cancel()
	if err := s.redisClient.Del(ctx, key); err != nil {
		slog.Error("failed to release request key", "method", "Redeem", "request_id", requestID, "error", err)
	}
}

// creditOwner pays the owner share of points. A missing owner account skips the credit.
func (s *exchangeService) creditOwner(ctx context.Context, tx repository.Tx, ownerID, points int64) (int64, error) {
	share := OwnerShare(points, s.opts.OwnerSharePercent)
	if share == 0 {
		return 0, nil
	}
	if _, err := tx.Ledger().Credit(ctx, ownerID, share); err != nil {
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			slog.Warn("owner account missing, share not credited", "owner_id", ownerID, "share", share)
			return 0, nil
		}
		return 0, err
	}
	return share, nil
}

func (s *exchangeService) UpdateStatus(ctx context.Context, exchangeID int64, actor models.Actor, newStatus models.ExchangeStatus) (*models.Exchange, error) {
	ctx, span := otel.Tracer("exchange-service").Start(ctx, "UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.Int64("exchange_id", exchangeID), attribute.String("status", string(newStatus)))

	if !newStatus.Valid() {
		return nil, fail(span, "UpdateStatus", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidStatus, newStatus), "exchange_id", exchangeID)
	}

	var (
		ex    *models.Exchange
		moves ledgerMoves
	)
	err := withRetry(ctx, s.opts, "UpdateStatus", func() error {
		moves = ledgerMoves{}
		return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			ex, err = tx.Exchanges().GetForUpdate(ctx, exchangeID)
			if err != nil {
				return err
			}
			if !actor.IsAdmin() && ex.OwnerID != actor.ID {
				return pkgerrors.ErrNotAuthorized
			}
			from := ex.Status
			if !models.CanTransition(from, newStatus) {
				return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrIllegalTransition, from, newStatus)
			}

			switch newStatus {
			case models.ExchangeCompleted:
				if err := s.complete(ctx, tx, ex, &moves); err != nil {
					return err
				}
			case models.ExchangeRejected, models.ExchangeCancelled:
				if err := tx.Items().Release(ctx, ex.RequestedItemID); err != nil {
					return err
				}
				if ex.OfferedItemID != nil {
					if err := tx.Items().Release(ctx, *ex.OfferedItemID); err != nil {
						return err
					}
				}
			}

			ex.Status = newStatus
			return tx.Exchanges().UpdateStatus(ctx, ex, from)
		})
	})
	if err != nil {
		return nil, fail(span, "UpdateStatus", err, "exchange_id", exchangeID, "actor_id", actor.ID, "status", newStatus)
	}

	observability.ExchangeTransitions.WithLabelValues(string(ex.Kind), string(ex.Status)).Inc()
	moves.record()
	if moves.debited > 0 || moves.credited > 0 {
		s.invalidateBalances(ctx, ex.RequesterID, ex.OwnerID)
	}
	s.publish(ctx, models.EventExchangeStatusChanged, ex, ex.RequesterID, ex.OwnerID)

	slog.Info("exchange status updated",
		"method", "UpdateStatus",
		"exchange_id", ex.ID,
		"kind", ex.Kind,
		"status", ex.Status,
		"actor_id", actor.ID)
	return ex, nil
}

// complete applies the item and ledger side effects of completing ex.
func (s *exchangeService) complete(ctx context.Context, tx repository.Tx, ex *models.Exchange, moves *ledgerMoves) error {
	if ex.Kind == models.KindSwap {
		requester, owner := ex.RequesterID, ex.OwnerID
		if err := tx.Items().Finalize(ctx, ex.RequestedItemID, models.ItemSwapped, &requester); err != nil {
			return err
		}
		return tx.Items().Finalize(ctx, *ex.OfferedItemID, models.ItemSwapped, &owner)
	}

	item, err := tx.Items().GetForUpdate(ctx, ex.RequestedItemID)
	if err != nil {
		return err
	}
	if _, err := tx.Ledger().Debit(ctx, ex.RequesterID, item.PointsValue); err != nil {
		return err
	}
	moves.debited += item.PointsValue
	if err := tx.Items().Finalize(ctx, item.ID, models.ItemRedeemed, nil); err != nil {
		return err
	}
	credited, err := s.creditOwner(ctx, tx, ex.OwnerID, item.PointsValue)
	if err != nil {
		return err
	}
	moves.credited += credited
	ex.PointsUsed = item.PointsValue
	return nil
}

func (s *exchangeService) GetExchangeHistory(ctx context.Context, userID int64) ([]models.Exchange, error) {
	ctx, span := otel.Tracer("exchange-service").Start(ctx, "GetExchangeHistory")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	var history []models.Exchange
	err := withRetry(ctx, s.opts, "GetExchangeHistory", func() error {
		return s.uow.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			history, err = tx.Exchanges().ListByUser(ctx, userID)
			return err
		})
	})
	if err != nil {
		return nil, fail(span, "GetExchangeHistory", err, "user_id", userID)
	}
	return history, nil
}

func (s *exchangeService) GetExchange(ctx context.Context, exchangeID int64, actor models.Actor) (*models.Exchange, error) {
	ctx, span := otel.Tracer("exchange-service").Start(ctx, "GetExchange")
	defer span.End()
	span.SetAttributes(attribute.Int64("exchange_id", exchangeID))

	var ex *models.Exchange
	err := withRetry(ctx, s.opts, "GetExchange", func() error {
		return s.uow.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			ex, err = tx.Exchanges().GetByID(ctx, exchangeID)
			return err
		})
	})
	if err != nil {
		return nil, fail(span, "GetExchange", err, "exchange_id", exchangeID)
	}
	if !actor.IsAdmin() && ex.RequesterID != actor.ID && ex.OwnerID != actor.ID {
		return nil, fail(span, "GetExchange", pkgerrors.ErrNotAuthorized, "exchange_id", exchangeID, "actor_id", actor.ID)
	}
	return ex, nil
}

func (s *exchangeService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	ctx, span := otel.Tracer("exchange-service").Start(ctx, "GetBalance")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	balanceKey := redis.BalanceKey(userID)
	if s.redisClient != nil {
		cached, err := s.redisClient.Get(ctx, balanceKey)
		if err == nil {
			if balance, convErr := strconv.ParseInt(cached, 10, 64); convErr == nil {
				return balance, nil
			}
			slog.Warn("corrupt cached balance", "user_id", userID, "value", cached)
		} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Error("failed to get balance from Redis", "user_id", userID, "error", err)
			span.RecordError(err)
		}
	}

	var balance int64
	err := withRetry(ctx, s.opts, "GetBalance", func() error {
		return s.uow.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
			account, err := tx.Ledger().Get(ctx, userID)
			if err != nil {
				return err
			}
			balance = account.Balance
			return nil
		})
	})
	if err != nil {
		return 0, fail(span, "GetBalance", err, "user_id", userID)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Set(ctx, balanceKey, balance, balanceTTL); err != nil {
			slog.Error("failed to cache balance", "user_id", userID, "error", err)
		}
	}
	return balance, nil
}

// withRetry reruns op while it fails with a transient error. An aborted unit of
// work leaves no trace, so rerunning it whole is safe.
func withRetry(ctx context.Context, opts Options, method string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.RetryInitialInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(opts.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !pkgerrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("transient failure", "method", method, "attempt", attempt, "error", err)
		return err
	}, b)
	if err != nil && pkgerrors.Kind(err) == pkgerrors.ErrInternal &&
		(stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		slog.Warn("operation interrupted", "method", method, "error", err)
		return fmt.Errorf("%w: %s interrupted", pkgerrors.ErrTransient, method)
	}
	return err
}

// fail records err on the span and hides causes that carry no error kind.
func fail(span trace.Span, method string, err error, attrs ...any) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if stderrors.Is(err, pkgerrors.ErrInternal) || pkgerrors.Kind(err) != pkgerrors.ErrInternal {
		slog.Warn("operation rejected", append([]any{"method", method, "error", err}, attrs...)...)
		return err
	}
	slog.Error("operation failed", append([]any{"method", method, "error", err}, attrs...)...)
	return fmt.Errorf("%w: %s failed", pkgerrors.ErrInternal, method)
}

func (s *exchangeService) invalidateBalances(ctx context.Context, userIDs ...int64) {
	if s.redisClient == nil {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, redis.BalanceKey(id))
	}
	if err := s.redisClient.Del(ctx, keys...); err != nil {
		slog.Error("failed to invalidate balances", "users", userIDs, "error", err)
	}
}

// publish emits an event for a committed exchange write. Failures are logged only:
// the write already happened and consumers treat events as cache hints.
func (s *exchangeService) publish(ctx context.Context, eventType models.EventType, ex *models.Exchange, users ...int64) {
	if s.producer == nil {
		return
	}
	event := models.ExchangeEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		Exchange:      *ex,
		AffectedUsers: users,
		OccurredAt:    time.Now().UTC(),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal kafka event", "exchange_id", ex.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishWindow)
	defer cancel()
	if err := s.producer.Send(ctx, s.opts.Topic, ex.ID, eventBytes); err != nil {
		slog.Error("failed to publish exchange event", "event_id", event.EventID, "type", eventType, "exchange_id", ex.ID, "error", err)
		return
	}
	slog.Info("exchange event sent", "event_id", event.EventID, "type", eventType, "exchange_id", ex.ID)
}
