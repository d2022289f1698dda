package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	kafkamocks "github.com/honeynil/ReWearExchange/internal/infrastructure/kafka/mocks"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/redis"
	redismocks "github.com/honeynil/ReWearExchange/internal/infrastructure/redis/mocks"
	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/honeynil/ReWearExchange/internal/repository"
	"github.com/honeynil/ReWearExchange/internal/repository/mocks"
	service "github.com/honeynil/ReWearExchange/internal/services"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type mockDeps struct {
	uow       *mocks.MockUnitOfWork
	tx        *mocks.MockTx
	items     *mocks.MockItemRepository
	ledger    *mocks.MockLedgerRepository
	exchanges *mocks.MockExchangeRepository
	redis     *redismocks.MockRedisClient
	producer  *kafkamocks.MockKafkaProducer
}

func newMockDeps(t *testing.T) *mockDeps {
	ctrl := gomock.NewController(t)
	d := &mockDeps{
		uow:       mocks.NewMockUnitOfWork(ctrl),
		tx:        mocks.NewMockTx(ctrl),
		items:     mocks.NewMockItemRepository(ctrl),
		ledger:    mocks.NewMockLedgerRepository(ctrl),
		exchanges: mocks.NewMockExchangeRepository(ctrl),
		redis:     redismocks.NewMockRedisClient(ctrl),
		producer:  kafkamocks.NewMockKafkaProducer(ctrl),
	}
	d.tx.EXPECT().Items().Return(d.items).AnyTimes()
	d.tx.EXPECT().Ledger().Return(d.ledger).AnyTimes()
	d.tx.EXPECT().Exchanges().Return(d.exchanges).AnyTimes()
	return d
}

// run executes the unit of work body against the mocked repositories.
func (d *mockDeps) run(ctx context.Context, fn func(context.Context, repository.Tx) error) error {
	return fn(ctx, d.tx)
}

var fastRetry = service.Options{RetryInitialInterval: time.Millisecond}

func redeemableItem() *models.Item {
	return &models.Item{ID: 10, OwnerID: 2, Status: models.ItemAvailable, Approved: true, PointsValue: 100}
}

func expectRedeem(d *mockDeps) {
	d.items.EXPECT().GetForUpdate(gomock.Any(), int64(10)).Return(redeemableItem(), nil)
	d.ledger.EXPECT().GetForUpdate(gomock.Any(), int64(1)).Return(&models.Account{UserID: 1, Balance: 500}, nil)
	d.ledger.EXPECT().Debit(gomock.Any(), int64(1), int64(100)).Return(int64(400), nil)
	d.exchanges.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ex *models.Exchange) error {
		ex.ID = 7
		return nil
	})
	d.items.EXPECT().Finalize(gomock.Any(), int64(10), models.ItemRedeemed, nil).Return(nil)
	d.ledger.EXPECT().Credit(gomock.Any(), int64(2), int64(80)).Return(int64(80), nil)
}

func TestRedeem_RetriesTransientFailure(t *testing.T) {
	d := newMockDeps(t)
	svc := service.NewExchangeService(d.uow, nil, nil, fastRetry)

	gomock.InOrder(
		d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).Return(fmt.Errorf("%w: could not serialize access", pkgerrors.ErrTransient)),
		d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(d.run),
	)
	expectRedeem(d)

	ex, err := svc.Redeem(context.Background(), 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), ex.ID)
	assert.Equal(t, int64(100), ex.PointsUsed)
	assert.Equal(t, models.ExchangeCompleted, ex.Status)
	assert.Equal(t, models.KindRedemption, ex.Kind)
}

func TestRedeem_MissingOwnerAccountSkipsCredit(t *testing.T) {
	d := newMockDeps(t)
	svc := service.NewExchangeService(d.uow, nil, nil, fastRetry)

	d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(d.run)
	d.items.EXPECT().GetForUpdate(gomock.Any(), int64(10)).Return(redeemableItem(), nil)
	d.ledger.EXPECT().GetForUpdate(gomock.Any(), int64(1)).Return(&models.Account{UserID: 1, Balance: 500}, nil)
	d.ledger.EXPECT().Debit(gomock.Any(), int64(1), int64(100)).Return(int64(400), nil)
	d.exchanges.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	d.items.EXPECT().Finalize(gomock.Any(), int64(10), models.ItemRedeemed, nil).Return(nil)
	d.ledger.EXPECT().Credit(gomock.Any(), int64(2), int64(80)).Return(int64(0), pkgerrors.ErrUserNotFound)

	ex, err := svc.Redeem(context.Background(), 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), ex.PointsUsed)
	assert.Equal(t, models.ExchangeCompleted, ex.Status)
}

func TestRedeem_CreditFailureAborts(t *testing.T) {
	d := newMockDeps(t)
	svc := service.NewExchangeService(d.uow, nil, nil, fastRetry)

	d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(d.run)
	d.items.EXPECT().GetForUpdate(gomock.Any(), int64(10)).Return(redeemableItem(), nil)
	d.ledger.EXPECT().GetForUpdate(gomock.Any(), int64(1)).Return(&models.Account{UserID: 1, Balance: 500}, nil)
	d.ledger.EXPECT().Debit(gomock.Any(), int64(1), int64(100)).Return(int64(400), nil)
	d.exchanges.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	d.items.EXPECT().Finalize(gomock.Any(), int64(10), models.ItemRedeemed, nil).Return(nil)
	d.ledger.EXPECT().Credit(gomock.Any(), int64(2), int64(80)).Return(int64(0), pkgerrors.ErrNegativeAmount)

	_, err := svc.Redeem(context.Background(), 1, 10, "")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
}

func TestRedeem_GivesUpAfterMaxAttempts(t *testing.T) {
	d := newMockDeps(t)
	svc := service.NewExchangeService(d.uow, nil, nil, fastRetry)

	d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("%w: deadlock detected", pkgerrors.ErrTransient)).
		Times(service.DefaultMaxAttempts)

	_, err := svc.Redeem(context.Background(), 1, 10, "")
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestRedeem_DoesNotRetryDomainErrors(t *testing.T) {
	d := newMockDeps(t)
	svc := service.NewExchangeService(d.uow, nil, nil, fastRetry)

	d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(d.run).Times(1)
	d.items.EXPECT().GetForUpdate(gomock.Any(), int64(10)).Return(redeemableItem(), nil)
	d.ledger.EXPECT().GetForUpdate(gomock.Any(), int64(1)).Return(&models.Account{UserID: 1, Balance: 99}, nil)

	_, err := svc.Redeem(context.Background(), 1, 10, "")
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
}

func TestRequestSwap_HidesInternalCause(t *testing.T) {
	d := newMockDeps(t)
	svc := service.NewExchangeService(d.uow, nil, nil, fastRetry)

	d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).Return(errors.New("pq: connection reset by peer"))

	_, err := svc.RequestSwap(context.Background(), 1, 10, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrInternal)
	assert.NotContains(t, err.Error(), "connection reset")
}

func TestRequestSwap_ReservesBothItems(t *testing.T) {
	d := newMockDeps(t)
	svc := service.NewExchangeService(d.uow, nil, d.producer, fastRetry)
	offered := int64(11)

	d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(d.run)
	d.items.EXPECT().GetForUpdate(gomock.Any(), int64(10)).Return(&models.Item{ID: 10, OwnerID: 2, Status: models.ItemAvailable}, nil)
	d.items.EXPECT().GetForUpdate(gomock.Any(), int64(11)).Return(&models.Item{ID: 11, OwnerID: 1, Status: models.ItemAvailable}, nil)
	d.items.EXPECT().Reserve(gomock.Any(), int64(11)).Return(nil)
	d.items.EXPECT().Reserve(gomock.Any(), int64(10)).Return(nil)
	d.exchanges.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ex *models.Exchange) error {
		assert.Equal(t, models.KindSwap, ex.Kind)
		assert.Equal(t, models.ExchangePending, ex.Status)
		assert.Equal(t, int64(2), ex.OwnerID)
		ex.ID = 3
		return nil
	})
	d.producer.EXPECT().Send(gomock.Any(), service.DefaultTopic, int64(3), gomock.Any()).Return(nil)

	ex, err := svc.RequestSwap(context.Background(), 1, 10, &offered)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ex.ID)
}

func TestRequestSwap_PublishFailureDoesNotFailRequest(t *testing.T) {
	d := newMockDeps(t)
	svc := service.NewExchangeService(d.uow, nil, d.producer, fastRetry)

	d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(d.run)
	d.items.EXPECT().GetForUpdate(gomock.Any(), int64(10)).Return(&models.Item{ID: 10, OwnerID: 2, Status: models.ItemAvailable}, nil)
	d.items.EXPECT().Reserve(gomock.Any(), int64(10)).Return(nil)
	d.exchanges.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	d.producer.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("circuit breaker is open"))

	ex, err := svc.RequestSwap(context.Background(), 1, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, models.KindRedemption, ex.Kind)
}

func TestRedeem_Idempotency(t *testing.T) {
	ctx := context.Background()
	key := redis.RequestKey("req-1")

	t.Run("replay is rejected", func(t *testing.T) {
		d := newMockDeps(t)
		svc := service.NewExchangeService(d.uow, d.redis, nil, fastRetry)

		d.redis.EXPECT().SetNX(gomock.Any(), key, "pending", 24*time.Hour).Return(false, nil)

		_, err := svc.Redeem(ctx, 1, 10, "req-1")
		assert.ErrorIs(t, err, pkgerrors.ErrRequestReplay)
		assert.ErrorIs(t, err, pkgerrors.ErrConflict)
	})

	t.Run("key released on failure", func(t *testing.T) {
		d := newMockDeps(t)
		svc := service.NewExchangeService(d.uow, d.redis, nil, fastRetry)

		d.redis.EXPECT().SetNX(gomock.Any(), key, "pending", 24*time.Hour).Return(true, nil)
		d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).Return(pkgerrors.ErrItemNotApproved)
		d.redis.EXPECT().Del(gomock.Any(), key).Return(nil)

		_, err := svc.Redeem(ctx, 1, 10, "req-1")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})

	t.Run("key released after client cancels", func(t *testing.T) {
		d := newMockDeps(t)
		svc := service.NewExchangeService(d.uow, d.redis, nil, fastRetry)
		reqCtx, cancel := context.WithCancel(ctx)

		d.redis.EXPECT().SetNX(gomock.Any(), key, "pending", 24*time.Hour).Return(true, nil)
		d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, func(context.Context, repository.Tx) error) error {
			cancel()
			return pkgerrors.ErrItemNotApproved
		})
		d.redis.EXPECT().Del(gomock.Cond(func(x any) bool {
			c, ok := x.(context.Context)
			return ok && c.Err() == nil
		}), key).Return(nil)

		_, err := svc.Redeem(reqCtx, 1, 10, "req-1")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})

	t.Run("success marks key, drops balances and publishes", func(t *testing.T) {
		d := newMockDeps(t)
		svc := service.NewExchangeService(d.uow, d.redis, d.producer, fastRetry)

		d.redis.EXPECT().SetNX(gomock.Any(), key, "pending", 24*time.Hour).Return(true, nil)
		d.uow.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(d.run)
		expectRedeem(d)
		d.redis.EXPECT().Set(gomock.Any(), key, "completed", 24*time.Hour).Return(nil)
		d.redis.EXPECT().Del(gomock.Any(), redis.BalanceKey(1), redis.BalanceKey(2)).Return(nil)
		d.producer.EXPECT().Send(gomock.Any(), service.DefaultTopic, int64(7), gomock.Any()).Return(nil)

		_, err := svc.Redeem(ctx, 1, 10, "req-1")
		require.NoError(t, err)
	})

	t.Run("store unavailable", func(t *testing.T) {
		d := newMockDeps(t)
		svc := service.NewExchangeService(d.uow, d.redis, nil, fastRetry)

		d.redis.EXPECT().SetNX(gomock.Any(), key, "pending", 24*time.Hour).Return(false, errors.New("dial tcp: refused"))

		_, err := svc.Redeem(ctx, 1, 10, "req-1")
		assert.True(t, pkgerrors.IsTransient(err))
	})
}

func TestGetBalance_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		d := newMockDeps(t)
		svc := service.NewExchangeService(d.uow, d.redis, nil, fastRetry)

		d.redis.EXPECT().Get(gomock.Any(), "user:1:balance").Return("250", nil)

		balance, err := svc.GetBalance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(250), balance)
	})

	t.Run("miss", func(t *testing.T) {
		d := newMockDeps(t)
		svc := service.NewExchangeService(d.uow, d.redis, nil, fastRetry)

		d.redis.EXPECT().Get(gomock.Any(), "user:1:balance").Return("", redis.ErrKeyNotFound)
		d.uow.EXPECT().ReadOnly(gomock.Any(), gomock.Any()).DoAndReturn(d.run)
		d.ledger.EXPECT().Get(gomock.Any(), int64(1)).Return(&models.Account{UserID: 1, Balance: 300}, nil)
		d.redis.EXPECT().Set(gomock.Any(), "user:1:balance", int64(300), 5*time.Minute).Return(nil)

		balance, err := svc.GetBalance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(300), balance)
	})

	t.Run("unknown user", func(t *testing.T) {
		d := newMockDeps(t)
		svc := service.NewExchangeService(d.uow, nil, nil, fastRetry)

		d.uow.EXPECT().ReadOnly(gomock.Any(), gomock.Any()).DoAndReturn(d.run)
		d.ledger.EXPECT().Get(gomock.Any(), int64(9)).Return(nil, pkgerrors.ErrUserNotFound)

		_, err := svc.GetBalance(ctx, 9)
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})
}

func TestOwnerShare(t *testing.T) {
	tests := []struct {
		points, percent, want int64
	}{
		{points: 100, percent: 80, want: 80},
		{points: 101, percent: 80, want: 80},
		{points: 1, percent: 80, want: 0},
		{points: 0, percent: 80, want: 0},
		{points: 999, percent: 100, want: 999},
		{points: 7, percent: 50, want: 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_at_%d", tt.points, tt.percent), func(t *testing.T) {
			assert.Equal(t, tt.want, service.OwnerShare(tt.points, tt.percent))
		})
	}
}
