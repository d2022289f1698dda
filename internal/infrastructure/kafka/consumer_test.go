package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/honeynil/ReWearExchange/internal/infrastructure/redis/mocks"
	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeReader struct {
	messages []kafka.Message
	cancel   context.CancelFunc
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) Close() error { return nil }

func encodeEvent(t *testing.T, event models.ExchangeEvent) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Topic: "exchange-events", Value: b}
}

func TestConsumer_InvalidatesBalances(t *testing.T) {
	ctrl := gomock.NewController(t)
	redisClient := mocks.NewMockRedisClient(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			encodeEvent(t, models.ExchangeEvent{
				EventID:       "e-1",
				Type:          models.EventItemRedeemed,
				Exchange:      models.Exchange{ID: 3},
				AffectedUsers: []int64{1, 2},
				OccurredAt:    time.Now(),
			}),
			{Topic: "exchange-events", Value: []byte("not json")},
			encodeEvent(t, models.ExchangeEvent{EventID: "e-2", Type: "unknown", AffectedUsers: []int64{9}}),
		},
	}
	c := &Consumer{reader: reader, redisClient: redisClient}

	redisClient.EXPECT().Del(gomock.Any(), "user:1:balance", "user:2:balance").Return(nil)

	assert.NoError(t, c.Consume(ctx))
}
