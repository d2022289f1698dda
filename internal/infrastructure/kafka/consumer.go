package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"

	"github.com/honeynil/ReWearExchange/internal/infrastructure/redis"
	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/segmentio/kafka-go"
)

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer drops cached balances of every user touched by an exchange event,
// so instances that did not perform the write stop serving stale balances.
type Consumer struct {
	reader      messageReader
	redisClient redis.RedisClient
}

func NewConsumer(brokers []string, topic, groupID string, redisClient redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		redisClient: redisClient,
	}
}

// Consume runs until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				return nil
			}
			slog.Error("failed to read Kafka message", "error", err)
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var event models.ExchangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		slog.Error("failed to unmarshal exchange event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return
	}

	switch event.Type {
	case models.EventExchangeRequested, models.EventExchangeStatusChanged, models.EventItemRedeemed:
	default:
		slog.Warn("unknown event type", "type", event.Type, "event_id", event.EventID)
		return
	}

	if len(event.AffectedUsers) == 0 {
		return
	}
	keys := make([]string, 0, len(event.AffectedUsers))
	for _, id := range event.AffectedUsers {
		keys = append(keys, redis.BalanceKey(id))
	}
	if err := c.redisClient.Del(ctx, keys...); err != nil {
		slog.Error("failed to invalidate balances", "event_id", event.EventID, "users", event.AffectedUsers, "error", err)
		return
	}
	slog.Info("exchange event processed", "event_id", event.EventID, "type", event.Type, "exchange_id", event.Exchange.ID)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
