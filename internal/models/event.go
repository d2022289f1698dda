package models

import "time"

type EventType string

const (
	EventExchangeRequested     EventType = "exchange_requested"
	EventExchangeStatusChanged EventType = "exchange_status_changed"
	EventItemRedeemed          EventType = "item_redeemed"
)

// ExchangeEvent is published after an exchange write commits.
type ExchangeEvent struct {
	EventID       string    `json:"event_id"`
	Type          EventType `json:"event_type"`
	Exchange      Exchange  `json:"exchange"`
	AffectedUsers []int64   `json:"affected_users"`
	OccurredAt    time.Time `json:"occurred_at"`
}
