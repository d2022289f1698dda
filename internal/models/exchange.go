package models

import "time"

type ExchangeKind string

const (
	KindSwap       ExchangeKind = "swap"
	KindRedemption ExchangeKind = "redemption"
)

type ExchangeStatus string

const (
	ExchangePending   ExchangeStatus = "pending"
	ExchangeApproved  ExchangeStatus = "approved"
	ExchangeRejected  ExchangeStatus = "rejected"
	ExchangeCompleted ExchangeStatus = "completed"
	ExchangeCancelled ExchangeStatus = "cancelled"
)

func (s ExchangeStatus) Valid() bool {
	switch s {
	case ExchangePending, ExchangeApproved, ExchangeRejected, ExchangeCompleted, ExchangeCancelled:
		return true
	}
	return false
}

func (s ExchangeStatus) Terminal() bool {
	switch s {
	case ExchangeCompleted, ExchangeRejected, ExchangeCancelled:
		return true
	}
	return false
}

var exchangeTransitions = map[ExchangeStatus][]ExchangeStatus{
	ExchangePending:  {ExchangeApproved, ExchangeRejected, ExchangeCancelled},
	ExchangeApproved: {ExchangeCompleted, ExchangeCancelled},
}

// CanTransition reports whether an exchange may move from one status to another.
func CanTransition(from, to ExchangeStatus) bool {
	for _, s := range exchangeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Exchange records a swap or a redemption. Once terminal it is a historical fact:
// ownership changes after completion live on items, not here.
type Exchange struct {
	ID              int64          `json:"id"`
	RequesterID     int64          `json:"requester_id"`
	RequestedItemID int64          `json:"requested_item_id"`
	OfferedItemID   *int64         `json:"offered_item_id,omitempty"`
	OwnerID         int64          `json:"owner_id"`
	Kind            ExchangeKind   `json:"type"`
	Status          ExchangeStatus `json:"status"`
	PointsUsed      int64          `json:"points_used"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Active reports whether the exchange still holds a reservation on its items.
func (e *Exchange) Active() bool {
	return !e.Status.Terminal()
}

// References reports whether itemID is the requested or offered item.
func (e *Exchange) References(itemID int64) bool {
	if e.RequestedItemID == itemID {
		return true
	}
	return e.OfferedItemID != nil && *e.OfferedItemID == itemID
}
