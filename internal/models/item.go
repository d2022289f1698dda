package models

import "time"

type ItemStatus string

const (
	ItemAvailable   ItemStatus = "available"
	ItemPendingSwap ItemStatus = "pending_swap"
	ItemSwapped     ItemStatus = "swapped"
	ItemRedeemed    ItemStatus = "redeemed"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemAvailable, ItemPendingSwap, ItemSwapped, ItemRedeemed:
		return true
	}
	return false
}

// Terminal reports whether no further event can move an item out of s.
func (s ItemStatus) Terminal() bool {
	return s == ItemSwapped || s == ItemRedeemed
}

type ItemEvent string

const (
	ItemReserve ItemEvent = "reserve"
	ItemRelease ItemEvent = "release"
	ItemSwap    ItemEvent = "swap"
	ItemRedeem  ItemEvent = "redeem"
)

type itemTransition struct {
	from  ItemStatus
	event ItemEvent
}

var itemTransitions = map[itemTransition]ItemStatus{
	{ItemAvailable, ItemReserve}:   ItemPendingSwap,
	{ItemPendingSwap, ItemRelease}: ItemAvailable,
	{ItemPendingSwap, ItemSwap}:    ItemSwapped,
	{ItemPendingSwap, ItemRedeem}:  ItemRedeemed,
	{ItemAvailable, ItemRedeem}:    ItemRedeemed,
}

// NextItemStatus returns the status reached by applying event in status from.
func NextItemStatus(from ItemStatus, event ItemEvent) (ItemStatus, bool) {
	to, ok := itemTransitions[itemTransition{from, event}]
	return to, ok
}

// SourceStatuses lists every status from which event is legal, in a stable order.
func SourceStatuses(event ItemEvent) []ItemStatus {
	var out []ItemStatus
	for _, s := range []ItemStatus{ItemAvailable, ItemPendingSwap, ItemSwapped, ItemRedeemed} {
		if _, ok := itemTransitions[itemTransition{s, event}]; ok {
			out = append(out, s)
		}
	}
	return out
}

// FinalizeEvent maps a terminal item status to the event that produces it.
func FinalizeEvent(status ItemStatus) (ItemEvent, bool) {
	switch status {
	case ItemSwapped:
		return ItemSwap, true
	case ItemRedeemed:
		return ItemRedeem, true
	}
	return "", false
}

const (
	ConditionNewWithTags = "new with tags"
	ConditionExcellent   = "excellent"
	ConditionGood        = "good"
	ConditionFair        = "fair"
)

// ValidCondition reports whether c is one of the accepted item conditions.
func ValidCondition(c string) bool {
	switch c {
	case ConditionNewWithTags, ConditionExcellent, ConditionGood, ConditionFair:
		return true
	}
	return false
}

type Item struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Type        string     `json:"type"`
	Size        string     `json:"size"`
	Condition   string     `json:"condition"`
	Tags        []string   `json:"tags"`
	ImageURLs   []string   `json:"image_urls"`
	PointsValue int64      `json:"points_value"`
	Approved    bool       `json:"approved"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ItemFilter narrows an item listing. Nil fields are not applied.
type ItemFilter struct {
	Category *string
	Size     *string
	Status   *ItemStatus
	Approved *bool
	OwnerID  *int64
}

// ItemDetails carries the listing fields an owner may edit.
type ItemDetails struct {
	Title       *string
	Description *string
	Category    *string
	Type        *string
	Size        *string
	Condition   *string
	Tags        []string
	ImageURLs   []string
	PointsValue *int64
}
