package models_test

import (
	"testing"

	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNextItemStatus(t *testing.T) {
	tests := []struct {
		from  models.ItemStatus
		event models.ItemEvent
		to    models.ItemStatus
		ok    bool
	}{
		{models.ItemAvailable, models.ItemReserve, models.ItemPendingSwap, true},
		{models.ItemPendingSwap, models.ItemRelease, models.ItemAvailable, true},
		{models.ItemPendingSwap, models.ItemSwap, models.ItemSwapped, true},
		{models.ItemPendingSwap, models.ItemRedeem, models.ItemRedeemed, true},
		{models.ItemAvailable, models.ItemRedeem, models.ItemRedeemed, true},
		{models.ItemPendingSwap, models.ItemReserve, "", false},
		{models.ItemAvailable, models.ItemRelease, "", false},
		{models.ItemAvailable, models.ItemSwap, "", false},
		{models.ItemSwapped, models.ItemRelease, "", false},
		{models.ItemRedeemed, models.ItemReserve, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			to, ok := models.NextItemStatus(tt.from, tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestTerminalItemStatusesAcceptNoEvent(t *testing.T) {
	for _, s := range []models.ItemStatus{models.ItemSwapped, models.ItemRedeemed} {
		assert.True(t, s.Terminal())
		for _, e := range []models.ItemEvent{models.ItemReserve, models.ItemRelease, models.ItemSwap, models.ItemRedeem} {
			_, ok := models.NextItemStatus(s, e)
			assert.False(t, ok, "%s accepted %s", s, e)
		}
	}
}

func TestSourceStatuses(t *testing.T) {
	assert.Equal(t, []models.ItemStatus{models.ItemAvailable}, models.SourceStatuses(models.ItemReserve))
	assert.Equal(t, []models.ItemStatus{models.ItemAvailable, models.ItemPendingSwap}, models.SourceStatuses(models.ItemRedeem))
	assert.Equal(t, []models.ItemStatus{models.ItemPendingSwap}, models.SourceStatuses(models.ItemSwap))
}

func TestFinalizeEvent(t *testing.T) {
	e, ok := models.FinalizeEvent(models.ItemSwapped)
	assert.True(t, ok)
	assert.Equal(t, models.ItemSwap, e)

	_, ok = models.FinalizeEvent(models.ItemAvailable)
	assert.False(t, ok)
}

func TestCanTransition(t *testing.T) {
	all := []models.ExchangeStatus{
		models.ExchangePending, models.ExchangeApproved, models.ExchangeRejected,
		models.ExchangeCompleted, models.ExchangeCancelled,
	}
	allowed := map[[2]models.ExchangeStatus]bool{
		{models.ExchangePending, models.ExchangeApproved}:   true,
		{models.ExchangePending, models.ExchangeRejected}:   true,
		{models.ExchangePending, models.ExchangeCancelled}:  true,
		{models.ExchangeApproved, models.ExchangeCompleted}: true,
		{models.ExchangeApproved, models.ExchangeCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]models.ExchangeStatus{from, to}], models.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestExchangeReferences(t *testing.T) {
	offered := int64(5)
	ex := models.Exchange{RequestedItemID: 4, OfferedItemID: &offered, Status: models.ExchangeApproved}
	assert.True(t, ex.References(4))
	assert.True(t, ex.References(5))
	assert.False(t, ex.References(6))
	assert.True(t, ex.Active())

	ex.Status = models.ExchangeCompleted
	assert.False(t, ex.Active())
}

func TestValidCondition(t *testing.T) {
	assert.True(t, models.ValidCondition(models.ConditionNewWithTags))
	assert.False(t, models.ValidCondition("mint"))
}
