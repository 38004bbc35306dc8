package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
)

func activeSession() *PurchaseSession {
	return &PurchaseSession{
		ID:            "ps-1",
		QueueEntryID:  "qe-1",
		EventID:       "ev-1",
		UserID:        "user-1",
		Status:        SessionStatusActive,
		SlotType:      SlotTypeStandard,
		StartedAt:     t0,
		ExpiresAt:     t0.Add(8 * time.Minute),
		MaxExtensions: 2,
	}
}

func TestPurchaseSession_ExtendUpToCap(t *testing.T) {
	s := activeSession()
	now := t0.Add(time.Minute)

	require.NoError(t, s.Extend(now, 2*time.Minute))
	require.NoError(t, s.Extend(now, 2*time.Minute))
	afterSecond := s.ExpiresAt
	assert.Equal(t, t0.Add(12*time.Minute), afterSecond)
	assert.Equal(t, 2, s.ExtensionCount)

	err := s.Extend(now, 2*time.Minute)
	assert.ErrorIs(t, err, appErrors.ErrMaxExtensionsReached)
	assert.NotErrorIs(t, err, appErrors.ErrSessionNotActive)
	assert.Equal(t, afterSecond, s.ExpiresAt)
	assert.Equal(t, 2, s.ExtensionCount)
}

func TestPurchaseSession_ExtendNotActive(t *testing.T) {
	t.Run("terminal", func(t *testing.T) {
		s := activeSession()
		s.Complete(t0, "ord-1")

		err := s.Extend(t0, 2*time.Minute)
		assert.ErrorIs(t, err, appErrors.ErrSessionNotActive)
	})

	t.Run("past window", func(t *testing.T) {
		s := activeSession()
		before := s.ExpiresAt

		err := s.Extend(t0.Add(9*time.Minute), 2*time.Minute)
		assert.ErrorIs(t, err, appErrors.ErrSessionNotActive)
		assert.Equal(t, before, s.ExpiresAt)
	})

	t.Run("non positive", func(t *testing.T) {
		s := activeSession()
		assert.ErrorIs(t, s.Extend(t0, 0), appErrors.ErrInvalidExtension)
	})
}

func TestPurchaseSession_IsExpiredIsPure(t *testing.T) {
	s := activeSession()

	assert.False(t, s.IsExpired(s.ExpiresAt))
	assert.True(t, s.IsExpired(s.ExpiresAt.Add(time.Nanosecond)))
	assert.Equal(t, SessionStatusActive, s.Status)
}

func TestPurchaseSession_TerminalIdempotent(t *testing.T) {
	s := activeSession()

	assert.True(t, s.Expire(t0, ExpiryReasonTimeout))
	snapshot := *s
	assert.False(t, s.Expire(t0.Add(time.Minute), ExpiryReasonTimeout))
	assert.False(t, s.Complete(t0, "ord-1"))
	assert.False(t, s.Abandon(t0))
	assert.Equal(t, snapshot, *s)
}

func TestPurchaseSession_SetCartTotals(t *testing.T) {
	s := activeSession()

	err := s.SetCart(t0, []LineItem{
		{TicketTypeID: "tt-1", Quantity: 2, UnitPrice: decimal.RequireFromString("49.50")},
		{TicketTypeID: "tt-2", Quantity: 1, UnitPrice: decimal.RequireFromString("120.00")},
	})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("219").Equal(s.TotalAmount))
	assert.Equal(t, 2, s.QuantityOf("tt-1"))
	assert.Equal(t, 0, s.QuantityOf("tt-3"))
}

func TestPurchaseSession_CustomerInfo(t *testing.T) {
	s := activeSession()

	assert.ErrorIs(t, s.SetCustomerInfo(t0, CustomerInfo{Name: "A"}), appErrors.ErrCustomerInfoIncomplete)
	require.NoError(t, s.SetCustomerInfo(t0, CustomerInfo{Name: "A", Email: "a@example.com"}))
	assert.Equal(t, "a@example.com", s.CustomerInfo.Email)
}

func TestEventWindow(t *testing.T) {
	start := t0
	end := t0.Add(time.Hour)
	ev := &Event{SaleStartAt: &start, SaleEndAt: &end}

	assert.Equal(t, SaleNotStarted, ev.Window(t0.Add(-time.Second)))
	assert.Equal(t, SaleOpen, ev.Window(t0))
	assert.Equal(t, SaleEnded, ev.Window(end.Add(time.Second)))
	assert.Equal(t, SaleNotStarted, (&Event{}).Window(t0))
}
