package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

// admitted joins a user and runs a tick, returning the entry and session.
func admitted(t *testing.T, f *fixture, userID string) (*models.QueueEntry, *models.PurchaseSession) {
	t.Helper()
	out := f.join(t, userID)
	f.tick(t)
	return f.entry(t, out.Entry.ID), f.activeSession(t, out.Entry.ID)
}

func TestExtendSession_StopsAtMaximum(t *testing.T) {
	f := newFixture(t, 1)
	entry, ps := admitted(t, f, "u1")

	for i := 0; i < 2; i++ {
		_, err := f.sessions.ExtendSession(f.ctx, ExtendSessionInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Minutes: 2})
		require.NoError(t, err)
	}

	_, err := f.sessions.ExtendSession(f.ctx, ExtendSessionInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Minutes: 2})
	assert.ErrorIs(t, err, appErrors.ErrMaxExtensionsReached)

	out, err := f.sessions.GetSession(f.ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(12*time.Minute), out.Session.ExpiresAt)
	assert.Equal(t, 2, out.Session.ExtensionCount)
	assert.Equal(t, 0, out.ExtensionsLeft)
	assert.Equal(t, t0.Add(12*time.Minute), *f.entry(t, entry.ID).ProcessingExpiresAt)
}

func TestExtendSession_RejectsOversizedStep(t *testing.T) {
	f := newFixture(t, 1)
	_, ps := admitted(t, f, "u1")

	_, err := f.sessions.ExtendSession(f.ctx, ExtendSessionInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Minutes: 5})
	assert.ErrorIs(t, err, appErrors.ErrInvalidExtension)
}

func TestExtendSession_AfterWindowReturnsExpired(t *testing.T) {
	f := newFixture(t, 1)
	_, ps := admitted(t, f, "u1")

	f.clock.Advance(8 * time.Minute)
	_, err := f.sessions.ExtendSession(f.ctx, ExtendSessionInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken})
	expErr, ok := appErrors.AsExpired(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, appErrors.ExpiredPurchaseSession, expErr.Kind)
}

func TestCart_RevalidatesAgainstInventory(t *testing.T) {
	f := newFixture(t, 1)
	_, ps := admitted(t, f, "u1")

	out, err := f.sessions.AddItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-ga", Quantity: 2}}})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(out.Session.TotalAmount))

	_, err = f.sessions.AddItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-ga", Quantity: 3}}})
	assert.True(t, appErrors.IsRejection(err, appErrors.CodeQuantityExceeded), "got %v", err)

	f.store.PutTicketType(models.TicketType{
		ID: "tt-ga", EventID: testEvent, Name: "General Admission",
		Price: decimal.NewFromInt(60), Quantity: 100, MaxPerUser: 4, Active: true,
	})
	out, err = f.sessions.RemoveItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-ga", Quantity: 1}}})
	require.NoError(t, err)
	require.Len(t, out.Session.SelectedTickets, 1)
	assert.Equal(t, 1, out.Session.SelectedTickets[0].Quantity)
	assert.True(t, decimal.NewFromInt(60).Equal(out.Session.TotalAmount))

	_, err = f.sessions.RemoveItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-vip", Quantity: 1}}})
	assert.ErrorIs(t, err, appErrors.ErrItemNotInCart)

	_, err = f.sessions.AddItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-missing", Quantity: 1}}})
	assert.ErrorIs(t, err, appErrors.ErrTicketTypeNotFound)

	_, err = f.sessions.AddItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-ga", Quantity: 0}}})
	assert.ErrorIs(t, err, appErrors.ErrInvalidQuantity)
}

func TestCart_RejectsUnavailableTicketType(t *testing.T) {
	f := newFixture(t, 1)
	_, ps := admitted(t, f, "u1")
	f.store.PutTicketType(models.TicketType{ID: "tt-vip", EventID: testEvent, Name: "VIP", Price: decimal.NewFromInt(200), Quantity: 5, Sold: 5, Active: true})

	_, err := f.sessions.AddItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-vip", Quantity: 1}}})
	assert.True(t, appErrors.IsRejection(err, appErrors.CodeTicketUnavailable), "got %v", err)
}

func TestSetCustomerInfo(t *testing.T) {
	f := newFixture(t, 1)
	_, ps := admitted(t, f, "u1")

	_, err := f.sessions.SetCustomerInfo(f.ctx, CustomerInfoInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Info: models.CustomerInfo{Name: "Ana"}})
	assert.ErrorIs(t, err, appErrors.ErrCustomerInfoIncomplete)

	out, err := f.sessions.SetCustomerInfo(f.ctx, CustomerInfoInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Info: models.CustomerInfo{Name: "Ana", Email: "ana@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", out.Session.CustomerInfo.Email)
}

// lockstepSessions holds the first readers at a barrier so they all load the
// same version before any of them writes.
type lockstepSessions struct {
	repository.PurchaseSessionRepository
	gate    *sync.WaitGroup
	readers int32
	reads   atomic.Int32
}

func (r *lockstepSessions) Get(ctx context.Context, id string) (*models.PurchaseSession, error) {
	ps, err := r.PurchaseSessionRepository.Get(ctx, id)
	if r.reads.Add(1) <= r.readers {
		r.gate.Done()
		r.gate.Wait()
	}
	return ps, err
}

func TestSessionMutations_ConcurrentWritesBothLand(t *testing.T) {
	f := newFixture(t, 1)
	_, ps := admitted(t, f, "u1")

	gate := &sync.WaitGroup{}
	gate.Add(2)
	deps := f.sessionDeps
	deps.Sessions = &lockstepSessions{PurchaseSessionRepository: f.store.PurchaseSessions(), gate: gate, readers: 2}
	svc := NewSessionService(deps, f.cfg, logger.InitializeTestZapLogger())

	var addErr, extendErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, addErr = svc.AddItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-ga", Quantity: 2}}})
	}()
	go func() {
		defer wg.Done()
		_, extendErr = svc.ExtendSession(f.ctx, ExtendSessionInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken})
	}()
	wg.Wait()
	require.NoError(t, addErr)
	require.NoError(t, extendErr)

	stored, err := f.store.PurchaseSessions().Get(f.ctx, ps.ID)
	require.NoError(t, err)
	require.Len(t, stored.SelectedTickets, 1)
	assert.Equal(t, 2, stored.SelectedTickets[0].Quantity)
	assert.True(t, decimal.NewFromInt(100).Equal(stored.TotalAmount))
	assert.Equal(t, 1, stored.ExtensionCount)
	assert.Equal(t, t0.Add(10*time.Minute), stored.ExpiresAt)
}

func TestSessionMutations_RequireCheckoutToken(t *testing.T) {
	f := newFixture(t, 2)
	_, ps := admitted(t, f, "u1")
	_, other := admitted(t, f, "u2")

	_, err := f.sessions.ExtendSession(f.ctx, ExtendSessionInput{SessionID: ps.ID})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCheckoutToken)

	_, err = f.sessions.AddItems(f.ctx, CartItemsInput{SessionID: ps.ID, CheckoutToken: other.CheckoutToken, Items: []CartItem{{TicketTypeID: "tt-ga", Quantity: 1}}})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCheckoutToken)

	_, err = f.sessions.SetCustomerInfo(f.ctx, CustomerInfoInput{SessionID: ps.ID, CheckoutToken: "garbage", Info: models.CustomerInfo{Name: "Ana", Email: "ana@example.com"}})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCheckoutToken)

	_, err = f.sessions.AbandonSession(f.ctx, SessionActionInput{SessionID: ps.ID, CheckoutToken: other.CheckoutToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCheckoutToken)

	stored, err := f.store.PurchaseSessions().Get(f.ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, stored.Status)
	assert.Empty(t, stored.SelectedTickets)
	assert.Equal(t, 0, stored.ExtensionCount)
}

func TestCompleteSession_ValidatesCheckoutToken(t *testing.T) {
	f := newFixture(t, 2)
	_, ps := admitted(t, f, "u1")
	_, other := admitted(t, f, "u2")

	_, err := f.sessions.CompleteSession(f.ctx, CompleteSessionInput{SessionID: ps.ID, CheckoutToken: "garbage"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCheckoutToken)

	_, err = f.sessions.CompleteSession(f.ctx, CompleteSessionInput{SessionID: ps.ID, CheckoutToken: other.CheckoutToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCheckoutToken)
}

func TestCompleteSession_AcceptedWithinGrace(t *testing.T) {
	f := newFixture(t, 1)
	entry, ps := admitted(t, f, "u1")

	f.clock.Advance(9 * time.Minute)
	out, err := f.sessions.CompleteSession(f.ctx, CompleteSessionInput{SessionID: ps.ID, OrderID: "ord-9", CheckoutToken: ps.CheckoutToken})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, out.Session.Status)
	assert.Equal(t, "ord-9", out.Session.OrderID)
	assert.Equal(t, models.QueueStatusCompleted, f.entry(t, entry.ID).Status)

	again, err := f.sessions.CompleteSession(f.ctx, CompleteSessionInput{SessionID: ps.ID, OrderID: "ord-9", CheckoutToken: ps.CheckoutToken})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, again.Session.Status)
}

func TestCompleteSession_PastGraceIsExpired(t *testing.T) {
	f := newFixture(t, 1)
	entry, ps := admitted(t, f, "u1")

	f.clock.Advance(11 * time.Minute)
	_, err := f.sessions.CompleteSession(f.ctx, CompleteSessionInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken})
	_, ok := appErrors.AsExpired(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, models.QueueStatusExpired, f.entry(t, entry.ID).Status)
}

func TestAbandonSession_FreesSlotWithoutGrace(t *testing.T) {
	f := newFixture(t, 1)
	entry, ps := admitted(t, f, "u1")

	out, err := f.sessions.AbandonSession(f.ctx, SessionActionInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAbandoned, out.Session.Status)

	stored := f.entry(t, entry.ID)
	assert.Equal(t, models.QueueStatusExpired, stored.Status)
	assert.Nil(t, stored.GraceExpiresAt)
	assert.Equal(t, 0, f.occupied(t))

	rejoined := f.join(t, "u1")
	assert.True(t, rejoined.Created)

	again, err := f.sessions.AbandonSession(f.ctx, SessionActionInput{SessionID: ps.ID, CheckoutToken: ps.CheckoutToken})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAbandoned, again.Session.Status)
}

func TestGetSession_LazyExpiryNotifiesOnce(t *testing.T) {
	f := newFixture(t, 1)
	_, ps := admitted(t, f, "u1")

	f.clock.Advance(8 * time.Minute)
	for i := 0; i < 2; i++ {
		_, err := f.sessions.GetSession(f.ctx, ps.ID)
		_, ok := appErrors.AsExpired(err)
		assert.True(t, ok, "got %v", err)
	}
	res := f.reconciler.RunOnce(f.ctx)
	assert.Equal(t, 0, res.Expired)

	f.dispatch.Wait()
	_, _, expired := f.notifier.counts()
	assert.Equal(t, 1, expired)
}

func TestHandleOrderCompleted(t *testing.T) {
	f := newFixture(t, 1)
	entry, ps := admitted(t, f, "u1")

	err := f.sessions.HandleOrderCompleted(f.ctx, OrderCompletedInput{OrderID: "ord-1", EventID: testEvent, UserID: "u1"})
	require.NoError(t, err)

	stored, err := f.store.PurchaseSessions().Get(f.ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, stored.Status)
	assert.Equal(t, "ord-1", stored.OrderID)
	assert.Equal(t, models.QueueStatusCompleted, f.entry(t, entry.ID).Status)

	assert.NoError(t, f.sessions.HandleOrderCompleted(f.ctx, OrderCompletedInput{OrderID: "ord-2", EventID: testEvent, UserID: "nobody"}))
	assert.NoError(t, f.sessions.HandleOrderCompleted(f.ctx, OrderCompletedInput{OrderID: "ord-1", EventID: testEvent, UserID: "u1"}))
}

func TestCreateManualSession_DoesNotOccupySlot(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.sessions.CreateManualSession(f.ctx, ManualSessionInput{EventID: testEvent})
	assert.ErrorIs(t, err, appErrors.ErrIdentityRequired)

	out, err := f.sessions.CreateManualSession(f.ctx, ManualSessionInput{EventID: testEvent, UserID: "u1", AdminID: "admin-1", Priority: true})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, out.Session.Status)
	assert.Equal(t, models.SlotTypeVIP, out.Session.SlotType)
	assert.Empty(t, out.Session.QueueEntryID)
	assert.Equal(t, 8*time.Minute, out.RemainingTime)
	assert.Equal(t, 0, f.occupied(t))

	assert.NoError(t, f.tokens.Validate(out.Session.CheckoutToken, out.Session.ID))
}
