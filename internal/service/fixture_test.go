package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vogiaan1904/ticketbottle-admission/config"
	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository/memory"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

const testEvent = "ev-1"

type recordingNotifier struct {
	mu      sync.Mutex
	joined  []QueueJoinedNotification
	turns   []QueueTurnNotification
	expired []SessionExpiredNotification
}

func (n *recordingNotifier) QueueJoined(ctx context.Context, msg QueueJoinedNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joined = append(n.joined, msg)
	return nil
}

func (n *recordingNotifier) QueueTurn(ctx context.Context, msg QueueTurnNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.turns = append(n.turns, msg)
	return nil
}

func (n *recordingNotifier) SessionExpired(ctx context.Context, msg SessionExpiredNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, msg)
	return nil
}

func (n *recordingNotifier) counts() (joined, turns, expired int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.joined), len(n.turns), len(n.expired)
}

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	clock      *clock.Fake
	notifier   *recordingNotifier
	dispatch   *NotificationDispatcher
	cfg        config.AdmissionConfig
	tokens     *CheckoutTokens
	inventory  Inventory
	processor  AdmissionProcessor
	sessions   SessionService
	queue      QueueService
	reconciler *ExpiryReconciler
	enforcer   *LimitEnforcer

	sessionDeps SessionServiceDeps
}

func testAdmissionConfig() config.AdmissionConfig {
	return config.AdmissionConfig{
		TickInterval:       time.Hour,
		ExpiryScanInterval: time.Hour,
		LimitScanInterval:  time.Hour,
		ResyncInterval:     time.Hour,
		SessionWindow:      8 * time.Minute,
		ExtensionStep:      2 * time.Minute,
		MaxExtensions:      2,
		GraceWindow:        2 * time.Minute,
		LeaseTTL:           90 * time.Second,
		ScanBatchSize:      2,
		NotifyTimeout:      time.Second,
		RetryAttempts:      2,
		RetryDelay:         time.Millisecond,
	}
}

func newFixture(t *testing.T, concurrentUsers int) *fixture {
	t.Helper()

	l := logger.InitializeTestZapLogger()
	store := memory.NewStore()
	clk := clock.NewFake(t0)
	cfg := testAdmissionConfig()
	m := metrics.New(prometheus.NewRegistry())
	notifier := &recordingNotifier{}
	dispatch := NewNotificationDispatcher(notifier, cfg.NotifyTimeout, l)
	tokens := NewCheckoutTokens("test-secret", time.Hour, clk)
	inv := NewInventory(store.Catalog())

	start := t0.Add(-time.Hour)
	end := t0.Add(24 * time.Hour)
	store.PutEvent(models.Event{
		ID:              testEvent,
		Name:            "Summer Festival",
		Status:          models.EventStatusSaleStarted,
		SaleStartAt:     &start,
		SaleEndAt:       &end,
		ConcurrentUsers: concurrentUsers,
	})
	store.PutTicketType(models.TicketType{
		ID:         "tt-ga",
		EventID:    testEvent,
		Name:       "General Admission",
		Price:      decimal.NewFromInt(50),
		Quantity:   100,
		MaxPerUser: 4,
		Active:     true,
	})

	processor := NewAdmissionProcessor(ProcessorDeps{
		Entries:   store.QueueEntries(),
		Catalog:   store.Catalog(),
		Inventory: inv,
		Tokens:    tokens,
		Notify:    dispatch,
		Metrics:   m,
		Clock:     clk,
	}, cfg, "test-instance", l)
	signaler := NewSlotSignaler(processor, nil, m, l)

	sessionDeps := SessionServiceDeps{
		Entries:   store.QueueEntries(),
		Sessions:  store.PurchaseSessions(),
		Catalog:   store.Catalog(),
		Inventory: inv,
		Tokens:    tokens,
		Notify:    dispatch,
		Signal:    signaler,
		Metrics:   m,
		Clock:     clk,
	}
	sessions := NewSessionService(sessionDeps, cfg, l)
	queue := NewQueueService(QueueServiceDeps{
		Entries:   store.QueueEntries(),
		Sessions:  store.PurchaseSessions(),
		Catalog:   store.Catalog(),
		Inventory: inv,
		Session:   sessions,
		Processor: processor,
		Notify:    dispatch,
		Signal:    signaler,
		Metrics:   m,
		Clock:     clk,
	}, cfg, l)

	return &fixture{
		ctx:        context.Background(),
		store:      store,
		clock:      clk,
		notifier:   notifier,
		dispatch:   dispatch,
		cfg:        cfg,
		tokens:     tokens,
		inventory:  inv,
		processor:  processor,
		sessions:   sessions,
		queue:      queue,
		reconciler: NewExpiryReconciler(store.PurchaseSessions(), store.QueueEntries(), sessions, clk, cfg, m, l),
		enforcer:   NewLimitEnforcer(store.QueueEntries(), inv, queue, clk, cfg, m, l),

		sessionDeps: sessionDeps,
	}
}

func (f *fixture) join(t *testing.T, userID string) *JoinQueueOutput {
	t.Helper()
	out, err := f.queue.JoinQueue(f.ctx, JoinQueueInput{EventID: testEvent, UserID: userID, SessionID: "sess-" + userID})
	require.NoError(t, err)
	return out
}

func (f *fixture) tick(t *testing.T) TickResult {
	t.Helper()
	res, err := f.processor.ProcessEvent(f.ctx, testEvent)
	require.NoError(t, err)
	return res
}

func (f *fixture) entry(t *testing.T, id string) *models.QueueEntry {
	t.Helper()
	e, err := f.store.QueueEntries().Get(f.ctx, id)
	require.NoError(t, err)
	return e
}

func (f *fixture) activeSession(t *testing.T, entryID string) *models.PurchaseSession {
	t.Helper()
	ps, err := f.store.PurchaseSessions().FindActiveByQueueEntry(f.ctx, entryID)
	require.NoError(t, err)
	return ps
}

func (f *fixture) occupied(t *testing.T) int {
	t.Helper()
	n, err := f.store.QueueEntries().CountByStatus(f.ctx, testEvent, models.SlotStatuses...)
	require.NoError(t, err)
	return n
}

func (f *fixture) buy(userID string, quantity int, at time.Time) {
	f.store.PutOrder(models.Order{
		ID:        "ord-" + userID + "-" + at.Format("150405"),
		EventID:   testEvent,
		UserID:    userID,
		Status:    models.OrderStatusPaid,
		Items:     []models.OrderItem{{TicketTypeID: "tt-ga", Quantity: quantity}},
		CreatedAt: at,
	})
}
