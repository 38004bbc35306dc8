package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vogiaan1904/ticketbottle-admission/config"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	redisRepo "github.com/vogiaan1904/ticketbottle-admission/internal/repository/redis"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

const processorShutdownTimeout = 30 * time.Second

type AdmissionProcessor interface {
	Start(ctx context.Context) error
	Stop() error
	StartEvent(eventID string)
	StopEvent(eventID string)
	Nudge(eventID string)
	// ProcessEvent runs one admission tick for the event.
	ProcessEvent(ctx context.Context, eventID string) (TickResult, error)
	// ProcessNext admits the head of the queue immediately, still within the cap.
	ProcessNext(ctx context.Context, eventID string) (*AdmissionResult, error)
	GetStatus() ProcessorStatus
}

type TickOutcome string

const (
	TickAdmitted  TickOutcome = "admitted"
	TickIdle      TickOutcome = "idle"
	TickFull      TickOutcome = "full"
	TickPaused    TickOutcome = "paused"
	TickNotLeader TickOutcome = "not_leader"
	TickStopped   TickOutcome = "stopped"
	TickError     TickOutcome = "error"
)

type TickResult struct {
	Outcome    TickOutcome
	Admitted   int
	StopReason string
}

type ProcessorStatus struct {
	IsRunning     bool      `json:"is_running"`
	InstanceID    string    `json:"instance_id"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	LastProcessed time.Time `json:"last_processed,omitempty"`
	ActiveEvents  []string  `json:"active_events"`
	TotalAdmitted int64     `json:"total_admitted"`
	ErrorCount    int64     `json:"error_count"`
}

type ProcessorDeps struct {
	Entries   repository.QueueEntryRepository
	Catalog   repository.CatalogRepository
	Inventory Inventory
	Tokens    *CheckoutTokens
	// Leases and Signals are optional. Without them the processor assumes it
	// is the only instance.
	Leases  redisRepo.LeaseRepository
	Signals redisRepo.SignalRepository
	Notify  *NotificationDispatcher
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

type eventLoop struct {
	cancel context.CancelFunc
	nudge  chan struct{}
}

type admissionProcessor struct {
	entries    repository.QueueEntryRepository
	catalog    repository.CatalogRepository
	inventory  Inventory
	tokens     *CheckoutTokens
	leases     redisRepo.LeaseRepository
	signals    redisRepo.SignalRepository
	notify     *NotificationDispatcher
	metrics    *metrics.Metrics
	clock      clock.Clock
	cfg        config.AdmissionConfig
	instanceID string
	l          logger.Logger

	mu        sync.RWMutex
	isRunning bool
	startedAt time.Time
	baseCtx   context.Context
	cancel    context.CancelFunc
	loops     map[string]*eventLoop
	tickLocks map[string]*sync.Mutex
	wg        sync.WaitGroup

	lastProcessed time.Time
	totalAdmitted int64
	errorCount    int64
}

func NewAdmissionProcessor(deps ProcessorDeps, cfg config.AdmissionConfig, instanceID string, l logger.Logger) AdmissionProcessor {
	return &admissionProcessor{
		entries:    deps.Entries,
		catalog:    deps.Catalog,
		inventory:  deps.Inventory,
		tokens:     deps.Tokens,
		leases:     deps.Leases,
		signals:    deps.Signals,
		notify:     deps.Notify,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		cfg:        cfg,
		instanceID: instanceID,
		l:          l,
		loops:      make(map[string]*eventLoop),
		tickLocks:  make(map[string]*sync.Mutex),
	}
}

func (p *admissionProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return errors.New("admission processor is already running")
	}
	p.isRunning = true
	p.startedAt = p.clock.Now()
	p.baseCtx, p.cancel = context.WithCancel(ctx)
	baseCtx := p.baseCtx
	p.mu.Unlock()

	p.l.Infof(ctx, "admission processor starting: instance=%s tick=%s lease_ttl=%s",
		p.instanceID, p.cfg.TickInterval, p.cfg.LeaseTTL)

	p.resync(baseCtx)

	p.wg.Add(1)
	go p.resyncLoop(baseCtx)

	if p.signals != nil {
		p.wg.Add(1)
		go p.listenSlotFreed(baseCtx)
	}
	return nil
}

func (p *admissionProcessor) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return errors.New("admission processor is not running")
	}
	p.isRunning = false
	p.cancel()
	events := make([]string, 0, len(p.loops))
	for eventID := range p.loops {
		events = append(events, eventID)
	}
	p.loops = make(map[string]*eventLoop)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	ctx := context.Background()
	select {
	case <-done:
		p.l.Info(ctx, "admission processor stopped gracefully")
	case <-time.After(processorShutdownTimeout):
		p.l.Warn(ctx, "admission processor shutdown timeout exceeded")
	}

	for _, eventID := range events {
		p.releaseLease(eventID)
	}
	p.metrics.SetRunningLoops(0)
	return nil
}

func (p *admissionProcessor) StartEvent(eventID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning || p.loops[eventID] != nil {
		return
	}

	ctx, cancel := context.WithCancel(p.baseCtx)
	loop := &eventLoop{
		cancel: cancel,
		nudge:  make(chan struct{}, 1),
	}
	p.loops[eventID] = loop
	p.metrics.SetRunningLoops(len(p.loops))

	p.wg.Add(1)
	go p.runEvent(ctx, eventID, loop)
}

func (p *admissionProcessor) StopEvent(eventID string) {
	p.mu.Lock()
	loop := p.loops[eventID]
	delete(p.loops, eventID)
	p.metrics.SetRunningLoops(len(p.loops))
	p.mu.Unlock()

	if loop == nil {
		return
	}
	loop.cancel()
	p.releaseLease(eventID)
	p.metrics.ForgetEvent(eventID)
}

// Nudge wakes the event loop ahead of its next tick. Events without a running
// loop are ignored; resync and the sale lifecycle consumer start loops.
func (p *admissionProcessor) Nudge(eventID string) {
	p.mu.RLock()
	loop := p.loops[eventID]
	p.mu.RUnlock()

	if loop == nil {
		return
	}
	select {
	case loop.nudge <- struct{}{}:
	default:
	}
}

func (p *admissionProcessor) runEvent(ctx context.Context, eventID string, loop *eventLoop) {
	defer p.wg.Done()

	p.l.Infof(ctx, "admission loop started for event %s", eventID)
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if p.tick(ctx, eventID) {
			p.removeLoop(eventID, loop)
			return
		}

		select {
		case <-ctx.Done():
			p.l.Infof(ctx, "admission loop for event %s stopped", eventID)
			return
		case <-ticker.C:
		case <-loop.nudge:
		}
	}
}

// tick reports whether the event loop should stop for good.
func (p *admissionProcessor) tick(ctx context.Context, eventID string) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			p.incrementErrorCount()
			p.metrics.LoopError("admission")
			p.l.Errorf(ctx, "admissionProcessor.tick: event %s: panic: %v", eventID, r)
			stop = false
		}
	}()

	res, err := p.ProcessEvent(ctx, eventID)
	if err != nil {
		if ctx.Err() == nil {
			p.l.Errorf(ctx, "admissionProcessor.tick: event %s: %v", eventID, err)
		}
		return false
	}
	if res.Outcome == TickStopped {
		p.l.Infof(ctx, "admission loop for event %s ending: %s", eventID, res.StopReason)
		p.releaseLease(eventID)
		p.metrics.ForgetEvent(eventID)
		return true
	}
	return false
}

func (p *admissionProcessor) removeLoop(eventID string, loop *eventLoop) {
	p.mu.Lock()
	if p.loops[eventID] == loop {
		delete(p.loops, eventID)
		p.metrics.SetRunningLoops(len(p.loops))
	}
	p.mu.Unlock()
	loop.cancel()
}

func (p *admissionProcessor) ProcessEvent(ctx context.Context, eventID string) (TickResult, error) {
	started := time.Now()
	unlock := p.lockEvent(eventID)
	defer unlock()

	res, err := p.processEvent(ctx, eventID)
	if err != nil {
		res.Outcome = TickError
		p.incrementErrorCount()
		p.metrics.LoopError("admission")
	}
	p.metrics.ObserveTick(string(res.Outcome), time.Since(started))

	p.mu.Lock()
	p.lastProcessed = p.clock.Now()
	p.totalAdmitted += int64(res.Admitted)
	p.mu.Unlock()
	return res, err
}

func (p *admissionProcessor) processEvent(ctx context.Context, eventID string) (TickResult, error) {
	held, err := p.acquireLease(ctx, eventID)
	if err != nil {
		return TickResult{}, err
	}
	if !held {
		return TickResult{Outcome: TickNotLeader}, nil
	}

	ev, err := p.catalog.GetEvent(ctx, eventID)
	if errors.Is(err, appErrors.ErrEventNotFound) {
		return stopped("event not found"), nil
	}
	if err != nil {
		return TickResult{}, fmt.Errorf("get event: %w", err)
	}
	if ev.IsClosed() || ev.Status == models.EventStatusSoldOut || ev.Status == models.EventStatusSaleEnded {
		return stopped(fmt.Sprintf("event is %s", ev.Status)), nil
	}

	switch ev.Window(p.clock.Now()) {
	case models.SaleNotStarted:
		return TickResult{Outcome: TickPaused}, nil
	case models.SaleEnded:
		return stopped("sale window ended"), nil
	}

	available, err := p.inventory.FindAvailableByEvent(ctx, eventID)
	if err != nil {
		return TickResult{}, fmt.Errorf("find available ticket types: %w", err)
	}
	if len(available) == 0 {
		return stopped("sold out"), nil
	}

	occupied, err := p.entries.CountByStatus(ctx, eventID, models.SlotStatuses...)
	if err != nil {
		return TickResult{}, fmt.Errorf("count occupied slots: %w", err)
	}
	waiting, err := p.entries.CountByStatus(ctx, eventID, models.QueueStatusWaiting)
	if err != nil {
		return TickResult{}, fmt.Errorf("count waiting entries: %w", err)
	}
	p.metrics.QueueDepth(eventID, waiting, occupied)

	free := ev.ConcurrentUsers - occupied
	if free <= 0 {
		return TickResult{Outcome: TickFull}, nil
	}
	if waiting == 0 {
		return TickResult{Outcome: TickIdle}, nil
	}

	candidates, err := p.entries.ListWaiting(ctx, eventID, free)
	if err != nil {
		return TickResult{}, fmt.Errorf("list waiting entries: %w", err)
	}

	admitted := 0
	for _, entry := range candidates {
		if ctx.Err() != nil {
			break
		}
		res, err := p.admit(ctx, ev, entry)
		if errors.Is(err, appErrors.ErrNoAvailableSlots) {
			break
		}
		if err != nil {
			p.incrementErrorCount()
			p.l.Errorf(ctx, "admissionProcessor.processEvent: admit entry %s: %v", entry.ID, err)
			continue
		}
		if res != nil {
			admitted++
		}
	}

	if admitted == 0 {
		return TickResult{Outcome: TickIdle}, nil
	}
	if _, err := p.entries.ReorderPositions(ctx, eventID); err != nil {
		p.l.Warnf(ctx, "admissionProcessor.processEvent: reorder: %v", err)
	}
	p.l.Infof(ctx, "admitted %d of %d candidates for event %s", admitted, len(candidates), eventID)
	return TickResult{Outcome: TickAdmitted, Admitted: admitted}, nil
}

// ProcessNext admits under the same lease as the event loop so an admin call
// on one instance cannot race a tick on another.
func (p *admissionProcessor) ProcessNext(ctx context.Context, eventID string) (*AdmissionResult, error) {
	unlock := p.lockEvent(eventID)
	defer unlock()

	held, err := p.acquireLease(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, appErrors.ErrLeaseNotHeld
	}
	p.mu.RLock()
	looping := p.loops[eventID] != nil
	p.mu.RUnlock()
	if !looping {
		defer p.releaseLease(eventID)
	}

	ev, err := p.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	occupied, err := p.entries.CountByStatus(ctx, eventID, models.SlotStatuses...)
	if err != nil {
		return nil, err
	}
	if occupied >= ev.ConcurrentUsers {
		return nil, fmt.Errorf("%w: %d of %d in use", appErrors.ErrNoAvailableSlots, occupied, ev.ConcurrentUsers)
	}

	head, err := p.entries.ListWaiting(ctx, eventID, 1)
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return nil, appErrors.ErrNoWaitingEntries
	}

	res, err := p.admit(ctx, ev, head[0])
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, appErrors.ErrNoWaitingEntries
	}
	if _, err := p.entries.ReorderPositions(ctx, eventID); err != nil {
		p.l.Warnf(ctx, "admissionProcessor.ProcessNext: reorder: %v", err)
	}

	p.mu.Lock()
	p.totalAdmitted++
	p.mu.Unlock()
	return res, nil
}

// admit returns nil without error when the entry left the waiting state
// before it could be promoted.
func (p *admissionProcessor) admit(ctx context.Context, ev *models.Event, entry *models.QueueEntry) (*AdmissionResult, error) {
	var res *AdmissionResult
	err := p.withRetry(ctx, func() error {
		var err error
		res, err = p.promote(ctx, ev, entry)
		return err
	})
	return res, err
}

func (p *admissionProcessor) promote(ctx context.Context, ev *models.Event, entry *models.QueueEntry) (*AdmissionResult, error) {
	now := p.clock.Now()
	candidate := *entry
	if err := candidate.StartProcessing(now, p.cfg.SessionWindow); err != nil {
		return nil, err
	}

	slot := models.SlotTypeFor(candidate.IsPriority)
	ps, err := newPurchaseSession(p.tokens, &candidate, ev.ID, candidate.UserID, candidate.SessionID, slot, now, p.cfg)
	if err != nil {
		return nil, err
	}

	ok, err := p.entries.Promote(ctx, &candidate, ps, ev.ConcurrentUsers)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	p.metrics.Admitted(ev.ID, string(slot))
	p.notify.QueueTurn(ctx, QueueTurnNotification{
		EntryID:           candidate.ID,
		EventID:           ev.ID,
		EventName:         ev.Name,
		UserID:            candidate.UserID,
		SessionID:         candidate.SessionID,
		PurchaseSessionID: ps.ID,
		SlotType:          slot,
		ExpiresAt:         ps.ExpiresAt,
	})
	p.l.Debugf(ctx, "entry %s admitted with session %s until %s", candidate.ID, ps.ID, ps.ExpiresAt)

	return &AdmissionResult{Entry: &candidate, Session: ps}, nil
}

func (p *admissionProcessor) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt < max(p.cfg.RetryAttempts, 1); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		err := operation()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		p.l.Warnf(ctx, "admissionProcessor.withRetry: attempt %d/%d: %v", attempt+1, p.cfg.RetryAttempts, err)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", p.cfg.RetryAttempts, lastErr)
}

func retryable(err error) bool {
	return !errors.Is(err, appErrors.ErrActiveSessionExists) &&
		!errors.Is(err, appErrors.ErrNoAvailableSlots) &&
		!errors.Is(err, appErrors.ErrInvalidTransition) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (p *admissionProcessor) resyncLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.resync(ctx)
		}
	}
}

// resync starts a loop for every event whose sale is on, covering events
// whose lifecycle message was missed.
func (p *admissionProcessor) resync(ctx context.Context) {
	events, err := p.catalog.ListEventsByStatus(ctx, models.EventStatusSaleStarted)
	if err != nil {
		p.incrementErrorCount()
		p.metrics.LoopError("resync")
		p.l.Errorf(ctx, "admissionProcessor.resync: %v", err)
		return
	}
	for _, ev := range events {
		p.StartEvent(ev.ID)
	}
}

func (p *admissionProcessor) listenSlotFreed(ctx context.Context) {
	defer p.wg.Done()

	ch, closeFn := p.signals.SubscribeSlotFreed(ctx)
	defer func() {
		if err := closeFn(); err != nil {
			p.l.Warnf(context.Background(), "admissionProcessor.listenSlotFreed: close: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case eventID, ok := <-ch:
			if !ok {
				return
			}
			p.metrics.SlotSignal("received")
			p.Nudge(eventID)
		}
	}
}

// acquireLease reports true when no lease repository is configured.
func (p *admissionProcessor) acquireLease(ctx context.Context, eventID string) (bool, error) {
	if p.leases == nil {
		return true, nil
	}
	held, err := p.leases.Acquire(ctx, eventID, p.instanceID, p.cfg.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return held, nil
}

func (p *admissionProcessor) releaseLease(eventID string) {
	if p.leases == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.leases.Release(ctx, eventID, p.instanceID); err != nil {
		p.l.Warnf(ctx, "admissionProcessor.releaseLease: event %s: %v", eventID, err)
	}
}

func (p *admissionProcessor) lockEvent(eventID string) func() {
	p.mu.Lock()
	lock, ok := p.tickLocks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		p.tickLocks[eventID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (p *admissionProcessor) incrementErrorCount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorCount++
}

func (p *admissionProcessor) GetStatus() ProcessorStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	active := make([]string, 0, len(p.loops))
	for eventID := range p.loops {
		active = append(active, eventID)
	}
	slices.Sort(active)

	return ProcessorStatus{
		IsRunning:     p.isRunning,
		InstanceID:    p.instanceID,
		StartedAt:     p.startedAt,
		LastProcessed: p.lastProcessed,
		ActiveEvents:  active,
		TotalAdmitted: p.totalAdmitted,
		ErrorCount:    p.errorCount,
	}
}

func stopped(reason string) TickResult {
	return TickResult{Outcome: TickStopped, StopReason: reason}
}
