package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vogiaan1904/ticketbottle-admission/config"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

type SessionServiceDeps struct {
	Entries   repository.QueueEntryRepository
	Sessions  repository.PurchaseSessionRepository
	Catalog   repository.CatalogRepository
	Inventory Inventory
	Tokens    *CheckoutTokens
	Notify    *NotificationDispatcher
	Signal    SlotSignaler
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

type sessionService struct {
	entries   repository.QueueEntryRepository
	sessions  repository.PurchaseSessionRepository
	catalog   repository.CatalogRepository
	inventory Inventory
	tokens    *CheckoutTokens
	notify    *NotificationDispatcher
	signal    SlotSignaler
	metrics   *metrics.Metrics
	clock     clock.Clock
	cfg       config.AdmissionConfig
	l         logger.Logger
}

func NewSessionService(deps SessionServiceDeps, cfg config.AdmissionConfig, l logger.Logger) SessionService {
	return &sessionService{
		entries:   deps.Entries,
		sessions:  deps.Sessions,
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		tokens:    deps.Tokens,
		notify:    deps.Notify,
		signal:    deps.Signal,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		cfg:       cfg,
		l:         l,
	}
}

func (s *sessionService) GetSession(ctx context.Context, id string) (*SessionOutput, error) {
	ps, err := s.loadLive(ctx, id)
	if err != nil {
		s.l.Warnf(ctx, "sessionService.GetSession: %v", err)
		return nil, err
	}
	if ps.Status == models.SessionStatusExpired {
		return nil, s.expiredError(ctx, ps)
	}
	return s.output(ps), nil
}

func (s *sessionService) ExtendSession(ctx context.Context, in ExtendSessionInput) (*SessionOutput, error) {
	by := s.cfg.ExtensionStep
	if in.Minutes != 0 {
		by = time.Duration(in.Minutes) * time.Minute
		if in.Minutes < 0 || by > s.cfg.ExtensionStep {
			return nil, fmt.Errorf("%w: at most %s per extension", appErrors.ErrInvalidExtension, s.cfg.ExtensionStep)
		}
	}

	if err := s.tokens.Validate(in.CheckoutToken, in.SessionID); err != nil {
		s.l.Warnf(ctx, "sessionService.ExtendSession: %v", err)
		return nil, err
	}

	ps, err := s.update(ctx, in.SessionID, func(ps *models.PurchaseSession) error {
		return ps.Extend(s.clock.Now(), by)
	})
	if err != nil {
		s.l.Warnf(ctx, "sessionService.ExtendSession: %v", err)
		return nil, err
	}

	s.syncEntryDeadline(ctx, ps)
	return s.output(ps), nil
}

func (s *sessionService) AddItems(ctx context.Context, in CartItemsInput) (*SessionOutput, error) {
	return s.updateCart(ctx, in, func(ps *models.PurchaseSession, quantities map[string]int) error {
		for _, item := range in.Items {
			if item.Quantity <= 0 {
				return appErrors.ErrInvalidQuantity
			}
			quantities[item.TicketTypeID] += item.Quantity
		}
		return nil
	})
}

func (s *sessionService) RemoveItems(ctx context.Context, in CartItemsInput) (*SessionOutput, error) {
	return s.updateCart(ctx, in, func(ps *models.PurchaseSession, quantities map[string]int) error {
		for _, item := range in.Items {
			current, ok := quantities[item.TicketTypeID]
			if !ok {
				return fmt.Errorf("%w: %s", appErrors.ErrItemNotInCart, item.TicketTypeID)
			}
			if item.Quantity <= 0 || item.Quantity >= current {
				delete(quantities, item.TicketTypeID)
				continue
			}
			quantities[item.TicketTypeID] = current - item.Quantity
		}
		return nil
	})
}

// updateCart applies change to the cart quantities, then re-prices and
// re-validates every remaining line against current inventory.
func (s *sessionService) updateCart(ctx context.Context, in CartItemsInput, change func(*models.PurchaseSession, map[string]int) error) (*SessionOutput, error) {
	if len(in.Items) == 0 {
		return nil, appErrors.ErrInvalidQuantity
	}
	if err := s.tokens.Validate(in.CheckoutToken, in.SessionID); err != nil {
		s.l.Warnf(ctx, "sessionService.updateCart: %v", err)
		return nil, err
	}

	ps, err := s.update(ctx, in.SessionID, func(ps *models.PurchaseSession) error {
		if !ps.IsActive() {
			return fmt.Errorf("%w: status %s", appErrors.ErrSessionNotActive, ps.Status)
		}

		quantities := make(map[string]int, len(ps.SelectedTickets))
		order := make([]string, 0, len(ps.SelectedTickets)+len(in.Items))
		for _, item := range ps.SelectedTickets {
			quantities[item.TicketTypeID] = item.Quantity
			order = append(order, item.TicketTypeID)
		}
		for _, item := range in.Items {
			if _, ok := quantities[item.TicketTypeID]; !ok {
				order = append(order, item.TicketTypeID)
			}
		}
		if err := change(ps, quantities); err != nil {
			return err
		}

		items := make([]models.LineItem, 0, len(quantities))
		for _, ticketTypeID := range order {
			quantity, ok := quantities[ticketTypeID]
			if !ok {
				continue
			}
			item, err := s.priceLine(ctx, ps, ticketTypeID, quantity)
			if err != nil {
				return err
			}
			items = append(items, item)
			delete(quantities, ticketTypeID)
		}
		return ps.SetCart(s.clock.Now(), items)
	})
	if err != nil {
		s.l.Warnf(ctx, "sessionService.updateCart: %v", err)
		return nil, err
	}
	return s.output(ps), nil
}

func (s *sessionService) priceLine(ctx context.Context, ps *models.PurchaseSession, ticketTypeID string, quantity int) (models.LineItem, error) {
	tt, err := s.catalog.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return models.LineItem{}, err
	}
	if tt.EventID != ps.EventID {
		return models.LineItem{}, fmt.Errorf("%w: %s", appErrors.ErrTicketTypeNotFound, ticketTypeID)
	}

	decision, err := s.inventory.CanPurchaseWithLimit(ctx, tt, quantity, ps.UserID)
	if err != nil {
		return models.LineItem{}, err
	}
	if !decision.Allowed {
		code := appErrors.CodeQuantityExceeded
		if !tt.IsAvailable() {
			code = appErrors.CodeTicketUnavailable
		}
		return models.LineItem{}, appErrors.Reject(code, decision.Reason)
	}

	return models.LineItem{
		TicketTypeID: tt.ID,
		Quantity:     quantity,
		UnitPrice:    tt.Price,
	}, nil
}

func (s *sessionService) SetCustomerInfo(ctx context.Context, in CustomerInfoInput) (*SessionOutput, error) {
	if err := s.tokens.Validate(in.CheckoutToken, in.SessionID); err != nil {
		s.l.Warnf(ctx, "sessionService.SetCustomerInfo: %v", err)
		return nil, err
	}

	ps, err := s.update(ctx, in.SessionID, func(ps *models.PurchaseSession) error {
		return ps.SetCustomerInfo(s.clock.Now(), in.Info)
	})
	if err != nil {
		s.l.Warnf(ctx, "sessionService.SetCustomerInfo: %v", err)
		return nil, err
	}
	return s.output(ps), nil
}

// CompleteSession accepts completion up to the grace window past expiry so a
// checkout racing the deadline is not lost.
func (s *sessionService) CompleteSession(ctx context.Context, in CompleteSessionInput) (*SessionOutput, error) {
	if err := s.tokens.Validate(in.CheckoutToken, in.SessionID); err != nil {
		s.l.Warnf(ctx, "sessionService.CompleteSession: %v", err)
		return nil, err
	}

	ps, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		s.l.Warnf(ctx, "sessionService.CompleteSession: %v", err)
		return nil, err
	}

	now := s.clock.Now()
	switch {
	case ps.Status == models.SessionStatusCompleted:
		return s.output(ps), nil
	case ps.Status == models.SessionStatusExpired:
		return nil, s.expiredError(ctx, ps)
	case !ps.IsActive():
		return nil, fmt.Errorf("%w: status %s", appErrors.ErrSessionNotActive, ps.Status)
	case now.After(ps.ExpiresAt.Add(s.cfg.GraceWindow)):
		ps, err = s.ExpireSession(ctx, ps, models.ExpiryReasonTimeout)
		if err != nil {
			return nil, err
		}
		return nil, s.expiredError(ctx, ps)
	}

	if err := s.finish(ctx, ps, in.OrderID); err != nil {
		s.l.Warnf(ctx, "sessionService.CompleteSession: %v", err)
		return nil, err
	}

	current, err := s.sessions.Get(ctx, ps.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.SessionStatusCompleted {
		return nil, fmt.Errorf("%w: status %s", appErrors.ErrSessionNotActive, current.Status)
	}
	return s.output(current), nil
}

// finish completes an active session and its entry. Losing the race to a
// concurrent transition is not an error.
func (s *sessionService) finish(ctx context.Context, ps *models.PurchaseSession, orderID string) error {
	now := s.clock.Now()
	ps, ok, err := s.transition(ctx, ps, func(ps *models.PurchaseSession) bool {
		return ps.Complete(now, orderID)
	})
	if err != nil || !ok {
		return err
	}
	s.metrics.SessionEnded(string(models.SessionStatusCompleted), "")

	if ps.QueueEntryID != "" {
		note := "purchase completed"
		if orderID != "" {
			note = "purchase completed with order " + orderID
		}
		if _, err := s.transitionEntry(ctx, ps.QueueEntryID, func(e *models.QueueEntry) bool {
			return e.Complete(now, note)
		}); err != nil {
			s.l.Warnf(ctx, "sessionService.finish: entry %s: %v", ps.QueueEntryID, err)
		}
	}

	s.signal.SlotFreed(ctx, ps.EventID)
	return nil
}

func (s *sessionService) AbandonSession(ctx context.Context, in SessionActionInput) (*SessionOutput, error) {
	if err := s.tokens.Validate(in.CheckoutToken, in.SessionID); err != nil {
		s.l.Warnf(ctx, "sessionService.AbandonSession: %v", err)
		return nil, err
	}

	ps, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		s.l.Warnf(ctx, "sessionService.AbandonSession: %v", err)
		return nil, err
	}

	now := s.clock.Now()
	ps, ok, err := s.transition(ctx, ps, func(ps *models.PurchaseSession) bool {
		return ps.Abandon(now)
	})
	if err != nil {
		s.l.Warnf(ctx, "sessionService.AbandonSession: %v", err)
		return nil, err
	}
	if ok {
		s.metrics.SessionEnded(string(models.SessionStatusAbandoned), "")
		if ps.QueueEntryID != "" {
			if _, err := s.transitionEntry(ctx, ps.QueueEntryID, func(e *models.QueueEntry) bool {
				return e.Expire(now, 0, "purchase session abandoned")
			}); err != nil {
				s.l.Warnf(ctx, "sessionService.AbandonSession: entry %s: %v", ps.QueueEntryID, err)
			}
		}
		s.signal.SlotFreed(ctx, ps.EventID)
	}
	return s.output(ps), nil
}

// CreateManualSession opens a session outside the queue. It does not occupy
// a concurrency slot because slots are counted from queue entries.
func (s *sessionService) CreateManualSession(ctx context.Context, in ManualSessionInput) (*SessionOutput, error) {
	if in.UserID == "" {
		return nil, appErrors.ErrIdentityRequired
	}
	if _, err := s.catalog.GetEvent(ctx, in.EventID); err != nil {
		s.l.Warnf(ctx, "sessionService.CreateManualSession: %v", err)
		return nil, err
	}

	ps, err := newPurchaseSession(s.tokens, nil, in.EventID, in.UserID, "", models.SlotTypeFor(in.Priority), s.clock.Now(), s.cfg)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, ps); err != nil {
		s.l.Errorf(ctx, "sessionService.CreateManualSession: %v", err)
		return nil, err
	}

	s.l.Infof(ctx, "manual session %s created for user %s by %s", ps.ID, in.UserID, in.AdminID)
	return s.output(ps), nil
}

// HandleOrderCompleted settles the buyer's session when the order service
// reports a purchase, which also frees the slot without waiting for expiry.
func (s *sessionService) HandleOrderCompleted(ctx context.Context, in OrderCompletedInput) error {
	var ps *models.PurchaseSession
	var err error

	if in.PurchaseSessionID != "" {
		ps, err = s.sessions.Get(ctx, in.PurchaseSessionID)
	} else {
		ps, err = s.findActiveForUser(ctx, in.EventID, in.UserID)
	}
	if errors.Is(err, appErrors.ErrSessionNotFound) || errors.Is(err, appErrors.ErrEntryNotFound) {
		s.l.Debugf(ctx, "sessionService.HandleOrderCompleted: no session for order %s", in.OrderID)
		return nil
	}
	if err != nil {
		s.l.Errorf(ctx, "sessionService.HandleOrderCompleted: %v", err)
		return err
	}

	if !ps.IsActive() {
		return nil
	}
	return s.finish(ctx, ps, in.OrderID)
}

func (s *sessionService) findActiveForUser(ctx context.Context, eventID, userID string) (*models.PurchaseSession, error) {
	if userID == "" {
		return nil, appErrors.ErrSessionNotFound
	}
	entry, err := s.entries.FindLatest(ctx, eventID, repository.Identity{UserID: userID})
	if err != nil {
		return nil, err
	}
	return s.sessions.FindActiveByQueueEntry(ctx, entry.ID)
}

func (s *sessionService) ExpireSession(ctx context.Context, ps *models.PurchaseSession, reason string) (*models.PurchaseSession, error) {
	now := s.clock.Now()
	ps, ok, err := s.transition(ctx, ps, func(ps *models.PurchaseSession) bool {
		// A concurrent extension may have moved the deadline.
		if reason == models.ExpiryReasonTimeout && !ps.IsExpired(now) {
			return false
		}
		return ps.Expire(now, reason)
	})
	if err != nil {
		s.l.Errorf(ctx, "sessionService.ExpireSession: %v", err)
		return nil, err
	}
	if !ok {
		return ps, nil
	}
	s.metrics.SessionEnded(string(models.SessionStatusExpired), reason)

	var entry *models.QueueEntry
	if ps.QueueEntryID != "" {
		entry, err = s.settleEntry(ctx, ps.QueueEntryID, ps.UserID, ps.StartedAt)
		if err != nil {
			// The orphan sweep retries entries left in processing.
			s.l.Warnf(ctx, "sessionService.ExpireSession: settle entry %s: %v", ps.QueueEntryID, err)
		}
	}

	n := SessionExpiredNotification{
		PurchaseSessionID: ps.ID,
		EntryID:           ps.QueueEntryID,
		EventID:           ps.EventID,
		UserID:            ps.UserID,
		SessionID:         ps.SessionID,
		Reason:            reason,
		ExpiredAt:         now,
	}
	if ev, err := s.catalog.GetEvent(ctx, ps.EventID); err == nil {
		n.EventName = ev.Name
	}
	if entry != nil && entry.Status == models.QueueStatusCompleted {
		s.l.Infof(ctx, "session %s expired after purchase, entry %s completed", ps.ID, entry.ID)
	} else {
		s.notify.SessionExpired(ctx, n)
	}

	s.signal.SlotFreed(ctx, ps.EventID)
	return ps, nil
}

func (s *sessionService) SettleOrphanEntry(ctx context.Context, entry *models.QueueEntry) error {
	if !entry.Status.HoldsSlot() {
		return nil
	}
	since := entry.EnteredAt
	if entry.ProcessingStartedAt != nil {
		since = *entry.ProcessingStartedAt
	}

	settled, err := s.settleEntry(ctx, entry.ID, entry.UserID, since)
	if err != nil {
		return err
	}
	if settled != nil && settled.Status.IsTerminal() {
		s.signal.SlotFreed(ctx, entry.EventID)
	}
	return nil
}

// settleEntry completes the entry when the user bought during the session
// and otherwise expires it with a rejoin grace period.
func (s *sessionService) settleEntry(ctx context.Context, entryID, userID string, since time.Time) (*models.QueueEntry, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !entry.Status.IsLifecycle() {
		return entry, nil
	}

	purchased := false
	if userID != "" {
		purchased, err = s.catalog.HasPurchasedSince(ctx, entry.EventID, userID, since)
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	return s.transitionEntry(ctx, entryID, func(e *models.QueueEntry) bool {
		if purchased {
			return e.Complete(now, "order found when purchase window closed")
		}
		return e.Expire(now, s.cfg.GraceWindow, "purchase window expired")
	})
}

// CancelForEntry closes the active session of an entry that left the
// lifecycle through another path.
func (s *sessionService) CancelForEntry(ctx context.Context, entryID, reason string) error {
	ps, err := s.sessions.FindActiveByQueueEntry(ctx, entryID)
	if errors.Is(err, appErrors.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := s.clock.Now()
	_, ok, err := s.transition(ctx, ps, func(ps *models.PurchaseSession) bool {
		return ps.Cancel(now, reason)
	})
	if err != nil {
		return err
	}
	if ok {
		s.metrics.SessionEnded(string(models.SessionStatusCancelled), reason)
	}
	return nil
}

// transitionEntry applies fn to the stored entry and writes it back only if
// no one else moved it out of the lifecycle first.
func (s *sessionService) transitionEntry(ctx context.Context, entryID string, fn func(*models.QueueEntry) bool) (*models.QueueEntry, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	from := entry.Status
	if !fn(entry) {
		return entry, nil
	}
	ok, err := s.entries.UpdateIfStatus(ctx, entry, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.entries.Get(ctx, entryID)
	}
	return entry, nil
}

func (s *sessionService) syncEntryDeadline(ctx context.Context, ps *models.PurchaseSession) {
	if ps.QueueEntryID == "" {
		return
	}
	entry, err := s.entries.Get(ctx, ps.QueueEntryID)
	if err != nil || !entry.Status.HoldsSlot() {
		return
	}
	expiresAt := ps.ExpiresAt
	entry.ProcessingExpiresAt = &expiresAt
	entry.UpdatedAt = s.clock.Now()
	if _, err := s.entries.UpdateIfStatus(ctx, entry, entry.Status); err != nil {
		s.l.Warnf(ctx, "sessionService.syncEntryDeadline: %v", err)
	}
}

// loadLive returns the session, expiring it first if its window has passed.
func (s *sessionService) loadLive(ctx context.Context, id string) (*models.PurchaseSession, error) {
	ps, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ps.IsActive() && ps.IsExpired(s.clock.Now()) {
		return s.ExpireSession(ctx, ps, models.ExpiryReasonTimeout)
	}
	return ps, nil
}

// sessionWriteAttempts bounds how often one mutation is reapplied after
// losing the version check to a concurrent write.
const sessionWriteAttempts = 3

// update applies fn to the live session and writes it back at the version
// it was read at, rereading and reapplying fn when another write landed first.
func (s *sessionService) update(ctx context.Context, id string, fn func(*models.PurchaseSession) error) (*models.PurchaseSession, error) {
	for i := 0; i < sessionWriteAttempts; i++ {
		ps, err := s.loadLive(ctx, id)
		if err != nil {
			return nil, err
		}
		if ps.Status == models.SessionStatusExpired {
			return nil, s.expiredError(ctx, ps)
		}
		if err := fn(ps); err != nil {
			return nil, err
		}

		ok, err := s.sessions.UpdateIfStatus(ctx, ps, models.SessionStatusActive)
		if err != nil {
			return nil, err
		}
		if ok {
			return ps, nil
		}
	}
	return nil, fmt.Errorf("%w: changed concurrently", appErrors.ErrSessionNotActive)
}

// transition ends an active session through fn. It reports false when fn
// declines or the session already left active, returning the stored row.
func (s *sessionService) transition(ctx context.Context, ps *models.PurchaseSession, fn func(*models.PurchaseSession) bool) (*models.PurchaseSession, bool, error) {
	for attempt := 0; attempt < sessionWriteAttempts; attempt++ {
		if attempt > 0 {
			current, err := s.sessions.Get(ctx, ps.ID)
			if err != nil {
				return nil, false, err
			}
			ps = current
		}
		if !fn(ps) {
			return ps, false, nil
		}

		ok, err := s.sessions.UpdateIfStatus(ctx, ps, models.SessionStatusActive)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return ps, true, nil
		}
	}

	current, err := s.sessions.Get(ctx, ps.ID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *sessionService) expiredError(ctx context.Context, ps *models.PurchaseSession) error {
	expErr := &appErrors.ExpiredError{
		Kind:      appErrors.ExpiredPurchaseSession,
		ID:        ps.ID,
		EventID:   ps.EventID,
		Reason:    ps.EndReason,
		ExpiredAt: ps.UpdatedAt,
	}
	if ev, err := s.catalog.GetEvent(ctx, ps.EventID); err == nil {
		expErr.EventName = ev.Name
	}
	if ps.QueueEntryID != "" {
		if entry, err := s.entries.Get(ctx, ps.QueueEntryID); err == nil {
			expErr.Position = entry.Position
			expErr.CanRejoinAt = entry.GraceExpiresAt
		}
	}
	return expErr
}

func (s *sessionService) output(ps *models.PurchaseSession) *SessionOutput {
	return &SessionOutput{
		Session:        ps,
		RemainingTime:  ps.Remaining(s.clock.Now()),
		ExtensionsLeft: max(ps.MaxExtensions-ps.ExtensionCount, 0),
	}
}

// newPurchaseSession builds an active session with its checkout token. entry
// is nil for sessions opened outside the queue.
func newPurchaseSession(tokens *CheckoutTokens, entry *models.QueueEntry, eventID, userID, sessionID string, slot models.SlotType, now time.Time, cfg config.AdmissionConfig) (*models.PurchaseSession, error) {
	ps := &models.PurchaseSession{
		ID:            uuid.NewString(),
		EventID:       eventID,
		UserID:        userID,
		SessionID:     sessionID,
		Status:        models.SessionStatusActive,
		SlotType:      slot,
		StartedAt:     now,
		ExpiresAt:     now.Add(cfg.SessionWindow),
		MaxExtensions: cfg.MaxExtensions,
		TotalAmount:   decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if entry != nil {
		ps.QueueEntryID = entry.ID
	}

	token, err := tokens.Issue(ps)
	if err != nil {
		return nil, err
	}
	ps.CheckoutToken = token
	return ps, nil
}
