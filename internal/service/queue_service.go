package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vogiaan1904/ticketbottle-admission/config"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

type QueueServiceDeps struct {
	Entries   repository.QueueEntryRepository
	Sessions  repository.PurchaseSessionRepository
	Catalog   repository.CatalogRepository
	Inventory Inventory
	Session   SessionService
	Processor AdmissionProcessor
	Notify    *NotificationDispatcher
	Signal    SlotSignaler
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

type queueService struct {
	entries   repository.QueueEntryRepository
	sessions  repository.PurchaseSessionRepository
	catalog   repository.CatalogRepository
	inventory Inventory
	session   SessionService
	processor AdmissionProcessor
	notify    *NotificationDispatcher
	signal    SlotSignaler
	metrics   *metrics.Metrics
	clock     clock.Clock
	cfg       config.AdmissionConfig
	l         logger.Logger
}

func NewQueueService(deps QueueServiceDeps, cfg config.AdmissionConfig, l logger.Logger) QueueService {
	return &queueService{
		entries:   deps.Entries,
		sessions:  deps.Sessions,
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		session:   deps.Session,
		processor: deps.Processor,
		notify:    deps.Notify,
		signal:    deps.Signal,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		cfg:       cfg,
		l:         l,
	}
}

func (s *queueService) JoinQueue(ctx context.Context, in JoinQueueInput) (*JoinQueueOutput, error) {
	out, err := s.join(ctx, in)
	switch {
	case err == nil && out.Created:
		s.metrics.QueueJoin("joined")
	case err == nil:
		s.metrics.QueueJoin("existing")
	default:
		if rej, ok := appErrors.AsRejection(err); ok {
			s.metrics.QueueJoin(string(rej.Code))
		} else {
			s.metrics.QueueJoin("error")
		}
		s.l.Warnf(ctx, "queueService.JoinQueue: %v", err)
	}
	return out, err
}

func (s *queueService) join(ctx context.Context, in JoinQueueInput) (*JoinQueueOutput, error) {
	id := repository.Identity{UserID: in.UserID, SessionID: in.SessionID}
	if in.EventID == "" || id.IsZero() {
		return nil, appErrors.ErrIdentityRequired
	}

	ev, err := s.catalog.GetEvent(ctx, in.EventID)
	if err != nil {
		return nil, err
	}
	if err := s.checkEligible(ctx, ev, in.UserID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	latest, err := s.entries.FindLatest(ctx, in.EventID, id)
	if err != nil && !errors.Is(err, appErrors.ErrEntryNotFound) {
		return nil, err
	}
	if latest != nil && latest.InGrace(now) {
		rej := appErrors.Reject(appErrors.CodeRejoinGracePeriod, "a recently expired purchase window may still complete")
		rej.RetryAfter = latest.GraceExpiresAt.Sub(now)
		return nil, rej
	}

	candidate := models.NewQueueEntry(uuid.NewString(), in.EventID, in.UserID, in.SessionID, now)
	entry, created, err := s.entries.Join(ctx, candidate)
	if err != nil {
		return nil, err
	}

	out := &JoinQueueOutput{Entry: entry, Created: created}
	if err := s.fillEstimate(ctx, ev, entry, &out.Position, &out.QueueLength, &out.EstimatedWait); err != nil {
		return nil, err
	}
	out.EstimatedWaitString = FormatWait(out.EstimatedWait)

	if created {
		s.notify.QueueJoined(ctx, QueueJoinedNotification{
			EntryID:   entry.ID,
			EventID:   ev.ID,
			EventName: ev.Name,
			UserID:    entry.UserID,
			SessionID: entry.SessionID,
			Position:  entry.Position,
			JoinedAt:  entry.EnteredAt,
		})
		s.signal.SlotFreed(ctx, ev.ID)
	}
	return out, nil
}

func (s *queueService) checkEligible(ctx context.Context, ev *models.Event, userID string) error {
	if ev.IsClosed() {
		return appErrors.Reject(appErrors.CodeEventNotEligible, fmt.Sprintf("event is %s", ev.Status))
	}

	switch ev.Window(s.clock.Now()) {
	case models.SaleNotStarted:
		rej := appErrors.Reject(appErrors.CodeSaleNotStarted, "ticket sale has not started")
		if ev.SaleStartAt != nil {
			rej.RetryAfter = ev.SaleStartAt.Sub(s.clock.Now())
		}
		return rej
	case models.SaleEnded:
		return appErrors.Reject(appErrors.CodeSaleEnded, "ticket sale has ended")
	}

	available, err := s.inventory.FindAvailableByEvent(ctx, ev.ID)
	if err != nil {
		return err
	}
	if len(available) == 0 {
		return appErrors.Reject(appErrors.CodeSoldOut, "no tickets remaining")
	}

	reached, err := s.inventory.HasUserReachedAllEventLimits(ctx, ev.ID, userID)
	if err != nil {
		return err
	}
	if reached {
		return appErrors.Reject(appErrors.CodeTicketLimitReached, "purchase limit reached for every ticket type")
	}
	return nil
}

func (s *queueService) GetQueueStatus(ctx context.Context, in QueueStatusInput) (*QueueStatusOutput, error) {
	id := repository.Identity{UserID: in.UserID, SessionID: in.SessionID}
	if in.EventID == "" || id.IsZero() {
		return nil, appErrors.ErrIdentityRequired
	}

	entry, err := s.entries.FindLatest(ctx, in.EventID, id)
	if err != nil {
		s.l.Warnf(ctx, "queueService.GetQueueStatus: %v", err)
		return nil, err
	}

	out := &QueueStatusOutput{}
	if entry.Status.HoldsSlot() {
		ps, err := s.sessions.FindActiveByQueueEntry(ctx, entry.ID)
		switch {
		case err == nil && ps.IsExpired(s.clock.Now()):
			if _, err := s.session.ExpireSession(ctx, ps, models.ExpiryReasonTimeout); err != nil {
				return nil, err
			}
			if entry, err = s.entries.Get(ctx, entry.ID); err != nil {
				return nil, err
			}
		case err == nil:
			out.PurchaseSessionID = ps.ID
		case !errors.Is(err, appErrors.ErrSessionNotFound):
			return nil, err
		}
	}

	if entry.Status == models.QueueStatusExpired {
		return nil, s.expiredError(ctx, entry)
	}

	out.Entry = entry
	out.RemainingProcessingTime = entry.RemainingProcessingTime(s.clock.Now())
	if entry.Status == models.QueueStatusWaiting {
		ev, err := s.catalog.GetEvent(ctx, entry.EventID)
		if err != nil {
			return nil, err
		}
		if err := s.fillEstimate(ctx, ev, entry, &out.Position, &out.QueueLength, &out.EstimatedWait); err != nil {
			return nil, err
		}
	}
	out.EstimatedWaitString = FormatWait(out.EstimatedWait)
	return out, nil
}

// fillEstimate computes the live rank rather than trusting stored positions.
func (s *queueService) fillEstimate(ctx context.Context, ev *models.Event, entry *models.QueueEntry, position, length *int, wait *time.Duration) error {
	if entry.Status != models.QueueStatusWaiting {
		return nil
	}

	rank, err := s.entries.Rank(ctx, entry)
	if err != nil {
		return err
	}
	waiting, err := s.entries.CountByStatus(ctx, ev.ID, models.QueueStatusWaiting)
	if err != nil {
		return err
	}

	var avgProcessing time.Duration
	if stats, err := s.entries.Stats(ctx, ev.ID); err == nil {
		avgProcessing = stats.AvgProcessingTime
	}

	*position = rank
	*length = waiting
	*wait = EstimateWait(rank, ev.ConcurrentUsers, avgProcessing, s.cfg.SessionWindow)
	return nil
}

func (s *queueService) LeaveQueue(ctx context.Context, in LeaveQueueInput) (*LeaveQueueOutput, error) {
	id := repository.Identity{UserID: in.UserID, SessionID: in.SessionID}
	if in.EventID == "" || id.IsZero() {
		return nil, appErrors.ErrIdentityRequired
	}

	entry, err := s.entries.FindLatest(ctx, in.EventID, id)
	if err != nil {
		s.l.Warnf(ctx, "queueService.LeaveQueue: %v", err)
		return nil, err
	}

	now := s.clock.Now()
	var changed bool
	if in.Reason == LeaveLeft {
		changed, err = entry.Leave(now)
	} else {
		changed, err = entry.Abandon(now)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: entry is %s, end the purchase session instead", err, entry.Status)
	}
	if !changed {
		return &LeaveQueueOutput{Entry: entry}, nil
	}

	ok, err := s.entries.UpdateIfStatus(ctx, entry, models.QueueStatusWaiting)
	if err != nil {
		s.l.Errorf(ctx, "queueService.LeaveQueue: %v", err)
		return nil, err
	}
	if !ok {
		current, err := s.entries.Get(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		return &LeaveQueueOutput{Entry: current}, nil
	}

	s.reorder(ctx, entry.EventID)
	return &LeaveQueueOutput{Entry: entry, Changed: true}, nil
}

func (s *queueService) MarkAsPriority(ctx context.Context, in MarkPriorityInput) (*models.QueueEntry, error) {
	entry, err := s.entries.Get(ctx, in.EntryID)
	if err != nil {
		s.l.Warnf(ctx, "queueService.MarkAsPriority: %v", err)
		return nil, err
	}
	if !entry.Status.IsLifecycle() {
		return nil, fmt.Errorf("%w: entry is %s", appErrors.ErrInvalidTransition, entry.Status)
	}

	from := entry.Status
	entry.MarkPriority(s.clock.Now(), in.AdminID, in.Reason)
	ok, err := s.entries.UpdateIfStatus(ctx, entry, from)
	if err != nil {
		s.l.Errorf(ctx, "queueService.MarkAsPriority: %v", err)
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: entry changed concurrently", appErrors.ErrInvalidTransition)
	}

	s.reorder(ctx, entry.EventID)
	return s.entries.Get(ctx, entry.ID)
}

func (s *queueService) CancelEntry(ctx context.Context, in AdminEntryInput) (*models.QueueEntry, error) {
	note := adminNote("cancelled", in)
	return s.endEntry(ctx, in.EntryID, note, func(e *models.QueueEntry) bool {
		return e.Cancel(s.clock.Now(), note)
	})
}

func (s *queueService) ForceComplete(ctx context.Context, in AdminEntryInput) (*models.QueueEntry, error) {
	note := adminNote("completed", in)
	return s.endEntry(ctx, in.EntryID, note, func(e *models.QueueEntry) bool {
		return e.Complete(s.clock.Now(), note)
	})
}

// endEntry moves a lifecycle entry to a terminal state, closing its session
// and releasing its slot or queue place.
func (s *queueService) endEntry(ctx context.Context, entryID, note string, fn func(*models.QueueEntry) bool) (*models.QueueEntry, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		s.l.Warnf(ctx, "queueService.endEntry: %v", err)
		return nil, err
	}

	from := entry.Status
	if !fn(entry) {
		return entry, nil
	}
	ok, err := s.entries.UpdateIfStatus(ctx, entry, from)
	if err != nil {
		s.l.Errorf(ctx, "queueService.endEntry: %v", err)
		return nil, err
	}
	if !ok {
		return s.entries.Get(ctx, entryID)
	}

	if from.HoldsSlot() {
		if err := s.session.CancelForEntry(ctx, entry.ID, note); err != nil {
			s.l.Warnf(ctx, "queueService.endEntry: cancel session: %v", err)
		}
		s.signal.SlotFreed(ctx, entry.EventID)
	} else {
		s.reorder(ctx, entry.EventID)
	}
	return entry, nil
}

func (s *queueService) ProcessNext(ctx context.Context, eventID string) (*AdmissionResult, error) {
	res, err := s.processor.ProcessNext(ctx, eventID)
	if err != nil {
		s.l.Warnf(ctx, "queueService.ProcessNext: %v", err)
		return nil, err
	}
	return res, nil
}

func (s *queueService) GetStatistics(ctx context.Context, eventID string) (*StatisticsOutput, error) {
	ev, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	queueStats, err := s.entries.Stats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	sessionStats, err := s.sessions.Stats(ctx, eventID)
	if err != nil {
		return nil, err
	}

	occupied := queueStats.Count(models.SlotStatuses...)
	return &StatisticsOutput{
		EventID:         eventID,
		ConcurrentUsers: ev.ConcurrentUsers,
		OccupiedSlots:   occupied,
		AvailableSlots:  max(ev.ConcurrentUsers-occupied, 0),
		Queue:           queueStats,
		Sessions:        sessionStats,
	}, nil
}

func (s *queueService) reorder(ctx context.Context, eventID string) {
	if _, err := s.entries.ReorderPositions(ctx, eventID); err != nil {
		s.l.Warnf(ctx, "queueService.reorder: %v", err)
	}
}

func (s *queueService) expiredError(ctx context.Context, entry *models.QueueEntry) error {
	expErr := &appErrors.ExpiredError{
		Kind:        appErrors.ExpiredQueueEntry,
		ID:          entry.ID,
		EventID:     entry.EventID,
		Position:    entry.Position,
		Reason:      entry.Notes,
		ExpiredAt:   entry.UpdatedAt,
		CanRejoinAt: entry.GraceExpiresAt,
	}
	if entry.CompletedAt != nil {
		expErr.ExpiredAt = *entry.CompletedAt
	}
	if ev, err := s.catalog.GetEvent(ctx, entry.EventID); err == nil {
		expErr.EventName = ev.Name
	}
	return expErr
}

func adminNote(action string, in AdminEntryInput) string {
	note := action + " by " + in.AdminID
	if in.Note != "" {
		note += ": " + in.Note
	}
	return note
}
