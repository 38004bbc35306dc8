package models

import (
	"fmt"
	"time"

	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
)

type QueueStatus string

const (
	// QueueStatusWaitingRoom is a retired pre-sale holding state. Rows may still
	// carry it but no code path produces it.
	QueueStatusWaitingRoom QueueStatus = "waiting_room"
	QueueStatusWaiting     QueueStatus = "waiting"
	QueueStatusActive      QueueStatus = "active"
	QueueStatusProcessing  QueueStatus = "processing"
	QueueStatusCompleted   QueueStatus = "completed"
	QueueStatusAbandoned   QueueStatus = "abandoned"
	QueueStatusExpired     QueueStatus = "expired"
	QueueStatusCancelled   QueueStatus = "cancelled"
	QueueStatusLeft        QueueStatus = "left"
)

// LifecycleStatuses are the statuses that count as queue membership.
var LifecycleStatuses = []QueueStatus{QueueStatusWaiting, QueueStatusActive, QueueStatusProcessing}

// SlotStatuses are the statuses that consume a concurrency slot.
var SlotStatuses = []QueueStatus{QueueStatusActive, QueueStatusProcessing}

func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueStatusCompleted, QueueStatusAbandoned, QueueStatusExpired, QueueStatusCancelled, QueueStatusLeft:
		return true
	}
	return false
}

func (s QueueStatus) IsLifecycle() bool {
	return s == QueueStatusWaiting || s == QueueStatusActive || s == QueueStatusProcessing
}

func (s QueueStatus) HoldsSlot() bool {
	return s == QueueStatusActive || s == QueueStatusProcessing
}

func (s QueueStatus) isPreProcessing() bool {
	return s == QueueStatusWaiting || s == QueueStatusWaitingRoom
}

type QueueEntry struct {
	ID                   string        `json:"id"`
	EventID              string        `json:"event_id"`
	UserID               string        `json:"user_id,omitempty"`
	SessionID            string        `json:"session_id"`
	Position             int           `json:"position"`
	IsPriority           bool          `json:"is_priority"`
	PriorityReason       string        `json:"priority_reason,omitempty"`
	PriorityGrantedBy    string        `json:"priority_granted_by,omitempty"`
	Status               QueueStatus   `json:"status"`
	EnteredAt            time.Time     `json:"entered_at"`
	WaitingRoomEnteredAt *time.Time    `json:"waiting_room_entered_at,omitempty"`
	QueueJoinedAt        *time.Time    `json:"queue_joined_at,omitempty"`
	ProcessingStartedAt  *time.Time    `json:"processing_started_at,omitempty"`
	ProcessingExpiresAt  *time.Time    `json:"processing_expires_at,omitempty"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
	GraceExpiresAt       *time.Time    `json:"grace_expires_at,omitempty"`
	TotalWaitTime        time.Duration `json:"total_wait_time"`
	ProcessingTime       time.Duration `json:"processing_time"`
	Notes                string        `json:"notes,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// NewQueueEntry builds a waiting entry. Position is assigned by the store.
func NewQueueEntry(id, eventID, userID, sessionID string, now time.Time) *QueueEntry {
	joined := now
	return &QueueEntry{
		ID:            id,
		EventID:       eventID,
		UserID:        userID,
		SessionID:     sessionID,
		Status:        QueueStatusWaiting,
		EnteredAt:     now,
		QueueJoinedAt: &joined,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (e *QueueEntry) IsAnonymous() bool {
	return e.UserID == ""
}

// InGrace reports whether the entry expired recently enough that an
// in-flight purchase may still land.
func (e *QueueEntry) InGrace(now time.Time) bool {
	return e.Status == QueueStatusExpired && e.GraceExpiresAt != nil && now.Before(*e.GraceExpiresAt)
}

// RemainingProcessingTime is zero outside of processing.
func (e *QueueEntry) RemainingProcessingTime(now time.Time) time.Duration {
	if !e.Status.HoldsSlot() || e.ProcessingExpiresAt == nil {
		return 0
	}
	if d := e.ProcessingExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (e *QueueEntry) StartProcessing(now time.Time, window time.Duration) error {
	if !e.Status.isPreProcessing() {
		return fmt.Errorf("%w: cannot start processing from %s", appErrors.ErrInvalidTransition, e.Status)
	}

	expires := now.Add(window)
	started := now
	e.Status = QueueStatusProcessing
	e.ProcessingStartedAt = &started
	e.ProcessingExpiresAt = &expires
	e.TotalWaitTime = now.Sub(e.EnteredAt)
	e.UpdatedAt = now
	return nil
}

// Complete is valid from processing, and from waiting for administrative
// force-completion. Terminal entries are left untouched.
func (e *QueueEntry) Complete(now time.Time, note string) bool {
	if e.Status.IsTerminal() {
		return false
	}

	completed := now
	e.Status = QueueStatusCompleted
	e.CompletedAt = &completed
	if e.ProcessingStartedAt != nil {
		e.ProcessingTime = now.Sub(*e.ProcessingStartedAt)
	}
	e.appendNote(note)
	e.UpdatedAt = now
	return true
}

// Expire frees the slot and opens a grace window during which a rejoin is refused.
func (e *QueueEntry) Expire(now time.Time, grace time.Duration, note string) bool {
	if e.Status.IsTerminal() {
		return false
	}

	if e.ProcessingStartedAt != nil {
		e.ProcessingTime = now.Sub(*e.ProcessingStartedAt)
	}
	if grace > 0 {
		until := now.Add(grace)
		e.GraceExpiresAt = &until
	}
	e.Status = QueueStatusExpired
	e.appendNote(note)
	e.UpdatedAt = now
	return true
}

func (e *QueueEntry) Cancel(now time.Time, note string) bool {
	if e.Status.IsTerminal() {
		return false
	}

	e.Status = QueueStatusCancelled
	e.appendNote(note)
	e.UpdatedAt = now
	return true
}

// Abandon and Leave are user exits and only apply before promotion.
func (e *QueueEntry) Abandon(now time.Time) (bool, error) {
	return e.exitBeforeProcessing(now, QueueStatusAbandoned)
}

func (e *QueueEntry) Leave(now time.Time) (bool, error) {
	return e.exitBeforeProcessing(now, QueueStatusLeft)
}

func (e *QueueEntry) exitBeforeProcessing(now time.Time, to QueueStatus) (bool, error) {
	if e.Status.IsTerminal() {
		return false, nil
	}
	if !e.Status.isPreProcessing() {
		return false, fmt.Errorf("%w: cannot move from %s to %s", appErrors.ErrInvalidTransition, e.Status, to)
	}

	e.Status = to
	e.UpdatedAt = now
	return true, nil
}

func (e *QueueEntry) MarkPriority(now time.Time, adminID, reason string) {
	e.IsPriority = true
	e.PriorityGrantedBy = adminID
	e.PriorityReason = reason
	e.UpdatedAt = now
}

func (e *QueueEntry) appendNote(note string) {
	if note == "" {
		return
	}
	if e.Notes == "" {
		e.Notes = note
		return
	}
	e.Notes = e.Notes + "; " + note
}
