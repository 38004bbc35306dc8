package service

import (
	"context"

	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
)

type QueueService interface {
	JoinQueue(ctx context.Context, in JoinQueueInput) (*JoinQueueOutput, error)
	GetQueueStatus(ctx context.Context, in QueueStatusInput) (*QueueStatusOutput, error)
	LeaveQueue(ctx context.Context, in LeaveQueueInput) (*LeaveQueueOutput, error)
	MarkAsPriority(ctx context.Context, in MarkPriorityInput) (*models.QueueEntry, error)
	CancelEntry(ctx context.Context, in AdminEntryInput) (*models.QueueEntry, error)
	ForceComplete(ctx context.Context, in AdminEntryInput) (*models.QueueEntry, error)
	ProcessNext(ctx context.Context, eventID string) (*AdmissionResult, error)
	GetStatistics(ctx context.Context, eventID string) (*StatisticsOutput, error)
}

type SessionService interface {
	GetSession(ctx context.Context, id string) (*SessionOutput, error)
	ExtendSession(ctx context.Context, in ExtendSessionInput) (*SessionOutput, error)
	AddItems(ctx context.Context, in CartItemsInput) (*SessionOutput, error)
	RemoveItems(ctx context.Context, in CartItemsInput) (*SessionOutput, error)
	SetCustomerInfo(ctx context.Context, in CustomerInfoInput) (*SessionOutput, error)
	CompleteSession(ctx context.Context, in CompleteSessionInput) (*SessionOutput, error)
	AbandonSession(ctx context.Context, in SessionActionInput) (*SessionOutput, error)
	CreateManualSession(ctx context.Context, in ManualSessionInput) (*SessionOutput, error)
	HandleOrderCompleted(ctx context.Context, in OrderCompletedInput) error

	// ExpireSession is the single path that turns an active session into an
	// expired one and settles its queue entry.
	ExpireSession(ctx context.Context, ps *models.PurchaseSession, reason string) (*models.PurchaseSession, error)
	// SettleOrphanEntry resolves a processing entry that lost its session.
	SettleOrphanEntry(ctx context.Context, entry *models.QueueEntry) error
	CancelForEntry(ctx context.Context, entryID, reason string) error
}

// Inventory answers availability and per-user allowance questions.
type Inventory interface {
	FindAvailableByEvent(ctx context.Context, eventID string) ([]*models.TicketType, error)
	CanPurchaseWithLimit(ctx context.Context, ticketType *models.TicketType, quantity int, userID string) (LimitDecision, error)
	HasUserReachedAllEventLimits(ctx context.Context, eventID, userID string) (bool, error)
}

type Notifier interface {
	QueueJoined(ctx context.Context, n QueueJoinedNotification) error
	QueueTurn(ctx context.Context, n QueueTurnNotification) error
	SessionExpired(ctx context.Context, n SessionExpiredNotification) error
}

// SlotSignaler announces that an event may have capacity to admit again.
type SlotSignaler interface {
	SlotFreed(ctx context.Context, eventID string)
}
