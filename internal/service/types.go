package service

import (
	"time"

	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
)

type JoinQueueInput struct {
	EventID   string
	UserID    string
	SessionID string
}

type JoinQueueOutput struct {
	Entry               *models.QueueEntry
	Created             bool
	Position            int
	QueueLength         int
	EstimatedWait       time.Duration
	EstimatedWaitString string
}

type QueueStatusInput struct {
	EventID   string
	UserID    string
	SessionID string
}

type QueueStatusOutput struct {
	Entry                   *models.QueueEntry
	Position                int
	QueueLength             int
	EstimatedWait           time.Duration
	EstimatedWaitString     string
	RemainingProcessingTime time.Duration
	PurchaseSessionID       string
}

type LeaveReason string

const (
	LeaveAbandoned LeaveReason = "abandoned"
	LeaveLeft      LeaveReason = "left"
)

type LeaveQueueInput struct {
	EventID   string
	UserID    string
	SessionID string
	Reason    LeaveReason
}

type LeaveQueueOutput struct {
	Entry   *models.QueueEntry
	Changed bool
}

type MarkPriorityInput struct {
	EntryID string
	AdminID string
	Reason  string
}

type AdminEntryInput struct {
	EntryID string
	AdminID string
	Note    string
}

type AdmissionResult struct {
	Entry   *models.QueueEntry
	Session *models.PurchaseSession
}

type StatisticsOutput struct {
	EventID         string
	ConcurrentUsers int
	OccupiedSlots   int
	AvailableSlots  int
	Queue           *models.QueueStats
	Sessions        *models.SessionStats
}

type SessionOutput struct {
	Session        *models.PurchaseSession
	RemainingTime  time.Duration
	ExtensionsLeft int
}

type ExtendSessionInput struct {
	SessionID     string
	CheckoutToken string
	Minutes       int
}

type CartItem struct {
	TicketTypeID string
	Quantity     int
}

type CartItemsInput struct {
	SessionID     string
	CheckoutToken string
	Items         []CartItem
}

type CustomerInfoInput struct {
	SessionID     string
	CheckoutToken string
	Info          models.CustomerInfo
}

// SessionActionInput identifies a session and proves its holder.
type SessionActionInput struct {
	SessionID     string
	CheckoutToken string
}

type CompleteSessionInput struct {
	SessionID     string
	OrderID       string
	CheckoutToken string
}

type ManualSessionInput struct {
	EventID  string
	UserID   string
	AdminID  string
	Priority bool
}

type OrderCompletedInput struct {
	OrderID           string
	EventID           string
	UserID            string
	PurchaseSessionID string
}

type LimitDecision struct {
	Allowed bool
	Reason  string
}

// Notifications are handed to the delivery layer without waiting for the outcome.

type QueueJoinedNotification struct {
	EntryID   string
	EventID   string
	EventName string
	UserID    string
	SessionID string
	Position  int
	JoinedAt  time.Time
}

type QueueTurnNotification struct {
	EntryID           string
	EventID           string
	EventName         string
	UserID            string
	SessionID         string
	PurchaseSessionID string
	SlotType          models.SlotType
	ExpiresAt         time.Time
}

type SessionExpiredNotification struct {
	PurchaseSessionID string
	EntryID           string
	EventID           string
	EventName         string
	UserID            string
	SessionID         string
	Reason            string
	ExpiredAt         time.Time
}
