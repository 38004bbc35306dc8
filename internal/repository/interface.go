package repository

import (
	"context"
	"time"

	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
)

// Identity addresses a queue member by user, falling back to the client session.
type Identity struct {
	UserID    string
	SessionID string
}

func (id Identity) IsZero() bool {
	return id.UserID == "" && id.SessionID == ""
}

type QueueEntryRepository interface {
	// Join returns the existing lifecycle entry for the identity when one exists.
	// Otherwise it purges prior rows for the identity and inserts entry at the
	// tail of the queue, all in one transaction.
	Join(ctx context.Context, entry *models.QueueEntry) (*models.QueueEntry, bool, error)
	Get(ctx context.Context, id string) (*models.QueueEntry, error)
	FindLatest(ctx context.Context, eventID string, id Identity) (*models.QueueEntry, error)
	ListWaiting(ctx context.Context, eventID string, limit int) ([]*models.QueueEntry, error)
	ListLifecycle(ctx context.Context, afterID string, limit int) ([]*models.QueueEntry, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*models.QueueEntry, error)
	CountByStatus(ctx context.Context, eventID string, statuses ...models.QueueStatus) (int, error)
	// Rank is the 1-based place of the entry among waiting entries.
	Rank(ctx context.Context, entry *models.QueueEntry) (int, error)
	// UpdateIfStatus persists entry only if the stored status is one of expected.
	UpdateIfStatus(ctx context.Context, entry *models.QueueEntry, expected ...models.QueueStatus) (bool, error)
	// Promote moves entry from waiting to processing and inserts its session
	// atomically. It fails with ErrNoAvailableSlots when the event already has
	// capacity entries holding a slot.
	Promote(ctx context.Context, entry *models.QueueEntry, session *models.PurchaseSession, capacity int) (bool, error)
	ReorderPositions(ctx context.Context, eventID string) (int, error)
	Stats(ctx context.Context, eventID string) (*models.QueueStats, error)
}

type PurchaseSessionRepository interface {
	Create(ctx context.Context, session *models.PurchaseSession) error
	Get(ctx context.Context, id string) (*models.PurchaseSession, error)
	FindActiveByQueueEntry(ctx context.Context, queueEntryID string) (*models.PurchaseSession, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*models.PurchaseSession, error)
	// UpdateIfStatus persists session only if the stored row still has the
	// expected status and the version session was read at. On success the
	// version of session is advanced.
	UpdateIfStatus(ctx context.Context, session *models.PurchaseSession, expected models.SessionStatus) (bool, error)
	Stats(ctx context.Context, eventID string) (*models.SessionStats, error)
}

// CatalogRepository reads records owned by the event, inventory and order services.
type CatalogRepository interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListEventsByStatus(ctx context.Context, status models.EventStatus) ([]*models.Event, error)
	ListTicketTypes(ctx context.Context, eventID string) ([]*models.TicketType, error)
	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
	PurchasedQuantity(ctx context.Context, ticketTypeID, userID string) (int, error)
	HasPurchasedSince(ctx context.Context, eventID, userID string, since time.Time) (bool, error)
}
