// Package memory keeps every record in process memory. It backs local runs
// with STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"sync"

	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
)

type Store struct {
	mu          sync.RWMutex
	entries     map[string]*models.QueueEntry
	sessions    map[string]*models.PurchaseSession
	events      map[string]*models.Event
	ticketTypes map[string]*models.TicketType
	orders      map[string]*models.Order
}

func NewStore() *Store {
	return &Store{
		entries:     make(map[string]*models.QueueEntry),
		sessions:    make(map[string]*models.PurchaseSession),
		events:      make(map[string]*models.Event),
		ticketTypes: make(map[string]*models.TicketType),
		orders:      make(map[string]*models.Order),
	}
}

func (s *Store) QueueEntries() repository.QueueEntryRepository {
	return &queueEntryRepository{s: s}
}

func (s *Store) PurchaseSessions() repository.PurchaseSessionRepository {
	return &purchaseSessionRepository{s: s}
}

func (s *Store) Catalog() repository.CatalogRepository {
	return &catalogRepository{s: s}
}

func (s *Store) PutEvent(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = &e
}

func (s *Store) DeleteEvent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
}

func (s *Store) PutTicketType(t models.TicketType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketTypes[t.ID] = &t
}

func (s *Store) PutOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.Items = append([]models.OrderItem(nil), o.Items...)
	s.orders[o.ID] = &o
}

func cloneEntry(e *models.QueueEntry) *models.QueueEntry {
	c := *e
	return &c
}

func cloneSession(ps *models.PurchaseSession) *models.PurchaseSession {
	c := *ps
	c.SelectedTickets = append([]models.LineItem(nil), ps.SelectedTickets...)
	if ps.CustomerInfo != nil {
		info := *ps.CustomerInfo
		c.CustomerInfo = &info
	}
	return &c
}

func matchesIdentity(e *models.QueueEntry, id repository.Identity) bool {
	if id.UserID != "" {
		return e.UserID == id.UserID
	}
	return e.UserID == "" && e.SessionID == id.SessionID
}

func identityOf(e *models.QueueEntry) repository.Identity {
	return repository.Identity{UserID: e.UserID, SessionID: e.SessionID}
}
