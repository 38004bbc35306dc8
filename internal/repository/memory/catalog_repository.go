package memory

import (
	"context"
	"sort"
	"time"

	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
)

type catalogRepository struct {
	s *Store
}

func (r *catalogRepository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.events[id]
	if !ok {
		return nil, appErrors.ErrEventNotFound
	}
	c := *e
	return &c, nil
}

func (r *catalogRepository) ListEventsByStatus(ctx context.Context, status models.EventStatus) ([]*models.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Event
	for _, e := range r.s.events {
		if e.Status == status {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *catalogRepository) ListTicketTypes(ctx context.Context, eventID string) ([]*models.TicketType, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.TicketType
	for _, t := range r.s.ticketTypes {
		if t.EventID == eventID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *catalogRepository) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.ticketTypes[id]
	if !ok {
		return nil, appErrors.ErrTicketTypeNotFound
	}
	c := *t
	return &c, nil
}

func (r *catalogRepository) PurchasedQuantity(ctx context.Context, ticketTypeID, userID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	total := 0
	for _, o := range r.s.orders {
		if o.UserID != userID || !o.IsPurchased() {
			continue
		}
		for _, item := range o.Items {
			if item.TicketTypeID == ticketTypeID {
				total += item.Quantity
			}
		}
	}
	return total, nil
}

func (r *catalogRepository) HasPurchasedSince(ctx context.Context, eventID, userID string, since time.Time) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, o := range r.s.orders {
		if o.EventID == eventID && o.UserID == userID && o.IsPurchased() && !o.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}
