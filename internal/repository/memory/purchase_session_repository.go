package memory

import (
	"context"
	"sort"
	"time"

	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
)

type purchaseSessionRepository struct {
	s *Store
}

func (r *purchaseSessionRepository) Create(ctx context.Context, session *models.PurchaseSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if session.QueueEntryID != "" && session.IsActive() {
		for _, ps := range r.s.sessions {
			if ps.QueueEntryID == session.QueueEntryID && ps.IsActive() {
				return appErrors.ErrActiveSessionExists
			}
		}
	}
	r.s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *purchaseSessionRepository) Get(ctx context.Context, id string) (*models.PurchaseSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ps, ok := r.s.sessions[id]
	if !ok {
		return nil, appErrors.ErrSessionNotFound
	}
	return cloneSession(ps), nil
}

func (r *purchaseSessionRepository) FindActiveByQueueEntry(ctx context.Context, queueEntryID string) (*models.PurchaseSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, ps := range r.s.sessions {
		if ps.QueueEntryID == queueEntryID && ps.IsActive() {
			return cloneSession(ps), nil
		}
	}
	return nil, appErrors.ErrSessionNotFound
}

func (r *purchaseSessionRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*models.PurchaseSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.PurchaseSession
	for _, ps := range r.s.sessions {
		if ps.IsActive() && ps.IsExpired(now) {
			out = append(out, cloneSession(ps))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *purchaseSessionRepository) UpdateIfStatus(ctx context.Context, session *models.PurchaseSession, expected models.SessionStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.sessions[session.ID]
	if !ok {
		return false, appErrors.ErrSessionNotFound
	}
	if current.Status != expected || current.Version != session.Version {
		return false, nil
	}
	session.Version++
	r.s.sessions[session.ID] = cloneSession(session)
	return true, nil
}

func (r *purchaseSessionRepository) Stats(ctx context.Context, eventID string) (*models.SessionStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &models.SessionStats{EventID: eventID, CountsByStatus: make(map[models.SessionStatus]int)}
	extensions := 0
	for _, ps := range r.s.sessions {
		if ps.EventID != eventID {
			continue
		}
		stats.CountsByStatus[ps.Status]++
		stats.Total++
		extensions += ps.ExtensionCount
	}
	if stats.Total > 0 {
		stats.AvgExtensions = float64(extensions) / float64(stats.Total)
	}
	return stats, nil
}
