package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
)

type queueEntryRepository struct {
	s *Store
}

func (r *queueEntryRepository) Join(ctx context.Context, entry *models.QueueEntry) (*models.QueueEntry, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id := identityOf(entry)
	lifecycle := 0
	for key, e := range r.s.entries {
		if e.EventID != entry.EventID {
			continue
		}
		if matchesIdentity(e, id) {
			if e.Status.IsLifecycle() {
				return cloneEntry(e), false, nil
			}
			delete(r.s.entries, key)
			continue
		}
		if e.Status.IsLifecycle() {
			lifecycle++
		}
	}

	entry.Position = lifecycle + 1
	r.s.entries[entry.ID] = cloneEntry(entry)
	return cloneEntry(entry), true, nil
}

func (r *queueEntryRepository) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.entries[id]
	if !ok {
		return nil, appErrors.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (r *queueEntryRepository) FindLatest(ctx context.Context, eventID string, id repository.Identity) (*models.QueueEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *models.QueueEntry
	for _, e := range r.s.entries {
		if e.EventID != eventID || !matchesIdentity(e, id) {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, appErrors.ErrEntryNotFound
	}
	return cloneEntry(latest), nil
}

func (r *queueEntryRepository) ListWaiting(ctx context.Context, eventID string, limit int) ([]*models.QueueEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	waiting := r.waitingLocked(eventID)
	if limit > 0 && len(waiting) > limit {
		waiting = waiting[:limit]
	}

	out := make([]*models.QueueEntry, 0, len(waiting))
	for _, e := range waiting {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (r *queueEntryRepository) ListLifecycle(ctx context.Context, afterID string, limit int) ([]*models.QueueEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.QueueEntry
	for _, e := range r.s.entries {
		if e.Status.IsLifecycle() && e.ID > afterID {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *queueEntryRepository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*models.QueueEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.QueueEntry
	for _, e := range r.s.entries {
		if e.Status.HoldsSlot() && e.ProcessingExpiresAt != nil && e.ProcessingExpiresAt.Before(before) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessingExpiresAt.Before(*out[j].ProcessingExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *queueEntryRepository) CountByStatus(ctx context.Context, eventID string, statuses ...models.QueueStatus) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, e := range r.s.entries {
		if e.EventID == eventID && slices.Contains(statuses, e.Status) {
			n++
		}
	}
	return n, nil
}

func (r *queueEntryRepository) Rank(ctx context.Context, entry *models.QueueEntry) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for i, e := range r.waitingLocked(entry.EventID) {
		if e.ID == entry.ID {
			return i + 1, nil
		}
	}
	return 0, nil
}

func (r *queueEntryRepository) UpdateIfStatus(ctx context.Context, entry *models.QueueEntry, expected ...models.QueueStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.casLocked(entry, expected...)
}

func (r *queueEntryRepository) Promote(ctx context.Context, entry *models.QueueEntry, session *models.PurchaseSession, capacity int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.entries[entry.ID]
	if !ok {
		return false, appErrors.ErrEntryNotFound
	}
	if current.Status != models.QueueStatusWaiting {
		return false, nil
	}

	occupied := 0
	for _, e := range r.s.entries {
		if e.EventID == entry.EventID && e.Status.HoldsSlot() {
			occupied++
		}
	}
	if occupied >= capacity {
		return false, fmt.Errorf("%w: %d of %d in use", appErrors.ErrNoAvailableSlots, occupied, capacity)
	}
	for _, ps := range r.s.sessions {
		if ps.QueueEntryID == entry.ID && ps.IsActive() {
			return false, appErrors.ErrActiveSessionExists
		}
	}

	r.s.entries[entry.ID] = cloneEntry(entry)
	r.s.sessions[session.ID] = cloneSession(session)
	return true, nil
}

func (r *queueEntryRepository) ReorderPositions(ctx context.Context, eventID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var waiting []*models.QueueEntry
	for _, e := range r.s.entries {
		if e.EventID == eventID && e.Status == models.QueueStatusWaiting {
			waiting = append(waiting, e)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		if waiting[i].IsPriority != waiting[j].IsPriority {
			return waiting[i].IsPriority
		}
		if !waiting[i].EnteredAt.Equal(waiting[j].EnteredAt) {
			return waiting[i].EnteredAt.Before(waiting[j].EnteredAt)
		}
		if waiting[i].Position != waiting[j].Position {
			return waiting[i].Position < waiting[j].Position
		}
		return waiting[i].ID < waiting[j].ID
	})
	for i, e := range waiting {
		e.Position = i + 1
	}
	return len(waiting), nil
}

func (r *queueEntryRepository) Stats(ctx context.Context, eventID string) (*models.QueueStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &models.QueueStats{EventID: eventID, CountsByStatus: make(map[models.QueueStatus]int)}
	var waitSum, procSum time.Duration
	var waitN, procN int
	for _, e := range r.s.entries {
		if e.EventID != eventID {
			continue
		}
		stats.CountsByStatus[e.Status]++
		stats.Total++
		if e.ProcessingStartedAt != nil {
			waitSum += e.TotalWaitTime
			waitN++
		}
		if e.ProcessingTime > 0 {
			procSum += e.ProcessingTime
			procN++
		}
	}
	if waitN > 0 {
		stats.AvgWaitTime = waitSum / time.Duration(waitN)
	}
	if procN > 0 {
		stats.AvgProcessingTime = procSum / time.Duration(procN)
	}
	return stats, nil
}

func (r *queueEntryRepository) casLocked(entry *models.QueueEntry, expected ...models.QueueStatus) (bool, error) {
	current, ok := r.s.entries[entry.ID]
	if !ok {
		return false, appErrors.ErrEntryNotFound
	}
	if !slices.Contains(expected, current.Status) {
		return false, nil
	}
	r.s.entries[entry.ID] = cloneEntry(entry)
	return true, nil
}

// waitingLocked orders waiting entries the way admission consumes them.
func (r *queueEntryRepository) waitingLocked(eventID string) []*models.QueueEntry {
	var waiting []*models.QueueEntry
	for _, e := range r.s.entries {
		if e.EventID == eventID && e.Status == models.QueueStatusWaiting {
			waiting = append(waiting, e)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].IsPriority != waiting[j].IsPriority {
			return waiting[i].IsPriority
		}
		if waiting[i].Position != waiting[j].Position {
			return waiting[i].Position < waiting[j].Position
		}
		return waiting[i].EnteredAt.Before(waiting[j].EnteredAt)
	})
	return waiting
}
