package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

const entryColumns = `id, event_id, user_id, session_id, position, is_priority, priority_reason,
	priority_granted_by, status, entered_at, waiting_room_entered_at, queue_joined_at,
	processing_started_at, processing_expires_at, completed_at, grace_expires_at,
	total_wait_ms, processing_ms, notes, created_at, updated_at`

const waitingOrder = `is_priority DESC, position ASC, entered_at ASC`

type queueEntryRepository struct {
	pool *pgxpool.Pool
	l    logger.Logger
}

func NewQueueEntryRepository(pool *pgxpool.Pool, l logger.Logger) repository.QueueEntryRepository {
	return &queueEntryRepository{pool: pool, l: l}
}

func scanEntry(row pgx.Row) (*models.QueueEntry, error) {
	var (
		e              models.QueueEntry
		userID         *string
		status         string
		waitMs, procMs int64
	)

	err := row.Scan(
		&e.ID, &e.EventID, &userID, &e.SessionID, &e.Position, &e.IsPriority, &e.PriorityReason,
		&e.PriorityGrantedBy, &status, &e.EnteredAt, &e.WaitingRoomEnteredAt, &e.QueueJoinedAt,
		&e.ProcessingStartedAt, &e.ProcessingExpiresAt, &e.CompletedAt, &e.GraceExpiresAt,
		&waitMs, &procMs, &e.Notes, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.ErrEntryNotFound
		}
		return nil, err
	}

	e.UserID = derefString(userID)
	e.Status = models.QueueStatus(status)
	e.TotalWaitTime = fromMillis(waitMs)
	e.ProcessingTime = fromMillis(procMs)
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*models.QueueEntry, error) {
	defer rows.Close()

	var out []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *queueEntryRepository) Join(ctx context.Context, entry *models.QueueEntry) (*models.QueueEntry, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Join: %v", err)
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	// Joins for one event are serialized so tail positions stay unique.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.EventID); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Join: %v", err)
		return nil, false, err
	}

	clause, idArg := identityClause(repository.Identity{UserID: entry.UserID, SessionID: entry.SessionID}, "$2")
	lifecycle := queueStatuses(models.LifecycleStatuses)

	existing, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		WHERE event_id = $1 AND `+clause+` AND status = ANY($3)
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`,
		entry.EventID, idArg, lifecycle))
	switch {
	case err == nil:
		return existing, false, tx.Commit(ctx)
	case !errors.Is(err, appErrors.ErrEntryNotFound):
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Join: %v", err)
		return nil, false, err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM queue_entries WHERE event_id = $1 AND `+clause,
		entry.EventID, idArg); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Join: %v", err)
		return nil, false, err
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE event_id = $1 AND status = ANY($2)`,
		entry.EventID, lifecycle).Scan(&count); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Join: %v", err)
		return nil, false, err
	}
	entry.Position = count + 1

	if _, err := tx.Exec(ctx,
		`INSERT INTO queue_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		entry.ID, entry.EventID, nullString(entry.UserID), entry.SessionID, entry.Position, entry.IsPriority,
		entry.PriorityReason, entry.PriorityGrantedBy, string(entry.Status), entry.EnteredAt,
		entry.WaitingRoomEnteredAt, entry.QueueJoinedAt, entry.ProcessingStartedAt, entry.ProcessingExpiresAt,
		entry.CompletedAt, entry.GraceExpiresAt, millis(entry.TotalWaitTime), millis(entry.ProcessingTime),
		entry.Notes, entry.CreatedAt, entry.UpdatedAt); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Join: %v", err)
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Join: %v", err)
		return nil, false, err
	}

	return entry, true, nil
}

func (r *queueEntryRepository) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE id = $1`, id))
	if err != nil && !errors.Is(err, appErrors.ErrEntryNotFound) {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Get: %v", err)
	}
	return e, err
}

func (r *queueEntryRepository) FindLatest(ctx context.Context, eventID string, id repository.Identity) (*models.QueueEntry, error) {
	clause, idArg := identityClause(id, "$2")

	e, err := scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		WHERE event_id = $1 AND `+clause+`
		ORDER BY created_at DESC LIMIT 1`, eventID, idArg))
	if err != nil && !errors.Is(err, appErrors.ErrEntryNotFound) {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.FindLatest: %v", err)
	}
	return e, err
}

func (r *queueEntryRepository) ListWaiting(ctx context.Context, eventID string, limit int) ([]*models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE event_id = $1 AND status = 'waiting'
		ORDER BY ` + waitingOrder
	args := []any{eventID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.ListWaiting: %v", err)
		return nil, err
	}
	return collectEntries(rows)
}

func (r *queueEntryRepository) ListLifecycle(ctx context.Context, afterID string, limit int) ([]*models.QueueEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		WHERE status = ANY($1) AND id > $2
		ORDER BY id ASC LIMIT $3`,
		queueStatuses(models.LifecycleStatuses), afterID, limit)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.ListLifecycle: %v", err)
		return nil, err
	}
	return collectEntries(rows)
}

func (r *queueEntryRepository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*models.QueueEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		WHERE status = ANY($1) AND processing_expires_at < $2
		ORDER BY processing_expires_at ASC LIMIT $3`,
		queueStatuses(models.SlotStatuses), before, limit)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.ListStaleProcessing: %v", err)
		return nil, err
	}
	return collectEntries(rows)
}

func (r *queueEntryRepository) CountByStatus(ctx context.Context, eventID string, statuses ...models.QueueStatus) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE event_id = $1 AND status = ANY($2)`,
		eventID, queueStatuses(statuses)).Scan(&n); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.CountByStatus: %v", err)
		return 0, err
	}
	return n, nil
}

func (r *queueEntryRepository) Rank(ctx context.Context, entry *models.QueueEntry) (int, error) {
	if entry.Status != models.QueueStatusWaiting {
		return 0, nil
	}

	var ahead int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries
		WHERE event_id = $1 AND status = 'waiting' AND id <> $2 AND (
			is_priority > $3
			OR (is_priority = $3 AND position < $4)
			OR (is_priority = $3 AND position = $4 AND entered_at < $5)
		)`,
		entry.EventID, entry.ID, entry.IsPriority, entry.Position, entry.EnteredAt).Scan(&ahead); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Rank: %v", err)
		return 0, err
	}
	return ahead + 1, nil
}

const updateEntrySQL = `UPDATE queue_entries SET
	is_priority = $2, priority_reason = $3, priority_granted_by = $4, status = $5,
	processing_started_at = $6, processing_expires_at = $7, completed_at = $8, grace_expires_at = $9,
	total_wait_ms = $10, processing_ms = $11, notes = $12, updated_at = $13
	WHERE id = $1 AND status = ANY($14)`

func updateEntryArgs(e *models.QueueEntry, expected []models.QueueStatus) []any {
	return []any{
		e.ID, e.IsPriority, e.PriorityReason, e.PriorityGrantedBy, string(e.Status),
		e.ProcessingStartedAt, e.ProcessingExpiresAt, e.CompletedAt, e.GraceExpiresAt,
		millis(e.TotalWaitTime), millis(e.ProcessingTime), e.Notes, e.UpdatedAt,
		queueStatuses(expected),
	}
}

func (r *queueEntryRepository) UpdateIfStatus(ctx context.Context, entry *models.QueueEntry, expected ...models.QueueStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, updateEntrySQL, updateEntryArgs(entry, expected)...)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.UpdateIfStatus: %v", err)
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue_entries WHERE id = $1)`, entry.ID).Scan(&exists); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.UpdateIfStatus: %v", err)
		return false, err
	}
	if !exists {
		return false, appErrors.ErrEntryNotFound
	}
	return false, nil
}

func (r *queueEntryRepository) Promote(ctx context.Context, entry *models.QueueEntry, session *models.PurchaseSession, capacity int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Promote: %v", err)
		return false, err
	}
	defer tx.Rollback(ctx)

	// Shares the join lock so no other promotion for the event can commit
	// between the slot count and this one.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.EventID); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Promote: %v", err)
		return false, err
	}

	tag, err := tx.Exec(ctx, updateEntrySQL, updateEntryArgs(entry, []models.QueueStatus{models.QueueStatusWaiting})...)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Promote: %v", err)
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	// The count includes the row just promoted.
	var occupied int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE event_id = $1 AND status = ANY($2)`,
		entry.EventID, queueStatuses(models.SlotStatuses)).Scan(&occupied); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Promote: %v", err)
		return false, err
	}
	if occupied > capacity {
		return false, fmt.Errorf("%w: %d of %d in use", appErrors.ErrNoAvailableSlots, occupied-1, capacity)
	}

	if err := insertSession(ctx, tx, session); err != nil {
		if isUniqueViolation(err) {
			return false, appErrors.ErrActiveSessionExists
		}
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Promote: %v", err)
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Promote: %v", err)
		return false, err
	}
	return true, nil
}

// ReorderPositions compacts waiting positions in one statement and returns the
// number of waiting entries.
func (r *queueEntryRepository) ReorderPositions(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`WITH ranked AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY is_priority DESC, entered_at ASC, position ASC, id ASC) AS rn
			FROM queue_entries WHERE event_id = $1 AND status = 'waiting'
		), moved AS (
			UPDATE queue_entries q SET position = ranked.rn
			FROM ranked WHERE q.id = ranked.id AND q.position <> ranked.rn
			RETURNING q.id
		)
		SELECT COUNT(*) FROM ranked`, eventID).Scan(&n)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.ReorderPositions: %v", err)
		return 0, err
	}
	return n, nil
}

func (r *queueEntryRepository) Stats(ctx context.Context, eventID string) (*models.QueueStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*),
			COALESCE(SUM(total_wait_ms) FILTER (WHERE processing_started_at IS NOT NULL), 0),
			COUNT(*) FILTER (WHERE processing_started_at IS NOT NULL),
			COALESCE(SUM(processing_ms) FILTER (WHERE processing_ms > 0), 0),
			COUNT(*) FILTER (WHERE processing_ms > 0)
		FROM queue_entries WHERE event_id = $1 GROUP BY status`, eventID)
	if err != nil {
		r.l.Errorf(ctx, "postgresQueueEntryRepository.Stats: %v", err)
		return nil, err
	}
	defer rows.Close()

	stats := &models.QueueStats{EventID: eventID, CountsByStatus: make(map[models.QueueStatus]int)}
	var waitSum, procSum, waitN, procN int64
	for rows.Next() {
		var status string
		var count, ws, wn, ps, pn int64
		if err := rows.Scan(&status, &count, &ws, &wn, &ps, &pn); err != nil {
			return nil, fmt.Errorf("postgresQueueEntryRepository.Stats: %w", err)
		}
		stats.CountsByStatus[models.QueueStatus(status)] = int(count)
		stats.Total += int(count)
		waitSum, waitN = waitSum+ws, waitN+wn
		procSum, procN = procSum+ps, procN+pn
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if waitN > 0 {
		stats.AvgWaitTime = fromMillis(waitSum / waitN)
	}
	if procN > 0 {
		stats.AvgProcessingTime = fromMillis(procSum / procN)
	}
	return stats, nil
}
