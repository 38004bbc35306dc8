package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

const sessionColumns = `id, queue_entry_id, event_id, user_id, session_id, status, slot_type,
	started_at, expires_at, completed_at, extension_count, max_extensions, selected_tickets,
	total_amount, customer_info, checkout_token, order_id, end_reason, version, created_at, updated_at`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type purchaseSessionRepository struct {
	pool *pgxpool.Pool
	l    logger.Logger
}

func NewPurchaseSessionRepository(pool *pgxpool.Pool, l logger.Logger) repository.PurchaseSessionRepository {
	return &purchaseSessionRepository{pool: pool, l: l}
}

func encodeCart(ps *models.PurchaseSession) ([]byte, []byte, error) {
	items := ps.SelectedTickets
	if items == nil {
		items = []models.LineItem{}
	}
	tickets, err := json.Marshal(items)
	if err != nil {
		return nil, nil, err
	}

	var customer []byte
	if ps.CustomerInfo != nil {
		if customer, err = json.Marshal(ps.CustomerInfo); err != nil {
			return nil, nil, err
		}
	}
	return tickets, customer, nil
}

func insertSession(ctx context.Context, db execer, ps *models.PurchaseSession) error {
	tickets, customer, err := encodeCart(ps)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}

	_, err = db.Exec(ctx,
		`INSERT INTO purchase_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		ps.ID, nullString(ps.QueueEntryID), ps.EventID, nullString(ps.UserID), ps.SessionID,
		string(ps.Status), string(ps.SlotType), ps.StartedAt, ps.ExpiresAt, ps.CompletedAt,
		ps.ExtensionCount, ps.MaxExtensions, tickets, ps.TotalAmount, customer,
		ps.CheckoutToken, ps.OrderID, ps.EndReason, ps.Version, ps.CreatedAt, ps.UpdatedAt)
	return err
}

func scanSession(row pgx.Row) (*models.PurchaseSession, error) {
	var ps models.PurchaseSession
	var entryID, userID *string
	var status, slotType string
	var tickets, customer []byte

	err := row.Scan(
		&ps.ID, &entryID, &ps.EventID, &userID, &ps.SessionID, &status, &slotType,
		&ps.StartedAt, &ps.ExpiresAt, &ps.CompletedAt, &ps.ExtensionCount, &ps.MaxExtensions, &tickets,
		&ps.TotalAmount, &customer, &ps.CheckoutToken, &ps.OrderID, &ps.EndReason, &ps.Version,
		&ps.CreatedAt, &ps.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, err
	}

	ps.QueueEntryID = derefString(entryID)
	ps.UserID = derefString(userID)
	ps.Status = models.SessionStatus(status)
	ps.SlotType = models.SlotType(slotType)
	if len(tickets) > 0 {
		if err := json.Unmarshal(tickets, &ps.SelectedTickets); err != nil {
			return nil, fmt.Errorf("failed to decode selected tickets: %w", err)
		}
	}
	if len(customer) > 0 {
		ps.CustomerInfo = &models.CustomerInfo{}
		if err := json.Unmarshal(customer, ps.CustomerInfo); err != nil {
			return nil, fmt.Errorf("failed to decode customer info: %w", err)
		}
	}
	return &ps, nil
}

func (r *purchaseSessionRepository) Create(ctx context.Context, session *models.PurchaseSession) error {
	if err := insertSession(ctx, r.pool, session); err != nil {
		if isUniqueViolation(err) {
			return appErrors.ErrActiveSessionExists
		}
		r.l.Errorf(ctx, "postgresPurchaseSessionRepository.Create: %v", err)
		return err
	}
	return nil
}

func (r *purchaseSessionRepository) Get(ctx context.Context, id string) (*models.PurchaseSession, error) {
	ps, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM purchase_sessions WHERE id = $1`, id))
	if err != nil && !errors.Is(err, appErrors.ErrSessionNotFound) {
		r.l.Errorf(ctx, "postgresPurchaseSessionRepository.Get: %v", err)
	}
	return ps, err
}

func (r *purchaseSessionRepository) FindActiveByQueueEntry(ctx context.Context, queueEntryID string) (*models.PurchaseSession, error) {
	ps, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM purchase_sessions
		WHERE queue_entry_id = $1 AND status = 'active'`, queueEntryID))
	if err != nil && !errors.Is(err, appErrors.ErrSessionNotFound) {
		r.l.Errorf(ctx, "postgresPurchaseSessionRepository.FindActiveByQueueEntry: %v", err)
	}
	return ps, err
}

func (r *purchaseSessionRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*models.PurchaseSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM purchase_sessions
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2`, now, limit)
	if err != nil {
		r.l.Errorf(ctx, "postgresPurchaseSessionRepository.ListExpiredActive: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*models.PurchaseSession
	for rows.Next() {
		ps, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (r *purchaseSessionRepository) UpdateIfStatus(ctx context.Context, session *models.PurchaseSession, expected models.SessionStatus) (bool, error) {
	tickets, customer, err := encodeCart(session)
	if err != nil {
		return false, fmt.Errorf("postgresPurchaseSessionRepository.UpdateIfStatus: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_sessions SET
			status = $2, expires_at = $3, completed_at = $4, extension_count = $5,
			selected_tickets = $6, total_amount = $7, customer_info = $8,
			order_id = $9, end_reason = $10, updated_at = $11, version = version + 1
		WHERE id = $1 AND status = $12 AND version = $13`,
		session.ID, string(session.Status), session.ExpiresAt, session.CompletedAt, session.ExtensionCount,
		tickets, session.TotalAmount, customer, session.OrderID, session.EndReason, session.UpdatedAt,
		string(expected), session.Version)
	if err != nil {
		r.l.Errorf(ctx, "postgresPurchaseSessionRepository.UpdateIfStatus: %v", err)
		return false, err
	}
	if tag.RowsAffected() == 1 {
		session.Version++
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_sessions WHERE id = $1)`, session.ID).Scan(&exists); err != nil {
		r.l.Errorf(ctx, "postgresPurchaseSessionRepository.UpdateIfStatus: %v", err)
		return false, err
	}
	if !exists {
		return false, appErrors.ErrSessionNotFound
	}
	return false, nil
}

func (r *purchaseSessionRepository) Stats(ctx context.Context, eventID string) (*models.SessionStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(extension_count), 0)
		FROM purchase_sessions WHERE event_id = $1 GROUP BY status`, eventID)
	if err != nil {
		r.l.Errorf(ctx, "postgresPurchaseSessionRepository.Stats: %v", err)
		return nil, err
	}
	defer rows.Close()

	stats := &models.SessionStats{EventID: eventID, CountsByStatus: make(map[models.SessionStatus]int)}
	var extensions int64
	for rows.Next() {
		var status string
		var count, ext int64
		if err := rows.Scan(&status, &count, &ext); err != nil {
			return nil, fmt.Errorf("postgresPurchaseSessionRepository.Stats: %w", err)
		}
		stats.CountsByStatus[models.SessionStatus(status)] = int(count)
		stats.Total += int(count)
		extensions += ext
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.AvgExtensions = float64(extensions) / float64(stats.Total)
	}
	return stats, nil
}
