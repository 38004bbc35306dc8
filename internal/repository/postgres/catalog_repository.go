package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

const (
	eventColumns      = `id, name, status, sale_start_at, sale_end_at, concurrent_users`
	ticketTypeColumns = `id, event_id, name, price, quantity, sold, max_per_user, is_active`
)

type catalogRepository struct {
	pool *pgxpool.Pool
	l    logger.Logger
}

func NewCatalogRepository(pool *pgxpool.Pool, l logger.Logger) repository.CatalogRepository {
	return &catalogRepository{pool: pool, l: l}
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var status string
	if err := row.Scan(&e.ID, &e.Name, &status, &e.SaleStartAt, &e.SaleEndAt, &e.ConcurrentUsers); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.ErrEventNotFound
		}
		return nil, err
	}
	e.Status = models.EventStatus(status)
	return &e, nil
}

func scanTicketType(row pgx.Row) (*models.TicketType, error) {
	var t models.TicketType
	if err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.Price, &t.Quantity, &t.Sold, &t.MaxPerUser, &t.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.ErrTicketTypeNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *catalogRepository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil && !errors.Is(err, appErrors.ErrEventNotFound) {
		r.l.Errorf(ctx, "postgresCatalogRepository.GetEvent: %v", err)
	}
	return e, err
}

func (r *catalogRepository) ListEventsByStatus(ctx context.Context, status models.EventStatus) ([]*models.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE status = $1 ORDER BY id`, string(status))
	if err != nil {
		r.l.Errorf(ctx, "postgresCatalogRepository.ListEventsByStatus: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *catalogRepository) ListTicketTypes(ctx context.Context, eventID string) ([]*models.TicketType, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		r.l.Errorf(ctx, "postgresCatalogRepository.ListTicketTypes: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*models.TicketType
	for rows.Next() {
		t, err := scanTicketType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *catalogRepository) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	t, err := scanTicketType(r.pool.QueryRow(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1`, id))
	if err != nil && !errors.Is(err, appErrors.ErrTicketTypeNotFound) {
		r.l.Errorf(ctx, "postgresCatalogRepository.GetTicketType: %v", err)
	}
	return t, err
}

func (r *catalogRepository) PurchasedQuantity(ctx context.Context, ticketTypeID, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(oi.quantity), 0)
		FROM order_items oi JOIN orders o ON o.id = oi.order_id
		WHERE oi.ticket_type_id = $1 AND o.user_id = $2 AND o.status = ANY($3)`,
		ticketTypeID, userID, orderStatuses(models.PurchasedOrderStatuses)).Scan(&n); err != nil {
		r.l.Errorf(ctx, "postgresCatalogRepository.PurchasedQuantity: %v", err)
		return 0, err
	}
	return n, nil
}

func (r *catalogRepository) HasPurchasedSince(ctx context.Context, eventID, userID string, since time.Time) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE event_id = $1 AND user_id = $2 AND status = ANY($3) AND created_at >= $4
		)`,
		eventID, userID, orderStatuses(models.PurchasedOrderStatuses), since).Scan(&ok); err != nil {
		r.l.Errorf(ctx, "postgresCatalogRepository.HasPurchasedSince: %v", err)
		return false, err
	}
	return ok, nil
}
