package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

func fromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func queueStatuses(statuses []models.QueueStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func orderStatuses(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// identityClause matches rows belonging to id; argN is the placeholder index.
func identityClause(id repository.Identity, argN string) (string, string) {
	if id.UserID != "" {
		return "user_id = " + argN, id.UserID
	}
	return "user_id IS NULL AND session_id = " + argN, id.SessionID
}
