package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema covers the tables owned by the admission service. Events, ticket
// types and orders belong to their own services and are only read here.
const Schema = `
CREATE TABLE IF NOT EXISTS queue_entries (
	id                      TEXT PRIMARY KEY,
	event_id                TEXT NOT NULL,
	user_id                 TEXT,
	session_id              TEXT NOT NULL,
	position                INTEGER NOT NULL,
	is_priority             BOOLEAN NOT NULL DEFAULT FALSE,
	priority_reason         TEXT NOT NULL DEFAULT '',
	priority_granted_by     TEXT NOT NULL DEFAULT '',
	status                  TEXT NOT NULL,
	entered_at              TIMESTAMPTZ NOT NULL,
	waiting_room_entered_at TIMESTAMPTZ,
	queue_joined_at         TIMESTAMPTZ,
	processing_started_at   TIMESTAMPTZ,
	processing_expires_at   TIMESTAMPTZ,
	completed_at            TIMESTAMPTZ,
	grace_expires_at        TIMESTAMPTZ,
	total_wait_ms           BIGINT NOT NULL DEFAULT 0,
	processing_ms           BIGINT NOT NULL DEFAULT 0,
	notes                   TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_entries_event_status
	ON queue_entries (event_id, status, is_priority DESC, position);
CREATE INDEX IF NOT EXISTS idx_queue_entries_event_user
	ON queue_entries (event_id, user_id);
CREATE INDEX IF NOT EXISTS idx_queue_entries_event_session
	ON queue_entries (event_id, session_id);
CREATE INDEX IF NOT EXISTS idx_queue_entries_processing_expiry
	ON queue_entries (processing_expires_at) WHERE status IN ('active', 'processing');

CREATE TABLE IF NOT EXISTS purchase_sessions (
	id               TEXT PRIMARY KEY,
	queue_entry_id   TEXT REFERENCES queue_entries (id) ON DELETE SET NULL,
	event_id         TEXT NOT NULL,
	user_id          TEXT,
	session_id       TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	slot_type        TEXT NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	extension_count  INTEGER NOT NULL DEFAULT 0,
	max_extensions   INTEGER NOT NULL DEFAULT 2,
	selected_tickets JSONB NOT NULL DEFAULT '[]',
	total_amount     NUMERIC(12, 2) NOT NULL DEFAULT 0,
	customer_info    JSONB,
	checkout_token   TEXT NOT NULL DEFAULT '',
	order_id         TEXT NOT NULL DEFAULT '',
	end_reason       TEXT NOT NULL DEFAULT '',
	version          BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

ALTER TABLE purchase_sessions ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;

CREATE UNIQUE INDEX IF NOT EXISTS uq_purchase_sessions_active_entry
	ON purchase_sessions (queue_entry_id) WHERE status = 'active' AND queue_entry_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_purchase_sessions_active_expiry
	ON purchase_sessions (expires_at) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_purchase_sessions_event
	ON purchase_sessions (event_id, status);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
