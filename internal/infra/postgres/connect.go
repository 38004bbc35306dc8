package postgres

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vogiaan1904/ticketbottle-admission/config"
	pkgPostgres "github.com/vogiaan1904/ticketbottle-admission/pkg/postgres"
)

// Connect retries until the database answers a ping or the retries run out.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	attempts := max(cfg.ConnectRetries, 1)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}

		pool, err := pkgPostgres.NewPool(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			log.Printf("Postgres not ready (attempt %d/%d): %v\n", i+1, attempts, err)
			continue
		}

		log.Println("Connected to Postgres.")
		return pool, nil
	}

	return nil, fmt.Errorf("failed to connect to Postgres after %d attempts: %w", attempts, lastErr)
}

func Disconnect(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}

	pool.Close()

	log.Println("Connection to Postgres closed.")
}
