package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

// LeaseRepository guards per-event admission so only one instance ticks an
// event at a time. Holding a lease is renewed on every tick.
type LeaseRepository interface {
	Acquire(ctx context.Context, eventID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, eventID, owner string) error
	Holder(ctx context.Context, eventID string) (string, error)
}

// acquireScript takes a free lease or renews one already held by the caller.
var acquireScript = redis.NewScript(`
	local current = redis.call('GET', KEYS[1])
	if not current then
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
		return 1
	end
	if current == ARGV[1] then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

type redisLeaseRepository struct {
	cli *redis.Client
	l   logger.Logger
}

func NewRedisLeaseRepository(cli *redis.Client, l logger.Logger) LeaseRepository {
	return &redisLeaseRepository{
		cli: cli,
		l:   l,
	}
}

func (r *redisLeaseRepository) Acquire(ctx context.Context, eventID, owner string, ttl time.Duration) (bool, error) {
	res, err := acquireScript.Run(ctx, r.cli, []string{r.leaseKey(eventID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		r.l.Errorf(ctx, "redisLeaseRepository.Acquire: %v", err)
		return false, err
	}

	return res == 1, nil
}

func (r *redisLeaseRepository) Release(ctx context.Context, eventID, owner string) error {
	if err := releaseScript.Run(ctx, r.cli, []string{r.leaseKey(eventID)}, owner).Err(); err != nil {
		r.l.Errorf(ctx, "redisLeaseRepository.Release: %v", err)
		return err
	}

	return nil
}

func (r *redisLeaseRepository) Holder(ctx context.Context, eventID string) (string, error) {
	owner, err := r.cli.Get(ctx, r.leaseKey(eventID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		r.l.Errorf(ctx, "redisLeaseRepository.Holder: %v", err)
		return "", err
	}

	return owner, nil
}

func (r *redisLeaseRepository) leaseKey(eventID string) string {
	return fmt.Sprintf("admission:lease:%s", eventID)
}
