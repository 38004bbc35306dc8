package repository

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

const SlotFreedChannel = "admission:slot_freed"

// SignalRepository fans a "slot freed" hint for an event out to every instance.
// Delivery is best effort; admission ticks stay authoritative.
type SignalRepository interface {
	PublishSlotFreed(ctx context.Context, eventID string) error
	SubscribeSlotFreed(ctx context.Context) (<-chan string, func() error)
}

type redisSignalRepository struct {
	cli *redis.Client
	l   logger.Logger
}

func NewRedisSignalRepository(cli *redis.Client, l logger.Logger) SignalRepository {
	return &redisSignalRepository{
		cli: cli,
		l:   l,
	}
}

func (r *redisSignalRepository) PublishSlotFreed(ctx context.Context, eventID string) error {
	if err := r.cli.Publish(ctx, SlotFreedChannel, eventID).Err(); err != nil {
		r.l.Warnf(ctx, "redisSignalRepository.PublishSlotFreed: %v", err)
		return err
	}

	return nil
}

func (r *redisSignalRepository) SubscribeSlotFreed(ctx context.Context) (<-chan string, func() error) {
	pubsub := r.cli.Subscribe(ctx, SlotFreedChannel)
	out := make(chan string, 64)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			default:
				r.l.Debugf(ctx, "redisSignalRepository.SubscribeSlotFreed: dropped signal for %s", msg.Payload)
			}
		}
	}()

	return out, pubsub.Close
}
