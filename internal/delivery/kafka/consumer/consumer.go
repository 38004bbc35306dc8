package consumer

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"github.com/vogiaan1904/ticketbottle-admission/internal/delivery/kafka"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

type OrderHandler interface {
	HandleOrderCompleted(ctx context.Context, in service.OrderCompletedInput) error
}

// EventLoops starts and stops per-event admission loops.
type EventLoops interface {
	StartEvent(eventID string)
	StopEvent(eventID string)
}

type Consumer struct {
	consGr sarama.ConsumerGroup
	orders OrderHandler
	loops  EventLoops
	l      logger.Logger
	wg     sync.WaitGroup
}

func NewConsumer(
	consGr sarama.ConsumerGroup,
	orders OrderHandler,
	loops EventLoops,
	l logger.Logger,
) *Consumer {
	return &Consumer{
		consGr: consGr,
		orders: orders,
		loops:  loops,
		l:      l,
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	switch msg.Topic {
	case kafka.TopicOrderCompleted:
		return c.HandleOrderCompleted(ctx, msg)
	case kafka.TopicEventSaleStarted:
		return c.HandleSaleStarted(ctx, msg)
	case kafka.TopicEventSaleEnded, kafka.TopicEventSoldOut, kafka.TopicEventCancelled:
		return c.HandleSaleClosed(ctx, msg)
	default:
		c.l.Warnf(ctx, "delivery.kafka.consumer.processMessage: unknown topic %s", msg.Topic)
		return nil
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.consGr.Consume(ctx, kafka.ConsumedTopics, c); err != nil {
				c.l.Errorf(ctx, "delivery.kafka.consumer.Start: %v", err)
			}

			if ctx.Err() != nil {
				c.l.Infof(ctx, "delivery.kafka.consumer.Start: %v", ctx.Err())
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consGr.Errors() {
			c.l.Errorf(ctx, "delivery.kafka.consumer.Start: %v", err)
		}
	}()

	c.l.Infof(ctx, "Consumer is consuming topics: %v", kafka.ConsumedTopics)
	return nil
}

func (c *Consumer) Close() error {
	if err := c.consGr.Close(); err != nil {
		return err
	}

	c.wg.Wait()
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "Consumer group session started")
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "Consumer group session ended")
	return nil
}

func (c *Consumer) ConsumeClaim(ss sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := c.processMessage(ss.Context(), message); err != nil {
				c.l.Errorf(ss.Context(), "delivery.kafka.consumer.ConsumeClaim: topic=%s offset=%d: %v",
					message.Topic, message.Offset, err)
				continue
			}

			ss.MarkMessage(message, "")

		case <-ss.Context().Done():
			return nil
		}
	}
}
