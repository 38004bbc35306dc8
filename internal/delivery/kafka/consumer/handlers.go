package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"github.com/vogiaan1904/ticketbottle-admission/internal/delivery/kafka"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
)

var errMissingEventID = errors.New("message has no event_id")

func (c *Consumer) HandleOrderCompleted(ctx context.Context, message *sarama.ConsumerMessage) error {
	var e kafka.OrderCompletedEvent
	if err := json.Unmarshal(message.Value, &e); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.HandleOrderCompleted: %v", err)
		return err
	}
	ctx = c.l.With(ctx, "order_id", e.OrderID, "event_id", e.EventID)
	c.l.Info(ctx, "order.completed consumed")

	if err := c.orders.HandleOrderCompleted(ctx, service.OrderCompletedInput{
		OrderID:           e.OrderID,
		EventID:           e.EventID,
		UserID:            e.UserID,
		PurchaseSessionID: e.PurchaseSessionID,
	}); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.HandleOrderCompleted: %v", err)
		return err
	}

	return nil
}

func (c *Consumer) HandleSaleStarted(ctx context.Context, message *sarama.ConsumerMessage) error {
	e, err := c.decodeEventStatus(ctx, message)
	if err != nil {
		return err
	}

	c.l.Infof(ctx, "delivery.kafka.consumer.HandleSaleStarted: starting admission for %s", e.EventID)
	c.loops.StartEvent(e.EventID)
	return nil
}

// HandleSaleClosed stops the local loop. Ticks would stop it anyway once they
// see the new status.
func (c *Consumer) HandleSaleClosed(ctx context.Context, message *sarama.ConsumerMessage) error {
	e, err := c.decodeEventStatus(ctx, message)
	if err != nil {
		return err
	}

	c.l.Infof(ctx, "delivery.kafka.consumer.HandleSaleClosed: %s on %s", message.Topic, e.EventID)
	c.loops.StopEvent(e.EventID)
	return nil
}

func (c *Consumer) decodeEventStatus(ctx context.Context, message *sarama.ConsumerMessage) (kafka.EventStatusEvent, error) {
	var e kafka.EventStatusEvent
	if err := json.Unmarshal(message.Value, &e); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.decodeEventStatus: %v", err)
		return e, err
	}
	if e.EventID == "" {
		return e, errMissingEventID
	}
	return e, nil
}
