package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	kafka "github.com/vogiaan1904/ticketbottle-admission/internal/delivery/kafka"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

// Producer publishes admission notifications. It satisfies service.Notifier.
type Producer interface {
	service.Notifier
	Close() error
}

type implProducer struct {
	l    logger.Logger
	prod sarama.SyncProducer
}

func NewProducer(prod sarama.SyncProducer, l logger.Logger) Producer {
	return &implProducer{
		l:    l,
		prod: prod,
	}
}

func (p *implProducer) QueueJoined(ctx context.Context, n service.QueueJoinedNotification) error {
	return p.publish(ctx, kafka.TopicQueueJoined, n.EventID, kafka.QueueJoinedMessage{
		EntryID:   n.EntryID,
		EventID:   n.EventID,
		EventName: n.EventName,
		UserID:    n.UserID,
		SessionID: n.SessionID,
		Position:  n.Position,
		JoinedAt:  n.JoinedAt,
		Timestamp: time.Now(),
	})
}

func (p *implProducer) QueueTurn(ctx context.Context, n service.QueueTurnNotification) error {
	return p.publish(ctx, kafka.TopicQueueTurn, n.EventID, kafka.QueueTurnMessage{
		EntryID:           n.EntryID,
		EventID:           n.EventID,
		EventName:         n.EventName,
		UserID:            n.UserID,
		SessionID:         n.SessionID,
		PurchaseSessionID: n.PurchaseSessionID,
		SlotType:          string(n.SlotType),
		ExpiresAt:         n.ExpiresAt,
		Timestamp:         time.Now(),
	})
}

func (p *implProducer) SessionExpired(ctx context.Context, n service.SessionExpiredNotification) error {
	return p.publish(ctx, kafka.TopicSessionExpired, n.EventID, kafka.SessionExpiredMessage{
		PurchaseSessionID: n.PurchaseSessionID,
		EntryID:           n.EntryID,
		EventID:           n.EventID,
		EventName:         n.EventName,
		UserID:            n.UserID,
		SessionID:         n.SessionID,
		Reason:            n.Reason,
		ExpiredAt:         n.ExpiredAt,
		Timestamp:         time.Now(),
	})
}

func (p *implProducer) publish(ctx context.Context, topic, eventID string, payload any) error {
	val, err := json.Marshal(payload)
	if err != nil {
		p.l.Errorf(ctx, "delivery.kafka.producer.publish: %v", err)
		return err
	}

	// Keyed by event so one event's notifications stay ordered.
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(eventID),
		Value: sarama.ByteEncoder(val),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("timestamp"),
				Value: []byte(time.Now().Format(time.RFC3339)),
			},
		},
	}

	if _, _, err = p.prod.SendMessage(msg); err != nil {
		p.l.Warnf(ctx, "delivery.kafka.producer.publish: topic=%s: %v", topic, err)
		return err
	}
	return nil
}

func (p *implProducer) Close() error {
	return p.prod.Close()
}
