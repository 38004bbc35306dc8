package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafka "github.com/vogiaan1904/ticketbottle-admission/internal/delivery/kafka"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

func expectMessage(t *testing.T, topic, key string, check func(t *testing.T, value []byte)) func(*sarama.ProducerMessage) error {
	return func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topic {
			return errors.New("unexpected topic " + msg.Topic)
		}
		k, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(k) != key {
			return errors.New("unexpected key " + string(k))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "timestamp" {
			return errors.New("missing timestamp header")
		}
		v, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		check(t, v)
		return nil
	}
}

func TestProducer_QueueTurn(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	expires := time.Date(2026, 5, 1, 10, 8, 0, 0, time.UTC)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectMessage(t, kafka.TopicQueueTurn, "ev-1", func(t *testing.T, v []byte) {
		var msg kafka.QueueTurnMessage
		require.NoError(t, json.Unmarshal(v, &msg))
		assert.Equal(t, "ps-1", msg.PurchaseSessionID)
		assert.Equal(t, "vip", msg.SlotType)
		assert.True(t, expires.Equal(msg.ExpiresAt))
	}))

	p := NewProducer(sp, logger.InitializeTestZapLogger())
	err := p.QueueTurn(context.Background(), service.QueueTurnNotification{
		EntryID:           "entry-1",
		EventID:           "ev-1",
		EventName:         "Summer Festival",
		UserID:            "user-1",
		PurchaseSessionID: "ps-1",
		SlotType:          models.SlotTypeVIP,
		ExpiresAt:         expires,
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducer_QueueJoined(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectMessage(t, kafka.TopicQueueJoined, "ev-2", func(t *testing.T, v []byte) {
		var msg kafka.QueueJoinedMessage
		require.NoError(t, json.Unmarshal(v, &msg))
		assert.Equal(t, 5, msg.Position)
		assert.Equal(t, "anon-1", msg.SessionID)
		assert.False(t, msg.Timestamp.IsZero())
	}))

	p := NewProducer(sp, logger.InitializeTestZapLogger())
	require.NoError(t, p.QueueJoined(context.Background(), service.QueueJoinedNotification{
		EntryID:   "entry-2",
		EventID:   "ev-2",
		SessionID: "anon-1",
		Position:  5,
	}))
	require.NoError(t, p.Close())
}

func TestProducer_SessionExpiredFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducer(sp, logger.InitializeTestZapLogger())
	err := p.SessionExpired(context.Background(), service.SessionExpiredNotification{
		PurchaseSessionID: "ps-1",
		EventID:           "ev-1",
		Reason:            models.ExpiryReasonTimeout,
	})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
