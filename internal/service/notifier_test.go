package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) QueueJoined(ctx context.Context, n QueueJoinedNotification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockNotifier) QueueTurn(ctx context.Context, n QueueTurnNotification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockNotifier) SessionExpired(ctx context.Context, n SessionExpiredNotification) error {
	return m.Called(ctx, n).Error(0)
}

func TestNotificationDispatcher_FailuresStayInBackground(t *testing.T) {
	n := &mockNotifier{}
	n.On("QueueJoined", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))
	n.On("QueueTurn", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
	}).Return(nil)

	d := NewNotificationDispatcher(n, time.Second, logger.InitializeTestZapLogger())

	ctx, cancel := context.WithCancel(context.Background())
	d.QueueJoined(ctx, QueueJoinedNotification{EntryID: "e-1"})
	cancel()
	d.QueueTurn(ctx, QueueTurnNotification{EntryID: "e-1"})
	d.Wait()

	n.AssertExpectations(t)
}

func TestNotificationDispatcher_DefaultsToLogNotifier(t *testing.T) {
	d := NewNotificationDispatcher(nil, time.Second, logger.InitializeTestZapLogger())
	d.SessionExpired(context.Background(), SessionExpiredNotification{PurchaseSessionID: "ps-1"})
	d.Wait()
}
