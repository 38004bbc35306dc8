package service

import (
	"context"
	"sync"
	"time"

	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

// NotificationDispatcher sends notifications in the background. A failed or
// slow send never fails the request that produced it.
type NotificationDispatcher struct {
	notifier Notifier
	timeout  time.Duration
	l        logger.Logger
	wg       sync.WaitGroup
}

func NewNotificationDispatcher(n Notifier, timeout time.Duration, l logger.Logger) *NotificationDispatcher {
	if n == nil {
		n = NewLogNotifier(l)
	}
	return &NotificationDispatcher{
		notifier: n,
		timeout:  timeout,
		l:        l,
	}
}

func (d *NotificationDispatcher) QueueJoined(ctx context.Context, n QueueJoinedNotification) {
	d.dispatch(ctx, "queue_joined", func(ctx context.Context) error {
		return d.notifier.QueueJoined(ctx, n)
	})
}

func (d *NotificationDispatcher) QueueTurn(ctx context.Context, n QueueTurnNotification) {
	d.dispatch(ctx, "queue_turn", func(ctx context.Context) error {
		return d.notifier.QueueTurn(ctx, n)
	})
}

func (d *NotificationDispatcher) SessionExpired(ctx context.Context, n SessionExpiredNotification) {
	d.dispatch(ctx, "session_expired", func(ctx context.Context) error {
		return d.notifier.SessionExpired(ctx, n)
	})
}

// Wait blocks until every in-flight send has returned.
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

func (d *NotificationDispatcher) dispatch(ctx context.Context, kind string, send func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.l.Errorf(ctx, "notificationDispatcher.%s: panic: %v", kind, r)
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := send(sendCtx); err != nil {
			d.l.Warnf(ctx, "notificationDispatcher.%s: %v", kind, err)
		}
	}()
}

type logNotifier struct {
	l logger.Logger
}

// NewLogNotifier records notifications in the log only. Used when no broker is configured.
func NewLogNotifier(l logger.Logger) Notifier {
	return &logNotifier{l: l}
}

func (n *logNotifier) QueueJoined(ctx context.Context, msg QueueJoinedNotification) error {
	n.l.Infof(ctx, "notify queue_joined: entry=%s event=%s position=%d", msg.EntryID, msg.EventID, msg.Position)
	return nil
}

func (n *logNotifier) QueueTurn(ctx context.Context, msg QueueTurnNotification) error {
	n.l.Infof(ctx, "notify queue_turn: entry=%s session=%s expires=%s", msg.EntryID, msg.PurchaseSessionID, msg.ExpiresAt)
	return nil
}

func (n *logNotifier) SessionExpired(ctx context.Context, msg SessionExpiredNotification) error {
	n.l.Infof(ctx, "notify session_expired: session=%s entry=%s reason=%s", msg.PurchaseSessionID, msg.EntryID, msg.Reason)
	return nil
}
