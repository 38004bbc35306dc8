package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vogiaan1904/ticketbottle-admission/config"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

const maxScanRounds = 10

type ReconcileResult struct {
	Expired int
	Settled int
	Failed  int
}

// ExpiryReconciler expires sessions nobody looked at after their window
// closed, and settles processing entries whose session is gone.
type ExpiryReconciler struct {
	sessions   repository.PurchaseSessionRepository
	entries    repository.QueueEntryRepository
	sessionSvc SessionService
	clock      clock.Clock
	cfg        config.AdmissionConfig
	metrics    *metrics.Metrics
	l          logger.Logger
	loop       *scanLoop

	mu       sync.Mutex
	lastScan time.Time
	total    ReconcileResult
}

func NewExpiryReconciler(
	sessions repository.PurchaseSessionRepository,
	entries repository.QueueEntryRepository,
	sessionSvc SessionService,
	clk clock.Clock,
	cfg config.AdmissionConfig,
	m *metrics.Metrics,
	l logger.Logger,
) *ExpiryReconciler {
	r := &ExpiryReconciler{
		sessions:   sessions,
		entries:    entries,
		sessionSvc: sessionSvc,
		clock:      clk,
		cfg:        cfg,
		metrics:    m,
		l:          l,
	}
	r.loop = newScanLoop("expiry_reconciler", cfg.ExpiryScanInterval, func(ctx context.Context) {
		r.RunOnce(ctx)
	}, m, l)
	return r
}

func (r *ExpiryReconciler) Start(ctx context.Context) error {
	return r.loop.Start(ctx)
}

func (r *ExpiryReconciler) Stop() {
	r.loop.Stop()
}

func (r *ExpiryReconciler) RunOnce(ctx context.Context) ReconcileResult {
	var res ReconcileResult
	r.expireSessions(ctx, &res)
	r.settleOrphans(ctx, &res)

	if res.Expired > 0 || res.Settled > 0 || res.Failed > 0 {
		r.l.Infof(ctx, "expiry reconciler: expired=%d settled=%d failed=%d", res.Expired, res.Settled, res.Failed)
	}

	r.mu.Lock()
	r.lastScan = r.clock.Now()
	r.total.Expired += res.Expired
	r.total.Settled += res.Settled
	r.total.Failed += res.Failed
	r.mu.Unlock()
	return res
}

func (r *ExpiryReconciler) expireSessions(ctx context.Context, res *ReconcileResult) {
	for round := 0; round < maxScanRounds; round++ {
		batch, err := r.sessions.ListExpiredActive(ctx, r.clock.Now(), r.cfg.ScanBatchSize)
		if err != nil {
			r.metrics.LoopError("expiry_reconciler")
			r.l.Errorf(ctx, "expiryReconciler.expireSessions: %v", err)
			return
		}

		progressed := false
		for _, ps := range batch {
			if ctx.Err() != nil {
				return
			}
			if _, err := r.sessionSvc.ExpireSession(ctx, ps, models.ExpiryReasonTimeout); err != nil {
				res.Failed++
				r.metrics.LoopError("expiry_reconciler")
				r.l.Errorf(ctx, "expiryReconciler.expireSessions: session %s: %v", ps.ID, err)
				continue
			}
			res.Expired++
			progressed = true
		}

		if len(batch) < r.cfg.ScanBatchSize || !progressed {
			return
		}
	}
}

// settleOrphans handles processing entries whose deadline and grace have
// both passed yet no active session remains to expire them.
func (r *ExpiryReconciler) settleOrphans(ctx context.Context, res *ReconcileResult) {
	before := r.clock.Now().Add(-r.cfg.GraceWindow)
	batch, err := r.entries.ListStaleProcessing(ctx, before, r.cfg.ScanBatchSize)
	if err != nil {
		r.metrics.LoopError("expiry_reconciler")
		r.l.Errorf(ctx, "expiryReconciler.settleOrphans: %v", err)
		return
	}

	for _, entry := range batch {
		if ctx.Err() != nil {
			return
		}

		ps, err := r.sessions.FindActiveByQueueEntry(ctx, entry.ID)
		if err == nil && !ps.IsExpired(r.clock.Now()) {
			continue
		}
		if err == nil {
			if _, err := r.sessionSvc.ExpireSession(ctx, ps, models.ExpiryReasonTimeout); err != nil {
				res.Failed++
				r.l.Errorf(ctx, "expiryReconciler.settleOrphans: session %s: %v", ps.ID, err)
				continue
			}
			res.Expired++
			continue
		}
		if !errors.Is(err, appErrors.ErrSessionNotFound) {
			res.Failed++
			r.l.Errorf(ctx, "expiryReconciler.settleOrphans: entry %s: %v", entry.ID, err)
			continue
		}

		if err := r.sessionSvc.SettleOrphanEntry(ctx, entry); err != nil {
			res.Failed++
			r.metrics.LoopError("expiry_reconciler")
			r.l.Errorf(ctx, "expiryReconciler.settleOrphans: entry %s: %v", entry.ID, err)
			continue
		}
		res.Settled++
	}
}

func (r *ExpiryReconciler) Totals() (ReconcileResult, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total, r.lastScan
}
