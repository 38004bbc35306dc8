package service

import (
	"context"
	"sync"
	"time"

	"github.com/vogiaan1904/ticketbottle-admission/config"
	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

const limitEnforcerActor = "system:limit-enforcer"

type EnforceResult struct {
	Checked int
	Evicted int
	Failed  int
}

// LimitEnforcer removes queue members who can no longer buy anything for
// their event because every per-user allowance is used up.
type LimitEnforcer struct {
	entries   repository.QueueEntryRepository
	inventory Inventory
	queueSvc  QueueService
	clock     clock.Clock
	cfg       config.AdmissionConfig
	metrics   *metrics.Metrics
	l         logger.Logger
	loop      *scanLoop

	mu       sync.Mutex
	lastScan time.Time
	total    EnforceResult
}

func NewLimitEnforcer(
	entries repository.QueueEntryRepository,
	inventory Inventory,
	queueSvc QueueService,
	clk clock.Clock,
	cfg config.AdmissionConfig,
	m *metrics.Metrics,
	l logger.Logger,
) *LimitEnforcer {
	e := &LimitEnforcer{
		entries:   entries,
		inventory: inventory,
		queueSvc:  queueSvc,
		clock:     clk,
		cfg:       cfg,
		metrics:   m,
		l:         l,
	}
	e.loop = newScanLoop("limit_enforcer", cfg.LimitScanInterval, func(ctx context.Context) {
		e.RunOnce(ctx)
	}, m, l)
	return e
}

func (e *LimitEnforcer) Start(ctx context.Context) error {
	return e.loop.Start(ctx)
}

func (e *LimitEnforcer) Stop() {
	e.loop.Stop()
}

func (e *LimitEnforcer) RunOnce(ctx context.Context) EnforceResult {
	var res EnforceResult
	reached := make(map[[2]string]bool)

	afterID := ""
	for {
		page, err := e.entries.ListLifecycle(ctx, afterID, e.cfg.ScanBatchSize)
		if err != nil {
			e.metrics.LoopError("limit_enforcer")
			e.l.Errorf(ctx, "limitEnforcer.RunOnce: %v", err)
			break
		}

		for _, entry := range page {
			if ctx.Err() != nil {
				return res
			}
			if entry.UserID == "" {
				continue
			}
			res.Checked++

			key := [2]string{entry.EventID, entry.UserID}
			done, ok := reached[key]
			if !ok {
				done, err = e.inventory.HasUserReachedAllEventLimits(ctx, entry.EventID, entry.UserID)
				if err != nil {
					res.Failed++
					e.l.Errorf(ctx, "limitEnforcer.RunOnce: entry %s: %v", entry.ID, err)
					continue
				}
				reached[key] = done
			}
			if !done {
				continue
			}

			if _, err := e.queueSvc.ForceComplete(ctx, AdminEntryInput{
				EntryID: entry.ID,
				AdminID: limitEnforcerActor,
				Note:    "ticket limit reached",
			}); err != nil {
				res.Failed++
				e.metrics.LoopError("limit_enforcer")
				e.l.Errorf(ctx, "limitEnforcer.RunOnce: complete entry %s: %v", entry.ID, err)
				continue
			}
			res.Evicted++
			e.metrics.LimitEviction()
		}

		if len(page) == 0 || len(page) < e.cfg.ScanBatchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	if res.Evicted > 0 || res.Failed > 0 {
		e.l.Infof(ctx, "limit enforcer: checked=%d evicted=%d failed=%d", res.Checked, res.Evicted, res.Failed)
	}

	e.mu.Lock()
	e.lastScan = e.clock.Now()
	e.total.Checked += res.Checked
	e.total.Evicted += res.Evicted
	e.total.Failed += res.Failed
	e.mu.Unlock()
	return res
}

func (e *LimitEnforcer) Totals() (EnforceResult, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total, e.lastScan
}
