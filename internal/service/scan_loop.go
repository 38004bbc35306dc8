package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

// scanLoop runs fn immediately and then every interval until stopped. A
// panic inside fn is logged and the next scan runs as usual.
type scanLoop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	metrics  *metrics.Metrics
	l        logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newScanLoop(name string, interval time.Duration, fn func(ctx context.Context), m *metrics.Metrics, l logger.Logger) *scanLoop {
	return &scanLoop{
		name:     name,
		interval: interval,
		fn:       fn,
		metrics:  m,
		l:        l,
	}
}

func (s *scanLoop) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("%s already running", s.name)
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.l.Infof(ctx, "starting %s every %s", s.name, s.interval)
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

func (s *scanLoop) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.l.Infof(context.Background(), "%s stopped", s.name)
}

func (s *scanLoop) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.safeScan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.safeScan(ctx)
		}
	}
}

func (s *scanLoop) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.LoopError(s.name)
			s.l.Errorf(ctx, "%s: panic: %v", s.name, r)
		}
	}()
	s.fn(ctx)
}
