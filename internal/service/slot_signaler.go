package service

import (
	"context"

	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	repository "github.com/vogiaan1904/ticketbottle-admission/internal/repository/redis"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

// Nudger wakes the local admission loop of an event.
type Nudger interface {
	Nudge(eventID string)
}

type slotSignaler struct {
	local   Nudger
	remote  repository.SignalRepository
	metrics *metrics.Metrics
	l       logger.Logger
}

// NewSlotSignaler nudges the local processor and, when remote is set,
// broadcasts to the other instances. Polling remains the fallback when a
// broadcast is lost.
func NewSlotSignaler(local Nudger, remote repository.SignalRepository, m *metrics.Metrics, l logger.Logger) SlotSignaler {
	return &slotSignaler{
		local:   local,
		remote:  remote,
		metrics: m,
		l:       l,
	}
}

func (s *slotSignaler) SlotFreed(ctx context.Context, eventID string) {
	if s.local != nil {
		s.local.Nudge(eventID)
	}
	s.metrics.SlotSignal("local")

	if s.remote == nil {
		return
	}
	if err := s.remote.PublishSlotFreed(ctx, eventID); err != nil {
		s.l.Warnf(ctx, "slotSignaler.SlotFreed: %v", err)
		return
	}
	s.metrics.SlotSignal("broadcast")
}
