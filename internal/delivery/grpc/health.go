package grpc

import (
	"context"
	"time"

	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const AdmissionServiceName = "ticketbottle.admission.v1.AdmissionService"

type ProcessorStatusReader interface {
	GetStatus() service.ProcessorStatus
}

// HealthService reports SERVING while the admission processor runs.
type HealthService struct {
	srv      *health.Server
	proc     ProcessorStatusReader
	interval time.Duration
	l        logger.Logger
}

func NewHealthService(proc ProcessorStatusReader, interval time.Duration, l logger.Logger) *HealthService {
	h := &HealthService{
		srv:      health.NewServer(),
		proc:     proc,
		interval: interval,
		l:        l,
	}
	h.srv.SetServingStatus(AdmissionServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthService) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh copies the processor state into the health server.
func (h *HealthService) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.proc.GetStatus().IsRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(AdmissionServiceName, status)
	h.srv.SetServingStatus("", status)
	h.l.Debugf(ctx, "delivery.grpc.HealthService.Refresh: %s", status)
	return status
}

// Run refreshes on every interval until ctx is done, then marks everything
// NOT_SERVING.
func (h *HealthService) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
