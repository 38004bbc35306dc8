package grpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeProcessor struct{ running atomic.Bool }

func (f *fakeProcessor) GetStatus() service.ProcessorStatus {
	return service.ProcessorStatus{IsRunning: f.running.Load()}
}

func check(t *testing.T, h *HealthService, name string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: name})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthService_FollowsProcessor(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewHealthService(proc, time.Hour, logger.InitializeTestZapLogger())
	ctx := context.Background()

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, AdmissionServiceName))

	proc.running.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, h.Refresh(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, AdmissionServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, ""))

	proc.running.Store(false)
	h.Refresh(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, AdmissionServiceName))
}

func TestHealthService_RunShutsDown(t *testing.T) {
	proc := &fakeProcessor{}
	proc.running.Store(true)
	h := NewHealthService(proc, 5*time.Millisecond, logger.InitializeTestZapLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return check(t, h, AdmissionServiceName) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, AdmissionServiceName))
}
