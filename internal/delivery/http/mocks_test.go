package http

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
)

type mockQueueService struct{ mock.Mock }

var _ service.QueueService = (*mockQueueService)(nil)

func (m *mockQueueService) JoinQueue(ctx context.Context, in service.JoinQueueInput) (*service.JoinQueueOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*service.JoinQueueOutput)
	return out, args.Error(1)
}

func (m *mockQueueService) GetQueueStatus(ctx context.Context, in service.QueueStatusInput) (*service.QueueStatusOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*service.QueueStatusOutput)
	return out, args.Error(1)
}

func (m *mockQueueService) LeaveQueue(ctx context.Context, in service.LeaveQueueInput) (*service.LeaveQueueOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*service.LeaveQueueOutput)
	return out, args.Error(1)
}

func (m *mockQueueService) MarkAsPriority(ctx context.Context, in service.MarkPriorityInput) (*models.QueueEntry, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*models.QueueEntry)
	return out, args.Error(1)
}

func (m *mockQueueService) CancelEntry(ctx context.Context, in service.AdminEntryInput) (*models.QueueEntry, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*models.QueueEntry)
	return out, args.Error(1)
}

func (m *mockQueueService) ForceComplete(ctx context.Context, in service.AdminEntryInput) (*models.QueueEntry, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*models.QueueEntry)
	return out, args.Error(1)
}

func (m *mockQueueService) ProcessNext(ctx context.Context, eventID string) (*service.AdmissionResult, error) {
	args := m.Called(ctx, eventID)
	out, _ := args.Get(0).(*service.AdmissionResult)
	return out, args.Error(1)
}

func (m *mockQueueService) GetStatistics(ctx context.Context, eventID string) (*service.StatisticsOutput, error) {
	args := m.Called(ctx, eventID)
	out, _ := args.Get(0).(*service.StatisticsOutput)
	return out, args.Error(1)
}

type mockSessionService struct{ mock.Mock }

var _ service.SessionService = (*mockSessionService)(nil)

func (m *mockSessionService) GetSession(ctx context.Context, id string) (*service.SessionOutput, error) {
	return m.output(m.Called(ctx, id))
}

func (m *mockSessionService) ExtendSession(ctx context.Context, in service.ExtendSessionInput) (*service.SessionOutput, error) {
	return m.output(m.Called(ctx, in))
}

func (m *mockSessionService) AddItems(ctx context.Context, in service.CartItemsInput) (*service.SessionOutput, error) {
	return m.output(m.Called(ctx, in))
}

func (m *mockSessionService) RemoveItems(ctx context.Context, in service.CartItemsInput) (*service.SessionOutput, error) {
	return m.output(m.Called(ctx, in))
}

func (m *mockSessionService) SetCustomerInfo(ctx context.Context, in service.CustomerInfoInput) (*service.SessionOutput, error) {
	return m.output(m.Called(ctx, in))
}

func (m *mockSessionService) CompleteSession(ctx context.Context, in service.CompleteSessionInput) (*service.SessionOutput, error) {
	return m.output(m.Called(ctx, in))
}

func (m *mockSessionService) AbandonSession(ctx context.Context, in service.SessionActionInput) (*service.SessionOutput, error) {
	return m.output(m.Called(ctx, in))
}

func (m *mockSessionService) CreateManualSession(ctx context.Context, in service.ManualSessionInput) (*service.SessionOutput, error) {
	return m.output(m.Called(ctx, in))
}

func (m *mockSessionService) HandleOrderCompleted(ctx context.Context, in service.OrderCompletedInput) error {
	return m.Called(ctx, in).Error(0)
}

func (m *mockSessionService) ExpireSession(ctx context.Context, ps *models.PurchaseSession, reason string) (*models.PurchaseSession, error) {
	args := m.Called(ctx, ps, reason)
	out, _ := args.Get(0).(*models.PurchaseSession)
	return out, args.Error(1)
}

func (m *mockSessionService) SettleOrphanEntry(ctx context.Context, entry *models.QueueEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockSessionService) CancelForEntry(ctx context.Context, entryID, reason string) error {
	return m.Called(ctx, entryID, reason).Error(0)
}

func (m *mockSessionService) output(args mock.Arguments) (*service.SessionOutput, error) {
	out, _ := args.Get(0).(*service.SessionOutput)
	return out, args.Error(1)
}

type stubProcessor struct{ status service.ProcessorStatus }

func (s stubProcessor) GetStatus() service.ProcessorStatus { return s.status }
