package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type envelope struct {
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Errors    json.RawMessage `json:"errors"`
}

type handlerSuite struct {
	queue   *mockQueueService
	session *mockSessionService
	router  http.Handler
}

func newHandlerSuite(t *testing.T) *handlerSuite {
	t.Helper()
	s := &handlerSuite{queue: &mockQueueService{}, session: &mockSessionService{}}
	h := NewHTTPHandler(s.queue, s.session, stubProcessor{status: service.ProcessorStatus{
		IsRunning:    true,
		InstanceID:   "node-a",
		ActiveEvents: []string{"ev-1"},
	}}, logger.InitializeTestZapLogger())
	s.router = h.Routes(nil)
	t.Cleanup(func() {
		s.queue.AssertExpectations(t)
		s.session.AssertExpectations(t)
	})
	return s
}

func (s *handlerSuite) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func waitingEntry() *models.QueueEntry {
	return models.NewQueueEntry("entry-1", "ev-1", "user-1", "sess-1", t0)
}

func activeSession() *service.SessionOutput {
	return &service.SessionOutput{
		Session: &models.PurchaseSession{
			ID:            "ps-1",
			QueueEntryID:  "entry-1",
			EventID:       "ev-1",
			UserID:        "user-1",
			Status:        models.SessionStatusActive,
			SlotType:      models.SlotTypeStandard,
			StartedAt:     t0,
			ExpiresAt:     t0.Add(8 * time.Minute),
			MaxExtensions: 2,
			SelectedTickets: []models.LineItem{
				{TicketTypeID: "tt-ga", Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
			},
			TotalAmount:   decimal.NewFromInt(100),
			CheckoutToken: "token-1",
		},
		RemainingTime:  5 * time.Minute,
		ExtensionsLeft: 2,
	}
}

func TestJoinQueue(t *testing.T) {
	s := newHandlerSuite(t)
	s.queue.On("JoinQueue", mock.Anything, service.JoinQueueInput{EventID: "ev-1", UserID: "user-1"}).
		Return(&service.JoinQueueOutput{
			Entry:               waitingEntry(),
			Created:             true,
			Position:            3,
			QueueLength:         7,
			EstimatedWait:       16 * time.Minute,
			EstimatedWaitString: "about 16 minutes",
		}, nil).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/events/ev-1/queue/join", `{"user_id":"user-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body joinQueueResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, 3, body.Position)
	assert.Equal(t, int64(960), body.EstimatedWaitSeconds)
	assert.Equal(t, "about 16 minutes", body.EstimatedWait)
	assert.Equal(t, "entry-1", body.Entry.ID)
}

func TestJoinQueue_ExistingEntryIsOK(t *testing.T) {
	s := newHandlerSuite(t)
	s.queue.On("JoinQueue", mock.Anything, service.JoinQueueInput{EventID: "ev-1", SessionID: "anon-1"}).
		Return(&service.JoinQueueOutput{Entry: waitingEntry(), Position: 1, QueueLength: 1}, nil).Once()

	rec, _ := s.do(t, http.MethodPost, "/api/v1/events/ev-1/queue/join", `{"session_id":"anon-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJoinQueue_Rejections(t *testing.T) {
	rejoin := appErrors.Reject(appErrors.CodeRejoinGracePeriod, "recently expired")
	rejoin.RetryAfter = 90*time.Second + 200*time.Millisecond

	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"limit reached", appErrors.Reject(appErrors.CodeTicketLimitReached, "limit"), http.StatusForbidden, "ticket_limit_reached", ""},
		{"sold out", appErrors.Reject(appErrors.CodeSoldOut, "gone"), http.StatusConflict, "sold_out", ""},
		{"sale not started", appErrors.Reject(appErrors.CodeSaleNotStarted, "soon"), http.StatusConflict, "sale_not_started", ""},
		{"rejoin grace", rejoin, http.StatusConflict, "rejoin_grace_period", "91"},
		{"identity", appErrors.ErrIdentityRequired, http.StatusBadRequest, "ADM003", ""},
		{"event missing", fmt.Errorf("queueService.JoinQueue: %w", appErrors.ErrEventNotFound), http.StatusNotFound, "ADM010", ""},
		{"unexpected", fmt.Errorf("db down"), http.StatusInternalServerError, "ADM000", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newHandlerSuite(t)
			s.queue.On("JoinQueue", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			rec, env := s.do(t, http.MethodPost, "/api/v1/events/ev-1/queue/join", `{"user_id":"u"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, env.ErrorCode)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}

func TestJoinQueue_InvalidBody(t *testing.T) {
	s := newHandlerSuite(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/events/ev-1/queue/join", `{"user_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ADM001", env.ErrorCode)
}

func TestGetQueueStatus_Expired(t *testing.T) {
	s := newHandlerSuite(t)
	rejoinAt := t0.Add(2 * time.Minute)
	s.queue.On("GetQueueStatus", mock.Anything, service.QueueStatusInput{EventID: "ev-1", UserID: "user-1"}).
		Return(nil, &appErrors.ExpiredError{
			Kind:        appErrors.ExpiredQueueEntry,
			ID:          "entry-1",
			EventID:     "ev-1",
			EventName:   "Summer Festival",
			Position:    4,
			Reason:      "timeout",
			ExpiredAt:   t0,
			CanRejoinAt: &rejoinAt,
		}).Once()

	rec, env := s.do(t, http.MethodGet, "/api/v1/events/ev-1/queue/status?user_id=user-1", "")
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "ADM040", env.ErrorCode)

	var detail expiredDetail
	require.NoError(t, json.Unmarshal(env.Errors, &detail))
	assert.Equal(t, appErrors.ExpiredQueueEntry, detail.Kind)
	assert.Equal(t, "Summer Festival", detail.EventName)
	assert.Equal(t, 4, detail.Position)
	require.NotNil(t, detail.CanRejoinAt)
	assert.True(t, rejoinAt.Equal(*detail.CanRejoinAt))
}

func TestLeaveQueue_DefaultsReason(t *testing.T) {
	s := newHandlerSuite(t)
	s.queue.On("LeaveQueue", mock.Anything, service.LeaveQueueInput{EventID: "ev-1", UserID: "user-1", Reason: service.LeaveLeft}).
		Return(&service.LeaveQueueOutput{Entry: waitingEntry(), Changed: true}, nil).Once()

	rec, _ := s.do(t, http.MethodPost, "/api/v1/events/ev-1/queue/leave", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLeaveQueue_InvalidReason(t *testing.T) {
	s := newHandlerSuite(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/events/ev-1/queue/leave", `{"user_id":"user-1","reason":"bored"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ADM002", env.ErrorCode)
}

func TestLeaveQueue_WhileProcessing(t *testing.T) {
	s := newHandlerSuite(t)
	s.queue.On("LeaveQueue", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: cannot move from processing to left", appErrors.ErrInvalidTransition)).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/events/ev-1/queue/leave", `{"session_id":"sess-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ADM020", env.ErrorCode)
}

func TestGetSession(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("GetSession", mock.Anything, "ps-1").Return(activeSession(), nil).Once()

	rec, env := s.do(t, http.MethodGet, "/api/v1/sessions/ps-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, int64(300), body.RemainingSeconds)
	assert.Equal(t, "token-1", body.CheckoutToken)
	require.Len(t, body.Items, 1)
	assert.True(t, decimal.NewFromInt(100).Equal(body.Items[0].Subtotal))
}

func TestExtendSession_MaxReached(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("ExtendSession", mock.Anything, service.ExtendSessionInput{SessionID: "ps-1", CheckoutToken: "token-1", Minutes: 2}).
		Return(nil, fmt.Errorf("%w: 2 of 2 used", appErrors.ErrMaxExtensionsReached)).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/sessions/ps-1/extend", `{"minutes":2}`, checkoutTokenHeader, "token-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ADM022", env.ErrorCode)
}

func TestAddItems(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("AddItems", mock.Anything, service.CartItemsInput{
		SessionID:     "ps-1",
		CheckoutToken: "token-1",
		Items:         []service.CartItem{{TicketTypeID: "tt-ga", Quantity: 2}},
	}).Return(activeSession(), nil).Once()

	rec, _ := s.do(t, http.MethodPost, "/api/v1/sessions/ps-1/items", `{"items":[{"ticket_type_id":"tt-ga","quantity":2}]}`, checkoutTokenHeader, "token-1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddItems_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty items", `{"items":[]}`},
		{"zero quantity", `{"items":[{"ticket_type_id":"tt-ga","quantity":0}]}`},
		{"missing type", `{"items":[{"quantity":1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newHandlerSuite(t)
			rec, env := s.do(t, http.MethodPost, "/api/v1/sessions/ps-1/items", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "ADM002", env.ErrorCode)
		})
	}
}

func TestAddItems_OverLimit(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("AddItems", mock.Anything, mock.Anything).
		Return(nil, appErrors.Reject(appErrors.CodeQuantityExceeded, "limit of 4 GA tickets per user, 2 already purchased")).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/sessions/ps-1/items", `{"items":[{"ticket_type_id":"tt-ga","quantity":3}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "quantity_exceeds_limit", env.ErrorCode)
	assert.Contains(t, env.Message, "2 already purchased")
}

func TestRemoveItems(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("RemoveItems", mock.Anything, mock.Anything).Return(nil, appErrors.ErrItemNotInCart).Once()

	rec, env := s.do(t, http.MethodDelete, "/api/v1/sessions/ps-1/items", `{"items":[{"ticket_type_id":"tt-vip","quantity":1}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ADM014", env.ErrorCode)
}

func TestSetCustomerInfo_InvalidEmail(t *testing.T) {
	s := newHandlerSuite(t)

	rec, env := s.do(t, http.MethodPut, "/api/v1/sessions/ps-1/customer", `{"name":"Ada","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ADM002", env.ErrorCode)
}

func TestSetCustomerInfo_PassesToken(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("SetCustomerInfo", mock.Anything, service.CustomerInfoInput{
		SessionID:     "ps-1",
		CheckoutToken: "token-1",
		Info:          models.CustomerInfo{Name: "Ada", Email: "ada@example.com"},
	}).Return(activeSession(), nil).Once()

	rec, _ := s.do(t, http.MethodPut, "/api/v1/sessions/ps-1/customer", `{"name":"Ada","email":"ada@example.com"}`, checkoutTokenHeader, "token-1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompleteSession_PassesToken(t *testing.T) {
	s := newHandlerSuite(t)
	done := activeSession()
	done.Session.Status = models.SessionStatusCompleted
	done.Session.OrderID = "order-1"
	s.session.On("CompleteSession", mock.Anything, service.CompleteSessionInput{
		SessionID:     "ps-1",
		OrderID:       "order-1",
		CheckoutToken: "token-1",
	}).Return(done, nil).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/sessions/ps-1/complete", `{"order_id":"order-1"}`, checkoutTokenHeader, "token-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "completed", body.Status)
	assert.Empty(t, body.CheckoutToken)
}

func TestCompleteSession_InvalidToken(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("CompleteSession", mock.Anything, mock.Anything).Return(nil, appErrors.ErrInvalidCheckoutToken).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/sessions/ps-1/complete", `{"order_id":"order-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "ADM030", env.ErrorCode)
}

func TestAbandonSession_NotActive(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("AbandonSession", mock.Anything, service.SessionActionInput{SessionID: "ps-1", CheckoutToken: "token-1"}).
		Return(nil, appErrors.ErrSessionNotActive).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/sessions/ps-1/abandon", "", checkoutTokenHeader, "token-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ADM021", env.ErrorCode)
}

func TestAbandonSession_MissingToken(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("AbandonSession", mock.Anything, service.SessionActionInput{SessionID: "ps-1"}).
		Return(nil, appErrors.ErrInvalidCheckoutToken).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/sessions/ps-1/abandon", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "ADM030", env.ErrorCode)
}

func TestProcessNext(t *testing.T) {
	s := newHandlerSuite(t)
	entry := waitingEntry()
	entry.Status = models.QueueStatusProcessing
	s.queue.On("ProcessNext", mock.Anything, "ev-1").
		Return(&service.AdmissionResult{Entry: entry, Session: activeSession().Session}, nil).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/admin/events/ev-1/queue/process-next", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body admissionResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "processing", body.Entry.Status)
	assert.Equal(t, int64(480), body.Session.RemainingSeconds)
}

func TestProcessNext_NoSlots(t *testing.T) {
	s := newHandlerSuite(t)
	s.queue.On("ProcessNext", mock.Anything, "ev-1").Return(nil, appErrors.ErrNoAvailableSlots).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/admin/events/ev-1/queue/process-next", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ADM023", env.ErrorCode)
}

func TestProcessNext_LeaseHeldElsewhere(t *testing.T) {
	s := newHandlerSuite(t)
	s.queue.On("ProcessNext", mock.Anything, "ev-1").Return(nil, appErrors.ErrLeaseNotHeld).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/admin/events/ev-1/queue/process-next", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ADM026", env.ErrorCode)
}

func TestCreateManualSession(t *testing.T) {
	s := newHandlerSuite(t)
	s.session.On("CreateManualSession", mock.Anything, service.ManualSessionInput{
		EventID: "ev-1",
		UserID:  "user-9",
		AdminID: "admin-1",
	}).Return(activeSession(), nil).Once()

	rec, _ := s.do(t, http.MethodPost, "/api/v1/admin/events/ev-1/sessions", `{"user_id":"user-9","admin_id":"admin-1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMarkAsPriority_RequiresReason(t *testing.T) {
	s := newHandlerSuite(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/admin/queue/entries/entry-1/priority", `{"admin_id":"admin-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelEntry_UsesReasonAsNote(t *testing.T) {
	s := newHandlerSuite(t)
	entry := waitingEntry()
	entry.Cancel(t0, "cancelled by admin-1: duplicate")
	s.queue.On("CancelEntry", mock.Anything, service.AdminEntryInput{EntryID: "entry-1", AdminID: "admin-1", Note: "duplicate"}).
		Return(entry, nil).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/admin/queue/entries/entry-1/cancel", `{"admin_id":"admin-1","reason":"duplicate"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueEntryResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "cancelled", body.Status)
}

func TestForceComplete_Missing(t *testing.T) {
	s := newHandlerSuite(t)
	s.queue.On("ForceComplete", mock.Anything, mock.Anything).Return(nil, appErrors.ErrEntryNotFound).Once()

	rec, env := s.do(t, http.MethodPost, "/api/v1/admin/queue/entries/nope/complete", `{"admin_id":"admin-1","note":"paid offline"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ADM011", env.ErrorCode)
}

func TestProcessorStatus(t *testing.T) {
	s := newHandlerSuite(t)

	rec, env := s.do(t, http.MethodGet, "/api/v1/admin/processor/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body service.ProcessorStatus
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.True(t, body.IsRunning)
	assert.Equal(t, []string{"ev-1"}, body.ActiveEvents)
}

func TestHealthCheck(t *testing.T) {
	s := newHandlerSuite(t)

	rec, _ := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
