package http

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
)

type identityRequest struct {
	UserID    string `json:"user_id" validate:"omitempty,max=128"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

type leaveQueueRequest struct {
	identityRequest
	Reason string `json:"reason" validate:"omitempty,oneof=abandoned left"`
}

type extendSessionRequest struct {
	Minutes int `json:"minutes" validate:"gte=0"`
}

type cartItemRequest struct {
	TicketTypeID string `json:"ticket_type_id" validate:"required"`
	Quantity     int    `json:"quantity" validate:"gt=0"`
}

type cartItemsRequest struct {
	Items []cartItemRequest `json:"items" validate:"required,min=1,dive"`
}

type customerInfoRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

type completeSessionRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

type manualSessionRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	AdminID  string `json:"admin_id"`
	Priority bool   `json:"priority"`
}

type priorityRequest struct {
	AdminID string `json:"admin_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

type adminEntryRequest struct {
	AdminID string `json:"admin_id" validate:"required"`
	Reason  string `json:"reason"`
	Note    string `json:"note"`
}

func (r adminEntryRequest) note() string {
	if r.Note != "" {
		return r.Note
	}
	return r.Reason
}

type queueEntryResponse struct {
	ID                  string     `json:"id"`
	EventID             string     `json:"event_id"`
	UserID              string     `json:"user_id,omitempty"`
	SessionID           string     `json:"session_id"`
	Status              string     `json:"status"`
	IsPriority          bool       `json:"is_priority"`
	EnteredAt           time.Time  `json:"entered_at"`
	ProcessingExpiresAt *time.Time `json:"processing_expires_at,omitempty"`
	GraceExpiresAt      *time.Time `json:"grace_expires_at,omitempty"`
	Notes               string     `json:"notes,omitempty"`
}

func newQueueEntryResponse(e *models.QueueEntry) *queueEntryResponse {
	if e == nil {
		return nil
	}
	return &queueEntryResponse{
		ID:                  e.ID,
		EventID:             e.EventID,
		UserID:              e.UserID,
		SessionID:           e.SessionID,
		Status:              string(e.Status),
		IsPriority:          e.IsPriority,
		EnteredAt:           e.EnteredAt,
		ProcessingExpiresAt: e.ProcessingExpiresAt,
		GraceExpiresAt:      e.GraceExpiresAt,
		Notes:               e.Notes,
	}
}

type joinQueueResponse struct {
	Entry                *queueEntryResponse `json:"entry"`
	Created              bool                `json:"created"`
	Position             int                 `json:"position"`
	QueueLength          int                 `json:"queue_length"`
	EstimatedWaitSeconds int64               `json:"estimated_wait_seconds"`
	EstimatedWait        string              `json:"estimated_wait"`
}

type queueStatusResponse struct {
	Entry                      *queueEntryResponse `json:"entry"`
	Position                   int                 `json:"position"`
	QueueLength                int                 `json:"queue_length"`
	EstimatedWaitSeconds       int64               `json:"estimated_wait_seconds"`
	EstimatedWait              string              `json:"estimated_wait"`
	RemainingProcessingSeconds int64               `json:"remaining_processing_seconds"`
	PurchaseSessionID          string              `json:"purchase_session_id,omitempty"`
}

type leaveQueueResponse struct {
	Entry   *queueEntryResponse `json:"entry"`
	Changed bool                `json:"changed"`
}

type lineItemResponse struct {
	TicketTypeID string          `json:"ticket_type_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type sessionResponse struct {
	ID               string               `json:"id"`
	QueueEntryID     string               `json:"queue_entry_id,omitempty"`
	EventID          string               `json:"event_id"`
	UserID           string               `json:"user_id,omitempty"`
	Status           string               `json:"status"`
	SlotType         string               `json:"slot_type"`
	StartedAt        time.Time            `json:"started_at"`
	ExpiresAt        time.Time            `json:"expires_at"`
	RemainingSeconds int64                `json:"remaining_seconds"`
	ExtensionCount   int                  `json:"extension_count"`
	ExtensionsLeft   int                  `json:"extensions_left"`
	Items            []lineItemResponse   `json:"items"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	CustomerInfo     *models.CustomerInfo `json:"customer_info,omitempty"`
	CheckoutToken    string               `json:"checkout_token,omitempty"`
	OrderID          string               `json:"order_id,omitempty"`
	EndReason        string               `json:"end_reason,omitempty"`
}

func newSessionResponse(out *service.SessionOutput) *sessionResponse {
	ps := out.Session
	items := make([]lineItemResponse, 0, len(ps.SelectedTickets))
	for _, li := range ps.SelectedTickets {
		items = append(items, lineItemResponse{
			TicketTypeID: li.TicketTypeID,
			Quantity:     li.Quantity,
			UnitPrice:    li.UnitPrice,
			Subtotal:     li.Subtotal(),
		})
	}

	resp := &sessionResponse{
		ID:               ps.ID,
		QueueEntryID:     ps.QueueEntryID,
		EventID:          ps.EventID,
		UserID:           ps.UserID,
		Status:           string(ps.Status),
		SlotType:         string(ps.SlotType),
		StartedAt:        ps.StartedAt,
		ExpiresAt:        ps.ExpiresAt,
		RemainingSeconds: seconds(out.RemainingTime),
		ExtensionCount:   ps.ExtensionCount,
		ExtensionsLeft:   out.ExtensionsLeft,
		Items:            items,
		TotalAmount:      ps.TotalAmount,
		CustomerInfo:     ps.CustomerInfo,
		OrderID:          ps.OrderID,
		EndReason:        ps.EndReason,
	}
	if ps.IsActive() {
		resp.CheckoutToken = ps.CheckoutToken
	}
	return resp
}

type admissionResponse struct {
	Entry   *queueEntryResponse `json:"entry"`
	Session *sessionResponse    `json:"session"`
}

type statisticsResponse struct {
	EventID         string               `json:"event_id"`
	ConcurrentUsers int                  `json:"concurrent_users"`
	OccupiedSlots   int                  `json:"occupied_slots"`
	AvailableSlots  int                  `json:"available_slots"`
	Queue           *models.QueueStats   `json:"queue"`
	Sessions        *models.SessionStats `json:"sessions"`
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
