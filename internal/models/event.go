package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventStatusDraft       EventStatus = "draft"
	EventStatusPublished   EventStatus = "published"
	EventStatusSaleStarted EventStatus = "sale_started"
	EventStatusSaleEnded   EventStatus = "sale_ended"
	EventStatusSoldOut     EventStatus = "sold_out"
	EventStatusCancelled   EventStatus = "cancelled"
	EventStatusCompleted   EventStatus = "completed"
)

type SaleWindow int

const (
	SaleNotStarted SaleWindow = iota
	SaleOpen
	SaleEnded
)

type Event struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Status          EventStatus `json:"status"`
	SaleStartAt     *time.Time  `json:"sale_start_at,omitempty"`
	SaleEndAt       *time.Time  `json:"sale_end_at,omitempty"`
	ConcurrentUsers int         `json:"concurrent_users"`
}

// IsClosed reports whether the event can never admit buyers again.
func (e *Event) IsClosed() bool {
	return e.Status == EventStatusCancelled || e.Status == EventStatusCompleted
}

// Window places now relative to the sale window. A missing start means the
// sale has not been scheduled.
func (e *Event) Window(now time.Time) SaleWindow {
	if e.SaleStartAt == nil || now.Before(*e.SaleStartAt) {
		return SaleNotStarted
	}
	if e.SaleEndAt != nil && now.After(*e.SaleEndAt) {
		return SaleEnded
	}
	return SaleOpen
}

type TicketType struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Sold       int             `json:"sold"`
	MaxPerUser int             `json:"max_per_user"`
	Active     bool            `json:"active"`
}

func (t *TicketType) Remaining() int {
	if r := t.Quantity - t.Sold; r > 0 {
		return r
	}
	return 0
}

func (t *TicketType) IsAvailable() bool {
	return t.Active && t.Remaining() > 0
}

// HasLimit is false when MaxPerUser is zero.
func (t *TicketType) HasLimit() bool {
	return t.MaxPerUser > 0
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// PurchasedOrderStatuses count toward per-user allowances.
var PurchasedOrderStatuses = []OrderStatus{OrderStatusPaid, OrderStatusCompleted}

type Order struct {
	ID        string      `json:"id"`
	EventID   string      `json:"event_id"`
	UserID    string      `json:"user_id"`
	Status    OrderStatus `json:"status"`
	Items     []OrderItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
}

type OrderItem struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

func (o *Order) IsPurchased() bool {
	for _, s := range PurchasedOrderStatuses {
		if o.Status == s {
			return true
		}
	}
	return false
}
