package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusActive
}

type SlotType string

const (
	SlotTypeVIP      SlotType = "vip"
	SlotTypeStandard SlotType = "standard"
)

func SlotTypeFor(isPriority bool) SlotType {
	if isPriority {
		return SlotTypeVIP
	}
	return SlotTypeStandard
}

const (
	ExpiryReasonTimeout  = "timeout"
	ExpiryReasonOrphaned = "orphaned"
)

type LineItem struct {
	TicketTypeID string          `json:"ticket_type_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type PurchaseSession struct {
	ID              string          `json:"id"`
	QueueEntryID    string          `json:"queue_entry_id,omitempty"`
	EventID         string          `json:"event_id"`
	UserID          string          `json:"user_id,omitempty"`
	SessionID       string          `json:"session_id"`
	Status          SessionStatus   `json:"status"`
	SlotType        SlotType        `json:"slot_type"`
	StartedAt       time.Time       `json:"started_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ExtensionCount  int             `json:"extension_count"`
	MaxExtensions   int             `json:"max_extensions"`
	SelectedTickets []LineItem      `json:"selected_tickets"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CustomerInfo    *CustomerInfo   `json:"customer_info,omitempty"`
	CheckoutToken   string          `json:"checkout_token,omitempty"`
	OrderID         string          `json:"order_id,omitempty"`
	EndReason       string          `json:"end_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	// Version counts stored writes. Updates only apply to the version read.
	Version int64 `json:"-"`
}

// IsExpired is a pure check; callers decide whether to act on it.
func (s *PurchaseSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *PurchaseSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

func (s *PurchaseSession) Remaining(now time.Time) time.Duration {
	if !s.IsActive() {
		return 0
	}
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (s *PurchaseSession) CanExtend() bool {
	return s.ExtensionCount < s.MaxExtensions
}

// Extend pushes expiresAt forward. Sessions past their window are treated as
// not active even if the row still says active.
func (s *PurchaseSession) Extend(now time.Time, by time.Duration) error {
	if by <= 0 {
		return appErrors.ErrInvalidExtension
	}
	if !s.IsActive() || s.IsExpired(now) {
		return fmt.Errorf("%w: status %s", appErrors.ErrSessionNotActive, s.Status)
	}
	if !s.CanExtend() {
		return fmt.Errorf("%w: %d of %d used", appErrors.ErrMaxExtensionsReached, s.ExtensionCount, s.MaxExtensions)
	}

	s.ExpiresAt = s.ExpiresAt.Add(by)
	s.ExtensionCount++
	s.UpdatedAt = now
	return nil
}

// SetCart replaces the cart and recomputes the total.
func (s *PurchaseSession) SetCart(now time.Time, items []LineItem) error {
	if !s.IsActive() {
		return fmt.Errorf("%w: status %s", appErrors.ErrSessionNotActive, s.Status)
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	s.SelectedTickets = items
	s.TotalAmount = total
	s.UpdatedAt = now
	return nil
}

func (s *PurchaseSession) QuantityOf(ticketTypeID string) int {
	for _, item := range s.SelectedTickets {
		if item.TicketTypeID == ticketTypeID {
			return item.Quantity
		}
	}
	return 0
}

func (s *PurchaseSession) SetCustomerInfo(now time.Time, info CustomerInfo) error {
	if !s.IsActive() {
		return fmt.Errorf("%w: status %s", appErrors.ErrSessionNotActive, s.Status)
	}
	if info.Name == "" || info.Email == "" {
		return appErrors.ErrCustomerInfoIncomplete
	}

	s.CustomerInfo = &info
	s.UpdatedAt = now
	return nil
}

func (s *PurchaseSession) Complete(now time.Time, orderID string) bool {
	if !s.terminate(now, SessionStatusCompleted, "") {
		return false
	}
	completed := now
	s.CompletedAt = &completed
	s.OrderID = orderID
	return true
}

func (s *PurchaseSession) Abandon(now time.Time) bool {
	return s.terminate(now, SessionStatusAbandoned, "")
}

func (s *PurchaseSession) Cancel(now time.Time, reason string) bool {
	return s.terminate(now, SessionStatusCancelled, reason)
}

func (s *PurchaseSession) Expire(now time.Time, reason string) bool {
	return s.terminate(now, SessionStatusExpired, reason)
}

func (s *PurchaseSession) terminate(now time.Time, to SessionStatus, reason string) bool {
	if s.Status.IsTerminal() {
		return false
	}
	s.Status = to
	s.EndReason = reason
	s.UpdatedAt = now
	return true
}
