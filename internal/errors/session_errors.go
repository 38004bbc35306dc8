package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound        = errors.New("purchase session not found")
	ErrSessionNotActive       = errors.New("purchase session is not active")
	ErrMaxExtensionsReached   = errors.New("maximum extensions reached")
	ErrActiveSessionExists    = errors.New("queue entry already has an active purchase session")
	ErrInvalidCheckoutToken   = errors.New("invalid checkout token")
	ErrInvalidExtension       = errors.New("extension must be a positive number of minutes")
	ErrItemNotInCart          = errors.New("ticket type is not in the cart")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrCustomerInfoIncomplete = errors.New("customer name and email are required")
)

type ExpiredKind string

const (
	ExpiredQueueEntry      ExpiredKind = "queue_entry"
	ExpiredPurchaseSession ExpiredKind = "purchase_session"
)

// ExpiredError is returned when the caller addresses something whose window
// has passed. It carries enough detail for the client to offer a rejoin.
type ExpiredError struct {
	Kind        ExpiredKind
	ID          string
	EventID     string
	EventName   string
	Position    int
	Reason      string
	ExpiredAt   time.Time
	CanRejoinAt *time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s %s expired: %s", e.Kind, e.ID, e.Reason)
}

func AsExpired(err error) (*ExpiredError, bool) {
	var exp *ExpiredError
	if errors.As(err, &exp) {
		return exp, true
	}
	return nil, false
}

var ErrTicketTypeNotFound = errors.New("ticket type not found")
