package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEventNotFound     = errors.New("event not found")
	ErrEntryNotFound     = errors.New("queue entry not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoAvailableSlots  = errors.New("no concurrency slots available")
	ErrNoWaitingEntries  = errors.New("no waiting entries")
	ErrIdentityRequired  = errors.New("user id or session id is required")
	ErrLeaseNotHeld      = errors.New("another instance is admitting this event")
)

// Code identifies why a request was refused. Clients branch on it.
type Code string

const (
	CodeEventNotEligible   Code = "event_not_eligible"
	CodeSaleNotStarted     Code = "sale_not_started"
	CodeSaleEnded          Code = "sale_ended"
	CodeSoldOut            Code = "sold_out"
	CodeTicketLimitReached Code = "ticket_limit_reached"
	CodeRejoinGracePeriod  Code = "rejoin_grace_period"
	CodeTicketUnavailable  Code = "ticket_unavailable"
	CodeQuantityExceeded   Code = "quantity_exceeds_limit"
)

type RejectionError struct {
	Code       Code
	Reason     string
	RetryAfter time.Duration
}

func Reject(code Code, reason string) *RejectionError {
	return &RejectionError{Code: code, Reason: reason}
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// AsRejection reports whether err carries a RejectionError.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func IsRejection(err error, code Code) bool {
	rej, ok := AsRejection(err)
	return ok && rej.Code == code
}
