package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	pkgErrors "github.com/vogiaan1904/ticketbottle-admission/pkg/errors"
)

var (
	errInvalidBody      = pkgErrors.NewHTTPError(http.StatusBadRequest, "ADM001", "Invalid request body")
	errValidation       = pkgErrors.NewHTTPError(http.StatusBadRequest, "ADM002", "Validation failed")
	errIdentityRequired = pkgErrors.NewHTTPError(http.StatusBadRequest, "ADM003", "user_id or session_id is required")
	errBadRequest       = pkgErrors.NewHTTPError(http.StatusBadRequest, "ADM004", "Invalid request")

	errEventNotFound   = pkgErrors.NewHTTPError(http.StatusNotFound, "ADM010", "Event not found")
	errEntryNotFound   = pkgErrors.NewHTTPError(http.StatusNotFound, "ADM011", "Queue entry not found")
	errSessionNotFound = pkgErrors.NewHTTPError(http.StatusNotFound, "ADM012", "Purchase session not found")
	errTicketNotFound  = pkgErrors.NewHTTPError(http.StatusNotFound, "ADM013", "Ticket type not found")
	errItemNotInCart   = pkgErrors.NewHTTPError(http.StatusNotFound, "ADM014", "Ticket type is not in the cart")

	errInvalidTransition = pkgErrors.NewHTTPError(http.StatusConflict, "ADM020", "Queue entry cannot make this transition")
	errSessionNotActive  = pkgErrors.NewHTTPError(http.StatusConflict, "ADM021", "Purchase session is not active")
	errMaxExtensions     = pkgErrors.NewHTTPError(http.StatusConflict, "ADM022", "Maximum extensions reached")
	errNoSlots           = pkgErrors.NewHTTPError(http.StatusConflict, "ADM023", "No concurrency slots available")
	errNoWaiting         = pkgErrors.NewHTTPError(http.StatusConflict, "ADM024", "No waiting entries")
	errSessionExists     = pkgErrors.NewHTTPError(http.StatusConflict, "ADM025", "Queue entry already has an active session")
	errLeaseNotHeld      = pkgErrors.NewHTTPError(http.StatusConflict, "ADM026", "Another instance is admitting this event")

	errInvalidToken = pkgErrors.NewHTTPError(http.StatusUnauthorized, "ADM030", "Invalid checkout token")

	errExpired = pkgErrors.NewHTTPError(http.StatusGone, "ADM040", "Expired")
)

var rejectionStatus = map[appErrors.Code]int{
	appErrors.CodeEventNotEligible:   http.StatusConflict,
	appErrors.CodeSaleNotStarted:     http.StatusConflict,
	appErrors.CodeSaleEnded:          http.StatusConflict,
	appErrors.CodeSoldOut:            http.StatusConflict,
	appErrors.CodeRejoinGracePeriod:  http.StatusConflict,
	appErrors.CodeTicketLimitReached: http.StatusForbidden,
	appErrors.CodeTicketUnavailable:  http.StatusUnprocessableEntity,
	appErrors.CodeQuantityExceeded:   http.StatusUnprocessableEntity,
}

type expiredDetail struct {
	Kind        appErrors.ExpiredKind `json:"kind"`
	ID          string                `json:"id"`
	EventID     string                `json:"event_id"`
	EventName   string                `json:"event_name,omitempty"`
	Position    int                   `json:"position,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	ExpiredAt   time.Time             `json:"expired_at"`
	CanRejoinAt *time.Time            `json:"can_rejoin_at,omitempty"`
}

func mapError(err error) *pkgErrors.HTTPError {
	var httpErr *pkgErrors.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	if rej, ok := appErrors.AsRejection(err); ok {
		statusCode, ok := rejectionStatus[rej.Code]
		if !ok {
			statusCode = http.StatusConflict
		}
		return pkgErrors.NewHTTPError(statusCode, string(rej.Code), rej.Reason)
	}

	if exp, ok := appErrors.AsExpired(err); ok {
		return errExpired.WithDetails(expiredDetail{
			Kind:        exp.Kind,
			ID:          exp.ID,
			EventID:     exp.EventID,
			EventName:   exp.EventName,
			Position:    exp.Position,
			Reason:      exp.Reason,
			ExpiredAt:   exp.ExpiredAt,
			CanRejoinAt: exp.CanRejoinAt,
		})
	}

	switch {
	case errors.Is(err, appErrors.ErrIdentityRequired):
		return errIdentityRequired
	case errors.Is(err, appErrors.ErrInvalidQuantity),
		errors.Is(err, appErrors.ErrInvalidExtension),
		errors.Is(err, appErrors.ErrCustomerInfoIncomplete):
		return errBadRequest.WithDetails(err.Error())
	case errors.Is(err, appErrors.ErrEventNotFound):
		return errEventNotFound
	case errors.Is(err, appErrors.ErrEntryNotFound):
		return errEntryNotFound
	case errors.Is(err, appErrors.ErrSessionNotFound):
		return errSessionNotFound
	case errors.Is(err, appErrors.ErrTicketTypeNotFound):
		return errTicketNotFound
	case errors.Is(err, appErrors.ErrItemNotInCart):
		return errItemNotInCart
	case errors.Is(err, appErrors.ErrInvalidTransition):
		return errInvalidTransition.WithDetails(err.Error())
	case errors.Is(err, appErrors.ErrMaxExtensionsReached):
		return errMaxExtensions
	case errors.Is(err, appErrors.ErrSessionNotActive):
		return errSessionNotActive
	case errors.Is(err, appErrors.ErrNoAvailableSlots):
		return errNoSlots
	case errors.Is(err, appErrors.ErrNoWaitingEntries):
		return errNoWaiting
	case errors.Is(err, appErrors.ErrActiveSessionExists):
		return errSessionExists
	case errors.Is(err, appErrors.ErrLeaseNotHeld):
		return errLeaseNotHeld
	case errors.Is(err, appErrors.ErrInvalidCheckoutToken):
		return errInvalidToken
	default:
		return pkgErrors.ErrInternal
	}
}

// retryAfter renders a Retry-After value in whole seconds, rounded up.
func retryAfter(err error) string {
	rej, ok := appErrors.AsRejection(err)
	if !ok || rej.RetryAfter <= 0 {
		return ""
	}
	secs := int64((rej.RetryAfter + time.Second - 1) / time.Second)
	return strconv.FormatInt(secs, 10)
}
