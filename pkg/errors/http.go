package errors

import "net/http"

// HTTPError is an error already classified for an HTTP response.
type HTTPError struct {
	Code       string
	Message    string
	StatusCode int
	Details    any
}

func NewHTTPError(statusCode int, code string, message string) *HTTPError {
	return &HTTPError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails returns a copy carrying structured details for the client.
func (e *HTTPError) WithDetails(details any) *HTTPError {
	cp := *e
	cp.Details = details
	return &cp
}

func (e HTTPError) Error() string {
	return e.Message
}

var ErrInternal = NewHTTPError(http.StatusInternalServerError, "ADM000", "Internal server error")
