package response

import (
	"encoding/json"
	"errors"
	"net/http"

	pkgErrors "github.com/vogiaan1904/ticketbottle-admission/pkg/errors"
)

type Resp struct {
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Errors    any    `json:"errors,omitempty"`
}

func OK(w http.ResponseWriter, statusCode int, data any) error {
	return write(w, statusCode, Resp{Data: data})
}

// Error writes err using its HTTPError classification, or a generic 500.
func Error(w http.ResponseWriter, err error) error {
	statusCode, resp := parseHttpError(err)
	return write(w, statusCode, resp)
}

func parseHttpError(err error) (int, Resp) {
	var parsedErr *pkgErrors.HTTPError
	if !errors.As(err, &parsedErr) {
		parsedErr = pkgErrors.ErrInternal
	}

	statusCode := parsedErr.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusBadRequest
	}
	return statusCode, Resp{
		ErrorCode: parsedErr.Code,
		Message:   parsedErr.Message,
		Errors:    parsedErr.Details,
	}
}

func write(w http.ResponseWriter, statusCode int, resp Resp) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(resp)
}
