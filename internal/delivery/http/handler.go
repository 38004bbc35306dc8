package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/response"
)

type ProcessorStatusReader interface {
	GetStatus() service.ProcessorStatus
}

type HTTPHandler struct {
	queueSvc   service.QueueService
	sessionSvc service.SessionService
	processor  ProcessorStatusReader
	l          logger.Logger
	validator  *validator.Validate
}

func NewHTTPHandler(queueSvc service.QueueService, sessionSvc service.SessionService, processor ProcessorStatusReader, l logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		queueSvc:   queueSvc,
		sessionSvc: sessionSvc,
		processor:  processor,
		l:          l,
		validator:  validator.New(),
	}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "admission-service",
	})
}

// decode reads an optional JSON body into req and validates it.
func (h *HTTPHandler) decode(r *http.Request, req any) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidBody.WithDetails(err.Error())
	}
	if err := h.validator.Struct(req); err != nil {
		return errValidation.WithDetails(validationDetails(err))
	}
	return nil
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	if err := response.OK(w, statusCode, data); err != nil {
		h.l.Errorf(r.Context(), "httpHandler.respondJSON: %v", err)
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := mapError(err)
	if httpErr.StatusCode >= http.StatusInternalServerError {
		h.l.Errorf(r.Context(), "httpHandler %s %s: %v", r.Method, r.URL.Path, err)
	} else {
		h.l.Debugf(r.Context(), "httpHandler %s %s: %v", r.Method, r.URL.Path, err)
	}

	if retry := retryAfter(err); retry != "" {
		w.Header().Set("Retry-After", retry)
	}
	if err := response.Error(w, httpErr); err != nil {
		h.l.Errorf(r.Context(), "httpHandler.respondError: %v", err)
	}
}

func validationDetails(err error) map[string]string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(ves))
	for _, fe := range ves {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
