package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
)

func (h *HTTPHandler) ProcessNext(w http.ResponseWriter, r *http.Request) {
	res, err := h.queueSvc.ProcessNext(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	ps := res.Session
	h.respondJSON(w, r, http.StatusOK, admissionResponse{
		Entry: newQueueEntryResponse(res.Entry),
		Session: newSessionResponse(&service.SessionOutput{
			Session:        ps,
			RemainingTime:  ps.ExpiresAt.Sub(ps.StartedAt),
			ExtensionsLeft: ps.MaxExtensions - ps.ExtensionCount,
		}),
	})
}

func (h *HTTPHandler) CreateManualSession(w http.ResponseWriter, r *http.Request) {
	var req manualSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.sessionSvc.CreateManualSession(r.Context(), service.ManualSessionInput{
		EventID:  chi.URLParam(r, "eventId"),
		UserID:   req.UserID,
		AdminID:  req.AdminID,
		Priority: req.Priority,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusCreated, newSessionResponse(out))
}

func (h *HTTPHandler) MarkAsPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	entry, err := h.queueSvc.MarkAsPriority(r.Context(), service.MarkPriorityInput{
		EntryID: chi.URLParam(r, "entryId"),
		AdminID: req.AdminID,
		Reason:  req.Reason,
	})
	h.respondEntry(w, r, entry, err)
}

func (h *HTTPHandler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	in, err := h.adminEntryInput(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	entry, err := h.queueSvc.CancelEntry(r.Context(), in)
	h.respondEntry(w, r, entry, err)
}

func (h *HTTPHandler) ForceComplete(w http.ResponseWriter, r *http.Request) {
	in, err := h.adminEntryInput(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	entry, err := h.queueSvc.ForceComplete(r.Context(), in)
	h.respondEntry(w, r, entry, err)
}

func (h *HTTPHandler) GetProcessorStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, h.processor.GetStatus())
}

func (h *HTTPHandler) adminEntryInput(r *http.Request) (service.AdminEntryInput, error) {
	var req adminEntryRequest
	if err := h.decode(r, &req); err != nil {
		return service.AdminEntryInput{}, err
	}
	return service.AdminEntryInput{
		EntryID: chi.URLParam(r, "entryId"),
		AdminID: req.AdminID,
		Note:    req.note(),
	}, nil
}

func (h *HTTPHandler) respondEntry(w http.ResponseWriter, r *http.Request, entry *models.QueueEntry, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, newQueueEntryResponse(entry))
}
