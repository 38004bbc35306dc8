package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
)

func (h *HTTPHandler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.queueSvc.JoinQueue(r.Context(), service.JoinQueueInput{
		EventID:   chi.URLParam(r, "eventId"),
		UserID:    req.UserID,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	statusCode := http.StatusOK
	if out.Created {
		statusCode = http.StatusCreated
	}
	h.respondJSON(w, r, statusCode, joinQueueResponse{
		Entry:                newQueueEntryResponse(out.Entry),
		Created:              out.Created,
		Position:             out.Position,
		QueueLength:          out.QueueLength,
		EstimatedWaitSeconds: seconds(out.EstimatedWait),
		EstimatedWait:        out.EstimatedWaitString,
	})
}

func (h *HTTPHandler) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.queueSvc.GetQueueStatus(r.Context(), service.QueueStatusInput{
		EventID:   chi.URLParam(r, "eventId"),
		UserID:    q.Get("user_id"),
		SessionID: q.Get("session_id"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, queueStatusResponse{
		Entry:                      newQueueEntryResponse(out.Entry),
		Position:                   out.Position,
		QueueLength:                out.QueueLength,
		EstimatedWaitSeconds:       seconds(out.EstimatedWait),
		EstimatedWait:              out.EstimatedWaitString,
		RemainingProcessingSeconds: seconds(out.RemainingProcessingTime),
		PurchaseSessionID:          out.PurchaseSessionID,
	})
}

func (h *HTTPHandler) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	var req leaveQueueRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	reason := service.LeaveLeft
	if req.Reason != "" {
		reason = service.LeaveReason(req.Reason)
	}
	out, err := h.queueSvc.LeaveQueue(r.Context(), service.LeaveQueueInput{
		EventID:   chi.URLParam(r, "eventId"),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Reason:    reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, leaveQueueResponse{
		Entry:   newQueueEntryResponse(out.Entry),
		Changed: out.Changed,
	})
}

func (h *HTTPHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	out, err := h.queueSvc.GetStatistics(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, r, http.StatusOK, statisticsResponse{
		EventID:         out.EventID,
		ConcurrentUsers: out.ConcurrentUsers,
		OccupiedSlots:   out.OccupiedSlots,
		AvailableSlots:  out.AvailableSlots,
		Queue:           out.Queue,
		Sessions:        out.Sessions,
	})
}
