package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes mounts the public, session and admin APIs. metrics may be nil.
func (h *HTTPHandler) Routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.HealthCheck)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/events/{eventId}/queue", func(r chi.Router) {
			r.Post("/join", h.JoinQueue)
			r.Get("/status", h.GetQueueStatus)
			r.Post("/leave", h.LeaveQueue)
			r.Get("/stats", h.GetStatistics)
		})

		r.Route("/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/extend", h.ExtendSession)
			r.Post("/items", h.AddItems)
			r.Delete("/items", h.RemoveItems)
			r.Put("/customer", h.SetCustomerInfo)
			r.Post("/complete", h.CompleteSession)
			r.Post("/abandon", h.AbandonSession)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/events/{eventId}/queue/process-next", h.ProcessNext)
			r.Post("/events/{eventId}/sessions", h.CreateManualSession)
			r.Post("/queue/entries/{entryId}/priority", h.MarkAsPriority)
			r.Post("/queue/entries/{entryId}/cancel", h.CancelEntry)
			r.Post("/queue/entries/{entryId}/complete", h.ForceComplete)
			r.Get("/processor/status", h.GetProcessorStatus)
		})
	})

	return r
}
