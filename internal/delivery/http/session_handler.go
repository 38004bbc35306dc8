package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
)

// checkoutTokenHeader carries the token issued with the session. Every call
// that changes a session must present it.
const checkoutTokenHeader = "X-Checkout-Token"

func (h *HTTPHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	out, err := h.sessionSvc.GetSession(r.Context(), chi.URLParam(r, "sessionId"))
	h.respondSession(w, r, out, err)
}

func (h *HTTPHandler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	var req extendSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.sessionSvc.ExtendSession(r.Context(), service.ExtendSessionInput{
		SessionID:     chi.URLParam(r, "sessionId"),
		CheckoutToken: r.Header.Get(checkoutTokenHeader),
		Minutes:       req.Minutes,
	})
	h.respondSession(w, r, out, err)
}

func (h *HTTPHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	in, err := h.cartInput(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.sessionSvc.AddItems(r.Context(), in)
	h.respondSession(w, r, out, err)
}

func (h *HTTPHandler) RemoveItems(w http.ResponseWriter, r *http.Request) {
	in, err := h.cartInput(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.sessionSvc.RemoveItems(r.Context(), in)
	h.respondSession(w, r, out, err)
}

func (h *HTTPHandler) SetCustomerInfo(w http.ResponseWriter, r *http.Request) {
	var req customerInfoRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.sessionSvc.SetCustomerInfo(r.Context(), service.CustomerInfoInput{
		SessionID:     chi.URLParam(r, "sessionId"),
		CheckoutToken: r.Header.Get(checkoutTokenHeader),
		Info: models.CustomerInfo{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		},
	})
	h.respondSession(w, r, out, err)
}

func (h *HTTPHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	var req completeSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.sessionSvc.CompleteSession(r.Context(), service.CompleteSessionInput{
		SessionID:     chi.URLParam(r, "sessionId"),
		OrderID:       req.OrderID,
		CheckoutToken: r.Header.Get(checkoutTokenHeader),
	})
	h.respondSession(w, r, out, err)
}

func (h *HTTPHandler) AbandonSession(w http.ResponseWriter, r *http.Request) {
	out, err := h.sessionSvc.AbandonSession(r.Context(), service.SessionActionInput{
		SessionID:     chi.URLParam(r, "sessionId"),
		CheckoutToken: r.Header.Get(checkoutTokenHeader),
	})
	h.respondSession(w, r, out, err)
}

func (h *HTTPHandler) cartInput(r *http.Request) (service.CartItemsInput, error) {
	var req cartItemsRequest
	if err := h.decode(r, &req); err != nil {
		return service.CartItemsInput{}, err
	}

	items := make([]service.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, service.CartItem{TicketTypeID: item.TicketTypeID, Quantity: item.Quantity})
	}
	return service.CartItemsInput{
		SessionID:     chi.URLParam(r, "sessionId"),
		CheckoutToken: r.Header.Get(checkoutTokenHeader),
		Items:         items,
	}, nil
}

func (h *HTTPHandler) respondSession(w http.ResponseWriter, r *http.Request, out *service.SessionOutput, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, newSessionResponse(out))
}
