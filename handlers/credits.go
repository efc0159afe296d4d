package handlers

import (
	"io"
	"net/http"

	"github.com/brandviz/brandviz/internal/apperr"
)

// Stripe sends events well under this size
const maxWebhookBytes = 64 << 10

type checkoutRequest struct {
	PackageID string `json:"package_id" validate:"required"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

func (h *Handler) CreditBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.Credits.Balance(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", balanceResponse{Balance: balance})
}

// CreditHistory handles GET /api/credits/history?page&limit.
func (h *Handler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}

	history, err := h.svc.Credits.History(r.Context(), currentUser(r).ID, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", history)
}

func (h *Handler) CreditPackages(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "ok", h.svc.Credits.Packages())
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := h.decode(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.svc.Credits.CreateCheckout(r.Context(), currentUser(r), req.PackageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "checkout created", session)
}

// StripeWebhook handles POST /api/credits/webhook. It is unauthenticated;
// the Stripe-Signature header is the only proof of origin.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindBadRequest, err, "unreadable webhook body"))
		return
	}

	if err := h.svc.Credits.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "received", nil)
}
