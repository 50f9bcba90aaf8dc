package handlers

import (
	"net/http"

	"github.com/leviate/backend/internal/services"
)

// PayoutHandler accepts payouts from the submission service and queues them
// for the payout worker.
type PayoutHandler struct {
	queue     services.PayoutQueue
	validator *services.ValidationHelper
}

func NewPayoutHandler(queue services.PayoutQueue) *PayoutHandler {
	return &PayoutHandler{queue: queue, validator: services.NewValidationHelper()}
}

// Enqueue queues a payout
// @Summary Queue payout
// @Tags Internal
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.PayoutMessage true "Payout"
// @Success 202 {object} object{id=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /internal/payouts [post]
func (h *PayoutHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var msg services.PayoutMessage
	if !decodeBody(w, r, h.validator, "PAYOUT", &msg) {
		return
	}
	if msg.GrossAmount.IsNegative() {
		services.SendErrorResponse(w, "grossAmount must not be negative", http.StatusBadRequest, nil)
		return
	}

	if err := h.queue.Enqueue(r.Context(), msg); err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusAccepted, map[string]string{"id": msg.ID})
}
