package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/leviate/backend/internal/models"
	"github.com/leviate/backend/internal/services"
	"github.com/shopspring/decimal"
)

type WalletHandler struct {
	wallet    *services.WalletService
	validator *services.ValidationHelper
}

func NewWalletHandler(wallet *services.WalletService) *WalletHandler {
	return &WalletHandler{
		wallet:    wallet,
		validator: services.NewValidationHelper(),
	}
}

// Balance returns the caller's spendable balance
// @Summary Wallet balance
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=string,currency=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/balance [get]
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	balance, err := h.wallet.Balance(r.Context(), userID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	sendData(w, http.StatusOK, map[string]any{
		"balance":  balance.StringFixed(2),
		"currency": "NGN",
	})
}

// Statistics returns lifetime totals for the caller's wallet
// @Summary Wallet statistics
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Statistics
// @Router /wallet/statistics [get]
func (h *WalletHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	stats, err := h.wallet.Statistics(r.Context(), userID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusOK, stats)
}

// Transactions lists the caller's most recent ledger entries
// @Summary Transaction history
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max entries (default 50, max 100)"
// @Success 200 {array} models.LedgerEntry
// @Router /wallet/transactions [get]
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			services.SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	entries, err := h.wallet.History(r.Context(), userID, limit)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusOK, entries)
}

type transferRequest struct {
	ToUserID    string          `json:"toUserId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

// Transfer moves funds to another wallet
// @Summary Wallet to wallet transfer
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{toUserId=string,amount=string,description=string} true "Transfer request"
// @Success 201 {object} services.TransferResult
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/transfer [post]
func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if !decodeBody(w, r, h.validator, "WALLET", &req) {
		return
	}

	result, err := h.wallet.Transfer(r.Context(), services.TransferRequest{
		FromUserID:     userID,
		ToUserID:       req.ToUserID,
		Amount:         req.Amount,
		Description:    req.Description,
		DebitCategory:  models.CategoryTransferOut,
		CreditCategory: models.CategoryTransferIn,
	})
	if err != nil {
		log.Printf("[WALLET] Transfer from %s failed: %v", userID, err)
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusCreated, result)
}

// LedgerIntegrity recomputes every balance and reports drift
// @Summary Ledger integrity check
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.IntegrityReport
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/ledger/integrity [get]
func (h *WalletHandler) LedgerIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.wallet.VerifyLedgerIntegrity(r.Context())
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	if !report.Valid {
		log.Printf("[WALLET] Ledger integrity check found %d violations", len(report.Errors))
	}
	sendData(w, http.StatusOK, report)
}
