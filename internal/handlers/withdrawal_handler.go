package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leviate/backend/internal/services"
	"github.com/shopspring/decimal"
)

type WithdrawalHandler struct {
	withdrawals *services.WithdrawalService
	validator   *services.ValidationHelper
}

func NewWithdrawalHandler(withdrawals *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		validator:   services.NewValidationHelper(),
	}
}

type otpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// RequestOtp emails a one-time code authorising a withdrawal
// @Summary Request withdrawal OTP
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=string} true "Amount to withdraw"
// @Success 200 {object} services.OtpIssued
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /withdrawals/otp [post]
func (h *WithdrawalHandler) RequestOtp(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req otpRequest
	if !decodeBody(w, r, h.validator, "WITHDRAWAL", &req) {
		return
	}

	issued, err := h.withdrawals.RequestOtp(r.Context(), userID, req.Amount)
	if err != nil {
		log.Printf("[WITHDRAWAL] RequestOtp for %s rejected: %v", userID, err)
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusOK, issued)
}

type verifyRequest struct {
	Otp           string          `json:"otp" validate:"required,numeric"`
	BankAccountID string          `json:"bankAccountId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
}

// Verify checks the OTP and pays out to the chosen bank account
// @Summary Verify OTP and withdraw
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{otp=string,bankAccountId=string,amount=string} true "Withdrawal"
// @Success 201 {object} services.WithdrawalResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /withdrawals/verify [post]
func (h *WithdrawalHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if !decodeBody(w, r, h.validator, "WITHDRAWAL", &req) {
		return
	}

	result, err := h.withdrawals.VerifyOtpAndWithdraw(r.Context(), services.WithdrawRequest{
		UserID:        userID,
		Code:          req.Otp,
		BankAccountID: req.BankAccountID,
		Amount:        req.Amount,
	})
	if err != nil {
		log.Printf("[WITHDRAWAL] Withdrawal for %s failed: %v", userID, err)
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusCreated, result)
}

func (h *WithdrawalHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.withdrawals.WithdrawalStatus(r.Context(), userID, chi.URLParam(r, "reference"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusOK, status)
}
