package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leviate/backend/internal/services"
)

type BankAccountHandler struct {
	banks     *services.BankAccountService
	validator *services.ValidationHelper
}

func NewBankAccountHandler(banks *services.BankAccountService) *BankAccountHandler {
	return &BankAccountHandler{
		banks:     banks,
		validator: services.NewValidationHelper(),
	}
}

// ListBanks returns the supported banks
// @Summary List banks
// @Tags Banks
// @Produce json
// @Success 200 {array} models.Bank
// @Router /banks [get]
func (h *BankAccountHandler) ListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.banks.ListBanks(r.Context())
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusOK, banks)
}

// ResolveAccount looks up the registered name on an account
// @Summary Resolve account name
// @Tags Banks
// @Produce json
// @Security BearerAuth
// @Param accountNumber query string true "10 digit NUBAN"
// @Param bankCode query string true "Bank code"
// @Success 200 {object} models.ResolvedAccount
// @Failure 400 {object} services.ErrorResponse
// @Router /banks/resolve [get]
func (h *BankAccountHandler) ResolveAccount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resolved, err := h.banks.ResolveAccount(r.Context(), q.Get("accountNumber"), q.Get("bankCode"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusOK, resolved)
}

func (h *BankAccountHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.banks.ListAccounts(r.Context(), userID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusOK, accounts)
}

type addAccountRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required,len=10,numeric"`
	BankCode      string `json:"bankCode" validate:"required,min=3,max=6"`
}

// Add verifies and stores a payout account
// @Summary Add bank account
// @Tags BankAccounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{accountNumber=string,bankCode=string} true "Account details"
// @Success 201 {object} models.BankAccount
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /bank-accounts [post]
func (h *BankAccountHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req addAccountRequest
	if !decodeBody(w, r, h.validator, "BANK_ACCOUNT", &req) {
		return
	}

	account, err := h.banks.AddAccount(r.Context(), userID, req.AccountNumber, req.BankCode)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusCreated, account)
}

func (h *BankAccountHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.banks.SetDefault(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		services.SendServiceError(w, err)
		return
	}
	sendData(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id")})
}

func (h *BankAccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.banks.DeleteAccount(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		services.SendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
