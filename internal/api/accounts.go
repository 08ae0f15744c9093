package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/jnst/order-payment-saga/internal/service"
)

// AccountHandler serves the payment ledger endpoints.
type AccountHandler struct {
	accounts service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// RegisterRoutes implements Routes.
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/accounts", h.CreateAccount)
	mux.HandleFunc("POST /api/accounts/{userId}/deposit", h.Deposit)
	mux.HandleFunc("GET /api/accounts/{userId}/balance", h.GetBalance)
}

type createAccountRequest struct {
	UserID string `json:"userId"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreateAccount handles POST /api/accounts.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/accounts/"+account.UserID+"/balance")
	writeJSON(w, http.StatusCreated, account)
}

// Deposit handles POST /api/accounts/{userId}/deposit.
// A lost concurrency race answers 409 and may be retried by the caller.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accounts.Deposit(r.Context(), r.PathValue("userId"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// GetBalance handles GET /api/accounts/{userId}/balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.accounts.GetBalance(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}
