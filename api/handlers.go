/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the transaction lifecycle engine via REST. Handles HTTP
  request/response, JSON serialization, and delegates to the engine and
  stores. All authorization facts are computed by the middleware chain
  before a handler runs.

ERROR HANDLING:
  Errors are returned as JSON keyed by kind:
  - 400: Validation errors, invalid input
  - 401: Authentication / authorization failures (middleware)
  - 403: Lifecycle precondition violations, self-pay, insufficient funds
  - 404: Record not found
  - 409: Concurrent transition lost its race even after the retry
  - 500: Storage failures (generic message; detail is logged, not leaked)

SEE ALSO:
  - middleware.go: Access gate
  - dto.go:        Request/response shapes
  - server.go:     Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vector/ledger-engine/auth"
	"github.com/vector/ledger-engine/ledger"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  ledger.TxStore
	Engine *ledger.Engine
	Auth   *auth.Manager
}

// NewHandler creates a handler over the given store and token manager.
func NewHandler(store ledger.TxStore, tokens *auth.Manager) *Handler {
	return &Handler{
		Store:  store,
		Engine: ledger.NewEngine(store),
		Auth:   tokens,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Register creates a plain-user account.
// POST /api/users
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	h.createAccount(w, r, ledger.RoleUser)
}

// CreateAuthority creates an authority account. Admin only.
// POST /api/users/authority
func (h *Handler) CreateAuthority(w http.ResponseWriter, r *http.Request) {
	h.createAccount(w, r, ledger.RoleAuthority)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request, role ledger.Role) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	for _, err := range []error{
		ledger.ValidateUsername(req.Username),
		ledger.ValidateEmail(req.Email),
		ledger.ValidatePassword(req.Password),
	} {
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}
	secret, otpURL, err := auth.GenerateOTPSecret(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	account := ledger.Account{
		ID:           ledger.AccountID(uuid.NewString()),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Balance:      decimal.Zero,
		Role:         role,
		OTPSecret:    secret,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.CreateAccount(r.Context(), account); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		AccountDTO: toAccountDTO(account, false),
		OTPSecret:  secret,
		OTPUrl:     otpURL,
	})
}

// Login authenticates by username and password and returns a token.
// POST /api/users/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	account, err := h.Store.AccountByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}
	if err := auth.CheckPassword(account.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := h.Auth.MintToken(account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// Me returns the acting account's profile.
// GET /api/users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFrom(r.Context())
	writeJSON(w, http.StatusOK, toAccountDTO(account, false))
}

// GetAccount returns another account's profile. Privileged only; the id
// is included so privileged callers can use it in follow-up requests.
// GET /api/users/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Store.Account(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account, true))
}

// UpdateMe updates the acting account's profile. Empty fields are left
// unchanged.
// PUT /api/users/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFrom(r.Context())

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	if req.Username != "" {
		if err := ledger.ValidateUsername(req.Username); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		account.Username = req.Username
	}
	if req.Email != "" {
		if err := ledger.ValidateEmail(req.Email); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		account.Email = req.Email
	}
	if req.Password != "" {
		if err := ledger.ValidatePassword(req.Password); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update account", err)
			return
		}
		account.PasswordHash = hash
	}

	if err := h.Store.UpdateAccount(r.Context(), account); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account, false))
}

// DeleteMe soft-deletes the acting account.
// DELETE /api/users/me
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFrom(r.Context())
	if err := h.Store.SoftDeleteAccount(r.Context(), account.ID); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account, false))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// MyBalance returns the acting account's balance.
// GET /api/users/me/balance
func (h *Handler) MyBalance(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFrom(r.Context())
	writeJSON(w, http.StatusOK, BalanceDTO{Balance: account.Balance})
}

// GetBalance returns another account's balance. Privileged only.
// GET /api/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := h.Store.Account(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Username: account.Username, Balance: account.Balance})
}

// UpdateBalance returns a handler for one administrative balance action:
// set, deposit or withdraw. Admin only; target must be a plain user.
func (h *Handler) UpdateBalance(action ledger.BalanceAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := ledger.AccountID(chi.URLParam(r, "id"))

		var req AmountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", nil)
			return
		}

		balance, err := h.Engine.UpdateBalance(r.Context(), id, action, req.Amount)
		if err != nil {
			writeLedgerError(w, err)
			return
		}

		account, err := h.Store.Account(r.Context(), id)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceDTO{Username: account.Username, Balance: balance})
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction registers a new claim by the acting account.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFrom(r.Context())

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	tx, err := h.Engine.CreateTransaction(r.Context(), account.ID, req.Amount, req.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toTransactionDTO(r, tx))
}

// GetTransaction returns a transaction by id, soft-deleted rows included.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Store.Transaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")), true)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransactionDTO(r, tx))
}

// MyHistory lists the acting account's transactions between two Unix
// millisecond timestamps.
// GET /api/transactions/history?from=&to=
func (h *Handler) MyHistory(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFrom(r.Context())
	h.history(w, r, account.ID)
}

// History lists another creator's transactions. Privileged only.
// GET /api/transactions/history/{userId}?from=&to=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, ledger.AccountID(chi.URLParam(r, "userId")))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, creator ledger.AccountID) {
	from, okFrom := parseMillis(r.URL.Query().Get("from"))
	to, okTo := parseMillis(r.URL.Query().Get("to"))
	if !okFrom || !okTo {
		writeError(w, http.StatusBadRequest, "The specified date is invalid", nil)
		return
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "The first date specified must be before the second", nil)
		return
	}

	txs, err := h.Store.TransactionsByCreator(r.Context(), creator, from, to)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = h.toTransactionDTO(r, tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func parseMillis(s string) (time.Time, bool) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// =============================================================================
// LIFECYCLE HANDLERS
// =============================================================================

// ListEvents returns the ordered event log for a transaction.
// GET /api/transactions/{id}/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	events, err := h.Engine.Events(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = h.toEventDTO(r, ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PayTransaction settles a transaction with the acting account's balance.
// POST /api/transactions/{id}/pay
func (h *Handler) PayTransaction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Pay)
}

// TaxTransaction records taxation of a paid transaction.
// POST /api/transactions/{id}/tax
func (h *Handler) TaxTransaction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Tax)
}

// ReturnTransaction reverses a payment.
// POST /api/transactions/{id}/return
func (h *Handler) ReturnTransaction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Return)
}

// DeleteTransaction soft-deletes a never-paid transaction.
// POST /api/transactions/{id}/delete
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Delete)
}

func (h *Handler) transition(
	w http.ResponseWriter,
	r *http.Request,
	run func(ctx context.Context, id ledger.TransactionID, actor ledger.AccountID) (ledger.Event, error),
) {
	account, _ := accountFrom(r.Context())
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	ev, err := run(r.Context(), id, account.ID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toEventDTO(r, ev))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) toTransactionDTO(r *http.Request, tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:        string(tx.ID),
		CreatedBy: h.username(r, tx.CreatorID),
		Amount:    tx.Amount,
		Reason:    tx.Reason,
		CreatedAt: tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.DeletedAt != nil {
		dto.DeletedAt = tx.DeletedAt.Format(time.RFC3339)
	}
	return dto
}

func (h *Handler) toEventDTO(r *http.Request, ev ledger.Event) EventDTO {
	return EventDTO{
		ID:            int64(ev.ID),
		Code:          ev.Code.String(),
		TransactionID: string(ev.TransactionID),
		Actor:         h.username(r, ev.ActorID),
		Date:          ev.CreatedAt.Format(time.RFC3339),
	}
}

// username resolves an account id for display, falling back to the raw
// id when the account is tombstoned.
func (h *Handler) username(r *http.Request, id ledger.AccountID) string {
	account, err := h.Store.Account(r.Context(), id)
	if err != nil {
		return string(id)
	}
	return account.Username
}

func toAccountDTO(account ledger.Account, withID bool) AccountDTO {
	dto := AccountDTO{
		Username: account.Username,
		Email:    account.Email,
		Role:     account.Role.String(),
	}
	if withID {
		dto.ID = string(account.ID)
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		log.Printf("api error: %s: %v", message, err)
	}
	writeJSON(w, status, ErrorResponse{Message: message})
}

// writeLedgerError maps engine/store errors to HTTP responses. Internal
// storage error text never reaches the client.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, notFoundMessage(err), nil)
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case ledger.IsClientError(err):
		writeError(w, http.StatusForbidden, rejectionMessage(err), nil)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "Transaction was modified concurrently, please retry", nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", err)
	}
}

func notFoundMessage(err error) string {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return "Account not found"
	}
	return "Transaction not found"
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrAlreadyPaid):
		return "Transaction already paid"
	case errors.Is(err, ledger.ErrAlreadyTaxed):
		return "Transaction already taxed"
	case errors.Is(err, ledger.ErrAlreadyReturned):
		return "Transaction already returned"
	case errors.Is(err, ledger.ErrAlreadyDeleted):
		return "Transaction already deleted"
	case errors.Is(err, ledger.ErrTransactionDeleted):
		return "Transaction has been deleted"
	case errors.Is(err, ledger.ErrNotPaid):
		return "Transaction has not been paid yet"
	case errors.Is(err, ledger.ErrSelfPay):
		return "You cannot pay a transaction you have created"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "Not enough money in the account"
	default:
		return "Request rejected"
	}
}
