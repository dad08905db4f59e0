/*
middleware.go - Access gate: authentication, roles, ownership, OTP

PURPOSE:
  Everything the ledger core treats as an external authorization fact is
  computed here, once per request, and handed down via the request
  context. The engine never re-derives any of it.

CHAIN:
  Authenticate      bearer token -> acting account loaded into context
  RequireRole       acting role must be in the allowed set
  RequireOwnership  plain users may only touch transactions they created;
                    privileged roles are exempt (strategy table, not a
                    switch, so new roles slot in without control-flow
                    changes)
  RequireOTP        X-OTP-Code header must validate against the acting
                    account's TOTP secret (Pay and Return)
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vector/ledger-engine/auth"
	"github.com/vector/ledger-engine/ledger"
)

type contextKey int

const accountKey contextKey = iota

// accountFrom returns the authenticated acting account.
func accountFrom(ctx context.Context) (ledger.Account, bool) {
	account, ok := ctx.Value(accountKey).(ledger.Account)
	return account, ok
}

// Authenticate verifies the bearer token and loads the acting account.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "Auth header not provided", nil)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Token not provided", nil)
			return
		}

		id, err := h.Auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Token not valid", nil)
			return
		}

		account, err := h.Store.Account(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "Account not found", nil)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers whose role is not in the allowed set.
func RequireRole(allowed ...ledger.Role) func(http.Handler) http.Handler {
	set := make(map[ledger.Role]bool, len(allowed))
	for _, role := range allowed {
		set[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, ok := accountFrom(r.Context())
			if !ok || !set[account.Role] {
				writeError(w, http.StatusUnauthorized, "Account not authorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ownershipExempt lists roles allowed to act on transactions they did not
// create. Keyed by role so new roles slot in without touching the check.
var ownershipExempt = map[ledger.Role]bool{
	ledger.RoleAuthority: true,
	ledger.RoleAdmin:     true,
}

// RequireOwnership restricts non-exempt roles to transactions they
// created. includeDeleted controls whether soft-deleted rows are visible
// to the check.
func (h *Handler) RequireOwnership(includeDeleted bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, _ := accountFrom(r.Context())
			id := ledger.TransactionID(chi.URLParam(r, "id"))

			tx, err := h.Store.Transaction(r.Context(), id, includeDeleted)
			if err != nil {
				writeError(w, http.StatusNotFound, "Transaction not found", nil)
				return
			}
			if !ownershipExempt[account.Role] && tx.CreatorID != account.ID {
				writeError(w, http.StatusUnauthorized,
					"You do not have permission to act on a transaction you have not created", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOTP validates the X-OTP-Code header against the acting account's
// TOTP secret. Applied to Pay and Return.
func (h *Handler) RequireOTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, _ := accountFrom(r.Context())
		code := r.Header.Get("X-OTP-Code")
		if code == "" {
			writeError(w, http.StatusUnauthorized, "OTP code not provided", nil)
			return
		}
		if !auth.ValidateOTP(code, account.OTPSecret) {
			writeError(w, http.StatusUnauthorized, "OTP code not valid", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
