/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal records
  from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Field rules live in ledger/validate.go and run in the handlers.
  DTOs are pure data carriers.
*/
package api

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// AccountDTO represents an account in API responses. Balance and OTP
// secret are deliberately absent; they have dedicated endpoints.
type AccountDTO struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// RegisterResponse is returned once, at account creation. The OTP secret
// and provisioning URL are never shown again.
type RegisterResponse struct {
	AccountDTO
	OTPSecret string `json:"otp_secret"`
	OTPUrl    string `json:"otp_url"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateAccountRequest updates profile fields. Empty fields are left
// unchanged.
type UpdateAccountRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest authenticates by username and password.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token.
type LoginResponse struct {
	Token string `json:"token"`
}

// BalanceDTO reports an account balance.
type BalanceDTO struct {
	Username string          `json:"username,omitempty"`
	Balance  decimal.Decimal `json:"balance"`
}

// AmountRequest carries a monetary amount for balance actions.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// CreateTransactionRequest registers a new claim.
type CreateTransactionRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID        string          `json:"id"`
	CreatedBy string          `json:"created_by"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedAt string          `json:"created_at"`
	DeletedAt string          `json:"deleted_at,omitempty"`
}

// EventDTO represents a lifecycle event in API responses.
type EventDTO struct {
	ID            int64  `json:"id"`
	Code          string `json:"code"`
	TransactionID string `json:"transaction_id"`
	Actor         string `json:"actor"`
	Date          string `json:"date"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Message string `json:"message"`
}
