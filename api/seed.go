/*
seed.go - Demo data loader

PURPOSE:
  Populates a fresh database with a known cast of accounts and a couple
  of claims so the API can be exercised immediately. Dev convenience
  only; never run against a real database.

DEMO ACCOUNTS (password for all: Vector#2024ok):
  vector.admin   admin
  vector.gov     authority
  alice.carter   user, balance 500.00
  bob.harris     user, balance 500.00
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vector/ledger-engine/auth"
	"github.com/vector/ledger-engine/ledger"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "Vector#2024ok"

type seedAccount struct {
	Username string
	Email    string
	Role     ledger.Role
	Balance  string
}

var seedAccounts = []seedAccount{
	{Username: "vector.admin", Email: "admin@vector.example", Role: ledger.RoleAdmin},
	{Username: "vector.gov", Email: "authority@vector.example", Role: ledger.RoleAuthority},
	{Username: "alice.carter", Email: "alice@vector.example", Role: ledger.RoleUser, Balance: "500.00"},
	{Username: "bob.harris", Email: "bob@vector.example", Role: ledger.RoleUser, Balance: "500.00"},
}

// SeedDemo loads the demo accounts and two claims created by Alice.
func SeedDemo(ctx context.Context, store ledger.TxStore) error {
	hash, err := auth.HashPassword(DemoPassword)
	if err != nil {
		return err
	}

	ids := make(map[string]ledger.AccountID, len(seedAccounts))
	for _, sa := range seedAccounts {
		secret, _, err := auth.GenerateOTPSecret(sa.Email)
		if err != nil {
			return err
		}

		balance := decimal.Zero
		if sa.Balance != "" {
			balance, err = decimal.NewFromString(sa.Balance)
			if err != nil {
				return err
			}
		}

		account := ledger.Account{
			ID:           ledger.AccountID(uuid.NewString()),
			Username:     sa.Username,
			Email:        sa.Email,
			PasswordHash: hash,
			Balance:      balance,
			Role:         sa.Role,
			OTPSecret:    secret,
			CreatedAt:    time.Now().UTC(),
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to seed account %s: %w", sa.Username, err)
		}
		ids[sa.Username] = account.ID
	}

	engine := ledger.NewEngine(store)
	for _, claim := range []struct {
		amount string
		reason string
	}{
		{amount: "100.00", reason: "Monthly rent share"},
		{amount: "42.50", reason: "Concert tickets"},
	} {
		amount, err := decimal.NewFromString(claim.amount)
		if err != nil {
			return err
		}
		if _, err := engine.CreateTransaction(ctx, ids["alice.carter"], amount, claim.reason); err != nil {
			return fmt.Errorf("failed to seed transaction: %w", err)
		}
	}

	return nil
}
