package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is one immutable ledger line. Positive amounts are credits,
// negative amounts are debits; the per-user sum equals User.Credits.
type Transaction struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	Amount       int64      `json:"amount"`
	BalanceAfter int64      `json:"balance_after"`
	Description  *string    `json:"description,omitempty"`
	Reference    *uuid.UUID `json:"reference,omitempty"`
	CreatedAt    time.Time  `json:"timestamp"`
}
