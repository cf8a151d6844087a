package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry_type enums.
const (
	CreditEntrySignupBonus = "signup_bonus"
	CreditEntrySpend       = "spend"
	CreditEntryPurchase    = "purchase"
)

// CreditEntry is one append-only row of credit_ledger. Amount is signed:
// negative for spends, positive for grants.
type CreditEntry struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	PurchaseID   *uuid.UUID `json:"purchase_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
