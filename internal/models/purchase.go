package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase status enums. pending is the only non-terminal state.
const (
	PurchaseStatusPending  = "pending"
	PurchaseStatusApproved = "approved"
	PurchaseStatusRejected = "rejected"
)

// Outcome is a gateway verdict on a purchase.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Terminal reports whether the outcome settles a purchase.
func (o Outcome) Terminal() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

type Purchase struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	PackageID       uuid.UUID  `json:"package_id"`
	PackageName     string     `json:"package_name"`
	AmountPaid      int64      `json:"amount_paid"`
	CreditsReceived int        `json:"credits_received"`
	PaymentMethod   string     `json:"payment_method"`
	Status          string     `json:"status"`
	PaymentID       *string    `json:"payment_id,omitempty"`
	SettlementRef   *string    `json:"settlement_ref,omitempty"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	CreditedAt      *time.Time `json:"credited_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NeedsCredit reports whether the purchase is approved but its credits have
// not reached the user's balance yet.
func (p *Purchase) NeedsCredit() bool {
	return p.Status == PurchaseStatusApproved && p.CreditedAt == nil
}
