// Package jobs holds the River job kinds of the credit service and their
// workers.
package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// PurchaseReceiptArgs is enqueued in the same transaction that credits a
// purchase, so a receipt exists if and only if the credits landed.
type PurchaseReceiptArgs struct {
	PurchaseID uuid.UUID `json:"purchase_id"`
	UserID     uuid.UUID `json:"user_id"`
}

func (PurchaseReceiptArgs) Kind() string { return "purchase_receipt" }

func (PurchaseReceiptArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

// CreditRecoveryArgs runs the sweep over approved-but-uncredited purchases.
type CreditRecoveryArgs struct {
	Limit int `json:"limit"`
}

func (CreditRecoveryArgs) Kind() string { return "credit_recovery" }

// PendingPollArgs asks the processor about purchases stuck in pending.
type PendingPollArgs struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

func (PendingPollArgs) Kind() string { return "pending_purchase_poll" }
