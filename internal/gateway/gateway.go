// Package gateway defines the contract the reconciliation coordinator uses to
// talk to an external payment processor.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/models"
)

// ErrNoPayment is returned by Lookup when the processor has no verdict for
// the reference yet.
var ErrNoPayment = apperr.New(apperr.KindNotFound, "no payment recorded for reference")

// ErrBadWebhook is returned when an inbound notification fails signature or
// shape checks.
var ErrBadWebhook = apperr.New(apperr.KindInvalid, "invalid webhook payload")

type Item struct {
	Title     string
	Quantity  int
	UnitPrice int64
}

type ReturnURLs struct {
	Success string `json:"success" validate:"omitempty,url"`
	Failure string `json:"failure" validate:"omitempty,url"`
	Pending string `json:"pending" validate:"omitempty,url"`
}

// IntentRequest asks the processor for a checkout. ExternalReference is
// echoed back on settlement and must identify exactly one purchase.
type IntentRequest struct {
	Items             []Item
	ReturnURLs        ReturnURLs
	ExternalReference string
	NotificationURL   string
	PayerEmail        string
}

// Intent is the processor's answer: an id to store on the purchase and the
// URL the buyer is sent to.
type Intent struct {
	Provider         string `json:"provider"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	RedirectURL      string `json:"redirect_url"`
}

// Payment is the processor's view of a purchase.
type Payment struct {
	ID                string
	ExternalReference string
	Outcome           models.Outcome
	RawStatus         string
}

// LookupRequest identifies a purchase to the processor by whichever key it
// can search on.
type LookupRequest struct {
	ExternalReference string
	IntentID          string
}

type Client interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Lookup(ctx context.Context, req LookupRequest) (*Payment, error)
	// ParseWebhook verifies and decodes an inbound notification. It returns
	// (nil, nil) for events that carry no settlement.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header, query url.Values) (*Payment, error)
}

// Unavailable wraps a transport-level failure; the caller may retry.
func Unavailable(op string, err error) error {
	return apperr.Wrapf(apperr.KindGatewayUnavailable, op, err, "payment gateway unavailable")
}

// Rejected wraps a processor refusal. reason is shown to the buyer and must
// not contain credentials.
func Rejected(op, reason string, err error) error {
	return apperr.Wrapf(apperr.KindGatewayRejected, op, err, "payment gateway rejected the request: %s", reason)
}

// IsTransport reports whether err came from the network or a deadline rather
// than from the processor's answer.
func IsTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
