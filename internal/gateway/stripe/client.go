// Package stripe implements gateway.Client with Stripe Checkout Sessions. The
// purchase id travels as client_reference_id and in metadata.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/inaiurai/credits/internal/gateway"
	"github.com/inaiurai/credits/internal/metrics"
	"github.com/inaiurai/credits/internal/models"
)

const providerName = "stripe"

// SessionAPI is the part of the Checkout Sessions service in use.
type SessionAPI interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error)
}

type Client struct {
	sessions      SessionAPI
	webhookSecret string
	currency      string
	log           *slog.Logger
}

var _ gateway.Client = (*Client)(nil)

func New(secretKey, webhookSecret, currency string, log *slog.Logger) *Client {
	sc := stripe.NewClient(secretKey)
	return NewWithAPI(sc.V1CheckoutSessions, webhookSecret, currency, log)
}

func NewWithAPI(sessions SessionAPI, webhookSecret, currency string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{sessions: sessions, webhookSecret: webhookSecret, currency: currency, log: log}
}

func (c *Client) Name() string { return providerName }

func (c *Client) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(req.Items))
	for _, it := range req.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String(c.currency),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(it.Title),
				},
				UnitAmount: stripe.Int64(it.UnitPrice),
			},
			Quantity: stripe.Int64(int64(it.Quantity)),
		})
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		ClientReferenceID: stripe.String(req.ExternalReference),
		SuccessURL:        stripe.String(req.ReturnURLs.Success),
		CancelURL:         stripe.String(req.ReturnURLs.Failure),
		Metadata: map[string]string{
			"purchase_id": req.ExternalReference,
		},
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}

	sess, err := c.sessions.Create(ctx, params)
	if err != nil {
		return nil, c.classify("CreateIntent", err)
	}
	return &gateway.Intent{Provider: providerName, GatewayPaymentID: sess.ID, RedirectURL: sess.URL}, nil
}

// Lookup retrieves the checkout session stored on the purchase. Stripe cannot
// search sessions by client_reference_id, so a purchase that never got its
// session id attached has nothing to look up.
func (c *Client) Lookup(ctx context.Context, req gateway.LookupRequest) (*gateway.Payment, error) {
	if req.IntentID == "" {
		return nil, gateway.ErrNoPayment
	}
	sess, err := c.sessions.Retrieve(ctx, req.IntentID, nil)
	if err != nil {
		return nil, c.classify("Lookup", err)
	}
	p := &gateway.Payment{
		ID:                sess.ID,
		ExternalReference: referenceOf(sess.ClientReferenceID, sess.Metadata),
		RawStatus:         string(sess.Status) + "/" + string(sess.PaymentStatus),
		Outcome:           models.OutcomePending,
	}
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		p.Outcome = models.OutcomeApproved
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		p.Outcome = models.OutcomeRejected
	}
	return p, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps checkout events
// onto outcomes. Other event types are acknowledged and ignored.
func (c *Client) ParseWebhook(_ context.Context, payload []byte, header http.Header, _ url.Values) (*gateway.Payment, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		c.log.Warn("stripe webhook signature rejected", "error", err)
		return nil, gateway.ErrBadWebhook
	}

	var outcome models.Outcome
	switch event.Type {
	case "checkout.session.completed":
		outcome = models.OutcomePending
	case "checkout.session.async_payment_succeeded":
		outcome = models.OutcomeApproved
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		outcome = models.OutcomeRejected
	default:
		return nil, nil
	}

	sess, err := parseEventData[checkoutSession](&event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrBadWebhook, err)
	}
	if event.Type == "checkout.session.completed" && (sess.PaymentStatus == "paid" || sess.PaymentStatus == "no_payment_required") {
		outcome = models.OutcomeApproved
	}
	return &gateway.Payment{
		ID:                sess.ID,
		ExternalReference: referenceOf(sess.ClientReferenceID, sess.Metadata),
		Outcome:           outcome,
		RawStatus:         string(event.Type) + "/" + sess.PaymentStatus,
	}, nil
}

type checkoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

func parseEventData[T any](event *stripe.Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data.Raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func referenceOf(clientRef string, metadata map[string]string) string {
	if clientRef != "" {
		return clientRef
	}
	return metadata["purchase_id"]
}

func (c *Client) classify(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
		metrics.GatewayErrors.WithLabelValues(providerName, op, "refused").Inc()
		c.log.Warn("stripe request refused", "op", op, "status", stripeErr.HTTPStatusCode, "code", stripeErr.Code)
		return gateway.Rejected("stripe."+op, stripeErr.Msg, err)
	}
	metrics.GatewayErrors.WithLabelValues(providerName, op, "transport").Inc()
	return gateway.Unavailable("stripe."+op, err)
}
