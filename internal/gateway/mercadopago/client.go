// Package mercadopago implements gateway.Client on top of MercadoPago
// Checkout Pro: a preference is the intent and the payment search by
// external_reference is the source of truth for settlement.
package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"

	"github.com/inaiurai/credits/internal/gateway"
	"github.com/inaiurai/credits/internal/metrics"
	"github.com/inaiurai/credits/internal/models"
)

const providerName = "mercadopago"

// PreferenceAPI is the part of the SDK preference client in use.
type PreferenceAPI interface {
	Create(ctx context.Context, request preference.Request) (*preference.Response, error)
}

// PaymentAPI is the part of the SDK payment client in use.
type PaymentAPI interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
	Search(ctx context.Context, request payment.SearchRequest) (*payment.SearchResponse, error)
}

type Client struct {
	preferences PreferenceAPI
	payments    PaymentAPI
	sandbox     bool
	log         *slog.Logger
}

var _ gateway.Client = (*Client)(nil)

// New builds a client from an access token. TEST- tokens redirect buyers to
// the sandbox checkout.
func New(accessToken string, log *slog.Logger) (*Client, error) {
	cfg, err := mpconfig.New(accessToken)
	if err != nil {
		return nil, fmt.Errorf("mercadopago config: %w", err)
	}
	return NewWithAPIs(preference.NewClient(cfg), payment.NewClient(cfg), strings.HasPrefix(accessToken, "TEST-"), log), nil
}

// NewWithAPIs wires explicit SDK clients.
func NewWithAPIs(prefs PreferenceAPI, payments PaymentAPI, sandbox bool, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{preferences: prefs, payments: payments, sandbox: sandbox, log: log}
}

func (c *Client) Name() string { return providerName }

func (c *Client) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	items := make([]preference.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, preference.ItemRequest{
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: float64(it.UnitPrice),
		})
	}
	pr := preference.Request{
		Items:             items,
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}
	if req.ReturnURLs != (gateway.ReturnURLs{}) {
		pr.BackURLs = &preference.BackURLsRequest{
			Success: req.ReturnURLs.Success,
			Failure: req.ReturnURLs.Failure,
			Pending: req.ReturnURLs.Pending,
		}
		if req.ReturnURLs.Success != "" {
			pr.AutoReturn = "approved"
		}
	}
	if req.PayerEmail != "" {
		pr.Payer = &preference.PayerRequest{Email: req.PayerEmail}
	}

	resp, err := c.preferences.Create(ctx, pr)
	if err != nil {
		return nil, c.classify("CreateIntent", err)
	}
	redirect := resp.InitPoint
	if c.sandbox && resp.SandboxInitPoint != "" {
		redirect = resp.SandboxInitPoint
	}
	return &gateway.Intent{Provider: providerName, GatewayPaymentID: resp.ID, RedirectURL: redirect}, nil
}

// Lookup searches payments by external_reference. A buyer may have several
// attempts on one preference: any approved attempt wins, and an attempt still
// in flight outranks earlier rejections.
func (c *Client) Lookup(ctx context.Context, req gateway.LookupRequest) (*gateway.Payment, error) {
	if req.ExternalReference == "" {
		return nil, gateway.ErrNoPayment
	}
	resp, err := c.payments.Search(ctx, payment.SearchRequest{
		Filters: map[string]string{"external_reference": req.ExternalReference},
	})
	if err != nil {
		return nil, c.classify("Lookup", err)
	}
	var best *gateway.Payment
	for i := range resp.Results {
		p := toPayment(&resp.Results[i])
		if best == nil || rank(p.Outcome) > rank(best.Outcome) {
			best = p
		}
	}
	if best == nil {
		return nil, gateway.ErrNoPayment
	}
	return best, nil
}

// ParseWebhook accepts both notification shapes MercadoPago sends: a JSON
// body {"type":"payment","data":{"id":"..."}} and the legacy
// ?topic=payment&id=... query. The query is only consulted when the body is
// empty or carries no type. The status is always re-read from the API.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, _ http.Header, query url.Values) (*gateway.Payment, error) {
	kind, id := query.Get("type"), query.Get("data.id")
	if kind == "" {
		kind, id = query.Get("topic"), query.Get("id")
	}
	if len(payload) > 0 {
		var body notification
		if err := json.Unmarshal(payload, &body); err != nil {
			if kind == "" {
				return nil, fmt.Errorf("%w: %v", gateway.ErrBadWebhook, err)
			}
		} else if body.Type != "" {
			kind, id = body.Type, body.dataID()
		}
	}
	if kind != "payment" {
		return nil, nil
	}
	paymentID, err := strconv.Atoi(id)
	if err != nil {
		return nil, gateway.ErrBadWebhook
	}

	resp, err := c.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, c.classify("GetPayment", err)
	}
	return toPayment(resp), nil
}

type notification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// dataID returns data.id whether it was sent as a string or a number.
func (n notification) dataID() string {
	var s string
	if err := json.Unmarshal(n.Data.ID, &s); err == nil {
		return s
	}
	return string(n.Data.ID)
}

// classify maps SDK failures onto gateway kinds. Transport errors, 5xx and
// 429 answers are retryable; other API answers are refusals.
func (c *Client) classify(op string, err error) error {
	var respErr *mperror.ResponseError
	hasResp := errors.As(err, &respErr)

	if gateway.IsTransport(err) || (hasResp && retryableStatus(respErr.StatusCode)) {
		metrics.GatewayErrors.WithLabelValues(providerName, op, "transport").Inc()
		return gateway.Unavailable("mercadopago."+op, err)
	}

	metrics.GatewayErrors.WithLabelValues(providerName, op, "refused").Inc()
	reason := "mercadopago refused the request"
	if hasResp {
		if msg := apiMessage(respErr.Message); msg != "" {
			reason = msg
		}
	}
	c.log.Warn("mercadopago request refused", "op", op, "error", err)
	return gateway.Rejected("mercadopago."+op, reason, err)
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// apiMessage extracts the message field from an API error body. The raw body
// is never returned.
func apiMessage(body string) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return ""
	}
	return e.Message
}

func toPayment(r *payment.Response) *gateway.Payment {
	return &gateway.Payment{
		ID:                strconv.Itoa(r.ID),
		ExternalReference: r.ExternalReference,
		Outcome:           MapStatus(r.Status),
		RawStatus:         r.Status,
	}
}

// MapStatus folds MercadoPago payment statuses onto settlement outcomes.
func MapStatus(status string) models.Outcome {
	switch status {
	case "approved", "authorized":
		return models.OutcomeApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return models.OutcomeRejected
	default:
		return models.OutcomePending
	}
}

func rank(o models.Outcome) int {
	switch o {
	case models.OutcomeApproved:
		return 2
	case models.OutcomePending:
		return 1
	default:
		return 0
	}
}
