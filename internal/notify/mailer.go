// Package notify sends purchase receipts to buyers.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/inaiurai/credits/internal/config"
)

// Receipt is what a buyer is told once credits land on their balance.
type Receipt struct {
	To          string
	Name        string
	PurchaseID  string
	PackageName string
	Credits     int
	AmountPaid  int64
}

func (r Receipt) Subject() string {
	return fmt.Sprintf("Compra confirmada: %s", r.PackageName)
}

func (r Receipt) HTML() string {
	name := r.Name
	if name == "" {
		name = r.To
	}
	return fmt.Sprintf(`<p>Hola %s,</p>
<p>Tu compra de <strong>%s</strong> fue aprobada y se agregaron <strong>%d créditos</strong> a tu cuenta.</p>
<p>Monto pagado: $%d<br>Referencia: %s</p>`,
		html.EscapeString(name), html.EscapeString(r.PackageName), r.Credits, r.AmountPaid, html.EscapeString(r.PurchaseID))
}

type Mailer interface {
	SendReceipt(ctx context.Context, r Receipt) error
}

// SMTPMailer delivers receipts through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) SendReceipt(_ context.Context, r Receipt) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", r.To)
	msg.SetHeader("Subject", r.Subject())
	msg.SetBody("text/html", r.HTML())
	return m.dialer.DialAndSend(msg)
}

// LogMailer only logs receipts. Used when SMTP is not configured.
type LogMailer struct {
	Log *slog.Logger
}

func (m LogMailer) SendReceipt(_ context.Context, r Receipt) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("receipt not mailed (smtp disabled)", "to", r.To, "purchase_id", r.PurchaseID, "credits", r.Credits)
	return nil
}

// New picks the SMTP mailer when configured and the log mailer otherwise.
func New(cfg config.SMTPConfig, log *slog.Logger) Mailer {
	if cfg.Enabled() {
		return NewSMTPMailer(cfg)
	}
	return LogMailer{Log: log}
}
