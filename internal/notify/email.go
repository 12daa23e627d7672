package notify

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/wneessen/go-mail"

	"rfids/internal/config"
	"rfids/internal/model"
)

// Email sends alerts over SMTP with STARTTLS, attaching the rendered artifact
// when one exists.
type Email struct {
	cfg  config.EmailConfig
	dial func(ctx context.Context, msg *mail.Msg) error
}

func NewEmail(cfg config.EmailConfig) *Email {
	e := &Email{cfg: cfg}
	e.dial = e.send
	return e
}

func (e *Email) Name() string {
	return "email"
}

func (e *Email) Notify(ctx context.Context, alert model.Alert) error {
	msg, err := e.message(alert)
	if err != nil {
		return err
	}
	return e.dial(ctx, msg)
}

func (e *Email) message(alert model.Alert) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.cfg.Sender); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(e.cfg.Recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(alert.Subject)
	msg.SetBodyString(mail.TypeTextPlain, alert.Body)
	if alert.Artifact != "" {
		msg.AttachFile(alert.Artifact, mail.WithFileName(filepath.Base(alert.Artifact)))
	}
	return msg, nil
}

func (e *Email) send(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(e.cfg.Server,
		mail.WithPort(e.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.cfg.Sender),
		mail.WithPassword(e.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
