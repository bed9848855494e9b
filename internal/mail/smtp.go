// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package mail

import (
	"context"
	"time"

	"github.com/samber/oops"
	gomail "github.com/wneessen/go-mail"

	"github.com/flicker/credsvc/internal/config"
	"github.com/flicker/credsvc/internal/status"
)

const defaultTimeout = 15 * time.Second

// SMTPDispatcher sends mail through an authenticated SMTP relay.
type SMTPDispatcher struct {
	client *gomail.Client
	from   string
}

// NewSMTPDispatcher builds a dispatcher from config. No connection is made
// until the first Send.
func NewSMTPDispatcher(cfg config.MailConfig) (*SMTPDispatcher, error) {
	if cfg.Host == "" {
		return nil, oops.Code(status.ErrCodeConfigInvalid).
			With("field", "mail.host").
			Errorf("mail host is required")
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if from == "" {
		return nil, oops.Code(status.ErrCodeConfigInvalid).
			With("field", "mail.from").
			Errorf("mail sender is required")
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(defaultTimeout),
	}
	if cfg.SSL {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code(status.ErrCodeConfigInvalid).
			With("host", cfg.Host).
			Wrapf(err, "create smtp client")
	}
	return &SMTPDispatcher{client: client, from: from}, nil
}

// Send implements Dispatcher.
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	m, err := d.build(msg)
	if err != nil {
		return err
	}
	if err := d.client.DialAndSendWithContext(ctx, m); err != nil {
		return oops.Code(status.ErrCodeMailSendFailed).
			With("to", msg.To).
			Wrapf(err, "send mail")
	}
	return nil
}

func (d *SMTPDispatcher) build(msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(d.from); err != nil {
		return nil, oops.Code(status.ErrCodeMailSendFailed).With("from", d.from).Wrapf(err, "invalid sender")
	}
	if err := m.To(msg.To); err != nil {
		return nil, oops.Code(status.ErrCodeMailSendFailed).With("to", msg.To).Wrapf(err, "invalid recipient")
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
