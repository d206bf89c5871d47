// Package mailer sends transactional email through Mailgun.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/mailgun/mailgun-go/v4"
	"github.com/pkg/errors"
)

// ErrNotConfigured is returned by Send when no Mailgun domain or key is set.
var ErrNotConfigured = errors.New("mailer is not configured")

// Message is a single email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a Message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Config holds the Mailgun account and the sender identity.
type Config struct {
	Domain    string
	APIKey    string
	APIBase   string
	FromEmail string
	FromName  string
}

// Mailgun is a Sender backed by the Mailgun API.
type Mailgun struct {
	conf   Config
	client *mailgun.MailgunImpl
	logger log.Logger
}

// NewMailgun creates a Mailgun sender. Send fails with ErrNotConfigured when
// the domain or key is empty.
func NewMailgun(conf Config, logger log.Logger) *Mailgun {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	client := mailgun.NewMailgun(conf.Domain, conf.APIKey)
	if conf.APIBase != "" {
		client.SetAPIBase(conf.APIBase)
	}
	return &Mailgun{conf: conf, client: client, logger: log.With(logger, "component", "mailer")}
}

// Send implements Sender.
func (m *Mailgun) Send(ctx context.Context, msg Message) (string, error) {
	if m.conf.Domain == "" || m.conf.APIKey == "" {
		return "", ErrNotConfigured
	}
	if msg.To == "" {
		return "", errors.New("missing recipient")
	}

	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}
	from := m.conf.FromEmail
	if m.conf.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.conf.FromName, m.conf.FromEmail)
	}

	message := m.client.NewMessage(from, msg.Subject, msg.Text, to)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, id, err := m.client.Send(ctx, message)
	if err != nil {
		return "", errors.Wrapf(err, "send email to %s", msg.To)
	}
	_ = level.Debug(m.logger).Log("msg", "email sent", "to", msg.To, "id", id)
	return id, nil
}
