package mail

import (
	"context"

	"github.com/pkg/errors"
	"github.com/resend/resend-go/v2"
)

var ErrDisabled = errors.New("mail: sending disabled, no API key configured")

// Mailer sends outbound email through Resend. A Mailer built without
// an API key stays usable but refuses to send.
type Mailer struct {
	client *resend.Client
	from   string
}

func New(apiKey, from string) *Mailer {
	m := &Mailer{from: from}
	if apiKey != "" {
		m.client = resend.NewClient(apiKey)
	}
	return m
}

func (m *Mailer) Enabled() bool {
	return m != nil && m.client != nil
}

// Send delivers one message and returns the provider message id.
func (m *Mailer) Send(ctx context.Context, to []string, subject, html string) (string, error) {
	if !m.Enabled() {
		return "", ErrDisabled
	}

	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      to,
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return "", errors.Wrap(err, "mail.send")
	}
	return sent.Id, nil
}
