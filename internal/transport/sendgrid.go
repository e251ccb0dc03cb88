package transport

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridClient is the slice of the SendGrid client used here.
type SendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid delivers through the SendGrid v3 mail API.
type SendGrid struct {
	client    SendGridClient
	fromEmail string
	fromName  string
}

// NewSendGrid creates a SendGrid transport for apiKey.
func NewSendGrid(apiKey, fromEmail, fromName string) *SendGrid {
	return NewSendGridWithClient(sendgrid.NewSendClient(apiKey), fromEmail, fromName)
}

// NewSendGridWithClient creates a SendGrid transport with a custom client.
func NewSendGridWithClient(client SendGridClient, fromEmail, fromName string) *SendGrid {
	return &SendGrid{client: client, fromEmail: fromEmail, fromName: fromName}
}

// Send implements Transport.
func (s *SendGrid) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, fmt.Errorf("sendgrid: recipient is required")
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.fromName, s.fromEmail))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	m.AddPersonalizations(p)

	m.AddContent(mail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}
	if msg.IdempotencyKey != "" {
		m.SetHeader("Idempotency-Key", msg.IdempotencyKey)
		m.SetCustomArg("idempotency_key", msg.IdempotencyKey)
	}
	if msg.DraftID != "" {
		m.SetCustomArg("draft_id", msg.DraftID)
	}
	if msg.ScheduledAt != nil {
		m.SetSendAt(int(msg.ScheduledAt.Unix()))
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return Result{}, fmt.Errorf("sendgrid: send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}

	id := msg.IdempotencyKey
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 && ids[0] != "" {
		id = ids[0]
	}
	return Result{MessageID: id}, nil
}
