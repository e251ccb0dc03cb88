package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// webhookPoster abstracts slack.PostWebhookContext, enabling test mocks.
type webhookPoster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Slack posts alerts through an incoming webhook.
type Slack struct {
	url  string
	post webhookPoster
}

// SlackOpts holds parameters for creating a Slack sink.
type SlackOpts struct {
	WebhookURL string
	// For testing: inject a poster instead of the real webhook call.
	Post webhookPoster
}

// NewSlack creates a Slack sink.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("slack: webhook url is required")
	}
	post := opts.Post
	if post == nil {
		post = slackapi.PostWebhookContext
	}
	return &Slack{url: opts.WebhookURL, post: post}, nil
}

// Name implements Sink.
func (s *Slack) Name() string { return "slack" }

// Send implements Sink.
func (s *Slack) Send(ctx context.Context, a Alert) error {
	msg := &slackapi.WebhookMessage{
		Text:        a.Title,
		Attachments: []slackapi.Attachment{alertToAttachment(a)},
	}
	err := retryOnRateLimit(ctx, func() error {
		return s.post(ctx, s.url, msg)
	})
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

func alertToAttachment(a Alert) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    a.Title,
		Text:     a.Body,
		Color:    a.Color,
		Fallback: a.Title,
	}
	for _, f := range a.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
