package notify

import (
	"context"
	"errors"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
)

const maxRetries = 3

// SlackSink posts to a Slack incoming webhook.
type SlackSink struct {
	url  string
	post func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error
}

// NewSlack returns a sink for the incoming webhook at url.
func NewSlack(url string) *SlackSink {
	return &SlackSink{url: url, post: slackapi.PostWebhookContext}
}

func (s *SlackSink) Name() string { return "slack" }

// Send posts evt as a single attachment, retrying on rate limits.
func (s *SlackSink) Send(ctx context.Context, evt FormattedEvent) error {
	msg := &slackapi.WebhookMessage{
		Text:        evt.Title,
		Attachments: []slackapi.Attachment{eventToAttachment(evt)},
	}
	return retryOnRateLimit(ctx, func() error {
		return s.post(ctx, s.url, msg)
	})
}

func eventToAttachment(evt FormattedEvent) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color,
		Fallback: evt.Title,
	}
	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors, honoring RetryAfter when Slack sends one.
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
