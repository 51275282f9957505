package webhook

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	goerrors "github.com/goliatone/go-errors"

	identity "github.com/goliatone/go-care-identity"
)

// DefaultTimeout is the per request timeout
const DefaultTimeout = 5 * time.Second

// Sender posts notifications as JSON to a mail relay endpoint.
type Sender struct {
	client *resty.Client
	path   string
}

// Option configures the sender
type Option func(*Sender)

// WithPath sets the endpoint path relative to the base URL
func WithPath(path string) Option {
	return func(s *Sender) {
		if path != "" {
			s.path = path
		}
	}
}

// WithAuthToken sends a bearer token with every request
func WithAuthToken(token string) Option {
	return func(s *Sender) {
		if token != "" {
			s.client.SetAuthToken(token)
		}
	}
}

// WithRetries retries transport failures and 5xx responses
func WithRetries(count int) Option {
	return func(s *Sender) {
		s.client.
			SetRetryCount(count).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= 500
			})
	}
}

var _ identity.Notifier = (*Sender)(nil)

// NewSender creates a webhook sender for baseURL.
func NewSender(baseURL string, opts ...Option) *Sender {
	s := &Sender{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		path: "/notifications",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Notify implements identity.Notifier.
func (s *Sender) Notify(ctx context.Context, n identity.Notification) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", n.ID.String()).
		SetBody(n).
		Post(s.path)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver notification")
	}

	if resp.IsError() {
		return goerrors.New("notification endpoint rejected the request", goerrors.CategoryOperation).
			WithMetadata(map[string]any{
				"status": resp.StatusCode(),
				"kind":   string(n.Kind),
			})
	}
	return nil
}
