package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	amqp "github.com/rabbitmq/amqp091-go"

	identity "github.com/goliatone/go-care-identity"
)

// Channel is the subset of *amqp.Channel used by the publisher
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher delivers notifications as persistent JSON messages. The routing
// key is the notification kind unless a fixed key is set.
type Publisher struct {
	channel    Channel
	exchange   string
	routingKey string
	now        func() time.Time
}

// Option configures the publisher
type Option func(*Publisher)

// WithRoutingKey publishes every notification with the same key
func WithRoutingKey(key string) Option {
	return func(p *Publisher) {
		p.routingKey = key
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.now = clock
		}
	}
}

var _ identity.Notifier = (*Publisher)(nil)

// NewPublisher creates a publisher on the given channel and exchange
func NewPublisher(ch Channel, exchange string, opts ...Option) *Publisher {
	p := &Publisher{
		channel:  ch,
		exchange: exchange,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Notify implements identity.Notifier.
func (p *Publisher) Notify(ctx context.Context, n identity.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode notification")
	}

	key := p.routingKey
	if key == "" {
		key = string(n.Kind)
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    n.ID.String(),
		Type:         string(n.Kind),
		Body:         body,
		Timestamp:    p.now(),
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to publish notification").
			WithMetadata(map[string]any{"exchange": p.exchange, "routing_key": key})
	}
	return nil
}
