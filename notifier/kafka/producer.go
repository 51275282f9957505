package kafka

import (
	"context"
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
	"github.com/twmb/franz-go/pkg/kgo"

	identity "github.com/goliatone/go-care-identity"
)

// Producer is the subset of *kgo.Client used to publish notifications
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Notifier writes notifications to a Kafka topic keyed by recipient, so
// messages for one address stay ordered within a partition.
type Notifier struct {
	producer Producer
	topic    string
}

var _ identity.Notifier = (*Notifier)(nil)

// NewNotifier creates a topic notifier
func NewNotifier(producer Producer, topic string) *Notifier {
	return &Notifier{
		producer: producer,
		topic:    topic,
	}
}

// NewClient builds a franz-go client for the given seed brokers.
func NewClient(brokers []string, opts ...kgo.Opt) (*kgo.Client, error) {
	all := append([]kgo.Opt{kgo.SeedBrokers(brokers...)}, opts...)
	client, err := kgo.NewClient(all...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create kafka client")
	}
	return client, nil
}

// Notify implements identity.Notifier.
func (k *Notifier) Notify(ctx context.Context, n identity.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode notification")
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(n.To),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "notification_id", Value: []byte(n.ID.String())},
		},
	}

	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to produce notification").
			WithMetadata(map[string]any{"topic": k.topic})
	}
	return nil
}
