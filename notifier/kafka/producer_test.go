package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	identity "github.com/goliatone/go-care-identity"
	"github.com/goliatone/go-care-identity/notifier/kafka"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestNotifierProducesKeyedRecord(t *testing.T) {
	producer := &fakeProducer{}
	k := kafka.NewNotifier(producer, "identity-notifications")

	n := identity.Notification{
		ID:   uuid.New(),
		Kind: identity.NotifyRelationshipRequest,
		To:   "raj@example.com",
		Name: "Raj Patel",
	}
	require.NoError(t, k.Notify(context.Background(), n))

	require.Len(t, producer.records, 1)
	record := producer.records[0]
	assert.Equal(t, "identity-notifications", record.Topic)
	assert.Equal(t, []byte("raj@example.com"), record.Key)

	headers := map[string]string{}
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, string(identity.NotifyRelationshipRequest), headers["kind"])
	assert.Equal(t, n.ID.String(), headers["notification_id"])

	var decoded identity.Notification
	require.NoError(t, json.Unmarshal(record.Value, &decoded))
	assert.Equal(t, "Raj Patel", decoded.Name)
}

func TestNotifierProduceError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("leader not available")}
	k := kafka.NewNotifier(producer, "identity-notifications")

	err := k.Notify(context.Background(), identity.Notification{Kind: identity.NotifyVerification})
	assert.ErrorContains(t, err, "failed to produce notification")
}
