package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/goliatone/go-care-identity"
	"github.com/goliatone/go-care-identity/notifier/webhook"
)

func TestSenderPostsNotification(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotKey    string
		gotNotice identity.Notification
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotNotice)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := webhook.NewSender(srv.URL, webhook.WithPath("/mail"), webhook.WithAuthToken("relay-token"))

	n := identity.Notification{
		ID:   uuid.New(),
		Kind: identity.NotifyVerification,
		To:   "jane@example.com",
		Data: map[string]string{"token": "abc"},
	}
	require.NoError(t, s.Notify(context.Background(), n))

	assert.Equal(t, "/mail", gotPath)
	assert.Equal(t, "Bearer relay-token", gotAuth)
	assert.Equal(t, n.ID.String(), gotKey)
	assert.Equal(t, "jane@example.com", gotNotice.To)
	assert.Equal(t, "abc", gotNotice.Data["token"])
}

func TestSenderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := webhook.NewSender(srv.URL, webhook.WithRetries(2))
	require.NoError(t, s.Notify(context.Background(), identity.Notification{ID: uuid.New(), Kind: identity.NotifyVerification}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := webhook.NewSender(srv.URL)
	err := s.Notify(context.Background(), identity.Notification{ID: uuid.New(), Kind: identity.NotifyVerification})
	assert.ErrorContains(t, err, "rejected")
}
