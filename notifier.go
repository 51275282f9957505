package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultNotificationTimeout bounds every notification delivery
const DefaultNotificationTimeout = 10 * time.Second

// NotificationKind identifies the message to deliver
type NotificationKind string

const (
	NotifyVerification         NotificationKind = "account.verification"
	NotifyApprovalChanged      NotificationKind = "account.approval"
	NotifyRelationshipRequest  NotificationKind = "relationship.request"
	NotifyRelationshipResponse NotificationKind = "relationship.response"
)

// Notification is the opaque payload handed to a Notifier. Rendering is
// left to the transport.
type Notification struct {
	ID        uuid.UUID         `json:"id"`
	Kind      NotificationKind  `json:"kind"`
	To        string            `json:"to"`
	Name      string            `json:"name"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers notifications, e.g. email over a broker or webhook.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// LogNotifier only logs, used when no transport is configured
type LogNotifier struct {
	Logger Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	normalizeLogger(l.Logger).Info("notification", "kind", n.Kind, "to", n.To, "id", n.ID)
	return nil
}

// DispatcherOption customizes the dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatchTimeout overrides the delivery timeout
func WithDispatchTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDispatcherLogger sets the logger used to report outcomes
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMetrics records delivery outcomes
func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher runs notifications in the background after the triggering
// write committed. Delivery is bounded by a timeout and its outcome is only
// logged.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   Logger
	metrics  *Metrics
	now      func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher wraps notifier, a nil notifier logs only
func NewDispatcher(notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		timeout:  DefaultNotificationTimeout,
		logger:   defLogger{},
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	if d.notifier == nil {
		d.notifier = LogNotifier{Logger: d.logger}
	}

	return d
}

// Dispatch returns immediately. The delivery context is detached from the
// caller's request context.
func (d *Dispatcher) Dispatch(n Notification) {
	if d == nil {
		return
	}

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("notification dropped, dispatcher closed", "kind", n.Kind, "id", n.ID)
		d.metrics.notification("dropped")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.deliver(n)
	}()
}

func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- panicError{value: r}
			}
		}()
		done <- d.notifier.Notify(ctx, n)
	}()

	select {
	case err := <-done:
		if err != nil {
			d.logger.Error("notification failed", "kind", n.Kind, "id", n.ID, "error", err)
			d.metrics.notification("failed")
			return
		}
		d.logger.Debug("notification sent", "kind", n.Kind, "id", n.ID)
		d.metrics.notification("sent")
	case <-ctx.Done():
		d.logger.Error("notification timed out", "kind", n.Kind, "id", n.ID, "timeout", d.timeout)
		d.metrics.notification("timeout")
	}
}

// Wait blocks until in flight deliveries finish. It does not stop new
// dispatches, use Close on shutdown.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Close stops accepting notifications and waits for in flight deliveries.
// Later dispatches are dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("notifier panic: %v", p.value)
}
