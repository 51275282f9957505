package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// ErrMissingSigningKey is returned when the service is built without a key
var ErrMissingSigningKey = goerrors.New("signing key is required", goerrors.CategoryValidation).
	WithTextCode("MISSING_SIGNING_KEY").
	WithCode(goerrors.CodeInternal)

// ServiceOption customizes the service wiring
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger   Logger
	notifier Notifier
	metrics  *Metrics
	activity ActivitySink
	clock    func() time.Time
	hasher   PasswordAuthenticator
}

// WithServiceLogger sets the logger handed to every component
func WithServiceLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithServiceNotifier sets the notification transport
func WithServiceNotifier(n Notifier) ServiceOption {
	return func(o *serviceOptions) {
		o.notifier = n
	}
}

// WithServiceMetrics records counters on m
func WithServiceMetrics(m *Metrics) ServiceOption {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// WithServiceActivitySink publishes lifecycle and graph events to sink
func WithServiceActivitySink(sink ActivitySink) ServiceOption {
	return func(o *serviceOptions) {
		o.activity = sink
	}
}

// WithServiceClock injects a custom clock (useful for tests).
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		o.clock = clock
	}
}

// WithServicePasswordAuthenticator overrides the bcrypt hasher
func WithServicePasswordAuthenticator(p PasswordAuthenticator) ServiceOption {
	return func(o *serviceOptions) {
		o.hasher = p
	}
}

// Service bundles the lifecycle engine, token issuer, graph manager and
// record gate over one repository manager and one dispatcher.
type Service struct {
	Tokens     *TokenService
	Lifecycle  *AccountLifecycle
	Graph      *RelationshipGraph
	Records    *PatientRecordAccess
	Dispatcher *Dispatcher
	logger     Logger
}

// NewService wires the components from cfg.
func NewService(repo RepositoryManager, cfg Config, opts ...ServiceOption) (*Service, error) {
	o := &serviceOptions{
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = normalizeLogger(o.logger)

	if cfg == nil || cfg.GetSigningKey() == "" {
		return nil, ErrMissingSigningKey
	}

	if err := repo.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid repository manager")
	}

	dispatcher := NewDispatcher(o.notifier,
		WithDispatchTimeout(cfg.GetNotificationTimeout()),
		WithDispatcherLogger(o.logger),
		WithDispatcherMetrics(o.metrics),
	)

	tokens := NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		jwt.ClaimStrings(cfg.GetAudience()),
		o.logger,
		WithTokenClock(o.clock),
	)

	lifecycleOpts := []LifecycleOption{
		WithLifecycleClock(o.clock),
		WithLifecycleDispatcher(dispatcher),
		WithLifecycleActivitySink(o.activity),
		WithLifecycleMetrics(o.metrics),
		WithLifecycleLogger(o.logger),
		WithLockoutPolicy(LockoutPolicy{
			Threshold: cfg.GetLockoutThreshold(),
			Duration:  cfg.GetLockoutDuration(),
		}),
		WithPhoneRegion(cfg.GetPhoneRegion()),
		WithBootstrapSecret(cfg.GetBootstrapSecret()),
	}
	if o.hasher != nil {
		lifecycleOpts = append(lifecycleOpts, WithPasswordAuthenticator(o.hasher))
	}

	graph := NewRelationshipGraph(repo,
		WithGraphClock(o.clock),
		WithGraphDispatcher(dispatcher),
		WithGraphActivitySink(o.activity),
		WithGraphMetrics(o.metrics),
		WithGraphLogger(o.logger),
	)

	return &Service{
		Tokens:     tokens,
		Lifecycle:  NewAccountLifecycle(repo, lifecycleOpts...),
		Graph:      graph,
		Records:    NewPatientRecordAccess(repo, o.logger),
		Dispatcher: dispatcher,
		logger:     o.logger,
	}, nil
}

// Controller builds the HTTP controller over the service components
func (s *Service) Controller(opts ...HTTPControllerOption) *HTTPController {
	base := []HTTPControllerOption{
		WithControllerLogger(s.logger),
		WithPatientRecordAccess(s.Records),
	}
	return NewHTTPController(s.Lifecycle, s.Graph, s.Tokens, append(base, opts...)...)
}

// Close stops the dispatcher and waits for in flight notifications
func (s *Service) Close() {
	s.Dispatcher.Close()
}
