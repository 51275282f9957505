package identity_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	identity "github.com/goliatone/go-care-identity"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningKey      = "test-signing-key-with-at-least-32-bytes"
	testBootstrapSecret = "bootstrap-secret"
	testPassword        = "secret123"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []identity.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n identity.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) ofKind(kind identity.NotificationKind) []identity.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []identity.Notification
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type capturingSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt identity.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) count(eventType identity.ActivityEventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, evt := range c.events {
		if evt.EventType == eventType {
			n++
		}
	}
	return n
}

type testConfig struct {
	bootstrapSecret string
}

func (c testConfig) GetSigningKey() string { return testSigningKey }
func (c testConfig) GetTokenExpiration() int { return 24 }
func (c testConfig) GetIssuer() string { return "care-identity" }
func (c testConfig) GetAudience() []string { return []string{"care-api"} }
func (c testConfig) GetLockoutThreshold() int { return 5 }
func (c testConfig) GetLockoutDuration() time.Duration { return 2 * time.Hour }
func (c testConfig) GetNotificationTimeout() time.Duration { return time.Second }
func (c testConfig) GetPhoneRegion() string { return "US" }
func (c testConfig) GetBootstrapSecret() string { return c.bootstrapSecret }

// newTestDB opens a private in memory sqlite database with the schema
// applied. A single connection keeps the database alive and serializes
// concurrent writers.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	require.NoError(t, identity.Migrate(context.Background(), db, nopLogger{}))
	return db
}

type fixture struct {
	db       *bun.DB
	repo     identity.RepositoryManager
	clock    *testClock
	notifier *recordingNotifier
	sink     *capturingSink
	service  *identity.Service
	phones   int
}

func newFixture(t *testing.T, opts ...identity.ServiceOption) *fixture {
	t.Helper()

	db := newTestDB(t)
	f := &fixture{
		db:       db,
		repo:     identity.NewRepositoryManager(db),
		clock:    newTestClock(),
		notifier: &recordingNotifier{},
		sink:     &capturingSink{},
	}

	base := []identity.ServiceOption{
		identity.WithServiceLogger(nopLogger{}),
		identity.WithServiceClock(f.clock.Now),
		identity.WithServiceNotifier(f.notifier),
		identity.WithServiceActivitySink(f.sink),
		identity.WithServicePasswordAuthenticator(identity.NewBcryptHasher(bcrypt.MinCost)),
	}

	service, err := identity.NewService(f.repo, testConfig{bootstrapSecret: testBootstrapSecret}, append(base, opts...)...)
	require.NoError(t, err)
	f.service = service
	t.Cleanup(service.Close)

	return f
}

func (f *fixture) lifecycle() *identity.AccountLifecycle {
	return f.service.Lifecycle
}

func (f *fixture) graph() *identity.RelationshipGraph {
	return f.service.Graph
}

func (f *fixture) nextPhone() string {
	f.phones++
	return fmt.Sprintf("+1415555%04d", f.phones)
}

func patientProfile() *identity.PatientProfile {
	return &identity.PatientProfile{
		DateOfBirth: "1990-04-12",
		Gender:      "female",
		BloodGroup:  "O+",
	}
}

func doctorProfile() *identity.DoctorProfile {
	return &identity.DoctorProfile{
		Department:     "Cardiology",
		Specialization: "Interventional cardiology",
		Experience:     "8 years",
	}
}

func (f *fixture) patientInput(name, email string) identity.RegistrationInput {
	return identity.RegistrationInput{
		Name:     name,
		Email:    email,
		Password: testPassword,
		Role:     identity.RolePatient,
		Phone:    f.nextPhone(),
		Profile:  patientProfile(),
	}
}

func (f *fixture) doctorInput(name, email string) identity.RegistrationInput {
	return identity.RegistrationInput{
		Name:     name,
		Email:    email,
		Password: testPassword,
		Role:     identity.RoleDoctor,
		Phone:    f.nextPhone(),
		Profile:  doctorProfile(),
	}
}

// register advances the clock so generated external ids never collide.
func (f *fixture) register(t *testing.T, input identity.RegistrationInput) (*identity.Account, string) {
	t.Helper()
	f.clock.Advance(time.Millisecond)

	account, token, err := f.lifecycle().Register(context.Background(), input)
	require.NoError(t, err)
	return account, token
}

func (f *fixture) verifiedPatient(t *testing.T, name, email string) *identity.Account {
	t.Helper()
	_, token := f.register(t, f.patientInput(name, email))

	account, err := f.lifecycle().VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	return account
}

func (f *fixture) admin(t *testing.T) *identity.Account {
	t.Helper()
	f.clock.Advance(time.Millisecond)

	admin, err := f.lifecycle().BootstrapAdmin(context.Background(), testBootstrapSecret, identity.AdminInput{
		Name:     "Root Admin",
		Email:    "admin@example.com",
		Password: testPassword,
		Phone:    f.nextPhone(),
	})
	require.NoError(t, err)
	return admin
}
