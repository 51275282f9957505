package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Config is the identity server configuration loaded from app.json and
// APP_ prefixed environment variables.
type Config struct {
	App         App         `koanf:"app" json:"app"`
	Auth        Auth        `koanf:"auth" json:"auth"`
	Persistence Persistence `koanf:"persistence" json:"persistence"`
	Notifier    Notifier    `koanf:"notifier" json:"notifier"`
	Metrics     Metrics     `koanf:"metrics" json:"metrics"`
}

type App struct {
	Name  string `koanf:"name" json:"name"`
	Env   string `koanf:"env" json:"env"`
	Addr  string `koanf:"addr" json:"addr"`
	Debug bool   `koanf:"debug" json:"debug"`
}

type Auth struct {
	SigningKey                    string   `koanf:"signing_key" json:"signing_key"`
	TokenExpiration               int      `koanf:"token_expiration" json:"token_expiration"`
	Issuer                        string   `koanf:"issuer" json:"issuer"`
	Audience                      []string `koanf:"audience" json:"audience"`
	LockoutThreshold              int      `koanf:"lockout_threshold" json:"lockout_threshold"`
	LockoutDurationExpression     string   `koanf:"lockout_duration" json:"lockout_duration"`
	NotificationTimeoutExpression string   `koanf:"notification_timeout" json:"notification_timeout"`
	PhoneRegion                   string   `koanf:"phone_region" json:"phone_region"`
	BootstrapSecret               string   `koanf:"bootstrap_secret" json:"-"`
}

type Persistence struct {
	Driver                string `koanf:"driver" json:"driver"`
	DSN                   string `koanf:"dsn" json:"-"`
	Debug                 bool   `koanf:"debug" json:"debug"`
	MaxOpenConns          int    `koanf:"max_open_conns" json:"max_open_conns"`
	PingTimeoutExpression string `koanf:"ping_timeout" json:"ping_timeout"`
}

type Notifier struct {
	// Transport is one of log, rabbitmq, kafka, webhook
	Transport string   `koanf:"transport" json:"transport"`
	AMQPURL   string   `koanf:"amqp_url" json:"-"`
	Exchange  string   `koanf:"exchange" json:"exchange"`
	Brokers   []string `koanf:"brokers" json:"brokers"`
	Topic     string   `koanf:"topic" json:"topic"`
	URL       string   `koanf:"url" json:"url"`
	Token     string   `koanf:"token" json:"-"`
	Retries   int      `koanf:"retries" json:"retries"`
}

type Metrics struct {
	Enabled bool   `koanf:"enabled" json:"enabled"`
	Addr    string `koanf:"addr" json:"addr"`
	Path    string `koanf:"path" json:"path"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	TransportLog      = "log"
	TransportRabbitMQ = "rabbitmq"
	TransportKafka    = "kafka"
	TransportWebhook  = "webhook"
)

// Validate checks the loaded values
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.App),
		validation.Field(&c.Auth),
		validation.Field(&c.Persistence),
		validation.Field(&c.Notifier),
		validation.Field(&c.Metrics),
	)
}

func (a App) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Addr, validation.Required),
	)
}

func (a Auth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&a.TokenExpiration, validation.Min(0)),
		validation.Field(&a.LockoutThreshold, validation.Min(0)),
		validation.Field(&a.LockoutDurationExpression, validation.By(durationRule)),
		validation.Field(&a.NotificationTimeoutExpression, validation.By(durationRule)),
	)
}

func (p Persistence) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&p.DSN, validation.Required),
		validation.Field(&p.PingTimeoutExpression, validation.By(durationRule)),
	)
}

func (n Notifier) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.Transport, validation.In(TransportLog, TransportRabbitMQ, TransportKafka, TransportWebhook)),
		validation.Field(&n.AMQPURL, requiredWhen(n.Transport == TransportRabbitMQ)...),
		validation.Field(&n.Exchange, requiredWhen(n.Transport == TransportRabbitMQ)...),
		validation.Field(&n.Brokers, requiredWhen(n.Transport == TransportKafka)...),
		validation.Field(&n.Topic, requiredWhen(n.Transport == TransportKafka)...),
		validation.Field(&n.URL, requiredWhen(n.Transport == TransportWebhook, is.URL)...),
		validation.Field(&n.Retries, validation.Min(0)),
	)
}

func (m Metrics) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Addr, requiredWhen(m.Enabled)...),
	)
}

func requiredWhen(cond bool, rules ...validation.Rule) []validation.Rule {
	if !cond {
		return nil
	}
	return append([]validation.Rule{validation.Required}, rules...)
}

func durationRule(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return errors.New("must be a duration such as 2h or 10s")
	}
	return nil
}

func parseDuration(expr string, def time.Duration) time.Duration {
	if strings.TrimSpace(expr) == "" {
		return def
	}
	dur, err := time.ParseDuration(expr)
	if err != nil {
		panic(
			fmt.Sprintf("unable to parse time: expr %s", expr),
		)
	}
	return dur
}
