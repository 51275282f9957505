package config

import "time"

func (c Config) GetApp() App                 { return c.App }
func (c Config) GetAuth() Auth               { return c.Auth }
func (c Config) GetPersistence() Persistence { return c.Persistence }
func (c Config) GetNotifier() Notifier       { return c.Notifier }
func (c Config) GetMetrics() Metrics         { return c.Metrics }

func (a Auth) GetSigningKey() string      { return a.SigningKey }
func (a Auth) GetTokenExpiration() int    { return a.TokenExpiration }
func (a Auth) GetIssuer() string          { return a.Issuer }
func (a Auth) GetAudience() []string      { return a.Audience }
func (a Auth) GetLockoutThreshold() int   { return a.LockoutThreshold }
func (a Auth) GetPhoneRegion() string     { return a.PhoneRegion }
func (a Auth) GetBootstrapSecret() string { return a.BootstrapSecret }

func (a Auth) GetLockoutDuration() time.Duration {
	return parseDuration(a.LockoutDurationExpression, 0)
}

func (a Auth) GetNotificationTimeout() time.Duration {
	return parseDuration(a.NotificationTimeoutExpression, 0)
}

func (p Persistence) GetDriver() string { return p.Driver }
func (p Persistence) GetDSN() string    { return p.DSN }
func (p Persistence) GetDebug() bool    { return p.Debug }

func (p Persistence) GetMaxOpenConns() int {
	if p.MaxOpenConns <= 0 && p.Driver == DriverSQLite {
		return 1
	}
	return p.MaxOpenConns
}

func (p Persistence) GetPingTimeout() time.Duration {
	return parseDuration(p.PingTimeoutExpression, 5*time.Second)
}

func (m Metrics) GetPath() string {
	if m.Path == "" {
		return "/metrics"
	}
	return m.Path
}
