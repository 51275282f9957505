package identity

import "time"

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 2 * time.Hour
)

// LockoutPolicy decides the login bookkeeping after a failed password.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy locks for two hours after five failures
var DefaultLockoutPolicy = LockoutPolicy{
	Threshold: DefaultLockoutThreshold,
	Duration:  DefaultLockoutDuration,
}

func (p LockoutPolicy) normalize() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultLockoutThreshold
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// NextFailure returns the state after one more failure and whether this
// failure opened a new lock window. A lock that already expired is dropped
// and counting restarts at one without locking again.
func (p LockoutPolicy) NextFailure(attempts int, lockUntil *time.Time, now time.Time) (LoginState, bool) {
	p = p.normalize()

	if lockUntil != nil && !now.Before(*lockUntil) {
		return LoginState{Attempts: 1}, false
	}

	next := LoginState{Attempts: attempts + 1, LockUntil: lockUntil}
	if lockUntil == nil && next.Attempts >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockUntil = &until
		return next, true
	}

	return next, false
}

// Success clears the counter and lock window.
func (p LockoutPolicy) Success(now time.Time) LoginState {
	return LoginState{Attempts: 0, LockUntil: nil, LastLoginAt: &now}
}
