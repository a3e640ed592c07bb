// Package guard enforces attempt limits and cooldowns on risk questions.
// State lives in memory keyed by user and question; expired locks are
// cleaned up lazily on access, there are no background goroutines.
package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
)

// Defaults for risk questions.
const (
	DefaultMaxAttempts = 2
	DefaultCooldown    = 30 * time.Second
)

// ErrOutOfAttempts is returned when no attempts remain and no cooldown is
// pending.
var ErrOutOfAttempts = errors.New("no attempts remaining")

// CooldownActiveError is returned while a lock is armed.
type CooldownActiveError struct {
	RemainingMs int64
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active, %dms remaining", e.RemainingMs)
}

// AttemptInfo is the per-question attempt state.
type AttemptInfo struct {
	UserID       string     `json:"user_id"`
	QuestionID   string     `json:"question_id"`
	AttemptsUsed int        `json:"attempts_used"`
	MaxAttempts  int        `json:"max_attempts"`
	LockUntil    *time.Time `json:"lock_until,omitempty"`
}

// Config tunes the guard.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns the standard two-attempt, 30s-cooldown setup.
func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts, Cooldown: DefaultCooldown}
}

// RiskGuard tracks attempts per user and question. Safe for concurrent use.
type RiskGuard struct {
	mu       sync.Mutex
	attempts map[string]*AttemptInfo
	config   Config
	now      func() time.Time
}

// New creates a RiskGuard with the given config. Zero values fall back to
// the defaults.
func New(cfg Config) *RiskGuard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &RiskGuard{
		attempts: make(map[string]*AttemptInfo),
		config:   cfg,
		now:      time.Now,
	}
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(cfg Config, now func() time.Time) *RiskGuard {
	g := New(cfg)
	g.now = now
	return g
}

func key(userID, questionID string) string {
	return userID + ":" + questionID
}

// Attempt registers an attempt on a risk question. It returns the number of
// attempts remaining after this one. A pending cooldown yields
// *CooldownActiveError; exhausted attempts yield ErrOutOfAttempts.
func (g *RiskGuard) Attempt(userID, questionID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(userID, questionID)
	info, ok := g.attempts[k]
	if !ok {
		info = &AttemptInfo{
			UserID:      userID,
			QuestionID:  questionID,
			MaxAttempts: g.config.MaxAttempts,
		}
		g.attempts[k] = info
	}

	now := g.now()
	if info.LockUntil != nil {
		if now.Before(*info.LockUntil) {
			remaining := info.LockUntil.Sub(now).Milliseconds()
			logging.GuardDebug("cooldown active for %s: %dms left", k, remaining)
			return 0, &CooldownActiveError{RemainingMs: remaining}
		}
		// Lock expired: the question opens up again with a fresh budget.
		info.AttemptsUsed = 0
		info.LockUntil = nil
	}

	if info.AttemptsUsed >= info.MaxAttempts {
		logging.Guard("attempts exhausted for %s", k)
		return 0, ErrOutOfAttempts
	}

	info.AttemptsUsed++
	remaining := info.MaxAttempts - info.AttemptsUsed
	logging.GuardDebug("attempt %d/%d for %s", info.AttemptsUsed, info.MaxAttempts, k)
	return remaining, nil
}

// Fail marks a risk question as failed: the attempt budget is spent and the
// cooldown is armed.
func (g *RiskGuard) Fail(userID, questionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(userID, questionID)
	info, ok := g.attempts[k]
	if !ok {
		info = &AttemptInfo{
			UserID:      userID,
			QuestionID:  questionID,
			MaxAttempts: g.config.MaxAttempts,
		}
		g.attempts[k] = info
	}

	until := g.now().Add(g.config.Cooldown)
	info.AttemptsUsed = info.MaxAttempts
	info.LockUntil = &until
	logging.Guard("risk failure for %s, locked until %s", k, until.Format(time.RFC3339))
}

// Info returns a copy of the attempt state, or nil when none exists.
func (g *RiskGuard) Info(userID, questionID string) *AttemptInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	info, ok := g.attempts[key(userID, questionID)]
	if !ok {
		return nil
	}
	cp := *info
	if info.LockUntil != nil {
		t := *info.LockUntil
		cp.LockUntil = &t
	}
	return &cp
}

// Reset clears the attempt state for a question.
func (g *RiskGuard) Reset(userID, questionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attempts, key(userID, questionID))
}
