// Package progression decides level unlocks and certificate awards on top
// of the kernel's progress and certificate rule families.
package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thoretheking/Junosixteen-sub001/internal/kernel"
	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
)

// ErrNotEligible is returned when the certificate rules block the award.
var ErrNotEligible = errors.New("user is not eligible for a certificate")

// Certificate is an awarded course certificate.
type Certificate struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// Policy evaluates progression decisions against the kernel.
type Policy struct {
	kernel *kernel.Engine
	now    func() time.Time
}

// New creates a progression policy over the shared kernel.
func New(k *kernel.Engine) *Policy {
	return &Policy{kernel: k, now: time.Now}
}

// RecordCompletion asserts that the user finished a level. Re-recording the
// same level is a no-op.
func (p *Policy) RecordCompletion(userID string, level int) error {
	if level < 1 {
		return fmt.Errorf("level must be positive, got %d", level)
	}
	_, err := p.kernel.AddFact(kernel.Fact{
		ID:        fmt.Sprintf("completed:%s:%d", userID, level),
		Predicate: "completed_level",
		Args:      []interface{}{userID, level},
	})
	if err == nil {
		logging.Progress("recorded level %d completion for %s", level, userID)
	}
	return err
}

// RecordAllLevelsComplete asserts full course completion.
func (p *Policy) RecordAllLevelsComplete(userID string) error {
	_, err := p.kernel.AddFact(kernel.Fact{
		ID:        "completed_all:" + userID,
		Predicate: "completed_all_levels",
		Args:      []interface{}{userID},
	})
	return err
}

// RecordViolation flags the user's record. A flagged record blocks
// certificates until the violation is cleared.
func (p *Policy) RecordViolation(userID string) error {
	_, err := p.kernel.AddFact(kernel.Fact{
		ID:        "violation:" + userID,
		Predicate: "violation",
		Args:      []interface{}{userID},
	})
	if err == nil {
		logging.Progress("violation recorded for %s", userID)
	}
	return err
}

// ClearViolation retracts the user's violation flag.
func (p *Policy) ClearViolation(userID string) bool {
	cleared := p.kernel.RemoveFact("violation:" + userID)
	if cleared {
		logging.Progress("violation cleared for %s", userID)
	}
	return cleared
}

// NextLevel returns the next level the user may start. A user without any
// completed level starts at 1.
func (p *Policy) NextLevel(ctx context.Context, userID string) int {
	result := p.kernel.Query(ctx, fmt.Sprintf("can_start(%q, L)", userID))
	if !result.Success || len(result.Bindings) == 0 {
		return 1
	}
	next := 1
	for _, row := range result.Bindings {
		if l, ok := row["L"].(int64); ok && int(l) > next {
			next = int(l)
		}
	}
	return next
}

// CanStartNext reports whether the user may start the given level: anything
// up to and including the next unlockable level.
func (p *Policy) CanStartNext(ctx context.Context, userID string, level int) bool {
	if level < 1 {
		return false
	}
	return level <= p.NextLevel(ctx, userID)
}

// AwardCertificate issues a certificate when the certificate rules allow
// it: all levels completed and a clean record.
func (p *Policy) AwardCertificate(ctx context.Context, userID string) (*Certificate, error) {
	result := p.kernel.Query(ctx, fmt.Sprintf("certificate_eligible(%q)", userID))
	if !result.Success {
		return nil, fmt.Errorf("certificate evaluation failed for %s", userID)
	}
	if len(result.Bindings) == 0 {
		return nil, ErrNotEligible
	}

	cert := &Certificate{
		ID:       uuid.NewString(),
		UserID:   userID,
		IssuedAt: p.now(),
	}
	logging.Progress("certificate %s awarded to %s", cert.ID, userID)
	return cert, nil
}
