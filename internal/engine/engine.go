// Package engine composes the policy subsystems into the operation set the
// application calls: mission planning, answer handling, risk attempts,
// difficulty explanations, level unlocks and certificates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thoretheking/Junosixteen-sub001/internal/config"
	"github.com/thoretheking/Junosixteen-sub001/internal/content"
	"github.com/thoretheking/Junosixteen-sub001/internal/guard"
	"github.com/thoretheking/Junosixteen-sub001/internal/history"
	"github.com/thoretheking/Junosixteen-sub001/internal/kernel"
	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
	"github.com/thoretheking/Junosixteen-sub001/internal/mission"
	"github.com/thoretheking/Junosixteen-sub001/internal/progression"
	"github.com/thoretheking/Junosixteen-sub001/internal/types"
	"github.com/thoretheking/Junosixteen-sub001/internal/zpd"
)

// ErrUnknownMission is returned for a hypothesis id with no live mission.
var ErrUnknownMission = errors.New("unknown or finished mission")

// Engine is the top-level policy engine.
type Engine struct {
	cfg         *config.Config
	kernel      *kernel.Engine
	guard       *guard.RiskGuard
	recommender *zpd.Recommender
	missions    *mission.Engine
	progression *progression.Policy
	history     *history.Store
	content     *content.Provider
	watcher     *kernel.PolicyWatcher

	mu     sync.Mutex
	active map[string]*mission.Mission
}

// New builds the engine from configuration.
func New(cfg *config.Config) (*Engine, error) {
	queryTimeout, err := cfg.Kernel.ParseQueryTimeout()
	if err != nil {
		return nil, err
	}
	cooldown, err := cfg.Guard.ParseCooldown()
	if err != nil {
		return nil, err
	}

	k, err := kernel.NewEngine(kernel.Config{
		FactLimit:    cfg.Kernel.FactLimit,
		QueryTimeout: queryTimeout,
		AutoEval:     cfg.Kernel.AutoEval,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		k.Close()
		return nil, fmt.Errorf("history: %w", err)
	}

	riskGuard := guard.New(guard.Config{
		MaxAttempts: cfg.Guard.MaxAttempts,
		Cooldown:    cooldown,
	})
	provider := content.NewProvider()

	e := &Engine{
		cfg:         cfg,
		kernel:      k,
		guard:       riskGuard,
		recommender: zpd.New(),
		missions:    mission.NewEngine(provider, riskGuard, k),
		progression: progression.New(k),
		history:     store,
		content:     provider,
		active:      make(map[string]*mission.Mission),
	}
	return e, nil
}

// StartPolicyWatcher begins hot reloading .mg files from the configured
// policy directory, when one is set.
func (e *Engine) StartPolicyWatcher(ctx context.Context) error {
	if e.cfg.Kernel.PolicyDir == "" {
		return nil
	}
	watcher, err := kernel.NewPolicyWatcher(e.cfg.Kernel.PolicyDir, e.kernel)
	if err != nil {
		return err
	}
	e.watcher = watcher
	return watcher.Start(ctx)
}

// Close releases all resources.
func (e *Engine) Close() error {
	if e.watcher != nil {
		e.watcher.Stop()
	}
	err := e.history.Close()
	if kerr := e.kernel.Close(); err == nil {
		err = kerr
	}
	return err
}

// Kernel exposes the shared kernel for ad-hoc queries and rules.
func (e *Engine) Kernel() *kernel.Engine {
	return e.kernel
}

// PlanMission recommends a difficulty from the user's history and composes
// a new mission. requested may be empty.
func (e *Engine) PlanMission(ctx context.Context, userID string, world types.World, requested types.Difficulty) (*mission.Plan, error) {
	if !world.Valid() {
		return nil, fmt.Errorf("unknown world %q", world)
	}

	snap := e.snapshot(ctx, userID)
	rec := e.recommender.Recommend(ctx, snap, requested)

	plan, m := e.missions.Plan(userID, world, rec.Difficulty)

	e.mu.Lock()
	e.active[plan.HypothesisID] = m
	e.mu.Unlock()
	return plan, nil
}

// snapshot builds the history snapshot, degrading to an empty one when the
// store fails. The recommender treats that as a new user.
func (e *Engine) snapshot(ctx context.Context, userID string) types.HistorySnapshot {
	snap, err := e.history.Snapshot(ctx, userID)
	if err != nil {
		logging.HistoryError("snapshot for %s failed: %v", userID, err)
		return types.HistorySnapshot{UserID: userID}
	}
	return snap
}

// SubmitAnswer routes an answer to the mission identified by hypothesisID.
// When the mission finishes the outcome is recorded in the history store.
func (e *Engine) SubmitAnswer(ctx context.Context, hypothesisID string, answerIndex int, responseMs int64, usedHelp bool) (*mission.SubmitResult, error) {
	m := e.lookup(hypothesisID)
	if m == nil {
		return nil, ErrUnknownMission
	}

	result, err := e.missions.SubmitAnswer(ctx, m, answerIndex, responseMs, usedHelp)
	if err != nil {
		return nil, err
	}
	if result.Finished {
		e.finish(ctx, hypothesisID, m, result)
	}
	return result, nil
}

// ResolveChallenge closes the open boss challenge on a mission.
func (e *Engine) ResolveChallenge(ctx context.Context, hypothesisID string, success bool) (*mission.SubmitResult, error) {
	m := e.lookup(hypothesisID)
	if m == nil {
		return nil, ErrUnknownMission
	}

	result, err := e.missions.ResolveChallenge(ctx, m, success)
	if err != nil {
		return nil, err
	}
	if result.Finished {
		e.finish(ctx, hypothesisID, m, result)
	}
	return result, nil
}

func (e *Engine) lookup(hypothesisID string) *mission.Mission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[hypothesisID]
}

func (e *Engine) finish(ctx context.Context, hypothesisID string, m *mission.Mission, result *mission.SubmitResult) {
	e.mu.Lock()
	delete(e.active, hypothesisID)
	e.mu.Unlock()

	err := e.history.RecordResult(ctx, history.Result{
		UserID:     m.UserID,
		World:      m.World,
		Score:      m.Score(),
		Points:     m.Points,
		Success:    result.Success,
		HelpUsed:   m.HelpUsed(),
		Grade:      result.Grade,
		FinishedAt: time.Now(),
	})
	if err != nil {
		logging.HistoryError("failed to record mission %s: %v", hypothesisID, err)
	}
}

// ExplainDecision returns the ordered difficulty decision trace for the
// user's current history.
func (e *Engine) ExplainDecision(ctx context.Context, userID string, requested types.Difficulty) []zpd.TierCheck {
	return e.recommender.Explain(ctx, e.snapshot(ctx, userID), requested)
}

// RiskAttempt consumes an attempt on a risk question and returns how many
// remain. The guard state is mirrored into the history store.
func (e *Engine) RiskAttempt(ctx context.Context, userID, questionID string) (int, error) {
	remaining, err := e.guard.Attempt(userID, questionID)
	if info := e.guard.Info(userID, questionID); info != nil {
		if serr := e.history.SaveAttempt(ctx, info); serr != nil {
			logging.HistoryError("failed to persist attempt state: %v", serr)
		}
	}
	return remaining, err
}

// RiskAttemptInfo returns a copy of the guard state, or nil.
func (e *Engine) RiskAttemptInfo(userID, questionID string) *guard.AttemptInfo {
	return e.guard.Info(userID, questionID)
}

// ResetRiskAttempts clears the guard state for a question.
func (e *Engine) ResetRiskAttempts(userID, questionID string) {
	e.guard.Reset(userID, questionID)
}

// RecordCompletion marks a level as completed.
func (e *Engine) RecordCompletion(userID string, level int) error {
	return e.progression.RecordCompletion(userID, level)
}

// RecordAllLevelsComplete marks the whole course as completed.
func (e *Engine) RecordAllLevelsComplete(userID string) error {
	return e.progression.RecordAllLevelsComplete(userID)
}

// RecordViolation flags the user's record.
func (e *Engine) RecordViolation(userID string) error {
	return e.progression.RecordViolation(userID)
}

// ClearViolation removes the user's violation flag.
func (e *Engine) ClearViolation(userID string) bool {
	return e.progression.ClearViolation(userID)
}

// CanStartNext reports whether the user may start the given level.
func (e *Engine) CanStartNext(ctx context.Context, userID string, level int) bool {
	return e.progression.CanStartNext(ctx, userID, level)
}

// NextLevel returns the next startable level.
func (e *Engine) NextLevel(ctx context.Context, userID string) int {
	return e.progression.NextLevel(ctx, userID)
}

// AwardCertificate issues a certificate when the rules allow it.
func (e *Engine) AwardCertificate(ctx context.Context, userID string) (*progression.Certificate, error) {
	return e.progression.AwardCertificate(ctx, userID)
}
