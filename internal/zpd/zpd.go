// Package zpd recommends quest difficulty from a user's mission history.
// The tiers live as Datalog rules in the kernel; this package asserts the
// history snapshot as facts, checks the tiers in priority order and falls
// back silently when evaluation is not possible.
package zpd

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/thoretheking/Junosixteen-sub001/internal/kernel"
	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

// TierCheck is one entry of the decision trace, in evaluation order.
type TierCheck struct {
	Tier       string           `json:"tier"`
	Predicate  string           `json:"predicate"`
	Matched    bool             `json:"matched"`
	Difficulty types.Difficulty `json:"difficulty,omitempty"`
	Reason     string           `json:"reason"`
}

// Recommendation is the recommender's verdict.
type Recommendation struct {
	Difficulty types.Difficulty `json:"difficulty"`
	Tier       string           `json:"tier"`
	Reason     string           `json:"reason"`
	Fallback   bool             `json:"fallback"`
	Trace      []TierCheck      `json:"trace"`
}

type tierDef struct {
	name      string
	predicate string
	// fixed difficulty; empty means the difficulty comes from a binding
	difficulty types.Difficulty
	reason     string
}

// Tier priority, first match wins.
var tiers = []tierDef{
	{"beginner", "zpd_beginner", types.DifficultyEasy, "fewer than 3 missions completed"},
	{"struggling", "zpd_struggling", types.DifficultyEasy, "low success rate or high help usage"},
	{"fatigued", "zpd_fatigued", types.DifficultyEasy, "recent scores trend sharply downward"},
	{"steady", "zpd_steady", types.DifficultyMedium, "consistent mid-range performance"},
	{"advanced", "zpd_advanced", types.DifficultyHard, "strong performance with little help"},
	{"mastery", "zpd_mastery", types.DifficultyHard, "sustained excellence and streak"},
	{"world_baseline", "zpd_world_baseline", "", "world baseline for settled users"},
}

// Recommender evaluates the difficulty tiers for a history snapshot.
// Every evaluation runs against a fresh kernel so snapshots never bleed
// into each other.
type Recommender struct {
	newKernel func() (*kernel.Engine, error)
}

// New returns a Recommender backed by the built-in policies.
func New() *Recommender {
	return &Recommender{
		newKernel: func() (*kernel.Engine, error) {
			return kernel.NewEngine(kernel.DefaultConfig())
		},
	}
}

// NewWithKernelFactory is New with a custom kernel constructor, for tests.
func NewWithKernelFactory(factory func() (*kernel.Engine, error)) *Recommender {
	return &Recommender{newKernel: factory}
}

// Recommend picks a difficulty for the snapshot. requested is the caller's
// preference and only wins when no tier matches. Recommend never fails: a
// broken evaluation degrades to the default tier.
func (r *Recommender) Recommend(ctx context.Context, snap types.HistorySnapshot, requested types.Difficulty) Recommendation {
	trace, err := r.evaluate(ctx, snap)
	if err != nil {
		logging.ZPDWarn("recommender fallback for %s: %v", snap.UserID, err)
		rec := defaultRecommendation(requested, nil)
		rec.Fallback = true
		return rec
	}

	for _, check := range trace {
		if check.Matched {
			rec := Recommendation{
				Difficulty: check.Difficulty,
				Tier:       check.Tier,
				Reason:     check.Reason,
				Trace:      trace,
			}
			logging.ZPD("recommend %s for %s (tier %s)", rec.Difficulty, snap.UserID, rec.Tier)
			return rec
		}
	}
	return defaultRecommendation(requested, trace)
}

// Explain returns the full ordered decision trace, including the default
// tier that applies when nothing above it matched.
func (r *Recommender) Explain(ctx context.Context, snap types.HistorySnapshot, requested types.Difficulty) []TierCheck {
	trace, err := r.evaluate(ctx, snap)
	if err != nil {
		logging.ZPDWarn("explain fallback for %s: %v", snap.UserID, err)
		trace = nil
	}

	matched := false
	for _, check := range trace {
		matched = matched || check.Matched
	}
	def := defaultRecommendation(requested, nil)
	trace = append(trace, TierCheck{
		Tier:       def.Tier,
		Predicate:  "",
		Matched:    !matched,
		Difficulty: def.Difficulty,
		Reason:     def.Reason,
	})
	return trace
}

func defaultRecommendation(requested types.Difficulty, trace []TierCheck) Recommendation {
	difficulty := requested
	reason := "requested difficulty honored"
	if difficulty == "" {
		difficulty = types.DifficultyMedium
		reason = "no signal, defaulting to medium"
	}
	return Recommendation{
		Difficulty: difficulty,
		Tier:       "default",
		Reason:     reason,
		Trace:      trace,
	}
}

// evaluate asserts the snapshot into a fresh kernel and checks every tier
// concurrently. The returned trace is in priority order.
func (r *Recommender) evaluate(ctx context.Context, snap types.HistorySnapshot) ([]TierCheck, error) {
	eng, err := r.newKernel()
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	defer eng.Close()

	if err := assertSnapshot(eng, snap); err != nil {
		return nil, fmt.Errorf("assert history: %w", err)
	}

	trace := make([]TierCheck, len(tiers))
	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range tiers {
		g.Go(func() error {
			check := TierCheck{
				Tier:       tier.name,
				Predicate:  tier.predicate,
				Difficulty: tier.difficulty,
				Reason:     tier.reason,
			}

			var goal string
			if tier.difficulty == "" {
				goal = fmt.Sprintf("%s(%q, D)", tier.predicate, snap.UserID)
			} else {
				goal = fmt.Sprintf("%s(%q)", tier.predicate, snap.UserID)
			}

			result := eng.Query(gctx, goal)
			if !result.Success {
				return fmt.Errorf("tier %s evaluation failed", tier.name)
			}
			if len(result.Bindings) > 0 {
				check.Matched = true
				if tier.difficulty == "" {
					if d, ok := result.Bindings[0]["D"].(string); ok {
						check.Difficulty = types.Difficulty(d)
					} else {
						check.Matched = false
					}
				}
			}
			trace[i] = check
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trace, nil
}

func assertSnapshot(eng *kernel.Engine, snap types.HistorySnapshot) error {
	facts := []kernel.Fact{
		{ID: "zpd:missions", Predicate: "mission_count", Args: []interface{}{snap.UserID, snap.Missions}},
		{ID: "zpd:success", Predicate: "success_rate_pm", Args: []interface{}{snap.UserID, permille(snap.SuccessRate)}},
		{ID: "zpd:avg", Predicate: "avg_score_pm", Args: []interface{}{snap.UserID, permille(snap.AvgScore)}},
		{ID: "zpd:help", Predicate: "help_rate_pm", Args: []interface{}{snap.UserID, permille(snap.HelpRate)}},
		{ID: "zpd:streak", Predicate: "streak", Args: []interface{}{snap.UserID, snap.Streak}},
	}
	if snap.World.Valid() {
		facts = append(facts, kernel.Fact{
			ID: "zpd:world", Predicate: "world", Args: []interface{}{snap.UserID, string(snap.World)},
		})
	}
	if Fatigued(snap.RecentScores) {
		facts = append(facts, kernel.Fact{
			ID: "zpd:fatigued", Predicate: "fatigued", Args: []interface{}{snap.UserID},
		})
	}

	_, err := eng.AddFacts(facts)
	return err
}

// Fatigued reports a downward trend: the average of the later half of the
// recent scores dropping below 80% of the earlier half. Fewer than two
// scores never count as fatigue.
func Fatigued(recent []float64) bool {
	if len(recent) < 2 {
		return false
	}
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	mid := len(recent) / 2
	earlier := mean(recent[:mid])
	later := mean(recent[mid:])
	return later < 0.8*earlier
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func permille(rate float64) int {
	return int(math.Round(rate * 1000))
}
