package zpd

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoretheking/Junosixteen-sub001/internal/kernel"
	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

func recommend(t *testing.T, snap types.HistorySnapshot, requested types.Difficulty) Recommendation {
	t.Helper()
	return New().Recommend(context.Background(), snap, requested)
}

func TestRecommendBeginner(t *testing.T) {
	rec := recommend(t, types.HistorySnapshot{UserID: "alex", Missions: 1}, "")

	assert.Equal(t, "beginner", rec.Tier)
	assert.Equal(t, types.DifficultyEasy, rec.Difficulty)
	assert.False(t, rec.Fallback)
}

func TestRecommendStruggling(t *testing.T) {
	snap := types.HistorySnapshot{
		UserID:      "alex",
		Missions:    5,
		SuccessRate: 0.4,
		HelpRate:    0.1,
	}
	rec := recommend(t, snap, "")

	assert.Equal(t, "struggling", rec.Tier)
	assert.Equal(t, types.DifficultyEasy, rec.Difficulty)
}

func TestRecommendStrugglingOnHelpRate(t *testing.T) {
	snap := types.HistorySnapshot{
		UserID:      "alex",
		Missions:    5,
		SuccessRate: 0.7,
		HelpRate:    0.5,
	}
	rec := recommend(t, snap, "")

	assert.Equal(t, "struggling", rec.Tier)
}

func TestRecommendFatigued(t *testing.T) {
	snap := types.HistorySnapshot{
		UserID:       "alex",
		Missions:     5,
		SuccessRate:  0.7,
		AvgScore:     0.7,
		HelpRate:     0.1,
		RecentScores: []float64{0.9, 0.9, 0.5, 0.4, 0.3},
	}
	rec := recommend(t, snap, "")

	// Fatigue outranks steady even though the averages look fine.
	assert.Equal(t, "fatigued", rec.Tier)
	assert.Equal(t, types.DifficultyEasy, rec.Difficulty)
}

func TestRecommendSteady(t *testing.T) {
	snap := types.HistorySnapshot{
		UserID:      "alex",
		Missions:    5,
		SuccessRate: 0.7,
		AvgScore:    0.7,
		HelpRate:    0.2,
	}
	rec := recommend(t, snap, "")

	assert.Equal(t, "steady", rec.Tier)
	assert.Equal(t, types.DifficultyMedium, rec.Difficulty)
}

func TestRecommendAdvanced(t *testing.T) {
	snap := types.HistorySnapshot{
		UserID:      "alex",
		Missions:    12,
		SuccessRate: 0.9,
		AvgScore:    0.9,
		HelpRate:    0.05,
	}
	rec := recommend(t, snap, "")

	assert.Equal(t, "advanced", rec.Tier)
	assert.Equal(t, types.DifficultyHard, rec.Difficulty)
}

func TestRecommendMastery(t *testing.T) {
	snap := types.HistorySnapshot{
		UserID:      "alex",
		Missions:    20,
		SuccessRate: 0.75,
		AvgScore:    0.95,
		HelpRate:    0.2,
		Streak:      6,
	}
	rec := recommend(t, snap, "")

	assert.Equal(t, "mastery", rec.Tier)
	assert.Equal(t, types.DifficultyHard, rec.Difficulty)
}

func TestRecommendWorldBaseline(t *testing.T) {
	snap := types.HistorySnapshot{
		UserID:      "alex",
		Missions:    7,
		SuccessRate: 0.85,
		AvgScore:    0.8,
		HelpRate:    0.05,
		World:       types.WorldIT,
	}
	rec := recommend(t, snap, "")

	assert.Equal(t, "world_baseline", rec.Tier)
	assert.Equal(t, types.DifficultyHard, rec.Difficulty, "it world is hard by baseline")
}

func TestRecommendDefaultHonorsRequest(t *testing.T) {
	// Nothing matches: settled user, good but not advanced numbers.
	snap := types.HistorySnapshot{
		UserID:      "alex",
		Missions:    12,
		SuccessRate: 0.85,
		AvgScore:    0.8,
		HelpRate:    0.15,
		Streak:      2,
	}

	rec := recommend(t, snap, types.DifficultyHard)
	assert.Equal(t, "default", rec.Tier)
	assert.Equal(t, types.DifficultyHard, rec.Difficulty)
	assert.False(t, rec.Fallback)

	rec = recommend(t, snap, "")
	assert.Equal(t, "default", rec.Tier)
	assert.Equal(t, types.DifficultyMedium, rec.Difficulty)
}

func TestRecommendFallbackOnKernelFailure(t *testing.T) {
	r := NewWithKernelFactory(func() (*kernel.Engine, error) {
		return nil, errors.New("boom")
	})
	rec := r.Recommend(context.Background(), types.HistorySnapshot{UserID: "alex"}, types.DifficultyEasy)

	assert.True(t, rec.Fallback)
	assert.Equal(t, "default", rec.Tier)
	assert.Equal(t, types.DifficultyEasy, rec.Difficulty)
}

func TestExplainTrace(t *testing.T) {
	trace := New().Explain(context.Background(), types.HistorySnapshot{UserID: "alex", Missions: 1}, "")
	require.Len(t, trace, len(tiers)+1)

	want := []string{"beginner", "struggling", "fatigued", "steady", "advanced", "mastery", "world_baseline", "default"}
	var got []string
	for _, check := range trace {
		got = append(got, check.Tier)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("trace order mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, trace[0].Matched, "beginner should match one mission")
	assert.False(t, trace[len(trace)-1].Matched, "default entry only matches when nothing else did")
}

func TestExplainDefaultMatchesWhenNothingElseDid(t *testing.T) {
	snap := types.HistorySnapshot{
		UserID:      "alex",
		Missions:    12,
		SuccessRate: 0.85,
		AvgScore:    0.8,
		HelpRate:    0.15,
	}
	trace := New().Explain(context.Background(), snap, "")
	require.NotEmpty(t, trace)

	for _, check := range trace[:len(trace)-1] {
		assert.False(t, check.Matched, "tier %s should not match", check.Tier)
	}
	last := trace[len(trace)-1]
	assert.True(t, last.Matched)
	assert.Equal(t, types.DifficultyMedium, last.Difficulty)
}

func TestFatigued(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   bool
	}{
		{"empty", nil, false},
		{"single", []float64{0.2}, false},
		{"flat", []float64{0.8, 0.8, 0.8, 0.8}, false},
		{"improving", []float64{0.3, 0.4, 0.8, 0.9}, false},
		{"collapsing", []float64{0.9, 0.9, 0.5, 0.4, 0.3}, true},
		{"mild dip", []float64{0.9, 0.9, 0.8, 0.8}, false},
		{"only last five count", []float64{0.1, 0.1, 0.9, 0.9, 0.9, 0.9, 0.9}, false},
		{"steep pair", []float64{1.0, 0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fatigued(tt.scores))
		})
	}
}
