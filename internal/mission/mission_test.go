package mission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoretheking/Junosixteen-sub001/internal/content"
	"github.com/thoretheking/Junosixteen-sub001/internal/guard"
	"github.com/thoretheking/Junosixteen-sub001/internal/kernel"
	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

func newTestEngine(t *testing.T, policyKernel *kernel.Engine) *Engine {
	t.Helper()
	return NewEngine(content.NewProvider(), guard.New(guard.DefaultConfig()), policyKernel)
}

func submitCorrect(t *testing.T, e *Engine, m *Mission) *SubmitResult {
	t.Helper()
	quest := m.CurrentQuest()
	require.NotNil(t, quest)
	result, err := e.SubmitAnswer(context.Background(), m, quest.CorrectIndex(), 4000, false)
	require.NoError(t, err)
	return result
}

func submitWrong(t *testing.T, e *Engine, m *Mission, responseMs int64) *SubmitResult {
	t.Helper()
	quest := m.CurrentQuest()
	require.NotNil(t, quest)
	wrong := (quest.CorrectIndex() + 1) % len(quest.Options)
	result, err := e.SubmitAnswer(context.Background(), m, wrong, responseMs, false)
	require.NoError(t, err)
	return result
}

func TestPlanComposesTenQuests(t *testing.T) {
	e := newTestEngine(t, nil)
	plan, m := e.Plan("alex", types.WorldFactory, types.DifficultyMedium)

	require.Len(t, plan.Quests, content.QuestsPerMission)
	assert.NotEmpty(t, plan.HypothesisID)
	assert.NotEmpty(t, plan.Briefing)
	assert.Equal(t, LivesStart, m.Lives)
	assert.Equal(t, BonusLivesStart, m.BonusLives)
	assert.Equal(t, 1, m.Index)

	for i, q := range plan.Quests {
		assert.Equal(t, i+1, q.Index)
		assert.Equal(t, (i+1)*100, q.BasePoints)
		switch q.Index {
		case 5, 10:
			assert.Equal(t, types.KindRisk, q.Kind)
			assert.NotEmpty(t, q.ChallengeID)
		case content.TeamIndex:
			assert.Equal(t, types.KindTeam, q.Kind)
		default:
			assert.Equal(t, types.KindStandard, q.Kind)
		}
	}
}

func TestPerfectRunEarnsGold(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldFactory, types.DifficultyMedium)

	var last *SubmitResult
	for i := 1; i <= content.QuestsPerMission; i++ {
		last = submitCorrect(t, e, m)
	}

	require.True(t, last.Finished)
	assert.True(t, last.Success)
	assert.Equal(t, LivesStart, last.Lives)
	// 100+200+300+400 + 500*2 + 600+700+800 + 900*3 + 1000*2
	assert.Equal(t, 8800, last.Points)
	assert.Equal(t, types.GradeGold, last.Grade)
	assert.Equal(t, types.ConvergeRaise, last.ConvergeHint)
}

func TestRiskAndTeamMultipliers(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldIT, types.DifficultyHard)

	for i := 1; i <= 4; i++ {
		result := submitCorrect(t, e, m)
		assert.Equal(t, i*100, result.ScoreDelta)
	}

	result := submitCorrect(t, e, m) // quest 5, risk
	assert.Equal(t, 500*RiskMultiplier, result.ScoreDelta)

	for i := 6; i <= 8; i++ {
		submitCorrect(t, e, m)
	}

	result = submitCorrect(t, e, m) // quest 9, team
	assert.Equal(t, 900*TeamMultiplier, result.ScoreDelta)
}

func TestWrongStandardAnswerCostsLife(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldHealth, "")

	result := submitWrong(t, e, m, 4000)
	assert.False(t, result.Correct)
	assert.Equal(t, 0, result.ScoreDelta)
	assert.Equal(t, LivesStart-1, result.Lives)
	assert.Nil(t, result.PendingChallenge)
	assert.Equal(t, 2, m.Index, "wrong standard answer still advances")
}

func TestOutOfRangeAnswerIsIncorrect(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldHealth, "")

	result, err := e.SubmitAnswer(context.Background(), m, 99, 4000, false)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.Equal(t, LivesStart-1, result.Lives)

	result, err = e.SubmitAnswer(context.Background(), m, -1, 4000, false)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.Equal(t, LivesStart-2, result.Lives)
}

func TestThreeWrongAnswersFailTheMission(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldLegal, "")

	submitWrong(t, e, m, 4000)
	submitWrong(t, e, m, 4000)
	result := submitWrong(t, e, m, 4000)

	require.True(t, result.Finished)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Lives)
	assert.Equal(t, types.GradeFailed, result.Grade)

	_, err := e.SubmitAnswer(context.Background(), m, 0, 4000, false)
	assert.ErrorIs(t, err, ErrMissionFinished)
}

func TestBonusLivesAreConsumedFirst(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldPublic, "")
	m.BonusLives = 1

	result := submitWrong(t, e, m, 4000)
	assert.Equal(t, LivesStart, result.Lives, "regular lives untouched while bonus lives remain")
	assert.Equal(t, 0, result.BonusLives)

	result = submitWrong(t, e, m, 4000)
	assert.Equal(t, LivesStart-1, result.Lives)
}

func TestWrongRiskAnswerOpensChallenge(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldFactory, "")

	for i := 1; i <= 4; i++ {
		submitCorrect(t, e, m)
	}

	quest := m.CurrentQuest()
	require.Equal(t, types.KindRisk, quest.Kind)

	result := submitWrong(t, e, m, 4000)
	require.NotNil(t, result.PendingChallenge)
	assert.Equal(t, quest.ChallengeID, result.PendingChallenge.ChallengeID)
	assert.Equal(t, LivesStart, result.Lives, "no life lost until the challenge resolves")
	assert.Equal(t, 5, m.Index, "no transition until the challenge resolves")

	// Further answers are rejected while the challenge is open.
	_, err := e.SubmitAnswer(context.Background(), m, 0, 4000, false)
	assert.ErrorIs(t, err, ErrChallengePending)
}

func TestChallengeWinSparesLifeAndAdvances(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldFactory, "")

	for i := 1; i <= 4; i++ {
		submitCorrect(t, e, m)
	}
	submitWrong(t, e, m, 4000)

	result, err := e.ResolveChallenge(context.Background(), m, true)
	require.NoError(t, err)
	assert.True(t, result.Correct)
	assert.Equal(t, 0, result.ScoreDelta, "a spared life still forfeits the points")
	assert.Equal(t, LivesStart, result.Lives)
	assert.Equal(t, 6, m.Index)
}

func TestChallengeLossAppliesDeferredTransition(t *testing.T) {
	riskGuard := guard.New(guard.DefaultConfig())
	e := NewEngine(content.NewProvider(), riskGuard, nil)
	_, m := e.Plan("alex", types.WorldFactory, "")

	for i := 1; i <= 4; i++ {
		submitCorrect(t, e, m)
	}
	quest := m.CurrentQuest()
	submitWrong(t, e, m, 4000)

	result, err := e.ResolveChallenge(context.Background(), m, false)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.Equal(t, LivesStart-1, result.Lives)
	assert.Equal(t, 6, m.Index)

	// The risk failure armed the guard cooldown.
	info := riskGuard.Info("alex", quest.ID)
	require.NotNil(t, info)
	assert.NotNil(t, info.LockUntil)
}

func TestLostRiskChallengeForfeitsAllPoints(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldFactory, "")

	for i := 1; i <= 4; i++ {
		submitCorrect(t, e, m)
	}
	require.Equal(t, 1000, m.Points)

	submitWrong(t, e, m, 4000) // opens the boss challenge on quest 5
	result, err := e.ResolveChallenge(context.Background(), m, false)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Points, "a lost risk question resets the whole score")
	assert.Equal(t, 0, m.Points)
	assert.Equal(t, LivesStart-1, result.Lives)

	// The mission continues and points accumulate from zero again.
	result = submitCorrect(t, e, m)
	assert.Equal(t, 600, result.Points)
}

func TestWrongRiskAnswerWithoutChallengeResetsPoints(t *testing.T) {
	e := newTestEngine(t, nil)
	options := []types.QuestOption{
		{ID: "a", Text: "right", Correct: true},
		{ID: "b", Text: "wrong"},
	}
	m := &Mission{
		HypothesisID: "h1",
		UserID:       "alex",
		World:        types.WorldHealth,
		Quests: []types.Quest{
			{ID: "q1", Index: 1, Kind: types.KindStandard, Options: options, BasePoints: 100},
			{ID: "q2", Index: 2, Kind: types.KindRisk, Options: options, BasePoints: 200},
			{ID: "q3", Index: 3, Kind: types.KindStandard, Options: options, BasePoints: 300},
		},
		Index: 1,
		Lives: LivesStart,
	}

	result, err := e.SubmitAnswer(context.Background(), m, 0, 4000, false)
	require.NoError(t, err)
	require.Equal(t, 100, result.Points)

	// Without a challenge id the wrong risk answer applies immediately.
	result, err = e.SubmitAnswer(context.Background(), m, 1, 4000, false)
	require.NoError(t, err)
	assert.Nil(t, result.PendingChallenge)
	assert.Equal(t, 0, result.Points)
	assert.Equal(t, LivesStart-1, result.Lives)
	assert.Equal(t, 3, m.Index)
}

func TestResolveWithoutPendingChallenge(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldFactory, "")

	_, err := e.ResolveChallenge(context.Background(), m, true)
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestGuessPatternSignal(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldHealth, "")

	submitWrong(t, e, m, 500)
	submitWrong(t, e, m, 500)
	result := submitWrong(t, e, m, 500)

	assert.True(t, result.Signals.GuessPattern, "three fast wrong answers look like guessing")
	assert.Equal(t, types.ConvergeLower, result.ConvergeHint)
}

func TestSlowWrongAnswersAreNotGuessing(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldHealth, "")

	submitWrong(t, e, m, 500)
	submitWrong(t, e, m, 8000) // slow answer breaks the fast streak
	result := submitWrong(t, e, m, 500)

	assert.False(t, result.Signals.GuessPattern)
}

func TestFatigueSignalInsideMission(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldHealth, "")
	m.BonusLives = 5 // keep the mission alive long enough to observe fatigue

	submitCorrect(t, e, m)
	submitCorrect(t, e, m)
	submitWrong(t, e, m, 4000)
	submitWrong(t, e, m, 4000)

	quest := m.CurrentQuest()
	require.Equal(t, types.KindRisk, quest.Kind)
	submitWrong(t, e, m, 4000)
	result, err := e.ResolveChallenge(context.Background(), m, false)
	require.NoError(t, err)

	assert.True(t, result.Signals.Fatigue, "three wrong out of the last five")
	assert.Equal(t, -1, result.Signals.DifficultyAdj)
}

func TestRiskMultiplierComesFromScoringRules(t *testing.T) {
	policyKernel, err := kernel.NewEngine(kernel.DefaultConfig())
	require.NoError(t, err)
	defer policyKernel.Close()

	e := newTestEngine(t, policyKernel)
	_, m := e.Plan("alex", types.WorldFactory, "")

	for i := 1; i <= 4; i++ {
		submitCorrect(t, e, m)
	}
	quest := m.CurrentQuest()
	result := submitCorrect(t, e, m)
	assert.Equal(t, 1000, result.ScoreDelta)

	// The success was recorded as a fact for the rule families.
	query := policyKernel.Query(context.Background(), `risk_success("alex", Q)`)
	require.True(t, query.Success)
	require.Len(t, query.Bindings, 1)
	assert.Equal(t, quest.ID, query.Bindings[0]["Q"])
}

func TestWrongAnswersRecordMissedConcepts(t *testing.T) {
	policyKernel, err := kernel.NewEngine(kernel.DefaultConfig())
	require.NoError(t, err)
	defer policyKernel.Close()

	e := newTestEngine(t, policyKernel)
	_, m := e.Plan("alex", types.WorldHealth, "")

	quest := m.CurrentQuest()
	submitWrong(t, e, m, 4000)

	result := policyKernel.Query(context.Background(), `suggest_remedial("alex", C)`)
	require.True(t, result.Success)
	require.Len(t, result.Bindings, 1)
	assert.Equal(t, quest.ID, result.Bindings[0]["C"])
}

func TestHelpUsageIsSticky(t *testing.T) {
	e := newTestEngine(t, nil)
	_, m := e.Plan("alex", types.WorldHealth, "")

	quest := m.CurrentQuest()
	_, err := e.SubmitAnswer(context.Background(), m, quest.CorrectIndex(), 4000, true)
	require.NoError(t, err)
	assert.True(t, m.HelpUsed())

	submitCorrect(t, e, m)
	assert.True(t, m.HelpUsed(), "help usage does not reset between answers")
}

func TestGradeFor(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		lives   int
		points  int
		want    types.Grade
	}{
		{"failed mission", false, 0, 8000, types.GradeFailed},
		{"gold needs full lives and points", true, 3, 5000, types.GradeGold},
		{"rich but damaged is silver", true, 2, 8000, types.GradeSilver},
		{"full lives but short on points", true, 3, 4000, types.GradeSilver},
		{"one life left", true, 1, 8000, types.GradeBronze},
		{"barely made it", true, 1, 500, types.GradeBronze},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GradeFor(tt.success, tt.lives, tt.points))
		})
	}
}
