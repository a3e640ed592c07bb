// Package mission runs the ten-question mission state machine: lives,
// scoring, risk and team questions, the boss-challenge protocol and the
// final grade.
package mission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/thoretheking/Junosixteen-sub001/internal/content"
	"github.com/thoretheking/Junosixteen-sub001/internal/guard"
	"github.com/thoretheking/Junosixteen-sub001/internal/kernel"
	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

// Starting resources and score multipliers.
const (
	LivesStart      = 3
	BonusLivesStart = 0
	RiskMultiplier  = 2
	TeamMultiplier  = 3

	// Grade thresholds.
	GoldPoints   = 5000
	SilverPoints = 3000

	// Answers faster than this on a wrong streak look like guessing.
	guessResponseMs = 2000
)

var (
	// ErrMissionFinished rejects answers on a finished mission.
	ErrMissionFinished = errors.New("mission already finished")
	// ErrChallengePending rejects answers while a boss challenge is open.
	ErrChallengePending = errors.New("challenge resolution pending")
	// ErrNoPendingChallenge rejects a resolution without an open challenge.
	ErrNoPendingChallenge = errors.New("no challenge pending")
)

// Mission is the live state of one mission run.
type Mission struct {
	HypothesisID string           `json:"hypothesis_id"`
	UserID       string           `json:"user_id"`
	World        types.World      `json:"world"`
	Difficulty   types.Difficulty `json:"difficulty"`
	Quests       []types.Quest    `json:"quests"`
	Index        int              `json:"index"` // 1-based, next quest to answer
	Lives        int              `json:"lives"`
	BonusLives   int              `json:"bonus_lives"`
	Points       int              `json:"points"`
	Finished     bool             `json:"finished"`
	Success      bool             `json:"success"`

	pending         *ChallengeInfo
	helpUsed        bool
	answered        int
	correctCount    int
	wrongStreak     int
	fastWrongStreak int
	recentCorrect   []bool
}

// Plan is the briefing handed to the client before the mission starts.
type Plan struct {
	HypothesisID   string        `json:"hypothesis_id"`
	Quests         []types.Quest `json:"quest_set"`
	Briefing       string        `json:"briefing"`
	DebriefSuccess string        `json:"debrief_success"`
	DebriefFail    string        `json:"debrief_fail"`
	Cliffhanger    string        `json:"cliffhanger"`
}

// ChallengeInfo describes an open boss challenge.
type ChallengeInfo struct {
	ChallengeID string `json:"challenge_id"`
	QuestID     string `json:"quest_id"`
	QuestIndex  int    `json:"quest_index"`
}

// Signals are the adaptive telemetry derived from answer behavior.
type Signals struct {
	DifficultyAdj int  `json:"difficulty_adj"` // -1 lower, 0 keep, +1 raise
	Fatigue       bool `json:"fatigue"`
	GuessPattern  bool `json:"guess_pattern"`
}

// SubmitResult is the outcome of one answer (or challenge resolution).
type SubmitResult struct {
	Correct          bool               `json:"correct"`
	ScoreDelta       int                `json:"score_delta"`
	Lives            int                `json:"lives"`
	BonusLives       int                `json:"bonus_lives"`
	Points           int                `json:"points"`
	MicroFeedback    string             `json:"micro_feedback"`
	Signals          Signals            `json:"signals"`
	ConvergeHint     types.ConvergeHint `json:"converge_hint"`
	PendingChallenge *ChallengeInfo     `json:"pending_challenge,omitempty"`
	Finished         bool               `json:"finished"`
	Success          bool               `json:"success"`
	Grade            types.Grade        `json:"grade,omitempty"`
}

// Engine drives missions. The kernel records risk successes and missed
// concepts so the rule families see the same events the state machine does.
type Engine struct {
	content *content.Provider
	guard   *guard.RiskGuard
	kernel  *kernel.Engine
}

// NewEngine wires the mission engine. kernel may be nil in tests that only
// exercise the state machine.
func NewEngine(provider *content.Provider, riskGuard *guard.RiskGuard, policyKernel *kernel.Engine) *Engine {
	return &Engine{content: provider, guard: riskGuard, kernel: policyKernel}
}

// Plan composes a new mission for the user. The returned Mission is the
// mutable state the caller feeds back into SubmitAnswer.
func (e *Engine) Plan(userID string, world types.World, difficulty types.Difficulty) (*Plan, *Mission) {
	hypothesisID := uuid.NewString()
	quests := e.content.Quests(hypothesisID, world, difficulty)
	story := e.content.Story(world)

	m := &Mission{
		HypothesisID: hypothesisID,
		UserID:       userID,
		World:        world,
		Difficulty:   difficulty,
		Quests:       quests,
		Index:        1,
		Lives:        LivesStart,
		BonusLives:   BonusLivesStart,
	}

	logging.Mission("planned mission %s for %s (world %s, difficulty %s)", hypothesisID, userID, world, difficulty)

	return &Plan{
		HypothesisID:   hypothesisID,
		Quests:         quests,
		Briefing:       story.Briefing,
		DebriefSuccess: story.DebriefSuccess,
		DebriefFail:    story.DebriefFail,
		Cliffhanger:    story.Cliffhanger,
	}, m
}

// CurrentQuest returns the quest the next answer applies to, or nil.
func (m *Mission) CurrentQuest() *types.Quest {
	if m.Finished || m.Index < 1 || m.Index > len(m.Quests) {
		return nil
	}
	return &m.Quests[m.Index-1]
}

// SubmitAnswer applies one answer. Any out-of-range answer index counts as
// incorrect. A wrong answer on a quest that carries a boss challenge opens
// the challenge instead of transitioning; resolve it with ResolveChallenge.
func (e *Engine) SubmitAnswer(ctx context.Context, m *Mission, answerIndex int, responseMs int64, usedHelp bool) (*SubmitResult, error) {
	if m.Finished {
		return nil, ErrMissionFinished
	}
	if m.pending != nil {
		return nil, ErrChallengePending
	}

	quest := m.CurrentQuest()
	if quest == nil {
		return nil, ErrMissionFinished
	}

	if usedHelp {
		m.helpUsed = true
	}

	correct := answerIndex == quest.CorrectIndex() && answerIndex >= 0

	if !correct && quest.ChallengeID != "" {
		m.pending = &ChallengeInfo{
			ChallengeID: quest.ChallengeID,
			QuestID:     quest.ID,
			QuestIndex:  quest.Index,
		}
		logging.Mission("mission %s: wrong answer on %s, challenge %s opened", m.HypothesisID, quest.ID, quest.ChallengeID)
		result := e.buildResult(m, false, 0)
		result.PendingChallenge = m.pending
		return result, nil
	}

	var delta int
	if correct {
		delta = e.applyCorrect(ctx, m, quest)
	} else {
		e.applyIncorrect(ctx, m, quest)
	}
	e.trackAnswer(m, correct, responseMs)
	m.advance()

	return e.buildResult(m, correct, delta), nil
}

// ResolveChallenge closes an open boss challenge. Success spares the life
// and advances; failure applies the wrong-answer transition it deferred.
func (e *Engine) ResolveChallenge(ctx context.Context, m *Mission, success bool) (*SubmitResult, error) {
	if m.Finished {
		return nil, ErrMissionFinished
	}
	if m.pending == nil {
		return nil, ErrNoPendingChallenge
	}

	pending := m.pending
	m.pending = nil
	quest := m.CurrentQuest()
	if quest == nil || quest.ID != pending.QuestID {
		return nil, fmt.Errorf("challenge %s does not match current quest", pending.ChallengeID)
	}

	if success {
		logging.Mission("mission %s: challenge %s won, life spared", m.HypothesisID, pending.ChallengeID)
		e.trackAnswer(m, true, 0)
		m.advance()
		return e.buildResult(m, true, 0), nil
	}

	logging.Mission("mission %s: challenge %s lost", m.HypothesisID, pending.ChallengeID)
	e.applyIncorrect(ctx, m, quest)
	e.trackAnswer(m, false, 0)
	m.advance()
	return e.buildResult(m, false, 0), nil
}

// applyCorrect scores a correct answer and returns the points delta.
func (e *Engine) applyCorrect(ctx context.Context, m *Mission, quest *types.Quest) int {
	multiplier := 1
	switch quest.Kind {
	case types.KindRisk:
		multiplier = e.riskMultiplier(ctx, m.UserID, quest.ID)
	case types.KindTeam:
		multiplier = TeamMultiplier
	}
	delta := quest.BasePoints * multiplier
	m.Points += delta
	return delta
}

// riskMultiplier records the risk success and asks the scoring rules for
// the multiplier. The rule family is the source of truth; the constant is
// only the degraded path when no kernel is attached.
func (e *Engine) riskMultiplier(ctx context.Context, userID, questID string) int {
	if e.kernel == nil {
		return RiskMultiplier
	}

	factID := fmt.Sprintf("risk_success:%s:%s", userID, questID)
	if _, err := e.kernel.AddFact(kernel.Fact{
		ID:        factID,
		Predicate: "risk_success",
		Args:      []interface{}{userID, questID},
	}); err != nil {
		logging.Get(logging.CategoryMission).Warn("risk_success fact rejected: %v", err)
		return RiskMultiplier
	}

	result := e.kernel.Query(ctx, fmt.Sprintf("score_multiplier(%q, %q, M)", userID, questID))
	if result.Success && len(result.Bindings) > 0 {
		if mult, ok := result.Bindings[0]["M"].(int64); ok && mult > 0 {
			return int(mult)
		}
	}
	return RiskMultiplier
}

// applyIncorrect applies the wrong-answer transition for the quest kind.
func (e *Engine) applyIncorrect(ctx context.Context, m *Mission, quest *types.Quest) {
	if quest.Kind == types.KindRisk {
		// Wrong risk answers wipe every point earned so far and arm the
		// cooldown on top of the lost life.
		m.Points = 0
		if e.guard != nil {
			e.guard.Fail(m.UserID, quest.ID)
		}
	}
	m.loseLife()
	e.recordMissedConcept(m.UserID, quest)
}

func (e *Engine) recordMissedConcept(userID string, quest *types.Quest) {
	if e.kernel == nil {
		return
	}
	factID := fmt.Sprintf("missed:%s:%s", userID, quest.ID)
	if _, err := e.kernel.AddFact(kernel.Fact{
		ID:        factID,
		Predicate: "missed_concept",
		Args:      []interface{}{userID, quest.ID},
	}); err != nil {
		logging.Get(logging.CategoryMission).Warn("missed_concept fact rejected: %v", err)
	}
}

func (m *Mission) loseLife() {
	if m.BonusLives > 0 {
		m.BonusLives--
		return
	}
	m.Lives--
}

func (m *Mission) advance() {
	m.Index++
	if m.Lives+m.BonusLives <= 0 {
		m.Finished = true
		m.Success = false
		return
	}
	if m.Index > len(m.Quests) {
		m.Finished = true
		m.Success = m.Lives+m.BonusLives > 0
	}
}

func (e *Engine) trackAnswer(m *Mission, correct bool, responseMs int64) {
	m.answered++
	if correct {
		m.correctCount++
		m.wrongStreak = 0
		m.fastWrongStreak = 0
	} else {
		m.wrongStreak++
		if responseMs > 0 && responseMs < guessResponseMs {
			m.fastWrongStreak++
		} else {
			m.fastWrongStreak = 0
		}
	}
	m.recentCorrect = append(m.recentCorrect, correct)
	if len(m.recentCorrect) > 5 {
		m.recentCorrect = m.recentCorrect[1:]
	}
}

func (e *Engine) buildResult(m *Mission, correct bool, delta int) *SubmitResult {
	signals := m.signals()
	hint := m.convergeHint(signals)

	result := &SubmitResult{
		Correct:       correct,
		ScoreDelta:    delta,
		Lives:         m.Lives,
		BonusLives:    m.BonusLives,
		Points:        m.Points,
		MicroFeedback: microFeedback(correct),
		Signals:       signals,
		ConvergeHint:  hint,
		Finished:      m.Finished,
		Success:       m.Success,
	}
	if m.Finished {
		result.Grade = GradeFor(m.Success, m.Lives+m.BonusLives, m.Points)
		logging.Mission("mission %s finished: success=%v grade=%s points=%d", m.HypothesisID, m.Success, result.Grade, m.Points)
	}
	return result
}

// signals derives the adaptive telemetry from the answer history so far.
func (m *Mission) signals() Signals {
	guess := m.fastWrongStreak >= 3

	// Fatigue inside a mission: the recent answers are mostly wrong after
	// a reasonable sample.
	fatigue := false
	if m.answered >= 5 {
		wrong := 0
		for _, ok := range m.recentCorrect {
			if !ok {
				wrong++
			}
		}
		fatigue = wrong >= 3
	}

	adj := 0
	score := m.runningScore()
	switch {
	case score > 0.85 && !fatigue && !guess:
		adj = 1
	case score < 0.55 || fatigue:
		adj = -1
	}

	return Signals{DifficultyAdj: adj, Fatigue: fatigue, GuessPattern: guess}
}

// HelpUsed reports whether any answer in this mission used a help option.
func (m *Mission) HelpUsed() bool {
	return m.helpUsed
}

// Score returns the fraction of answered questions that were correct.
func (m *Mission) Score() float64 {
	return m.runningScore()
}

func (m *Mission) runningScore() float64 {
	if m.answered == 0 {
		return 1
	}
	return float64(m.correctCount) / float64(m.answered)
}

func (m *Mission) convergeHint(signals Signals) types.ConvergeHint {
	score := m.runningScore()
	switch {
	case score > 0.85 && !signals.Fatigue && !signals.GuessPattern:
		return types.ConvergeRaise
	case score < 0.55 || signals.Fatigue:
		return types.ConvergeLower
	default:
		return types.ConvergeKeep
	}
}

func microFeedback(correct bool) string {
	if correct {
		return "Stark! Weiter so!"
	}
	return "Knapp daneben - beim nächsten Mal klappt es!"
}

// GradeFor computes the medal from the final mission state. It is a pure
// function of success, remaining lives (including bonus) and points.
func GradeFor(success bool, livesRemaining, points int) types.Grade {
	if !success {
		return types.GradeFailed
	}
	if livesRemaining >= LivesStart && points >= GoldPoints {
		return types.GradeGold
	}
	if livesRemaining >= 2 && points >= SilverPoints {
		return types.GradeSilver
	}
	return types.GradeBronze
}
