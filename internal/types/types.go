// Package types holds the domain types shared across the policy engine
// packages.
package types

// World identifies a learning world.
type World string

const (
	WorldHealth  World = "health"
	WorldIT      World = "it"
	WorldLegal   World = "legal"
	WorldPublic  World = "public"
	WorldFactory World = "factory"
)

// AllWorlds lists the known worlds.
var AllWorlds = []World{WorldHealth, WorldIT, WorldLegal, WorldPublic, WorldFactory}

// Valid reports whether the world is one of the known worlds.
func (w World) Valid() bool {
	for _, known := range AllWorlds {
		if w == known {
			return true
		}
	}
	return false
}

// Difficulty is a quest difficulty level. The zero value means "no
// preference".
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// QuestKind distinguishes standard, risk and team questions.
type QuestKind string

const (
	KindStandard QuestKind = "standard"
	KindRisk     QuestKind = "risk"
	KindTeam     QuestKind = "team"
)

// QuestOption is a single answer option.
type QuestOption struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Quest is one question inside a mission.
type Quest struct {
	ID          string        `json:"id"`
	Index       int           `json:"index"` // 1-based
	World       World         `json:"world"`
	Kind        QuestKind     `json:"kind"`
	Stem        string        `json:"stem"`
	Options     []QuestOption `json:"options"`
	BasePoints  int           `json:"base_points"`
	ChallengeID string        `json:"challenge_id,omitempty"` // boss challenge on wrong risk answer
}

// CorrectIndex returns the index of the correct option, or -1.
func (q Quest) CorrectIndex() int {
	for i, opt := range q.Options {
		if opt.Correct {
			return i
		}
	}
	return -1
}

// Grade is the mission medal.
type Grade string

const (
	GradeFailed Grade = "failed"
	GradeBronze Grade = "bronze"
	GradeSilver Grade = "silver"
	GradeGold   Grade = "gold"
)

// ConvergeHint tells the caller how to steer the next mission.
type ConvergeHint string

const (
	ConvergeRaise ConvergeHint = "raise"
	ConvergeKeep  ConvergeHint = "keep"
	ConvergeLower ConvergeHint = "lower"
)

// HistorySnapshot summarizes a user's past missions for the recommender.
// Rates are fractions in [0, 1]; RecentScores holds up to the last five
// mission scores, oldest first.
type HistorySnapshot struct {
	UserID       string    `json:"user_id"`
	World        World     `json:"world"`
	Missions     int       `json:"missions"`
	SuccessRate  float64   `json:"success_rate"`
	AvgScore     float64   `json:"avg_score"`
	HelpRate     float64   `json:"help_rate"`
	Streak       int       `json:"streak"`
	RecentScores []float64 `json:"recent_scores"`
}
