package content

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

func TestQuestsLayout(t *testing.T) {
	p := NewProvider()

	for _, world := range types.AllWorlds {
		t.Run(string(world), func(t *testing.T) {
			quests := p.Quests("m1", world, types.DifficultyMedium)
			require.Len(t, quests, QuestsPerMission)

			for i, q := range quests {
				assert.Equal(t, i+1, q.Index)
				assert.Equal(t, world, q.World)
				assert.Equal(t, (i+1)*100, q.BasePoints)
				assert.NotEmpty(t, q.Stem)
				assert.NotEmpty(t, q.Options)
				assert.GreaterOrEqual(t, q.CorrectIndex(), 0, "every quest needs a correct option")
			}

			assert.Equal(t, types.KindRisk, quests[4].Kind)
			assert.Equal(t, fmt.Sprintf("%s_boss_q5", world), quests[4].ChallengeID)
			assert.Equal(t, types.KindRisk, quests[9].Kind)
			assert.Equal(t, fmt.Sprintf("%s_boss_q10", world), quests[9].ChallengeID)
			assert.Equal(t, types.KindTeam, quests[TeamIndex-1].Kind)
			assert.Empty(t, quests[TeamIndex-1].ChallengeID)
		})
	}
}

func TestQuestsDeterministicPerMission(t *testing.T) {
	p := NewProvider()

	a := p.Quests("m1", types.WorldHealth, types.DifficultyEasy)
	b := p.Quests("m1", types.WorldHealth, types.DifficultyEasy)
	assert.Equal(t, a, b, "same mission id yields the same quest set")
}

func TestQuestsUnknownWorldFallsBack(t *testing.T) {
	p := NewProvider()

	quests := p.Quests("m1", types.World("space"), "")
	require.Len(t, quests, QuestsPerMission)
	for _, q := range quests {
		assert.NotEmpty(t, q.Stem)
	}
}

func TestStory(t *testing.T) {
	p := NewProvider()

	story := p.Story(types.WorldFactory)
	assert.Equal(t, "Willkommen in der Fabrik!", story.Briefing)
	assert.Equal(t, "Großartig! Du hast die Mission gemeistert!", story.DebriefSuccess)
	assert.Equal(t, "Nicht aufgeben - versuche es erneut!", story.DebriefFail)
	assert.Equal(t, "Fortsetzung folgt...", story.Cliffhanger)

	// Unknown worlds get the generic narration, never an empty story.
	generic := p.Story(types.World("space"))
	assert.NotEmpty(t, generic.Briefing)
	assert.NotEmpty(t, generic.Cliffhanger)
}
