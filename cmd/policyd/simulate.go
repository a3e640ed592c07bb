package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thoretheking/Junosixteen-sub001/internal/mission"
	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

// simStep is one scripted answer. Answer -1 picks a deliberately wrong
// option; omitting answer picks the correct one.
type simStep struct {
	Answer       *int  `yaml:"answer"`
	ResponseMs   int64 `yaml:"response_ms"`
	Help         bool  `yaml:"help"`
	ChallengeWin bool  `yaml:"challenge_win"`
}

type simScript struct {
	World      string    `yaml:"world"`
	Difficulty string    `yaml:"difficulty"`
	Steps      []simStep `yaml:"steps"`
}

var scriptPath string

var simulateCmd = &cobra.Command{
	Use:   "simulate [user]",
	Short: "Run a scripted mission end to end",
	Long: `Plans a mission and submits each answer per the script, printing the
running score and the final grade. Without --script every answer is
correct, which walks the full risk and team multiplier path.

Script format:

  world: factory
  difficulty: medium
  steps:
    - answer: 2        # option index, -1 = wrong, omitted = correct
      response_ms: 4000
      help: false
      challenge_win: true   # used when a wrong risk answer opens a challenge`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script := simScript{World: world, Difficulty: difficulty}
		if scriptPath != "" {
			data, err := os.ReadFile(scriptPath)
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			if err := yaml.Unmarshal(data, &script); err != nil {
				return fmt.Errorf("failed to parse script: %w", err)
			}
		}
		if script.World == "" {
			script.World = world
		}

		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx := context.Background()
		plan, err := eng.PlanMission(ctx, args[0], types.World(script.World), types.Difficulty(script.Difficulty))
		if err != nil {
			return err
		}
		fmt.Println(plan.Briefing)

		var last *mission.SubmitResult
		for i, quest := range plan.Quests {
			step := simStep{ResponseMs: 4000}
			if i < len(script.Steps) {
				step = script.Steps[i]
			}

			answer := quest.CorrectIndex()
			if step.Answer != nil {
				answer = *step.Answer
				if answer == -1 {
					answer = wrongOption(quest)
				}
			}

			result, err := eng.SubmitAnswer(ctx, plan.HypothesisID, answer, step.ResponseMs, step.Help)
			if err != nil {
				return err
			}

			if result.PendingChallenge != nil {
				fmt.Printf("q%-2d challenge %s: win=%v\n",
					quest.Index, result.PendingChallenge.ChallengeID, step.ChallengeWin)
				result, err = eng.ResolveChallenge(ctx, plan.HypothesisID, step.ChallengeWin)
				if err != nil {
					return err
				}
			}

			fmt.Printf("q%-2d correct=%-5v delta=%-5d points=%-5d lives=%d+%d  %s\n",
				quest.Index, result.Correct, result.ScoreDelta, result.Points,
				result.Lives, result.BonusLives, result.MicroFeedback)

			last = result
			if result.Finished {
				break
			}
		}

		if last != nil && last.Finished {
			if last.Success {
				fmt.Println(plan.DebriefSuccess)
			} else {
				fmt.Println(plan.DebriefFail)
			}
			fmt.Printf("finished: success=%v points=%d grade=%s\n", last.Success, last.Points, last.Grade)
		}
		return nil
	},
}

// wrongOption returns any option index that is not the correct one.
func wrongOption(q types.Quest) int {
	correct := q.CorrectIndex()
	for i := range q.Options {
		if i != correct {
			return i
		}
	}
	return 0
}

func init() {
	simulateCmd.Flags().StringVarP(&scriptPath, "script", "s", "", "path to a YAML mission script")
}
