package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/thoretheking/Junosixteen-sub001/internal/config"
	"github.com/thoretheking/Junosixteen-sub001/internal/engine"
	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	world      string
	difficulty string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "policyd",
	Short: "policyd - adaptive mission policy engine",
	Long: `policyd drives gamified learning missions: it composes ten-question
missions, scores answers, guards risk questions with attempt limits and
cooldowns, recommends difficulty from the learner's history and decides
level unlocks and certificates.

The decision rules are Datalog (Google Mangle); the state machines around
them are plain Go.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize("."); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the policyd version",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := config.Load(configPath)
		fmt.Printf("policyd %s\n", cfg.Version)
	},
}

// queryCmd runs an ad-hoc Datalog query against the kernel.
var queryCmd = &cobra.Command{
	Use:   "query [goal]",
	Short: "Run a Datalog query against the policy kernel",
	Long: `Evaluates a goal such as 'can_start("alex", L)' against the built-in
rule families and prints the variable bindings as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		result := eng.Kernel().Query(context.Background(), args[0])
		return printJSON(result)
	},
}

// explainCmd prints the difficulty decision trace for a user.
var explainCmd = &cobra.Command{
	Use:   "explain [user]",
	Short: "Explain the difficulty recommendation for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		trace := eng.ExplainDecision(context.Background(), args[0], types.Difficulty(difficulty))
		return printJSON(trace)
	},
}

// planCmd composes a mission and prints the briefing.
var planCmd = &cobra.Command{
	Use:   "plan [user]",
	Short: "Plan a mission for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		plan, err := eng.PlanMission(context.Background(), args[0], types.World(world), types.Difficulty(difficulty))
		if err != nil {
			return err
		}
		return printJSON(plan)
	},
}

// unlockCmd checks whether a user may start a level.
var unlockCmd = &cobra.Command{
	Use:   "unlock [user] [level]",
	Short: "Check whether a user may start a level",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("level must be a number: %w", err)
		}

		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		allowed := eng.CanStartNext(context.Background(), args[0], level)
		fmt.Printf("user %s, level %d: allowed=%v (next startable: %d)\n",
			args[0], level, allowed, eng.NextLevel(context.Background(), args[0]))
		return nil
	},
}

// certifyCmd tries to award a certificate.
var certifyCmd = &cobra.Command{
	Use:   "certify [user]",
	Short: "Award a certificate when the user is eligible",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		cert, err := eng.AwardCertificate(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cert)
	},
}

func buildEngine() (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := eng.StartPolicyWatcher(context.Background()); err != nil {
		logger.Warn("policy watcher not started", zap.Error(err))
	}
	return eng, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "policyd.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVarP(&world, "world", "w", "health", "learning world (health, it, legal, public, factory)")
	rootCmd.PersistentFlags().StringVarP(&difficulty, "difficulty", "d", "", "requested difficulty (easy, medium, hard)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(certifyCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
