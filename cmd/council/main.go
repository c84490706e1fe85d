// Command council is the local multi-agent engineering council: a round
// orchestrator that fans a small team of LM seats out against one
// mission, extracts a machine-readable decision per seat, and from round
// two on applies the winning diff and verifies the tree.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"council/internal/config"
	"council/internal/logging"
)

// Version is stamped by the release build.
var Version = "0.9.0"

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger

	// exitCode is what main exits with when Execute itself succeeds.
	// Subcommands raise it to signal contract codes (2..5).
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "council - a local multi-agent engineering council",
	Long: `council runs a small team of LM seats against one mission in rounds:
every seat answers independently, the orchestrator extracts one decision
per seat, repairs the silent ones, ranks a winner, and from round two on
applies the winning diff and verifies the tree.

Every step leaves an artifact under the run directory and an entry in
the tamper-evident evidence ledger. Stop at any time by creating a STOP
file in the repo root, the runs root, or the run's state directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return logging.Initialize(cfg.RunsRoot, logging.Settings{
			DebugMode:  cfg.Logging.DebugMode || verbose,
			Categories: cfg.Logging.Categories,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the council version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("council %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join(".council", "config.yaml"), "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(versionCmd)
}

// emit prints the compact JSON summary every subcommand ends with.
func emit(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "summary: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// summary is the common exit record. Commands with richer output embed
// their own fields instead.
type summary struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
