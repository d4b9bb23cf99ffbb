package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatvault/chatvault/internal/checkpoint"
	"github.com/chatvault/chatvault/internal/store"
)

var (
	// Global flags
	outputFormat  string
	dbPath        string
	checkpointDir string
	verbose       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatvault",
	Short: "Archive conversations from chat platforms into a local vault",
	Long: `ChatVault imports conversation history from chat platforms into a local
SQLite archive with stable, platform-independent identifiers.

The tool has three main modes:
  - import: Run a full or filtered import of a platform's history
  - sync: Incrementally import everything newer than the last sync
  - sessions: Inspect, resume, or discard interrupted import sessions

Imports are checkpointed: an interrupted run can be resumed without
re-fetching conversations that already finished.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, jsonl)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.chatvault/chatvault.db)")
	rootCmd.PersistentFlags().StringVar(&checkpointDir, "checkpoint-dir", "", "Checkpoint directory (default: ~/.chatvault/checkpoints)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// OutputJSON writes JSON to stdout with optional pretty printing
func OutputJSON(data interface{}) error {
	var output []byte
	var err error

	if outputFormat == "json" {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	fmt.Println(string(output))
	return nil
}

// OutputError writes error message to stderr
func OutputError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// openDatabase opens the archive database at the configured path.
func openDatabase() (*store.DB, error) {
	path := dbPath
	if path == "" {
		path = store.DefaultPath()
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// openCheckpoints opens the checkpoint store at the configured directory.
func openCheckpoints(log *zap.Logger) *checkpoint.Store {
	dir := checkpointDir
	if dir == "" {
		dir = checkpoint.DefaultDir()
	}
	return checkpoint.NewStore(dir, log)
}

// buildLogger constructs the session logger. Log output goes to stderr so
// stdout stays clean for --format json consumers.
func buildLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
