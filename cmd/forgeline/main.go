package main

import (
	"fmt"
	"os"

	"forgeline/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forgeline",
	Short: "forgeline - artifact lineage and acceptance pipeline",
	Long: `forgeline stores versioned, content-addressed artifacts and decides
which of them become part of the live system.

Every artifact enters as pending and passes through a fixed gate sequence:
policy validation, ethics check, sandboxed execution, and lineage
verification. Accepted artifacts are recorded in the provenance ledger and
the relationship graph; rejected ones keep the failing gate's reason.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize file logging: %w", err)
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

// submitCmd stores a file as a pending artifact
var submitCmd = &cobra.Command{
	Use:   "submit [name] [file]",
	Short: "Store a file as a pending artifact",
	Long: `Reads the file and stores its content as a new pending artifact.
The artifact waits for the next acceptance cycle.

Example:
  forgeline submit parser ./parser.go --kind code`,
	Args: cobra.ExactArgs(2),
	RunE: runSubmit,
}

// cycleCmd runs one acceptance pass
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one acceptance cycle over all pending artifacts",
	RunE:  runCycle,
}

// daemonCmd runs the acceptance daemon
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the acceptance daemon until interrupted",
	Long: `Starts the background acceptance worker and, when configured, the
drop-directory ingestion watcher. Stops cleanly on SIGINT/SIGTERM; an
in-flight cycle always completes first.`,
	RunE: runDaemon,
}

// generateCmd produces a candidate artifact from an intent
var generateCmd = &cobra.Command{
	Use:   "generate [name] [intent]",
	Short: "Generate candidate content and store it as pending",
	Long: `Runs the generation coordinator: ethics check, backend fallback
with retries, policy pre-screen, then stores the winning candidate as a
pending artifact.

Example:
  forgeline generate sorter "a function that sorts versions"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runGenerate,
}

// historyCmd prints the version chain of a name
var historyCmd = &cobra.Command{
	Use:   "history [name]",
	Short: "Show the version chain for an artifact name, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

// dagCmd prints the ancestry DAG of an artifact
var dagCmd = &cobra.Command{
	Use:   "dag [artifact-id]",
	Short: "Show the lineage DAG reachable backward from an artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runDAG,
}

// exportGraphCmd writes the relationship graph to a JSON file
var exportGraphCmd = &cobra.Command{
	Use:   "export-graph [path]",
	Short: "Export the relationship graph as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportGraph,
}

// statsCmd prints store and pipeline statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store table counts and artifact status totals",
	RunE:  runStats,
}

var (
	submitKind    string
	submitCreator string
	submitParent  string
	dagDepth      int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default <workspace>/.forgeline/config.yaml)")

	submitCmd.Flags().StringVar(&submitKind, "kind", "code", "artifact kind: code, scroll, or record")
	submitCmd.Flags().StringVar(&submitCreator, "creator", "cli", "creator recorded on the artifact")
	submitCmd.Flags().StringVar(&submitParent, "parent", "", "parent artifact id")
	dagCmd.Flags().IntVar(&dagDepth, "depth", 10, "maximum traversal depth")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(dagCmd)
	rootCmd.AddCommand(exportGraphCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
