// Package cmd provides the CLI commands for storysearch.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/backlogic/storysearch/internal/errors"
	"github.com/backlogic/storysearch/internal/logging"
	"github.com/backlogic/storysearch/internal/profiling"
	"github.com/backlogic/storysearch/pkg/version"
)

// runtimeHooks carries the state shared between the persistent pre and
// post hooks: the requested profile outputs and the teardown functions
// for whatever was started.
type runtimeHooks struct {
	cpuPath   string
	memPath   string
	tracePath string
	debug     bool

	profiler  *profiling.Profiler
	stopCPU   func()
	stopTrace func()
	closeLogs func()
}

var hooks = runtimeHooks{profiler: profiling.NewProfiler()}

// NewRootCmd creates the root command for the storysearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storysearch",
		Short: "Hybrid search service for product-backlog stories",
		Long: `Storysearch indexes product-backlog user stories and serves hybrid
search over them: BM25 keyword retrieval and semantic vector retrieval,
fused by a weighted score, deduplicated, and optionally reranked by an
LLM judge.

Typical flow:
  storysearch index stories.jsonl    # build the indexes
  storysearch serve                  # expose the HTTP search API
  storysearch search "login flow"    # one-shot query from the shell`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE:  hooks.start,
		PersistentPostRunE: hooks.stop,
	}

	cmd.SetVersionTemplate("storysearch version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&hooks.cpuPath, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&hooks.memPath, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&hooks.tracePath, "profile-trace", "", "Write execution trace to file")
	pf.BoolVar(&hooks.debug, "debug", false, "Enable debug logging to ~/.storysearch/logs/")

	cmd.AddCommand(
		newServeCmd(),
		newIndexCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newConfigCmd(),
		newLogsCmd(),
		newVersionCmd(),
	)

	return cmd
}

// start runs before every subcommand: debug logging first so profiling
// failures land in the log, then the CPU profile, then the trace.
func (h *runtimeHooks) start(_ *cobra.Command, _ []string) error {
	if h.debug {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		h.closeLogs = cleanup
		slog.SetDefault(logger)
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	var err error
	if h.cpuPath != "" {
		if h.stopCPU, err = h.profiler.StartCPU(h.cpuPath); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}
	if h.tracePath != "" {
		if h.stopTrace, err = h.profiler.StartTrace(h.tracePath); err != nil {
			if h.stopCPU != nil {
				h.stopCPU()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}
	return nil
}

// stop tears down in reverse: profiles stop before the heap snapshot is
// taken, and the debug log closes last so teardown is captured in it.
func (h *runtimeHooks) stop(_ *cobra.Command, _ []string) error {
	if h.stopCPU != nil {
		h.stopCPU()
		h.stopCPU = nil
	}
	if h.stopTrace != nil {
		h.stopTrace()
		h.stopTrace = nil
	}

	if h.memPath != "" {
		if err := h.profiler.WriteHeap(h.memPath); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if h.closeLogs != nil {
		slog.Info("Debug logging stopped")
		h.closeLogs()
		h.closeLogs = nil
	}
	return nil
}

// Execute runs the root command. Structured errors print with their
// hint and code; everything else prints as-is.
func Execute() error {
	root := NewRootCmd()
	root.SilenceErrors = true
	root.SilenceUsage = true

	err := root.Execute()
	if err == nil {
		return nil
	}
	if apperrors.GetCode(err) != "" {
		fmt.Fprint(os.Stderr, apperrors.FormatForCLI(err))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
