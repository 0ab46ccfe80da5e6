package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/covkit/internal/config"
	"github.com/blackwell-systems/covkit/internal/logging"
)

var (
	configPath string
	dbPath     string
	logLevel   string

	cfg    *config.Config
	logger = zerolog.Nop()

	// RootCmd is the root command for covkit
	RootCmd = &cobra.Command{
		Use:   "covkit",
		Short: "Back up, run and restore modules around coverage instrumentation",
		Long: `covkit prepares compiled modules for coverage instrumentation and puts
them back afterwards.

It finds the sibling binaries a module depends on, checks which of them
carry a symbol file, resolves exclusion globs, backs modules up before they
are rewritten and restores them when the test run ends, retrying while other
processes still hold the files. The hits log written during the run is read
and removed the same way.

Backups are tracked in a SQLite ledger so that modules left behind by a
crashed run can be listed, restored or cleaned by identifier.

Examples:
  # Show a module's dependencies and their symbol files
  covkit deps bin/App.dll

  # Back up, run the tests, drain hits and restore
  covkit run bin/App.dll --hits bin/App.dll.hits -- dotnet test

  # Recover after a crash
  covkit backups list --id 3f2c...
  covkit backups restore --id 3f2c...`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/covkit/covkit.yaml)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "ledger database path (default: ~/.covkit/covkit.db)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// setup loads configuration and builds the logger before any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
		if err := loaded.Validate(); err != nil {
			return err
		}
	}
	cfg = loaded

	logger = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// getDBPath returns the ledger path, using the flag value or the configured
// path. An empty result means the ledger is disabled.
func getDBPath() (string, error) {
	path := dbPath
	if path == "" && cfg != nil {
		path = cfg.Ledger.Path
	}
	if path == "" || path == ":memory:" {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return path, nil
}
