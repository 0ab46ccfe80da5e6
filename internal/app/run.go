package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/covkit/internal/output"
	"github.com/blackwell-systems/covkit/internal/session"
)

var (
	runFlagHits    string
	runFlagHitsOut string
	runFlagExclude []string
	runFlagBase    string
	runFlagRuntime string
	runFlagID      string
)

var runCmd = &cobra.Command{
	Use:   "run <module> -- COMMAND [ARG...]",
	Short: "Back up modules, run a command, then drain hits and restore",
	Long: `Run one instrumentation session around a command:

  1. Select the module and its sibling binaries, minus --exclude matches
     and modules without a symbol file, and back each one up.
  2. Copy the --runtime binary next to the module, if given.
  3. Run COMMAND. The selected modules may be rewritten in the meantime.
  4. Drain the --hits log, then restore every backed-up module.

Modules are restored even when the command fails. The session identifier is
printed so that a crashed run can be recovered with 'covkit backups restore'.`,
	Example: `  covkit run bin/App.dll --hits bin/App.dll.hits -- dotnet test
  covkit run bin/App.dll --exclude '**/*.Tests.dll' --base bin -- ./run-tests.sh`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlagHits, "hits", "", "Hits log written during the run")
	runCmd.Flags().StringVar(&runFlagHitsOut, "hits-out", "", "Append drained hits to this file instead of discarding them")
	runCmd.Flags().StringArrayVar(&runFlagExclude, "exclude", nil, "Exclusion glob (repeatable)")
	runCmd.Flags().StringVar(&runFlagBase, "base", "", "Directory exclusion globs are relative to (default: the module's directory)")
	runCmd.Flags().StringVar(&runFlagRuntime, "runtime", "", "Tracker runtime binary to copy next to the module")
	runCmd.Flags().StringVar(&runFlagID, "id", "", "Session identifier (default: random UUID)")

	RootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	module := args[0]
	command := args[1:]
	if dash := cmd.ArgsLenAtDash(); dash > 1 {
		return fmt.Errorf("expected a single module before --, got %d arguments", dash)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	base := runFlagBase
	if base == "" {
		base = filepath.Dir(module)
	}

	var progress *output.RestoreProgress
	sess := session.New(session.Deps{
		Scanner:    e.scanner,
		Backups:    e.backups,
		Hits:       e.hits,
		Logger:     logger,
		Identifier: runFlagID,
		OnRestore:  func(m string) { progress.Restoring(m) },
	})

	plan, err := sess.Prepare(module, runFlagExclude, base)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.ErrOrStderr(), output.RenderPlan(plan))
	progress = output.NewRestoreProgress(cmd.ErrOrStderr(), len(plan.Modules))

	var runErr error
	if runFlagRuntime != "" {
		runErr = sess.CopyRuntime(module, runFlagRuntime)
	}
	if runErr == nil {
		runErr = runCommand(cmd, command)
	}

	// Without a sink the hits log is kept so it can be collected later.
	hitsPath := runFlagHits
	consume, closeSink, err := hitsSink()
	if err != nil {
		consume, closeSink = discard, func() error { return nil }
		runErr = errors.Join(runErr, err)
		if hitsPath != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Hits log kept at %s\n", hitsPath)
		}
		hitsPath = ""
	}

	n, finishErr := sess.Finish(plan, hitsPath, consume)
	progress.Done(fmt.Sprintf("Session %s finished: %d module(s) restored, %d hits line(s)", plan.Identifier, progress.Restored(), n))

	return errors.Join(runErr, finishErr, closeSink())
}

func runCommand(cmd *cobra.Command, command []string) error {
	c := exec.CommandContext(cmd.Context(), command[0], command[1:]...)
	c.Stdin = cmd.InOrStdin()
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()

	if err := c.Run(); err != nil {
		return fmt.Errorf("command %s failed: %w", command[0], err)
	}
	return nil
}

func discard(string) error { return nil }

// hitsSink returns the consumer for drained hits lines.
func hitsSink() (func(string) error, func() error, error) {
	if runFlagHitsOut == "" {
		return discard, func() error { return nil }, nil
	}

	f, err := os.OpenFile(runFlagHitsOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open hits output: %w", err)
	}
	consume := func(line string) error {
		_, err := io.WriteString(f, line+"\n")
		return err
	}
	return consume, f.Close, nil
}
