package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/covkit/internal/output"
	"github.com/blackwell-systems/covkit/internal/store"
)

var (
	backupFlagID   string
	restoreFlagID  string
	backupsFlagID  string
	backupsFlagAll bool
)

var backupCmd = &cobra.Command{
	Use:   "backup <module>",
	Short: "Back up a module before it is rewritten",
	Long: `Copy the module to <backup.dir>/<name>_<id><ext>. The copy's checksum is
recorded in the ledger and checked when the module is restored.

An existing backup for the same module and identifier is never overwritten.`,
	Example: `  covkit backup bin/App.dll --id run42`,
	Args:    cobra.ExactArgs(1),
	RunE:    runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <module>",
	Short: "Restore a module from its backup",
	Long: `Copy the backup back over the module and delete the backup, retrying while
the module is locked by another process.`,
	Example: `  covkit restore bin/App.dll --id run42`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRestore,
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Inspect and recover backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups recorded in the ledger",
	Example: `  covkit backups list
  covkit backups list --id run42
  covkit backups list --all`,
	Args: cobra.NoArgs,
	RunE: runBackupsList,
}

var backupsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete leftover backups for an identifier without restoring",
	Example: `  covkit backups clean --id run42`,
	Args:    cobra.NoArgs,
	RunE:    runBackupsClean,
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore every leftover backup for an identifier",
	Long: `Restore every backup left on disk for an identifier, typically after a run
crashed before it could restore its modules. Each backup's module is looked
up in the ledger.`,
	Example: `  covkit backups restore --id run42`,
	Args:    cobra.NoArgs,
	RunE:    runBackupsRestore,
}

func init() {
	backupCmd.Flags().StringVar(&backupFlagID, "id", "", "Backup identifier (required)")
	backupCmd.MarkFlagRequired("id")
	restoreCmd.Flags().StringVar(&restoreFlagID, "id", "", "Backup identifier (required)")
	restoreCmd.MarkFlagRequired("id")

	backupsListCmd.Flags().StringVar(&backupsFlagID, "id", "", "Only show backups with this identifier")
	backupsListCmd.Flags().BoolVar(&backupsFlagAll, "all", false, "Include restored and discarded backups")
	backupsCleanCmd.Flags().StringVar(&backupsFlagID, "id", "", "Backup identifier (required)")
	backupsCleanCmd.MarkFlagRequired("id")
	backupsRestoreCmd.Flags().StringVar(&backupsFlagID, "id", "", "Backup identifier (required)")
	backupsRestoreCmd.MarkFlagRequired("id")

	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsCleanCmd)
	backupsCmd.AddCommand(backupsRestoreCmd)

	RootCmd.AddCommand(backupCmd)
	RootCmd.AddCommand(restoreCmd)
	RootCmd.AddCommand(backupsCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.backups.Backup(args[0], backupFlagID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backed up %s to %s\n", args[0], e.backups.Path(args[0], backupFlagID))
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.backups.Restore(args[0], restoreFlagID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", args[0])
	return nil
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ledger, err := e.requireLedger()
	if err != nil {
		return err
	}

	status := store.StatusPending
	if backupsFlagAll {
		status = ""
	}
	backups, err := ledger.ListBackups(backupsFlagID, status)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderBackupTable(backups))
	return nil
}

func runBackupsClean(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	removed, err := e.backups.Clean(backupsFlagID)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d backup(s) for %s\n", removed, backupsFlagID)
	return err
}

func runBackupsRestore(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if _, err := e.requireLedger(); err != nil {
		return err
	}

	restored, err := e.backups.RestoreAll(backupsFlagID)
	for _, m := range restored {
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", m)
	}
	if len(restored) == 0 && err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "No backups left for %s\n", backupsFlagID)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("restored %d module(s) before failing", len(restored)), err)
	}
	return nil
}
