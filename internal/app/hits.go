package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var hitsFlagDelete bool

var hitsCmd = &cobra.Command{
	Use:   "hits",
	Short: "Read and delete hits logs",
}

var hitsReadCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "Print a hits log",
	Long: `Print every line of a hits log. Opening the log is retried while the test
host still holds it. With --delete the log is removed once fully read and the
read is recorded in the ledger.`,
	Example: `  covkit hits read bin/App.dll.hits
  covkit hits read bin/App.dll.hits --delete`,
	Args: cobra.ExactArgs(1),
	RunE: runHitsRead,
}

var hitsDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a hits log",
	Long: `Delete a hits log, retrying while it is locked. Deleting a log that does not
exist is an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runHitsDelete,
}

func init() {
	hitsReadCmd.Flags().BoolVar(&hitsFlagDelete, "delete", false, "Delete the log after reading it")

	hitsCmd.AddCommand(hitsReadCmd)
	hitsCmd.AddCommand(hitsDeleteCmd)

	RootCmd.AddCommand(hitsCmd)
}

func runHitsRead(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	out := cmd.OutOrStdout()
	emit := func(line string) error {
		_, err := fmt.Fprintln(out, line)
		return err
	}

	if hitsFlagDelete {
		_, err := e.hits.Drain(args[0], emit)
		return err
	}

	lines, err := e.hits.ReadLines(args[0])
	if err != nil {
		return err
	}
	defer lines.Close()

	for lines.Scan() {
		if err := emit(lines.Text()); err != nil {
			return err
		}
	}
	return lines.Err()
}

func runHitsDelete(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.hits.DeleteLines(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
