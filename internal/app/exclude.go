package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/covkit/internal/exclude"
	"github.com/blackwell-systems/covkit/internal/output"
)

var excludeFlagBase string

var excludeCmd = &cobra.Command{
	Use:   "exclude RULE...",
	Short: "Resolve exclusion globs to files",
	Long: `Resolve glob rules against a base directory and print the absolute path of
every matched file. Rules support *, **, ? and {a,b}.`,
	Example: `  covkit exclude --base src '**/*.Generated.cs'
  covkit exclude --base bin 'Test*.dll' 'Moq.dll'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExclude,
}

func init() {
	excludeCmd.Flags().StringVar(&excludeFlagBase, "base", ".", "Directory the rules are relative to")

	RootCmd.AddCommand(excludeCmd)
}

func runExclude(cmd *cobra.Command, args []string) error {
	set, err := exclude.Resolve(args, excludeFlagBase)
	if err != nil {
		return err
	}
	if !set.Defined() {
		fmt.Fprintln(cmd.OutOrStdout(), "No exclusion rules given.")
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderPathList(set.Files(), "No files matched."))
	return nil
}
