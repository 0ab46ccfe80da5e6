package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/covkit/internal/output"
	"github.com/blackwell-systems/covkit/internal/symbols"
)

var depsCmd = &cobra.Command{
	Use:   "deps <module>",
	Short: "List a module and the binaries next to it",
	Long: `List the module and every sibling binary in its directory, with size and
whether a matching symbol file was found.

Which extensions count as binaries is set by scanner.extensions in the
config file (default: .dll).`,
	Example: `  covkit deps bin/App.dll`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDeps,
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols <module>",
	Short: "Show a module's debug directory and symbol file",
	Long: `Decode the module's debug directory and report the symbol file recorded
at build time, and whether a file of that name exists next to the module.`,
	Example: `  covkit symbols bin/App.dll`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSymbols,
}

func init() {
	RootCmd.AddCommand(depsCmd)
	RootCmd.AddCommand(symbolsCmd)
}

func runDeps(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	modules, err := e.scanner.Inventory(args[0])
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderModuleTable(modules))
	return nil
}

func runSymbols(cmd *cobra.Command, args []string) error {
	module := args[0]
	out := cmd.OutOrStdout()

	info, err := symbols.Inspect(module)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Module: %s\n", module)
	fmt.Fprintf(out, "Debug entries: %d\n", len(info.Entries))
	for _, entry := range info.Entries {
		fmt.Fprintf(out, "  %-22s size=%d\n", entry.Type, entry.SizeOfData)
	}

	if info.CodeView == nil {
		fmt.Fprintln(out, "Symbol file: none recorded")
		return nil
	}

	has, err := symbols.HasSymbols(module)
	if err != nil {
		return err
	}

	found := "missing"
	if has {
		found = "found"
	}
	fmt.Fprintf(out, "Symbol file: %s (%s)\n", symbols.SymbolFileName(info), found)
	fmt.Fprintf(out, "  recorded path: %s\n", info.CodeView.Path)
	fmt.Fprintf(out, "  guid: %s  age: %d\n", info.CodeView.GUID, info.CodeView.Age)
	return nil
}
