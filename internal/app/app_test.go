package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/covkit/internal/testutil"
)

type cli struct {
	dir       string
	db        string
	backupDir string
}

// newCLI isolates configuration and state in temporary directories.
func newCLI(t *testing.T) *cli {
	t.Helper()
	c := &cli{dir: t.TempDir(), backupDir: t.TempDir()}
	c.db = filepath.Join(t.TempDir(), "ledger", "covkit.db")

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("COVKIT_BACKUP_DIR", c.backupDir)
	t.Setenv("COVKIT_BACKUP_RETRY_INITIAL_DELAY", "1ms")
	t.Setenv("COVKIT_HITS_RETRY_INITIAL_DELAY", "1ms")
	t.Setenv("NO_COLOR", "1")
	return c
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// run executes covkit with args against the CLI's ledger and returns stdout
// and stderr.
func (c *cli) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(RootCmd)

	var stdout, stderr bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	RootCmd.SetArgs(append([]string{"--db", c.db}, args...))
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetArgs(nil)
	})

	err := RootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (c *cli) file(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(c.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (c *cli) module(t *testing.T, name string, withPdb bool) string {
	t.Helper()
	p := filepath.Join(c.dir, name)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	testutil.WritePE(t, p, testutil.PEImage{CodeViewPath: `C:\build\` + stem + ".pdb"})
	if withPdb {
		c.file(t, stem+".pdb", "pdb")
	}
	return p
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "covkit", RootCmd.Use)
	assert.NotEmpty(t, RootCmd.Short)
	assert.NotEmpty(t, RootCmd.Long)

	for _, name := range []string{"config", "db", "log-level"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		if assert.NotNil(t, flag, "--%s", name) {
			assert.NotEmpty(t, flag.Usage)
		}
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	want := []string{"deps", "symbols", "exclude", "backup", "restore", "backups", "hits", "run"}

	found := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, name := range want {
		assert.True(t, found[name], "expected command %q to be registered", name)
	}
}

func TestGetDBPath(t *testing.T) {
	oldDB, oldCfg := dbPath, cfg
	t.Cleanup(func() { dbPath, cfg = oldDB, oldCfg })

	custom := filepath.Join(t.TempDir(), "nested", "x.db")
	dbPath = custom
	got, err := getDBPath()
	require.NoError(t, err)
	assert.Equal(t, custom, got)
	assert.DirExists(t, filepath.Dir(custom))

	dbPath = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("COVKIT_LEDGER_PATH", "")
	setupCfg(t)
	got, err = getDBPath()
	require.NoError(t, err)
	assert.Empty(t, got, "empty ledger path disables the ledger")
}

func setupCfg(t *testing.T) {
	t.Helper()
	resetFlags(RootCmd)
	require.NoError(t, setup(RootCmd, nil))
}

func TestInvalidLogLevel(t *testing.T) {
	c := newCLI(t)
	_, _, err := c.run(t, "--log-level", "loud", "exclude", "*.cs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}
