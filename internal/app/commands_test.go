package app

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepsCommand(t *testing.T) {
	c := newCLI(t)
	app := c.module(t, "App.dll", true)
	c.module(t, "Dep.dll", false)
	c.file(t, "notes.txt", "x")

	out, _, err := c.run(t, "deps", app)
	require.NoError(t, err)
	assert.Contains(t, out, "App.dll")
	assert.Contains(t, out, "Dep.dll")
	assert.NotContains(t, out, "notes.txt")
}

func TestSymbolsCommand(t *testing.T) {
	c := newCLI(t)
	app := c.module(t, "App.dll", true)

	out, _, err := c.run(t, "symbols", app)
	require.NoError(t, err)
	assert.Contains(t, out, "codeview")
	assert.Contains(t, out, "Symbol file: App.pdb (found)")
	assert.Contains(t, out, `C:\build\App.pdb`)
	assert.Contains(t, out, "12345678-1234-5678-9abc-def012345678")
}

func TestSymbolsCommand_NotExecutable(t *testing.T) {
	c := newCLI(t)
	p := c.file(t, "plain.dll", "plain text")

	_, _, err := c.run(t, "symbols", p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a PE")
}

func TestExcludeCommand(t *testing.T) {
	c := newCLI(t)
	require.NoError(t, os.MkdirAll(filepath.Join(c.dir, "A"), 0o755))
	c.file(t, "A/X.Generated.cs", "")
	c.file(t, "A/Y.cs", "")

	out, _, err := c.run(t, "exclude", "--base", c.dir, "**/*.Generated.cs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.dir, "A", "X.Generated.cs")+"\n", out)

	out, _, err = c.run(t, "exclude", "--base", c.dir, "*.vb")
	require.NoError(t, err)
	assert.Equal(t, "No files matched.\n", out)
}

func TestBackupRestoreCommands(t *testing.T) {
	c := newCLI(t)
	mod := c.file(t, "App.dll", "original")

	out, _, err := c.run(t, "backup", mod, "--id", "run1")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(c.backupDir, "App_run1.dll"))

	_, _, err = c.run(t, "backup", mod, "--id", "run1")
	require.Error(t, err, "existing backups are never overwritten")

	out, _, err = c.run(t, "backups", "list", "--id", "run1")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")

	require.NoError(t, os.WriteFile(mod, []byte("instrumented"), 0o644))
	_, _, err = c.run(t, "restore", mod, "--id", "run1")
	require.NoError(t, err)

	data, err := os.ReadFile(mod)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.NoFileExists(t, filepath.Join(c.backupDir, "App_run1.dll"))

	out, _, err = c.run(t, "backups", "list")
	require.NoError(t, err)
	assert.Equal(t, "No backups found.\n", out)

	out, _, err = c.run(t, "backups", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "restored")
}

func TestBackupCommand_RequiresID(t *testing.T) {
	c := newCLI(t)
	mod := c.file(t, "App.dll", "x")

	_, _, err := c.run(t, "backup", mod)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id")
}

func TestBackupsRestoreCommand(t *testing.T) {
	c := newCLI(t)
	a := c.file(t, "A.dll", "a")
	b := c.file(t, "B.dll", "b")

	for _, m := range []string{a, b} {
		_, _, err := c.run(t, "backup", m, "--id", "crash")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(m, []byte("instrumented"), 0o644))
	}

	out, _, err := c.run(t, "backups", "restore", "--id", "crash")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored "+a)
	assert.Contains(t, out, "Restored "+b)

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestBackupsCleanCommand(t *testing.T) {
	c := newCLI(t)
	mod := c.file(t, "App.dll", "x")

	_, _, err := c.run(t, "backup", mod, "--id", "stale")
	require.NoError(t, err)

	out, _, err := c.run(t, "backups", "clean", "--id", "stale")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 backup(s)")
	assert.NoFileExists(t, filepath.Join(c.backupDir, "App_stale.dll"))
	assert.FileExists(t, mod)
}

func TestHitsCommands(t *testing.T) {
	c := newCLI(t)
	log := c.file(t, "App.dll.hits", "a\nb\n")

	out, _, err := c.run(t, "hits", "read", log)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)
	assert.FileExists(t, log)

	out, _, err = c.run(t, "hits", "read", log, "--delete")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)
	assert.NoFileExists(t, log)

	_, _, err = c.run(t, "hits", "delete", log)
	require.Error(t, err, "deleting a missing log is an error")
	assert.Contains(t, err.Error(), "not found")
}

func TestRunCommand(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	c := newCLI(t)
	app := c.module(t, "App.dll", true)
	original, err := os.ReadFile(app)
	require.NoError(t, err)

	hitsPath := filepath.Join(c.dir, "App.dll.hits")
	hitsOut := filepath.Join(c.dir, "collected.txt")
	script := "printf instrumented > " + app + " && printf 'h1\\nh2\\n' > " + hitsPath

	_, stderr, err := c.run(t, "run", app, "--id", "s1", "--hits", hitsPath, "--hits-out", hitsOut, "--", sh, "-c", script)
	require.NoError(t, err)
	assert.Contains(t, stderr, "[1/1] Restoring App.dll")
	assert.Contains(t, stderr, "Session s1 finished: 1 module(s) restored, 2 hits line(s)")

	data, err := os.ReadFile(app)
	require.NoError(t, err)
	assert.Equal(t, original, data)

	collected, err := os.ReadFile(hitsOut)
	require.NoError(t, err)
	assert.Equal(t, "h1\nh2\n", string(collected))
	assert.NoFileExists(t, hitsPath)
}

func TestRunCommand_RestoresAfterFailure(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	c := newCLI(t)
	app := c.module(t, "App.dll", true)
	original, err := os.ReadFile(app)
	require.NoError(t, err)

	_, _, err = c.run(t, "run", app, "--id", "s2", "--", sh, "-c", "printf x > "+app+"; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")

	data, err := os.ReadFile(app)
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

func TestRunCommand_KeepsHitsLogWhenOutputUnavailable(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	c := newCLI(t)
	app := c.module(t, "App.dll", true)
	original, err := os.ReadFile(app)
	require.NoError(t, err)

	hitsPath := filepath.Join(c.dir, "App.dll.hits")
	hitsOut := filepath.Join(c.dir, "no-such-dir", "collected.txt")
	script := "printf instrumented > " + app + " && printf 'h1\\n' > " + hitsPath

	_, stderr, err := c.run(t, "run", app, "--id", "s3", "--hits", hitsPath, "--hits-out", hitsOut, "--", sh, "-c", script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open hits output")
	assert.Contains(t, stderr, "Hits log kept at "+hitsPath)

	kept, err := os.ReadFile(hitsPath)
	require.NoError(t, err)
	assert.Equal(t, "h1\n", string(kept))

	data, err := os.ReadFile(app)
	require.NoError(t, err)
	assert.Equal(t, original, data)
}
