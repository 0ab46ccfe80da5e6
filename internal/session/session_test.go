package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/covkit/internal/backup"
	"github.com/blackwell-systems/covkit/internal/hits"
	"github.com/blackwell-systems/covkit/internal/retry"
	"github.com/blackwell-systems/covkit/internal/store"
	"github.com/blackwell-systems/covkit/internal/testutil"
)

type fixture struct {
	dir     string
	ledger  *store.Store
	backups *backup.Store
	session *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	logger := testutil.NewTestLogger(t)
	timer := testutil.NewRecordingTimer()

	f := &fixture{dir: t.TempDir(), ledger: ledger}
	f.backups = backup.New(t.TempDir(), retry.DefaultPolicy(),
		backup.WithLedger(ledger),
		backup.WithLogger(logger),
		backup.WithRetryOptions(retry.WithTimer(timer)),
	)
	f.session = New(Deps{
		Backups: f.backups,
		Hits: hits.NewStore(retry.DefaultPolicy(),
			hits.WithLedger(ledger),
			hits.WithLogger(logger),
			hits.WithRetryOptions(retry.WithTimer(timer)),
		),
		Logger:     logger,
		Identifier: "run1",
	})
	return f
}

// project lays out a module with symbols, a dependency with symbols, a
// dependency without symbols, a generated dependency and a non-PE file.
func (f *fixture) project(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"App", "Dep", "NoPdb", "Gen.Generated"} {
		testutil.WritePE(t, filepath.Join(f.dir, name+".dll"), testutil.PEImage{CodeViewPath: `C:\b\` + name + ".pdb"})
	}
	for _, name := range []string{"App.pdb", "Dep.pdb", "Gen.Generated.pdb"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), []byte("pdb"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "native.dll"), []byte("not a pe"), 0o644))
	return filepath.Join(f.dir, "App.dll")
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func TestNew_DefaultIdentifier(t *testing.T) {
	a := New(Deps{})
	b := New(Deps{})
	assert.Len(t, a.Identifier(), 36)
	assert.NotEqual(t, a.Identifier(), b.Identifier())
}

func TestPrepare(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	plan, err := f.session.Prepare(module, []string{"*.Generated.dll"}, f.dir)
	require.NoError(t, err)

	assert.Equal(t, "run1", plan.Identifier)
	assert.ElementsMatch(t, []string{f.path("App.dll"), f.path("Dep.dll")}, plan.Modules)
	assert.ElementsMatch(t, []Skipped{
		{Path: f.path("Gen.Generated.dll"), Reason: ReasonExcluded},
		{Path: f.path("NoPdb.dll"), Reason: ReasonNoSymbols},
		{Path: f.path("native.dll"), Reason: ReasonNotExecutable},
	}, plan.Skipped)
	assert.True(t, plan.Exclusions.Defined())

	for _, m := range plan.Modules {
		assert.FileExists(t, f.backups.Path(m, "run1"))
	}
	pending, err := f.ledger.ListBackups("run1", store.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestPrepare_NoRules(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	plan, err := f.session.Prepare(module, nil, f.dir)
	require.NoError(t, err)
	assert.False(t, plan.Exclusions.Defined())
	assert.Len(t, plan.Modules, 3)
}

func TestPrepare_BackupFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	// A stale backup for Dep under the same identifier blocks its backup.
	require.NoError(t, os.WriteFile(f.backups.Path(f.path("Dep.dll"), "run1"), []byte("stale"), 0o644))

	_, err := f.session.Prepare(module, nil, f.dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrBackupExists)

	// App was backed up first and has been restored again.
	assert.NoFileExists(t, f.backups.Path(module, "run1"))
	restored, err := f.ledger.ListBackups("run1", store.StatusRestored)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, module, restored[0].ModulePath)
}

func TestPrepare_InspectFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	module := f.path("App.dll")
	testutil.WritePE(t, module, testutil.PEImage{CodeViewPath: `C:\b\App.pdb`})
	require.NoError(t, os.WriteFile(f.path("App.pdb"), []byte("pdb"), 0o644))

	// A symbol file name longer than any file system allows fails the stat
	// with something other than "not found".
	longName := strings.Repeat("z", 300) + ".pdb"
	testutil.WritePE(t, f.path("Zed.dll"), testutil.PEImage{CodeViewPath: `C:\b\` + longName})

	plan, err := f.session.Prepare(module, nil, f.dir)
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.Contains(t, err.Error(), "failed to inspect "+f.path("Zed.dll"))
	assert.NotContains(t, err.Error(), "failed to check symbols: failed to check symbols")

	assert.NoFileExists(t, f.backups.Path(module, "run1"))
	pending, err := f.ledger.ListBackups("run1", store.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFinish(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	original, err := os.ReadFile(module)
	require.NoError(t, err)

	plan, err := f.session.Prepare(module, []string{"*.Generated.dll"}, f.dir)
	require.NoError(t, err)

	// Instrument in place and run.
	for _, m := range plan.Modules {
		require.NoError(t, os.WriteFile(m, []byte("instrumented"), 0o644))
	}
	hitsPath := f.path("App.dll.hits")
	require.NoError(t, os.WriteFile(hitsPath, []byte("1\n2\n"), 0o644))

	var got []string
	n, err := f.session.Finish(plan, hitsPath, func(line string) error {
		got = append(got, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1", "2"}, got)
	assert.NoFileExists(t, hitsPath)

	restored, err := os.ReadFile(module)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
	for _, m := range plan.Modules {
		assert.NoFileExists(t, f.backups.Path(m, "run1"))
	}
}

func TestFinish_ReportsEachRestore(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	var restoring []string
	f.session.onRestore = func(m string) { restoring = append(restoring, m) }

	plan, err := f.session.Prepare(module, nil, f.dir)
	require.NoError(t, err)
	assert.Empty(t, restoring, "prepare does not report restores")

	_, err = f.session.Finish(plan, "", nil)
	require.NoError(t, err)
	assert.Equal(t, plan.Modules, restoring)
}

func TestFinish_MissingHitsLog(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	plan, err := f.session.Prepare(module, nil, f.dir)
	require.NoError(t, err)

	n, err := f.session.Finish(plan, f.path("none.hits"), func(string) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFinish_RestoresDespiteConsumerError(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	plan, err := f.session.Prepare(module, nil, f.dir)
	require.NoError(t, err)

	hitsPath := f.path("App.dll.hits")
	require.NoError(t, os.WriteFile(hitsPath, []byte("1\n"), 0o644))
	boom := errors.New("boom")

	_, err = f.session.Finish(plan, hitsPath, func(string) error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.FileExists(t, hitsPath)

	for _, m := range plan.Modules {
		assert.NoFileExists(t, f.backups.Path(m, "run1"))
	}
}

func TestFinish_ContinuesAfterRestoreFailure(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	plan, err := f.session.Prepare(module, nil, f.dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(plan.Modules), 2)

	// Lose the first module's backup.
	require.NoError(t, os.Remove(f.backups.Path(plan.Modules[0], "run1")))

	_, err = f.session.Finish(plan, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrBackupNotFound)

	for _, m := range plan.Modules[1:] {
		assert.NoFileExists(t, f.backups.Path(m, "run1"))
	}
}

func TestCopyRuntime(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	runtimeDir := t.TempDir()
	runtime := filepath.Join(runtimeDir, "covkit.tracker.dll")
	require.NoError(t, os.WriteFile(runtime, []byte("runtime-v2"), 0o644))
	require.NoError(t, os.WriteFile(f.path("covkit.tracker.dll"), []byte("runtime-v1"), 0o644))

	require.NoError(t, f.session.CopyRuntime(module, runtime))

	data, err := os.ReadFile(f.path("covkit.tracker.dll"))
	require.NoError(t, err)
	assert.Equal(t, "runtime-v2", string(data))
}

func TestCopyRuntime_SkipsRuntimeItself(t *testing.T) {
	f := newFixture(t)

	runtime := filepath.Join(t.TempDir(), "covkit.tracker.dll")
	require.NoError(t, os.WriteFile(runtime, []byte("runtime"), 0o644))
	module := f.path("covkit.tracker.dll")
	require.NoError(t, os.WriteFile(module, []byte("module"), 0o644))

	require.NoError(t, f.session.CopyRuntime(module, runtime))

	data, err := os.ReadFile(module)
	require.NoError(t, err)
	assert.Equal(t, "module", string(data))
}

func TestCopyRuntime_SameDirectory(t *testing.T) {
	f := newFixture(t)
	module := f.project(t)

	runtime := f.path("covkit.tracker.dll")
	require.NoError(t, os.WriteFile(runtime, []byte("runtime"), 0o644))

	require.NoError(t, f.session.CopyRuntime(module, runtime))

	data, err := os.ReadFile(runtime)
	require.NoError(t, err)
	assert.Equal(t, "runtime", string(data))
}
