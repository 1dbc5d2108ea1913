package session

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/budget"
	"codeforge/internal/config"
	"codeforge/internal/embedding"
	"codeforge/internal/memory"
	"codeforge/internal/store"
	"codeforge/internal/types"
)

type deps struct {
	st      *store.LocalStore
	project *types.Project
	workDir string
}

func newDeps(t *testing.T) *deps {
	t.Helper()
	workDir := t.TempDir()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	project, err := st.EnsureProject(workDir)
	require.NoError(t, err)
	return &deps{st: st, project: project, workDir: workDir}
}

func (d *deps) newMemory() *memory.Manager {
	engine := embedding.NewResilientEngine(embedding.NewHashEngine(64))
	return memory.NewManager(d.st, engine, d.project.ID, d.workDir, config.DefaultMemoryConfig(d.workDir))
}

func TestLockExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".forge", "lock")

	lock, err := AcquireLock(path)
	require.NoError(t, err)

	_, err = AcquireLock(path)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindAgentBusy))

	lock.Release()
	lock2, err := AcquireLock(path)
	require.NoError(t, err)
	lock2.Release()
}

func TestLockStaleBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".forge", "lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	// A pid that has already exited leaves a stale lock.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", cmd.Process.Pid)), 0o644))

	lock, err := AcquireLock(path)
	require.NoError(t, err, "stale lock must be broken")
	lock.Release()
}

func TestOpenCreatesSession(t *testing.T) {
	d := newDeps(t)

	m, err := Open(d.st, d.newMemory(), d.project, types.ModeConcise, 0)
	require.NoError(t, err)
	require.NotNil(t, m.Session())
	assert.False(t, m.Resumed())
	assert.Equal(t, d.project.ID, m.Session().ProjectID)

	found, err := d.st.FindOpenSession(d.project.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, m.Session().ID, found.ID)
}

func TestCrashRecoveryResumesFreshSession(t *testing.T) {
	d := newDeps(t)

	mem1 := d.newMemory()
	m1, err := Open(d.st, mem1, d.project, types.ModeConcise, 0)
	require.NoError(t, err)
	sessID := m1.Session().ID

	mem1.AppendTurn(types.RoleUser, "refactor the widget parser")
	mem1.AppendTurn(types.RoleAssistant, "done, parser split into two files")
	require.NoError(t, d.st.UpdateSessionCounters(sessID, 2, 500))
	require.NoError(t, m1.Snapshot())

	// Process dies here: no Close call.

	mem2 := d.newMemory()
	m2, err := Open(d.st, mem2, d.project, types.ModeConcise, 0)
	require.NoError(t, err)
	assert.True(t, m2.Resumed())
	assert.Equal(t, sessID, m2.Session().ID)
	assert.Equal(t, 2, m2.Session().TurnCount)
	assert.Equal(t, 500, m2.Session().TokensUsed)

	text, _ := mem2.Ephemeral().Gather(5000, budget.NewCounter())
	assert.Contains(t, text, "widget parser", "ephemeral turns survive the crash")
}

func TestDanglingSessionWithoutSnapshotIsClosed(t *testing.T) {
	d := newDeps(t)

	m1, err := Open(d.st, d.newMemory(), d.project, types.ModeConcise, 0)
	require.NoError(t, err)
	oldID := m1.Session().ID

	// Crash before the first snapshot: nothing to resume from.
	m2, err := Open(d.st, d.newMemory(), d.project, types.ModeConcise, 0)
	require.NoError(t, err)
	assert.False(t, m2.Resumed())
	assert.NotEqual(t, oldID, m2.Session().ID)

	old, err := d.st.GetSession(oldID)
	require.NoError(t, err)
	require.NotNil(t, old.EndedAt, "the stale session must be closed out")
}

func TestSnapshotCarriesCounters(t *testing.T) {
	d := newDeps(t)

	m, err := Open(d.st, d.newMemory(), d.project, types.ModeDeep, 0)
	require.NoError(t, err)
	require.NoError(t, d.st.UpdateSessionCounters(m.Session().ID, 7, 1234))
	require.NoError(t, m.Snapshot())

	snap, err := d.st.LoadLatestSnapshot(m.Session().ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Seq)
	assert.Equal(t, types.ModeDeep, snap.Mode)

	var counters struct {
		TurnCount  int `json:"turn_count"`
		TokensUsed int `json:"tokens_used"`
	}
	require.NoError(t, json.Unmarshal(snap.TokenBudget, &counters))
	assert.Equal(t, 7, counters.TurnCount)
	assert.Equal(t, 1234, counters.TokensUsed)
}

func TestSnapshotRetentionConfigured(t *testing.T) {
	d := newDeps(t)

	m, err := Open(d.st, d.newMemory(), d.project, types.ModeConcise, 2)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Snapshot())
	}

	count, err := d.st.SnapshotCount(m.Session().ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "configured retention must prune older snapshots")

	snap, err := d.st.LoadLatestSnapshot(m.Session().ID)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Seq)
}

func TestCloseIsIdempotent(t *testing.T) {
	d := newDeps(t)

	m, err := Open(d.st, d.newMemory(), d.project, types.ModeConcise, 0)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	found, err := d.st.FindOpenSession(d.project.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
