// Package session owns the session lifecycle: the per-project advisory
// lock, crash recovery through snapshots, and orderly shutdown.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"codeforge/internal/logging"
	"codeforge/internal/memory"
	"codeforge/internal/store"
	"codeforge/internal/types"
)

// resumeWindow is how recent the last snapshot must be for a dangling
// session to be resumed instead of closed out.
const resumeWindow = 24 * time.Hour

// defaultRetain is the snapshot retention cap per session.
const defaultRetain = 20

// Manager ties one session to its project, store and memory layers.
type Manager struct {
	st      *store.LocalStore
	mem     *memory.Manager
	project *types.Project
	sess    *types.Session
	resumed bool
	seq     int
	retain  int
}

// Open finds or creates the session for a workspace. A session left
// open by a crash is resumed when its latest snapshot is fresh enough;
// otherwise it is closed and a new one starts. retain caps the
// snapshots kept per session; <=0 uses the default.
func Open(st *store.LocalStore, mem *memory.Manager, project *types.Project, mode types.Mode, retain int) (*Manager, error) {
	if retain <= 0 {
		retain = defaultRetain
	}
	m := &Manager{st: st, mem: mem, project: project, retain: retain}

	dangling, err := st.FindOpenSession(project.ID)
	if err != nil {
		return nil, types.NewAgentError(types.KindStorageUnavailable, "session", "open session lookup failed", err)
	}

	if dangling != nil {
		snap, err := st.LoadLatestSnapshot(dangling.ID)
		if err != nil {
			return nil, types.NewAgentError(types.KindStorageUnavailable, "session", "snapshot load failed", err)
		}
		if snap != nil && time.Since(snap.CreatedAt) < resumeWindow {
			if err := m.resume(dangling, snap); err == nil {
				return m, nil
			}
			logging.Session("resume of %s failed, starting fresh", dangling.ID)
		}
		// Too stale to resume: close it out.
		if err := st.EndSession(dangling.ID, time.Now()); err != nil {
			return nil, types.NewAgentError(types.KindStorageUnavailable, "session", "cannot close stale session", err)
		}
		logging.Session("closed stale session %s", dangling.ID)
	}

	return m, m.start(mode)
}

func (m *Manager) start(mode types.Mode) error {
	sess := &types.Session{
		ID:        uuid.NewString(),
		ProjectID: m.project.ID,
		Mode:      mode,
		StartedAt: time.Now(),
	}
	if err := m.st.CreateSession(sess); err != nil {
		return types.NewAgentError(types.KindStorageUnavailable, "session", "cannot create session", err)
	}
	m.sess = sess
	logging.Session("session %s started (project=%s mode=%s)", sess.ID, m.project.Name, mode)
	logging.Audit(logging.AuditSessionStart, sess.ID, map[string]any{"project": m.project.ID, "mode": string(mode)})
	return nil
}

// resume restores memory state from the snapshot and adopts the
// dangling session, cumulative counters included.
func (m *Manager) resume(sess *types.Session, snap *types.SessionSnapshot) error {
	if err := m.mem.RestoreEphemeral(snap.Ephemeral); err != nil {
		return err
	}
	m.mem.RestoreRetrievalIDs(snap.RetrievalIDs)
	m.sess = sess
	m.seq = snap.Seq
	m.resumed = true
	logging.Session("session %s resumed at snapshot %d (turns=%d)", sess.ID, snap.Seq, sess.TurnCount)
	logging.Audit(logging.AuditSessionStart, sess.ID, map[string]any{"resumed": true, "seq": snap.Seq})
	return nil
}

// Session returns the active session.
func (m *Manager) Session() *types.Session { return m.sess }

// Resumed reports whether the session was recovered from a snapshot.
func (m *Manager) Resumed() bool { return m.resumed }

// sessionCounters is the serialized counter state stored per snapshot.
type sessionCounters struct {
	TurnCount  int `json:"turn_count"`
	TokensUsed int `json:"tokens_used"`
}

// Snapshot persists the current memory and counter state. Counters are
// read back from the store so the snapshot reflects what the
// orchestrator last committed.
func (m *Manager) Snapshot() error {
	ephemeral, err := m.mem.SerializeEphemeral()
	if err != nil {
		return err
	}

	counters := sessionCounters{}
	if sess, err := m.st.GetSession(m.sess.ID); err == nil && sess != nil {
		counters.TurnCount = sess.TurnCount
		counters.TokensUsed = sess.TokensUsed
	}
	budget, err := json.Marshal(counters)
	if err != nil {
		return err
	}

	m.seq++
	snap := &types.SessionSnapshot{
		SessionID:    m.sess.ID,
		Seq:          m.seq,
		Ephemeral:    ephemeral,
		RetrievalIDs: m.mem.RetrievalIDs(),
		Mode:         m.sess.Mode,
		TokenBudget:  budget,
	}
	if err := m.st.SaveSnapshot(snap, m.retain); err != nil {
		return err
	}
	logging.SessionDebug("snapshot %d saved for %s", m.seq, m.sess.ID)
	return nil
}

// Close ends the session. Idempotent.
func (m *Manager) Close() error {
	if m.sess == nil {
		return nil
	}
	err := m.st.EndSession(m.sess.ID, time.Now())
	logging.Session("session %s ended", m.sess.ID)
	logging.Audit(logging.AuditSessionEnd, m.sess.ID, nil)
	m.sess = nil
	return err
}
