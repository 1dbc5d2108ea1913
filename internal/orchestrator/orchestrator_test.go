package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/approval"
	"codeforge/internal/budget"
	"codeforge/internal/config"
	"codeforge/internal/embedding"
	"codeforge/internal/executor"
	"codeforge/internal/llm"
	"codeforge/internal/memory"
	"codeforge/internal/planner"
	"codeforge/internal/store"
	"codeforge/internal/tools"
	"codeforge/internal/tools/core"
	"codeforge/internal/types"
)

type mockClient struct {
	responses []string
	calls     int
}

func (m *mockClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.calls++
	text := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return &llm.Response{Text: text, TokensUsed: 10}, nil
}

func (m *mockClient) GenerateStream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (*llm.Response, error) {
	return m.Generate(ctx, req)
}

func (m *mockClient) Name() string { return "mock" }

type testHarness struct {
	orch      *Orchestrator
	store     *store.LocalStore
	workDir   string
	sessionID string
	snapshots int
}

func newHarness(t *testing.T, client llm.Client, approvalMode string) *testHarness {
	t.Helper()

	workDir := t.TempDir()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	proj, err := st.EnsureProject(workDir)
	require.NoError(t, err)

	sessionID := uuid.NewString()
	require.NoError(t, st.CreateSession(&types.Session{
		ID:        sessionID,
		ProjectID: proj.ID,
		Mode:      types.ModeConcise,
		StartedAt: time.Now(),
	}))

	engine := embedding.NewResilientEngine(embedding.NewHashEngine(64))
	mm := memory.NewManager(st, engine, proj.ID, workDir, config.DefaultMemoryConfig(workDir))

	reg := tools.NewRegistry()
	require.NoError(t, core.RegisterAll(reg, workDir, st, proj.ID))

	cfg := config.DefaultApprovalConfig()
	cfg.Mode = approvalMode
	gate := approval.NewGate(cfg, approval.NewClassifier(reg, nil), approval.AutoDeny{}, sessionID)

	h := &testHarness{store: st, workDir: workDir, sessionID: sessionID}
	h.orch = New(Deps{
		Client:    client,
		Memory:    mm,
		Planner:   planner.New(client, reg),
		Executor:  executor.New(reg, gate),
		Store:     st,
		Mode:      types.ModeConcise,
		SessionID: sessionID,
		ProjectID: proj.ID,
		WorkDir:   workDir,
		Snapshot:  func() error { h.snapshots++; return nil },
	})
	return h
}

func TestTurnArithmetic(t *testing.T) {
	client := &mockClient{responses: []string{`{"code":"4","explanation":null}`}}
	h := newHarness(t, client, config.ApprovalModeYolo)

	result := h.orch.HandleTurn(context.Background(), "What is 2+2?")
	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Response, "4")
	assert.Empty(t, result.ToolsUsed)
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestTurnFileWrite(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"type":"tasks","tasks":[{"description":"create hello.txt","type":"tool-call","tools":["write_file"],"filename":"hello.txt","content":"Hello World"}]}`,
	}}
	h := newHarness(t, client, config.ApprovalModeYolo)

	result := h.orch.HandleTurn(context.Background(), "create a file hello.txt containing Hello World")
	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"write_file"}, result.ToolsUsed)

	data, err := os.ReadFile(filepath.Join(h.workDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(data))

	entries, err := h.store.ExecutionLogBySession(h.sessionID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "write_file", entries[0].Tool)
	assert.True(t, entries[0].Success)
}

func TestTurnDependentSequence(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"type":"tasks","tasks":[
			{"description":"create notes.txt","type":"tool-call","tools":["write_file"],"filename":"notes.txt","content":"alpha beta"},
			{"description":"read the created file back","type":"tool-call","tools":["read_file"],"filename":"notes.txt","depends_on":[0]}
		]}`,
	}}
	h := newHarness(t, client, config.ApprovalModeYolo)

	result := h.orch.HandleTurn(context.Background(), "create notes.txt with alpha beta, then read it back")
	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"write_file", "read_file"}, result.ToolsUsed)
	assert.Contains(t, result.Response, "alpha beta")
}

func TestTurnDenialHaltsPlan(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"type":"tasks","tasks":[
			{"description":"run the build","type":"tool-call","tools":["bash"],"command":"make build"},
			{"description":"record the result","type":"tool-call","tools":["write_file"],"filename":"result.txt","content":"built"}
		]}`,
	}}
	// Default mode with a denying prompter: the bash task is refused.
	h := newHarness(t, client, config.ApprovalModeDefault)

	result := h.orch.HandleTurn(context.Background(), "run the build and record the result")
	require.Error(t, result.Err)
	assert.False(t, result.Success)
	assert.True(t, types.IsKind(result.Err, types.KindApprovalDenied))
	assert.Empty(t, result.ToolsUsed)

	_, err := os.Stat(filepath.Join(h.workDir, "result.txt"))
	assert.True(t, os.IsNotExist(err), "denied plan must not run later tasks")
}

func TestSnapshotCadence(t *testing.T) {
	client := &mockClient{responses: []string{`{"code":"hi","explanation":null}`}}
	h := newHarness(t, client, config.ApprovalModeYolo)

	for i := 0; i < 3; i++ {
		result := h.orch.HandleTurn(context.Background(), "hello there")
		require.True(t, result.Success)
	}
	assert.Equal(t, 1, h.snapshots, "snapshot fires once three operations have run")

	turns, tokens := h.orch.Counters()
	assert.Equal(t, 3, turns)
	assert.Greater(t, tokens, 0)

	sess, err := h.store.GetSession(h.sessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.TurnCount)
}

func TestSnapshotCadenceConfigured(t *testing.T) {
	client := &mockClient{responses: []string{`{"code":"hi","explanation":null}`}}
	h := newHarness(t, client, config.ApprovalModeYolo)
	h.orch.snapshotEvery = 1

	result := h.orch.HandleTurn(context.Background(), "hello there")
	require.True(t, result.Success)
	assert.Equal(t, 1, h.snapshots, "a cadence of one snapshots every turn")
}

func TestConfiguredBudgetLimitsApplied(t *testing.T) {
	client := &mockClient{responses: []string{`{"code":"hi","explanation":null}`}}
	h := newHarness(t, client, config.ApprovalModeYolo)

	// An input ceiling smaller than the prompt preamble makes
	// composition fail before any model call.
	h.orch.limits = budget.Limits{Ephemeral: 1, Retrieved: 1, Knowledge: 1, Query: 1,
		InputCeiling: 10, TotalCeiling: 20}

	result := h.orch.HandleTurn(context.Background(), "explain this request")
	require.Error(t, result.Err)
	assert.True(t, types.IsKind(result.Err, types.KindBudgetExceeded))
}

func TestEventStream(t *testing.T) {
	client := &mockClient{responses: []string{`{"code":"4","explanation":null}`}}
	h := newHarness(t, client, config.ApprovalModeYolo)

	var kinds []EventKind
	h.orch.Events().Subscribe(func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})
	// A failing observer must not disturb the turn.
	h.orch.Events().Subscribe(func(ev Event) error {
		return assert.AnError
	})

	result := h.orch.HandleTurn(context.Background(), "What is 2+2?")
	require.True(t, result.Success)

	require.NotEmpty(t, kinds)
	assert.Equal(t, EventPlanningStart, kinds[0])
	assert.Equal(t, EventPlanningComplete, kinds[1])
	assert.Equal(t, EventExecutionComplete, kinds[len(kinds)-1])
	assert.Contains(t, kinds, EventTokenUsage)
	assert.Contains(t, kinds, EventMemoryUpdate)
}

func TestToolEventsCarryTaskDetail(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"type":"tasks","tasks":[{"description":"create a.txt","type":"tool-call","tools":["write_file"],"filename":"a.txt","content":"x"}]}`,
	}}
	h := newHarness(t, client, config.ApprovalModeYolo)

	var toolEvents []Event
	h.orch.Events().Subscribe(func(ev Event) error {
		if ev.Kind == EventToolExecute || ev.Kind == EventToolResult {
			toolEvents = append(toolEvents, ev)
		}
		return nil
	})

	result := h.orch.HandleTurn(context.Background(), "create a.txt with x")
	require.True(t, result.Success)

	require.Len(t, toolEvents, 2)
	assert.Equal(t, EventToolExecute, toolEvents[0].Kind)
	assert.Equal(t, "write_file", toolEvents[0].Detail["tool"])
	assert.Equal(t, EventToolResult, toolEvents[1].Kind)
	assert.Equal(t, true, toolEvents[1].Detail["success"])
}

func TestMonitorPostsEvents(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	monitor := NewMonitor(config.MonitorConfig{Enabled: true, Endpoint: srv.URL})
	emitter := NewEmitter()
	emitter.Subscribe(monitor.Observer())

	emitter.Emit(Event{Kind: EventTokenUsage, SessionID: "sess-1", Detail: map[string]any{"input_tokens": float64(42)}})
	monitor.Flush()

	select {
	case ev := <-received:
		assert.Equal(t, EventTokenUsage, ev.Kind)
		assert.Equal(t, "sess-1", ev.SessionID)
	default:
		t.Fatal("monitor did not deliver the event")
	}
}

func TestMonitorSurvivesDeadEndpoint(t *testing.T) {
	monitor := NewMonitor(config.MonitorConfig{Enabled: true, Endpoint: "http://127.0.0.1:1/events"})
	emitter := NewEmitter()
	emitter.Subscribe(monitor.Observer())

	emitter.Emit(Event{Kind: EventError})
	monitor.Flush()
}
