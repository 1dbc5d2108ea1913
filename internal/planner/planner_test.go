package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/llm"
	"codeforge/internal/tools"
	"codeforge/internal/types"
)

// mockClient returns canned responses in order.
type mockClient struct {
	responses []string
	err       error
	calls     int
}

func (m *mockClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	text := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return &llm.Response{Text: text}, nil
}

func (m *mockClient) GenerateStream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (*llm.Response, error) {
	return m.Generate(ctx, req)
}

func (m *mockClient) Name() string { return "mock" }

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, name := range []string{"bash", "read_file", "write_file", "grep"} {
		require.NoError(t, r.Register(&tools.Tool{
			Name:        name,
			Description: name + " tool",
			Execute:     func(context.Context, map[string]any) (string, error) { return "", nil },
		}))
	}
	return r
}

func TestEmptyPromptSingleConversationTask(t *testing.T) {
	p := New(&mockClient{}, testRegistry(t))

	plan, err := p.Plan(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, types.TaskConversation, plan.Tasks[0].Kind)
	assert.Empty(t, plan.Tasks[0].Response)
}

func TestSimplePromptSkipsModel(t *testing.T) {
	client := &mockClient{}
	p := New(client, testRegistry(t))

	plan, err := p.Plan(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, types.TaskConversation, plan.Tasks[0].Kind)
	assert.Equal(t, types.ComplexitySimple, plan.Complexity)
	assert.Zero(t, client.calls, "simple prompts must not invoke the model")
}

func TestModelTaskPlan(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"type":"tasks","tasks":[
			{"description":"create hello.txt","type":"tool-call","tools":["write_file"],"filename":"hello.txt","content":"Hello World"},
			{"description":"read it back","type":"tool-call","tools":["read_file"],"filename":"hello.txt","depends_on":[0]}
		]}`,
	}}
	p := New(client, testRegistry(t))

	plan, err := p.Plan(context.Background(), "Create a file named hello.txt with content 'Hello World' then read it")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)

	assert.Equal(t, "task-1", plan.Tasks[0].ID)
	assert.Equal(t, "write_file", plan.Tasks[0].Tool)
	assert.Equal(t, "hello.txt", plan.Tasks[0].Args["path"])
	assert.Equal(t, "Hello World", plan.Tasks[0].Args["content"])

	assert.Equal(t, []string{"task-1"}, plan.Tasks[1].DependsOn)
	assert.False(t, plan.Parallelizable)
}

func TestParallelizableWhenNoDeps(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"type":"tasks","tasks":[
			{"description":"search for foo","type":"tool-call","tools":["grep"],"content":"foo"},
			{"description":"search for bar","type":"tool-call","tools":["grep"],"content":"bar"}
		]}`,
	}}
	p := New(client, testRegistry(t))

	plan, err := p.Plan(context.Background(), "search for foo and also search for bar")
	require.NoError(t, err)
	assert.True(t, plan.Parallelizable)
	for _, task := range plan.Tasks {
		assert.Empty(t, task.DependsOn)
	}
}

func TestMalformedJSONRepaired(t *testing.T) {
	// Truncated response: unbalanced brackets, trailing comma.
	client := &mockClient{responses: []string{
		"```json\n" + `{"type":"tasks","tasks":[{"description":"run tests","type":"tool-call","tools":["bash"],"command":"go test",` ,
	}}
	p := New(client, testRegistry(t))

	plan, err := p.Plan(context.Background(), "run the tests please")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "bash", plan.Tasks[0].Tool)
	assert.Equal(t, "go test", plan.Tasks[0].Args["command"])
}

func TestUnrepairableFallsBackToRules(t *testing.T) {
	client := &mockClient{responses: []string{"I cannot answer in JSON, sorry."}}
	p := New(client, testRegistry(t))

	plan, err := p.Plan(context.Background(), "Create a.txt with 'A', then read a.txt, then run 'cat a.txt'")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(plan.Tasks), 3)

	assert.Equal(t, "write_file", plan.Tasks[0].Tool)
	assert.Equal(t, "a.txt", plan.Tasks[0].Args["path"])
	assert.Equal(t, "A", plan.Tasks[0].Args["content"])
	assert.Equal(t, "read_file", plan.Tasks[1].Tool)
	assert.Equal(t, "bash", plan.Tasks[2].Tool)
}

func TestModelErrorFallsBackToRules(t *testing.T) {
	client := &mockClient{err: errors.New("connection refused")}
	p := New(client, testRegistry(t))

	plan, err := p.Plan(context.Background(), "run 'make build'")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "bash", plan.Tasks[0].Tool)
	assert.Equal(t, "make build", plan.Tasks[0].Args["command"])
}

func TestBackReferenceDependencyInference(t *testing.T) {
	client := &mockClient{err: errors.New("offline")}
	p := New(client, testRegistry(t))

	plan, err := p.Plan(context.Background(), "Create out.txt with 'x', then read it")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(plan.Tasks), 2)
	assert.Equal(t, []string{plan.Tasks[0].ID}, plan.Tasks[1].DependsOn)
	assert.False(t, plan.Parallelizable)
}

func TestBackReferenceIgnoresWordFragments(t *testing.T) {
	p := New(&mockClient{responses: []string{
		`{"type":"tasks","tasks":[
			{"description":"create the report directory","type":"tool-call","tools":["bash"],"command":"mkdir report"},
			{"description":"list items in the report directory","type":"tool-call","tools":["ls"]}
		]}`,
	}}, testRegistry(t))

	plan, err := p.Plan(context.Background(), "create a report directory then list items in the report directory")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	assert.Empty(t, plan.Tasks[1].DependsOn, "\"items\" is not a reference to the previous task")
	assert.True(t, plan.Parallelizable)
}

func TestPlanCapsAtEightTasks(t *testing.T) {
	tasksJSON := `{"type":"tasks","tasks":[`
	for i := 0; i < 12; i++ {
		if i > 0 {
			tasksJSON += ","
		}
		tasksJSON += `{"description":"step","type":"tool-call","tools":["bash"],"command":"true"}`
	}
	tasksJSON += `]}`

	p := New(&mockClient{responses: []string{tasksJSON}}, testRegistry(t))
	plan, err := p.Plan(context.Background(), "run this then that then more then again then still then more then lots then of then steps")
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 8)
}

func TestCircularDependencyRejected(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"type":"tasks","tasks":[
			{"description":"a","type":"tool-call","tools":["bash"],"command":"a","depends_on":[1]},
			{"description":"b","type":"tool-call","tools":["bash"],"command":"b","depends_on":[0]}
		]}`,
	}}
	p := New(client, testRegistry(t))

	_, err := p.Plan(context.Background(), "run a then run b")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindLLMMalformed))
}

func TestRepairJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"a":1,}`, `{"a":1}`},
		{"```json\n{\"a\":[1,2\n", `{"a":[1,2]}`},
		{`{"a":"unterminated`, `{"a":"unterminated"}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, repairJSON(tc.in))
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, types.ComplexitySimple, classify("hello there"))
	assert.Equal(t, types.ComplexityModerate, classify("create a config file"))
	assert.Equal(t, types.ComplexityComplex, classify("create a.txt, then read it, next run the tests"))
}
