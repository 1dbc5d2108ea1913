// Package types holds the shared domain model for codeforge: sessions,
// turns, chunks, knowledge entries, task plans and the error taxonomy.
// Components hold ids and look entities up through the store; there are
// no in-memory object cycles.
package types

import "time"

// Mode is the operating mode controlling output and reasoning caps.
type Mode string

const (
	ModeDirect  Mode = "direct"  // short answers
	ModeConcise Mode = "concise" // default coding
	ModeDeep    Mode = "deep"    // complex refactors
)

// ValidMode reports whether m is a known operating mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeDirect, ModeConcise, ModeDeep:
		return true
	}
	return false
}

// Role is a conversation message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Project identifies a workspace. The ID is a stable hash of the
// absolute root path; projects are created on first use and never
// destroyed.
type Project struct {
	ID        string
	RootPath  string
	Name      string
	CreatedAt time.Time
}

// Session is one continuous user interaction with a project. At most
// one session per project has a nil EndedAt.
type Session struct {
	ID         string
	ProjectID  string
	Mode       Mode
	StartedAt  time.Time
	EndedAt    *time.Time
	TurnCount  int
	TokensUsed int
}

// Turn is a single message in a session.
type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count"`
}

// ChunkType classifies retrievable fragments.
type ChunkType string

const (
	ChunkTypeCode ChunkType = "code"
	ChunkTypeDoc  ChunkType = "doc"
	ChunkTypeDiff ChunkType = "diff"
)

// Chunk is a retrievable fragment of source text with its embedding.
// Embedding dimension is constant within a project.
type Chunk struct {
	ID         string
	ProjectID  string
	Path       string
	Content    string
	ChunkType  ChunkType
	ByteStart  int
	ByteEnd    int
	Embedding  []float32
	Degraded   bool // embedded via the hash fallback; recompute later
	LastUsedAt time.Time
}

// KnowledgeEntry is a long-lived key/value fact about a project.
// Keys are unique per project; entries are never auto-evicted.
type KnowledgeEntry struct {
	ProjectID  string
	Key        string
	Value      string
	Category   string
	Importance float64
}

// GitCommitRecord is a cached parse of one commit.
type GitCommitRecord struct {
	ProjectID    string
	Hash         string
	Author       string
	Date         time.Time
	Message      string
	FilesChanged []string
	DiffChunks   []string
	Embedding    []float32
}

// SessionSnapshot is a durable point-in-time copy of session state,
// keyed by session and monotonic sequence number.
type SessionSnapshot struct {
	SessionID    string
	Seq          int
	Ephemeral    []byte // serialized ephemeral layer state
	RetrievalIDs []string
	Mode         Mode
	TokenBudget  []byte // serialized budget counters
	CreatedAt    time.Time
}

// ExecutionLogEntry records one tool call. Append-only.
type ExecutionLogEntry struct {
	ID        string
	ProjectID string
	SessionID string
	Tool      string
	Input     map[string]any
	Output    string
	ErrorMsg  string
	Duration  time.Duration
	Success   bool
	CreatedAt time.Time
}

// TaskKind classifies planner output tasks.
type TaskKind string

const (
	TaskConversation TaskKind = "conversation"
	TaskToolCall     TaskKind = "tool-call"
	TaskMultiStep    TaskKind = "multi-step"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a single unit of work the executor will run.
type Task struct {
	ID          string
	Description string
	Kind        TaskKind
	Tool        string
	Args        map[string]any
	DependsOn   []string
	Status      TaskStatus
	Retries     int
	Timeout     time.Duration

	// Response carries the conversational payload for TaskConversation
	// tasks and the tool output once a tool task completes.
	Response string

	// Err holds the failure cause when Status is TaskFailed.
	Err error
}

// Complexity classifies a prompt for planning purposes.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// TaskPlan is an ordered collection of tasks plus planning metadata.
// Parallelizable is true iff no task has dependencies.
type TaskPlan struct {
	Prompt         string
	Complexity     Complexity
	Tasks          []*Task
	Parallelizable bool
}

// TurnResult is the orchestrator's final result for one user turn.
type TurnResult struct {
	Success   bool
	Response  string
	ToolsUsed []string
	Err       error
}
