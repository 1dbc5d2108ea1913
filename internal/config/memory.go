package config

import "path/filepath"

// MemoryConfig configures the memory layers and token budget.
//
// Token budget architecture:
//
//	input ceiling (128k) = ephemeral + retrieved + knowledge + query + buffer
//
// Section values are targets, not hard caps; only the total is hard.
// The buffer section is reserved headroom and never allocated.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`

	// Input section targets (tokens)
	EphemeralTarget int `yaml:"ephemeral_target"`
	RetrievedTarget int `yaml:"retrieved_target"`
	KnowledgeTarget int `yaml:"knowledge_target"`
	QueryTarget     int `yaml:"query_target"`
	BufferReserve   int `yaml:"buffer_reserve"`

	// Hard ceilings
	InputCeiling int `yaml:"input_ceiling"`
	TotalCeiling int `yaml:"total_ceiling"`

	// Ephemeral ring size (turns kept in memory)
	MaxTurns int `yaml:"max_turns"`

	// Retrieval tuning
	RetrievalInitialK  int     `yaml:"retrieval_initial_k"`
	RetrievalMaxK      int     `yaml:"retrieval_max_k"`
	RetrievalThreshold float64 `yaml:"retrieval_threshold"`
	RecencyWeight      float64 `yaml:"recency_weight"`
	ProximityWeight    float64 `yaml:"proximity_weight"`

	// Git layer limits
	GitMaxCommits int `yaml:"git_max_commits"`

	// Snapshot cadence and retention
	SnapshotEveryOps int `yaml:"snapshot_every_ops"`
	SnapshotRetain   int `yaml:"snapshot_retain"`
}

// DefaultMemoryConfig returns the authoritative budget defaults.
func DefaultMemoryConfig(workspace string) MemoryConfig {
	return MemoryConfig{
		DatabasePath:       filepath.Join(workspace, StateDirName, "store.db"),
		EphemeralTarget:    5000,
		RetrievedTarget:    40000,
		KnowledgeTarget:    2000,
		QueryTarget:        2000,
		BufferReserve:      10000,
		InputCeiling:       128000,
		TotalCeiling:       160768,
		MaxTurns:           50,
		RetrievalInitialK:  12,
		RetrievalMaxK:      30,
		RetrievalThreshold: 0.7,
		RecencyWeight:      0.2,
		ProximityWeight:    0.3,
		GitMaxCommits:      50,
		SnapshotEveryOps:   3,
		SnapshotRetain:     20,
	}
}
