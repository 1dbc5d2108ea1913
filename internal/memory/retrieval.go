package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"codeforge/internal/budget"
	"codeforge/internal/config"
	"codeforge/internal/embedding"
	"codeforge/internal/logging"
	"codeforge/internal/store"
	"codeforge/internal/types"
)

// RetrievalLayer performs embedding-based similarity search over the
// project's indexed chunks.
type RetrievalLayer struct {
	store     *store.LocalStore
	engine    *embedding.ResilientEngine
	projectID string

	initialK  int
	maxK      int
	threshold float64

	recencyWeight   float64
	proximityWeight float64

	// lastIDs holds the chunk ids emitted by the most recent gather,
	// for snapshots.
	lastIDs []string
}

// NewRetrievalLayer creates the layer with tuning from config.
func NewRetrievalLayer(st *store.LocalStore, engine *embedding.ResilientEngine, projectID string, cfg config.MemoryConfig) *RetrievalLayer {
	return &RetrievalLayer{
		store:           st,
		engine:          engine,
		projectID:       projectID,
		initialK:        cfg.RetrievalInitialK,
		maxK:            cfg.RetrievalMaxK,
		threshold:       cfg.RetrievalThreshold,
		recencyWeight:   cfg.RecencyWeight,
		proximityWeight: cfg.ProximityWeight,
	}
}

// LastIDs returns the chunk ids used in the most recent gather.
func (l *RetrievalLayer) LastIDs() []string { return l.lastIDs }

// SetLastIDs restores the id set from a snapshot.
func (l *RetrievalLayer) SetLastIDs(ids []string) { l.lastIDs = ids }

type rankedChunk struct {
	chunk      *types.Chunk
	similarity float64
	rank       float64
}

// Gather embeds the query, ranks project chunks and emits the best as
// formatted blocks until the next block would exceed the budget.
//
// Ranking combines raw similarity with a recency bonus (1/(1+days
// since last use)) and a proximity bonus (chunk's file is in the focus
// list). K starts at the configured initial value and expands up to
// the maximum while scores stay above the threshold and budget allows.
func (l *RetrievalLayer) Gather(ctx context.Context, query string, tokenBudget int, counter *budget.Counter, focusFiles []string) (string, int, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "retrieval.Gather")
	defer timer.Stop()

	l.lastIDs = nil
	if query == "" || tokenBudget <= 0 {
		return "", 0, nil
	}

	queryVec, _, err := l.engine.EmbedTagged(ctx, query)
	if err != nil {
		return "", 0, err
	}

	chunks, err := l.store.ChunksByProject(l.projectID)
	if err != nil {
		return "", 0, err
	}
	if len(chunks) == 0 {
		return "", 0, nil
	}

	ranked := l.rank(queryVec, chunks, focusFiles)

	k := l.initialK
	var b strings.Builder
	used := 0
	var usedIDs []string
	for i, rc := range ranked {
		if i >= k {
			// Expand K while results remain strong and budget allows.
			if k >= l.maxK || rc.similarity < l.threshold {
				break
			}
			k++
		}

		block := fmt.Sprintf("--- %s (similarity: %.2f) ---\n%s", rc.chunk.Path, rc.similarity, rc.chunk.Content)
		cost := counter.Count(block) + 1
		if used+cost > tokenBudget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		used += cost
		usedIDs = append(usedIDs, rc.chunk.ID)
	}

	if len(usedIDs) > 0 {
		if err := l.store.TouchChunks(usedIDs, time.Now()); err != nil {
			logging.MemoryDebug("failed to touch chunks: %v", err)
		}
	}
	l.lastIDs = usedIDs

	text := b.String()
	logging.MemoryDebug("retrieval gather: %d chunks, ~%d tokens", len(usedIDs), used)
	return text, counter.Count(text), nil
}

func (l *RetrievalLayer) rank(queryVec []float32, chunks []*types.Chunk, focusFiles []string) []rankedChunk {
	focus := make(map[string]bool, len(focusFiles))
	for _, f := range focusFiles {
		focus[f] = true
	}

	now := time.Now()
	ranked := make([]rankedChunk, 0, len(chunks))
	for _, c := range chunks {
		sim, err := embedding.CosineSimilarity(queryVec, c.Embedding)
		if err != nil {
			continue
		}

		days := now.Sub(c.LastUsedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		recency := 1 / (1 + days)

		proximity := 0.0
		if focus[c.Path] {
			proximity = 1.0
		}

		ranked = append(ranked, rankedChunk{
			chunk:      c,
			similarity: sim,
			rank:       sim + l.recencyWeight*recency + l.proximityWeight*proximity,
		})
	}

	// Best rank first; similarity breaks ties deterministically.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].rank != ranked[j].rank {
			return ranked[i].rank > ranked[j].rank
		}
		return ranked[i].similarity > ranked[j].similarity
	})
	return ranked
}
