package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeforge/internal/embedding"
	"codeforge/internal/logging"
	"codeforge/internal/store"
	"codeforge/internal/types"
)

const (
	chunkLines       = 50
	chunkOverlap     = 10
	maxIndexFileSize = 512 * 1024
)

var indexableExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".rs": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".rb": true, ".sh": true, ".sql": true, ".proto": true,
	".md": true, ".txt": true, ".yaml": true, ".yml": true, ".json": true, ".toml": true,
}

var skipIndexDirs = map[string]bool{
	".git": true, ".forge": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, "target": true,
}

// Indexer walks the project tree, splits source files into overlapping
// line-window chunks, embeds them and stores them for retrieval.
type Indexer struct {
	store     *store.LocalStore
	engine    *embedding.ResilientEngine
	projectID string
	workDir   string
}

// NewIndexer creates an indexer for a project workspace.
func NewIndexer(st *store.LocalStore, engine *embedding.ResilientEngine, projectID, workDir string) *Indexer {
	return &Indexer{store: st, engine: engine, projectID: projectID, workDir: workDir}
}

// IndexProject walks the workspace and indexes every eligible file.
// Returns the number of chunks stored.
func (ix *Indexer) IndexProject(ctx context.Context) (int, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "IndexProject")
	defer timer.Stop()

	total := 0
	err := filepath.WalkDir(ix.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipIndexDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !indexableExts[filepath.Ext(path)] {
			return nil
		}

		n, err := ix.IndexFile(ctx, path)
		if err != nil {
			logging.MemoryDebug("skipping %s: %v", path, err)
			return nil
		}
		total += n
		return nil
	})
	if err != nil {
		return total, err
	}
	logging.Memory("indexed project: %d chunks", total)
	return total, nil
}

// IndexFile replaces the stored chunks of one file.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() > maxIndexFileSize {
		return 0, fmt.Errorf("file too large to index (%d bytes)", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	rel, err := filepath.Rel(ix.workDir, path)
	if err != nil {
		rel = path
	}

	if err := ix.store.DeleteChunksByPath(ix.projectID, rel); err != nil {
		return 0, err
	}

	chunkType := types.ChunkTypeCode
	if ext := filepath.Ext(path); ext == ".md" || ext == ".txt" {
		chunkType = types.ChunkTypeDoc
	}

	count := 0
	for _, win := range splitLineWindows(string(data)) {
		vec, degraded, err := ix.engine.EmbedTagged(ctx, win.content)
		if err != nil {
			return count, err
		}
		chunk := &types.Chunk{
			ID:         chunkID(ix.projectID, rel, win.byteStart),
			ProjectID:  ix.projectID,
			Path:       rel,
			Content:    win.content,
			ChunkType:  chunkType,
			ByteStart:  win.byteStart,
			ByteEnd:    win.byteEnd,
			Embedding:  vec,
			Degraded:   degraded,
			LastUsedAt: time.Now(),
		}
		if err := ix.store.UpsertChunk(chunk); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ReembedDegraded recomputes embeddings for chunks that were stored
// via the hash fallback, up to limit. Chunks whose recompute still
// degrades are left as they are.
func (ix *Indexer) ReembedDegraded(ctx context.Context, limit int) (int, error) {
	chunks, err := ix.store.DegradedChunks(ix.projectID, limit)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, c := range chunks {
		vec, degraded, err := ix.engine.EmbedTagged(ctx, c.Content)
		if err != nil || degraded {
			continue
		}
		c.Embedding = vec
		c.Degraded = false
		if err := ix.store.UpsertChunk(c); err != nil {
			return fixed, err
		}
		fixed++
	}
	if fixed > 0 {
		logging.Memory("re-embedded %d degraded chunks", fixed)
	}
	return fixed, nil
}

type lineWindow struct {
	content   string
	byteStart int
	byteEnd   int
}

// splitLineWindows cuts text into windows of chunkLines lines with
// chunkOverlap lines of overlap between consecutive windows.
func splitLineWindows(text string) []lineWindow {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")

	var windows []lineWindow
	step := chunkLines - chunkOverlap
	for start := 0; start < len(lines); start += step {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}

		byteStart := 0
		for _, l := range lines[:start] {
			byteStart += len(l)
		}
		content := strings.Join(lines[start:end], "")
		if strings.TrimSpace(content) == "" {
			break
		}
		windows = append(windows, lineWindow{
			content:   content,
			byteStart: byteStart,
			byteEnd:   byteStart + len(content),
		})
		if end == len(lines) {
			break
		}
	}
	return windows
}

func chunkID(projectID, path string, byteStart int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", projectID, path, byteStart)))
	return hex.EncodeToString(sum[:16])
}
