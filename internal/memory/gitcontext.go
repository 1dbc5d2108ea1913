package memory

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codeforge/internal/budget"
	"codeforge/internal/embedding"
	"codeforge/internal/logging"
	"codeforge/internal/store"
	"codeforge/internal/types"
)

const gitParseCeiling = 3 * time.Second

// GitContextLayer caches recent commit history with embeddings and
// surfaces the commits most similar to a query. Outside a git
// repository the layer is inert and warns exactly once.
type GitContextLayer struct {
	store      *store.LocalStore
	engine     *embedding.ResilientEngine
	projectID  string
	workDir    string
	maxCommits int

	refreshed bool
	warned    bool
}

// NewGitContextLayer creates the layer for a project workspace.
func NewGitContextLayer(st *store.LocalStore, engine *embedding.ResilientEngine, projectID, workDir string, maxCommits int) *GitContextLayer {
	if maxCommits <= 0 {
		maxCommits = 50
	}
	return &GitContextLayer{
		store:      st,
		engine:     engine,
		projectID:  projectID,
		workDir:    workDir,
		maxCommits: maxCommits,
	}
}

// Refresh parses recent history on first use per session. Parsing is
// bounded by the commit cap and a wall-clock ceiling; partial results
// are accepted.
func (l *GitContextLayer) Refresh(ctx context.Context) error {
	if l.refreshed {
		return nil
	}
	l.refreshed = true

	if !l.isGitRepo() {
		if !l.warned {
			l.warned = true
			logging.Get(logging.CategoryMemory).Warn("not a git repository, git context layer disabled: %s", l.workDir)
		}
		return nil
	}

	commits, err := l.parseLog(ctx)
	if err != nil {
		if !l.warned {
			l.warned = true
			logging.Get(logging.CategoryMemory).Warn("git log parse failed, git context layer disabled: %v", err)
		}
		return types.NewAgentError(types.KindGitUnavailable, "memory", "git log parse failed", err)
	}

	for _, c := range commits {
		vec, _, err := l.engine.EmbedTagged(ctx, c.Message+" "+strings.Join(c.FilesChanged, " "))
		if err == nil {
			c.Embedding = vec
		}
		if err := l.store.StoreGitCommit(c); err != nil {
			logging.MemoryDebug("failed to store commit %s: %v", c.Hash, err)
		}
	}
	logging.MemoryDebug("git refresh: cached %d commits", len(commits))
	return nil
}

func (l *GitContextLayer) isGitRepo() bool {
	_, err := os.Stat(filepath.Join(l.workDir, ".git"))
	return err == nil
}

// parseLog runs git log with record and field separator characters so
// multi-line bodies cannot confuse the parse.
func (l *GitContextLayer) parseLog(ctx context.Context) ([]*types.GitCommitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, gitParseCeiling)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "log",
		fmt.Sprintf("-n%d", l.maxCommits),
		"--pretty=format:%x1e%H%x1f%an%x1f%aI%x1f%s", "--name-only")
	cmd.Dir = l.workDir

	out, err := cmd.Output()
	if err != nil && len(out) == 0 {
		return nil, err
	}

	var commits []*types.GitCommitRecord
	for _, record := range strings.Split(string(out), "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		lines := strings.Split(record, "\n")
		fields := strings.Split(lines[0], "\x1f")
		if len(fields) != 4 {
			continue
		}
		date, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			continue
		}

		var files []string
		for _, line := range lines[1:] {
			if line = strings.TrimSpace(line); line != "" {
				files = append(files, line)
			}
		}

		commits = append(commits, &types.GitCommitRecord{
			ProjectID:    l.projectID,
			Hash:         fields[0],
			Author:       fields[1],
			Date:         date,
			Message:      fields[3],
			FilesChanged: files,
		})
	}
	return commits, nil
}

// Gather ranks cached commits by similarity to the query and emits the
// top matches as one-line summaries.
func (l *GitContextLayer) Gather(ctx context.Context, query string, tokenBudget int, counter *budget.Counter) (string, int, error) {
	if err := l.Refresh(ctx); err != nil {
		return "", 0, nil // inert on git failure
	}

	commits, err := l.store.GitCommitsByProject(l.projectID)
	if err != nil || len(commits) == 0 {
		return "", 0, nil
	}

	queryVec, _, err := l.engine.EmbedTagged(ctx, query)
	if err != nil {
		return "", 0, nil
	}

	type scored struct {
		commit *types.GitCommitRecord
		sim    float64
	}
	var ranked []scored
	for _, c := range commits {
		sim, err := embedding.CosineSimilarity(queryVec, c.Embedding)
		if err != nil {
			continue
		}
		ranked = append(ranked, scored{commit: c, sim: sim})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	var b strings.Builder
	used := 0
	for _, s := range ranked {
		line := fmt.Sprintf("%s - %s (%d files)", shortHash(s.commit.Hash), s.commit.Message, len(s.commit.FilesChanged))
		cost := counter.Count(line) + 1
		if used+cost > tokenBudget {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
		used += cost
	}

	text := strings.TrimRight(b.String(), "\n")
	return text, counter.Count(text), nil
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
