package memory

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"codeforge/internal/logging"
)

// Watcher keeps the chunk index in step with the filesystem. Changed
// files are reindexed, removed files have their chunks deleted. Events
// are processed on a single goroutine; errors are logged, never fatal.
type Watcher struct {
	indexer *Indexer
	fsw     *fsnotify.Watcher
}

// NewWatcher creates a watcher over the indexer's workspace.
func NewWatcher(indexer *Indexer) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{indexer: indexer, fsw: fsw}

	err = filepath.WalkDir(indexer.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipIndexDirs[d.Name()] {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.MemoryDebug("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(w.indexer.workDir, event.Name)
	if err != nil {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		if err := w.indexer.store.DeleteChunksByPath(w.indexer.projectID, rel); err != nil {
			logging.MemoryDebug("failed to drop chunks for %s: %v", rel, err)
		}

	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if event.Op.Has(fsnotify.Create) && !skipIndexDirs[filepath.Base(event.Name)] {
				_ = w.fsw.Add(event.Name)
			}
			return
		}
		if !indexableExts[filepath.Ext(event.Name)] {
			return
		}
		if _, err := w.indexer.IndexFile(ctx, event.Name); err != nil {
			logging.MemoryDebug("failed to reindex %s: %v", rel, err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
