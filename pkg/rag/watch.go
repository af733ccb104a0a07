package rag

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/repoagent/pkg/events"
)

// Watcher re-runs Indexer.IndexRepository against a cloned repository
// root whenever its files change, for the optional live-reindex mode a
// long-running Analyze session can enable. A change triggers a full
// re-index after a debounce window rather than a per-file incremental
// update, since the pipeline is already a cheap full-repo walk.
type Watcher struct {
	idx        *Indexer
	fsWatcher  *fsnotify.Watcher
	bus        *events.Bus
	log        arbor.ILogger
	repository string
	root       string
	embed      EmbeddingFunc
	debounce   time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWatcher creates a Watcher for one repository checkout. debounce
// bounds how long the watcher waits after the last observed change
// before re-indexing; a non-positive value defaults to one second.
func NewWatcher(idx *Indexer, bus *events.Bus, log arbor.ILogger, repository, root string, embed EmbeddingFunc, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{
		idx:        idx,
		fsWatcher:  fsWatcher,
		bus:        bus,
		log:        log,
		repository: repository,
		root:       root,
		embed:      embed,
		debounce:   debounce,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start begins watching w.root and its subdirectories, skipping any
// directory whose relative path matches the Indexer's configured
// exclude globs. An initial index is not run by Start; callers index
// once up front and use Watcher only for subsequent changes.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addDirectories(); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher and halts the debounce
// loop. Safe to call once; a second call is a no-op.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.fsWatcher.Close()
}

func (w *Watcher) addDirectories() error {
	excludeSubstrings := make([]string, 0, len(w.idx.cfg.ExcludeGlobs))
	for _, g := range w.idx.cfg.ExcludeGlobs {
		excludeSubstrings = append(excludeSubstrings, stripGlobWildcards(g))
	}
	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if rel != "." && containsAny(rel, excludeSubstrings) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil && w.log != nil {
			w.log.Warn().Err(err).Str("dir", path).Msg("rag: cannot watch directory")
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn().Err(err).Msg("rag: watcher error")
			}
		case <-timerCh:
			timerCh = nil
			if _, err := w.idx.IndexRepository(ctx, w.bus, w.repository, w.root, w.embed); err != nil && w.log != nil {
				w.log.Warn().Err(err).Str("repository", w.repository).Msg("rag: re-index on change failed")
			}
		}
	}
}
