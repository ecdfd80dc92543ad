// Package watch feeds media files dropped into a directory to the run
// manager.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mediadigest/internal/logging"
)

// Enqueuer accepts a source for processing and returns its run ID.
type Enqueuer interface {
	Enqueue(source string) (string, error)
}

var mediaExts = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true, ".webm": true,
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true, ".ogg": true,
}

// Watcher monitors a directory and enqueues media files once their
// writes have settled.
type Watcher struct {
	dir    string
	enq    Enqueuer
	settle time.Duration
	sem    chan struct{}

	mu      sync.Mutex
	pending map[string]bool
}

func New(dir string, maxConcurrent int, enq Enqueuer) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir: %s is not a directory", dir)
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Watcher{
		dir:     dir,
		enq:     enq,
		settle:  500 * time.Millisecond,
		sem:     make(chan struct{}, maxConcurrent),
		pending: make(map[string]bool),
	}, nil
}

// Run watches the directory until ctx is canceled. Files already
// present at startup are enqueued as well.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	var handlers sync.WaitGroup
	defer handlers.Wait()

	w.scanExisting(ctx, &handlers)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			w.maybeHandle(ctx, &handlers, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.LogWatcherEvent(w.dir, "error: "+err.Error())
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context, wg *sync.WaitGroup) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.LogWatcherEvent(w.dir, "scan error: "+err.Error())
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.maybeHandle(ctx, wg, filepath.Join(w.dir, e.Name()))
	}
}

func (w *Watcher) maybeHandle(ctx context.Context, wg *sync.WaitGroup, path string) {
	if !mediaExts[strings.ToLower(filepath.Ext(path))] {
		return
	}
	w.mu.Lock()
	if w.pending[path] {
		w.mu.Unlock()
		return
	}
	w.pending[path] = true
	w.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()

		select {
		case w.sem <- struct{}{}:
			defer func() { <-w.sem }()
		case <-ctx.Done():
			return
		}

		if !w.waitSettled(ctx, path) {
			return
		}
		id, err := w.enq.Enqueue(path)
		if err != nil {
			logging.LogWatcherEvent(path, "enqueue failed: "+err.Error())
			return
		}
		logging.LogWatcherEvent(path, "enqueued as "+id)
	}()
}

// waitSettled returns true once two consecutive stats report the same
// non-zero size, meaning the writer has likely finished.
func (w *Watcher) waitSettled(ctx context.Context, path string) bool {
	var lastSize int64 = -1
	for i := 0; i < 120; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.settle):
		}
		info, err := os.Stat(path)
		if err != nil {
			return false // removed while settling
		}
		if info.Size() > 0 && info.Size() == lastSize {
			return true
		}
		lastSize = info.Size()
	}
	return false
}
