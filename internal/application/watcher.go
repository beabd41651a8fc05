package application

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period a watched file must observe before
// its change is reported.
const DefaultDebounce = 250 * time.Millisecond

// FileWatcher reports changes to a single file. It watches the parent
// directory so editors that save by rename-over are still seen, and it
// collapses bursts of events into one callback per quiet period.
type FileWatcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewFileWatcher creates a watcher for path. A non-positive debounce uses
// DefaultDebounce.
func NewFileWatcher(path string, debounce time.Duration, logger *zap.Logger) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return &FileWatcher{path: abs, debounce: debounce, logger: logger}
}

// Start begins watching and calls onChange after each debounced change.
// onChange runs on the watcher goroutine; it is never called concurrently
// with itself. Start is a no-op when already running.
func (fw *FileWatcher) Start(ctx context.Context, onChange func()) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.running {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(fw.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", fw.path, err)
	}

	fw.watcher = w
	fw.stopCh = make(chan struct{})
	fw.doneCh = make(chan struct{})
	fw.running = true

	go fw.run(ctx, onChange)
	fw.logger.Debug("watching file", zap.String("path", fw.path))
	return nil
}

// Stop ends watching and waits for the event loop to exit. It is safe to
// call more than once.
func (fw *FileWatcher) Stop() {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return
	}
	fw.running = false
	close(fw.stopCh)
	done, w := fw.doneCh, fw.watcher
	fw.mu.Unlock()

	<-done
	if err := w.Close(); err != nil {
		fw.logger.Warn("failed to close watcher", zap.Error(err))
	}
}

func (fw *FileWatcher) run(ctx context.Context, onChange func()) {
	defer close(fw.doneCh)

	timer := time.NewTimer(fw.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopCh:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			fw.logger.Debug("file event", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			timer.Reset(fw.debounce)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			onChange()
		}
	}
}
