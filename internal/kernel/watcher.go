package kernel

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
)

// PolicyWatcher watches a directory of .mg files and reloads them into the
// engine when they change. Changed files replace the fragment with the same
// origin, so editing a policy on disk takes effect without a restart.
type PolicyWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	engine      *Engine
	policyDir   string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	FilesChanged  int
	Reloads       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// NewPolicyWatcher creates a watcher over policyDir. The directory does not
// need to exist yet.
func NewPolicyWatcher(policyDir string, engine *Engine) (*PolicyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &PolicyWatcher{
		watcher:     watcher,
		engine:      engine,
		policyDir:   policyDir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start loads any existing .mg files, then begins watching. Non-blocking.
func (pw *PolicyWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	if pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = true
	pw.mu.Unlock()

	if err := pw.LoadAll(); err != nil {
		logging.Get(logging.CategoryKernel).Warn("PolicyWatcher: initial load: %v", err)
	}

	if err := pw.watcher.Add(pw.policyDir); err != nil {
		// Directory may not exist yet.
		logging.Get(logging.CategoryKernel).Warn("PolicyWatcher: initial watch failed: %v", err)
	} else {
		logging.Kernel("PolicyWatcher: watching directory: %s", pw.policyDir)
	}

	go pw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for cleanup.
func (pw *PolicyWatcher) Stop() {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	<-pw.doneCh

	if err := pw.watcher.Close(); err != nil {
		logging.KernelError("PolicyWatcher: error closing watcher: %v", err)
	}
	logging.Kernel("PolicyWatcher: stopped")
}

func (pw *PolicyWatcher) run(ctx context.Context) {
	defer close(pw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pw.stopCh:
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.handleEvent(event)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.KernelError("PolicyWatcher error: %v", err)
			pw.mu.Lock()
			pw.stats.Errors++
			pw.mu.Unlock()

		case <-debounceTicker.C:
			pw.processDebouncedEvents()
		}
	}
}

func (pw *PolicyWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".mg") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return // removals keep the last good fragment
	}

	logging.KernelDebug("PolicyWatcher: change event for %s", event.Name)

	pw.mu.Lock()
	pw.stats.FilesChanged++
	pw.stats.LastEventTime = time.Now()
	pw.stats.LastEventPath = event.Name
	pw.debounceMap[event.Name] = time.Now()
	pw.mu.Unlock()
}

func (pw *PolicyWatcher) processDebouncedEvents() {
	pw.mu.Lock()
	now := time.Now()
	toProcess := make([]string, 0)
	for path, eventTime := range pw.debounceMap {
		if now.Sub(eventTime) >= pw.debounceDur {
			toProcess = append(toProcess, path)
			delete(pw.debounceMap, path)
		}
	}
	pw.mu.Unlock()

	for _, path := range toProcess {
		pw.reload(path)
	}
}

func (pw *PolicyWatcher) reload(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.KernelDebug("PolicyWatcher: file gone, skipping: %s", path)
		return
	}

	if err := pw.engine.LoadPolicyFile(path); err != nil {
		logging.KernelError("PolicyWatcher: reload of %s failed: %v", path, err)
		pw.mu.Lock()
		pw.stats.Errors++
		pw.mu.Unlock()
		return
	}

	logging.Kernel("PolicyWatcher: reloaded %s", filepath.Base(path))
	pw.mu.Lock()
	pw.stats.Reloads++
	pw.mu.Unlock()
}

// LoadAll loads every .mg file currently in the policy directory.
func (pw *PolicyWatcher) LoadAll() error {
	entries, err := os.ReadDir(pw.policyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mg") {
			continue
		}
		pw.reload(filepath.Join(pw.policyDir, entry.Name()))
	}
	return nil
}

// GetStats returns the current watcher statistics.
func (pw *PolicyWatcher) GetStats() WatcherStats {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.stats
}

// IsWatching reports whether the watcher is running.
func (pw *PolicyWatcher) IsWatching() bool {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.running
}
