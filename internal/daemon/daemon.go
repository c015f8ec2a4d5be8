// Package daemon provides the long-running budgetr host process.
//
// The daemon:
// 1. Watches the database file for writes by other budgetr processes
// 2. Reloads the ledger when the persisted snapshot actually changed
// 3. Forwards external changes to the auto-sync engine
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/marsop/budgetr/internal/ledger"
	"github.com/marsop/budgetr/internal/store"
)

// Notifier receives change pokes for edits that originated outside this
// process. The auto-sync engine satisfies it.
type Notifier interface {
	NotifyChange()
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before processing file events.
	// SQLite writes arrive as bursts of events on the database and WAL
	// files; this batches them into one reload.
	DebounceInterval time.Duration

	// LogFile, when set, routes daemon logs to a rotating file instead of
	// stderr.
	LogFile string

	// Logger for daemon activity. Overrides LogFile when set.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
	}
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	if c.LogFile != "" {
		return log.New(&lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}, "[daemon] ", log.LstdFlags)
	}
	return log.New(os.Stderr, "[daemon] ", log.LstdFlags)
}

// Daemon watches the database file and keeps the in-process ledger and the
// sync engine in step with edits made by other budgetr invocations.
type Daemon struct {
	ledger   *ledger.Ledger
	storage  store.Store
	notifier Notifier
	dbPath   string
	config   *Config
	logger   *log.Logger

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pendingAt time.Time
	pending   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - l: the in-process ledger to keep current
//   - storage: the key/value storage the snapshot lives in
//   - dbPath: path of the SQLite database file to watch
//
// notifier may be nil when no sync engine is attached. Use Start() to begin
// watching.
func New(l *ledger.Ledger, storage store.Store, dbPath string, notifier Notifier) (*Daemon, error) {
	return NewWithConfig(l, storage, dbPath, notifier, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(l *ledger.Ledger, storage store.Store, dbPath string, notifier Notifier, config *Config) (*Daemon, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		ledger:   l,
		storage:  storage,
		notifier: notifier,
		dbPath:   dbPath,
		config:   config,
		logger:   config.logger(),
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins watching the database file.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")

	// Watch the directory, not the file: SQLite replaces and creates
	// sibling files (WAL, journal) and a watch on the file itself can be
	// lost across those operations.
	dir := filepath.Dir(d.dbPath)
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch database directory: %w", err)
	}

	d.logger.Printf("Watching: %s", d.dbPath)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processPending()

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.logger.Println("Daemon stopped")
	return nil
}

// watchFileEvents monitors filesystem events and marks the database dirty.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) == 0 {
				continue
			}

			if !d.isDatabaseFile(event.Name) {
				continue
			}

			d.markDirty()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

// isDatabaseFile reports whether path is the database or one of its SQLite
// sidecar files.
func (d *Daemon) isDatabaseFile(path string) bool {
	base := filepath.Base(d.dbPath)
	name := filepath.Base(path)
	return name == base || strings.HasPrefix(name, base+"-")
}

// markDirty records that the database changed on disk.
func (d *Daemon) markDirty() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending = true
	d.pendingAt = time.Now()
}

// processPending reloads the ledger once file events have settled.
func (d *Daemon) processPending() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.pendingMu.Lock()
			ready := d.pending && time.Since(d.pendingAt) >= d.config.DebounceInterval
			if ready {
				d.pending = false
			}
			d.pendingMu.Unlock()

			if !ready {
				continue
			}

			changed, err := d.reloadIfChanged(d.ctx)
			if err != nil {
				d.logger.Printf("Error reloading ledger: %v", err)
				continue
			}
			if changed {
				d.logger.Println("Ledger reloaded from external edit")
				if d.notifier != nil {
					d.notifier.NotifyChange()
				}
			}
		}
	}
}

// reloadIfChanged reads the persisted snapshot and restores it into the
// ledger when it differs from the ledger's current state. Comparing against
// the current serialization filters out this process's own writes, so a save
// triggered by Bind or by a sync restore never loops back as a reload.
func (d *Daemon) reloadIfChanged(ctx context.Context) (bool, error) {
	raw, ok, err := d.storage.GetItem(ctx, store.KeyAccount)
	if err != nil {
		return false, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}

	current, err := json.Marshal(d.ledger.Snapshot())
	if err != nil {
		return false, fmt.Errorf("failed to serialize current snapshot: %w", err)
	}
	if raw == string(current) {
		return false, nil
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return false, fmt.Errorf("persisted snapshot is not valid JSON: %w", err)
	}

	if err := d.ledger.RestoreSnapshot(ctx, snap, nil); err != nil {
		return false, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	return true, nil
}
