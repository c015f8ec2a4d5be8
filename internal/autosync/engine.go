// Package autosync keeps the local ledger and a remote backup convergent
// without user intervention.
//
// The engine runs two independent timer-driven tasks: a trailing-edge
// debounce that collapses bursts of ledger changes into a single push, and a
// fixed-interval poll that detects external changes through the backup's
// modification time. A restore re-imports the remote snapshot into the
// ledger; the change notification that import fires is swallowed by a
// re-entrancy guard so a pull never re-arms the push.
//
// Conflict resolution is last-write-wins at whole-snapshot granularity.
// There is no field-level merge: concurrent edits on two devices inside one
// polling interval can silently lose one side's changes. This is a known
// limitation, not a bug.
package autosync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/marsop/budgetr/internal/ledger"
	"github.com/marsop/budgetr/internal/remote"
	"github.com/marsop/budgetr/internal/store"
)

// ErrNotAuthenticated is returned by Enable and SyncNow when the remote
// store has no usable session. The caller must authenticate and retry.
var ErrNotAuthenticated = errors.New("auto-sync requires a signed-in remote session")

// Config holds engine tuning knobs.
type Config struct {
	// DebounceInterval is the quiet period after the last ledger change
	// before a push fires (trailing edge).
	DebounceInterval time.Duration

	// PollInterval is how often remote metadata is checked for drift.
	PollInterval time.Duration

	// ClockSkewTolerance is the slack allowed before a newer remote
	// modification time counts as a genuine external change.
	ClockSkewTolerance time.Duration

	// Logger for engine activity.
	Logger *log.Logger

	// Clock reads the current time; tests override it.
	Clock func() time.Time
}

// DefaultConfig returns the production intervals.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval:   1000 * time.Millisecond,
		PollInterval:       30 * time.Second,
		ClockSkewTolerance: time.Second,
		Logger:             log.New(os.Stderr, "[autosync] ", log.LstdFlags),
		Clock:              time.Now,
	}
}

// Engine is the auto-sync state machine. It owns the sync state and only
// ever calls the ledger's public operations; ledger fields are never
// touched directly.
type Engine struct {
	ledger      *ledger.Ledger
	ledgerStore *store.LedgerStore
	storage     store.Store
	remote      remote.Store
	config      *Config

	mu                 sync.Mutex
	enabled            bool
	restoring          bool
	status             Status
	lastSyncTime       *time.Time
	lastRemoteModified *time.Time
	statusSubs         map[int]chan Status
	nextSub            int

	// changeCh carries external pokes (e.g. the daemon's file watcher);
	// ledger mutations arrive through the subscription set up by Enable.
	changeCh      chan struct{}
	ledgerChanges <-chan struct{}
	unsubscribe   func()
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates a disabled engine. Call Enable or TryRestoreState to start it.
func New(l *ledger.Ledger, ls *store.LedgerStore, storage store.Store, r remote.Store, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[autosync] ", log.LstdFlags)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Engine{
		ledger:      l,
		ledgerStore: ls,
		storage:     storage,
		remote:      r,
		config:      config,
		status:      StatusIdle,
		statusSubs:  make(map[int]chan Status),
		changeCh:    make(chan struct{}, 1),
	}
}

// Enabled reports whether auto-sync is running.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Status returns the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSyncTime returns the last successful sync time, or nil if never synced.
func (e *Engine) LastSyncTime() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSyncTime == nil {
		return nil
	}
	t := *e.lastSyncTime
	return &t
}

// Restoring reports whether a remote-originated import is in progress.
func (e *Engine) Restoring() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restoring
}

// StatusChanges registers a status observer. The channel holds the most
// recent transition; the returned func unsubscribes.
func (e *Engine) StatusChanges() (<-chan Status, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan Status, 1)
	e.statusSubs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.statusSubs, id)
	}
}

// NotifyChange requests a debounced push, as a ledger change would. The
// daemon's file watcher uses this for edits made by other processes.
// Ignored while a restore is importing.
func (e *Engine) NotifyChange() {
	if e.Restoring() {
		return
	}
	select {
	case e.changeCh <- struct{}{}:
	default:
	}
}

// Enable turns auto-sync on. It requires an authenticated remote session,
// persists the enabled flag so it survives restarts, seeds the remembered
// remote modification time, and starts the debounce and poll tasks.
//
// The remembered remote time is seeded from the persisted last-sync time
// when one exists, otherwise from the remote's current metadata — so a
// never-synced install does not clobber an existing unrelated backup on its
// first poll.
func (e *Engine) Enable(ctx context.Context) error {
	e.mu.Lock()
	if e.enabled {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	authed, err := e.remote.IsAuthenticated(ctx)
	if err != nil {
		return fmt.Errorf("failed to check remote session: %w", err)
	}
	if !authed {
		return ErrNotAuthenticated
	}

	if err := e.storage.SetItem(ctx, store.KeyAutoSyncEnabled, "true"); err != nil {
		return fmt.Errorf("failed to persist auto-sync flag: %w", err)
	}

	lastSync := e.loadLastSyncTime(ctx)

	var lastRemote *time.Time
	if lastSync != nil {
		t := *lastSync
		lastRemote = &t
	} else if modified, ok, err := e.remote.LastModified(ctx); err == nil && ok {
		lastRemote = modified
	}

	changes, unsubscribe := e.ledger.Subscribe()
	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.enabled = true
	e.lastSyncTime = lastSync
	e.lastRemoteModified = lastRemote
	e.ledgerChanges = changes
	e.unsubscribe = unsubscribe
	e.cancel = cancel
	e.mu.Unlock()

	e.setStatus(StatusIdle)

	e.wg.Add(1)
	go e.run(runCtx, changes)

	e.config.Logger.Printf("Auto-sync enabled (debounce=%v, poll=%v)",
		e.config.DebounceInterval, e.config.PollInterval)
	return nil
}

// Disable turns auto-sync off, persisting the flag and cancelling both
// timers. An in-flight push or restore is not interrupted; its outcome is
// ignored because subsequent operations re-check the enabled flag.
// Idempotent.
func (e *Engine) Disable(ctx context.Context) error {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return nil
	}
	e.enabled = false
	cancel := e.cancel
	unsubscribe := e.unsubscribe
	e.cancel = nil
	e.unsubscribe = nil
	e.mu.Unlock()

	if err := e.storage.SetItem(ctx, store.KeyAutoSyncEnabled, "false"); err != nil {
		e.config.Logger.Printf("WARNING: failed to persist auto-sync flag: %v", err)
	}

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	e.setStatus(StatusIdle)
	e.config.Logger.Println("Auto-sync disabled")
	return nil
}

// Close disables the engine and waits for its tasks to exit.
func (e *Engine) Close() error {
	if err := e.Disable(context.Background()); err != nil {
		return err
	}
	e.wg.Wait()
	return nil
}

// TryRestoreState re-enables auto-sync on startup when the persisted flag is
// set and the remote session is still usable. A session that expired while
// the app was closed leaves auto-sync disabled without error.
func (e *Engine) TryRestoreState(ctx context.Context) error {
	flag, ok, err := e.storage.GetItem(ctx, store.KeyAutoSyncEnabled)
	if err != nil {
		return fmt.Errorf("failed to read auto-sync flag: %w", err)
	}
	if !ok || flag != "true" {
		return nil
	}

	authed, err := e.remote.IsAuthenticated(ctx)
	if err != nil || !authed {
		e.config.Logger.Println("Auto-sync was enabled but the remote session is gone; staying disabled")
		return nil
	}

	return e.Enable(ctx)
}

// SyncNow pushes the current ledger snapshot immediately, bypassing the
// debounce. Used by the manual sync command.
func (e *Engine) SyncNow(ctx context.Context) error {
	return e.doSync(ctx)
}

// run is the engine's single event loop: all state transitions happen here,
// so engine operations are serialized without further locking.
func (e *Engine) run(ctx context.Context, changes <-chan struct{}) {
	defer e.wg.Done()

	debounce := time.NewTimer(e.config.DebounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	poll := time.NewTicker(e.config.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-changes:
			if e.Restoring() {
				continue
			}
			resetTimer(debounce, e.config.DebounceInterval)

		case <-e.changeCh:
			if e.Restoring() {
				continue
			}
			resetTimer(debounce, e.config.DebounceInterval)

		case <-debounce.C:
			e.performSync(context.Background())

		case <-poll.C:
			e.checkForRemoteChanges(context.Background())
		}
	}
}

// resetTimer re-arms a trailing-edge debounce timer.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// performSync is the debounced push handler. A lost session disables
// auto-sync; any other failure is transient and retried on the next change
// or poll.
func (e *Engine) performSync(ctx context.Context) {
	if !e.Enabled() {
		return
	}

	err := e.doSync(ctx)
	if err == nil {
		return
	}

	if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, remote.ErrNotAuthenticated) {
		e.config.Logger.Println("Remote session lost; disabling auto-sync")
		_ = e.Disable(ctx)
		e.setStatus(StatusFailed)
		return
	}

	e.config.Logger.Printf("Push failed (will retry): %v", err)
	e.setStatus(StatusFailed)
}

// doSync exports the ledger and uploads the snapshot.
func (e *Engine) doSync(ctx context.Context) error {
	e.setStatus(StatusSyncing)

	authed, err := e.remote.IsAuthenticated(ctx)
	if err != nil {
		e.setStatus(StatusFailed)
		return fmt.Errorf("failed to check remote session: %w", err)
	}
	if !authed {
		e.setStatus(StatusFailed)
		return ErrNotAuthenticated
	}

	blob, err := e.ledger.Export()
	if err != nil {
		e.setStatus(StatusFailed)
		return fmt.Errorf("failed to export ledger: %w", err)
	}

	modified, err := e.remote.Upload(ctx, blob)
	if err != nil {
		e.setStatus(StatusFailed)
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	now := e.config.Clock()
	if modified == nil {
		modified = &now
	}

	e.mu.Lock()
	e.lastSyncTime = &now
	e.lastRemoteModified = modified
	e.mu.Unlock()

	e.persistLastSyncTime(ctx, now)
	e.setStatus(StatusSuccess)
	e.config.Logger.Printf("Backup completed at %s", now.Format(time.RFC3339))
	return nil
}

// checkForRemoteChanges is the poll handler: metadata only, with a
// clock-skew tolerance before a newer remote timestamp counts as drift.
func (e *Engine) checkForRemoteChanges(ctx context.Context) {
	if !e.Enabled() {
		return
	}

	modified, ok, err := e.remote.LastModified(ctx)
	if err != nil {
		e.config.Logger.Printf("Poll failed (will retry): %v", err)
		e.setStatus(StatusFailed)
		return
	}
	if !ok {
		return
	}

	e.mu.Lock()
	known := e.lastRemoteModified
	e.mu.Unlock()

	if known != nil && modified.Sub(*known) <= e.config.ClockSkewTolerance {
		return
	}

	e.config.Logger.Printf("Remote backup changed externally (modified %s); restoring",
		modified.Format(time.RFC3339))
	e.restoreData(ctx, *modified)
}

// restoreData downloads the remote snapshot and imports it. The restoring
// guard is set before the import and cleared unconditionally afterward, and
// the change notification the import fires is drained before the guard
// drops, so the pull never schedules a push.
func (e *Engine) restoreData(ctx context.Context, remoteModified time.Time) {
	if !e.Enabled() {
		return
	}

	e.mu.Lock()
	e.restoring = true
	e.mu.Unlock()

	defer func() {
		e.drainChangeSignals()
		e.mu.Lock()
		e.restoring = false
		e.mu.Unlock()
	}()

	e.setStatus(StatusSyncing)

	content, ok, err := e.remote.Download(ctx)
	if err != nil {
		e.config.Logger.Printf("Restore download failed (will retry): %v", err)
		e.setStatus(StatusFailed)
		return
	}

	if ok && content != "" {
		if err := e.ledger.Import(content); err != nil {
			// Corrupt remote snapshot: skip it and stay Failed until the
			// next poll finds a good one.
			e.config.Logger.Printf("Remote snapshot rejected: %v", err)
			e.setStatus(StatusFailed)
			return
		}
		if err := e.ledgerStore.Save(ctx, e.ledger); err != nil {
			e.config.Logger.Printf("WARNING: failed to persist restored ledger: %v", err)
		}
	}

	now := e.config.Clock()
	e.mu.Lock()
	e.lastRemoteModified = &remoteModified
	e.lastSyncTime = &now
	e.mu.Unlock()

	e.persistLastSyncTime(ctx, now)
	e.setStatus(StatusSuccess)
	e.config.Logger.Printf("Restored remote backup from %s", remoteModified.Format(time.RFC3339))
}

// drainChangeSignals discards pending change signals produced by the
// restore's own import.
func (e *Engine) drainChangeSignals() {
	e.mu.Lock()
	changes := e.ledgerChanges
	e.mu.Unlock()

	if changes != nil {
		select {
		case <-changes:
		default:
		}
	}
	select {
	case <-e.changeCh:
	default:
	}
}

func (e *Engine) setStatus(status Status) {
	e.mu.Lock()
	e.status = status
	for _, ch := range e.statusSubs {
		select {
		case ch <- status:
		default:
			// Slow observer keeps the prior transition; replace it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- status:
			default:
			}
		}
	}
	e.mu.Unlock()
}

func (e *Engine) loadLastSyncTime(ctx context.Context) *time.Time {
	raw, ok, err := e.storage.GetItem(ctx, store.KeyAutoSyncLastSync)
	if err != nil || !ok {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func (e *Engine) persistLastSyncTime(ctx context.Context, t time.Time) {
	if err := e.storage.SetItem(ctx, store.KeyAutoSyncLastSync, t.Format(time.RFC3339)); err != nil {
		e.config.Logger.Printf("WARNING: failed to persist last sync time: %v", err)
	}
}
