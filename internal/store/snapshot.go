package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/marsop/budgetr/internal/ledger"
)

// LedgerStore persists and loads the ledger snapshot under KeyAccount.
type LedgerStore struct {
	store  Store
	logger *log.Logger
}

// NewLedgerStore creates a ledger store over the given key/value storage.
// If logger is nil, a default logger writing to stderr is used.
func NewLedgerStore(store Store, logger *log.Logger) *LedgerStore {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &LedgerStore{store: store, logger: logger}
}

// Save serializes the ledger snapshot and writes it under KeyAccount.
func (s *LedgerStore) Save(ctx context.Context, l *ledger.Ledger) error {
	snap := l.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize ledger snapshot: %w", err)
	}
	if err := s.store.SetItem(ctx, KeyAccount, string(raw)); err != nil {
		return fmt.Errorf("failed to persist ledger snapshot: %w", err)
	}
	return nil
}

// Load restores the ledger from the persisted snapshot.
//
// An absent or corrupt snapshot falls back to an empty one, which makes
// RestoreSnapshot consult the meter configuration collaborator (or the
// built-in defaults). The possibly corrected state is persisted back, so the
// orphan auto-close and timeline-period migration survive a restart.
func (s *LedgerStore) Load(ctx context.Context, l *ledger.Ledger, meterCfg ledger.MeterConfig) error {
	var snap ledger.Snapshot

	raw, ok, err := s.store.GetItem(ctx, KeyAccount)
	if err != nil {
		return fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			// Corrupt local snapshot: start from defaults rather than fail.
			s.logger.Printf("WARNING: persisted snapshot is corrupt, falling back to defaults: %v", err)
			snap = ledger.Snapshot{}
		}
	}

	if err := l.RestoreSnapshot(ctx, snap, meterCfg); err != nil {
		return fmt.Errorf("failed to restore ledger snapshot: %w", err)
	}

	return s.Save(ctx, l)
}

// Bind persists the ledger after every change notification until ctx is
// cancelled. Long-running processes (daemon, dashboard) use this so edits
// arriving through any path reach disk; one-shot commands save explicitly.
// Notification delivery happens before the persistence attempt, so observers
// are never gated on storage.
func (s *LedgerStore) Bind(ctx context.Context, l *ledger.Ledger) func() {
	changes, unsubscribe := l.Subscribe()
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-changes:
				if err := s.Save(ctx, l); err != nil {
					// Persistence is best-effort here; the next change retries.
					s.logger.Printf("WARNING: failed to persist ledger: %v", err)
				}
			}
		}
	}()

	return func() {
		unsubscribe()
		close(stop)
		<-done
	}
}
