package store

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/marsop/budgetr/internal/ledger"
)

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(os.Stderr, "[test] ", 0)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	ls := NewLedgerStore(NewMemory(), testLogger(t))

	l := ledger.New()
	m, err := l.AddMeter("work", 1.0)
	if err != nil {
		t.Fatalf("AddMeter failed: %v", err)
	}
	if err := l.ActivateMeter(m.ID); err != nil {
		t.Fatalf("ActivateMeter failed: %v", err)
	}
	l.DeactivateMeter()
	l.SetTimelinePeriod(48 * time.Hour)

	if err := ls.Save(ctx, l); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := ledger.New()
	if err := ls.Load(ctx, restored, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := len(restored.Meters()); got != 1 {
		t.Errorf("restored %d meters, want 1", got)
	}
	if got := len(restored.Events()); got != 1 {
		t.Errorf("restored %d events, want 1", got)
	}
	if got := restored.TimelinePeriod(); got != 48*time.Hour {
		t.Errorf("restored timeline period %v, want 48h", got)
	}
}

func TestLoadEmptyStoreUsesDefaults(t *testing.T) {
	ctx := context.Background()
	ls := NewLedgerStore(NewMemory(), testLogger(t))

	l := ledger.New()
	if err := ls.Load(ctx, l, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	meters := l.Meters()
	if len(meters) != 2 || meters[0].Name != "+1x" || meters[1].Name != "-1x" {
		t.Fatalf("expected default meter pair, got %+v", meters)
	}
}

func TestLoadCorruptSnapshotFallsBack(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	if err := mem.SetItem(ctx, KeyAccount, "{corrupt"); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	ls := NewLedgerStore(mem, testLogger(t))

	l := ledger.New()
	if err := ls.Load(ctx, l, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := len(l.Meters()); got == 0 {
		t.Error("expected fallback meters after corrupt snapshot")
	}

	// Load persists the corrected state back over the corrupt blob.
	raw, ok, err := mem.GetItem(ctx, KeyAccount)
	if err != nil || !ok {
		t.Fatalf("GetItem after Load = (%v, %v)", ok, err)
	}
	if raw == "{corrupt" {
		t.Error("expected corrected snapshot persisted back")
	}
}

func TestBindPersistsOnChange(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	ls := NewLedgerStore(mem, testLogger(t))

	l := ledger.Default()
	stop := ls.Bind(ctx, l)
	defer stop()

	if _, err := l.AddMeter("extra", 2.0); err != nil {
		t.Fatalf("AddMeter failed: %v", err)
	}

	// The bound saver runs asynchronously; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := mem.GetItem(ctx, KeyAccount); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("ledger change was never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
