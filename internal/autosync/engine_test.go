package autosync

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/marsop/budgetr/internal/ledger"
	"github.com/marsop/budgetr/internal/remote"
	"github.com/marsop/budgetr/internal/store"
)

// testConfig returns intervals short enough for the tests to observe both
// timer paths without long sleeps.
func testConfig() *Config {
	return &Config{
		DebounceInterval:   40 * time.Millisecond,
		PollInterval:       25 * time.Millisecond,
		ClockSkewTolerance: time.Second,
		Logger:             log.New(io.Discard, "", 0),
		Clock:              time.Now,
	}
}

type testEnv struct {
	ledger  *ledger.Ledger
	storage *store.Memory
	remote  *remote.Memory
	engine  *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	l := ledger.Default()
	storage := store.NewMemory()
	r := remote.NewMemory()
	ls := store.NewLedgerStore(storage, log.New(io.Discard, "", 0))
	e := New(l, ls, storage, r, testConfig())

	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	return &testEnv{ledger: l, storage: storage, remote: r, engine: e}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func meterNames(l *ledger.Ledger) map[string]bool {
	names := make(map[string]bool)
	for _, m := range l.Meters() {
		names[m.Name] = true
	}
	return names
}

func TestEnableRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	env.remote.ExpireSession()

	err := env.engine.Enable(context.Background())
	if err != ErrNotAuthenticated {
		t.Fatalf("Enable with expired session: got %v, want ErrNotAuthenticated", err)
	}
	if env.engine.Enabled() {
		t.Error("engine should stay disabled after failed Enable")
	}
}

func TestEnablePersistsFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	flag, ok, err := env.storage.GetItem(ctx, store.KeyAutoSyncEnabled)
	if err != nil || !ok || flag != "true" {
		t.Errorf("persisted flag after Enable: got %q ok=%v err=%v, want \"true\"", flag, ok, err)
	}

	if err := env.engine.Disable(ctx); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	flag, _, _ = env.storage.GetItem(ctx, store.KeyAutoSyncEnabled)
	if flag != "false" {
		t.Errorf("persisted flag after Disable: got %q, want \"false\"", flag)
	}
}

func TestDebounceCoalescesBurstIntoOnePush(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	for i, factor := range []float64{2.0, 3.0, 4.0} {
		if _, err := env.ledger.AddMeter("Burst", factor); err != nil {
			t.Fatalf("AddMeter %d failed: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return env.remote.Uploads() >= 1
	}, "expected the debounced push to fire")

	// Let any stragglers land, then check the burst collapsed.
	time.Sleep(150 * time.Millisecond)
	if got := env.remote.Uploads(); got != 1 {
		t.Errorf("uploads after burst: got %d, want 1", got)
	}
	if env.engine.Status() != StatusSuccess {
		t.Errorf("status after push: got %v, want %v", env.engine.Status(), StatusSuccess)
	}
	if env.engine.LastSyncTime() == nil {
		t.Error("LastSyncTime should be set after a successful push")
	}
}

func TestSyncNowBypassesDebounce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if got := env.remote.Uploads(); got != 1 {
		t.Errorf("uploads after SyncNow: got %d, want 1", got)
	}
	if env.engine.Status() != StatusSuccess {
		t.Errorf("status after SyncNow: got %v, want %v", env.engine.Status(), StatusSuccess)
	}
}

func TestSyncNowWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	env.remote.ExpireSession()

	err := env.engine.SyncNow(context.Background())
	if err != ErrNotAuthenticated {
		t.Fatalf("SyncNow without session: got %v, want ErrNotAuthenticated", err)
	}
	if env.engine.Status() != StatusFailed {
		t.Errorf("status: got %v, want %v", env.engine.Status(), StatusFailed)
	}
}

func TestPollRestoresExternalChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.SyncNow(ctx); err != nil {
		t.Fatalf("initial SyncNow failed: %v", err)
	}
	if err := env.engine.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	// Another device pushes a snapshot with an extra meter, well past the
	// skew tolerance.
	other := ledger.Default()
	if _, err := other.AddMeter("Elsewhere", 5.0); err != nil {
		t.Fatalf("AddMeter failed: %v", err)
	}
	blob, err := other.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	env.remote.PutExternal(blob, time.Now().Add(10*time.Second))

	waitFor(t, 2*time.Second, func() bool {
		return meterNames(env.ledger)["Elsewhere"]
	}, "expected the poll to restore the external snapshot")

	// The restore's own import must not echo back as a push.
	uploads := env.remote.Uploads()
	time.Sleep(200 * time.Millisecond)
	if got := env.remote.Uploads(); got != uploads {
		t.Errorf("restore echoed a push: uploads went %d -> %d", uploads, got)
	}
}

func TestPollIgnoresChangeWithinSkewTolerance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.SyncNow(ctx); err != nil {
		t.Fatalf("initial SyncNow failed: %v", err)
	}
	if err := env.engine.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	last := env.engine.LastSyncTime()
	if last == nil {
		t.Fatal("LastSyncTime should be set")
	}

	other := ledger.Default()
	if _, err := other.AddMeter("Skewed", 5.0); err != nil {
		t.Fatalf("AddMeter failed: %v", err)
	}
	blob, err := other.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	env.remote.PutExternal(blob, last.Add(500*time.Millisecond))

	time.Sleep(200 * time.Millisecond)
	if meterNames(env.ledger)["Skewed"] {
		t.Error("a remote timestamp within the skew tolerance must not trigger a restore")
	}
}

func TestEnableSeedsFromRemoteMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A pre-existing backup from another install; this device has never
	// synced. Enabling must not treat it as drift and clobber the ledger.
	other := ledger.Default()
	if _, err := other.AddMeter("Preexisting", 5.0); err != nil {
		t.Fatalf("AddMeter failed: %v", err)
	}
	blob, err := other.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	env.remote.PutExternal(blob, time.Now().Add(-time.Hour))

	if err := env.engine.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if meterNames(env.ledger)["Preexisting"] {
		t.Error("Enable must seed the known remote time so a stable backup is not re-imported")
	}
}

func TestCorruptRemoteSnapshotKeepsLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.SyncNow(ctx); err != nil {
		t.Fatalf("initial SyncNow failed: %v", err)
	}
	if err := env.engine.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	before := len(env.ledger.Meters())
	env.remote.PutExternal("{not json", time.Now().Add(10*time.Second))

	waitFor(t, 2*time.Second, func() bool {
		return env.engine.Status() == StatusFailed
	}, "expected the rejected snapshot to mark the sync failed")

	if got := len(env.ledger.Meters()); got != before {
		t.Errorf("meters after rejected import: got %d, want %d", got, before)
	}
	if !env.engine.Enabled() {
		t.Error("a corrupt snapshot is transient and must not disable auto-sync")
	}
}

func TestLostSessionDisablesAutoSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	env.remote.ExpireSession()
	if _, err := env.ledger.AddMeter("Doomed", 5.0); err != nil {
		t.Fatalf("AddMeter failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return !env.engine.Enabled()
	}, "expected the failed push to disable auto-sync")

	flag, _, _ := env.storage.GetItem(ctx, store.KeyAutoSyncEnabled)
	if flag != "false" {
		t.Errorf("persisted flag after auto-disable: got %q, want \"false\"", flag)
	}
}

func TestTryRestoreState(t *testing.T) {
	t.Run("flag absent stays disabled", func(t *testing.T) {
		env := newTestEnv(t)
		if err := env.engine.TryRestoreState(context.Background()); err != nil {
			t.Fatalf("TryRestoreState failed: %v", err)
		}
		if env.engine.Enabled() {
			t.Error("engine should stay disabled without a persisted flag")
		}
	})

	t.Run("flag set with live session re-enables", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		if err := env.storage.SetItem(ctx, store.KeyAutoSyncEnabled, "true"); err != nil {
			t.Fatalf("SetItem failed: %v", err)
		}
		if err := env.engine.TryRestoreState(ctx); err != nil {
			t.Fatalf("TryRestoreState failed: %v", err)
		}
		if !env.engine.Enabled() {
			t.Error("engine should re-enable from the persisted flag")
		}
	})

	t.Run("flag set with expired session stays disabled", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		if err := env.storage.SetItem(ctx, store.KeyAutoSyncEnabled, "true"); err != nil {
			t.Fatalf("SetItem failed: %v", err)
		}
		env.remote.ExpireSession()
		if err := env.engine.TryRestoreState(ctx); err != nil {
			t.Fatalf("TryRestoreState should not fail on an expired session: %v", err)
		}
		if env.engine.Enabled() {
			t.Error("engine must stay disabled when the session is gone")
		}
	})
}

func TestStatusChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	statuses, unsubscribe := env.engine.StatusChanges()
	defer unsubscribe()

	if err := env.engine.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	select {
	case got := <-statuses:
		// The buffered channel keeps only the latest transition, so either
		// the syncing or the success notification may surface first.
		if got != StatusSyncing && got != StatusSuccess {
			t.Errorf("unexpected status %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a status notification")
	}
}

func TestDisableIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.Disable(ctx); err != nil {
		t.Fatalf("Disable on a disabled engine failed: %v", err)
	}
	if err := env.engine.Enable(ctx); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if err := env.engine.Disable(ctx); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if err := env.engine.Disable(ctx); err != nil {
		t.Fatalf("second Disable failed: %v", err)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusIdle:    "idle",
		StatusSyncing: "syncing",
		StatusSuccess: "success",
		StatusFailed:  "failed",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}
