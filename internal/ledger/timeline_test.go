package ledger

import (
	"math"
	"testing"
	"time"
)

func samplesEqual(t *testing.T, got []TimelinePoint, want []TimelinePoint) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("sample %d timestamp = %v, want %v", i, got[i].Timestamp, want[i].Timestamp)
		}
		if math.Abs(got[i].BalanceHours-want[i].BalanceHours) > 1e-9 {
			t.Errorf("sample %d balance = %g, want %g", i, got[i].BalanceHours, want[i].BalanceHours)
		}
	}
}

// Two closed events inside the window: one hour at +1 then one hour at -1,
// observed at 11:00 over a 2h window.
func TestTimelineTwoClosedEvents(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	l := NewWithClock(clock.Now)
	plus := addTestMeter(t, l, "+1x", 1.0)
	minus := addTestMeter(t, l, "-1x", -1.0)

	if err := l.ActivateMeter(plus.ID); err != nil {
		t.Fatalf("ActivateMeter failed: %v", err)
	}
	clock.Advance(time.Hour) // 10:00
	if err := l.ActivateMeter(minus.ID); err != nil {
		t.Fatalf("ActivateMeter failed: %v", err)
	}
	clock.Advance(time.Hour) // 11:00
	l.DeactivateMeter()

	at := func(h int) time.Time { return time.Date(2025, 6, 1, h, 0, 0, 0, time.UTC) }
	got := l.TimelineData(2 * time.Hour)
	samplesEqual(t, got, []TimelinePoint{
		{at(9), 0},
		{at(9), 0},
		{at(10), 1.0},
		{at(10), 1.0},
		{at(11), 0.0},
		{at(11), 0.0},
	})

	// Monotonic timestamps, first at window start, last at now.
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("timestamps not monotonic at %d: %+v", i, got)
		}
	}
}

// An event straddling the window start contributes only its in-window part,
// and the pre-window part seeds the opening balance.
func TestTimelineClipsEventAtWindowStart(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	l := NewWithClock(clock.Now)
	m := addTestMeter(t, l, "+2x", 2.0)

	if err := l.ActivateMeter(m.ID); err != nil {
		t.Fatalf("ActivateMeter failed: %v", err)
	}
	clock.Advance(3 * time.Hour) // 11:00, event 08:00-still-active

	got := l.TimelineData(2 * time.Hour) // window 09:00-11:00

	// One hour (08:00-09:00) accrued before the window at factor 2.
	if math.Abs(got[0].BalanceHours-2.0) > 1e-9 {
		t.Errorf("opening balance = %g, want 2.0", got[0].BalanceHours)
	}
	last := got[len(got)-1]
	if !last.Timestamp.Equal(clock.Now()) {
		t.Errorf("last sample at %v, want now (%v)", last.Timestamp, clock.Now())
	}
	if math.Abs(last.BalanceHours-6.0) > 1e-9 {
		t.Errorf("final balance = %g, want 6.0", last.BalanceHours)
	}
}

func TestTimelineEmptyLedger(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewWithClock(clock.Now)

	got := l.TimelineData(24 * time.Hour)
	if len(got) != 2 {
		t.Fatalf("expected window-start and now samples, got %d", len(got))
	}
	if got[0].BalanceHours != 0 || got[1].BalanceHours != 0 {
		t.Errorf("expected zero balances, got %+v", got)
	}
}
