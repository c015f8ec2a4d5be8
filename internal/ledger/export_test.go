package ledger

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestExportImportRoundTrip(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	l := NewWithClock(clock.Now)
	work := addTestMeter(t, l, "work", 1.0)
	addTestMeter(t, l, "rest", -0.5)

	if err := l.ActivateMeter(work.ID); err != nil {
		t.Fatalf("ActivateMeter failed: %v", err)
	}
	clock.Advance(time.Hour)
	l.DeactivateMeter()

	blob, err := l.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	fresh := NewWithClock(clock.Now)
	if err := fresh.Import(blob); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if diff := cmp.Diff(l.Meters(), fresh.Meters()); diff != "" {
		t.Errorf("meters differ after round trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(l.Events(), fresh.Events()); diff != "" {
		t.Errorf("events differ after round trip (-want +got):\n%s", diff)
	}
}

func TestExportWireFormat(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	l := NewWithClock(clock.Now)
	m := addTestMeter(t, l, "work", 1.0)
	if err := l.ActivateMeter(m.ID); err != nil {
		t.Fatalf("ActivateMeter failed: %v", err)
	}

	blob, err := l.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		t.Fatalf("export blob is not valid JSON: %v", err)
	}
	for _, field := range []string{"exportedAt", "meters", "events"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("export blob missing %q field", field)
		}
	}

	// Open events serialize their end as an explicit null.
	if !strings.Contains(blob, `"endTime": null`) {
		t.Errorf("active event should carry a null endTime:\n%s", blob)
	}
}

func TestImportRenumbersDisplayOrder(t *testing.T) {
	blob := `{
		"exportedAt": "2025-06-01T09:00:00Z",
		"meters": [
			{"id": "6e7cdbbe-37b1-4be0-8a73-9a67c6a0ba11", "name": "b", "factor": 2, "displayOrder": 7},
			{"id": "0f2460eb-75ac-4d43-a5ae-90b9b9bfdd42", "name": "a", "factor": 1, "displayOrder": 3}
		],
		"events": []
	}`

	l := New()
	if err := l.Import(blob); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	meters := l.Meters()
	for i, m := range meters {
		if m.DisplayOrder != i {
			t.Errorf("meter %d DisplayOrder = %d, want %d", i, m.DisplayOrder, i)
		}
	}
}

func TestImportRejectsBadBlobs(t *testing.T) {
	l := New()
	addTestMeter(t, l, "keep", 1.0)

	cases := []struct {
		name string
		blob string
	}{
		{"unparsable", "{not json"},
		{"no meters", `{"exportedAt": "2025-06-01T09:00:00Z", "meters": [], "events": []}`},
		{"duplicate factors", `{
			"exportedAt": "2025-06-01T09:00:00Z",
			"meters": [
				{"id": "6e7cdbbe-37b1-4be0-8a73-9a67c6a0ba11", "name": "a", "factor": 1.0, "displayOrder": 0},
				{"id": "0f2460eb-75ac-4d43-a5ae-90b9b9bfdd42", "name": "b", "factor": 1.0, "displayOrder": 1}
			],
			"events": []
		}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := l.Import(tc.blob); !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			meters := l.Meters()
			if len(meters) != 1 || meters[0].Name != "keep" {
				t.Errorf("ledger modified by rejected import: %+v", meters)
			}
		})
	}
}

func TestImportClosesOrphanedActiveEvents(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	l := NewWithClock(clock.Now)
	m := addTestMeter(t, l, "work", 2.0)
	if err := l.ActivateMeter(m.ID); err != nil {
		t.Fatalf("ActivateMeter failed: %v", err)
	}
	clock.Advance(time.Hour)

	blob, err := l.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	// Replace the meter set so the active event's factor no longer exists.
	var data ExportData
	if err := json.Unmarshal([]byte(blob), &data); err != nil {
		t.Fatalf("failed to reparse export: %v", err)
	}
	data.Meters = []*Meter{NewMeter("other", 1.0)}
	edited, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("failed to remarshal export: %v", err)
	}

	if err := l.Import(string(edited)); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if l.ActiveEvent() != nil {
		t.Error("expected orphaned active event closed on import")
	}
}
