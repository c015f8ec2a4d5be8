package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportData is the durable backup wire format. Field names are stable and
// round-trip losslessly; timestamps serialize as ISO-8601 (RFC 3339).
type ExportData struct {
	ExportedAt time.Time `json:"exportedAt"`
	Meters     []*Meter  `json:"meters"`
	Events     []*Event  `json:"events"`
}

// Export serializes a point-in-time snapshot of meters and events.
func (l *Ledger) Export() (string, error) {
	l.mu.Lock()
	data := ExportData{
		ExportedAt: l.now(),
		Meters:     cloneMeters(l.meters),
		Events:     cloneEvents(l.events),
	}
	l.mu.Unlock()

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize export data: %w", err)
	}
	return string(out), nil
}

// Import replaces the ledger's meters and events wholesale from an exported
// blob. The blob must parse, contain at least one meter, and carry no two
// meters with the same factor (within FactorEpsilon); otherwise the existing
// ledger is left untouched. On success, display order is renumbered to the
// imported sequence and orphaned active events are force-closed.
func (l *Ledger) Import(blob string) error {
	var data ExportData
	if err := json.Unmarshal([]byte(blob), &data); err != nil {
		return &ValidationError{Field: "import data", Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}

	if len(data.Meters) == 0 {
		return &ValidationError{Field: "import data", Reason: "must contain at least one meter"}
	}

	for i, a := range data.Meters {
		for _, b := range data.Meters[i+1:] {
			if a.SameFactor(b.Factor) {
				return &ValidationError{
					Field:  "import data",
					Reason: fmt.Sprintf("duplicate meter factor %s: each meter must have a unique factor", FormatFactorName(a.Factor)),
				}
			}
		}
	}

	for i, m := range data.Meters {
		m.DisplayOrder = i
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.meters = data.Meters
	l.events = data.Events
	if l.events == nil {
		l.events = []*Event{}
	}
	l.closeOrphansLocked()
	l.notifyLocked()
	return nil
}
