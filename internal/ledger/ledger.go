// Package ledger implements the in-memory time-budget ledger: an ordered
// registry of rate meters and an append-only log of accrual events, together
// with balance and timeline reconstruction over that log.
//
// The ledger is the exclusive owner of its meters and events. Collaborators
// (persistence, auto-sync, dashboard) interact only through its public
// operations and observe mutations through Subscribe. A change notification
// always fires before the caller's persistence attempt, so observers are
// never blocked on storage latency.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimelinePeriod is the timeline window used when no period has been
// persisted (including snapshots written before the period existed).
const DefaultTimelinePeriod = 24 * time.Hour

// MeterConfig supplies meters when none were persisted, e.g. a deployment's
// preconfigured meter set. It is an external collaborator of Load.
type MeterConfig interface {
	LoadMeters(ctx context.Context) ([]*Meter, error)
}

// Ledger aggregates the meter registry and event log for one user or device.
//
// Invariants maintained by every operation:
//   - at most one event is active (EndTime == nil) at any time
//   - no two meters share a factor within FactorEpsilon
type Ledger struct {
	mu             sync.Mutex
	meters         []*Meter
	events         []*Event
	timelinePeriod time.Duration
	now            func() time.Time

	subs    map[int]chan struct{}
	nextSub int
}

// New creates an empty ledger with the default timeline period.
func New() *Ledger {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty ledger that reads the current time from now.
// Tests use this to drive balance and timeline computation deterministically.
func NewWithClock(now func() time.Time) *Ledger {
	return &Ledger{
		timelinePeriod: DefaultTimelinePeriod,
		now:            now,
		subs:           make(map[int]chan struct{}),
	}
}

// Default creates a ledger preloaded with the historical "+1x"/"-1x" pair.
func Default() *Ledger {
	l := New()
	l.meters = DefaultMeters()
	return l
}

// DefaultMeters returns the historical default meter pair.
func DefaultMeters() []*Meter {
	return []*Meter{
		{ID: uuid.New(), Name: "+1x", Factor: 1.0, DisplayOrder: 0},
		{ID: uuid.New(), Name: "-1x", Factor: -1.0, DisplayOrder: 1},
	}
}

// Subscribe registers a change observer. The returned channel receives a
// (coalesced) signal after every mutation; the returned func unsubscribes.
// The channel has a buffer of one and notifications never block, so a slow
// observer sees at least one signal for any burst of changes.
func (l *Ledger) Subscribe() (<-chan struct{}, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSub
	l.nextSub++
	ch := make(chan struct{}, 1)
	l.subs[id] = ch

	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

func (l *Ledger) notifyLocked() {
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Meters returns a copy of the registry in insertion order.
func (l *Ledger) Meters() []*Meter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneMeters(l.meters)
}

// Events returns a copy of the event log in insertion order.
func (l *Ledger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneEvents(l.events)
}

// ActiveEvent returns a copy of the active event, or nil if nothing is running.
func (l *Ledger) ActiveEvent() *Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.activeLocked(); e != nil {
		return e.clone()
	}
	return nil
}

// TimelinePeriod returns the configured timeline window.
func (l *Ledger) TimelinePeriod() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timelinePeriod
}

// SetTimelinePeriod updates the timeline window, notifying only on change.
func (l *Ledger) SetTimelinePeriod(period time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timelinePeriod == period {
		return
	}
	l.timelinePeriod = period
	l.notifyLocked()
}

// ActivateMeter starts accruing against the meter with the given ID.
// Any running event is closed first, even when the meter turns out not to
// exist. Returns ErrUnknownMeter if no meter has that ID.
func (l *Ledger) ActivateMeter(meterID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.deactivateLocked()

	meter := l.meterByIDLocked(meterID)
	if meter == nil {
		return ErrUnknownMeter
	}

	l.events = append(l.events, &Event{
		ID:        uuid.New(),
		StartTime: l.now(),
		Factor:    meter.Factor,
		MeterName: meter.Name,
	})
	l.notifyLocked()
	return nil
}

// DeactivateMeter closes the active event, if any. No-op otherwise.
func (l *Ledger) DeactivateMeter() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deactivateLocked() {
		l.notifyLocked()
	}
}

// DeleteEvent removes the event with the given ID, if present.
func (l *Ledger) DeleteEvent(eventID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.events {
		if e.ID == eventID {
			l.events = append(l.events[:i], l.events[i+1:]...)
			l.notifyLocked()
			return
		}
	}
}

// AddMeter appends a new meter to the registry. The name must satisfy the
// length rule, the factor must be within [MinFactor, MaxFactor], and no
// existing meter may carry the same factor within FactorEpsilon.
func (l *Ledger) AddMeter(name string, factor float64) (*Meter, error) {
	if err := validateMeterName(name); err != nil {
		return nil, err
	}
	if err := validateFactor(factor); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range l.meters {
		if m.SameFactor(factor) {
			return nil, &ValidationError{
				Field:  "factor",
				Reason: "a meter with factor " + FormatFactorName(factor) + " already exists",
			}
		}
	}

	meter := NewMeter(name, factor)
	meter.DisplayOrder = l.nextDisplayOrderLocked()
	l.meters = append(l.meters, meter)
	l.notifyLocked()
	return meter.cloneMeter(), nil
}

// RenameMeter changes a meter's display name. If the active event was started
// from this meter (matched by factor), its frozen name follows the rename so
// the running entry reflects the new name; closed events keep the name they
// were recorded with. Unknown IDs are a no-op.
func (l *Ledger) RenameMeter(meterID uuid.UUID, newName string) error {
	if err := validateMeterName(newName); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	meter := l.meterByIDLocked(meterID)
	if meter == nil {
		return nil
	}

	meter.Name = strings.TrimSpace(newName)

	if active := l.activeLocked(); active != nil && meter.SameFactor(active.Factor) {
		active.MeterName = meter.Name
	}

	l.notifyLocked()
	return nil
}

// DeleteMeter removes a meter from the registry. Returns ErrMeterActive when
// the active event belongs to the meter (matched by recorded name), since a
// running event cannot lose its meter out from under it.
func (l *Ledger) DeleteMeter(meterID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, m := range l.meters {
		if m.ID != meterID {
			continue
		}
		if active := l.activeLocked(); active != nil && active.MeterName == m.Name {
			return ErrMeterActive
		}
		l.meters = append(l.meters[:i], l.meters[i+1:]...)
		l.notifyLocked()
		return nil
	}
	return nil
}

// CurrentBalance returns the accrued balance in hours: the sum over all
// events of duration times factor, with the active event measured up to now.
func (l *Ledger) CurrentBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var balance float64
	for _, e := range l.events {
		balance += e.Contribution(now)
	}
	return balance
}

// Snapshot is the persisted local form of the ledger: the export wire shape
// plus the timeline period.
type Snapshot struct {
	Meters         []*Meter      `json:"meters"`
	Events         []*Event      `json:"events"`
	TimelinePeriod time.Duration `json:"timelinePeriod"`
}

// Snapshot returns a deep copy of the ledger's persistable state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Meters:         cloneMeters(l.meters),
		Events:         cloneEvents(l.events),
		TimelinePeriod: l.timelinePeriod,
	}
}

// RestoreSnapshot replaces the ledger's state from a persisted snapshot.
//
// A zero timeline period (snapshots written before the period existed) is
// migrated to the 24h default. If the snapshot carries no meters, the meter
// configuration collaborator supplies them. Active events whose factor no
// longer matches any surviving meter are force-closed: they cannot resume
// ticking against a meter that no longer exists.
func (l *Ledger) RestoreSnapshot(ctx context.Context, snap Snapshot, meterCfg MeterConfig) error {
	meters := snap.Meters
	if len(meters) == 0 && meterCfg != nil {
		loaded, err := meterCfg.LoadMeters(ctx)
		if err != nil {
			return err
		}
		meters = loaded
	}
	if len(meters) == 0 {
		meters = DefaultMeters()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.meters = meters
	l.events = snap.Events
	if snap.TimelinePeriod != 0 {
		l.timelinePeriod = snap.TimelinePeriod
	} else {
		l.timelinePeriod = DefaultTimelinePeriod
	}

	l.closeOrphansLocked()
	l.notifyLocked()
	return nil
}

// deactivateLocked closes the active event and reports whether one existed.
func (l *Ledger) deactivateLocked() bool {
	active := l.activeLocked()
	if active == nil {
		return false
	}
	end := l.now()
	active.EndTime = &end
	return true
}

func (l *Ledger) activeLocked() *Event {
	for _, e := range l.events {
		if e.Active() {
			return e
		}
	}
	return nil
}

func (l *Ledger) meterByIDLocked(id uuid.UUID) *Meter {
	for _, m := range l.meters {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (l *Ledger) nextDisplayOrderLocked() int {
	if len(l.meters) == 0 {
		return 0
	}
	max := l.meters[0].DisplayOrder
	for _, m := range l.meters[1:] {
		if m.DisplayOrder > max {
			max = m.DisplayOrder
		}
	}
	return max + 1
}

// closeOrphansLocked force-closes active events whose factor matches no
// meter in the registry.
func (l *Ledger) closeOrphansLocked() {
	for _, e := range l.events {
		if !e.Active() {
			continue
		}
		matched := false
		for _, m := range l.meters {
			if m.SameFactor(e.Factor) {
				matched = true
				break
			}
		}
		if !matched {
			end := l.now()
			e.EndTime = &end
		}
	}
}

func (m *Meter) cloneMeter() *Meter {
	c := *m
	return &c
}

func cloneMeters(meters []*Meter) []*Meter {
	out := make([]*Meter, len(meters))
	for i, m := range meters {
		out[i] = m.cloneMeter()
	}
	return out
}

func cloneEvents(events []*Event) []*Event {
	out := make([]*Event, len(events))
	for i, e := range events {
		out[i] = e.clone()
	}
	return out
}
