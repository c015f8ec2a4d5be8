package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Event records a closed or open accrual interval. Factor and MeterName are
// copied from the meter at activation time and frozen thereafter, so deleting
// or renaming a meter never rewrites history (except the active event on
// rename, see Ledger.RenameMeter).
type Event struct {
	ID        uuid.UUID  `json:"id"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"` // nil while the event is active
	Factor    float64    `json:"factor"`
	MeterName string     `json:"meterName"`
}

// Active reports whether the event is still accruing.
func (e *Event) Active() bool {
	return e.EndTime == nil
}

// Duration returns the event's elapsed time, measuring an active event
// against now.
func (e *Event) Duration(now time.Time) time.Duration {
	end := now
	if e.EndTime != nil {
		end = *e.EndTime
	}
	return end.Sub(e.StartTime)
}

// Contribution returns the event's balance contribution in hours:
// duration in hours times the recorded factor.
func (e *Event) Contribution(now time.Time) float64 {
	return e.Duration(now).Hours() * e.Factor
}

// clone returns a deep copy of the event.
func (e *Event) clone() *Event {
	c := *e
	if e.EndTime != nil {
		end := *e.EndTime
		c.EndTime = &end
	}
	return &c
}
