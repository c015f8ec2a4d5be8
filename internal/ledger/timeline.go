package ledger

import (
	"sort"
	"time"
)

// TimelinePoint is one sample of the reconstructed balance series.
type TimelinePoint struct {
	Timestamp    time.Time `json:"timestamp"`
	BalanceHours float64   `json:"balanceHours"`
}

// TimelineData reconstructs the balance series over [now-period, now] from
// the event log. The result is ordered by timestamp, starts with a sample at
// the window start carrying the balance accumulated before the window, has a
// sample before and after every event transition inside the window, and ends
// with a sample at now. It is a pure read: the ledger is not mutated.
func (l *Ledger) TimelineData(period time.Duration) []TimelinePoint {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-period)

	// Seed the running balance with everything accrued before the window,
	// clipping so no event contributes past the window start.
	var running float64
	for _, e := range l.events {
		if !e.StartTime.Before(windowStart) {
			continue
		}
		end := windowStart
		if e.EndTime != nil && e.EndTime.Before(windowStart) {
			end = *e.EndTime
		}
		running += end.Sub(e.StartTime).Hours() * e.Factor
	}

	points := []TimelinePoint{{Timestamp: windowStart, BalanceHours: running}}

	// Events overlapping the window, in start order.
	overlapping := make([]*Event, 0, len(l.events))
	for _, e := range l.events {
		end := now
		if e.EndTime != nil {
			end = *e.EndTime
		}
		if !e.StartTime.After(now) && !end.Before(windowStart) {
			overlapping = append(overlapping, e)
		}
	}
	sort.SliceStable(overlapping, func(i, j int) bool {
		return overlapping[i].StartTime.Before(overlapping[j].StartTime)
	})

	for _, e := range overlapping {
		if !e.StartTime.Before(windowStart) {
			points = append(points, TimelinePoint{Timestamp: e.StartTime, BalanceHours: running})
		}

		start := e.StartTime
		if start.Before(windowStart) {
			start = windowStart
		}
		end := now
		if e.EndTime != nil && e.EndTime.Before(now) {
			end = *e.EndTime
		}
		running += end.Sub(start).Hours() * e.Factor

		if e.EndTime != nil && !e.EndTime.After(now) {
			points = append(points, TimelinePoint{Timestamp: *e.EndTime, BalanceHours: running})
		}
	}

	points = append(points, TimelinePoint{Timestamp: now, BalanceHours: running})

	// Guard against any timestamp ordering edge case before returning.
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}
