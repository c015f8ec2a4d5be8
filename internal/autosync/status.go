package autosync

// Status is the engine's externally visible sync state.
type Status int

const (
	// StatusIdle means auto-sync is waiting for changes.
	StatusIdle Status = iota
	// StatusSyncing means a push or restore is in flight.
	StatusSyncing
	// StatusSuccess means the last push or restore completed.
	StatusSuccess
	// StatusFailed means the last push, poll, or restore failed. Transient
	// failures are retried on the next change or poll cycle.
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
