package jobs

// Status represents the lifecycle state of a background job. The
// numeric values are what gets persisted (status column and cache
// entries), so they must never be reordered.
//
// Status only moves forward: Started -> InProgress -> Completed|Failed.
type Status int

const (
	StatusStarted    Status = 0
	StatusInProgress Status = 1
	StatusCompleted  Status = 2
	StatusFailed     Status = 3
)

// Terminal reports whether no further ordinary updates are allowed.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
