package jobs

import "time"

// Record is the merged view of a job as returned to pollers.
type Record struct {
	ID          int64      `json:"id"`
	Progress    int        `json:"progress"`
	Status      Status     `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	UpdatedTime time.Time  `json:"updated_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Request     string     `json:"request,omitempty"`
	StatusText  string     `json:"status_text,omitempty"`
}

// Patch is a partial job record. A nil field is "unset" and never
// overwrites anything when merged; a non-nil field is an explicit value,
// even when it points at a zero value.
//
// Patches are what the backends store: cache entries are JSON-encoded
// patches and durable updates only touch the columns that are set.
type Patch struct {
	Progress    *int       `json:"progress,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	UpdatedTime *time.Time `json:"updated_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Request     *string    `json:"request,omitempty"`
	StatusText  *string    `json:"status_text,omitempty"`
}

// Progress returns the patch form of a bare progress percentage.
func Progress(n int) Patch {
	return Patch{Progress: &n}
}

// Text returns a patch that only sets status_text.
func Text(s string) Patch {
	return Patch{StatusText: &s}
}

// Over layers p on top of base: every field set in p wins, every field
// unset in p is taken from base.
func (p Patch) Over(base Patch) Patch {
	out := base
	if p.Progress != nil {
		out.Progress = p.Progress
	}
	if p.Status != nil {
		out.Status = p.Status
	}
	if p.StartTime != nil {
		out.StartTime = p.StartTime
	}
	if p.UpdatedTime != nil {
		out.UpdatedTime = p.UpdatedTime
	}
	if p.EndTime != nil {
		out.EndTime = p.EndTime
	}
	if p.Request != nil {
		out.Request = p.Request
	}
	if p.StatusText != nil {
		out.StatusText = p.StatusText
	}
	return out
}

// Empty reports whether no field is set.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply copies every set field of p into r.
func (r *Record) Apply(p Patch) {
	if p.Progress != nil {
		r.Progress = *p.Progress
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.StartTime != nil {
		r.StartTime = *p.StartTime
	}
	if p.UpdatedTime != nil {
		r.UpdatedTime = *p.UpdatedTime
	}
	if p.EndTime != nil {
		t := *p.EndTime
		r.EndTime = &t
	}
	if p.Request != nil {
		r.Request = *p.Request
	}
	if p.StatusText != nil {
		r.StatusText = *p.StatusText
	}
}

// defaultPatch holds the values a record falls back to when a backend
// has nothing stored for a field.
func defaultPatch(now time.Time) Patch {
	progress := 0
	status := StatusStarted
	start, updated := now, now
	return Patch{
		Progress:    &progress,
		Status:      &status,
		StartTime:   &start,
		UpdatedTime: &updated,
	}
}

func statusPtr(s Status) *Status { return &s }

func intPtr(n int) *int { return &n }
