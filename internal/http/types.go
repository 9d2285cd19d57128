package http

import "backjob/internal/jobs"

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// StartJobRequest is the body of POST /v1/jobs. Route may carry a query
// string ("report?format=csv"); Params are added on top of it.
type StartJobRequest struct {
	Route  string            `json:"route"`
	Params map[string]string `json:"params,omitempty"`
	// AsCurrentUser forwards the caller's cookies to the job. Defaults to
	// true.
	AsCurrentUser *bool `json:"asCurrentUser,omitempty"`
}

type StartJobResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id"`
	URL     string `json:"url"`
}

// JobView is a job record plus the readable name of its status.
type JobView struct {
	jobs.Record
	State string `json:"state"`
	Done  bool   `json:"done"`
}

type JobStatusResponse struct {
	Success bool     `json:"success"`
	Job     *JobView `json:"job,omitempty"`
}

// ActionResponse is written for ordinary (non-job) runs of an action
// route.
type ActionResponse struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
}

// JobRunResponse is written back to the dispatch transport, which closes
// the connection without reading it. It exists for manual debugging.
type JobRunResponse struct {
	Success bool  `json:"success"`
	JobID   int64 `json:"jobId"`
}

func newJobView(rec jobs.Record) *JobView {
	return &JobView{Record: rec, State: rec.Status.String(), Done: rec.Status.Terminal()}
}
