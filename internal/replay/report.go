package replay

import "time"

// Report summarises a replay run.
type Report struct {
	SessionsPlanned   int           `json:"sessions_planned"`
	SessionsAttempted int           `json:"sessions_attempted"`
	SessionsCompleted int           `json:"sessions_completed"`
	RequestsSent      int           `json:"requests_sent"`
	RequestsSucceeded int           `json:"requests_succeeded"`
	RequestsFailed    int           `json:"requests_failed"`
	Batches           int           `json:"batches"`
	SkippedPaths      []string      `json:"skipped_paths,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration_ns"`
}

// Success reports whether every planned session was attempted. Individual
// request failures do not affect it.
func (r *Report) Success() bool {
	return r.SessionsPlanned > 0 && r.SessionsAttempted >= r.SessionsPlanned
}
