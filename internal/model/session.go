package model

import "time"

// PollSession tracks one poll loop. It is owned by the poller and discarded
// once the loop stops.
type PollSession struct {
	JobID       string
	Attempt     int
	MaxAttempts int
	Interval    time.Duration
	StartedAt   time.Time
	Active      bool
}

// Deadline is the wall-clock ceiling implied by the attempt budget.
func (s PollSession) Deadline() time.Time {
	return s.StartedAt.Add(time.Duration(s.MaxAttempts) * s.Interval)
}
