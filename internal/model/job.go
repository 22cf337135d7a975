// Package model contains the records shared by the upload, locate and poll
// stages. The job-records store owns JobRecord; this module only reads it.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus describes the processing lifecycle written by the server-side
// worker. A named string type keeps statuses from mixing with free text.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// JobRecord is one row of the job-records collection. Status transitions are
// monotone (pending -> in_progress -> completed|error).
type JobRecord struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	WidgetID     string          `json:"widget_id"`
	CreatedAt    time.Time       `json:"created_at"`
	Status       JobStatus       `json:"status"`
	FileKeys     FileKeys        `json:"file_keys"`
	ResultData   json.RawMessage `json:"result_data,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// FileKeys is the list of storage keys the trigger attached to a job. Some
// rows carry the list as a JSON-encoded string instead of an array, so both
// encodings are accepted.
type FileKeys []string

// UnmarshalJSON accepts an array of strings, a JSON string holding such an
// array, or null.
func (k *FileKeys) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*k = nil
		return nil
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err == nil {
		*k = keys
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("file_keys: expected array or string: %w", err)
	}
	if encoded == "" {
		*k = nil
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &keys); err != nil {
		return fmt.Errorf("file_keys: decode embedded array: %w", err)
	}
	*k = keys
	return nil
}
