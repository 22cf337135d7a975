// Package jobs reads job records written by the server-side trigger and
// worker. Nothing here writes to the store.
package jobs

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/dropwatch/internal/model"
)

// ErrNotFound is returned by Get when no row carries the requested id.
var ErrNotFound = errors.New("job not found")

// Reader is the job-records query collaborator.
type Reader interface {
	// Recent returns at most limit jobs for the user/widget pair, newest
	// first.
	Recent(ctx context.Context, userID, widgetID string, limit int) ([]model.JobRecord, error)
	// Get returns the job with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*model.JobRecord, error)
}
