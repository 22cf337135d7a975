package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/dharsanguruparan/dropwatch/internal/model"
)

// MemoryStore keeps job records in a map guarded by an RWMutex. It backs
// tests and local dry runs where no job-records service is reachable.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.JobRecord
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.JobRecord),
	}
}

// Save inserts or replaces a record.
func (m *MemoryStore) Save(record model.JobRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := clone(&record)
	m.jobs[rec.ID] = &rec
}

// UpdateStatus moves a job to status, recording the result payload or error
// message that comes with it.
func (m *MemoryStore) UpdateStatus(id string, status model.JobStatus, result []byte, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	if result != nil {
		rec.ResultData = append([]byte(nil), result...)
	}
	if errMsg != "" {
		msg := errMsg
		rec.ErrorMessage = &msg
	}
	return nil
}

// Delete removes a record.
func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// Recent returns the newest jobs for the pair.
func (m *MemoryStore) Recent(_ context.Context, userID, widgetID string, limit int) ([]model.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.JobRecord, 0, len(m.jobs))
	for _, rec := range m.jobs {
		if rec.UserID == userID && rec.WidgetID == widgetID {
			out = append(out, clone(rec))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := clone(rec)
	return &c, nil
}

// clone returns a copy that shares no slices with the stored record, so
// callers cannot mutate internal state.
func clone(rec *model.JobRecord) model.JobRecord {
	c := *rec
	c.FileKeys = append(model.FileKeys(nil), rec.FileKeys...)
	if rec.ResultData != nil {
		c.ResultData = append([]byte(nil), rec.ResultData...)
	}
	if rec.ErrorMessage != nil {
		msg := *rec.ErrorMessage
		c.ErrorMessage = &msg
	}
	return c
}
