package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/logger"
	"github.com/dharsanguruparan/dropwatch/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

// RESTOptions configures a RESTStore.
type RESTOptions struct {
	// BaseURL is the root of the PostgREST-style API, e.g.
	// https://project.example.co/rest/v1.
	BaseURL         string
	APIKey          string
	JobsResource    string
	CreditsResource string
	Timeout         time.Duration
	Logger          *zap.Logger
}

// RESTStore queries job records over HTTP with bearer and api-key headers.
type RESTStore struct {
	client  *resty.Client
	jobs    string
	credits string
	log     *zap.Logger
}

// NewRESTStore returns a store for the given API.
func NewRESTStore(opts RESTOptions) *RESTStore {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	l := logger.OrNop(opts.Logger)
	client := resty.New().
		SetLogger(l.Sugar()).
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetAuthToken(opts.APIKey).
		SetHeader("apikey", opts.APIKey).
		SetHeader("Accept", "application/json")
	return &RESTStore{
		client:  client,
		jobs:    "/" + opts.JobsResource,
		credits: "/" + opts.CreditsResource,
		log:     l,
	}
}

// Recent implements Reader.
func (s *RESTStore) Recent(ctx context.Context, userID, widgetID string, limit int) ([]model.JobRecord, error) {
	var rows []model.JobRecord
	err := s.query(ctx, s.jobs, map[string]string{
		"user_id":   "eq." + userID,
		"widget_id": "eq." + widgetID,
		"order":     "created_at.desc",
		"limit":     strconv.Itoa(limit),
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	return rows, nil
}

// Get implements Reader.
func (s *RESTStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	var rows []model.JobRecord
	err := s.query(ctx, s.jobs, map[string]string{
		"id":     "eq." + id,
		"select": "*",
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("query job %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// Credits returns the user's credit balance, or zero when the user has no
// balance row yet.
func (s *RESTStore) Credits(ctx context.Context, userID string) (float64, error) {
	var rows []struct {
		Balance float64 `json:"balance"`
	}
	err := s.query(ctx, s.credits, map[string]string{
		"user_id": "eq." + userID,
		"select":  "balance",
	}, &rows)
	if err != nil {
		return 0, fmt.Errorf("query credits: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Balance, nil
}

func (s *RESTStore) query(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		s.log.Warn("job-records query rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.ByteString("body", resp.Body()))
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}
