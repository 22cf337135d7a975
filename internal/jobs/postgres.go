package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/dropwatch/internal/model"
)

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads job records straight from the jobs table. It is used
// when the widget runs next to the database instead of behind the REST API.
type PostgresStore struct {
	db    Querier
	table string
}

// NewPostgresStore constructs a store over the named table.
func NewPostgresStore(db Querier, table string) *PostgresStore {
	return &PostgresStore{db: db, table: pgx.Identifier{table}.Sanitize()}
}

const jobColumns = `id, user_id, widget_id, created_at, status, file_keys, result_data, error_message`

// Recent implements Reader.
func (s *PostgresStore) Recent(ctx context.Context, userID, widgetID string, limit int) ([]model.JobRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM `+s.table+`
		WHERE user_id=$1 AND widget_id=$2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, widgetID, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent jobs: %w", err)
	}
	defer rows.Close()

	var out []model.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// Get implements Reader.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM `+s.table+` WHERE id=$1
	`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanJob(row pgx.Row) (*model.JobRecord, error) {
	var (
		job      model.JobRecord
		fileKeys []byte
		result   []byte
		errorMsg sql.NullString
	)
	if err := row.Scan(&job.ID, &job.UserID, &job.WidgetID, &job.CreatedAt, &job.Status, &fileKeys, &result, &errorMsg); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := job.FileKeys.UnmarshalJSON(fileKeys); err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	if len(result) > 0 {
		job.ResultData = result
	}
	if errorMsg.Valid {
		msg := errorMsg.String
		job.ErrorMessage = &msg
	}
	return &job, nil
}
