// Package history stores a summary of every finished analysis run.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"videoinsight/internal/models"
)

const DefaultListLimit = 50

var ErrNotFound = errors.New("analysis not found")

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record inserts a finished run.
func (s *Service) Record(ctx context.Context, r *models.AnalysisRecord) error {
	if r == nil || r.RunID == "" {
		return errors.New("run_id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = r.CreatedAt
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (run_id, file_name, extension, size, query, state, result, error_kind, error_message, remote_name, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.FileName, r.Extension, r.Size, r.Query, string(r.State), r.Result,
		r.ErrorKind, r.ErrorMessage, r.RemoteName, r.CreatedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("analysis id: %w", err)
	}
	r.ID = id
	return nil
}

const selectColumns = `SELECT id, run_id, file_name, extension, size, query, state, result, error_kind, error_message, remote_name, created_at, finished_at FROM analyses`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.AnalysisRecord, error) {
	var (
		r     models.AnalysisRecord
		state string
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.FileName, &r.Extension, &r.Size, &r.Query, &state,
		&r.Result, &r.ErrorKind, &r.ErrorMessage, &r.RemoteName, &r.CreatedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.State = models.RunState(state)
	return &r, nil
}

// List returns the most recent runs first.
func (s *Service) List(ctx context.Context, limit int) ([]*models.AnalysisRecord, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	records := make([]*models.AnalysisRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Service) Get(ctx context.Context, runID string) (*models.AnalysisRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return r, nil
}

func (s *Service) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
