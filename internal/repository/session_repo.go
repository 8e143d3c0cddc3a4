package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pingone-bulk-users/internal/database"
	"github.com/pingone-bulk-users/internal/models"
)

// sessionRepo is the Postgres implementation of SessionRepository
type sessionRepo struct {
	db *database.DB
}

// NewSessionRepo creates a new session repository
func NewSessionRepo(db *database.DB) SessionRepository {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, operation, state, total_records, processed_count, success_count,
	failed_count, skipped_count, population_id, population_name, error, duration_ms,
	created_at, started_at, completed_at`

// Save inserts or updates a session
func (r *sessionRepo) Save(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state, total_records = EXCLUDED.total_records,
			processed_count = EXCLUDED.processed_count, success_count = EXCLUDED.success_count,
			failed_count = EXCLUDED.failed_count, skipped_count = EXCLUDED.skipped_count,
			population_id = EXCLUDED.population_id, population_name = EXCLUDED.population_name,
			error = EXCLUDED.error, duration_ms = EXCLUDED.duration_ms,
			started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Kind, s.State, s.TotalRecords, s.ProcessedCount, s.SuccessCount,
		s.FailedCount, s.SkippedCount, nullString(s.PopulationID), nullString(s.PopulationName),
		nullString(s.Error), s.DurationMs, s.CreatedAt, s.StartedAt, s.CompletedAt,
	)
	return err
}

// GetByID retrieves a session by ID
func (r *sessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListRecent returns the newest sessions first
func (r *sessionRepo) ListRecent(ctx context.Context, limit int) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var populationID, populationName, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.Kind, &s.State, &s.TotalRecords, &s.ProcessedCount, &s.SuccessCount,
		&s.FailedCount, &s.SkippedCount, &populationID, &populationName, &errMsg,
		&s.DurationMs, &s.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	s.PopulationID = populationID.String
	s.PopulationName = populationName.String
	s.Error = errMsg.String
	if startedAt.Valid {
		s.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return &s, nil
}

// AddFailures stores per-record failures using the COPY protocol
func (r *sessionRepo) AddFailures(ctx context.Context, sessionID string, failures []models.RecordFailure) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("session_failures",
		"session_id", "record_index", "line_number", "username", "outcome", "reason",
	))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx, sessionID, f.Index, f.Line, f.Username, f.Outcome, f.Reason); err != nil {
			return err
		}
	}

	// Flush the COPY buffer
	if _, err := stmt.ExecContext(ctx); err != nil {
		return err
	}

	return tx.Commit()
}

// GetFailures retrieves failures for a session in record order
func (r *sessionRepo) GetFailures(ctx context.Context, sessionID string, limit int) ([]models.RecordFailure, error) {
	query := `SELECT record_index, line_number, username, outcome, reason
		FROM session_failures WHERE session_id = $1 ORDER BY record_index`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []models.RecordFailure
	for rows.Next() {
		var f models.RecordFailure
		var username sql.NullString
		if err := rows.Scan(&f.Index, &f.Line, &username, &f.Outcome, &f.Reason); err != nil {
			continue
		}
		f.Username = username.String
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// DeleteOlderThan removes finished sessions created before cutoff; failures cascade
func (r *sessionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// helper to convert empty string to NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
