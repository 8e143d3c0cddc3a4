package repository

import (
	"context"

	"github.com/lib/pq"
	"github.com/pingone-bulk-users/internal/database"
	"github.com/pingone-bulk-users/internal/models"
)

// auditRepo is the Postgres implementation of AuditRepository
type auditRepo struct {
	db *database.DB
}

// NewAuditRepo creates a new audit repository
func NewAuditRepo(db *database.DB) AuditRepository {
	return &auditRepo{db: db}
}

// RecordIgnored appends ignored users using the COPY protocol
func (r *auditRepo) RecordIgnored(ctx context.Context, users []models.IgnoredUser) error {
	if len(users) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("ignored_users",
		"session_id", "user_id", "username", "reason", "created_at",
	))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, u.SessionID, u.UserID, u.Username, u.Reason, u.CreatedAt); err != nil {
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return err
	}

	return tx.Commit()
}

// ListIgnored returns the audit entries of one export session
func (r *auditRepo) ListIgnored(ctx context.Context, sessionID string) ([]models.IgnoredUser, error) {
	query := `SELECT session_id, user_id, username, reason, created_at
		FROM ignored_users WHERE session_id = $1 ORDER BY username`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.IgnoredUser
	for rows.Next() {
		var u models.IgnoredUser
		if err := rows.Scan(&u.SessionID, &u.UserID, &u.Username, &u.Reason, &u.CreatedAt); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
