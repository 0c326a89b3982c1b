package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/models"
)

const escalationColumns = `id, attempt_id, activity_id, user_id, date, slot_id, guests, payment_intent_id,
    reason, status, retry_count, last_error, created_at, delivered_at, next_retry_at`

// CreateEscalation journals a paid-but-unconfirmed checkout. Recording the
// same attempt twice keeps the first row.
func (db *DB) CreateEscalation(ctx context.Context, e *models.Escalation) error {
	if e.Status == "" {
		e.Status = models.EscalationPending
	}
	now := time.Now()

	query := `INSERT INTO escalations (attempt_id, activity_id, user_id, date, slot_id, guests, payment_intent_id,
                  reason, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(attempt_id) DO NOTHING`
	result, err := db.ExecContext(ctx, query,
		e.AttemptID,
		e.ActivityID,
		e.UserID,
		e.Date,
		e.SlotID,
		e.Guests,
		e.PaymentIntentID,
		e.Reason,
		e.Status,
		e.RetryCount,
		e.LastError,
		now,
		e.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create escalation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := db.GetEscalationByAttempt(ctx, e.AttemptID)
		if err != nil {
			return err
		}
		*e = *existing
		return nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	return nil
}

func (db *DB) GetEscalation(ctx context.Context, id int64) (*models.Escalation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id)
	return scanEscalation(row)
}

func (db *DB) GetEscalationByAttempt(ctx context.Context, attemptID string) (*models.Escalation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE attempt_id = ?`, attemptID)
	return scanEscalation(row)
}

// GetPendingEscalations returns entries due for delivery, oldest first.
func (db *DB) GetPendingEscalations(ctx context.Context, limit int) ([]models.Escalation, error) {
	query := `SELECT ` + escalationColumns + `
              FROM escalations
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending escalations: %w", err)
	}
	defer rows.Close()
	return scanEscalations(rows)
}

// ListEscalations returns entries created within [from, to), newest first.
// A zero bound is open.
func (db *DB) ListEscalations(ctx context.Context, from, to time.Time) ([]models.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE 1 = 1`
	var args []interface{}
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, to)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()
	return scanEscalations(rows)
}

func (db *DB) UpdateEscalationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	switch status {
	case models.EscalationRetry:
		query = `UPDATE escalations SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	case models.EscalationDelivered, models.EscalationFailed:
		query = `UPDATE escalations SET status = ?, last_error = ?, next_retry_at = ?, delivered_at = ? WHERE id = ?`
		var deliveredAt *time.Time
		if status == models.EscalationDelivered {
			deliveredAt = &now
		}
		args = []interface{}{status, lastError, nextRetryAt, deliveredAt, id}
	default:
		query = `UPDATE escalations SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update escalation status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("escalation %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row rowScanner) (*models.Escalation, error) {
	var e models.Escalation
	var lastError sql.NullString
	var deliveredAt, nextRetryAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.AttemptID, &e.ActivityID, &e.UserID, &e.Date, &e.SlotID, &e.Guests, &e.PaymentIntentID,
		&e.Reason, &e.Status, &e.RetryCount, &lastError, &e.CreatedAt, &deliveredAt, &nextRetryAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan escalation: %w", err)
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	if deliveredAt.Valid {
		e.DeliveredAt = &deliveredAt.Time
	}
	if nextRetryAt.Valid {
		e.NextRetryAt = &nextRetryAt.Time
	}
	return &e, nil
}

func scanEscalations(rows *sql.Rows) ([]models.Escalation, error) {
	var out []models.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
