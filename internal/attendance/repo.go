package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Exists reports whether the student already checked in to the session.
func (r *Repository) Exists(ctx context.Context, sessionID, studentID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE session_id = $1 AND student_id = $2
		)
	`, sessionID, studentID).Scan(&exists)
	return exists, err
}

// Insert appends a new record. The unique constraint on
// (session_id, student_id) is the authoritative duplicate guard; a
// violation from a concurrent submission maps to ErrAlreadyMarked.
// The transaction guarantees no partial row survives a failure.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO attendance_records (student_id, session_id, subject, date, status,
			faculty_id, student_lat, student_lon, student_accuracy, distance_meters, marked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, rec.StudentID, rec.SessionID, rec.Subject, rec.Date, rec.Status, rec.FacultyID,
		rec.StudentLat, rec.StudentLon, rec.StudentAccuracy, rec.DistanceMeters, rec.MarkedAt)
	if err := row.Scan(&rec.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyMarked
		}
		return Record{}, fmt.Errorf("insert attendance: %w", err)
	}
	return rec, tx.Commit()
}

// Delete removes the student's row for a session. The faculty_id
// predicate keeps the override scoped to the owning faculty; a
// mismatch is indistinguishable from a missing row.
func (r *Repository) Delete(ctx context.Context, facultyID, sessionID, studentID int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_records
		WHERE session_id = $1 AND student_id = $2 AND faculty_id = $3
	`, sessionID, studentID, facultyID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
