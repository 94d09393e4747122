package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, session_code, otp, faculty_id, subject, status, description,
	division, radius_meters, faculty_lat, faculty_lon, faculty_accuracy,
	faculty_location_at, created_at, expires_at, closed_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.SessionCode, &s.OTP, &s.FacultyID, &s.Subject, &s.Status,
		&s.Description, &s.Division, &s.RadiusMeters, &s.FacultyLat, &s.FacultyLon,
		&s.FacultyAccuracy, &s.FacultyLocationAt, &s.CreatedAt, &s.ExpiresAt, &s.ClosedAt)
	return s, err
}

// Create inserts an active session. The partial unique index on
// (faculty_id) WHERE status='active' is the backstop for the
// one-active-session invariant; the pre-check in the manager only
// provides a friendlier error for the common case.
func (r *Repository) Create(ctx context.Context, s Session) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (session_code, otp, faculty_id, subject, status, description,
			division, radius_meters, faculty_lat, faculty_lon, faculty_accuracy,
			faculty_location_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+sessionColumns+`
	`, s.SessionCode, s.OTP, s.FacultyID, s.Subject, StatusActive, s.Description,
		s.Division, s.RadiusMeters, s.FacultyLat, s.FacultyLon, s.FacultyAccuracy,
		s.FacultyLocationAt, s.ExpiresAt)
	created, err := scanSession(row)
	if err != nil {
		return Session{}, mapUniqueViolation(err)
	}
	return created, nil
}

// GetActive returns the faculty's live session. A session whose
// deadline has lapsed is treated as absent even before a sweep marks
// it expired.
func (r *Repository) GetActive(ctx context.Context, facultyID int64) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE faculty_id = $1 AND status = $2 AND expires_at > NOW()
	`, facultyID, StatusActive)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetByOTP returns the live session matching otp, with the same
// lazy-expiry semantics as GetActive.
func (r *Repository) GetByOTP(ctx context.Context, otp string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE otp = $1 AND status = $2 AND expires_at > NOW()
	`, otp, StatusActive)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Close marks a session closed.
func (r *Repository) Close(ctx context.Context, sessionID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $2, closed_at = NOW() WHERE id = $1
	`, sessionID, StatusClosed)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateLocation rewrites the faculty location of the active session.
func (r *Repository) UpdateLocation(ctx context.Context, facultyID int64, loc Location) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET faculty_lat = $2, faculty_lon = $3, faculty_accuracy = $4, faculty_location_at = NOW()
		WHERE faculty_id = $1 AND status = $5 AND expires_at > NOW()
	`, facultyID, loc.Lat, loc.Lon, loc.Accuracy, StatusActive)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ExpireOld bulk-transitions lapsed active sessions to expired.
func (r *Repository) ExpireOld(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1
		WHERE status = $2 AND expires_at < NOW()
	`, StatusExpired, StatusActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOld hard-deletes terminal sessions past the retention window.
// Attendance rows go first, in the same transaction, so a failure
// mid-sweep never leaves orphaned references.
func (r *Repository) DeleteOld(ctx context.Context, retention time.Duration) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff := time.Now().UTC().Add(-retention)

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM attendance_records
		WHERE session_id IN (
			SELECT id FROM sessions
			WHERE status IN ($1, $2) AND expires_at < $3
		)
	`, StatusClosed, StatusExpired, cutoff); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE status IN ($1, $2) AND expires_at < $3
	`, StatusClosed, StatusExpired, cutoff)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, tx.Commit()
}

// OTPExists reports whether any session, in any state, ever used otp.
func (r *Repository) OTPExists(ctx context.Context, otp string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE otp = $1)`, otp).Scan(&exists)
	return exists, err
}

// SessionCodeExists reports whether any session ever used code.
func (r *Repository) SessionCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE session_code = $1)`, code).Scan(&exists)
	return exists, err
}

// mapUniqueViolation translates Postgres unique-violation errors into
// domain errors by constraint. The one-active partial index means a
// concurrent create lost the race; otp/session_code collisions are
// retried by the manager with fresh codes.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "one_active"):
		return ErrActiveSessionExists
	case strings.Contains(pgErr.ConstraintName, "otp"), strings.Contains(pgErr.ConstraintName, "session_code"):
		return fmt.Errorf("%w: %s", ErrCodeTaken, pgErr.ConstraintName)
	default:
		return err
	}
}
