package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema statements, applied in order. The three unique constraints on
// sessions and the composite one on attendance_records are not
// optional hardening: they are the storage-level backstops for the
// one-active-session-per-faculty and one-attendance-per-student
// invariants under concurrent writers.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id                  BIGSERIAL PRIMARY KEY,
		session_code        TEXT NOT NULL,
		otp                 TEXT NOT NULL,
		faculty_id          BIGINT NOT NULL,
		subject             TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'active',
		description         TEXT NOT NULL DEFAULT '',
		division            TEXT,
		radius_meters       DOUBLE PRECISION NOT NULL DEFAULT 100,
		faculty_lat         DOUBLE PRECISION,
		faculty_lon         DOUBLE PRECISION,
		faculty_accuracy    DOUBLE PRECISION,
		faculty_location_at TIMESTAMPTZ,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at          TIMESTAMPTZ NOT NULL,
		closed_at           TIMESTAMPTZ,
		CONSTRAINT sessions_otp_key UNIQUE (otp),
		CONSTRAINT sessions_session_code_key UNIQUE (session_code),
		CONSTRAINT sessions_expiry_after_creation CHECK (expires_at > created_at)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_per_faculty
		ON sessions (faculty_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS sessions_status_expires_idx
		ON sessions (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id               BIGSERIAL PRIMARY KEY,
		student_id       BIGINT NOT NULL,
		session_id       BIGINT REFERENCES sessions (id),
		subject          TEXT NOT NULL,
		date             DATE NOT NULL,
		status           TEXT NOT NULL,
		faculty_id       BIGINT NOT NULL,
		student_lat      DOUBLE PRECISION,
		student_lon      DOUBLE PRECISION,
		student_accuracy DOUBLE PRECISION,
		distance_meters  DOUBLE PRECISION,
		marked_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT attendance_session_student_key UNIQUE (session_id, student_id)
	)`,
	`CREATE INDEX IF NOT EXISTS attendance_faculty_date_idx
		ON attendance_records (faculty_id, date)`,
	`CREATE INDEX IF NOT EXISTS attendance_subject_idx
		ON attendance_records (subject)`,
}

// Migrate applies the schema. Every statement is idempotent, so it is
// safe to run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
