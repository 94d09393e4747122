// Package report provides the read-only query layer over historical
// attendance. Nothing here mutates state; export formatting (CSV/HTML)
// is the caller's concern.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Filter narrows an attendance report. Zero values mean "no filter".
type Filter struct {
	FacultyID int64
	Subject   string
	Division  string
	Status    string
	DateFrom  time.Time
	DateTo    time.Time
	Limit     int
	Offset    int
}

// Row is one attendance record as reported to faculty.
type Row struct {
	ID             int64     `json:"id"`
	StudentID      int64     `json:"student_id"`
	SessionID      *int64    `json:"session_id,omitempty"`
	SessionCode    *string   `json:"session_code,omitempty"`
	Subject        string    `json:"subject"`
	Date           time.Time `json:"date"`
	Status         string    `json:"status"`
	FacultyID      int64     `json:"faculty_id"`
	Division       *string   `json:"division,omitempty"`
	DistanceMeters *float64  `json:"distance_m,omitempty"`
	MarkedAt       time.Time `json:"marked_at"`
}

// Stats summarizes a faculty member's sessions over a date range.
type Stats struct {
	TotalSessions     int64   `json:"total_sessions"`
	ActiveSessions    int64   `json:"active_sessions"`
	TotalAttendance   int64   `json:"total_attendance"`
	AveragePerSession float64 `json:"average_per_session"`
}

// Queries runs report queries against Postgres.
type Queries struct {
	db *sql.DB
}

// New creates the query layer.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// maxLimit caps the page size; defaultLimit applies when the caller
// does not ask for one.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalize resolves the paging fields to usable values: unset gets
// the default, oversized clamps to the ceiling.
func (f *Filter) normalize() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// List returns attendance rows matching the filter, newest first.
func (q *Queries) List(ctx context.Context, f Filter) ([]Row, error) {
	f.normalize()

	query := `
		SELECT a.id, a.student_id, a.session_id, s.session_code, a.subject, a.date,
			a.status, a.faculty_id, s.division, a.distance_meters, a.marked_at
		FROM attendance_records a
		LEFT JOIN sessions s ON s.id = a.session_id`
	args := []any{}
	clauses := []string{}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.FacultyID != 0 {
		add("a.faculty_id = $%d", f.FacultyID)
	}
	if f.Subject != "" {
		add("a.subject = $%d", f.Subject)
	}
	if f.Division != "" {
		add("s.division = $%d", f.Division)
	}
	if f.Status != "" {
		add("a.status = $%d", f.Status)
	}
	if !f.DateFrom.IsZero() {
		add("a.date >= $%d", f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		add("a.date <= $%d", f.DateTo)
	}

	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += fmt.Sprintf(" ORDER BY a.marked_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.StudentID, &r.SessionID, &r.SessionCode, &r.Subject,
			&r.Date, &r.Status, &r.FacultyID, &r.Division, &r.DistanceMeters, &r.MarkedAt); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// FacultyStats returns session and attendance counts for one faculty
// member over [start, end].
func (q *Queries) FacultyStats(ctx context.Context, facultyID int64, start, end time.Time) (Stats, error) {
	var st Stats

	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE faculty_id = $1 AND created_at BETWEEN $2 AND $3
	`, facultyID, start, end).Scan(&st.TotalSessions)
	if err != nil {
		return Stats{}, err
	}

	err = q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE faculty_id = $1 AND status = 'active'
	`, facultyID).Scan(&st.ActiveSessions)
	if err != nil {
		return Stats{}, err
	}

	err = q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		WHERE s.faculty_id = $1 AND a.marked_at BETWEEN $2 AND $3
	`, facultyID, start, end).Scan(&st.TotalAttendance)
	if err != nil {
		return Stats{}, err
	}

	if st.TotalSessions > 0 {
		st.AveragePerSession = float64(st.TotalAttendance) / float64(st.TotalSessions)
	}
	return st, nil
}
