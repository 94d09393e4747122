package attendance

import (
	"context"
	"errors"
	"time"
)

// Attendance status values. "Absent" rows only exist for legacy
// manual entries; the validator itself only ever writes "Present",
// and a faculty override to absent deletes the row instead.
const (
	StatusPresent = "Present"
	StatusAbsent  = "Absent"
)

// Geofence policy. The floor is deliberately generous: raw consumer
// GPS error routinely exceeds a nominal classroom radius, so the
// policy trades strict geofencing for fewer false rejections. Do not
// tighten without revisiting that tradeoff.
const (
	// MinRadiusMeters is the hard floor on the effective geofence
	// radius, regardless of what the session asks for.
	MinRadiusMeters = 500.0

	// MaxAccuracyMeters is the ceiling on student-reported GPS
	// accuracy. A worse fix is rejected outright rather than allowed
	// to pass the distance gate by chance.
	MaxAccuracyMeters = 150.0

	// AccuracyMarginMeters is the safety margin added on top of the
	// combined faculty+student accuracy when widening the radius.
	AccuracyMarginMeters = 100.0
)

// Validator rejections. These are expected outcomes, not failures:
// callers need the specific reason to act on, so each check has its
// own sentinel and the first failing check wins.
var (
	ErrInvalidOTP       = errors.New("invalid or expired otp")
	ErrAlreadyMarked    = errors.New("attendance already marked for this session")
	ErrSubjectMismatch  = errors.New("subject does not match the session")
	ErrLocationRequired = errors.New("location required to mark attendance")
	ErrAccuracyTooPoor  = errors.New("gps accuracy too poor to validate location")
	ErrOutOfRange       = errors.New("too far from the session location")

	// ErrRecordNotFound is returned by Unmark when no row exists.
	ErrRecordNotFound = errors.New("attendance record not found")
)

// Record is one checked-in student in one session. SessionID is nil
// only for legacy manual entries that predate sessions.
type Record struct {
	ID        int64
	StudentID int64
	SessionID *int64
	Subject   string
	Date      time.Time
	Status    string
	FacultyID int64

	StudentLat      *float64
	StudentLon      *float64
	StudentAccuracy *float64

	// DistanceMeters is the computed student-to-faculty distance,
	// nil when the session ran without a faculty location.
	DistanceMeters *float64

	MarkedAt time.Time
}

// Store is the persistence boundary for attendance rows. The
// (session_id, student_id) uniqueness invariant must be enforced by
// the implementation as a storage constraint; the validator's
// duplicate pre-check alone cannot close the race between two
// simultaneous submissions from the same student.
type Store interface {
	// Exists reports whether the student already has a row in the
	// session.
	Exists(ctx context.Context, sessionID, studentID int64) (bool, error)

	// Insert appends a new row, returning it with its assigned id.
	// Returns ErrAlreadyMarked when the uniqueness constraint
	// rejects a concurrent duplicate.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Delete removes the student's row for the session (the faculty
	// "mark absent" override), scoped to the faculty that owns the
	// row. Returns ErrRecordNotFound when there is none or it
	// belongs to a different faculty.
	Delete(ctx context.Context, facultyID, sessionID, studentID int64) error
}
