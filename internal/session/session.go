package session

import (
	"context"
	"errors"
	"time"

	"classattend/internal/codegen"
)

// Session statuses. A session is created active, becomes expired when
// a sweep observes its deadline has passed, or closed when the faculty
// member ends it explicitly. Read paths treat a lapsed deadline as
// absence regardless of the stored status (lazy expiry), so only
// storage cleanliness depends on the sweeper.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusClosed  = "closed"
)

// DefaultRadiusMeters is the nominal geofence radius stamped onto new
// sessions when the faculty does not override it.
const DefaultRadiusMeters = 100.0

var (
	// ErrActiveSessionExists is returned when a faculty member who
	// already has a live session tries to open another one.
	ErrActiveSessionExists = errors.New("an active session already exists for this faculty")

	// ErrSessionNotFound is returned by operations addressing a
	// session that does not exist or is no longer live.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCodeTaken is returned by the store when an insert loses the
	// uniqueness race on otp or session_code. The manager retries
	// with fresh codes.
	ErrCodeTaken = errors.New("session code or otp already taken")
)

// Location is a reported GPS fix. Accuracy is the device-reported
// error radius in meters; nil means the device did not report one.
type Location struct {
	Lat      float64
	Lon      float64
	Accuracy *float64
}

// Session is one open attendance window for a subject.
type Session struct {
	ID           int64
	SessionCode  string
	OTP          string
	FacultyID    int64
	Subject      string
	Status       string
	Description  string
	Division     *string
	RadiusMeters float64

	FacultyLat        *float64
	FacultyLon        *float64
	FacultyAccuracy   *float64
	FacultyLocationAt *time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
	ClosedAt  *time.Time
}

// HasLocation reports whether the faculty attached a GPS fix when the
// session was created or updated. Sessions without one run in
// degraded mode: attendance is accepted without any proximity check.
func (s *Session) HasLocation() bool {
	return s != nil && s.FacultyLat != nil && s.FacultyLon != nil
}

// Store is the persistence boundary for sessions. Implementations
// must enforce three uniqueness invariants at the storage layer, not
// just trust callers' pre-checks: otp and session_code are unique
// across all rows ever stored, and at most one active row exists per
// faculty at any instant.
type Store interface {
	codegen.Lookup

	// Create inserts a new active session and returns it with its
	// assigned id. Returns ErrActiveSessionExists when the one-active
	// constraint rejects the row, ErrCodeTaken when otp/session_code
	// uniqueness does.
	Create(ctx context.Context, s Session) (Session, error)

	// GetActive returns the faculty's active session, or nil when
	// there is none or its deadline has lapsed.
	GetActive(ctx context.Context, facultyID int64) (*Session, error)

	// GetByOTP returns the live session matching otp, with the same
	// lazy-expiry semantics as GetActive.
	GetByOTP(ctx context.Context, otp string) (*Session, error)

	// Close marks the session closed and stamps closed_at. Returns
	// ErrSessionNotFound when no such session exists.
	Close(ctx context.Context, sessionID int64) error

	// UpdateLocation rewrites the faculty location fields of the
	// faculty's active session.
	UpdateLocation(ctx context.Context, facultyID int64, loc Location) error

	// ExpireOld transitions every active session past its deadline to
	// expired and returns the number affected.
	ExpireOld(ctx context.Context) (int64, error)

	// DeleteOld hard-deletes closed/expired sessions whose deadline
	// lapsed more than the retention window ago, removing their
	// attendance rows first, and returns the number of sessions
	// deleted.
	DeleteOld(ctx context.Context, retention time.Duration) (int64, error)
}
