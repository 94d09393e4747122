package attendance

import (
	"context"
	"fmt"
	"time"

	"classattend/internal/geo"
	"classattend/internal/session"
)

// SessionLookup resolves a submitted OTP to its live session. Lazy
// expiry is the lookup's responsibility: a session past its deadline
// resolves to nil here, so the validator never sees it.
type SessionLookup interface {
	GetByOTP(ctx context.Context, otp string) (*session.Session, error)
}

// Service validates student check-ins against live sessions and
// records attendance exactly once per (session, student).
type Service struct {
	store    Store
	sessions SessionLookup

	// commitDelay is an intentional throttle between validation and
	// the insert, carried over from the original deployment to
	// spread bursts of submissions. It is not load-bearing for
	// correctness; zero disables it.
	commitDelay time.Duration
}

// NewService creates a validator over the given stores.
func NewService(store Store, sessions SessionLookup, commitDelay time.Duration) *Service {
	return &Service{store: store, sessions: sessions, commitDelay: commitDelay}
}

// Mark runs the check-in state machine for one submission. Checks run
// in a fixed order and the first failure wins, so callers get a
// stable, specific rejection reason:
//
//	invalid otp -> duplicate -> subject -> location required ->
//	gps accuracy -> distance -> insert
//
// A session without a faculty location skips the three location gates
// entirely and accepts on the first three checks alone.
func (s *Service) Mark(ctx context.Context, otp string, studentID int64, subject string, loc *session.Location) (Record, error) {
	sess, err := s.sessions.GetByOTP(ctx, otp)
	if err != nil {
		return Record{}, fmt.Errorf("session lookup: %w", err)
	}
	if sess == nil {
		return Record{}, ErrInvalidOTP
	}

	exists, err := s.store.Exists(ctx, sess.ID, studentID)
	if err != nil {
		return Record{}, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return Record{}, ErrAlreadyMarked
	}

	if subject != "" && subject != sess.Subject {
		return Record{}, ErrSubjectMismatch
	}

	var distance *float64
	if sess.HasLocation() {
		if loc == nil {
			return Record{}, ErrLocationRequired
		}
		if loc.Accuracy != nil && *loc.Accuracy > MaxAccuracyMeters {
			return Record{}, ErrAccuracyTooPoor
		}

		d := geo.Distance(*sess.FacultyLat, *sess.FacultyLon, loc.Lat, loc.Lon)
		distance = &d

		if d > effectiveRadius(sess, loc) {
			return Record{}, ErrOutOfRange
		}
	}

	if s.commitDelay > 0 {
		timer := time.NewTimer(s.commitDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Record{}, ctx.Err()
		}
	}

	now := time.Now().UTC()
	rec := Record{
		StudentID:      studentID,
		SessionID:      &sess.ID,
		Subject:        sess.Subject,
		Date:           now.Truncate(24 * time.Hour),
		Status:         StatusPresent,
		FacultyID:      sess.FacultyID,
		DistanceMeters: distance,
		MarkedAt:       now,
	}
	if loc != nil {
		rec.StudentLat = &loc.Lat
		rec.StudentLon = &loc.Lon
		rec.StudentAccuracy = loc.Accuracy
	}

	// The insert is where the duplicate race resolves: two
	// simultaneous submissions can both pass the pre-check, but the
	// store's (session_id, student_id) constraint lets exactly one
	// row through.
	created, err := s.store.Insert(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	return created, nil
}

// Unmark deletes the student's row for a session, the faculty
// override for "mark absent". Only the faculty that owns the row may
// remove it; anyone else gets ErrRecordNotFound, the same answer as
// for a row that never existed.
func (s *Service) Unmark(ctx context.Context, facultyID, sessionID, studentID int64) error {
	return s.store.Delete(ctx, facultyID, sessionID, studentID)
}

// effectiveRadius widens the session's nominal radius to the policy
// floor, and further to the combined GPS accuracies plus a margin
// when both ends reported one.
func effectiveRadius(sess *session.Session, loc *session.Location) float64 {
	radius := sess.RadiusMeters
	if radius < MinRadiusMeters {
		radius = MinRadiusMeters
	}
	if sess.FacultyAccuracy != nil && loc.Accuracy != nil {
		buffer := *sess.FacultyAccuracy + *loc.Accuracy + AccuracyMarginMeters
		if buffer > radius {
			radius = buffer
		}
	}
	return radius
}
