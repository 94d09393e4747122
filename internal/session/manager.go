package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"classattend/internal/codegen"
)

// createRetries bounds how many times Start re-rolls codes when an
// insert loses the otp/session_code uniqueness race.
const createRetries = 3

// Manager orchestrates the session lifecycle: creation with fresh
// codes, explicit closes, live-location updates, and the bulk sweeps
// the cleanup worker runs.
type Manager struct {
	store Store
	codes *codegen.Generator
}

// NewManager creates a manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, codes: codegen.New(store)}
}

// StartParams carries the inputs for opening a session. Subject and
// TTL are required; everything else is optional.
type StartParams struct {
	Subject      string
	Location     *Location
	TTL          time.Duration
	RadiusMeters float64 // 0 means DefaultRadiusMeters
	Division     string
	Description  string
}

// Start opens a new attendance window for facultyID. At most one
// active session may exist per faculty: the pre-check catches the
// common case and the store's uniqueness constraint closes the race
// between two simultaneous starts.
func (m *Manager) Start(ctx context.Context, facultyID int64, p StartParams) (Session, error) {
	if p.Subject == "" {
		return Session{}, errors.New("subject required")
	}
	if p.TTL <= 0 {
		return Session{}, errors.New("ttl must be positive")
	}

	existing, err := m.store.GetActive(ctx, facultyID)
	if err != nil {
		return Session{}, fmt.Errorf("active session check: %w", err)
	}
	if existing != nil {
		return Session{}, ErrActiveSessionExists
	}

	for attempt := 0; ; attempt++ {
		otp, err := m.codes.NewOTP(ctx)
		if err != nil {
			return Session{}, err
		}
		code, err := m.codes.NewSessionCode(ctx)
		if err != nil {
			return Session{}, err
		}

		radius := p.RadiusMeters
		if radius <= 0 {
			radius = DefaultRadiusMeters
		}
		s := Session{
			SessionCode:  code,
			OTP:          otp,
			FacultyID:    facultyID,
			Subject:      p.Subject,
			Description:  p.Description,
			RadiusMeters: radius,
			ExpiresAt:    time.Now().UTC().Add(p.TTL),
		}
		if p.Division != "" {
			division := p.Division
			s.Division = &division
		}
		if p.Location != nil {
			now := time.Now().UTC()
			s.FacultyLat = &p.Location.Lat
			s.FacultyLon = &p.Location.Lon
			s.FacultyAccuracy = p.Location.Accuracy
			s.FacultyLocationAt = &now
		}

		created, err := m.store.Create(ctx, s)
		if err == nil {
			return created, nil
		}
		if errors.Is(err, ErrCodeTaken) && attempt < createRetries {
			log.Printf("session code collision on insert, regenerating (attempt %d)", attempt+1)
			continue
		}
		return Session{}, err
	}
}

// Active returns the faculty's live session, nil when there is none.
func (m *Manager) Active(ctx context.Context, facultyID int64) (*Session, error) {
	return m.store.GetActive(ctx, facultyID)
}

// Close ends a session explicitly. Returns ErrSessionNotFound when
// the id does not exist.
func (m *Manager) Close(ctx context.Context, sessionID int64) error {
	return m.store.Close(ctx, sessionID)
}

// UpdateLocation rewrites the faculty location on the active session,
// for faculty clients that stream live position fixes.
func (m *Manager) UpdateLocation(ctx context.Context, facultyID int64, loc Location) error {
	return m.store.UpdateLocation(ctx, facultyID, loc)
}

// ExpireOld sweeps lapsed active sessions to expired.
func (m *Manager) ExpireOld(ctx context.Context) (int64, error) {
	return m.store.ExpireOld(ctx)
}

// DeleteOld hard-deletes terminal sessions older than retentionDays,
// together with their attendance rows.
func (m *Manager) DeleteOld(ctx context.Context, retentionDays int) (int64, error) {
	return m.store.DeleteOld(ctx, time.Duration(retentionDays)*24*time.Hour)
}
