// Package mocks provides hand-rolled in-memory stand-ins for the
// storage interfaces, used by service tests. They enforce the same
// uniqueness constraints as the Postgres schema so race tests exercise
// the real backstop behavior.
package mocks

import (
	"context"
	"sync"
	"time"

	"classattend/internal/session"
)

// MockSessionStore implements session.Store in memory.
type MockSessionStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*session.Session

	// Now supplies the clock, overridable for simulated time.
	Now func() time.Time

	// Optional per-method overrides for failure injection.
	CreateFunc    func(ctx context.Context, s session.Session) (session.Session, error)
	ExpireOldFunc func(ctx context.Context) (int64, error)
	DeleteOldFunc func(ctx context.Context, retention time.Duration) (int64, error)

	// OnCascadeDelete, when set, is invoked with each session id
	// removed by DeleteOld so a paired attendance mock can drop its
	// rows the way the Postgres sweep transaction does.
	OnCascadeDelete func(sessionID int64)
}

// NewMockSessionStore creates an empty store on the real clock.
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		sessions: make(map[int64]*session.Session),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MockSessionStore) Create(ctx context.Context, s session.Session) (session.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.OTP == s.OTP || existing.SessionCode == s.SessionCode {
			return session.Session{}, session.ErrCodeTaken
		}
		// Partial unique index equivalent: status, not deadline,
		// decides; lazy expiry is a read-side rule only.
		if existing.FacultyID == s.FacultyID && existing.Status == session.StatusActive {
			return session.Session{}, session.ErrActiveSessionExists
		}
	}

	m.nextID++
	s.ID = m.nextID
	s.Status = session.StatusActive
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.Now()
	}
	stored := s
	m.sessions[s.ID] = &stored
	return s, nil
}

func (m *MockSessionStore) GetActive(ctx context.Context, facultyID int64) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.FacultyID == facultyID && s.Status == session.StatusActive && s.ExpiresAt.After(m.Now()) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockSessionStore) GetByOTP(ctx context.Context, otp string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.OTP == otp && s.Status == session.StatusActive && s.ExpiresAt.After(m.Now()) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockSessionStore) Close(ctx context.Context, sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	now := m.Now()
	s.Status = session.StatusClosed
	s.ClosedAt = &now
	return nil
}

func (m *MockSessionStore) UpdateLocation(ctx context.Context, facultyID int64, loc session.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.FacultyID == facultyID && s.Status == session.StatusActive && s.ExpiresAt.After(m.Now()) {
			now := m.Now()
			lat, lon := loc.Lat, loc.Lon
			s.FacultyLat = &lat
			s.FacultyLon = &lon
			s.FacultyAccuracy = loc.Accuracy
			s.FacultyLocationAt = &now
			return nil
		}
	}
	return session.ErrSessionNotFound
}

func (m *MockSessionStore) ExpireOld(ctx context.Context) (int64, error) {
	if m.ExpireOldFunc != nil {
		return m.ExpireOldFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, s := range m.sessions {
		if s.Status == session.StatusActive && s.ExpiresAt.Before(m.Now()) {
			s.Status = session.StatusExpired
			count++
		}
	}
	return count, nil
}

func (m *MockSessionStore) DeleteOld(ctx context.Context, retention time.Duration) (int64, error) {
	if m.DeleteOldFunc != nil {
		return m.DeleteOldFunc(ctx, retention)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.Now().Add(-retention)
	var count int64
	for id, s := range m.sessions {
		if (s.Status == session.StatusClosed || s.Status == session.StatusExpired) && s.ExpiresAt.Before(cutoff) {
			if m.OnCascadeDelete != nil {
				m.OnCascadeDelete(id)
			}
			delete(m.sessions, id)
			count++
		}
	}
	return count, nil
}

func (m *MockSessionStore) OTPExists(ctx context.Context, otp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.OTP == otp {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockSessionStore) SessionCodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.SessionCode == code {
			return true, nil
		}
	}
	return false, nil
}

// Get returns a copy of the stored session regardless of state, for
// test assertions.
func (m *MockSessionStore) Get(id int64) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// Len returns the number of stored sessions in any state.
func (m *MockSessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
