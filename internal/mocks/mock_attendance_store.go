package mocks

import (
	"context"
	"sync"

	"classattend/internal/attendance"
)

type attendanceKey struct {
	sessionID int64
	studentID int64
}

// MockAttendanceStore implements attendance.Store in memory with the
// same (session_id, student_id) uniqueness the schema enforces.
type MockAttendanceStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[attendanceKey]attendance.Record

	// ExistsFunc and InsertFunc override the default behavior for
	// failure injection.
	ExistsFunc func(ctx context.Context, sessionID, studentID int64) (bool, error)
	InsertFunc func(ctx context.Context, rec attendance.Record) (attendance.Record, error)
}

// NewMockAttendanceStore creates an empty store.
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{rows: make(map[attendanceKey]attendance.Record)}
}

func (m *MockAttendanceStore) Exists(ctx context.Context, sessionID, studentID int64) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, sessionID, studentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[attendanceKey{sessionID, studentID}]
	return ok, nil
}

func (m *MockAttendanceStore) Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.SessionID == nil {
		m.nextID++
		rec.ID = m.nextID
		// Legacy rows without a session bypass the uniqueness key.
		m.rows[attendanceKey{-rec.ID, rec.StudentID}] = rec
		return rec, nil
	}
	key := attendanceKey{*rec.SessionID, rec.StudentID}
	if _, ok := m.rows[key]; ok {
		return attendance.Record{}, attendance.ErrAlreadyMarked
	}
	m.nextID++
	rec.ID = m.nextID
	m.rows[key] = rec
	return rec, nil
}

func (m *MockAttendanceStore) Delete(ctx context.Context, facultyID, sessionID, studentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{sessionID, studentID}
	rec, ok := m.rows[key]
	if !ok || rec.FacultyID != facultyID {
		return attendance.ErrRecordNotFound
	}
	delete(m.rows, key)
	return nil
}

// DeleteBySession drops every row for a session, mirroring the
// retention sweep's cascade. Wire it to
// MockSessionStore.OnCascadeDelete in tests.
func (m *MockAttendanceStore) DeleteBySession(sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.rows {
		if key.sessionID == sessionID {
			delete(m.rows, key)
		}
	}
}

// Len returns the number of stored rows.
func (m *MockAttendanceStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Rows returns a copy of all stored records for assertions.
func (m *MockAttendanceStore) Rows() []attendance.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Record, 0, len(m.rows))
	for _, rec := range m.rows {
		out = append(out, rec)
	}
	return out
}
