package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classattend/internal/attendance"
	"classattend/internal/mocks"
	"classattend/internal/session"
)

func newManager() (*session.Manager, *mocks.MockSessionStore) {
	store := mocks.NewMockSessionStore()
	return session.NewManager(store), store
}

func TestStartCreatesActiveSession(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	acc := 10.0
	before := time.Now().UTC()
	s, err := mgr.Start(ctx, 42, session.StartParams{
		Subject:  "Physics",
		Location: &session.Location{Lat: 19.0, Lon: 72.8, Accuracy: &acc},
		TTL:      5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if s.Status != session.StatusActive {
		t.Errorf("status = %q, want active", s.Status)
	}
	if len(s.OTP) != 4 {
		t.Errorf("otp %q, want 4 digits", s.OTP)
	}
	if len(s.SessionCode) != 10 {
		t.Errorf("session code %q, want 10 chars", s.SessionCode)
	}
	if s.RadiusMeters != session.DefaultRadiusMeters {
		t.Errorf("radius = %v, want default %v", s.RadiusMeters, session.DefaultRadiusMeters)
	}
	wantExpiry := before.Add(5 * time.Minute)
	if s.ExpiresAt.Before(wantExpiry) || s.ExpiresAt.After(wantExpiry.Add(5*time.Second)) {
		t.Errorf("expires_at = %v, want ~%v", s.ExpiresAt, wantExpiry)
	}
	if !s.HasLocation() || *s.FacultyLat != 19.0 || *s.FacultyAccuracy != 10.0 {
		t.Errorf("faculty location not stored: %+v", s)
	}

	active, err := mgr.Active(ctx, 42)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active == nil || active.ID != s.ID {
		t.Fatalf("Active = %+v, want session %d", active, s.ID)
	}
}

func TestStartRejectsSecondActiveSession(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	if _, err := mgr.Start(ctx, 7, session.StartParams{Subject: "Math", TTL: time.Minute}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := mgr.Start(ctx, 7, session.StartParams{Subject: "Math", TTL: time.Minute})
	if !errors.Is(err, session.ErrActiveSessionExists) {
		t.Fatalf("second Start err = %v, want ErrActiveSessionExists", err)
	}
}

func TestStartInputValidation(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	if _, err := mgr.Start(ctx, 1, session.StartParams{TTL: time.Minute}); err == nil {
		t.Error("want error for empty subject")
	}
	if _, err := mgr.Start(ctx, 1, session.StartParams{Subject: "Math"}); err == nil {
		t.Error("want error for zero ttl")
	}
}

func TestConcurrentStartExactlyOneSucceeds(t *testing.T) {
	mgr, store := newManager()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Start(ctx, 99, session.StartParams{Subject: "Chemistry", TTL: time.Minute})
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, session.ErrActiveSessionExists):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1 (conflicts %d)", successes, conflicts)
	}
	if store.Len() != 1 {
		t.Fatalf("stored sessions = %d, want 1", store.Len())
	}
}

func TestActiveLazyExpiryBoundary(t *testing.T) {
	store := mocks.NewMockSessionStore()
	mgr := session.NewManager(store)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	created, err := store.Create(ctx, session.Session{
		SessionCode: "ABCDEF1234",
		OTP:         "4321",
		FacultyID:   5,
		Subject:     "Biology",
		ExpiresAt:   now.Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// One second before the deadline the session is live.
	now = created.ExpiresAt.Add(-time.Second)
	if s, _ := mgr.Active(ctx, 5); s == nil {
		t.Fatal("session absent just before expiry")
	}

	// At the deadline instant it is already gone, no sweep needed.
	now = created.ExpiresAt
	if s, _ := mgr.Active(ctx, 5); s != nil {
		t.Fatal("session still visible at its expiry instant")
	}
	if s, _ := store.GetByOTP(ctx, "4321"); s != nil {
		t.Fatal("GetByOTP still resolves a lapsed session")
	}

	// The row itself is untouched until a sweep runs.
	if got := store.Get(created.ID); got == nil || got.Status != session.StatusActive {
		t.Fatalf("stored row = %+v, want untouched active row", got)
	}
}

func TestCloseSession(t *testing.T) {
	mgr, store := newManager()
	ctx := context.Background()

	s, err := mgr.Start(ctx, 11, session.StartParams{Subject: "History", TTL: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := mgr.Close(ctx, s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if active, _ := mgr.Active(ctx, 11); active != nil {
		t.Fatal("session still active after Close")
	}
	closed := store.Get(s.ID)
	if closed.Status != session.StatusClosed || closed.ClosedAt == nil {
		t.Fatalf("closed row = %+v, want status closed with closed_at set", closed)
	}

	if err := mgr.Close(ctx, 9999); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Close(unknown) err = %v, want ErrSessionNotFound", err)
	}
}

func TestUpdateLocation(t *testing.T) {
	mgr, store := newManager()
	ctx := context.Background()

	s, err := mgr.Start(ctx, 3, session.StartParams{Subject: "Geography", TTL: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	acc := 25.0
	if err := mgr.UpdateLocation(ctx, 3, session.Location{Lat: 18.5, Lon: 73.8, Accuracy: &acc}); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	got := store.Get(s.ID)
	if !got.HasLocation() || *got.FacultyLat != 18.5 || *got.FacultyAccuracy != 25.0 {
		t.Fatalf("location not rewritten: %+v", got)
	}

	if err := mgr.UpdateLocation(ctx, 404, session.Location{Lat: 1, Lon: 1}); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("UpdateLocation without active session err = %v, want ErrSessionNotFound", err)
	}
}

func TestExpireOldSweep(t *testing.T) {
	store := mocks.NewMockSessionStore()
	mgr := session.NewManager(store)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	lapsed, _ := store.Create(ctx, session.Session{
		SessionCode: "AAAAAAAAA1", OTP: "1111", FacultyID: 1, Subject: "A",
		ExpiresAt: now.Add(time.Minute),
	})
	live, _ := store.Create(ctx, session.Session{
		SessionCode: "AAAAAAAAA2", OTP: "2222", FacultyID: 2, Subject: "B",
		ExpiresAt: now.Add(time.Hour),
	})
	closed, _ := store.Create(ctx, session.Session{
		SessionCode: "AAAAAAAAA3", OTP: "3333", FacultyID: 3, Subject: "C",
		ExpiresAt: now.Add(time.Minute),
	})
	if err := store.Close(ctx, closed.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	now = now.Add(10 * time.Minute)

	count, err := mgr.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("ExpireOld: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired %d sessions, want 1", count)
	}
	if got := store.Get(lapsed.ID); got.Status != session.StatusExpired {
		t.Errorf("lapsed session status = %q, want expired", got.Status)
	}
	if got := store.Get(live.ID); got.Status != session.StatusActive {
		t.Errorf("live session status = %q, want active", got.Status)
	}
	if got := store.Get(closed.ID); got.Status != session.StatusClosed {
		t.Errorf("closed session status = %q, want closed", got.Status)
	}

	// Idempotent: nothing left to transition.
	count, err = mgr.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("second ExpireOld: %v", err)
	}
	if count != 0 {
		t.Fatalf("second sweep expired %d, want 0", count)
	}
}

func TestDeleteOldSweepCascades(t *testing.T) {
	store := mocks.NewMockSessionStore()
	attStore := mocks.NewMockAttendanceStore()
	store.OnCascadeDelete = attStore.DeleteBySession
	mgr := session.NewManager(store)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	old, _ := store.Create(ctx, session.Session{
		SessionCode: "BBBBBBBBB1", OTP: "4444", FacultyID: 1, Subject: "A",
		ExpiresAt: now.Add(-8 * 24 * time.Hour),
	})
	recent, _ := store.Create(ctx, session.Session{
		SessionCode: "BBBBBBBBB2", OTP: "5555", FacultyID: 2, Subject: "B",
		ExpiresAt: now.Add(-2 * 24 * time.Hour),
	})
	if _, err := store.ExpireOld(ctx); err != nil {
		t.Fatalf("ExpireOld: %v", err)
	}

	seedAttendance(t, attStore, old.ID, 100, 101)
	seedAttendance(t, attStore, recent.ID, 100)

	count, err := mgr.DeleteOld(ctx, 7)
	if err != nil {
		t.Fatalf("DeleteOld: %v", err)
	}
	if count != 1 {
		t.Fatalf("deleted %d sessions, want 1", count)
	}
	if store.Get(old.ID) != nil {
		t.Error("old session still stored")
	}
	if store.Get(recent.ID) == nil {
		t.Error("recent session deleted")
	}
	if attStore.Len() != 1 {
		t.Fatalf("attendance rows = %d, want 1 (cascade should drop the old session's rows)", attStore.Len())
	}
}

func seedAttendance(t *testing.T, store *mocks.MockAttendanceStore, sessionID int64, studentIDs ...int64) {
	t.Helper()
	for _, sid := range studentIDs {
		if _, err := store.Insert(context.Background(), recordFor(sessionID, sid)); err != nil {
			t.Fatalf("seed attendance: %v", err)
		}
	}
}

func recordFor(sessionID, studentID int64) attendance.Record {
	sid := sessionID
	return attendance.Record{
		StudentID: studentID,
		SessionID: &sid,
		Subject:   "A",
		Status:    attendance.StatusPresent,
		MarkedAt:  time.Now().UTC(),
	}
}
