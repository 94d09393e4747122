// Package cleanup runs the background session sweeps: lapsed active
// sessions are marked expired, and terminal sessions past the
// retention window are hard-deleted along with their attendance rows.
//
// Nothing in the request path waits on the sweeper. Lazy expiry keeps
// reads correct on its own; the sweeper only keeps storage clean.
package cleanup

import (
	"context"
	"log"
	"time"

	"classattend/internal/metrics"
)

// Sweeps is the slice of the session lifecycle the sweeper drives.
type Sweeps interface {
	ExpireOld(ctx context.Context) (int64, error)
	DeleteOld(ctx context.Context, retentionDays int) (int64, error)
}

// Sweeper periodically expires and deletes old sessions.
type Sweeper struct {
	sessions      Sweeps
	interval      time.Duration
	retentionDays int
}

// New creates a sweeper. Zero values fall back to the 5 minute
// interval and 7 day retention the service has always run with.
func New(sessions Sweeps, interval time.Duration, retentionDays int) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &Sweeper{sessions: sessions, interval: interval, retentionDays: retentionDays}
}

// Run loops until ctx is canceled, sweeping once per interval. Storage
// errors are logged and swallowed: a transient failure must never kill
// the loop, the next tick simply tries again.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("cleanup sweeper started (interval %s, retention %dd)", s.interval, s.retentionDays)
	for {
		select {
		case <-ctx.Done():
			log.Println("cleanup sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass followed by one retention pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.sessions.ExpireOld(ctx)
	if err != nil {
		log.Printf("expire sweep failed: %v", err)
	} else if expired > 0 {
		log.Printf("expired %d lapsed sessions", expired)
		metrics.SessionsExpired.Add(float64(expired))
	}

	deleted, err := s.sessions.DeleteOld(ctx, s.retentionDays)
	if err != nil {
		log.Printf("retention sweep failed: %v", err)
	} else if deleted > 0 {
		log.Printf("deleted %d sessions past retention", deleted)
		metrics.SessionsDeleted.Add(float64(deleted))
	}
}
