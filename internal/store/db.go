package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx. The database is the single
// authoritative home for session and OTP state; nothing in-process
// caches it, so correctness holds across worker processes and
// restarts.
type DB struct {
	Client *sql.DB

	mu       sync.Mutex
	migrated bool
}

// NewDB opens a Postgres connection, verifies it, and applies the
// schema. A verification failure still returns a usable handle: the
// pool reconnects on use and Ready finishes the migration once the
// database comes back.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	d := &DB{Client: db}
	return d, d.Ready(ctx)
}

// Ready pings the database and applies the schema on the first ping
// that succeeds. Safe to call on every health check; once the schema
// is in place it reduces to a ping.
func (d *DB) Ready(ctx context.Context) error {
	if err := d.Client.PingContext(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.migrated {
		return nil
	}
	if err := Migrate(ctx, d.Client); err != nil {
		return err
	}
	d.migrated = true
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
