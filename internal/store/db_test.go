package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync/atomic"
	"testing"
)

// stubDriver fakes just enough of database/sql to exercise Ready:
// pings fail while down is set, and every Exec is counted.
type stubDriver struct {
	down  atomic.Bool
	execs atomic.Int64
}

func (d *stubDriver) Open(name string) (driver.Conn, error) {
	return &stubConn{d: d}, nil
}

type stubConn struct {
	d *stubDriver
}

func (c *stubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) {
	return nil, errors.New("begin not supported")
}

func (c *stubConn) Ping(ctx context.Context) error {
	if c.d.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func (c *stubConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.d.down.Load() {
		return nil, errors.New("connection refused")
	}
	c.d.execs.Add(1)
	return driver.RowsAffected(0), nil
}

var (
	_ driver.Pinger        = (*stubConn)(nil)
	_ driver.ExecerContext = (*stubConn)(nil)
)

func TestReadyAppliesSchemaAfterRecovery(t *testing.T) {
	drv := &stubDriver{}
	drv.down.Store(true)
	sql.Register("stub-recovery", drv)

	client, err := sql.Open("stub-recovery", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := &DB{Client: client}
	defer d.Close()

	ctx := context.Background()
	if err := d.Ready(ctx); err == nil {
		t.Fatal("want ping failure while the database is down")
	}
	if got := drv.execs.Load(); got != 0 {
		t.Fatalf("execs = %d, want no schema statements before a ping succeeds", got)
	}

	// Database comes back: the next readiness probe must apply the
	// full schema without a process restart.
	drv.down.Store(false)
	if err := d.Ready(ctx); err != nil {
		t.Fatalf("Ready after recovery: %v", err)
	}
	if got := drv.execs.Load(); got != int64(len(schemaStatements)) {
		t.Fatalf("execs = %d, want %d schema statements", got, len(schemaStatements))
	}

	// Once migrated, Ready is only a ping.
	if err := d.Ready(ctx); err != nil {
		t.Fatalf("second Ready: %v", err)
	}
	if got := drv.execs.Load(); got != int64(len(schemaStatements)) {
		t.Fatalf("execs = %d after second Ready, want schema applied once", got)
	}
}
