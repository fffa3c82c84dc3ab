package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// WAL readers and the single writer still collide on checkpoint
// moments, so ledger and dataset writes go through these helpers.
// Retries are bounded and short: a database that stays busy past
// three attempts has a stuck writer, not contention.
const busyAttempts = 3

// IsBusy reports whether err is an SQLite BUSY condition. The modernc
// driver surfaces these as text, so this matches the known strings.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn inside a transaction, retrying the whole transaction
// on BUSY with 100/200/300 ms waits. Any other error from fn rolls
// back and returns immediately.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= busyAttempts; attempt++ {
		err = runOnce(ctx, db, fn)
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyAttempts {
			break
		}
		if werr := sleepCtx(ctx, time.Duration(100*attempt)*time.Millisecond); werr != nil {
			return fmt.Errorf("dbopen: cancelled waiting on busy database: %w", werr)
		}
	}
	return fmt.Errorf("dbopen: transaction still busy after %d attempts: %w", busyAttempts, err)
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs a single statement with the same BUSY retry policy as
// RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var err error
	for attempt := 1; attempt <= busyAttempts; attempt++ {
		var result sql.Result
		result, err = db.ExecContext(ctx, query, args...)
		if err == nil || !IsBusy(err) {
			return result, err
		}
		if attempt == busyAttempts {
			break
		}
		if werr := sleepCtx(ctx, time.Duration(100*attempt)*time.Millisecond); werr != nil {
			return nil, fmt.Errorf("dbopen: cancelled waiting on busy database: %w", werr)
		}
	}
	return nil, fmt.Errorf("dbopen: exec still busy after %d attempts: %w", busyAttempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
