package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The BUSY retry loop: up to busyRetries attempts with linear backoff
// (100, 200, 300 ms).
const (
	busyRetries = 3
	busyBackoff = 100 * time.Millisecond
)

// IsBusy reports whether err looks like an SQLite BUSY condition. The
// driver surfaces these as message strings, so the check is textual.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx executes fn inside a transaction, retrying the whole transaction
// when SQLite reports BUSY. An error from fn rolls the transaction back
// and is returned unwrapped.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return withBusyRetry(ctx, func() error {
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
	})
}

// Exec executes a single statement with the same BUSY retry policy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withBusyRetry(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// withBusyRetry runs op until it succeeds, fails with a non-BUSY error,
// or exhausts the retry budget. The last error wins.
func withBusyRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= busyRetries; attempt++ {
		if err = op(); err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyRetries {
			break
		}
		if werr := sleepCtx(ctx, time.Duration(attempt)*busyBackoff); werr != nil {
			return fmt.Errorf("dbopen: context cancelled during retry: %w", werr)
		}
	}
	return err
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
