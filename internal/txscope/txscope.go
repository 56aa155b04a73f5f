// Package txscope provides an RAII-flavored wrapper around a sql.Tx: it
// begins a transaction on construction and guarantees rollback, logged
// rather than propagated as an error, if neither Commit nor Abort was
// called before the scope is closed. Go has no destructors, so the
// guarantee is expressed as a Close method callers invoke with defer
// immediately after New succeeds, exactly where the original C++
// SqlTransactionScope relied on stack unwinding.
package txscope

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Scope wraps one open *sql.Tx and tracks whether it was explicitly
// resolved.
type Scope struct {
	tx       *sql.Tx
	active   bool
	database string
}

// New begins a transaction on conn and returns a Scope guarding it.
// database is carried only for log context.
func New(ctx context.Context, conn *sql.Conn, database string) (*Scope, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("txscope: BEGIN failed: %w", err)
	}
	return &Scope{tx: tx, active: true, database: database}, nil
}

// Tx returns the underlying transaction for statement execution.
func (s *Scope) Tx() *sql.Tx { return s.tx }

// IsActive reports whether the transaction is still open.
func (s *Scope) IsActive() bool { return s.active }

// Commit commits the transaction. Calling Commit twice, or after Abort,
// is an error.
func (s *Scope) Commit() error {
	if !s.active {
		return fmt.Errorf("txscope: transaction on %q is not active", s.database)
	}
	s.active = false
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("txscope: COMMIT failed on %q: %w", s.database, err)
	}
	return nil
}

// Abort rolls back the transaction explicitly.
func (s *Scope) Abort() error {
	if !s.active {
		return fmt.Errorf("txscope: transaction on %q is not active", s.database)
	}
	s.active = false
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("txscope: ROLLBACK failed on %q: %w", s.database, err)
	}
	return nil
}

// Close rolls back the transaction if it is still active and logs the
// outcome instead of returning an error, matching the original scope's
// destructor, which could not throw. Callers defer Close immediately
// after New succeeds; it is a no-op once Commit or Abort has run.
func (s *Scope) Close() {
	if !s.active {
		return
	}
	s.active = false
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("transaction scope rollback on close failed", "database", s.database, "err", err)
	}
}
