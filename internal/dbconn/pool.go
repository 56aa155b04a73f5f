// Package dbconn is the connection capability every request collaborates
// with: a fixed-size pool of dedicated MySQL connections, checked out for
// the full lifetime of a request's execute() rather than per statement.
// This mirrors how the original worker's service threads each hold one
// open connection to the database: a request never shares a connection
// with another request running concurrently, so session state (the
// current database, an open transaction, LOAD DATA staging) is never
// clobbered by an unrelated caller.
//
// The checkout discipline follows a sync.Mutex-guarded idle/active split
// with a sync.Cond broadcast on Return and a timer-backed timeout on
// Acquire, delegating the wire protocol itself to database/sql plus
// github.com/go-sql-driver/mysql and only implementing the checkout
// bookkeeping.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lsst-qserv/worker-replicad/internal/config"
)

// Pool hands out exclusive *Conn values backed by a shared *sql.DB.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	db *sql.DB

	size           int
	acquireTimeout time.Duration

	idle    []*Conn
	active  map[*Conn]struct{}
	total   int
	waiting int
	closed  bool
}

// Open builds the DSN from cfg, opens the underlying *sql.DB, and sizes
// its connection limit to cfg.ServicesPoolSize.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	dsn := dsnFromConfig(cfg)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbconn: opening database handle: %w", err)
	}
	size := cfg.ServicesPoolSize
	return NewFromDB(db, size), nil
}

// NewFromDB wraps an already-open *sql.DB in a Pool sized to size,
// bypassing DSN construction entirely. It exists so tests can substitute
// a mock driver (e.g. sqlmock) for the real MySQL connection while
// exercising the same checkout bookkeeping Open's callers rely on.
func NewFromDB(db *sql.DB, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)

	p := &Pool{
		db:             db,
		size:           size,
		acquireTimeout: 30 * time.Second,
		active:         make(map[*Conn]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func dsnFromConfig(cfg config.DatabaseConfig) string {
	if cfg.Socket != "" {
		return fmt.Sprintf("%s:%s@unix(%s)/", cfg.User, cfg.Password, cfg.Socket)
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/", cfg.User, cfg.Password, host, port)
}

// Conn is one checked-out connection. It is not safe for concurrent use by
// more than one goroutine, matching the one-request-one-connection
// discipline it exists to enforce.
type Conn struct {
	raw   *sql.Conn
	pool  *Pool
	inUse bool
}

// Raw returns the underlying *sql.Conn for statement execution.
func (c *Conn) Raw() *sql.Conn { return c.raw }

// Return releases the connection back to its pool.
func (c *Conn) Return() {
	if c.pool != nil {
		c.pool.release(c)
	}
}

// Acquire checks out a connection, waiting up to ctx's deadline (or the
// pool's configured acquire timeout, whichever is sooner) for one to
// become free.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	deadline := time.Now().Add(p.acquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("dbconn: pool is closed")
		}

		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			c.inUse = true
			p.active[c] = struct{}{}
			p.mu.Unlock()
			return c, nil
		}

		if p.total < p.size {
			p.total++
			p.mu.Unlock()

			raw, err := p.db.Conn(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("dbconn: dialing connection: %w", err)
			}
			c := &Conn{raw: raw, pool: p, inUse: true}
			p.mu.Lock()
			p.active[c] = struct{}{}
			p.mu.Unlock()
			return c, nil
		}

		p.waiting++
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, fmt.Errorf("dbconn: acquire timeout after %s, pool exhausted", p.acquireTimeout)
		}
		timer := time.AfterFunc(remaining, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("dbconn: pool closing")
		}
	}
}

func (p *Pool) release(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, c)
	c.inUse = false
	if p.closed {
		c.raw.Close()
		p.total--
		return
	}
	p.idle = append(p.idle, c)
	p.cond.Broadcast()
}

// Stats reports a point-in-time snapshot for the metrics collector.
type Stats struct {
	Active  int
	Idle    int
	Total   int
	Waiting int
	Size    int
}

// Stats returns the current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:  len(p.active),
		Idle:    len(p.idle),
		Total:   p.total,
		Waiting: p.waiting,
		Size:    p.size,
	}
}

// Close closes every idle connection and prevents further Acquire calls
// from succeeding; connections still checked out are closed as they are
// returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, c := range idle {
		c.raw.Close()
	}
	return p.db.Close()
}
