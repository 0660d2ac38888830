package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrPoolExhausted is returned by Acquire when no pooled connection became
// free within the gateway's acquire timeout.
var ErrPoolExhausted = errors.New("database: connection pool exhausted")

// ErrNoTransaction is returned by Commit when Begin was never called.
var ErrNoTransaction = errors.New("database: no open transaction")

// Querier is the subset of *sql.DB, *sql.Tx and *Conn the repositories use.
// Every statement goes through placeholders; there is no raw-string path.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Gateway hands out dedicated connections with explicit transaction control.
type Gateway struct {
	db             *sql.DB
	acquireTimeout time.Duration
	isolation      sql.IsolationLevel
}

// NewGateway wraps db.  A non-positive timeout defaults to three seconds.
func NewGateway(db *sql.DB, acquireTimeout time.Duration) *Gateway {
	if acquireTimeout <= 0 {
		acquireTimeout = 3 * time.Second
	}
	return &Gateway{db: db, acquireTimeout: acquireTimeout}
}

// WithIsolation sets the isolation level of transactions opened through
// the gateway's connections.
func (g *Gateway) WithIsolation(level sql.IsolationLevel) *Gateway {
	g.isolation = level
	return g
}

// IsolationFor returns the level the reservation workflow needs on driver.
// InnoDB defaults to REPEATABLE READ, where a plain SELECT after a losing
// conditional UPDATE still reads the snapshot taken by the first read of the
// transaction; READ COMMITTED makes that re-read see the winner's commit.
// SQLite serializes writers and keeps its default.
func IsolationFor(driver string) sql.IsolationLevel {
	if driver == "mysql" {
		return sql.LevelReadCommitted
	}
	return sql.LevelDefault
}

// DB exposes the pool for single-statement reads that need no transaction.
func (g *Gateway) DB() *sql.DB { return g.db }

// Acquire takes one connection out of the pool.  The caller owns it until
// Release; it is never shared with another request.
func (g *Gateway) Acquire(ctx context.Context) (*Conn, error) {
	actx, cancel := context.WithTimeout(ctx, g.acquireTimeout)
	defer cancel()
	c, err := g.db.Conn(actx)
	if err != nil {
		// only our own timer firing means the pool was exhausted; a caller
		// cancellation is reported as is
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrPoolExhausted
		}
		return nil, err
	}
	return &Conn{conn: c, isolation: g.isolation}, nil
}

// Conn is a pooled connection with at most one open transaction.
// Release must be called exactly once per Acquire, normally via defer;
// extra calls are no-ops.
type Conn struct {
	conn      *sql.Conn
	tx        *sql.Tx
	isolation sql.IsolationLevel
	released  bool
}

// Begin opens a transaction on the connection.
func (c *Conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("database: transaction already open")
	}
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{Isolation: c.isolation})
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit commits the open transaction.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

// Rollback aborts the open transaction, if any.
func (c *Conn) Rollback() error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Release rolls back anything uncommitted and returns the connection to
// the pool.
func (c *Conn) Release() error {
	if c.released {
		return nil
	}
	c.released = true
	rbErr := c.Rollback()
	closeErr := c.conn.Close()
	return errors.Join(rbErr, closeErr)
}

// InTx reports whether a transaction is open.
func (c *Conn) InTx() bool { return c.tx != nil }

func (c *Conn) querier() Querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.querier().ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.querier().QueryContext(ctx, query, args...)
}

func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.querier().QueryRowContext(ctx, query, args...)
}
