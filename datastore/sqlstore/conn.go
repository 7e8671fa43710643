package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// tableRe validates collection names used as table names.
	tableRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	// pathRe validates field names, dots addressing nested values.
	pathRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)*$`)
)

func validTable(s string) bool { return len(s) <= 63 && tableRe.MatchString(s) }
func validPath(s string) bool  { return len(s) <= 128 && pathRe.MatchString(s) }

// ExecQuerier wraps the standard Exec and Query methods. *sql.DB and
// *sql.Tx implement it.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QueryStats holds statement execution statistics.
type QueryStats struct {
	TotalQueries  atomic.Int64
	TotalExecs    atomic.Int64
	TotalDuration atomic.Int64 // nanoseconds
	SlowQueries   atomic.Int64
	Errors        atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d duration=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.SlowQueries, s.Errors)
}

// conn executes statements, recording statistics and logging slow ones.
type conn struct {
	ExecQuerier
	stats *QueryStats
	slow  time.Duration
	log   *zap.Logger
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := c.ExecContext(ctx, query, args...)
	c.record(query, args, start, err, false)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: exec: %w", err)
	}
	return res, nil
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := c.QueryContext(ctx, query, args...)
	c.record(query, args, start, err, true)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	return rows, nil
}

func (c *conn) record(query string, args []any, start time.Time, err error, isQuery bool) {
	d := time.Since(start)
	if isQuery {
		c.stats.TotalQueries.Add(1)
	} else {
		c.stats.TotalExecs.Add(1)
	}
	c.stats.TotalDuration.Add(int64(d))
	if err != nil {
		c.stats.Errors.Add(1)
	}
	if c.slow > 0 && d > c.slow {
		c.stats.SlowQueries.Add(1)
		c.log.Warn("slow query detected", zap.Duration("duration", d), zap.String("query", query), zap.Any("args", args))
		return
	}
	if ce := c.log.Check(zap.DebugLevel, "sql statement"); ce != nil {
		ce.Write(zap.String("query", query), zap.Any("args", args), zap.Duration("duration", d), zap.Error(err))
	}
}
