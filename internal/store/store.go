// Package store persists log records and daily cost rows for the logging API.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// DefaultLimit caps QueryLogs when the query carries no limit
const DefaultLimit = 100

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store is closed")

// LogQuery filters QueryLogs. Empty strings and nil times do not filter;
// From and To are inclusive.
type LogQuery struct {
	Category  string
	SessionID string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Store is the persistence boundary of the logging API
type Store interface {
	// Init provisions the schema. It is idempotent.
	Init(ctx context.Context) error
	// InsertLog persists rec and returns its assigned id
	InsertLog(ctx context.Context, rec *types.LogRecord) (int64, error)
	// QueryLogs returns matching records newest first
	QueryLogs(ctx context.Context, q LogQuery) ([]types.LogRecord, error)
	// UpsertCost records one cost row, replacing any row for the same
	// date, service and metric
	UpsertCost(ctx context.Context, cost types.CostEntry) error
	// DailyCosts sums cost values per service, metric and unit for a date
	DailyCosts(ctx context.Context, date string) ([]types.CostSummary, error)
	Ping(ctx context.Context) error
	Close() error
}

func (q LogQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

func (q LogQuery) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
