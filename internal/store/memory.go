package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

type costKey struct {
	date, service, metric string
}

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	logs   []types.LogRecord
	costs  map[costKey]types.CostEntry
	nextID int64
	closed bool
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		costs:  make(map[costKey]types.CostEntry),
		nextID: 1,
		now:    time.Now,
	}
}

// Init is a no-op for the in-memory store
func (m *MemoryStore) Init(ctx context.Context) error {
	return m.Ping(ctx)
}

// InsertLog stores a copy of rec
func (m *MemoryStore) InsertLog(ctx context.Context, rec *types.LogRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	stored := *rec
	stored.ID = m.nextID
	stored.CreatedAt = m.now().UTC()
	if stored.Details == nil {
		stored.Details = map[string]any{}
	}
	m.nextID++
	m.logs = append(m.logs, stored)
	return stored.ID, nil
}

// QueryLogs filters, orders newest first and paginates
func (m *MemoryStore) QueryLogs(ctx context.Context, q LogQuery) ([]types.LogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	matched := make([]types.LogRecord, 0)
	for _, rec := range m.logs {
		if q.Category != "" && string(rec.Category) != q.Category {
			continue
		}
		if q.SessionID != "" && (rec.SessionID == nil || *rec.SessionID != q.SessionID) {
			continue
		}
		if q.From != nil && rec.Timestamp.Before(*q.From) {
			continue
		}
		if q.To != nil && rec.Timestamp.After(*q.To) {
			continue
		}
		matched = append(matched, rec)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	offset := q.offset()
	if offset >= len(matched) {
		return []types.LogRecord{}, nil
	}
	matched = matched[offset:]
	if limit := q.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// UpsertCost replaces the row for the same date, service and metric
func (m *MemoryStore) UpsertCost(ctx context.Context, cost types.CostEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.costs[costKey{cost.Date, cost.Service, cost.Metric}] = cost
	return nil
}

// DailyCosts sums the rows of one date
func (m *MemoryStore) DailyCosts(ctx context.Context, date string) ([]types.CostSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	type group struct{ service, metric, unit string }
	totals := make(map[group]float64)
	for key, cost := range m.costs {
		if key.date != date {
			continue
		}
		totals[group{cost.Service, cost.Metric, cost.Unit}] += cost.Value
	}

	summaries := make([]types.CostSummary, 0, len(totals))
	for g, total := range totals {
		summaries = append(summaries, types.CostSummary{
			Service: g.service,
			Metric:  g.metric,
			Total:   total,
			Unit:    g.unit,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Service != summaries[j].Service {
			return summaries[i].Service < summaries[j].Service
		}
		return summaries[i].Metric < summaries[j].Metric
	})
	return summaries, nil
}

// Ping reports ErrClosed after Close
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
