package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS logs (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		category VARCHAR(50) NOT NULL,
		action VARCHAR(255) NOT NULL,
		details JSONB DEFAULT '{}',
		session_id VARCHAR(100),
		duration_ms INTEGER,
		cost DECIMAL(10, 6),
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_category ON logs(category)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_session ON logs(session_id)`,
	`CREATE TABLE IF NOT EXISTS costs (
		id SERIAL PRIMARY KEY,
		date DATE NOT NULL,
		service VARCHAR(100) NOT NULL,
		metric VARCHAR(100) NOT NULL,
		value DECIMAL(15, 6) NOT NULL,
		unit VARCHAR(50),
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(date, service, metric)
	)`,
}

const logColumns = `id, timestamp, category, action, details, session_id, duration_ms, cost::float8, created_at`

// PostgresStore is a Store backed by a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL. The pool connects lazily, so a
// reachable server is only required once the store is used.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Init creates the tables and indexes inside one transaction
func (s *PostgresStore) Init(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// InsertLog inserts rec and returns the generated id
func (s *PostgresStore) InsertLog(ctx context.Context, rec *types.LogRecord) (int64, error) {
	details := rec.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal details: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO logs (timestamp, category, action, details, session_id, duration_ms, cost)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		RETURNING id`,
		rec.Timestamp, string(rec.Category), rec.Action, string(detailsJSON),
		rec.SessionID, rec.DurationMS, rec.Cost,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert log: %w", err)
	}
	return id, nil
}

// buildLogQuery renders q as SQL with positional arguments
func buildLogQuery(q LogQuery) (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT " + logColumns + " FROM logs WHERE 1=1")
	add := func(clause string, arg any) {
		args = append(args, arg)
		fmt.Fprintf(&sb, " AND %s $%d", clause, len(args))
	}
	if q.Category != "" {
		add("category =", q.Category)
	}
	if q.SessionID != "" {
		add("session_id =", q.SessionID)
	}
	if q.From != nil {
		add("timestamp >=", *q.From)
	}
	if q.To != nil {
		add("timestamp <=", *q.To)
	}

	args = append(args, q.limit(), q.offset())
	fmt.Fprintf(&sb, " ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return sb.String(), args
}

// QueryLogs runs a filtered, paginated select
func (s *PostgresStore) QueryLogs(ctx context.Context, q LogQuery) ([]types.LogRecord, error) {
	sql, args := buildLogQuery(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	records := make([]types.LogRecord, 0)
	for rows.Next() {
		rec, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return records, nil
}

func scanLog(row pgx.Row) (types.LogRecord, error) {
	var (
		rec      types.LogRecord
		category string
		details  []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.Timestamp, &category, &rec.Action, &details,
		&rec.SessionID, &rec.DurationMS, &rec.Cost, &rec.CreatedAt,
	); err != nil {
		return rec, fmt.Errorf("failed to scan log: %w", err)
	}
	rec.Category = types.Category(category)

	rec.Details = map[string]any{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return rec, fmt.Errorf("failed to decode details for log %d: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// UpsertCost inserts or replaces the cost row for date, service and metric
func (s *PostgresStore) UpsertCost(ctx context.Context, cost types.CostEntry) error {
	var unit *string
	if cost.Unit != "" {
		unit = &cost.Unit
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO costs (date, service, metric, value, unit)
		VALUES ($1::date, $2, $3, $4, $5)
		ON CONFLICT (date, service, metric)
		DO UPDATE SET value = EXCLUDED.value, unit = EXCLUDED.unit`,
		cost.Date, cost.Service, cost.Metric, cost.Value, unit,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cost: %w", err)
	}
	return nil
}

// DailyCosts sums cost values per service, metric and unit on date
func (s *PostgresStore) DailyCosts(ctx context.Context, date string) ([]types.CostSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT service, metric, SUM(value)::float8 AS total, COALESCE(unit, '')
		FROM costs
		WHERE date = $1::date
		GROUP BY service, metric, unit
		ORDER BY service, metric`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily costs: %w", err)
	}

	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.CostSummary, error) {
		var c types.CostSummary
		err := row.Scan(&c.Service, &c.Metric, &c.Total, &c.Unit)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read daily costs: %w", err)
	}
	if summaries == nil {
		summaries = []types.CostSummary{}
	}
	return summaries, nil
}

// Ping checks connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
