package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/parser"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/store"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// createLogRequest is the POST /api/logs body
type createLogRequest struct {
	Category   string         `json:"category"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	Timestamp  string         `json:"timestamp"`
	SessionID  *string        `json:"session_id"`
	DurationMS *int64         `json:"duration_ms"`
	Cost       *float64       `json:"cost"`
}

const rawTimestampKey = "raw_timestamp"

// toRecord validates the request and fills defaults
func (req createLogRequest) toRecord(now time.Time) (*types.LogRecord, error) {
	if strings.TrimSpace(req.Category) == "" || strings.TrimSpace(req.Action) == "" {
		return nil, errors.New("category and action are required")
	}

	category := types.Category(req.Category)
	if !category.Valid() {
		return nil, fmt.Errorf("unknown category: %s", req.Category)
	}

	details := req.Details
	if details == nil {
		details = map[string]any{}
	}

	// An unreadable timestamp is stored as now, with the raw value kept
	// under details.raw_timestamp.
	ts := now.UTC()
	if req.Timestamp != "" {
		if parsed, err := parser.ParseTimestamp(req.Timestamp); err == nil {
			ts = parsed
		} else {
			details[rawTimestampKey] = req.Timestamp
		}
	}

	return &types.LogRecord{
		Timestamp:  ts,
		Category:   category,
		Action:     req.Action,
		Details:    details,
		SessionID:  req.SessionID,
		DurationMS: req.DurationMS,
		Cost:       req.Cost,
	}, nil
}

// handleCreateLog persists one log record
func (h *Handler) handleCreateLog(w http.ResponseWriter, r *http.Request) {
	var req createLogRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := req.toRecord(h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := tracing.TraceStore(r.Context(), h.tracer, "insert_log")
	id, err := h.store.InsertLog(ctx, rec)
	span.End()
	if err != nil {
		h.logger.Error().Err(err).Str("action", rec.Action).Msg("Log insert error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.metrics.APILogsInserted.WithLabelValues(string(rec.Category)).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
		"message": "Log entry created",
	})
}

// parseLogQuery reads the GET /api/logs query string
func parseLogQuery(r *http.Request) (store.LogQuery, error) {
	values := r.URL.Query()
	q := store.LogQuery{
		Category:  values.Get("category"),
		SessionID: values.Get("session_id"),
		Limit:     store.DefaultLimit,
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := parser.ParseTimestamp(raw)
		if err != nil {
			return q, fmt.Errorf("invalid %s: %s", p.name, raw)
		}
		*p.dst = &t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid %s: %s", p.name, raw)
		}
		*p.dst = n
	}

	return q, nil
}

// handleQueryLogs lists log records newest first
func (h *Handler) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	q, err := parseLogQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := tracing.TraceStore(r.Context(), h.tracer, "query_logs")
	logs, err := h.store.QueryLogs(ctx, q)
	span.End()
	if err != nil {
		h.logger.Error().Err(err).Msg("Log query error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(logs),
		"logs":    logs,
	})
}
