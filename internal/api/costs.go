package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

const dateLayout = "2006-01-02"

// handleInitInfo explains how to provision the schema
func (h *Handler) handleInitInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "POST to this endpoint to initialize the database tables",
	})
}

// handleInit provisions the schema
func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.TraceStore(r.Context(), h.tracer, "init")
	err := h.store.Init(ctx)
	span.End()
	if err != nil {
		h.logger.Error().Err(err).Msg("Init error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Database initialized",
	})
}

// handleDailyCosts returns the cost summary for ?date=, today (UTC) by default
func (h *Handler) handleDailyCosts(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.now().UTC().Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	ctx, span := tracing.TraceStore(r.Context(), h.tracer, "daily_costs")
	costs, err := h.store.DailyCosts(ctx, date)
	span.End()
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("Cost query error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"date":    date,
		"costs":   costs,
	})
}

type recordCostRequest struct {
	Date    string   `json:"date"`
	Service string   `json:"service"`
	Metric  string   `json:"metric"`
	Value   *float64 `json:"value"`
	Unit    string   `json:"unit"`
}

// handleRecordCost upserts one cost row
func (h *Handler) handleRecordCost(w http.ResponseWriter, r *http.Request) {
	var req recordCostRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Service) == "" || strings.TrimSpace(req.Metric) == "" || req.Value == nil {
		writeError(w, http.StatusBadRequest, "service, metric and value are required")
		return
	}
	if req.Date == "" {
		req.Date = h.now().UTC().Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	entry := types.CostEntry{
		Date:    req.Date,
		Service: req.Service,
		Metric:  req.Metric,
		Value:   *req.Value,
		Unit:    req.Unit,
	}

	ctx, span := tracing.TraceStore(r.Context(), h.tracer, "upsert_cost")
	err := h.store.UpsertCost(ctx, entry)
	span.End()
	if err != nil {
		h.logger.Error().Err(err).Msg("Cost upsert error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Cost recorded",
	})
}
