// Package api exposes the daemon's request surface: a loopback HTTP API for
// short-lived CLI clients and an MCP stdio server for agent hosts. Both
// transports call into the same interpreter and store; neither holds state
// of its own.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evanhsu/nlsh/internal/engine"
	"github.com/evanhsu/nlsh/internal/hostinfo"
	"github.com/evanhsu/nlsh/internal/interpreter"
	"github.com/evanhsu/nlsh/internal/storage"
)

// AppDeps holds everything the HTTP handlers need.
type AppDeps struct {
	Interpreter *interpreter.Interpreter
	Store       *storage.Store
	Host        hostinfo.Profile
	Token       string
	Engine      engine.Engine // optional; health reports "down" when nil or unreachable
}

// NewAppHandler returns the daemon's HTTP API.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	// Health is unauthenticated so `nlsh status` works before the client
	// has read the token file.
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/interpret", handleInterpret(deps))
		r.Post("/interactions/{id}/feedback", handleFeedback(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Post("/export", handleExport(deps))
		r.Post("/purge", handlePurge(deps))
		r.Get("/hostinfo", handleHostinfo(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backend := "down"
		if deps.Engine != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if deps.Engine.IsRunning(ctx) {
				backend = "up"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":        "ok",
			"model_backend": backend,
		})
	}
}

// InterpretRequest is the body of POST /interpret.
type InterpretRequest struct {
	Prompt    string `json:"prompt"`
	Cwd       string `json:"cwd"`
	SessionID string `json:"session_id"`
}

// InterpretResponse mirrors the stored record's generation-time fields.
type InterpretResponse struct {
	RecordID         string              `json:"record_id"`
	Intent           string              `json:"intent,omitempty"`
	IntentConfidence *float64            `json:"intent_confidence,omitempty"`
	Candidates       []storage.Candidate `json:"candidates"`
	SessionID        string              `json:"session_id"`
}

func handleInterpret(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req InterpretRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		rec, err := deps.Interpreter.Interpret(r.Context(), req.Prompt, req.Cwd, req.SessionID)
		if errors.Is(err, interpreter.ErrEmptyPrompt) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "interpreting prompt: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(InterpretResponse{
			RecordID:         rec.ID,
			Intent:           rec.Intent,
			IntentConfidence: rec.IntentConfidence,
			Candidates:       rec.Candidates,
			SessionID:        rec.SessionID,
		})
	}
}

// FeedbackRequest is the body of POST /interactions/{id}/feedback.
type FeedbackRequest struct {
	Feedback        string `json:"feedback"`
	SelectedCommand string `json:"selected_command"`
	ExecutedCommand string `json:"executed_command"`
	ExitCode        *int64 `json:"exit_code"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		fb := storage.Feedback(req.Feedback)
		if !fb.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown feedback value %q", req.Feedback)
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Interpreter.RecordFeedback(id, fb, req.SelectedCommand, req.ExecutedCommand, req.ExitCode)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if errors.Is(err, storage.ErrInvalidTransition) {
			httpError(w, http.StatusConflict, "invalid_transition", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording feedback: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.Store.Query(f, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interactions)
	}
}

func handleGetInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Store.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading interaction: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

// handleExport streams accepted interactions as NDJSON training examples,
// one JSON object per line.
func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		examples, err := deps.Store.Export(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "exporting: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		bw := bufio.NewWriter(w)
		enc := json.NewEncoder(bw)
		for _, ex := range examples {
			if err := enc.Encode(ex); err != nil {
				// Headers already sent; nothing useful left to tell the client.
				return
			}
		}
		bw.Flush()
	}
}

// PurgeRequest is the body of POST /purge. OlderThanDays is required:
// deletion never happens implicitly, and an all-zero request must not wipe
// the corpus by accident.
type PurgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

func handlePurge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req PurgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OlderThanDays <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "older_than_days must be a positive integer")
			return
		}

		cutoff := time.Now().AddDate(0, 0, -req.OlderThanDays)
		n, err := deps.Store.Purge(cutoff)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "purging: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"deleted_count": n})
	}
}

func handleHostinfo(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Host)
	}
}

// parseFilter reads the shared interaction filter from query parameters.
// Timestamps are RFC3339.
func parseFilter(r *http.Request) (storage.Filter, error) {
	var f storage.Filter
	q := r.URL.Query()

	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("invalid since timestamp %q", s)
		}
		f.Since = t
	}
	if s := q.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("invalid until timestamp %q", s)
		}
		f.Until = t
	}
	if s := q.Get("feedback"); s != "" {
		fb := storage.Feedback(s)
		if !fb.Valid() {
			return f, fmt.Errorf("unknown feedback value %q", s)
		}
		f.Feedback = fb
	}
	f.SessionID = q.Get("session_id")
	f.Intent = q.Get("intent")
	return f, nil
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
