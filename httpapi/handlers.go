package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curbtheory/curbside/cache"
	"github.com/curbtheory/curbside/metrics"
	"github.com/curbtheory/curbside/storage"
	"github.com/curbtheory/curbside/strategy"
)

// readBody reads a bounded request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
}

// handleBlocks admits a snapshot into the pipeline with duplicate-POST
// protection. A repeated request within the idempotency window replays the
// memoized response byte for byte.
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "unreadable body"})
		return
	}

	var req struct {
		SnapshotID string `json:"snapshotId"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.SnapshotID == "" {
		metrics.Admissions.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "snapshotId is required"})
		return
	}

	key := cache.RequestKey(r.Header.Get("Idempotency-Key"), r.Method, r.URL.Path, body)
	if entry, ok := s.idem.Get(key); ok {
		metrics.Admissions.WithLabelValues("replayed").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(entry.StatusCode)
		_, _ = w.Write(entry.Body)
		return
	}

	adm, err := s.pipeline.Admit(r.Context(), req.SnapshotID)
	if errors.Is(err, strategy.ErrBadSnapshotID) {
		metrics.Admissions.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if err != nil {
		metrics.Admissions.WithLabelValues("error").Inc()
		s.logger.Error("Admit failed", "snapshot_id", req.SnapshotID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "enqueue failed"})
		return
	}

	status := http.StatusOK
	resp := map[string]any{"ok": true, "status": adm.Status, "snapshotId": adm.SnapshotID}
	if adm.Admitted {
		metrics.Admissions.WithLabelValues("admitted").Inc()
		status = http.StatusAccepted
		resp["kicked"] = adm.Kicked
	} else {
		metrics.Admissions.WithLabelValues("queued").Inc()
	}

	respBody, _ := json.Marshal(resp)
	s.idem.Put(key, cache.Entry{StatusCode: status, Body: respBody})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

// handleSeed creates the pending strategy row for a snapshot without
// scheduling any runners. Used by ingestion before the client decides to run.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "unreadable body"})
		return
	}

	var req struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.SnapshotID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "snapshot_id is required"})
		return
	}

	if err := s.store.EnsureStrategyRow(r.Context(), req.SnapshotID, storage.TriggerInitial); err != nil {
		s.logger.Error("Seed failed", "snapshot_id", req.SnapshotID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "seed failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "snapshot_id": req.SnapshotID})
}

// handleRun admits a snapshot and schedules the triad, without the blocks
// idempotency window. Repeated calls are safe; the triad job dedupes.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	snapshotID := r.PathValue("snapshotID")

	adm, err := s.pipeline.Admit(r.Context(), snapshotID)
	if errors.Is(err, strategy.ErrBadSnapshotID) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("Run failed", "snapshot_id", snapshotID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "run failed"})
		return
	}

	kicked := adm.Kicked
	if kicked == nil {
		kicked = []string{}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "pending",
		"snapshot_id": snapshotID,
		"kicked":      kicked,
	})
}

// handleGetStrategy reports a run's current state, including the waitFor set
// of pieces still missing.
func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	snapshotID := r.PathValue("snapshotID")

	row, err := s.store.GetStrategyRow(r.Context(), snapshotID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "strategy not found"})
		return
	}
	if err != nil {
		s.logger.Error("Strategy read failed", "snapshot_id", snapshotID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "read failed"})
		return
	}

	briefing, err := s.store.GetBriefing(r.Context(), snapshotID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("Briefing read failed", "snapshot_id", snapshotID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "read failed"})
		return
	}

	var briefingJSON json.RawMessage
	if briefing != nil {
		briefingJSON = json.RawMessage(briefing.Serialize())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        row.Status,
		"snapshot_id":   row.SnapshotID,
		"min":           row.MinStrategy,
		"briefing":      briefingJSON,
		"consolidated":  row.ConsolidatedStrategy,
		"waitFor":       strategy.WaitFor(row, briefing),
		"timeElapsedMs": time.Since(row.CreatedAt).Milliseconds(),
	})
}

// handleBriefing serves the briefing projection for a snapshot.
func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	snapshotID := r.PathValue("snapshotID")

	briefing, err := s.store.GetBriefing(r.Context(), snapshotID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "briefing not found"})
		return
	}
	if err != nil {
		s.logger.Error("Briefing read failed", "snapshot_id", snapshotID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "read failed"})
		return
	}
	writeJSON(w, http.StatusOK, briefing)
}

// handleRetry re-keys a snapshot into a fresh run.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	originalID := r.PathValue("snapshotID")

	newID, err := s.pipeline.Retry(r.Context(), originalID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "snapshot not found"})
		return
	}
	if err != nil {
		s.logger.Error("Retry failed", "snapshot_id", originalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "retry failed"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":                   true,
		"new_snapshot_id":      newID,
		"original_snapshot_id": originalID,
		"status":               "pending",
	})
}

// handleHistory lists a user's run attempts.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "user_id is required"})
		return
	}

	attempts, err := s.store.StrategyHistory(r.Context(), userID)
	if err != nil {
		s.logger.Error("History read failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "read failed"})
		return
	}
	if attempts == nil {
		attempts = []storage.StrategyAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "attempts": attempts})
}

// handleEvents streams a notification channel over SSE until the client
// disconnects.
func (s *Server) handleEvents(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "streaming unsupported"})
			return
		}

		sub, err := s.broker.Subscribe(channel)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		defer s.broker.Unsubscribe(sub)

		metrics.SSESubscribers.WithLabelValues(channel).Inc()
		defer metrics.SSESubscribers.WithLabelValues(channel).Dec()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Channel, ev.Payload)
				flusher.Flush()
			}
		}
	}
}
