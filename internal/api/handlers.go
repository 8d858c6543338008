// Package api provides HTTP handlers for MomentPipe endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/models"
)

// snapshotHandler accepts a device snapshot, caches it, and runs a cycle.
// This is the UI-facing data-ready entry point.
func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.snapshotHandler: processing snapshot", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var snap models.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		slog.Warn("Server.snapshotHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	s.snapshots.Set(snap, time.Now())
	result := s.eng.GenerateAndNotify(r.Context(), snap.Info, snap.Capabilities, snap.Runtime)

	slog.Info("Server.snapshotHandler: cycle complete", "moments", len(result.Moments), "sent", result.NewNotificationsSent)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// checkHandler runs a cycle with the cached snapshot. This is the
// background-wake entry point.
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, ok := s.snapshots.Get()
	if !ok {
		slog.Warn("Server.checkHandler: no snapshot cached yet")
		writeJSONResponse(w, http.StatusConflict, models.Error("No device snapshot available yet"))
		return
	}
	result := s.eng.GenerateAndNotify(r.Context(), snap.Info, snap.Capabilities, snap.Runtime)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// momentsHandler returns the last generated moments without running a cycle.
func (s *Server) momentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.eng.GetRecentMoments()))
}

// notificationsHandler returns the dispatch log.
func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	records, err := s.st.GetNotificationRecords()
	if err != nil {
		slog.Error("Server.notificationsHandler: failed to read dispatch log", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read dispatch log"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// activityHandler returns the current activity stats.
func (s *Server) activityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.eng.ActivityStats()))
}

// ActivitySampleRequest is the payload for recording one activity sample.
type ActivitySampleRequest struct {
	Hour  int `json:"hour"`
	Steps int `json:"steps"`
}

// activitySampleHandler records a step sample for an hour bucket.
func (s *Server) activitySampleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ActivitySampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.activitySampleHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Hour < 0 || req.Hour > 23 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("hour must be between 0 and 23"))
		return
	}
	if req.Steps < 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("steps cannot be negative"))
		return
	}
	s.eng.RecordActivitySample(req.Hour, req.Steps)
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

// resetHandler clears all engine state. Used by logout flows and tests.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.eng.ClearCache(r.Context())
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Engine state cleared", nil))
}
