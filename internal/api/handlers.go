package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/tracetap/internal/client"
)

const eventSubscriptionChanged = "subscription.changed"

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.ctrl.Stats()

	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		WorkDir:       s.ctrl.WorkDir(),
		Delivered:     stats.Delivered,
		Dropped:       stats.Dropped,
		Panics:        stats.Panics,
	}

	keys, err := s.ctrl.Subscriptions()
	switch {
	case errors.Is(err, client.ErrClosed):
		resp.Status = "closed"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	case errors.Is(err, client.ErrDispatchStopped):
		resp.Status = "stopped"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Subscriptions = len(keys)

	respondJSON(w, http.StatusOK, resp)
}

// handleListSubscriptions handles GET /subscriptions.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	keys, err := s.ctrl.Subscriptions()
	if err != nil {
		s.writeClientError(w, err, "failed to list subscriptions")
		return
	}
	respondJSON(w, http.StatusOK, SubscriptionsResponse{Enabled: keys})
}

// handleSetSubscription handles PUT /subscriptions/{module} and
// PUT /subscriptions/{module}/{category}.
func (s *Server) handleSetSubscription(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")
	category := chi.URLParam(r, "category")

	var req SetSubscriptionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if err := s.ctrl.EnableMessage(module, category, *req.Enabled); err != nil {
		s.writeClientError(w, err, "failed to update subscription")
		return
	}

	resp := SetSubscriptionResponse{Module: module, Category: category, Enabled: *req.Enabled}
	s.events.Publish(eventSubscriptionChanged, resp)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) writeClientError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, client.ErrClosed) || errors.Is(err, client.ErrDispatchStopped) {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Error(message, "error", err)
	s.writeError(w, http.StatusInternalServerError, message+": "+err.Error())
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
