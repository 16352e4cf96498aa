package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/activitydesk/presence/pkg/auth"
	"github.com/activitydesk/presence/pkg/authz"
	"github.com/activitydesk/presence/pkg/presence"
)

// Handler serves the session and maintenance REST API.
type Handler struct {
	mux        *http.ServeMux
	tracker    *presence.Tracker
	aggregator *presence.Aggregator
	sweeper    *presence.Sweeper
	cache      *authz.Cache
	gate       *authz.Gate
}

// NewHandler creates the API handler. Routes that expose other users'
// activity require students.read or system.manage; maintenance routes
// require system.manage.
func NewHandler(tracker *presence.Tracker, aggregator *presence.Aggregator, sweeper *presence.Sweeper, cache *authz.Cache, gate *authz.Gate) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		tracker:    tracker,
		aggregator: aggregator,
		sweeper:    sweeper,
		cache:      cache,
		gate:       gate,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	viewer := RequireAnyPermission(h.gate, "students.read", "system.manage")
	admin := RequirePermission(h.gate, "system.manage")

	h.mux.Handle("GET /api/v1/sessions/active-users", viewer(http.HandlerFunc(h.activeUsers)))
	h.mux.Handle("GET /api/v1/sessions/status/{userId}", viewer(http.HandlerFunc(h.status)))
	h.mux.HandleFunc("GET /api/v1/sessions/mine", h.mySessions)
	h.mux.HandleFunc("POST /api/v1/sessions/heartbeat", h.heartbeat)
	h.mux.HandleFunc("DELETE /api/v1/sessions/{tabId}", h.logout)
	h.mux.Handle("POST /api/v1/admin/sessions/sweep", admin(http.HandlerFunc(h.sweep)))
	h.mux.Handle("POST /api/v1/admin/authz/invalidate", admin(http.HandlerFunc(h.invalidate)))
}

// activeUsers returns deduplicated active user IDs and codes. The minutes
// query parameter overrides the recency threshold.
func (h *Handler) activeUsers(w http.ResponseWriter, r *http.Request) {
	active, err := h.aggregator.ActiveUsers(r.Context(), minutesParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list active users")
		return
	}
	writeJSON(w, http.StatusOK, active)
}

// mySessions returns the caller's own sessions inside the threshold.
func (h *Handler) mySessions(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessions, err := h.tracker.ListActive(r.Context(), id.UserID, minutesParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// status returns the liveness summary for one user.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.tracker.StatusFor(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get activity status")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type heartbeatRequest struct {
	TabID string `json:"tab_id"`
}

// heartbeat bumps the caller's session activity. The tab may arrive in the
// body or the X-Tab-Id header. Responds whether the session is still known;
// a missing session tells the client to re-track, never an error.
func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req heartbeatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.TabID == "" {
		req.TabID = r.Header.Get(tabIDHeader)
	}

	outcome := h.tracker.Heartbeat(r.Context(), req.TabID)
	writeJSON(w, http.StatusOK, map[string]any{"active": outcome == presence.HeartbeatOK})
}

// logout removes the session for the tab. Always 204: an already-gone
// session satisfies the caller's intent, and store failures stay invisible
// to the client.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	h.tracker.Remove(r.Context(), r.PathValue("tabId"))
	w.WriteHeader(http.StatusNoContent)
}

// sweep deletes sessions idle longer than the retention. The hours query
// parameter overrides the configured retention.
func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	var retention time.Duration
	if hours, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && hours > 0 {
		retention = time.Duration(hours) * time.Hour
	}

	deleted, err := h.sweeper.Sweep(r.Context(), retention)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// invalidate drops cached permissions for one user, or for everyone when no
// user_id is given. Called after a role's permission set is edited.
func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		h.cache.Invalidate(userID)
	} else {
		h.cache.InvalidateAll()
	}
	w.WriteHeader(http.StatusNoContent)
}

// minutesParam reads the minutes query parameter as a duration; zero when
// absent or invalid, letting components fall back to their defaults.
func minutesParam(r *http.Request) time.Duration {
	minutes, err := strconv.Atoi(r.URL.Query().Get("minutes"))
	if err != nil || minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
