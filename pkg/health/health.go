// Package health exposes liveness and readiness probes for presenced.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// pingTimeout bounds the database probe inside a readiness check.
const pingTimeout = 2 * time.Second

// Readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Pinger is the database probe behind readiness. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker tracks the service's readiness state and probes its database.
// It is safe for concurrent use.
type Checker struct {
	state atomic.Int32
	db    Pinger
}

// NewChecker creates a Checker in the starting state. A nil db skips the
// database probe.
func NewChecker(db Pinger) *Checker {
	return &Checker{db: db}
}

// SetReady marks the service ready to serve traffic.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining marks the service as shutting down so load balancers stop
// routing to it while in-flight requests finish.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

type probeResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// LivenessHandler always responds 200 while the process is up (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, probeResponse{Status: "ok"})
	}
}

// ReadinessHandler responds 200 only when the service is ready and its
// database answers a ping; otherwise 503 (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.state.Load() != stateReady {
			writeProbe(w, http.StatusServiceUnavailable, probeResponse{Status: c.State()})
			return
		}

		resp := probeResponse{Status: c.State(), Database: "ok"}
		if c.db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			defer cancel()
			if err := c.db.PingContext(ctx); err != nil {
				resp.Database = "unreachable"
				writeProbe(w, http.StatusServiceUnavailable, resp)
				return
			}
		}
		writeProbe(w, http.StatusOK, resp)
	}
}

func writeProbe(w http.ResponseWriter, code int, v probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
