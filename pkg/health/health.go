// Package health tracks service readiness and serves the probe endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Readiness states.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

const defaultProbeTimeout = 2 * time.Second

// Probe checks one dependency, such as the claims store.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Checker tracks readiness and runs dependency probes. It is safe for
// concurrent use.
type Checker struct {
	state   atomic.Int32
	probes  []Probe
	timeout time.Duration
}

// NewChecker creates a Checker in the starting state. Readiness also
// requires every probe to pass.
func NewChecker(probes ...Probe) *Checker {
	return &Checker{probes: probes, timeout: defaultProbeTimeout}
}

// SetReady transitions to the ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady reports whether the state is ready. Probes are not run.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state name.
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

// Check runs every probe and returns the failures keyed by probe name.
func (c *Checker) Check(ctx context.Context) map[string]string {
	failed := map[string]string{}
	for _, p := range c.probes {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Check(pctx)
		cancel()
		if err != nil {
			failed[p.Name] = err.Error()
		}
	}
	return failed
}

type response struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

// LivenessHandler always responds 200.
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, response{Status: "ok"})
	}
}

// ReadinessHandler responds 200 when ready and every probe passes, and 503
// otherwise.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, response{Status: c.State()})
			return
		}
		if failed := c.Check(r.Context()); len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, response{Status: "unavailable", Failed: failed})
			return
		}
		writeJSON(w, http.StatusOK, response{Status: c.State()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
