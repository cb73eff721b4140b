package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const (
	stateNameStarting = "starting"
	stateNameReady    = "ready"
	stateNameDraining = "draining"
	goroutineCount    = 100
)

func storeProbe(err error) Probe {
	return Probe{Name: "store", Check: func(context.Context) error { return err }}
}

func TestNewChecker_StartsInStartingState(t *testing.T) {
	hc := NewChecker()
	if hc.State() != stateNameStarting {
		t.Errorf("State() = %q, want %q", hc.State(), stateNameStarting)
	}
	if hc.IsReady() {
		t.Error("IsReady() = true, want false in starting state")
	}
}

func TestStateTransitions(t *testing.T) {
	hc := NewChecker()
	hc.SetReady()
	if hc.State() != stateNameReady || !hc.IsReady() {
		t.Fatalf("after SetReady() state = %q", hc.State())
	}
	hc.SetDraining()
	if hc.State() != stateNameDraining || hc.IsReady() {
		t.Fatalf("after SetDraining() state = %q", hc.State())
	}
}

func TestCheck(t *testing.T) {
	hc := NewChecker(storeProbe(nil), Probe{
		Name: "llm",
		Check: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("no deadline")
			}
			return errors.New("unreachable")
		},
	})

	failed := hc.Check(context.Background())
	if len(failed) != 1 {
		t.Fatalf("Check() = %v, want one failure", failed)
	}
	if failed["llm"] != "unreachable" {
		t.Errorf("failed[llm] = %q, want %q", failed["llm"], "unreachable")
	}
}

func TestLivenessHandler(t *testing.T) {
	hc := NewChecker(storeProbe(errors.New("down")))
	rec := httptest.NewRecorder()
	hc.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		probeErr   error
		setup      func(*Checker)
		wantStatus int
		wantBody   string
	}{
		{"starting", nil, func(*Checker) {}, http.StatusServiceUnavailable, stateNameStarting},
		{"ready", nil, (*Checker).SetReady, http.StatusOK, stateNameReady},
		{"draining", nil, func(c *Checker) { c.SetReady(); c.SetDraining() }, http.StatusServiceUnavailable, stateNameDraining},
		{"store down", errors.New("connection refused"), (*Checker).SetReady, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewChecker(storeProbe(tt.probeErr))
			tt.setup(hc)

			rec := httptest.NewRecorder()
			hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body response
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("status = %q, want %q", body.Status, tt.wantBody)
			}
			if tt.probeErr != nil && body.Failed["store"] != tt.probeErr.Error() {
				t.Errorf("failed = %v, want store failure", body.Failed)
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	hc := NewChecker(storeProbe(nil))
	var wg sync.WaitGroup
	for i := range goroutineCount {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			switch n % 3 {
			case 0:
				hc.SetReady()
			case 1:
				_ = hc.State()
			default:
				_ = hc.Check(context.Background())
			}
		}(i)
	}
	wg.Wait()
}
