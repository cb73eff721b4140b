package platform

import (
	"testing"

	"github.com/txn2/medicaid-explorer/pkg/audit"
)

func TestWithConfig(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Name: "test"}}
	opts := &Options{}
	WithConfig(cfg)(opts)

	if opts.Config != cfg {
		t.Error("WithConfig did not set Config")
	}
}

func TestWithDB(t *testing.T) {
	// A real sql.DB needs a driver connection, so only the nil case is checked.
	opts := &Options{}
	WithDB(nil)(opts)

	if opts.DB != nil {
		t.Error("WithDB should set nil DB")
	}
}

func TestWithStore(t *testing.T) {
	store := testStore()
	opts := &Options{}
	WithStore(store)(opts)

	if opts.Store != store {
		t.Error("WithStore did not set Store")
	}
}

func TestWithCompleter(t *testing.T) {
	opts := &Options{}
	WithCompleter(stubCompleter{})(opts)

	if opts.Completer == nil {
		t.Error("WithCompleter did not set Completer")
	}
}

func TestWithMetrics(t *testing.T) {
	m := testMetrics()
	opts := &Options{}
	WithMetrics(m)(opts)

	if opts.Metrics != m {
		t.Error("WithMetrics did not set Metrics")
	}
}

func TestWithAuditLogger(t *testing.T) {
	logger := &audit.NoopLogger{}
	opts := &Options{}
	WithAuditLogger(logger)(opts)

	if opts.AuditLogger != logger {
		t.Error("WithAuditLogger did not set AuditLogger")
	}
}
