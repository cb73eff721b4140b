package platform

import (
	"database/sql"

	"github.com/txn2/medicaid-explorer/pkg/audit"
	"github.com/txn2/medicaid-explorer/pkg/llm"
	"github.com/txn2/medicaid-explorer/pkg/observability"
	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// DB is the PostgreSQL pool (optional, opened from config if not provided).
	DB *sql.DB

	// Store serves the analytics (optional, built from DB or the dataset).
	Store spending.Reader

	// Completer answers chat prompts (optional, built from the llm config).
	// Setting it enables chat when a DB is available.
	Completer llm.Completer

	// Metrics (optional, registered on the default Prometheus registry).
	Metrics *observability.Metrics

	// AuditLogger (optional, built from the audit config).
	AuditLogger audit.Logger
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithStore sets the claims store.
func WithStore(store spending.Reader) Option {
	return func(o *Options) {
		o.Store = store
	}
}

// WithCompleter sets the language model client.
func WithCompleter(c llm.Completer) Option {
	return func(o *Options) {
		o.Completer = c
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(l audit.Logger) Option {
	return func(o *Options) {
		o.AuditLogger = l
	}
}
