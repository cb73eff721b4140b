package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/medicaid-explorer/pkg/analytics"
	"github.com/txn2/medicaid-explorer/pkg/anomaly"
	"github.com/txn2/medicaid-explorer/pkg/audit"
	"github.com/txn2/medicaid-explorer/pkg/chat"
	"github.com/txn2/medicaid-explorer/pkg/guard"
	"github.com/txn2/medicaid-explorer/pkg/health"
	"github.com/txn2/medicaid-explorer/pkg/llm"
	"github.com/txn2/medicaid-explorer/pkg/loader"
	"github.com/txn2/medicaid-explorer/pkg/middleware"
	"github.com/txn2/medicaid-explorer/pkg/observability"
	"github.com/txn2/medicaid-explorer/pkg/spending"
	"github.com/txn2/medicaid-explorer/pkg/spending/memory"
	"github.com/txn2/medicaid-explorer/pkg/spending/postgres"
	"github.com/txn2/medicaid-explorer/pkg/toolkit"
)

// Platform is the service facade: it owns the store and wires the
// analytics, chat and MCP components on top of it.
type Platform struct {
	config    *Config
	lifecycle *Lifecycle

	// Store
	db     *sql.DB
	ownsDB bool
	store  spending.Reader

	// Components
	metrics     *observability.Metrics
	detector    *anomaly.Detector
	analytics   *analytics.Service
	chat        *chat.Orchestrator
	toolkit     *toolkit.Toolkit
	mcpServer   *mcp.Server
	health      *health.Checker
	auditLogger audit.Logger
}

// New creates a new platform instance.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, errors.New("config is required")
	}

	p := &Platform{
		config:    options.Config,
		lifecycle: NewLifecycle(),
	}

	if err := p.initializeComponents(options); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("initializing components: %w", err)
	}

	return p, nil
}

// initializeComponents initializes all platform components.
func (p *Platform) initializeComponents(opts *Options) error {
	if err := p.initStore(opts); err != nil {
		return err
	}
	p.initAnalytics(opts)
	p.initAudit(opts)
	p.initChat(opts)
	p.initMCP()

	p.health = health.NewChecker(health.Probe{Name: "store", Check: p.analytics.Ping})
	p.lifecycle.Add("store", p.analytics.Ping, nil)
	return nil
}

// initStore selects the claims store: an injected one, the in-memory
// dataset, or PostgreSQL.
func (p *Platform) initStore(opts *Options) error {
	p.db = opts.DB

	switch {
	case opts.Store != nil:
		p.store = opts.Store
	case p.config.InMemory():
		ds, err := loader.ReadDataset(loader.Files{
			Claims:    p.config.Dataset.Claims,
			Providers: p.config.Dataset.Providers,
			Codes:     p.config.Dataset.Codes,
		})
		if err != nil {
			return fmt.Errorf("loading dataset: %w", err)
		}
		p.store = memory.New(ds.Claims, ds.Providers, ds.Codes)
		slog.Info("serving dataset from memory",
			"path", p.config.Dataset.Claims, "claims", len(ds.Claims),
			"providers", len(ds.Providers), "codes", len(ds.Codes))
	default:
		if p.db == nil {
			db, err := openDB(p.config.Database)
			if err != nil {
				return err
			}
			p.db = db
			p.ownsDB = true
		}
		p.store = postgres.New(p.db)
	}
	return nil
}

func openDB(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func (p *Platform) initAnalytics(opts *Options) {
	p.metrics = opts.Metrics
	if p.metrics == nil {
		p.metrics = observability.NewMetrics()
	}

	a := p.config.Anomaly
	p.detector = anomaly.NewDetector(p.store, anomaly.Config{
		DefaultLimit:  a.DefaultLimit,
		MaxLimit:      a.MaxLimit,
		DefaultMinZ:   a.DefaultMinZ,
		MinZFloor:     a.MinZFloor,
		MinPopulation: a.MinPopulation,
		CacheTTL:      a.CacheTTL,
		OnScan:        p.metrics.AnomalyScanned,
	})
	p.analytics = analytics.NewService(p.store, p.detector)
}

func (p *Platform) initAudit(opts *Options) {
	switch {
	case opts.AuditLogger != nil:
		p.auditLogger = opts.AuditLogger
	case p.config.Audit.Enabled:
		p.auditLogger = audit.NewSlogLogger(slog.Default(), audit.Config{Enabled: true, Level: slog.LevelInfo})
	default:
		p.auditLogger = &audit.NoopLogger{}
	}
}

// initChat builds the orchestrator when a model client and a database for
// generated queries are both available.
func (p *Platform) initChat(opts *Options) {
	completer := opts.Completer
	if completer == nil {
		if !p.config.ChatEnabled() {
			slog.Info("chat disabled", "reason", "requires llm.api_key and database.dsn")
			return
		}
		completer = llm.New(llm.Config{
			Endpoint:         p.config.LLM.Endpoint,
			APIKey:           p.config.LLM.APIKey,
			Model:            p.config.LLM.Model,
			MaxTokens:        p.config.LLM.MaxTokens,
			Timeout:          p.config.LLM.Timeout,
			AnthropicVersion: p.config.LLM.AnthropicVersion,
		})
	}
	if p.db == nil {
		slog.Warn("chat disabled", "reason", "no database for generated queries")
		return
	}

	model := p.config.LLM.Model
	if c, ok := completer.(*llm.Client); ok {
		model = c.Model()
	}

	g := p.config.Guard
	p.chat = chat.New(chat.Deps{
		Completer: completer,
		Guard: guard.New(guard.Config{
			Tables:       spending.Tables,
			DefaultLimit: g.DefaultLimit,
			MaxLimit:     g.MaxLimit,
		}),
		Runner:  guard.NewExecutor(p.db, guard.ExecutorConfig{Timeout: g.Timeout, MaxRows: g.MaxResultRows}),
		Audit:   p.auditLogger,
		Metrics: p.metrics,
		Model:   model,
	}, chat.Config{
		MaxHistoryTurns: p.config.Chat.MaxHistoryTurns,
		MaxHistoryChars: p.config.Chat.MaxHistoryChars,
		MaxMessageChars: p.config.Chat.MaxMessageChars,
	})
	slog.Info("chat enabled", "model", model)
}

// initMCP registers the toolkit, info tool and prompts on a new MCP server.
func (p *Platform) initMCP() {
	var asker toolkit.Asker
	if p.chat != nil {
		asker = p.chat
	}
	p.toolkit = toolkit.New(p.config.Server.Name, p.analytics, asker)

	p.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    p.config.Server.Name,
		Version: p.config.Server.Version,
	}, nil)
	p.mcpServer.AddReceivingMiddleware(
		middleware.MCPMetricsMiddleware(p.metrics),
		middleware.MCPAuditMiddleware(p.auditLogger, toolkit.ToolAsk),
	)
	p.toolkit.RegisterTools(p.mcpServer)
	p.registerInfoTool()
	p.registerPrompts()
}

// Start verifies the store and marks the service ready.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	p.health.SetReady()
	return nil
}

// Stop marks the service draining and stops the lifecycle.
func (p *Platform) Stop(ctx context.Context) error {
	p.health.SetDraining()
	return p.lifecycle.Stop(ctx)
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// MCPServer returns the MCP server.
func (p *Platform) MCPServer() *mcp.Server {
	return p.mcpServer
}

// Analytics returns the aggregation service.
func (p *Platform) Analytics() *analytics.Service {
	return p.analytics
}

// Chat returns the orchestrator, or nil when chat is disabled.
func (p *Platform) Chat() *chat.Orchestrator {
	return p.chat
}

// Store returns the claims store.
func (p *Platform) Store() spending.Reader {
	return p.store
}

// Toolkit returns the MCP toolkit.
func (p *Platform) Toolkit() *toolkit.Toolkit {
	return p.toolkit
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.health
}

// Metrics returns the collectors.
func (p *Platform) Metrics() *observability.Metrics {
	return p.metrics
}

// Close closes the audit logger and any database the platform opened.
func (p *Platform) Close() error {
	var errs []error

	if p.auditLogger != nil {
		if err := p.auditLogger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing audit logger: %w", err))
		}
	}
	if p.ownsDB && p.db != nil {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing platform: %w", errors.Join(errs...))
	}
	return nil
}
