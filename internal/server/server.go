// Package server assembles the HTTP surface of a platform and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/txn2/medicaid-explorer/internal/apidocs" // registers the Swagger document
	"github.com/txn2/medicaid-explorer/pkg/api"
	"github.com/txn2/medicaid-explorer/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

const readHeaderTimeout = 10 * time.Second

// Server serves the REST API, probes, metrics and MCP endpoint of a platform.
type Server struct {
	platform   *platform.Platform
	httpServer *http.Server
}

// New creates a server for p. The platform is not started.
func New(p *platform.Platform) *Server {
	cfg := p.Config().Server
	return &Server{
		platform: p,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           Handler(p),
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}
}

// Handler builds the routed and instrumented handler for p.
func Handler(p *platform.Platform) http.Handler {
	cfg := p.Config().Server
	mux := http.NewServeMux()

	deps := api.Deps{
		Analytics: p.Analytics(),
		Store:     p.Analytics(),
		Docs:      cfg.Docs != nil && *cfg.Docs,
	}
	if orchestrator := p.Chat(); orchestrator != nil {
		deps.Chat = orchestrator
	}
	mux.Handle("/api/", api.NewHandler(deps))

	mux.HandleFunc("GET /healthz", p.Health().LivenessHandler())
	mux.HandleFunc("GET /readyz", p.Health().ReadinessHandler())
	mux.Handle("GET /metrics", p.Metrics().Handler())

	if cfg.MCP == nil || *cfg.MCP {
		mcpServer := p.MCPServer()
		mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpServer
		}, nil))
	}

	var handler http.Handler = p.Metrics().Middleware(mux)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	return otelhttp.NewHandler(handler, cfg.Name)
}

// Run starts the platform and serves until ctx is cancelled or the listener
// fails. On return the server has been shut down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.platform.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = s.platform.Stop(context.Background())
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	slog.Info("server listening", "address", ln.Addr().String(), "version", Version)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = s.platform.Stop(context.Background())
		return fmt.Errorf("serving: %w", err)
	}

	return s.Shutdown(context.Background())
}

// Shutdown marks the platform draining, then stops accepting requests and
// waits for in-flight ones up to the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("server shutting down")
	timeout := s.platform.Config().Server.ShutdownTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var errs []error
	if err := s.platform.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	slog.Info("server stopped")
	return errors.Join(errs...)
}

// corsMiddleware answers preflight requests and sets CORS headers for the
// allowed origins. An empty list allows any origin.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "" && allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && (allowAll || slices.Contains(origins, origin)):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Content-Type", "Authorization", "Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID",
			}, ", "))
			w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
