package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/txn2/medicaid-explorer/pkg/platform"
)

const (
	testDSN       = "postgres://explorer@localhost:5432/medicaid?sslmode=disable"
	testFilePerms = 0o600
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "migrate": false, "load": false, "version": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "medicaid-explorer version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := (&globalOptions{dsn: testDSN}).loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Database.DSN != testDSN || cfg.Server.Address != ":8000" {
			t.Errorf("cfg = %+v", cfg.Server)
		}
	})

	t.Run("dsn flag overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("database:\n  dsn: postgres://file/medicaid\n"), testFilePerms); err != nil {
			t.Fatal(err)
		}
		cfg, err := (&globalOptions{configPath: path, dsn: testDSN}).loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Database.DSN != testDSN {
			t.Errorf("DSN = %q, want flag value", cfg.Database.DSN)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := (&globalOptions{configPath: filepath.Join(t.TempDir(), "nope.yaml")}).loadConfig()
		if err == nil {
			t.Error("loadConfig() expected error")
		}
	})
}

func TestServeOptions_Apply(t *testing.T) {
	cfg := platform.DefaultConfig()
	(&serveOptions{address: ":9090", dataset: "claims.parquet"}).apply(cfg)
	if cfg.Server.Address != ":9090" {
		t.Errorf("Address = %q", cfg.Server.Address)
	}
	if !cfg.InMemory() {
		t.Error("dataset flag should switch to in-memory mode")
	}
}

func TestServeCmd_InvalidConfig(t *testing.T) {
	_, err := execute(t, "serve")
	if err == nil || !strings.Contains(err.Error(), "database.dsn is required") {
		t.Errorf("serve error = %v, want validation error", err)
	}
}

func TestMigrateCmd_RequiresDSN(t *testing.T) {
	_, err := execute(t, "migrate", "version")
	if err == nil || !strings.Contains(err.Error(), "a database is required") {
		t.Errorf("migrate error = %v", err)
	}
}

func TestLoadCmd_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no files", []string{"load", "--dsn", testDSN}, "nothing to load"},
		{"negative batch", []string{"load", "--dsn", testDSN, "--claims", "c.csv", "--batch-size", "-1"}, "batch-size"},
		{"no dsn", []string{"load", "--claims", "c.csv"}, "a database is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSetupLogger(t *testing.T) {
	cfg := platform.DefaultConfig()
	cfg.Server.LogFormat = "text"
	cfg.Server.LogLevel = "debug"
	prev := slog.Default()
	defer slog.SetDefault(prev)

	setupLogger(cfg)
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
}
