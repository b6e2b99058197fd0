package main

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/claimflow/internal/config"
)

func noEnv(string) string { return "" }

func envMap(values map[string]string) envFn {
	return func(key string) string { return values[key] }
}

func captureFactory(got *config.Config) serverFactory {
	return func(cfg config.Config) (*http.Server, closeFn, error) {
		*got = cfg
		return &http.Server{Addr: cfg.ListenAddr}, func() {}, nil
	}
}

func TestRunDefaultsListenAddr(t *testing.T) {
	var got config.Config
	err := run(nil, noEnv, func(*http.Server) error { return http.ErrServerClosed }, captureFactory(&got))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.ListenAddr != ":8080" {
		t.Fatalf("listen addr %q", got.ListenAddr)
	}
}

func TestRunLoadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claimflow.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9191\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var got config.Config
	err := run([]string{"-config", path}, noEnv, func(*http.Server) error { return nil }, captureFactory(&got))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.ListenAddr != ":9191" {
		t.Fatalf("listen addr %q", got.ListenAddr)
	}
}

func TestRunEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claimflow.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9191\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	env := envMap(map[string]string{
		"CLAIMFLOW_CONFIG_PATH": path,
		"CLAIMFLOW_LISTEN_ADDR": ":7070",
		"CLAIMFLOW_DB_DRIVER":   "sqlite",
		"CLAIMFLOW_DB_DSN":      "file:claims.db",
	})

	var got config.Config
	err := run(nil, env, func(*http.Server) error { return nil }, captureFactory(&got))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.ListenAddr != ":7070" || got.DB.Driver != "sqlite" || got.DB.DSN != "file:claims.db" {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestRunPropagatesFactoryError(t *testing.T) {
	boom := errors.New("boom")
	factory := func(config.Config) (*http.Server, closeFn, error) { return nil, nil, boom }

	if err := run(nil, noEnv, nil, factory); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunTreatsServerClosedAsClean(t *testing.T) {
	var got config.Config
	err := run(nil, noEnv, func(*http.Server) error { return http.ErrServerClosed }, captureFactory(&got))
	if err != nil {
		t.Fatalf("expected nil on ErrServerClosed, got %v", err)
	}
}

func TestRunRejectsMissingConfigFile(t *testing.T) {
	err := run([]string{"-config", filepath.Join(t.TempDir(), "absent.yaml")}, noEnv, nil, nil)
	if err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestNewServerInMemory(t *testing.T) {
	server, cleanup, err := newServer(config.Config{ListenAddr: ":0"})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	defer cleanup()
	if server.Handler == nil {
		t.Fatalf("handler not wired")
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	if _, _, err := openStore(config.DBConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
