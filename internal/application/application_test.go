package application

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/amflab/foamgen/internal/config"
	"github.com/amflab/foamgen/internal/storage"
)

func TestNewInitializesDependencies(t *testing.T) {
	cfg := baseTestConfig(":8085")
	logger := zaptest.NewLogger(t)

	app, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	settings, err := app.storage.GetDefaults()
	if err != nil {
		t.Fatalf("GetDefaults returned error: %v", err)
	}
	if want := storage.DefaultSettings().UserConfig; settings.UserConfig != want {
		t.Fatalf("expected default settings %+v, got %+v", want, settings.UserConfig)
	}
	if app.server == nil || app.router == nil || app.handler == nil {
		t.Fatalf("expected server, router, and handler to be initialized")
	}
	if app.artifacts != nil {
		t.Fatalf("expected no artifact writer without an output dir")
	}
	if app.Server() != app.server {
		t.Fatalf("Server accessor did not return underlying instance")
	}
}

func TestNewWiresArtifactWriter(t *testing.T) {
	cfg := baseTestConfig(":8086")
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if app.artifacts == nil {
		t.Fatalf("expected artifact writer to be wired")
	}
	if app.artifacts.Dir() != cfg.OutputDir {
		t.Fatalf("expected writer dir %s, got %s", cfg.OutputDir, app.artifacts.Dir())
	}
}

func TestRouterServesHealth(t *testing.T) {
	app, err := New(baseTestConfig(":8087"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 from health endpoint, got %d", rec.Code)
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := baseTestConfig("9090")
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	if server.Addr != ":9090" {
		t.Fatalf("expected address :9090, got %s", server.Addr)
	}
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}
}

func baseTestConfig(port string) config.Config {
	return config.Config{
		Port:                 port,
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    20 * time.Millisecond,
		WriteTimeout:         30 * time.Millisecond,
		IdleTimeout:          40 * time.Millisecond,
		EnableRequestLogging: false,
		MaxIterations:        10,
		RateLimitRPS:         0,
		RateLimitBurst:       0,
	}
}
