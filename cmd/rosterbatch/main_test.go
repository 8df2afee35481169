package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/rosterbatch/rosterbatch/internal/adapter/cache"
	"github.com/rosterbatch/rosterbatch/internal/adapter/fsm"
	handler "github.com/rosterbatch/rosterbatch/internal/adapter/http"
	"github.com/rosterbatch/rosterbatch/internal/adapter/sheet"
	"github.com/rosterbatch/rosterbatch/internal/adapter/sqlite"
	"github.com/rosterbatch/rosterbatch/internal/app"
	"github.com/rosterbatch/rosterbatch/internal/domain"
	"github.com/rosterbatch/rosterbatch/internal/logger"
)

func TestEnvOrDefault_Fallback(t *testing.T) {
	v := envOrDefault("ROSTERBATCH_TEST_NONEXISTENT_KEY", "fallback")
	if v != "fallback" {
		t.Errorf("got %q, want %q", v, "fallback")
	}
}

func TestEnvOrDefault_EnvSet(t *testing.T) {
	t.Setenv("ROSTERBATCH_TEST_KEY", "custom")

	v := envOrDefault("ROSTERBATCH_TEST_KEY", "fallback")
	if v != "custom" {
		t.Errorf("got %q, want %q", v, "custom")
	}
}

func TestBuildCache(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "none")
	c, err := buildCache()
	if err != nil || c != nil {
		t.Errorf("none backend = %v, %v; want nil, nil", c, err)
	}

	t.Setenv("CACHE_BACKEND", "memory")
	c, err = buildCache()
	if err != nil || c == nil {
		t.Errorf("memory backend = %v, %v; want cache, nil", c, err)
	}

	t.Setenv("CACHE_BACKEND", "bogus")
	if _, err = buildCache(); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

// testPublisher is a local EventPublisher for the smoke test.
// The smoke test verifies HTTP wiring, not River.
type testPublisher struct{}

func (p *testPublisher) Publish(_ context.Context, _ domain.ChangeEvent, _ domain.Batch) error {
	return nil
}

// TestSmoke wires the stack like run() and verifies it responds.
func TestSmoke(t *testing.T) {
	dbPath := t.TempDir() + "/test.db"

	repo, err := sqlite.New(dbPath, logger.NewNop())
	if err != nil {
		t.Fatalf("database: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	svc := app.NewBatchService(repo, repo, cache.NewMemory(0),
		sheet.NewCSV(), nil, fsm.New(), &testPublisher{}, logger.NewNop())

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("rosterbatch", "0.1.0"))
	handler.Register(api, svc)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	// An unknown batch resolves cleanly to 404, proving routing and the
	// error mapping are wired.
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		srv.URL+"/api/v1/batches/NOPE-000000", nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("X-Tenant-ID", "tenant-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET batch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// TestRun exercises the real run() function end-to-end: OTel, River,
// HTTP server, and graceful shutdown. It uses the stdout OTel exporter
// and a temp database to avoid external dependencies.
func TestRun(t *testing.T) {
	t.Setenv("DATABASE_PATH", t.TempDir()+"/test-run.db")
	t.Setenv("UPLOAD_DIR", t.TempDir()+"/uploads")
	t.Setenv("PORT", "19876")
	t.Setenv("OTEL_EXPORTER", "stdout")
	t.Setenv("OTEL_ENVIRONMENT", "test")

	// Discard OTel stdout exporter output during the test.
	origStdout := os.Stdout
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- run() }()

	// Wait for the HTTP server to become ready.
	serverURL := "http://localhost:19876"
	ready := false
	for i := 0; i < 50; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/openapi.json", nil)
		resp, reqErr := http.DefaultClient.Do(req)
		if reqErr == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ready {
		t.Fatal("server did not start within 5 seconds")
	}

	// Verify the API responds correctly.
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/openapi.json", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /openapi.json failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Send SIGINT to trigger graceful shutdown.
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("finding process: %v", err)
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("sending SIGINT: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not exit within 10 seconds")
	}
}

// TestRun_InvalidDB verifies run() returns an error for an invalid database path.
func TestRun_InvalidDB(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/nonexistent/path/db.sqlite")
	t.Setenv("PORT", "19877")
	t.Setenv("OTEL_EXPORTER", "stdout")
	t.Setenv("OTEL_ENVIRONMENT", "test")

	// Discard OTel stdout output.
	origStdout := os.Stdout
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})

	if err := run(); err == nil {
		t.Fatal("expected error for invalid database path, got nil")
	}
}
