package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/cexll/ctxbundle/internal/bundle"
	"github.com/cexll/ctxbundle/internal/concurrency"
	"github.com/cexll/ctxbundle/internal/config"
	"github.com/cexll/ctxbundle/internal/git"
	"github.com/cexll/ctxbundle/internal/report"
	"github.com/cexll/ctxbundle/internal/runstore"
)

type testEnv struct {
	cfg    *config.Config
	guard  *concurrency.Manager
	svc    *bundle.Service
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.py"), []byte("# TODO: wire routes\nimport os\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		RepoRoot:     root,
		OutputDir:    filepath.Join(root, "docs", "context"),
		TemplatesDir: filepath.Join(root, "templates"),
		ProjectName:  "factory",
		MaxFiles:     10,
		MaxFileBytes: 1 << 20,
		GitLogLimit:  5,
		TodoMarkers:  config.DefaultTodoMarkers,
	}

	runner := git.NewMockCommandRunner()
	runner.RunInDirFunc = func(dir, name string, args ...string) ([]byte, error) {
		return nil, git.ErrNotRepository
	}
	guard := concurrency.NewManager()
	logger := zaptest.NewLogger(t)
	b := bundle.NewBuilder(cfg, bundle.Options{
		Logger: logger,
		Runner: runner,
		Guard:  guard,
		Lookup: func(string) (string, bool) { return "", false },
	})
	svc := bundle.NewService(b, runstore.NewStore(10), logger)

	h, err := NewHandler(svc, logger)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return &testEnv{cfg: cfg, guard: guard, svc: svc, router: NewRouter(h)}
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHandler_HealthAndInfo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/health")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("health = %d %q", w.Code, w.Body.String())
	}

	w = env.do("GET", "/")
	if w.Code != http.StatusOK {
		t.Fatalf("info status = %d", w.Code)
	}
	var info map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("info body: %v", err)
	}
	if info["service"] != "ctxbundle" || info["project"] != "factory" || info["busy"] != false {
		t.Fatalf("info = %v", info)
	}
}

func TestHandler_BundleBeforeFirstRun(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/bundle", "/bundle/todos"} {
		if w := env.do("GET", target); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", target, w.Code)
		}
	}
}

func TestHandler_RegenerateThenRead(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/bundle/regenerate")
	if w.Code != http.StatusAccepted {
		t.Fatalf("regenerate status = %d body=%s", w.Code, w.Body.String())
	}
	var accepted map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}
	runID := accepted["run_id"]
	if runID == "" {
		t.Fatalf("missing run_id: %v", accepted)
	}
	env.svc.Wait()

	w = env.do("GET", "/bundle")
	if w.Code != http.StatusOK {
		t.Fatalf("manifest status = %d", w.Code)
	}
	var m report.Manifest
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.RunID != runID {
		t.Fatalf("manifest run = %q, want %q", m.RunID, runID)
	}

	w = env.do("GET", "/bundle/todos")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "wire routes") {
		t.Fatalf("todos = %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type = %q", ct)
	}

	w = env.do("GET", "/bundle/file_index.json")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("file_index.json = %d %q", w.Code, w.Header().Get("Content-Type"))
	}

	if w := env.do("GET", "/bundle/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown report = %d, want 404", w.Code)
	}

	w = env.do("GET", "/runs/"+runID)
	if w.Code != http.StatusOK {
		t.Fatalf("run detail = %d", w.Code)
	}
	var run runstore.Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.Status != runstore.StatusCompleted || run.Trigger != bundle.TriggerHTTP {
		t.Fatalf("run = %+v", run)
	}

	w = env.do("GET", "/runs")
	var runs []runstore.Run
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil || len(runs) != 1 {
		t.Fatalf("runs = %s (%v)", w.Body.String(), err)
	}
}

func TestHandler_RegenerateWhileBusy(t *testing.T) {
	env := newTestEnv(t)

	release, err := env.guard.Acquire(concurrency.Key(env.cfg.OutputDir))
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if w := env.do("POST", "/bundle/regenerate"); w.Code != http.StatusConflict {
		t.Fatalf("regenerate while busy = %d, want 409", w.Code)
	}

	var info map[string]any
	if err := json.Unmarshal(env.do("GET", "/").Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info["busy"] != true {
		t.Fatalf("info busy = %v, want true", info["busy"])
	}
}

func TestHandler_RunNotFound(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do("GET", "/runs/missing"); w.Code != http.StatusNotFound {
		t.Errorf("GET /runs/missing = %d", w.Code)
	}
	if w := env.do("GET", "/ui/runs/missing"); w.Code != http.StatusNotFound {
		t.Errorf("GET /ui/runs/missing = %d", w.Code)
	}
}

func TestHandler_RunPages(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do("GET", "/ui"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "No runs yet.") {
		t.Fatalf("empty run list = %d %s", w.Code, w.Body.String())
	}

	run, _, err := env.svc.RunNow(context.Background(), bundle.TriggerCLI)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	w := env.do("GET", "/ui")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), run.ID) {
		t.Fatalf("run list = %d", w.Code)
	}

	w = env.do("GET", "/ui/runs/"+run.ID)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "bundle written") {
		t.Fatalf("run detail page = %d %s", w.Code, w.Body.String())
	}
}

func TestStatusColor(t *testing.T) {
	tests := []struct {
		status   runstore.RunStatus
		expected string
	}{
		{runstore.StatusPending, "#6c757d"},
		{runstore.StatusRunning, "#0d6efd"},
		{runstore.StatusCompleted, "#198754"},
		{runstore.StatusFailed, "#dc3545"},
	}

	for _, tt := range tests {
		result := statusColor(tt.status)
		if result != tt.expected {
			t.Errorf("statusColor(%s) = %s, want %s", tt.status, result, tt.expected)
		}
	}
}

func TestLogLevelColor(t *testing.T) {
	tests := []struct {
		level    string
		expected string
	}{
		{"error", "#dc3545"},
		{"WARN", "#fd7e14"},
		{"info", "#0d6efd"},
		{"unknown", "#6c757d"},
	}

	for _, tt := range tests {
		result := logLevelColor(tt.level)
		if result != tt.expected {
			t.Errorf("logLevelColor(%s) = %s, want %s", tt.level, result, tt.expected)
		}
	}
}
