package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/bundle"
	"github.com/cexll/ctxbundle/internal/concurrency"
	"github.com/cexll/ctxbundle/internal/report"
	"github.com/cexll/ctxbundle/internal/runstore"
)

//go:embed templates/*
var templatesFS embed.FS

// Handler serves the bundle, the run history and the run UI.
type Handler struct {
	svc       *bundle.Service
	templates *template.Template
	logger    *zap.Logger
}

// NewHandler creates a new web handler
func NewHandler(svc *bundle.Service, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"statusColor":   statusColor,
		"statusIcon":    statusIcon,
		"logLevelColor": logLevelColor,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Handler{
		svc:       svc,
		templates: tmpl,
		logger:    logger,
	}, nil
}

// NewRouter returns a router with every route registered.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the HTTP API and the run UI.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/", h.handleInfo).Methods("GET")

	r.HandleFunc("/bundle", h.handleManifest).Methods("GET")
	r.HandleFunc("/bundle/regenerate", h.handleRegenerate).Methods("POST")
	r.HandleFunc("/bundle/{name}", h.handleReport).Methods("GET")

	r.HandleFunc("/runs", h.handleRunList).Methods("GET")
	r.HandleFunc("/runs/{id}", h.handleRunDetail).Methods("GET")

	r.HandleFunc("/ui", h.handleRunListPage).Methods("GET")
	r.HandleFunc("/ui/runs/{id}", h.handleRunDetailPage).Methods("GET")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	cfg := h.svc.Builder().Config()
	info := map[string]any{
		"service":    "ctxbundle",
		"status":     "running",
		"project":    cfg.ProjectName,
		"repo_root":  cfg.RepoRoot,
		"output_dir": cfg.OutputDir,
		"busy":       h.svc.Builder().Busy(),
	}
	if latest, ok := h.svc.Runs().Latest(); ok {
		info["latest_run"] = latest.ID
		info["latest_status"] = latest.Status
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := report.ReadManifest(h.svc.OutputDir())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	_, data, err := report.ReadReport(h.svc.OutputDir(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	contentType := "text/markdown; charset=utf-8"
	if strings.HasSuffix(name, ".json") {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleRegenerate starts a run in the background. The run outlives the
// request, so the request context only contributes its values.
func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Start(context.WithoutCancel(r.Context()), bundle.TriggerHTTP)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("regeneration accepted", zap.String("run_id", run.ID))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(run.Status),
		"url":    "/runs/" + run.ID,
	})
}

func (h *Handler) handleRunList(w http.ResponseWriter, r *http.Request) {
	runs := h.svc.Runs().List()
	if runs == nil {
		runs = []runstore.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	run, ok := h.svc.Runs().Get(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleRunListPage renders the run list page
func (h *Handler) handleRunListPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Project string
		Runs    []runstore.Run
	}{
		Project: h.svc.Builder().Config().ProjectName,
		Runs:    h.svc.Runs().List(),
	}

	if err := h.templates.ExecuteTemplate(w, "run_list.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleRunDetailPage renders the run detail page
func (h *Handler) handleRunDetailPage(w http.ResponseWriter, r *http.Request) {
	run, ok := h.svc.Runs().Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	data := struct {
		Run runstore.Run
	}{
		Run: run,
	}

	if err := h.templates.ExecuteTemplate(w, "run_detail.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, concurrency.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, report.ErrNoBundle), errors.Is(err, report.ErrReportNotFound):
		status = http.StatusNotFound
	default:
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Helper functions for templates
func statusColor(status runstore.RunStatus) string {
	switch status {
	case runstore.StatusPending:
		return "#6c757d"
	case runstore.StatusRunning:
		return "#0d6efd"
	case runstore.StatusCompleted:
		return "#198754"
	case runstore.StatusFailed:
		return "#dc3545"
	default:
		return "#6c757d"
	}
}

func statusIcon(status runstore.RunStatus) string {
	switch status {
	case runstore.StatusPending:
		return "○"
	case runstore.StatusRunning:
		return "⟳"
	case runstore.StatusCompleted:
		return "✓"
	case runstore.StatusFailed:
		return "✗"
	default:
		return "○"
	}
}

func logLevelColor(level string) string {
	switch strings.ToLower(level) {
	case "error":
		return "#dc3545"
	case "warn":
		return "#fd7e14"
	case "info":
		return "#0d6efd"
	default:
		return "#6c757d"
	}
}
