// Package mcpserver exposes the context bundle as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/bundle"
	"github.com/cexll/ctxbundle/internal/report"
)

const (
	serverName    = "ctxbundle"
	serverVersion = "v1.0.0"
)

// ListReportsParams takes no arguments.
type ListReportsParams struct{}

// ReadReportParams defines the input parameters for read_report.
type ReadReportParams struct {
	Name string `json:"name" jsonschema:"Report name (e.g. context_prompt) or file name (e.g. todos.md)"`
}

// RegenerateParams takes no arguments.
type RegenerateParams struct{}

// Handlers implements the tools against a bundle service.
type Handlers struct {
	svc    *bundle.Service
	logger *zap.Logger
}

// NewHandlers creates the tool handlers.
func NewHandlers(svc *bundle.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{svc: svc, logger: logger}
}

// NewServer registers list_reports, read_report and regenerate_bundle.
func NewServer(h *Handlers) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_reports",
		Description: "List the reports of the current context bundle with their files, sizes and warnings",
	}, h.ListReports)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_report",
		Description: "Read one report of the context bundle as markdown (or JSON for *.json files)",
	}, h.ReadReport)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "regenerate_bundle",
		Description: "Regenerate the context bundle from the current working tree and return the new manifest summary",
	}, h.Regenerate)

	h.logger.Debug("registered MCP tools", zap.Strings("tools", []string{"list_reports", "read_report", "regenerate_bundle"}))
	return server
}

// Run serves on stdio until ctx is canceled or the client disconnects.
func Run(ctx context.Context, h *Handlers) error {
	h.logger.Info("MCP server starting on stdio", zap.String("out", h.svc.OutputDir()))
	if err := NewServer(h).Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	h.logger.Info("MCP server stopped")
	return nil
}

type reportSummary struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	File     string   `json:"file"`
	JSONFile string   `json:"json_file,omitempty"`
	Bytes    int      `json:"bytes"`
	Warnings []string `json:"warnings,omitempty"`
}

type bundleSummary struct {
	RunID       string          `json:"run_id"`
	GeneratedAt string          `json:"generated_at"`
	OutputDir   string          `json:"output_dir"`
	Reports     []reportSummary `json:"reports"`
	Warnings    []string        `json:"warnings,omitempty"`
}

func summarize(dir string, m *report.Manifest) bundleSummary {
	s := bundleSummary{
		RunID:       m.RunID,
		GeneratedAt: m.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"),
		OutputDir:   dir,
		Reports:     make([]reportSummary, 0, len(m.Reports)),
		Warnings:    m.Warnings,
	}
	for _, e := range m.Reports {
		s.Reports = append(s.Reports, reportSummary{
			Name:     e.Name,
			Title:    e.Title,
			File:     e.File,
			JSONFile: e.JSONFile,
			Bytes:    e.Bytes,
			Warnings: e.Warnings,
		})
	}
	return s
}

// ListReports handles the list_reports tool call.
func (h *Handlers) ListReports(ctx context.Context, req *mcp.CallToolRequest, _ ListReportsParams) (*mcp.CallToolResult, any, error) {
	m, err := report.ReadManifest(h.svc.OutputDir())
	if err != nil {
		if errors.Is(err, report.ErrNoBundle) {
			return errorResult(fmt.Errorf("%w; call regenerate_bundle first", err)), nil, nil
		}
		return errorResult(err), nil, nil
	}
	return jsonResult(summarize(h.svc.OutputDir(), m))
}

// ReadReport handles the read_report tool call.
func (h *Handlers) ReadReport(ctx context.Context, req *mcp.CallToolRequest, params ReadReportParams) (*mcp.CallToolResult, any, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return errorResult(errors.New("name parameter is required")), nil, nil
	}
	_, data, err := report.ReadReport(h.svc.OutputDir(), name)
	if err != nil {
		h.logger.Debug("read_report failed", zap.String("name", name), zap.Error(err))
		return errorResult(err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// Regenerate handles the regenerate_bundle tool call. The run is
// synchronous so the caller gets the fresh manifest.
func (h *Handlers) Regenerate(ctx context.Context, req *mcp.CallToolRequest, _ RegenerateParams) (*mcp.CallToolResult, any, error) {
	run, m, err := h.svc.RunNow(ctx, bundle.TriggerMCP)
	if err != nil {
		h.logger.Warn("regenerate_bundle failed", zap.Error(err))
		return errorResult(err), nil, nil
	}
	h.logger.Info("bundle regenerated over MCP", zap.String("run_id", run.ID))
	return jsonResult(summarize(h.svc.OutputDir(), m))
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)}},
		IsError: true,
	}
}
