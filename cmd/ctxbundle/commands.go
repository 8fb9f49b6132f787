package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/bundle"
	"github.com/cexll/ctxbundle/internal/mcpserver"
	"github.com/cexll/ctxbundle/internal/report"
	"github.com/cexll/ctxbundle/internal/watch"
	"github.com/cexll/ctxbundle/internal/web"
	"github.com/cexll/ctxbundle/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func generateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate the context bundle once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}
}

func runGenerate(cmd *cobra.Command, opts *rootOptions) error {
	e, err := setup(opts)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()

	ctx, stop := signalContext(cmd)
	defer stop()

	run, m, err := e.svc.RunNow(ctx, bundle.TriggerCLI)
	if err != nil {
		return fmt.Errorf("generate bundle: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %d reports to %s (run %s)\n", len(m.Reports), e.cfg.OutputDir, run.ID)
	for _, w := range m.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
	return nil
}

func serveCmd(opts *rootOptions) *cobra.Command {
	var (
		port            int
		generateOnStart bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bundle over HTTP and regenerate it on request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()
			if port > 0 {
				e.cfg.Port = port
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			return runServe(ctx, e, generateOnStart)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default $PORT or 8080)")
	cmd.Flags().BoolVar(&generateOnStart, "generate", true, "generate the bundle at startup")
	return cmd
}

func runServe(ctx context.Context, e *env, generateOnStart bool) error {
	handler, err := web.NewHandler(e.svc, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize web handler: %w", err)
	}

	router := web.NewRouter(handler)
	if e.cfg.GitHubWebhookSecret != "" {
		hook := webhook.NewHandler(e.cfg.GitHubWebhookSecret, e.cfg.GitHubRepository, e.svc, e.logger)
		router.HandleFunc("/webhook", hook.Handle).Methods("POST")
		e.logger.Info("github webhook enabled", zap.String("path", "/webhook"))
	}

	addr := fmt.Sprintf(":%d", e.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if generateOnStart {
		if _, err := e.svc.Start(context.WithoutCancel(ctx), bundle.TriggerCLI); err != nil {
			e.logger.Warn("initial generation not started", zap.Error(err))
		}
	}

	e.logger.Info("server listening",
		zap.String("addr", addr),
		zap.String("bundle", "http://localhost"+addr+"/bundle"),
		zap.String("runs_ui", "http://localhost"+addr+"/ui"))

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(srv) }()

	select {
	case err := <-errCh:
		e.svc.Wait()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		e.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		e.svc.Wait()
		return nil
	}
}

func mcpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose the bundle as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			ctx, stop := signalContext(cmd)
			defer stop()
			return runMCP(ctx, mcpserver.NewHandlers(e.svc, e.logger))
		},
	}
}

func watchCmd(opts *rootOptions) *cobra.Command {
	var skipInitial bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate the bundle whenever the working tree changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			ctx, stop := signalContext(cmd)
			defer stop()
			return runWatch(ctx, e, !skipInitial)
		},
	}
	cmd.Flags().BoolVar(&skipInitial, "no-initial", false, "do not generate before the first change")
	return cmd
}

func runWatch(ctx context.Context, e *env, initial bool) error {
	if initial {
		if _, _, err := e.svc.RunNow(ctx, bundle.TriggerWatch); err != nil {
			return fmt.Errorf("initial generation: %w", err)
		}
	}

	trigger := func(ctx context.Context) error {
		_, _, err := e.svc.RunNow(ctx, bundle.TriggerWatch)
		return err
	}
	w, err := watch.New(e.cfg.RepoRoot, trigger, watch.Options{
		Debounce:   e.cfg.WatchDebounce,
		IgnoreDirs: e.cfg.IgnoreDirs,
		OutputDir:  e.cfg.OutputDir,
		Logger:     e.logger,
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func showCmd(opts *rootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show [report]",
		Short: "Render a report in the terminal, or list reports when no name is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			if len(args) == 0 {
				return listReports(cmd, e.cfg.OutputDir)
			}
			return showReport(cmd, e.cfg.OutputDir, args[0], raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the markdown without terminal rendering")
	return cmd
}

func listReports(cmd *cobra.Command, dir string) error {
	m, err := report.ReadManifest(dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bundle %s generated %s\n", m.RunID, m.GeneratedAt.Format(time.RFC3339))
	for _, entry := range m.Reports {
		fmt.Fprintf(out, "  %-18s %-22s %6d bytes\n", entry.Name, entry.File, entry.Bytes)
	}
	return nil
}

func showReport(cmd *cobra.Command, dir, name string, raw bool) error {
	_, data, err := report.ReadReport(dir, name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if raw || strings.HasSuffix(name, ".json") {
		_, err := out.Write(data)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	rendered, err := renderer.Render(string(data))
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}
