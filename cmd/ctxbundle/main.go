package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/bundle"
	"github.com/cexll/ctxbundle/internal/config"
	"github.com/cexll/ctxbundle/internal/git"
	"github.com/cexll/ctxbundle/internal/mcpserver"
	"github.com/cexll/ctxbundle/internal/runstore"
)

var version = "dev"

var (
	loadDotEnv     = godotenv.Load
	newLogger      = buildLogger
	newRunner      = func() git.CommandRunner { return &git.RealCommandRunner{} }
	listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }
	runMCP         = mcpserver.Run
)

type rootOptions struct {
	repo    string
	out     string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "ctxbundle",
		Short: "Generate a markdown context bundle describing a repository",
		Long: `ctxbundle scans a repository and writes a set of markdown reports
(file index, code statistics, TODOs, API endpoints, git history, environment,
GitHub summary, cycle transition and a paste-ready context prompt) into an
output directory, together with a manifest.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.repo, "repo", "", "repository root (default $CTXBUNDLE_REPO_ROOT or .)")
	root.PersistentFlags().StringVar(&opts.out, "out", "", "output directory (default $CTXBUNDLE_OUTPUT_DIR or docs/context)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		generateCmd(opts),
		serveCmd(opts),
		mcpCmd(opts),
		watchCmd(opts),
		showCmd(opts),
	)
	return root
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// env is what every command needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *bundle.Service
}

func setup(opts *rootOptions) (*env, error) {
	// .env files are optional
	_ = loadDotEnv()
	if opts.repo != "" {
		_ = loadDotEnv(filepath.Join(opts.repo, ".env"))
	}

	cfg, err := config.LoadWith(config.Overrides{
		RepoRoot:  opts.repo,
		OutputDir: opts.out,
		Verbose:   opts.verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	b := bundle.NewBuilder(cfg, bundle.Options{
		Logger: logger,
		Runner: newRunner(),
	})
	return &env{
		cfg:    cfg,
		logger: logger,
		svc:    bundle.NewService(b, runstore.NewStore(runstore.DefaultCapacity), logger),
	}, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
