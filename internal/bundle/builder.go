// Package bundle collects the repository snapshot and turns it into the
// context bundle: one report per generator plus a README index and the
// manifest.
package bundle

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/concurrency"
	"github.com/cexll/ctxbundle/internal/config"
	"github.com/cexll/ctxbundle/internal/envcheck"
	"github.com/cexll/ctxbundle/internal/git"
	"github.com/cexll/ctxbundle/internal/prompt"
	"github.com/cexll/ctxbundle/internal/report"
)

// IndexFile is the bundle index written next to the reports.
const IndexFile = "README.md"

// Options customizes a Builder. Zero values select the real implementations.
type Options struct {
	Logger    *zap.Logger
	Runner    git.CommandRunner
	Guard     *concurrency.Manager
	Registry  *Registry
	Lookup    envcheck.LookupFunc
	NewGitHub GitHubFactory
	Now       func() time.Time
}

// Builder runs batches for one configuration.
type Builder struct {
	cfg       *config.Config
	collector *Collector
	registry  *Registry
	guard     *concurrency.Manager
	renderer  *prompt.Renderer
	writer    *report.Writer
	logger    *zap.Logger

	// configWarnings are added to every manifest.
	configWarnings []string
}

// NewBuilder wires a builder from cfg.
func NewBuilder(cfg *config.Config, opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Runner == nil {
		opts.Runner = &git.RealCommandRunner{}
	}
	if opts.Guard == nil {
		opts.Guard = concurrency.NewManager()
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.NewGitHub == nil {
		opts.NewGitHub = defaultGitHubFactory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var configWarnings []string
	for _, name := range cfg.DisabledReports {
		if _, err := opts.Registry.Get(strings.ToLower(strings.TrimSpace(name))); err != nil {
			opts.Logger.Warn("unknown report in disabled_reports", zap.String("report", name))
			configWarnings = append(configWarnings, fmt.Sprintf("disabled_reports: %v", err))
		}
	}

	return &Builder{
		cfg: cfg,
		collector: &Collector{
			cfg:       cfg,
			runner:    opts.Runner,
			newGitHub: opts.NewGitHub,
			lookup:    opts.Lookup,
			now:       opts.Now,
			logger:    opts.Logger,
		},
		registry: opts.Registry,
		guard:    opts.Guard,
		renderer: prompt.NewRenderer(cfg.TemplatesDir, opts.Logger),
		writer:   report.NewWriter(cfg.OutputDir, opts.Logger),
		logger:   opts.Logger,

		configWarnings: configWarnings,
	}
}

// Config returns the configuration the builder runs with.
func (b *Builder) Config() *config.Config {
	return b.cfg
}

// Enabled lists the generators not disabled in the configuration.
func (b *Builder) Enabled() []Generator {
	var out []Generator
	for _, g := range b.registry.All() {
		if !b.cfg.ReportDisabled(g.Name()) {
			out = append(out, g)
		}
	}
	return out
}

// Reserve takes the output directory guard. It returns concurrency.ErrBusy
// when another run holds it.
func (b *Builder) Reserve() (func(), error) {
	return b.guard.Acquire(concurrency.Key(b.cfg.OutputDir))
}

// Busy reports whether a run currently holds the output directory.
func (b *Builder) Busy() bool {
	return b.guard.Busy(concurrency.Key(b.cfg.OutputDir))
}

// Build runs one batch. An empty runID gets a fresh one.
func (b *Builder) Build(ctx context.Context, runID string) (*report.Manifest, error) {
	release, err := b.Reserve()
	if err != nil {
		return nil, err
	}
	defer release()
	return b.build(ctx, runID)
}

// build assumes the guard is held.
func (b *Builder) build(ctx context.Context, runID string) (*report.Manifest, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	start := time.Now()
	logger := b.logger.With(zap.String("run_id", runID))
	logger.Info("bundle run started", zap.String("repo", b.cfg.RepoRoot), zap.String("out", b.cfg.OutputDir))

	snap, err := b.collector.Collect(ctx, runID)
	if err != nil {
		return nil, err
	}

	generators := b.Enabled()
	env := &Env{Renderer: b.renderer}
	for _, g := range generators {
		env.Reports = append(env.Reports, prompt.ReportLink{Title: g.Title(), File: g.File()})
	}

	warnings := append([]string(nil), b.configWarnings...)
	warnings = append(warnings, snap.Warnings...)
	reports := make([]report.Report, 0, len(generators)+1)
	for _, g := range generators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep, err := g.Generate(ctx, snap, env)
		if err != nil {
			logger.Warn("report generation failed", zap.String("report", g.Name()), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("report %s failed: %v", g.Name(), err))
			continue
		}
		reports = append(reports, rep)
		logger.Debug("report generated", zap.String("report", g.Name()), zap.Int("warnings", len(rep.Warnings)))
	}
	reports = append(reports, indexReport(snap, reports, warnings))

	m, err := b.writer.Write(reports, report.Manifest{
		GeneratedAt: snap.GeneratedAt,
		ProjectName: snap.ProjectName,
		RepoRoot:    snap.RepoRoot,
		RunID:       runID,
		Warnings:    warnings,
	})
	if err != nil {
		return nil, fmt.Errorf("write bundle: %w", err)
	}

	logger.Info("bundle run finished",
		zap.Int("reports", len(m.Reports)),
		zap.Int("warnings", len(m.Warnings)),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

func indexReport(snap *Snapshot, reports []report.Report, warnings []string) report.Report {
	var d report.Doc
	d.H1("Context Bundle: " + snap.ProjectName)
	d.Para("Generated %s from %s (run %s).", snap.GeneratedAtString(), report.Code(snap.RepoRoot), report.Code(snap.RunID))
	d.Para("Start with [context_prompt.md](context_prompt.md) when opening a new chat.")

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		files := fmt.Sprintf("[%s](%s)", r.File, r.File)
		if jf := r.JSONFile(); jf != "" {
			files += fmt.Sprintf(", [%s](%s)", jf, jf)
		}
		rows = append(rows, []string{r.Title, files, fmt.Sprintf("%d", len(r.Warnings))})
	}
	d.H2("Reports")
	d.Table([]string{"Report", "Files", "Warnings"}, rows)
	d.Warnings(warnings)

	return report.Report{
		Name:     "readme",
		Title:    "Bundle Index",
		File:     IndexFile,
		Markdown: d.String(),
	}
}
