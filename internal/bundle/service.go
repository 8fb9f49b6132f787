package bundle

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/report"
	"github.com/cexll/ctxbundle/internal/runstore"
)

// Run triggers.
const (
	TriggerCLI   = "cli"
	TriggerHTTP  = "http"
	TriggerMCP   = "mcp"
	TriggerWatch = "watch"
)

// Service records builder runs in a run store. It is what the long-running
// surfaces talk to.
type Service struct {
	builder *Builder
	runs    *runstore.Store
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewService creates a service around b. A nil store gets a default one.
func NewService(b *Builder, runs *runstore.Store, logger *zap.Logger) *Service {
	if runs == nil {
		runs = runstore.NewStore(runstore.DefaultCapacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{builder: b, runs: runs, logger: logger}
}

// Builder returns the underlying builder.
func (s *Service) Builder() *Builder { return s.builder }

// Runs returns the run history.
func (s *Service) Runs() *runstore.Store { return s.runs }

// OutputDir is where the bundle is written.
func (s *Service) OutputDir() string { return s.builder.cfg.OutputDir }

// Start reserves the output directory and runs the batch in the background.
// It fails fast with concurrency.ErrBusy; no run is recorded in that case.
func (s *Service) Start(ctx context.Context, trigger string) (runstore.Run, error) {
	release, err := s.builder.Reserve()
	if err != nil {
		return runstore.Run{}, err
	}
	run := s.runs.Create(trigger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		_, _ = s.execute(ctx, run.ID)
	}()
	return run, nil
}

// RunNow runs a batch synchronously and returns the finished run.
func (s *Service) RunNow(ctx context.Context, trigger string) (runstore.Run, *report.Manifest, error) {
	release, err := s.builder.Reserve()
	if err != nil {
		return runstore.Run{}, nil, err
	}
	defer release()

	run := s.runs.Create(trigger)
	m, err := s.execute(ctx, run.ID)
	finished, _ := s.runs.Get(run.ID)
	return finished, m, err
}

// Wait blocks until background runs started with Start have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) execute(ctx context.Context, id string) (*report.Manifest, error) {
	s.runs.Start(id)
	s.runs.AddLog(id, "info", "collecting snapshot")

	m, err := s.builder.build(ctx, id)
	if err != nil {
		s.logger.Error("bundle run failed", zap.String("run_id", id), zap.Error(err))
		s.runs.AddLog(id, "error", err.Error())
		s.runs.Fail(id, err)
		return nil, err
	}

	names := make([]string, 0, len(m.Reports))
	for _, e := range m.Reports {
		names = append(names, e.Name)
	}
	for _, w := range m.Warnings {
		s.runs.AddLog(id, "warn", w)
	}
	s.runs.AddLog(id, "info", "bundle written")
	s.runs.Complete(id, names, m.Warnings)
	return m, nil
}
