package bundle

import (
	"context"
	"fmt"

	"github.com/cexll/ctxbundle/internal/prompt"
	"github.com/cexll/ctxbundle/internal/report"
)

// Generator turns the snapshot into one report. Generators only read the
// snapshot and never see each other's output.
type Generator interface {
	// Name is the stable identifier used in manifest entries and disabled_reports.
	Name() string
	// Title is the human readable heading.
	Title() string
	// File is the markdown file name inside the output directory.
	File() string
	Generate(ctx context.Context, snap *Snapshot, env *Env) (report.Report, error)
}

// Env carries shared helpers for generators.
type Env struct {
	Renderer *prompt.Renderer
	// Reports lists the enabled generators, for cross links.
	Reports []prompt.ReportLink
}

// Registry keeps generators in registration order.
type Registry struct {
	order []Generator
	byKey map[string]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Generator)}
}

// Register adds g. Names and file names must be unique.
func (r *Registry) Register(g Generator) error {
	if _, ok := r.byKey[g.Name()]; ok {
		return fmt.Errorf("generator already registered: %s", g.Name())
	}
	for _, existing := range r.order {
		if existing.File() == g.File() {
			return fmt.Errorf("generator %s reuses file %s", g.Name(), g.File())
		}
	}
	r.byKey[g.Name()] = g
	r.order = append(r.order, g)
	return nil
}

// Get returns the named generator.
func (r *Registry) Get(name string) (Generator, error) {
	g, ok := r.byKey[name]
	if !ok {
		return nil, fmt.Errorf("generator not found: %s", name)
	}
	return g, nil
}

// All returns generators in registration order.
func (r *Registry) All() []Generator {
	return append([]Generator(nil), r.order...)
}

// DefaultRegistry registers the built-in reports.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, g := range []Generator{
		fileIndexGenerator{},
		codeStatsGenerator{},
		todosGenerator{},
		endpointsGenerator{},
		gitSummaryGenerator{},
		environmentGenerator{},
		githubSummaryGenerator{},
		cycleTransitionGenerator{},
		contextPromptGenerator{},
	} {
		if err := r.Register(g); err != nil {
			panic(err)
		}
	}
	return r
}
