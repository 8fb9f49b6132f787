package bundle

import (
	"time"

	"github.com/cexll/ctxbundle/internal/envcheck"
	"github.com/cexll/ctxbundle/internal/git"
	"github.com/cexll/ctxbundle/internal/github"
	"github.com/cexll/ctxbundle/internal/scan"
	"github.com/cexll/ctxbundle/internal/stats"
)

// Snapshot is the read-only state collected once per run and handed to every
// generator.
type Snapshot struct {
	RunID       string
	ProjectName string
	RepoRoot    string
	OutputDir   string
	GeneratedAt time.Time
	LogLimit    int

	Index *scan.Index
	Stats *stats.Result
	Git   GitState
	Env   *envcheck.Result
	Hub   GitHubState

	// UntestedEndpoints are endpoints whose path no test file mentions.
	UntestedEndpoints []stats.Endpoint

	Warnings []string
}

// GitState is the best-effort git view of the repository.
type GitState struct {
	Available bool          `json:"available"`
	Branch    string        `json:"branch,omitempty"`
	Commits   []git.Commit  `json:"commits"`
	Changes   git.ChangeSet `json:"changes"`
	Status    []string      `json:"status"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// GitHubState is the optional remote summary.
type GitHubState struct {
	Configured bool            `json:"configured"`
	Summary    *github.Summary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// GeneratedAtString formats the generation time for reports.
func (s *Snapshot) GeneratedAtString() string {
	return s.GeneratedAt.UTC().Format(time.RFC3339)
}
