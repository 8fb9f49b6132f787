package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/config"
	"github.com/cexll/ctxbundle/internal/envcheck"
	"github.com/cexll/ctxbundle/internal/git"
	"github.com/cexll/ctxbundle/internal/github"
	"github.com/cexll/ctxbundle/internal/sanitize"
	"github.com/cexll/ctxbundle/internal/scan"
	"github.com/cexll/ctxbundle/internal/stats"
)

const (
	githubTimeout       = 30 * time.Second
	gitUnavailableMsg   = "git history unavailable"
	maxTestFileReadSize = 512 << 10
)

// GitHubFetcher loads the remote summary.
type GitHubFetcher interface {
	Fetch(ctx context.Context) (*github.Summary, error)
}

// GitHubFactory builds a fetcher from credentials.
type GitHubFactory func(ctx context.Context, creds github.Credentials, logger *zap.Logger) (GitHubFetcher, error)

func defaultGitHubFactory(ctx context.Context, creds github.Credentials, logger *zap.Logger) (GitHubFetcher, error) {
	return github.NewClient(ctx, creds, logger)
}

// Collector gathers the snapshot. Only an unreadable repository root or
// invalid patterns fail a run; everything else becomes a warning.
type Collector struct {
	cfg       *config.Config
	runner    git.CommandRunner
	newGitHub GitHubFactory
	lookup    envcheck.LookupFunc
	now       func() time.Time
	logger    *zap.Logger
}

// Collect builds the snapshot for runID.
func (c *Collector) Collect(ctx context.Context, runID string) (*Snapshot, error) {
	cfg := c.cfg
	snap := &Snapshot{
		RunID:       runID,
		ProjectName: cfg.ProjectName,
		RepoRoot:    cfg.RepoRoot,
		OutputDir:   cfg.OutputDir,
		GeneratedAt: c.now().UTC(),
		LogLimit:    cfg.GitLogLimit,
	}

	idx, err := scan.Walk(cfg.RepoRoot, scan.Options{
		IgnoreDirs:   cfg.IgnoreDirs,
		ExcludePaths: []string{cfg.OutputDir},
		MaxFiles:     cfg.MaxFiles,
		MaxFileBytes: cfg.MaxFileBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("index repository: %w", err)
	}
	snap.Index = idx
	snap.Warnings = append(snap.Warnings, idx.Warnings...)
	if idx.Truncated {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("file index truncated at %d files", cfg.MaxFiles))
	}
	c.logger.Debug("indexed repository", zap.Int("files", len(idx.Files)), zap.Bool("truncated", idx.Truncated))

	scanner, err := stats.NewScanner(cfg.Patterns, cfg.TodoMarkers, c.logger)
	if err != nil {
		return nil, fmt.Errorf("compile patterns: %w", err)
	}
	snap.Stats = scanner.Scan(cfg.RepoRoot, idx.Files)
	snap.Warnings = append(snap.Warnings, snap.Stats.Warnings...)

	snap.Git = c.collectGit(ctx)
	snap.Warnings = append(snap.Warnings, snap.Git.Warnings...)

	snap.Env = envcheck.Check(cfg.RepoRoot, cfg.CredentialKeys, cfg.ExpectedFiles, c.lookup)
	snap.Warnings = append(snap.Warnings, snap.Env.Warnings...)

	snap.Hub = c.collectGitHub(ctx)
	if snap.Hub.Error != "" {
		snap.Warnings = append(snap.Warnings, "github summary unavailable: "+snap.Hub.Error)
	}

	snap.UntestedEndpoints = untestedEndpoints(cfg.RepoRoot, idx, snap.Stats.Endpoints)
	return snap, nil
}

func (c *Collector) collectGit(ctx context.Context) GitState {
	var st GitState
	repo, err := git.Open(ctx, c.runner, c.cfg.RepoRoot)
	if err != nil {
		c.logger.Info(gitUnavailableMsg, zap.Error(err))
		st.Warnings = append(st.Warnings, fmt.Sprintf("%s: %v", gitUnavailableMsg, err))
		return st
	}
	st.Available = true

	if branch, err := repo.CurrentBranch(ctx); err == nil {
		st.Branch = sanitize.Line(branch, 0)
	} else {
		st.Warnings = append(st.Warnings, fmt.Sprintf("current branch unavailable: %v", err))
	}

	commits, err := repo.Log(ctx, c.cfg.GitLogLimit)
	if err != nil {
		// A repository without commits yet is not worth more than a note.
		st.Warnings = append(st.Warnings, fmt.Sprintf("%s: %v", gitUnavailableMsg, err))
	}
	for i := range commits {
		commits[i].Author = sanitize.Line(commits[i].Author, 0)
		commits[i].Subject = sanitize.Line(commits[i].Subject, 0)
	}
	st.Commits = commits

	if base := c.cfg.GitBaseRef; base != "" {
		changes, err := repo.ChangedFiles(ctx, base)
		if err != nil {
			st.Warnings = append(st.Warnings, fmt.Sprintf("diff against %s unavailable: %v", base, err))
			st.Changes = git.Summarize("", git.ChangesFromCommits(commits))
		} else {
			st.Changes = git.Summarize(base, changes)
		}
	} else {
		st.Changes = git.Summarize("", git.ChangesFromCommits(commits))
	}

	if status, err := repo.Status(ctx); err == nil {
		st.Status = status
	} else {
		st.Warnings = append(st.Warnings, fmt.Sprintf("working tree status unavailable: %v", err))
	}
	return st
}

func (c *Collector) collectGitHub(ctx context.Context) GitHubState {
	if !c.cfg.GitHubConfigured() {
		return GitHubState{}
	}
	st := GitHubState{Configured: true}

	ctx, cancel := context.WithTimeout(ctx, githubTimeout)
	defer cancel()

	client, err := c.newGitHub(ctx, github.Credentials{
		Repository: c.cfg.GitHubRepository,
		Token:      c.cfg.GitHubToken,
		AppID:      c.cfg.GitHubAppID,
		PrivateKey: c.cfg.GitHubPrivateKey,
	}, c.logger)
	if err != nil {
		if errors.Is(err, github.ErrNotConfigured) {
			return GitHubState{}
		}
		st.Error = err.Error()
		return st
	}
	summary, err := client.Fetch(ctx)
	if err != nil {
		c.logger.Warn("github summary failed", zap.Error(err))
		st.Error = err.Error()
		return st
	}
	st.Summary = summary
	return st
}

// IsTestFile reports whether a slash separated path looks like a test.
func IsTestFile(p string) bool {
	base := strings.ToLower(path.Base(p))
	switch {
	case strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.HasSuffix(base, "_test.py"),
		strings.HasSuffix(base, "_test.go"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		base == "conftest.py":
		return true
	}
	for _, seg := range strings.Split(path.Dir(p), "/") {
		if seg == "tests" || seg == "test" || seg == "__tests__" {
			return true
		}
	}
	return false
}

// untestedEndpoints returns endpoints whose static path prefix appears in no
// test file.
func untestedEndpoints(root string, idx *scan.Index, endpoints []stats.Endpoint) []stats.Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	var corpus strings.Builder
	for _, f := range idx.Files {
		if !IsTestFile(f.Path) || f.Size > maxTestFileReadSize {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			continue
		}
		corpus.Write(data)
		corpus.WriteByte('\n')
	}
	text := corpus.String()

	var out []stats.Endpoint
	for _, ep := range endpoints {
		if !strings.Contains(text, staticPrefix(ep.Path)) {
			out = append(out, ep)
		}
	}
	return out
}

// staticPrefix trims path parameters: "/jobs/{id}/status" -> "/jobs/".
func staticPrefix(p string) string {
	if i := strings.IndexAny(p, "{<"); i >= 0 {
		return p[:i]
	}
	return p
}
