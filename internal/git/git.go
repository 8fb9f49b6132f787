// Package git reads history and working tree state by shelling out to git.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNotRepository is returned when the directory is not inside a git work tree
// or git is not installed.
var ErrNotRepository = errors.New("not a git repository")

// ErrInvalidRef is returned for a ref git would parse as an option.
var ErrInvalidRef = errors.New("invalid git ref")

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

// Change is one path from --name-status output.
type Change struct {
	Status  string `json:"status"` // A, M, D, R, C, T or U
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
}

// Commit is one entry of the log.
type Commit struct {
	Hash      string   `json:"hash"`
	ShortHash string   `json:"short_hash"`
	Author    string   `json:"author"`
	Date      string   `json:"date"`
	Subject   string   `json:"subject"`
	Type      string   `json:"type"`
	Changes   []Change `json:"changes"`
}

// ChangeSet groups changed paths by extension.
type ChangeSet struct {
	Base        string              `json:"base,omitempty"`
	ByExtension map[string][]string `json:"by_extension"`
	Added       int                 `json:"added"`
	Modified    int                 `json:"modified"`
	Deleted     int                 `json:"deleted"`
	Renamed     int                 `json:"renamed"`
	Total       int                 `json:"total"`
}

// Repo runs git commands against a single work tree.
type Repo struct {
	dir    string
	runner CommandRunner
}

// Open verifies that dir is inside a git work tree.
func Open(ctx context.Context, runner CommandRunner, dir string) (*Repo, error) {
	if runner == nil {
		runner = &RealCommandRunner{}
	}
	r := &Repo{dir: dir, runner: runner}
	out, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	if strings.TrimSpace(out) != "true" {
		return nil, ErrNotRepository
	}
	return r, nil
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(ctx context.Context, runner CommandRunner, dir string) bool {
	_, err := Open(ctx, runner, dir)
	return err == nil
}

// Dir returns the directory commands run in.
func (r *Repo) Dir() string {
	return r.dir
}

// CurrentBranch returns the checked out branch, or "HEAD" when detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Log returns the last limit commits, newest first.
func (r *Repo) Log(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := r.run(ctx, "log",
		"-n", strconv.Itoa(limit),
		"--date=iso-strict",
		"--name-status",
		"--pretty=format:%x1e%H%x1f%h%x1f%an%x1f%ad%x1f%s",
	)
	if err != nil {
		return nil, err
	}
	return ParseLog(out), nil
}

// ChangedFiles lists paths changed between base and HEAD.
func (r *Repo) ChangedFiles(ctx context.Context, base string) ([]Change, error) {
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("base ref is required")
	}
	if strings.HasPrefix(base, "-") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, base)
	}
	out, err := r.run(ctx, "diff", "--name-status", base+"...HEAD")
	if err != nil {
		return nil, err
	}
	var changes []Change
	for _, line := range strings.Split(out, "\n") {
		if ch, ok := parseNameStatus(line); ok {
			changes = append(changes, ch)
		}
	}
	return changes, nil
}

// Status returns the porcelain status lines of the work tree.
func (r *Repo) Status(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, "\r"))
		}
	}
	return lines, nil
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.runner.RunInDir(ctx, r.dir, "git", args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}

// ParseLog parses the record/field separated output produced by Log.
func ParseLog(out string) []Commit {
	var commits []Commit
	for _, record := range strings.Split(out, recordSep) {
		record = strings.Trim(record, "\n")
		if record == "" {
			continue
		}
		lines := strings.Split(record, "\n")
		fields := strings.Split(lines[0], fieldSep)
		if len(fields) < 5 {
			continue
		}
		c := Commit{
			Hash:      fields[0],
			ShortHash: fields[1],
			Author:    fields[2],
			Date:      fields[3],
			Subject:   strings.Join(fields[4:], " "),
		}
		c.Type = ConventionalType(c.Subject)
		for _, line := range lines[1:] {
			if ch, ok := parseNameStatus(line); ok {
				c.Changes = append(c.Changes, ch)
			}
		}
		commits = append(commits, c)
	}
	return commits
}

func parseNameStatus(line string) (Change, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return Change{}, false
	}
	parts := strings.Split(line, "\t")
	if len(parts) < 2 || parts[0] == "" {
		return Change{}, false
	}
	status := parts[0][:1]
	switch status {
	case "R", "C":
		if len(parts) < 3 {
			return Change{}, false
		}
		return Change{Status: status, OldPath: parts[1], Path: parts[2]}, true
	default:
		return Change{Status: status, Path: parts[1]}, true
	}
}

var conventionalRe = regexp.MustCompile(`^(\w+)(?:\([^)]*\))?!?:\s`)

// ConventionalType returns the conventional commit prefix of a subject
// ("feat", "fix", ...) or "other".
func ConventionalType(subject string) string {
	m := conventionalRe.FindStringSubmatch(strings.TrimSpace(subject))
	if m == nil {
		return "other"
	}
	return strings.ToLower(m[1])
}

// ExtensionKey is the bucket for a path; files without an extension are "(none)".
func ExtensionKey(p string) string {
	ext := strings.ToLower(path.Ext(path.Base(p)))
	if ext == "" || ext == "." {
		return "(none)"
	}
	return ext
}

// BucketByExtension groups paths by extension. Paths are deduplicated and
// sorted within each bucket.
func BucketByExtension(paths []string) map[string][]string {
	buckets := make(map[string][]string)
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		key := ExtensionKey(p)
		buckets[key] = append(buckets[key], p)
	}
	for _, list := range buckets {
		sort.Strings(list)
	}
	return buckets
}

// Summarize buckets changes and counts them by status. A path changed by
// several commits counts once, with its most recent status.
func Summarize(base string, changes []Change) ChangeSet {
	latest := make(map[string]string, len(changes))
	var order []string
	for _, ch := range changes {
		if _, ok := latest[ch.Path]; ok {
			continue
		}
		latest[ch.Path] = ch.Status
		order = append(order, ch.Path)
	}

	cs := ChangeSet{Base: base, ByExtension: BucketByExtension(order), Total: len(order)}
	for _, p := range order {
		switch latest[p] {
		case "A", "C":
			cs.Added++
		case "D":
			cs.Deleted++
		case "R":
			cs.Renamed++
		default:
			cs.Modified++
		}
	}
	return cs
}

// ChangesFromCommits flattens commit changes, newest first.
func ChangesFromCommits(commits []Commit) []Change {
	var out []Change
	for _, c := range commits {
		out = append(out, c.Changes...)
	}
	return out
}
