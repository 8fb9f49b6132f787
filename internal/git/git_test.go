package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleLog = "\x1eaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\x1faaaaaaa\x1fAda\x1f2026-10-01T10:00:00+00:00\x1ffeat(api): add outline endpoint\n\n" +
	"M\tapp/routes/content.py\nA\ttests/test_outline.py\n" +
	"\x1ebbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb\x1fbbbbbbb\x1fLin\x1f2026-09-30T09:00:00+00:00\x1fUpdate README\n\n" +
	"M\tREADME.md\nR087\tapp/old.py\tapp/new.py\nD\tDockerfile\n"

func mockRepo(t *testing.T, responses map[string]string) (*Repo, *MockCommandRunner) {
	t.Helper()
	runner := NewMockCommandRunner()
	runner.RunInDirFunc = func(dir, name string, args ...string) ([]byte, error) {
		if name != "git" {
			return nil, fmt.Errorf("unexpected command %s", name)
		}
		if args[0] == "rev-parse" && len(args) > 1 && args[1] == "--is-inside-work-tree" {
			return []byte("true\n"), nil
		}
		if out, ok := responses[args[0]]; ok {
			return []byte(out), nil
		}
		return nil, fmt.Errorf("unexpected git %s", strings.Join(args, " "))
	}
	repo, err := Open(context.Background(), runner, "/repo")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return repo, runner
}

func TestOpen_NotRepository(t *testing.T) {
	runner := NewMockCommandRunner()
	runner.RunInDirFunc = func(dir, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 128")
	}

	_, err := Open(context.Background(), runner, "/tmp/plain")
	if !errors.Is(err, ErrNotRepository) {
		t.Fatalf("Open error = %v, want ErrNotRepository", err)
	}
	if IsRepo(context.Background(), runner, "/tmp/plain") {
		t.Fatal("IsRepo = true, want false")
	}
}

func TestLog_ParsesCommits(t *testing.T) {
	repo, runner := mockRepo(t, map[string]string{"log": sampleLog})

	commits, err := repo.Log(context.Background(), 5)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	want := []Commit{
		{
			Hash: strings.Repeat("a", 40), ShortHash: "aaaaaaa", Author: "Ada",
			Date: "2026-10-01T10:00:00+00:00", Subject: "feat(api): add outline endpoint", Type: "feat",
			Changes: []Change{
				{Status: "M", Path: "app/routes/content.py"},
				{Status: "A", Path: "tests/test_outline.py"},
			},
		},
		{
			Hash: strings.Repeat("b", 40), ShortHash: "bbbbbbb", Author: "Lin",
			Date: "2026-09-30T09:00:00+00:00", Subject: "Update README", Type: "other",
			Changes: []Change{
				{Status: "M", Path: "README.md"},
				{Status: "R", Path: "app/new.py", OldPath: "app/old.py"},
				{Status: "D", Path: "Dockerfile"},
			},
		},
	}
	if diff := cmp.Diff(want, commits); diff != "" {
		t.Fatalf("commits mismatch (-want +got):\n%s", diff)
	}

	last := runner.Calls[len(runner.Calls)-1]
	if last.Dir != "/repo" || last.Args[0] != "log" || last.Args[2] != "5" {
		t.Fatalf("unexpected log invocation: %+v", last)
	}
}

func TestLog_ZeroLimit(t *testing.T) {
	repo, _ := mockRepo(t, nil)
	commits, err := repo.Log(context.Background(), 0)
	if err != nil || commits != nil {
		t.Fatalf("Log(0) = %v, %v; want nil, nil", commits, err)
	}
}

func TestChangedFiles(t *testing.T) {
	repo, runner := mockRepo(t, map[string]string{
		"diff": "M\tapp/main.py\nA\tapp/routes/new.py\nR100\tdocs/a.md\tdocs/b.md\n\n",
	})

	changes, err := repo.ChangedFiles(context.Background(), "origin/main")
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	want := []Change{
		{Status: "M", Path: "app/main.py"},
		{Status: "A", Path: "app/routes/new.py"},
		{Status: "R", Path: "docs/b.md", OldPath: "docs/a.md"},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
	last := runner.Calls[len(runner.Calls)-1]
	if got := strings.Join(last.Args, " "); got != "diff --name-status origin/main...HEAD" {
		t.Fatalf("diff args = %q", got)
	}

	if _, err := repo.ChangedFiles(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty base ref")
	}
}

func TestChangedFiles_RejectsOptionLikeRef(t *testing.T) {
	repo, runner := mockRepo(t, map[string]string{"diff": "M\tapp/main.py\n"})
	calls := len(runner.Calls)

	for _, base := range []string{"--output=/tmp/x", "-p"} {
		if _, err := repo.ChangedFiles(context.Background(), base); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("ChangedFiles(%q) error = %v, want ErrInvalidRef", base, err)
		}
	}
	if len(runner.Calls) != calls {
		t.Fatalf("git was invoked for an option-like ref: %+v", runner.Calls[calls:])
	}
}

func TestStatusAndBranch(t *testing.T) {
	repo, runner := mockRepo(t, map[string]string{
		"status": " M app/main.py\n?? notes.txt\n",
	})
	runner.RunInDirFunc = wrapBranch(runner.RunInDirFunc, "feature/outline\n")

	lines, err := repo.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if diff := cmp.Diff([]string{" M app/main.py", "?? notes.txt"}, lines); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}

	branch, err := repo.CurrentBranch(context.Background())
	if err != nil || branch != "feature/outline" {
		t.Fatalf("CurrentBranch = %q, %v", branch, err)
	}
}

func wrapBranch(next func(dir, name string, args ...string) ([]byte, error), branch string) func(dir, name string, args ...string) ([]byte, error) {
	return func(dir, name string, args ...string) ([]byte, error) {
		if len(args) == 3 && args[1] == "--abbrev-ref" {
			return []byte(branch), nil
		}
		return next(dir, name, args...)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	repo, _ := mockRepo(t, map[string]string{"status": ""})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := repo.Status(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Status error = %v, want context.Canceled", err)
	}
}

func TestConventionalType(t *testing.T) {
	tests := map[string]string{
		"feat: add endpoint":          "feat",
		"fix(cache)!: evict on write": "fix",
		"Docs: typo":                  "docs",
		"Merge branch 'main'":         "other",
		"refactor:no space":           "other",
		"":                            "other",
	}
	for subject, want := range tests {
		if got := ConventionalType(subject); got != want {
			t.Errorf("ConventionalType(%q) = %q, want %q", subject, got, want)
		}
	}
}

func TestBucketByExtension(t *testing.T) {
	got := BucketByExtension([]string{"b.py", "Dockerfile", "a.py", "docs/x.MD", "a.py", "Makefile"})
	want := map[string][]string{
		".py":    {"a.py", "b.py"},
		".md":    {"docs/x.MD"},
		"(none)": {"Dockerfile", "Makefile"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("buckets mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize(t *testing.T) {
	commits := ParseLog(sampleLog)
	cs := Summarize("", ChangesFromCommits(commits))

	if cs.Total != 5 || cs.Added != 1 || cs.Modified != 2 || cs.Deleted != 1 || cs.Renamed != 1 {
		t.Fatalf("unexpected counts: %+v", cs)
	}
	if diff := cmp.Diff([]string{"app/new.py", "app/routes/content.py", "tests/test_outline.py"}, cs.ByExtension[".py"]); diff != "" {
		t.Fatalf(".py bucket mismatch (-want +got):\n%s", diff)
	}
}

func TestRealCommandRunner_RunInDir(t *testing.T) {
	runner := &RealCommandRunner{}
	output, err := runner.RunInDir(context.Background(), t.TempDir(), "pwd")
	if err != nil {
		t.Fatalf("RunInDir() unexpected error: %v", err)
	}
	if len(output) == 0 {
		t.Error("RunInDir() returned empty output")
	}
}
