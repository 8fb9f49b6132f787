package bundle

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cexll/ctxbundle/internal/envcheck"
	"github.com/cexll/ctxbundle/internal/git"
	"github.com/cexll/ctxbundle/internal/github"
	"github.com/cexll/ctxbundle/internal/prompt"
	"github.com/cexll/ctxbundle/internal/report"
	"github.com/cexll/ctxbundle/internal/sanitize"
	"github.com/cexll/ctxbundle/internal/stats"
)

const (
	maxListedFiles   = 500
	maxListedCommits = 50
	maxListedChanged = 30
)

func header(d *report.Doc, title string, snap *Snapshot) {
	d.H1(title)
	d.Para("Generated %s for %s.", snap.GeneratedAtString(), report.Code(snap.ProjectName))
}

// --- file_index ---

type fileIndexGenerator struct{}

func (fileIndexGenerator) Name() string  { return "file_index" }
func (fileIndexGenerator) Title() string { return "File Index" }
func (fileIndexGenerator) File() string  { return "file_index.md" }

func (g fileIndexGenerator) Generate(_ context.Context, snap *Snapshot, _ *Env) (report.Report, error) {
	idx := snap.Index
	var d report.Doc
	header(&d, g.Title(), snap)

	d.H2("Summary")
	d.Table([]string{"Metric", "Value"}, [][]string{
		{"Files", strconv.Itoa(len(idx.Files))},
		{"Lines", strconv.Itoa(idx.TotalLines)},
		{"Size", humanBytes(idx.TotalBytes)},
		{"Skipped (ignored dirs)", strconv.Itoa(idx.Skipped.Ignored)},
		{"Skipped (hidden)", strconv.Itoa(idx.Skipped.Hidden)},
		{"Skipped (too large)", strconv.Itoa(idx.Skipped.TooLarge)},
		{"Skipped (binary)", strconv.Itoa(idx.Skipped.Binary)},
		{"Truncated", strconv.FormatBool(idx.Truncated)},
	})

	d.H2("Languages")
	d.Table([]string{"Language", "Files"}, countRows(sortedCounts(idx.ByLanguage)))

	d.H2("Extensions")
	d.Table([]string{"Extension", "Files"}, countRows(sortedCounts(idx.ByExtension)))

	d.H2("Files")
	rows := make([][]string, 0, len(idx.Files))
	for i, f := range idx.Files {
		if i == maxListedFiles {
			break
		}
		rows = append(rows, []string{report.Code(f.Path), f.Language, strconv.Itoa(f.Lines), humanBytes(f.Size)})
	}
	d.Table([]string{"Path", "Language", "Lines", "Size"}, rows)
	if len(idx.Files) > maxListedFiles {
		d.Para("%d more files are listed in file_index.json.", len(idx.Files)-maxListedFiles)
	}
	d.Warnings(idx.Warnings)

	return report.Report{
		Name:     g.Name(),
		Title:    g.Title(),
		File:     g.File(),
		Markdown: d.String(),
		JSON:     idx,
		Warnings: idx.Warnings,
	}, nil
}

// --- code_stats ---

type codeStatsGenerator struct{}

func (codeStatsGenerator) Name() string  { return "code_stats" }
func (codeStatsGenerator) Title() string { return "Code Statistics" }
func (codeStatsGenerator) File() string  { return "code_stats.md" }

func (g codeStatsGenerator) Generate(_ context.Context, snap *Snapshot, _ *Env) (report.Report, error) {
	st := snap.Stats
	var d report.Doc
	header(&d, g.Title(), snap)
	d.Para("%d files scanned. Each count is the number of lines matching the pattern.", st.FilesScanned)

	d.H2("Totals")
	if len(st.Totals) == 0 {
		d.Para("No pattern matched.")
	} else {
		d.Table([]string{"Pattern", "Count"}, countRows(sortedCounts(st.Totals)))
	}

	langs := make([]string, 0, len(st.ByLanguage))
	for lang := range st.ByLanguage {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	if len(langs) > 0 {
		d.H2("By language")
		var rows [][]string
		for _, lang := range langs {
			for _, c := range sortedCounts(st.ByLanguage[lang]) {
				rows = append(rows, []string{lang, c.Name, strconv.Itoa(c.Value)})
			}
		}
		d.Table([]string{"Language", "Pattern", "Count"}, rows)
	}

	d.H2("Markers")
	if len(st.TodoCounts) == 0 {
		d.Para("No TODO markers found.")
	} else {
		d.Table([]string{"Marker", "Count"}, countRows(sortedCounts(st.TodoCounts)))
	}
	d.Warnings(st.Warnings)

	return report.Report{
		Name:     g.Name(),
		Title:    g.Title(),
		File:     g.File(),
		Markdown: d.String(),
		JSON: map[string]any{
			"files_scanned": st.FilesScanned,
			"totals":        st.Totals,
			"by_language":   st.ByLanguage,
			"todo_counts":   st.TodoCounts,
		},
		Warnings: st.Warnings,
	}, nil
}

// --- todos ---

type todosGenerator struct{}

func (todosGenerator) Name() string  { return "todos" }
func (todosGenerator) Title() string { return "TODO Markers" }
func (todosGenerator) File() string  { return "todos.md" }

func (g todosGenerator) Generate(_ context.Context, snap *Snapshot, _ *Env) (report.Report, error) {
	todos := snap.Stats.Todos
	var d report.Doc
	header(&d, g.Title(), snap)

	if len(todos) == 0 {
		d.Para("No TODO markers found.")
	} else {
		d.Para("%d %s found.", len(todos), plural(len(todos), "marker", "markers"))
		d.H2("Counts")
		d.Table([]string{"Marker", "Count"}, countRows(sortedCounts(snap.Stats.TodoCounts)))
		d.H2("Items")
		rows := make([][]string, 0, len(todos))
		for _, t := range todos {
			rows = append(rows, []string{t.Marker, report.Code(fmt.Sprintf("%s:%d", t.Path, t.Line)), t.Text})
		}
		d.Table([]string{"Marker", "Location", "Text"}, rows)
	}

	return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: d.String()}, nil
}

// --- api_endpoints ---

type endpointsGenerator struct{}

func (endpointsGenerator) Name() string  { return "api_endpoints" }
func (endpointsGenerator) Title() string { return "API Endpoints" }
func (endpointsGenerator) File() string  { return "api_endpoints.md" }

func (g endpointsGenerator) Generate(_ context.Context, snap *Snapshot, _ *Env) (report.Report, error) {
	eps := snap.Stats.Endpoints
	var d report.Doc
	header(&d, g.Title(), snap)
	d.Para("Endpoints are read from route decorators in the source; the application is never imported.")

	if len(eps) == 0 {
		d.Para("No route decorators were found.")
	} else {
		rows := make([][]string, 0, len(eps))
		for _, ep := range eps {
			handler := ep.Handler
			if handler == "" {
				handler = "(unknown)"
			}
			rows = append(rows, []string{ep.Method, report.Code(ep.Path), handler, report.Code(fmt.Sprintf("%s:%d", ep.Source, ep.Line))})
		}
		d.Table([]string{"Method", "Path", "Handler", "Source"}, rows)
	}

	if len(snap.UntestedEndpoints) > 0 {
		d.H2("Not referenced by tests")
		items := make([]string, 0, len(snap.UntestedEndpoints))
		for _, ep := range snap.UntestedEndpoints {
			items = append(items, fmt.Sprintf("%s %s", ep.Method, report.Code(ep.Path)))
		}
		d.List(items)
	}

	payload := eps
	if payload == nil {
		payload = []stats.Endpoint{}
	}
	return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: d.String(), JSON: payload}, nil
}

// --- git_summary ---

type gitSummaryGenerator struct{}

func (gitSummaryGenerator) Name() string  { return "git_summary" }
func (gitSummaryGenerator) Title() string { return "Git Summary" }
func (gitSummaryGenerator) File() string  { return "git_summary.md" }

func (g gitSummaryGenerator) Generate(_ context.Context, snap *Snapshot, _ *Env) (report.Report, error) {
	st := snap.Git
	var d report.Doc
	header(&d, g.Title(), snap)

	if !st.Available {
		d.Para("%s.", gitUnavailableMsg)
		d.Warnings(st.Warnings)
		return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: d.String(), JSON: st, Warnings: st.Warnings}, nil
	}

	d.Para("Branch: %s", report.Code(st.Branch))

	d.H2("Recent commits")
	if len(st.Commits) == 0 {
		d.Para("No commits yet.")
	} else {
		rows := make([][]string, 0, len(st.Commits))
		for i, c := range st.Commits {
			if i == maxListedCommits {
				break
			}
			rows = append(rows, []string{report.Code(c.ShortHash), shortDate(c.Date), c.Author, sanitize.Line(c.Subject, 100), strconv.Itoa(len(c.Changes))})
		}
		d.Table([]string{"Commit", "Date", "Author", "Subject", "Files"}, rows)
	}

	d.H2("Changed files")
	if st.Changes.Base != "" {
		d.Para("Against %s.", report.Code(st.Changes.Base))
	} else {
		d.Para("Across the last %d %s.", len(st.Commits), plural(len(st.Commits), "commit", "commits"))
	}
	d.Table([]string{"Added", "Modified", "Deleted", "Renamed", "Total"}, [][]string{{
		strconv.Itoa(st.Changes.Added),
		strconv.Itoa(st.Changes.Modified),
		strconv.Itoa(st.Changes.Deleted),
		strconv.Itoa(st.Changes.Renamed),
		strconv.Itoa(st.Changes.Total),
	}})
	d.H3("By extension")
	d.Table([]string{"Extension", "Files", "Paths"}, bucketRows(st.Changes.ByExtension))

	d.H2("Working tree")
	if len(st.Status) == 0 {
		d.Para("Clean.")
	} else {
		items := make([]string, 0, len(st.Status))
		for _, line := range st.Status {
			items = append(items, report.Code(line))
		}
		d.List(items)
	}
	d.Warnings(st.Warnings)

	return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: d.String(), JSON: st, Warnings: st.Warnings}, nil
}

// --- environment ---

type environmentGenerator struct{}

func (environmentGenerator) Name() string  { return "environment" }
func (environmentGenerator) Title() string { return "Environment" }
func (environmentGenerator) File() string  { return "environment.md" }

func (g environmentGenerator) Generate(_ context.Context, snap *Snapshot, _ *Env) (report.Report, error) {
	env := snap.Env
	var d report.Doc
	header(&d, g.Title(), snap)
	d.Para("Only presence is recorded; values are never written.")

	d.H2("Credentials")
	if len(env.Credentials) == 0 {
		d.Para("No credentials tracked.")
	} else {
		rows := make([][]string, 0, len(env.Credentials))
		for _, c := range env.Credentials {
			rows = append(rows, []string{report.Code(c.Name), c.Status, c.Source})
		}
		d.Table([]string{"Variable", "Status", "Source"}, rows)
	}

	d.H2("Expected files")
	if len(env.Files) == 0 {
		d.Para("No expected files configured.")
	} else {
		rows := make([][]string, 0, len(env.Files))
		for _, f := range env.Files {
			rows = append(rows, []string{report.Code(f.Path), f.Status})
		}
		d.Table([]string{"File", "Status"}, rows)
	}
	d.Warnings(env.Warnings)

	return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: d.String(), Warnings: env.Warnings}, nil
}

// --- github_summary ---

type githubSummaryGenerator struct{}

func (githubSummaryGenerator) Name() string  { return "github_summary" }
func (githubSummaryGenerator) Title() string { return "GitHub Summary" }
func (githubSummaryGenerator) File() string  { return "github_summary.md" }

func (g githubSummaryGenerator) Generate(_ context.Context, snap *Snapshot, _ *Env) (report.Report, error) {
	hub := snap.Hub
	var d report.Doc
	header(&d, g.Title(), snap)

	switch {
	case !hub.Configured:
		d.Para("GitHub summary %s: set %s and %s (or %s with %s).",
			envcheck.StatusNotSet,
			report.Code("GITHUB_REPOSITORY"), report.Code("GITHUB_TOKEN"),
			report.Code("GITHUB_APP_ID"), report.Code("GITHUB_PRIVATE_KEY"))
		return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: d.String()}, nil
	case hub.Summary == nil:
		warning := "github summary unavailable: " + hub.Error
		d.Warnings([]string{warning})
		return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: d.String(), Warnings: []string{warning}}, nil
	}

	s := hub.Summary
	d.H2(s.Repository)
	if s.Description != "" {
		d.Para("%s", s.Description)
	}
	d.Table([]string{"Default branch", "Stars", "Forks", "Open issues + PRs", "Last push"}, [][]string{{
		report.Code(s.DefaultBranch),
		strconv.Itoa(s.Stars),
		strconv.Itoa(s.Forks),
		strconv.Itoa(s.OpenIssues),
		s.PushedAt.UTC().Format("2006-01-02"),
	}})

	d.H2("Open issues")
	if len(s.Issues) == 0 {
		d.Para("None.")
	} else {
		d.Table([]string{"#", "Title", "Author", "Labels", "Updated"}, itemRows(s.Issues))
	}

	d.H2("Open pull requests")
	if len(s.PullRequests) == 0 {
		d.Para("None.")
	} else {
		rows := itemRows(s.PullRequests)
		for i, pr := range s.PullRequests {
			if pr.Draft {
				rows[i][1] = "[draft] " + rows[i][1]
			}
		}
		d.Table([]string{"#", "Title", "Author", "Labels", "Updated"}, rows)
	}

	return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: d.String()}, nil
}

// --- cycle_transition ---

type cycleTransitionGenerator struct{}

func (cycleTransitionGenerator) Name() string  { return prompt.CycleTransition }
func (cycleTransitionGenerator) Title() string { return "Cycle Transition" }
func (cycleTransitionGenerator) File() string  { return "cycle_transition.md" }

func (g cycleTransitionGenerator) Generate(_ context.Context, snap *Snapshot, env *Env) (report.Report, error) {
	st := snap.Git
	byType := make(map[string]int)
	authors := make(map[string]int)
	for _, c := range st.Commits {
		byType[c.Type]++
		authors[c.Author]++
	}
	extensions := make(map[string]int, len(st.Changes.ByExtension))
	for ext, paths := range st.Changes.ByExtension {
		extensions[ext] = len(paths)
	}

	data := prompt.CycleTransitionData{
		ProjectName: snap.ProjectName,
		Branch:      st.Branch,
		GeneratedAt: snap.GeneratedAtString(),
		Base:        st.Changes.Base,
		CommitCount: len(st.Commits),
		ByType:      sortedCounts(byType),
		Authors:     sortedCounts(authors),
		Extensions:  sortedCounts(extensions),
		Commits:     commitLines(st.Commits, maxListedCommits),
		Added:       st.Changes.Added,
		Modified:    st.Changes.Modified,
		Deleted:     st.Changes.Deleted,
		Renamed:     st.Changes.Renamed,
		Uncommitted: st.Status,
		NextActions: NextActions(snap),
		Warnings:    st.Warnings,
	}
	out, warnings, err := env.Renderer.Render(prompt.CycleTransition, data)
	if err != nil {
		return report.Report{}, err
	}
	return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: out, Warnings: warnings}, nil
}

// --- context_prompt ---

type contextPromptGenerator struct{}

func (contextPromptGenerator) Name() string  { return prompt.ContextPrompt }
func (contextPromptGenerator) Title() string { return "Context Prompt" }
func (contextPromptGenerator) File() string  { return "context_prompt.md" }

func (g contextPromptGenerator) Generate(_ context.Context, snap *Snapshot, env *Env) (report.Report, error) {
	var endpoints []prompt.EndpointLine
	for _, ep := range snap.Stats.Endpoints {
		endpoints = append(endpoints, prompt.EndpointLine{Method: ep.Method, Path: ep.Path, Handler: ep.Handler, Source: ep.Source})
	}

	var links []prompt.ReportLink
	for _, l := range env.Reports {
		if l.File != g.File() {
			links = append(links, l)
		}
	}

	data := prompt.ContextPromptData{
		ProjectName:   snap.ProjectName,
		Branch:        snap.Git.Branch,
		GeneratedAt:   snap.GeneratedAtString(),
		FileCount:     len(snap.Index.Files),
		TotalLines:    snap.Index.TotalLines,
		Truncated:     snap.Index.Truncated,
		Languages:     sortedCounts(snap.Index.ByLanguage),
		PatternTotals: sortedCounts(snap.Stats.Totals),
		Endpoints:     endpoints,
		TodoCount:     snap.Stats.TodoTotal(),
		RecentCommits: commitLines(snap.Git.Commits, 10),
		NotSet:        snap.Env.NotSet(),
		MissingFiles:  snap.Env.MissingFiles(),
		NextActions:   NextActions(snap),
		Reports:       links,
	}
	out, warnings, err := env.Renderer.Render(prompt.ContextPrompt, data)
	if err != nil {
		return report.Report{}, err
	}
	return report.Report{Name: g.Name(), Title: g.Title(), File: g.File(), Markdown: out, Warnings: warnings}, nil
}

// --- helpers ---

// sortedCounts orders by count descending, then name.
func sortedCounts(m map[string]int) []prompt.Count {
	out := make([]prompt.Count, 0, len(m))
	for k, v := range m {
		out = append(out, prompt.Count{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func countRows(counts []prompt.Count) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{c.Name, strconv.Itoa(c.Value)})
	}
	return rows
}

func bucketRows(buckets map[string][]string) [][]string {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		paths := buckets[k]
		shown := paths
		if len(shown) > maxListedChanged {
			shown = shown[:maxListedChanged]
		}
		cell := strings.Join(shown, ", ")
		if len(paths) > len(shown) {
			cell += fmt.Sprintf(", … %d more", len(paths)-len(shown))
		}
		rows = append(rows, []string{k, strconv.Itoa(len(paths)), cell})
	}
	return rows
}

func commitLines(commits []git.Commit, limit int) []prompt.CommitLine {
	var out []prompt.CommitLine
	for i, c := range commits {
		if i == limit {
			break
		}
		out = append(out, prompt.CommitLine{
			ShortHash: c.ShortHash,
			Type:      c.Type,
			Subject:   sanitize.Line(c.Subject, 100),
			Author:    c.Author,
			Date:      shortDate(c.Date),
		})
	}
	return out
}

func itemRows(items []github.Item) [][]string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			strconv.Itoa(it.Number),
			fmt.Sprintf("[%s](%s)", it.Title, it.URL),
			it.Author,
			strings.Join(it.Labels, ", "),
			it.UpdatedAt.UTC().Format("2006-01-02"),
		})
	}
	return rows
}

func shortDate(iso string) string {
	if len(iso) >= 10 {
		return iso[:10]
	}
	return iso
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
