package prompt

const defaultContextPromptTemplate = `# Context: {{.ProjectName}}

You are assisting with development of **{{.ProjectName}}**. The sections below
were generated from the repository on {{.GeneratedAt}}{{if .Branch}} (branch {{code .Branch}}){{end}}.
Treat them as the current state of the project and ask before assuming anything
they do not cover.

## Repository at a glance

- Files indexed: {{.FileCount}}{{if .Truncated}} (index truncated){{end}}
- Lines of text: {{.TotalLines}}
- Open TODO markers: {{.TodoCount}}
{{- if .Languages}}
- Languages: {{range $i, $l := .Languages}}{{if $i}}, {{end}}{{$l.Name}} ({{$l.Value}}){{end}}
{{- end}}
{{- if .PatternTotals}}

## Code shape

| Pattern | Count |
|---|---|
{{- range .PatternTotals}}
| {{.Name}} | {{.Value}} |
{{- end}}
{{- end}}

## HTTP endpoints
{{if .Endpoints}}
{{- range .Endpoints}}
- {{.Method}} {{code .Path}}{{if .Handler}} → {{.Handler}}{{end}}
{{- end}}
{{else}}
No route decorators were found.
{{end}}
## Recent commits
{{if .RecentCommits}}
{{- range .RecentCommits}}
- {{.ShortHash}} {{.Subject}} ({{.Author}})
{{- end}}
{{else}}
git history unavailable.
{{end}}
## Environment
{{if .NotSet}}
Credentials NOT_SET: {{join .NotSet ", "}}
{{- else}}
All tracked credentials are SET.
{{- end}}
{{- if .MissingFiles}}
Missing files: {{join .MissingFiles ", "}}
{{- end}}
{{- if .NextActions}}

## Suggested next actions
{{range .NextActions}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Reports}}

## Detailed reports
{{range .Reports}}
- [{{.Title}}]({{.File}})
{{- end}}
{{- end}}
`

const defaultCycleTransitionTemplate = `# Cycle Transition: {{.ProjectName}}

Generated {{.GeneratedAt}}{{if .Branch}} on branch {{code .Branch}}{{end}}.

## Summary

{{.CommitCount}} {{plural .CommitCount "commit" "commits"}} reviewed
{{- if .Base}} against {{code .Base}}{{end}}: {{.Added}} added, {{.Modified}} modified, {{.Deleted}} deleted, {{.Renamed}} renamed.
{{- if .ByType}}

### By type

| Type | Commits |
|---|---|
{{- range .ByType}}
| {{.Name}} | {{.Value}} |
{{- end}}
{{- end}}
{{- if .Authors}}

### Authors

{{range .Authors}}
- {{.Name}}: {{.Value}}
{{- end}}
{{- end}}
{{- if .Extensions}}

### Changed files by extension

| Extension | Files |
|---|---|
{{- range .Extensions}}
| {{.Name}} | {{.Value}} |
{{- end}}
{{- end}}

## Commits
{{if .Commits}}
{{- range .Commits}}
- {{.ShortHash}} [{{.Type}}] {{.Subject}} ({{.Author}}, {{.Date}})
{{- end}}
{{else}}
git history unavailable.
{{end}}
{{- if .Uncommitted}}
## Uncommitted changes

{{range .Uncommitted}}
- {{code .}}
{{- end}}

{{end -}}
## Suggested next actions
{{if .NextActions}}
{{- range .NextActions}}
- [ ] {{.}}
{{- end}}
{{else}}
Nothing outstanding. Pick the next item from the roadmap.
{{end}}
{{- if .Warnings}}
## Warnings

{{range .Warnings}}
- {{.}}
{{- end}}
{{end}}`
