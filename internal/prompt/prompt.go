// Package prompt renders the text/template backed reports: the paste-into-chat
// context prompt and the cycle transition summary.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"
)

const (
	ContextPrompt   = "context_prompt"
	CycleTransition = "cycle_transition"
)

// ErrUnknownTemplate is returned for a name without a built-in default.
var ErrUnknownTemplate = errors.New("unknown template")

var defaults = map[string]string{
	ContextPrompt:   defaultContextPromptTemplate,
	CycleTransition: defaultCycleTransitionTemplate,
}

// Count is a named number rendered as a table row or list item.
type Count struct {
	Name  string
	Value int
}

// CommitLine is a commit as shown in prompts.
type CommitLine struct {
	ShortHash string
	Type      string
	Subject   string
	Author    string
	Date      string
}

// EndpointLine is an endpoint as shown in prompts.
type EndpointLine struct {
	Method  string
	Path    string
	Handler string
	Source  string
}

// ReportLink points at another file of the bundle.
type ReportLink struct {
	Title string
	File  string
}

// ContextPromptData feeds the context_prompt template.
type ContextPromptData struct {
	ProjectName   string
	Branch        string
	GeneratedAt   string
	FileCount     int
	TotalLines    int
	Truncated     bool
	Languages     []Count
	PatternTotals []Count
	Endpoints     []EndpointLine
	TodoCount     int
	RecentCommits []CommitLine
	NotSet        []string
	MissingFiles  []string
	NextActions   []string
	Reports       []ReportLink
}

// CycleTransitionData feeds the cycle_transition template.
type CycleTransitionData struct {
	ProjectName string
	Branch      string
	GeneratedAt string
	Base        string
	CommitCount int
	ByType      []Count
	Authors     []Count
	Extensions  []Count
	Commits     []CommitLine
	Added       int
	Modified    int
	Deleted     int
	Renamed     int
	Uncommitted []string
	NextActions []string
	Warnings    []string
}

// Renderer renders templates, preferring <dir>/<name>.tmpl over the built-in
// default.
type Renderer struct {
	dir    string
	logger *zap.Logger
}

// NewRenderer creates a renderer reading overrides from dir.
func NewRenderer(dir string, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{dir: dir, logger: logger}
}

// Render executes the named template. A broken override is reported as a
// warning and the built-in default is used instead.
func (r *Renderer) Render(name string, data any) (string, []string, error) {
	def, ok := defaults[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var warnings []string
	if r.dir != "" {
		path := filepath.Join(r.dir, name+".tmpl")
		if b, err := os.ReadFile(path); err == nil {
			out, err := renderTemplateString(name, string(b), data)
			if err == nil {
				r.logger.Debug("rendered template override", zap.String("path", path))
				return out, nil, nil
			}
			warnings = append(warnings, fmt.Sprintf("template override %s ignored: %v", filepath.Base(path), err))
			r.logger.Warn("template override failed, using default", zap.String("path", path), zap.Error(err))
		} else if !errors.Is(err, os.ErrNotExist) {
			warnings = append(warnings, fmt.Sprintf("template override %s unreadable: %v", filepath.Base(path), err))
		}
	}

	out, err := renderTemplateString(name, def, data)
	if err != nil {
		return "", warnings, fmt.Errorf("render %s: %w", name, err)
	}
	return out, warnings, nil
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"code": func(s string) string {
		return "`" + strings.ReplaceAll(s, "`", "'") + "`"
	},
	"plural": func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	},
}

func renderTemplateString(name, tmpl string, data any) (string, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
