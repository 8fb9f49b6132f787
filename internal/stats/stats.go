// Package stats runs the line-oriented regex scan over indexed files: pattern
// counts per language, TODO markers and HTTP endpoint declarations.
package stats

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/sanitize"
	"github.com/cexll/ctxbundle/internal/scan"
)

const (
	maxTodoText = 160
	maxLineLen  = 1 << 20
)

// Counts maps a pattern name to its number of matching lines.
type Counts map[string]int

// TodoItem is one marker occurrence.
type TodoItem struct {
	Marker string `json:"marker"`
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Text   string `json:"text"`
}

// Result is the outcome of scanning a file index.
type Result struct {
	FilesScanned int               `json:"files_scanned"`
	Totals       Counts            `json:"totals"`
	ByLanguage   map[string]Counts `json:"by_language"`
	TodoCounts   Counts            `json:"todo_counts"`
	Todos        []TodoItem        `json:"todos"`
	Endpoints    []Endpoint        `json:"endpoints"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Scanner holds the compiled patterns for a run.
type Scanner struct {
	patterns map[string][]namedPattern
	todo     *regexp.Regexp
	logger   *zap.Logger
}

// NewScanner compiles the default patterns merged with custom ones.
func NewScanner(custom map[string]map[string]string, todoMarkers []string, logger *zap.Logger) (*Scanner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	patterns, err := compilePatterns(custom)
	if err != nil {
		return nil, err
	}
	todo, err := todoPattern(todoMarkers)
	if err != nil {
		return nil, err
	}
	return &Scanner{patterns: patterns, todo: todo, logger: logger}, nil
}

func newResult() *Result {
	return &Result{
		Totals:     make(Counts),
		ByLanguage: make(map[string]Counts),
		TodoCounts: make(Counts),
	}
}

// Scan reads every file of the index below root. Unreadable files become
// warnings.
func (s *Scanner) Scan(root string, files []scan.FileEntry) *Result {
	res := newResult()
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("stats skipped %s: %v", f.Path, err))
			s.logger.Debug("stats read failed", zap.String("path", f.Path), zap.Error(err))
			continue
		}
		if err := s.scanSource(res, f.Path, f.Language, data); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("stats partial for %s: %v", f.Path, err))
		}
	}
	s.finish(res)
	s.logger.Debug("stats scan finished",
		zap.Int("files", res.FilesScanned),
		zap.Int("todos", len(res.Todos)),
		zap.Int("endpoints", len(res.Endpoints)))
	return res
}

// ScanSource scans a single in-memory source file.
func (s *Scanner) ScanSource(path, language string, data []byte) *Result {
	res := newResult()
	if err := s.scanSource(res, path, language, data); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("stats partial for %s: %v", path, err))
	}
	s.finish(res)
	return res
}

func (s *Scanner) scanSource(res *Result, path, language string, data []byte) error {
	res.FilesScanned++

	patterns := s.patterns[language]
	var counts Counts
	if len(patterns) > 0 {
		counts = res.ByLanguage[language]
		if counts == nil {
			counts = make(Counts, len(patterns))
			for _, p := range patterns {
				counts[p.name] = 0
			}
			res.ByLanguage[language] = counts
		}
	}

	var endpoints *endpointParser
	if language == "python" {
		endpoints = newEndpointParser(path)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLen)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()

		for _, p := range patterns {
			if p.re.MatchString(line) {
				counts[p.name]++
				res.Totals[p.name]++
			}
		}

		if s.todo != nil {
			matches := s.todo.FindAllStringSubmatchIndex(line, -1)
			for i, m := range matches {
				end := len(line)
				if i+1 < len(matches) {
					end = matches[i+1][0]
				}
				marker := line[m[2]:m[3]]
				text := strings.TrimRight(line[m[1]:end], " \t,;")
				res.TodoCounts[marker]++
				res.Todos = append(res.Todos, TodoItem{
					Marker: marker,
					Path:   path,
					Line:   lineNo,
					Text:   sanitize.Line(text, maxTodoText),
				})
			}
		}

		if endpoints != nil {
			endpoints.line(lineNo, line)
		}
	}

	if endpoints != nil {
		res.Endpoints = append(res.Endpoints, endpoints.finish()...)
	}
	return sc.Err()
}

func (s *Scanner) finish(res *Result) {
	sort.SliceStable(res.Todos, func(i, j int) bool {
		if res.Todos[i].Path != res.Todos[j].Path {
			return res.Todos[i].Path < res.Todos[j].Path
		}
		return res.Todos[i].Line < res.Todos[j].Line
	})
	sort.SliceStable(res.Endpoints, func(i, j int) bool {
		a, b := res.Endpoints[i], res.Endpoints[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Line < b.Line
	})
}

// TodoTotal is the number of marker occurrences across all files.
func (r *Result) TodoTotal() int {
	return len(r.Todos)
}
