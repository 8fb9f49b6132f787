// Package report holds the report model, markdown helpers and the writer that
// persists a bundle atomically together with its manifest.
package report

import (
	"fmt"
	"strings"
)

// Report is one generated file of the bundle.
type Report struct {
	Name     string
	Title    string
	File     string // relative markdown file name, e.g. "file_index.md"
	Markdown string
	JSON     any // optional payload written next to the markdown
	Warnings []string
}

// JSONFile is the name of the JSON companion, or "" when there is none.
func (r Report) JSONFile() string {
	if r.JSON == nil {
		return ""
	}
	return strings.TrimSuffix(r.File, ".md") + ".json"
}

// Doc builds a markdown document.
type Doc struct {
	sb strings.Builder
}

// H1 writes a top level heading.
func (d *Doc) H1(text string) *Doc {
	return d.heading(1, text)
}

// H2 writes a section heading.
func (d *Doc) H2(text string) *Doc {
	return d.heading(2, text)
}

// H3 writes a subsection heading.
func (d *Doc) H3(text string) *Doc {
	return d.heading(3, text)
}

func (d *Doc) heading(level int, text string) *Doc {
	d.sb.WriteString(strings.Repeat("#", level))
	d.sb.WriteByte(' ')
	d.sb.WriteString(text)
	d.sb.WriteString("\n\n")
	return d
}

// Para writes a paragraph.
func (d *Doc) Para(format string, args ...any) *Doc {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	d.sb.WriteString(format)
	d.sb.WriteString("\n\n")
	return d
}

// List writes a bullet list. Nothing is written for an empty list.
func (d *Doc) List(items []string) *Doc {
	if len(items) == 0 {
		return d
	}
	for _, it := range items {
		d.sb.WriteString("- ")
		d.sb.WriteString(it)
		d.sb.WriteByte('\n')
	}
	d.sb.WriteByte('\n')
	return d
}

// Table writes a pipe table. Cells are escaped.
func (d *Doc) Table(headers []string, rows [][]string) *Doc {
	d.sb.WriteString(Table(headers, rows))
	d.sb.WriteByte('\n')
	return d
}

// Warnings writes a "Warnings" section when there are any.
func (d *Doc) Warnings(warnings []string) *Doc {
	if len(warnings) == 0 {
		return d
	}
	d.H2("Warnings")
	escaped := make([]string, len(warnings))
	for i, w := range warnings {
		escaped[i] = EscapeCell(w)
	}
	return d.List(escaped)
}

// String returns the document with a single trailing newline.
func (d *Doc) String() string {
	return strings.TrimRight(d.sb.String(), "\n") + "\n"
}

// Table renders a markdown pipe table.
func Table(headers []string, rows [][]string) string {
	var sb strings.Builder
	sb.WriteString("| ")
	for i, h := range headers {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(EscapeCell(h))
	}
	sb.WriteString(" |\n|")
	for range headers {
		sb.WriteString("---|")
	}
	sb.WriteByte('\n')
	for _, row := range rows {
		sb.WriteString("| ")
		for i := range headers {
			if i > 0 {
				sb.WriteString(" | ")
			}
			if i < len(row) {
				sb.WriteString(EscapeCell(row[i]))
			}
		}
		sb.WriteString(" |\n")
	}
	return sb.String()
}

// EscapeCell makes s safe inside a table cell: pipes are escaped and line
// breaks collapsed.
func EscapeCell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, `\|`, `|`)
	return strings.ReplaceAll(s, "|", `\|`)
}

// Code wraps s in backticks.
func Code(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}
