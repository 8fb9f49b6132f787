// Package scan walks a repository tree and builds the file index that every
// report is derived from.
package scan

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// binarySniffLen is how much of a file is inspected for NUL bytes.
const binarySniffLen = 8 << 10

// FileEntry describes a single indexed file.
type FileEntry struct {
	Path     string `json:"path"`
	Ext      string `json:"ext"`
	Language string `json:"language"`
	Size     int64  `json:"size"`
	Lines    int    `json:"lines"`
}

// SkipCounts records why files were left out of the index.
type SkipCounts struct {
	Hidden   int `json:"hidden"`
	TooLarge int `json:"too_large"`
	Binary   int `json:"binary"`
	Ignored  int `json:"ignored_dirs"`
	Errors   int `json:"errors"`
}

// Index is the result of a repository walk.
type Index struct {
	Root        string         `json:"root"`
	Files       []FileEntry    `json:"files"`
	TotalBytes  int64          `json:"total_bytes"`
	TotalLines  int            `json:"total_lines"`
	ByExtension map[string]int `json:"by_extension"`
	ByLanguage  map[string]int `json:"by_language"`
	Skipped     SkipCounts     `json:"skipped"`
	Truncated   bool           `json:"truncated"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// Options controls which files end up in the index.
type Options struct {
	IgnoreDirs   []string
	ExcludePaths []string // absolute paths skipped entirely (e.g. the output directory)
	MaxFiles     int
	MaxFileBytes int64
}

// Walk enumerates the files below root. Unreadable entries are recorded as
// warnings; only a missing or unreadable root is an error.
func Walk(root string, opts Options) (*Index, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat repo root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo root %s is not a directory", root)
	}

	ignore := make(map[string]struct{}, len(opts.IgnoreDirs))
	for _, d := range opts.IgnoreDirs {
		ignore[d] = struct{}{}
	}
	excluded := make(map[string]struct{}, len(opts.ExcludePaths))
	for _, p := range opts.ExcludePaths {
		excluded[filepath.Clean(p)] = struct{}{}
	}

	idx := &Index{
		Root:        root,
		ByExtension: make(map[string]int),
		ByLanguage:  make(map[string]int),
	}

	var files []FileEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			idx.Skipped.Errors++
			idx.Warnings = append(idx.Warnings, fmt.Sprintf("skipped %s: %v", relOrSelf(root, path), walkErr))
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		if _, ok := excluded[filepath.Clean(path)]; ok {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, ok := ignore[name]; ok {
				idx.Skipped.Ignored++
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		// Hidden files are skipped, hidden directories such as .github are not.
		if strings.HasPrefix(name, ".") {
			idx.Skipped.Hidden++
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			idx.Skipped.Errors++
			idx.Warnings = append(idx.Warnings, fmt.Sprintf("skipped %s: %v", relOrSelf(root, path), err))
			return nil
		}
		if opts.MaxFileBytes > 0 && fi.Size() > opts.MaxFileBytes {
			idx.Skipped.TooLarge++
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			idx.Skipped.Errors++
			idx.Warnings = append(idx.Warnings, fmt.Sprintf("skipped %s: %v", relOrSelf(root, path), err))
			return nil
		}
		if IsBinary(data) {
			idx.Skipped.Binary++
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(name))
		files = append(files, FileEntry{
			Path:     filepath.ToSlash(rel),
			Ext:      ext,
			Language: LanguageFor(name),
			Size:     fi.Size(),
			Lines:    CountLines(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	if opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
		files = files[:opts.MaxFiles]
		idx.Truncated = true
	}

	for _, f := range files {
		idx.TotalBytes += f.Size
		idx.TotalLines += f.Lines
		idx.ByExtension[ExtensionKey(f.Ext)]++
		idx.ByLanguage[f.Language]++
	}
	idx.Files = files
	return idx, nil
}

// IsBinary reports whether data looks like a binary file.
func IsBinary(data []byte) bool {
	n := len(data)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}

// CountLines counts newline-terminated lines plus a trailing partial line.
func CountLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// ExtensionKey is the bucket name used for an extension; files without one
// are grouped under "(none)".
func ExtensionKey(ext string) string {
	if ext == "" {
		return "(none)"
	}
	return ext
}

// Paths returns the relative paths of the indexed files.
func (idx *Index) Paths() []string {
	out := make([]string, len(idx.Files))
	for i, f := range idx.Files {
		out[i] = f.Path
	}
	return out
}

func relOrSelf(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
