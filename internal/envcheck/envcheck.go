// Package envcheck reports which credentials are configured and which
// expected project files exist. Values are never captured.
package envcheck

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

const (
	StatusSet    = "SET"
	StatusNotSet = "NOT_SET"

	FilePresent = "present"
	FileMissing = "missing file"
)

// Credential is the presence of one environment variable.
type Credential struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Source string `json:"source"` // "config" or ".env.example"
}

// File is the presence of one expected project file.
type File struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// Result is the environment snapshot.
type Result struct {
	Credentials []Credential `json:"credentials"`
	Files       []File       `json:"files"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(string) (string, bool)

// Check inspects credential keys (plus the keys declared in .env.example) and
// expected files below root.
func Check(root string, keys, files []string, lookup LookupFunc) *Result {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	res := &Result{}

	seen := make(map[string]struct{})
	add := func(name, source string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		status := StatusNotSet
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			status = StatusSet
		}
		res.Credentials = append(res.Credentials, Credential{Name: name, Status: status, Source: source})
	}

	for _, k := range keys {
		add(k, "config")
	}

	exampleKeys, err := ExampleKeys(filepath.Join(root, ".env.example"))
	if err != nil {
		res.Warnings = append(res.Warnings, err.Error())
	}
	for _, k := range exampleKeys {
		add(k, ".env.example")
	}

	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		status := FilePresent
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(f))); err != nil {
			status = FileMissing
		}
		res.Files = append(res.Files, File{Path: f, Status: status})
	}
	return res
}

// ExampleKeys returns the sorted variable names declared in an .env.example
// file. A missing file yields no keys and no error.
func ExampleKeys(path string) ([]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// NotSet returns the names of credentials that are not configured.
func (r *Result) NotSet() []string {
	var out []string
	for _, c := range r.Credentials {
		if c.Status == StatusNotSet {
			out = append(out, c.Name)
		}
	}
	return out
}

// MissingFiles returns the expected files that do not exist.
func (r *Result) MissingFiles() []string {
	var out []string
	for _, f := range r.Files {
		if f.Status == FileMissing {
			out = append(out, f.Path)
		}
	}
	return out
}
