package scan

import (
	"path/filepath"
	"strings"
)

var languageByExt = map[string]string{
	".py":    "python",
	".pyi":   "python",
	".go":    "go",
	".js":    "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".md":    "markdown",
	".rst":   "restructuredtext",
	".txt":   "text",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".ini":   "ini",
	".cfg":   "ini",
	".html":  "html",
	".css":   "css",
	".scss":  "css",
	".proto": "protobuf",
	".tf":    "terraform",
}

var languageByName = map[string]string{
	"dockerfile":       "docker",
	"makefile":         "make",
	"requirements.txt": "pip",
	"go.mod":           "go-module",
	"go.sum":           "go-module",
	"pipfile":          "pip",
}

// LanguageFor maps a file name to a coarse language label.
func LanguageFor(name string) string {
	base := strings.ToLower(filepath.Base(name))
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	if strings.HasPrefix(base, "dockerfile") {
		return "docker"
	}
	if lang, ok := languageByExt[filepath.Ext(base)]; ok {
		return lang
	}
	return "other"
}
