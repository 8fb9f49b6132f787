package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used when neither the environment nor ctxbundle.yaml provide a value.
var (
	DefaultIgnoreDirs = []string{
		".git", ".hg", ".svn", "node_modules", "vendor", "dist", "build",
		"__pycache__", ".venv", "venv", ".mypy_cache", ".pytest_cache",
		".ruff_cache", ".tox", ".next", "target", "tmp", ".cache", ".idea", ".vscode",
	}
	DefaultCredentialKeys = []string{
		"OPENAI_API_KEY",
		"GOOGLE_APPLICATION_CREDENTIALS",
		"GCP_PROJECT_ID",
		"VERTEX_AI_LOCATION",
		"API_KEY",
		"REDIS_URL",
		"DATABASE_URL",
	}
	DefaultExpectedFiles = []string{
		"README.md",
		"requirements.txt",
		"Dockerfile",
		".env.example",
		"app/main.py",
	}
	DefaultTodoMarkers = []string{"TODO", "FIXME", "HACK", "XXX"}
)

// Config holds all configuration for a ctxbundle run.
type Config struct {
	// Repository layout
	RepoRoot     string
	OutputDir    string
	TemplatesDir string
	ProjectName  string

	// Scan limits
	MaxFiles     int
	MaxFileBytes int64

	// Git settings
	GitLogLimit int
	GitBaseRef  string

	// Server settings
	Port int

	// GitHub settings (optional remote summary)
	GitHubRepository string
	GitHubToken      string
	GitHubAppID      string
	GitHubPrivateKey string
	// GitHubWebhookSecret enables POST /webhook when set.
	GitHubWebhookSecret string

	WatchDebounce time.Duration
	Verbose       bool

	// Settings from ctxbundle.yaml
	ConfigFile      string
	IgnoreDirs      []string
	CredentialKeys  []string
	ExpectedFiles   []string
	TodoMarkers     []string
	Patterns        map[string]map[string]string
	DisabledReports []string
}

// Overrides carries values supplied on the command line. Empty fields are ignored.
type Overrides struct {
	RepoRoot  string
	OutputDir string
	Verbose   bool
}

// fileConfig mirrors the optional ctxbundle.yaml file.
type fileConfig struct {
	IgnoreDirs      []string                     `yaml:"ignore_dirs"`
	CredentialKeys  []string                     `yaml:"credential_keys"`
	ExpectedFiles   []string                     `yaml:"expected_files"`
	TodoMarkers     []string                     `yaml:"todo_markers"`
	Patterns        map[string]map[string]string `yaml:"patterns"`
	DisabledReports []string                     `yaml:"disabled_reports"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return LoadWith(Overrides{})
}

// LoadWith loads configuration from the environment and ctxbundle.yaml,
// then applies command line overrides.
func LoadWith(o Overrides) (*Config, error) {
	cfg := &Config{
		RepoRoot:            getEnv("CTXBUNDLE_REPO_ROOT", "."),
		OutputDir:           getEnv("CTXBUNDLE_OUTPUT_DIR", filepath.Join("docs", "context")),
		TemplatesDir:        getEnv("CTXBUNDLE_TEMPLATES_DIR", filepath.Join("templates", "context")),
		ProjectName:         os.Getenv("CTXBUNDLE_PROJECT_NAME"),
		MaxFiles:            getEnvInt("CTXBUNDLE_MAX_FILES", 2000),
		MaxFileBytes:        int64(getEnvInt("CTXBUNDLE_MAX_FILE_BYTES", 1<<20)),
		GitLogLimit:         getEnvInt("CTXBUNDLE_GIT_LOG_LIMIT", 20),
		GitBaseRef:          os.Getenv("CTXBUNDLE_GIT_BASE_REF"),
		Port:                getEnvInt("PORT", 8080),
		GitHubRepository:    strings.TrimSpace(os.Getenv("GITHUB_REPOSITORY")),
		GitHubToken:         strings.TrimSpace(os.Getenv("GITHUB_TOKEN")),
		GitHubAppID:         strings.TrimSpace(os.Getenv("GITHUB_APP_ID")),
		GitHubPrivateKey:    normalizePrivateKey(os.Getenv("GITHUB_PRIVATE_KEY")),
		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		WatchDebounce:       time.Duration(getEnvInt("CTXBUNDLE_WATCH_DEBOUNCE_MS", 750)) * time.Millisecond,
		Verbose:             getEnvBool("CTXBUNDLE_VERBOSE", false),
		IgnoreDirs:          append([]string(nil), DefaultIgnoreDirs...),
		CredentialKeys:      append([]string(nil), DefaultCredentialKeys...),
		ExpectedFiles:       append([]string(nil), DefaultExpectedFiles...),
		TodoMarkers:         append([]string(nil), DefaultTodoMarkers...),
	}

	if o.RepoRoot != "" {
		cfg.RepoRoot = o.RepoRoot
	}
	if o.OutputDir != "" {
		cfg.OutputDir = o.OutputDir
	}
	if o.Verbose {
		cfg.Verbose = true
	}

	root, err := filepath.Abs(cfg.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	cfg.RepoRoot = root
	cfg.OutputDir = resolveUnder(root, cfg.OutputDir)
	cfg.TemplatesDir = resolveUnder(root, cfg.TemplatesDir)
	if cfg.ProjectName == "" {
		cfg.ProjectName = filepath.Base(root)
	}

	if err := cfg.loadFile(os.Getenv("CTXBUNDLE_CONFIG")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GitHubConfigured reports whether the optional GitHub summary can run.
func (c *Config) GitHubConfigured() bool {
	if c.GitHubRepository == "" {
		return false
	}
	return c.GitHubToken != "" || (c.GitHubAppID != "" && c.GitHubPrivateKey != "")
}

// GitHubOwnerRepo splits GITHUB_REPOSITORY into owner and name.
func (c *Config) GitHubOwnerRepo() (string, string) {
	owner, name, _ := strings.Cut(c.GitHubRepository, "/")
	return owner, name
}

// ReportDisabled reports whether the named report was turned off in ctxbundle.yaml.
func (c *Config) ReportDisabled(name string) bool {
	for _, d := range c.DisabledReports {
		if strings.EqualFold(strings.TrimSpace(d), name) {
			return true
		}
	}
	return false
}

func (c *Config) loadFile(explicit string) error {
	path := explicit
	if path == "" {
		path = filepath.Join(c.RepoRoot, "ctxbundle.yaml")
	} else {
		path = resolveUnder(c.RepoRoot, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && explicit == "" {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.ConfigFile = path
	c.IgnoreDirs = appendUnique(c.IgnoreDirs, fc.IgnoreDirs...)
	if len(fc.CredentialKeys) > 0 {
		c.CredentialKeys = fc.CredentialKeys
	}
	if len(fc.ExpectedFiles) > 0 {
		c.ExpectedFiles = fc.ExpectedFiles
	}
	if len(fc.TodoMarkers) > 0 {
		c.TodoMarkers = fc.TodoMarkers
	}
	c.Patterns = fc.Patterns
	c.DisabledReports = fc.DisabledReports
	return nil
}

// validate checks that the configuration can drive a run
func (c *Config) validate() error {
	if c.MaxFiles <= 0 {
		return fmt.Errorf("CTXBUNDLE_MAX_FILES must be greater than 0")
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("CTXBUNDLE_MAX_FILE_BYTES must be greater than 0")
	}
	if c.GitLogLimit <= 0 {
		return fmt.Errorf("CTXBUNDLE_GIT_LOG_LIMIT must be greater than 0")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = 750 * time.Millisecond
	}
	if c.GitHubRepository != "" {
		owner, name, ok := strings.Cut(c.GitHubRepository, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("invalid GITHUB_REPOSITORY: %s (expected owner/repo)", c.GitHubRepository)
		}
	}
	if c.GitHubAppID != "" {
		if _, err := strconv.ParseInt(c.GitHubAppID, 10, 64); err != nil {
			return fmt.Errorf("GITHUB_APP_ID must be numeric: %w", err)
		}
	}
	for lang, patterns := range c.Patterns {
		for name, expr := range patterns {
			if strings.TrimSpace(expr) == "" {
				return fmt.Errorf("pattern %s/%s is empty", lang, name)
			}
		}
	}
	return nil
}

func normalizePrivateKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, "\"") {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'") {
		trimmed = trimmed[1 : len(trimmed)-1]
	}

	trimmed = strings.ReplaceAll(trimmed, "\r\n", "\n")
	trimmed = strings.ReplaceAll(trimmed, "\r", "\n")
	if strings.Contains(trimmed, "\\n") {
		trimmed = strings.ReplaceAll(trimmed, "\\r", "")
		trimmed = strings.ReplaceAll(trimmed, "\\n", "\n")
	}

	return trimmed
}

func resolveUnder(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func appendUnique(base []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, b := range base {
		seen[b] = struct{}{}
	}
	for _, e := range extra {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		base = append(base, e)
	}
	return base
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
