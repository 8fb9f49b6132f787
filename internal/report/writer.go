package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// ManifestFile is the name of the bundle manifest inside the output directory.
const ManifestFile = "manifest.json"

var (
	// ErrReportNotFound is returned when a report is not listed in the manifest.
	ErrReportNotFound = errors.New("report not found")
	// ErrNoBundle is returned when the output directory has no manifest yet.
	ErrNoBundle = errors.New("no bundle generated yet")
)

// Entry describes one written report.
type Entry struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	File     string   `json:"file"`
	JSONFile string   `json:"json_file,omitempty"`
	Bytes    int      `json:"bytes"`
	SHA256   string   `json:"sha256"`
	Warnings []string `json:"warnings,omitempty"`
}

// Manifest indexes a generated bundle.
type Manifest struct {
	GeneratedAt time.Time `json:"generated_at"`
	ProjectName string    `json:"project_name"`
	RepoRoot    string    `json:"repo_root"`
	RunID       string    `json:"run_id"`
	Reports     []Entry   `json:"reports"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// Find returns the entry whose name or file matches name.
func (m *Manifest) Find(name string) (Entry, bool) {
	name = strings.TrimSpace(name)
	for _, e := range m.Reports {
		if e.Name == name || e.File == name || (e.JSONFile != "" && e.JSONFile == name) {
			return e, true
		}
	}
	return Entry{}, false
}

// Writer persists reports into a directory.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates a writer for dir.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{dir: dir, logger: logger}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write stores every report and then the manifest. Files listed by the
// previous manifest but not produced this time are removed.
func (w *Writer) Write(reports []Report, m Manifest) (*Manifest, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	previous, _ := ReadManifest(w.dir)

	written := make(map[string]struct{}, len(reports)*2)
	m.Reports = m.Reports[:0]
	for _, r := range reports {
		if r.File == "" || r.File != filepath.Base(r.File) {
			return nil, fmt.Errorf("report %s: invalid file name %q", r.Name, r.File)
		}
		body := []byte(strings.ToValidUTF8(r.Markdown, "\uFFFD"))
		if err := w.writeFile(r.File, body); err != nil {
			return nil, err
		}
		written[r.File] = struct{}{}
		sum := sha256.Sum256(body)
		entry := Entry{
			Name:     r.Name,
			Title:    r.Title,
			File:     r.File,
			Bytes:    len(body),
			SHA256:   hex.EncodeToString(sum[:]),
			Warnings: r.Warnings,
		}

		if jf := r.JSONFile(); jf != "" {
			data, err := json.MarshalIndent(r.JSON, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", jf, err)
			}
			if err := w.writeFile(jf, append(data, '\n')); err != nil {
				return nil, err
			}
			written[jf] = struct{}{}
			entry.JSONFile = jf
		}
		m.Reports = append(m.Reports, entry)
	}

	if previous != nil {
		for _, old := range previous.Reports {
			for _, f := range []string{old.File, old.JSONFile} {
				if f == "" || f != filepath.Base(f) {
					continue
				}
				if _, ok := written[f]; ok {
					continue
				}
				if err := os.Remove(filepath.Join(w.dir, f)); err != nil && !errors.Is(err, os.ErrNotExist) {
					m.Warnings = append(m.Warnings, fmt.Sprintf("could not remove stale %s: %v", f, err))
				}
			}
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := w.writeFile(ManifestFile, append(data, '\n')); err != nil {
		return nil, err
	}

	w.logger.Info("bundle written",
		zap.String("dir", w.dir),
		zap.Int("reports", len(m.Reports)),
		zap.Int("warnings", len(m.Warnings)))
	return &m, nil
}

func (w *Writer) writeFile(name string, data []byte) error {
	path := filepath.Join(w.dir, name)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	w.logger.Debug("wrote report file", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// ReadManifest loads the manifest of dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoBundle
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// ReadReport returns a report's content by name or file name. Only files
// listed in the manifest can be read.
func ReadReport(dir, name string) (Entry, []byte, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return Entry{}, nil, err
	}
	entry, ok := m.Find(name)
	if !ok {
		return Entry{}, nil, fmt.Errorf("%w: %s", ErrReportNotFound, name)
	}
	file := entry.File
	if name == entry.JSONFile {
		file = entry.JSONFile
	}
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, nil, fmt.Errorf("%w: %s", ErrReportNotFound, name)
		}
		return Entry{}, nil, fmt.Errorf("read %s: %w", file, err)
	}
	return entry, data, nil
}

// Verify checks that every markdown file matches the manifest hash.
func (m *Manifest) Verify(dir string) error {
	for _, e := range m.Reports {
		data, err := os.ReadFile(filepath.Join(dir, e.File))
		if err != nil {
			return fmt.Errorf("verify %s: %w", e.File, err)
		}
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != e.SHA256 {
			return fmt.Errorf("verify %s: sha256 %s does not match manifest %s", e.File, got, e.SHA256)
		}
	}
	return nil
}
