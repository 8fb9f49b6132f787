package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"

	gh "github.com/google/go-github/v66/github"
)

// MockServer is a local GitHub REST API for owner/repo serving the endpoints
// the summary client uses:
//   - GET  /repos/owner/repo
//   - GET  /repos/owner/repo/issues (one issue, one pull request entry)
//   - GET  /repos/owner/repo/pulls
//   - GET  /repos/owner/repo/installation -> {"id": 42}
//   - POST /app/installations/42/access_tokens -> {"token": "ghs_installation"}
type MockServer struct {
	Server *httptest.Server

	// FailIssues makes the issues endpoint answer 502 this many times first.
	FailIssues atomic.Int32
	// Requests counts every request served.
	Requests atomic.Int32
	// LastAuth is the Authorization header of the most recent request.
	LastAuth atomic.Value
}

// NewMockServer starts the mock. Callers must Close it.
func NewMockServer() *MockServer {
	m := &MockServer{}
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/repos/owner/repo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"full_name":         "owner/repo",
			"description":       "AI Content Factory\u200b service",
			"default_branch":    "main",
			"stargazers_count":  12,
			"forks_count":       3,
			"open_issues_count": 2,
			"html_url":          "https://github.com/owner/repo",
			"pushed_at":         "2026-10-01T12:00:00Z",
		})
	})

	mux.HandleFunc("/repos/owner/repo/issues", func(w http.ResponseWriter, r *http.Request) {
		if m.FailIssues.Load() > 0 {
			m.FailIssues.Add(-1)
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{
				"number":     7,
				"title":      "Outline endpoint returns 500 for long topics",
				"user":       map[string]string{"login": "ada"},
				"labels":     []map[string]string{{"name": "bug"}},
				"updated_at": "2026-10-02T08:00:00Z",
				"html_url":   "https://github.com/owner/repo/issues/7",
			},
			{
				"number":       8,
				"title":        "Add caching layer",
				"user":         map[string]string{"login": "lin"},
				"updated_at":   "2026-10-02T09:00:00Z",
				"html_url":     "https://github.com/owner/repo/pull/8",
				"pull_request": map[string]string{"url": "https://api.github.com/repos/owner/repo/pulls/8"},
			},
		})
	})

	mux.HandleFunc("/repos/owner/repo/pulls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{
				"number":     8,
				"title":      "Add caching layer",
				"user":       map[string]string{"login": "lin"},
				"draft":      true,
				"updated_at": "2026-10-02T09:00:00Z",
				"html_url":   "https://github.com/owner/repo/pull/8",
			},
		})
	})

	mux.HandleFunc("/repos/owner/repo/installation", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 42})
	})

	mux.HandleFunc("/app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"token":      "ghs_installation",
			"expires_at": "2026-10-16T13:00:00Z",
		})
	})

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Requests.Add(1)
		m.LastAuth.Store(r.Header.Get("Authorization"))
		mux.ServeHTTP(w, r)
	}))
	return m
}

// Client returns a go-github client pointed at the mock and authenticated
// with token.
func (m *MockServer) Client(token string) *gh.Client {
	client := gh.NewClient(m.Server.Client())
	if token != "" {
		client = client.WithAuthToken(token)
	}
	base, _ := url.Parse(m.Server.URL + "/")
	client.BaseURL = base
	client.UploadURL = base
	return client
}

// Close shuts the server down.
func (m *MockServer) Close() {
	m.Server.Close()
}
