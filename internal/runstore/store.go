// Package runstore keeps the in-memory history of bundle runs served by the
// HTTP and MCP surfaces.
package runstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// DefaultCapacity is how many runs are kept before the oldest are dropped.
const DefaultCapacity = 100

type Run struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"` // cli, http, mcp, watch
	Status     RunStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Reports    []string   `json:"reports,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	Error      string     `json:"error,omitempty"`
	Logs       []LogEntry `json:"logs,omitempty"`
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info, warn, error
	Message   string    `json:"message"`
}

type Store struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	capacity int
	now      func() time.Time
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		runs:     make(map[string]*Run),
		capacity: capacity,
		now:      time.Now,
	}
}

// Create registers a pending run and returns a copy of it.
func (s *Store) Create(trigger string) Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	s.runs[run.ID] = run
	s.evictLocked()
	return cloneRun(run)
}

func (s *Store) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return cloneRun(run), true
}

// List returns runs newest first.
func (s *Store) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sortNewestFirst(runs)
	return runs
}

// Latest returns the most recently created run.
func (s *Store) Latest() (Run, bool) {
	runs := s.List()
	if len(runs) == 0 {
		return Run{}, false
	}
	return runs[0], true
}

func (s *Store) Start(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		now := s.now()
		run.Status = StatusRunning
		run.StartedAt = &now
	}
}

// Complete marks the run as finished with the written reports.
func (s *Store) Complete(id string, reports, warnings []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		now := s.now()
		run.Status = StatusCompleted
		run.FinishedAt = &now
		run.Reports = append([]string(nil), reports...)
		run.Warnings = append([]string(nil), warnings...)
	}
}

func (s *Store) Fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		now := s.now()
		run.Status = StatusFailed
		run.FinishedAt = &now
		if err != nil {
			run.Error = err.Error()
		}
	}
}

func (s *Store) AddLog(id string, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Logs = append(run.Logs, LogEntry{
			Timestamp: s.now(),
			Level:     level,
			Message:   message,
		})
	}
}

// evictLocked drops the oldest finished runs beyond capacity.
func (s *Store) evictLocked() {
	if len(s.runs) <= s.capacity {
		return
	}
	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	for _, r := range runs {
		if len(s.runs) <= s.capacity {
			return
		}
		if r.Status == StatusPending || r.Status == StatusRunning {
			continue
		}
		delete(s.runs, r.ID)
	}
}

func sortNewestFirst(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}

func cloneRun(r *Run) Run {
	c := *r
	c.Reports = append([]string(nil), r.Reports...)
	c.Warnings = append([]string(nil), r.Warnings...)
	c.Logs = append([]LogEntry(nil), r.Logs...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
