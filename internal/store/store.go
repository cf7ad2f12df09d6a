// Package store archives finished research sessions. The archive is a
// write-once record per session; artifacts themselves live on the
// filesystem and the archive keeps the summary.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

// SessionArchive persists session summaries after finalization.
type SessionArchive interface {
	Save(ctx context.Context, summary tracker.SessionSummary) error
	Get(ctx context.Context, sessionID string) (tracker.SessionSummary, error)
	List(ctx context.Context, limit int) ([]tracker.SessionSummary, error)
	Close() error
}

// ErrNotFound is returned when a session id has no archived record.
var ErrNotFound = fmt.Errorf("session not found")

// MemoryArchive keeps summaries in process memory. It is the default
// backend and the one tests use.
type MemoryArchive struct {
	mu       sync.RWMutex
	sessions map[string]tracker.SessionSummary
}

// NewMemoryArchive builds an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{sessions: make(map[string]tracker.SessionSummary)}
}

func (m *MemoryArchive) Save(_ context.Context, summary tracker.SessionSummary) error {
	if summary.SessionID == "" {
		return fmt.Errorf("save session: empty session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[summary.SessionID] = summary
	return nil
}

func (m *MemoryArchive) Get(_ context.Context, sessionID string) (tracker.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary, ok := m.sessions[sessionID]
	if !ok {
		return tracker.SessionSummary{}, ErrNotFound
	}
	return summary, nil
}

// List returns summaries newest first.
func (m *MemoryArchive) List(_ context.Context, limit int) ([]tracker.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tracker.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryArchive) Close() error { return nil }
