// Package reportstore archives run records by execution id.
package reportstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andrej220/autopilot/pkg/tasks"
)

var ErrNotFound = errors.New("run record not found")

type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// RunRecord is one run of a configuration document. Status is failed when
// the document could not be loaded or at least one task failed.
type RunRecord struct {
	ID         string          `json:"exuid" bson:"_id"`
	Status     RunStatus       `json:"status" bson:"status"`
	Reports    []*tasks.Report `json:"reports,omitempty" bson:"reports,omitempty"`
	Text       string          `json:"text,omitempty" bson:"text,omitempty"`
	Error      string          `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (r RunRecord) Finished() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

type Store interface {
	Save(ctx context.Context, rec RunRecord) error
	Load(ctx context.Context, id string) (RunRecord, error)
}

// Memory keeps records in process memory.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]RunRecord)}
}

func (m *Memory) Save(_ context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.New("run record has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[rec.ID] = rec
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[id]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return rec, nil
}
