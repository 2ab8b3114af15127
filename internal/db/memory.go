package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

// MemoryStore is an in-process Store with the same contract as SQLStore.
// Used by tests and the dry-run paths.
type MemoryStore struct {
	mu      sync.Mutex
	tasks   map[string]*task.Task
	events  map[string][]*events.Event
	lastSeq map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*task.Task),
		events:  make(map[string][]*events.Event),
		lastSeq: make(map[string]int64),
	}
}

func (s *MemoryStore) CreateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.TaskID]; exists {
		return &duplicateTaskError{taskID: t.TaskID}
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	s.tasks[t.TaskID] = t.Clone()
	return nil
}

type duplicateTaskError struct {
	taskID string
}

func (e *duplicateTaskError) Error() string {
	return "task already exists: " + e.taskID
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, limit int) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		list = append(list, t.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].TaskID > list[j].TaskID
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// applyUpdate mutates a stored task under the lock.
func applyUpdate(t *task.Task, status task.Status, opts []UpdateOption) {
	params := updateParams{}
	for _, opt := range opts {
		opt(&params)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	if params.reason != nil {
		t.LastGateReason = *params.reason
	}
	if params.roundsCompleted != nil {
		t.RoundsCompleted = *params.roundsCompleted
	}
	if params.cancelRequested != nil {
		t.CancelRequested = *params.cancelRequested
	}
}

func (s *MemoryStore) UpdateTaskStatus(_ context.Context, taskID string, status task.Status, opts ...UpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	applyUpdate(t, status, opts)
	return nil
}

func (s *MemoryStore) UpdateTaskStatusIf(_ context.Context, taskID string, expect, next task.Status, opts ...UpdateOption) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	if t.Status != expect {
		return nil, nil
	}
	applyUpdate(t, next, opts)
	return t.Clone(), nil
}

func (s *MemoryStore) SetCancelRequested(_ context.Context, taskID string, requested bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.CancelRequested = requested
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) IsCancelRequested(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return false, ErrNotFound
	}
	return t.CancelRequested, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, taskID string, eventType events.EventType, round *int, payload map[string]any) (*events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, ErrNotFound
	}

	seq := s.lastSeq[taskID] + 1
	s.lastSeq[taskID] = seq

	evt := events.NewEvent(taskID, eventType, clonePayload(payload), round)
	evt.Seq = seq
	s.events[taskID] = append(s.events[taskID], &evt)

	out := evt
	out.Payload = clonePayload(evt.Payload)
	return &out, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, taskID string, sinceSeq int64, limit int) ([]*events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*events.Event
	for _, evt := range s.events[taskID] {
		if evt.Seq <= sinceSeq {
			continue
		}
		out := *evt
		out.Payload = clonePayload(evt.Payload)
		list = append(list, &out)
		if limit > 0 && len(list) >= limit {
			break
		}
	}
	return list, nil
}

func (s *MemoryStore) DeleteTasks(_ context.Context, taskIDs ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, taskID := range taskIDs {
		if _, ok := s.tasks[taskID]; !ok {
			continue
		}
		delete(s.tasks, taskID)
		delete(s.events, taskID)
		delete(s.lastSeq, taskID)
		deleted++
	}
	return deleted, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func clonePayload(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
