package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

var errMissingTask = errors.New("task missing or owned by another user")

// MemoryStore is an in-process Backend. It keeps every task and user in maps
// guarded by a single RWMutex and is the default for local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
	users map[string]domain.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]domain.Task),
		users: make(map[string]domain.User),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CreateTask(_ context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return domain.Task{}, errors.New("task already exists")
	}
	m.tasks[t.ID] = t
	return t, nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, owner string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	domain.SortByOrder(out)
	return out, nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	patch.Apply(&t)
	m.tasks[id] = t
	return t, nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

// BulkUpdateOrder applies every entry that names a task of owner. Entries for
// unknown or foreign ids are reported in a *domain.BulkUpdateError.
func (m *MemoryStore) BulkUpdateOrder(_ context.Context, owner string, updates []domain.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed []string
	for _, u := range updates {
		t, ok := m.tasks[u.ID]
		if !ok || t.Owner != owner {
			failed = append(failed, u.ID)
			continue
		}
		t.Order = u.Order
		t.Category = u.Category
		m.tasks[u.ID] = t
	}
	if len(failed) > 0 {
		return &domain.BulkUpdateError{Failed: failed, Total: len(updates), Cause: errMissingTask}
	}
	return nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UID] = u
	return u, nil
}

func (m *MemoryStore) Counts(context.Context) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks), len(m.users), nil
}

// User returns a stored profile.
func (m *MemoryStore) User(uid string) (domain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[uid]
	return u, ok
}
