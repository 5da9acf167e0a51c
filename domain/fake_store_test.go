package domain

import (
	"context"
	"errors"
	"sync"
)

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]Task

	creates int
	updates int
	bulk    [][]OrderUpdate
	listErr error
	// failIDs makes BulkUpdateOrder skip those ids and report a BulkUpdateError.
	failIDs map[string]bool
	bulkErr error
}

func newFakeStore(tasks ...Task) *fakeStore {
	f := &fakeStore{tasks: map[string]Task{}}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, owner string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []Task{}
	for _, t := range f.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	SortByOrder(out)
	return out, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	f.updates++
	patch.Apply(&t)
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) BulkUpdateOrder(ctx context.Context, owner string, updates []OrderUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.bulk = append(f.bulk, updates)
	var failed []string
	for _, u := range updates {
		if f.failIDs[u.ID] {
			failed = append(failed, u.ID)
			continue
		}
		t := f.tasks[u.ID]
		t.Order = u.Order
		t.Category = u.Category
		f.tasks[u.ID] = t
	}
	if len(failed) > 0 {
		return &BulkUpdateError{Failed: failed, Total: len(updates), Cause: errors.New("write failed")}
	}
	return nil
}
