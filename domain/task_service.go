package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskStorage persists task records.
//
// ListTasks returns an owner's tasks sorted by ascending order. GetTask,
// UpdateTask and DeleteTask return ErrNotFound for unknown ids. BulkUpdateOrder
// is atomic per task only; a failure mid-batch yields a *BulkUpdateError.
type TaskStorage interface {
	CreateTask(ctx context.Context, t Task) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, owner string) ([]Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, id string) error
	BulkUpdateOrder(ctx context.Context, owner string, updates []OrderUpdate) error
}

// ConsistentLister is implemented by stores that may answer ListTasks from a
// cache. ListTasksConsistent always reads the backing store.
type ConsistentLister interface {
	ListTasksConsistent(ctx context.Context, owner string) ([]Task, error)
}

// TaskService applies board mutations. Every successful mutation returns
// exactly one ChangeEvent for the caller to deliver; failures return a zero event.
//
// Concurrent reorders for the same owner are not serialized: each one rewrites
// the list from its own snapshot and the last write to complete wins.
type TaskService struct {
	st    TaskStorage
	newID func() string
	now   func() time.Time
}

// ServiceOption customizes a TaskService.
type ServiceOption func(*TaskService)

// WithIDGenerator replaces the uuid based id generator.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *TaskService) { s.newID = fn }
}

// WithClock replaces time.Now for creation timestamps.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *TaskService) { s.now = fn }
}

func NewTaskService(st TaskStorage, opts ...ServiceOption) TaskService {
	s := TaskService{st: st, newID: uuid.NewString, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// listForWrite reads the list a mutation is computed from or reported with.
// It bypasses caches so events never carry state the store does not hold.
func (s TaskService) listForWrite(ctx context.Context, owner string) ([]Task, error) {
	if cl, ok := s.st.(ConsistentLister); ok {
		return cl.ListTasksConsistent(ctx, owner)
	}
	return s.st.ListTasks(ctx, owner)
}

// ListTasks returns the owner's tasks ordered by order.
func (s TaskService) ListTasks(ctx context.Context, owner string) ([]Task, error) {
	if owner == "" {
		return nil, invalid("owner", "is required")
	}
	if err := authorizeOwner(ctx, owner); err != nil {
		return nil, err
	}
	tasks, err := s.st.ListTasks(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// AddTask appends a new task to the end of its category column.
func (s TaskService) AddTask(ctx context.Context, owner string, in NewTask) (Task, ChangeEvent, error) {
	if owner == "" {
		return Task{}, ChangeEvent{}, invalid("owner", "is required")
	}
	if err := authorizeOwner(ctx, owner); err != nil {
		return Task{}, ChangeEvent{}, err
	}
	if err := in.Validate(); err != nil {
		return Task{}, ChangeEvent{}, err
	}
	existing, err := s.listForWrite(ctx, owner)
	if err != nil {
		return Task{}, ChangeEvent{}, fmt.Errorf("list tasks: %w", err)
	}

	t := Task{
		ID:          s.newID(),
		Owner:       owner,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Order:       CountInCategory(existing, in.Category),
		CreatedAt:   s.now().UTC(),
	}
	created, err := s.st.CreateTask(ctx, t)
	if err != nil {
		return Task{}, ChangeEvent{}, fmt.Errorf("create task: %w", err)
	}
	return created, createdEvent(created), nil
}

// GetTask returns a single task.
func (s TaskService) GetTask(ctx context.Context, id string) (Task, error) {
	if id == "" {
		return Task{}, ErrNotFound
	}
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if !canSee(ctx, t) {
		return Task{}, ErrNotFound
	}
	return t, nil
}

// UpdateTask merges the provided fields into the stored task. Ownership is
// immutable: a patch naming a different owner is rejected.
func (s TaskService) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, ChangeEvent, error) {
	if err := patch.Validate(); err != nil {
		return Task{}, ChangeEvent{}, err
	}
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return Task{}, ChangeEvent{}, err
	}
	if patch.Owner != nil && *patch.Owner != current.Owner {
		return Task{}, ChangeEvent{}, invalid("owner", "is immutable")
	}
	patch.Owner = nil
	if patch.Empty() {
		return Task{}, ChangeEvent{}, invalid("body", "has no updatable fields")
	}
	updated, err := s.st.UpdateTask(ctx, id, patch)
	if err != nil {
		return Task{}, ChangeEvent{}, err
	}
	return updated, updatedEvent(updated), nil
}

// DeleteTask removes a task. The event carries the previous owner and id.
func (s TaskService) DeleteTask(ctx context.Context, id string) (ChangeEvent, error) {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return ChangeEvent{}, err
	}
	if err := s.st.DeleteTask(ctx, id); err != nil {
		return ChangeEvent{}, err
	}
	return deletedEvent(current.Owner, id), nil
}

// ReorderTasks moves one task using the Reorder engine against the owner's
// current list and persists the rewritten orders.
func (s TaskService) ReorderTasks(ctx context.Context, owner string, mv Move) ([]Task, ChangeEvent, error) {
	current, err := s.loadForReorder(ctx, owner)
	if err != nil {
		return nil, ChangeEvent{}, err
	}
	if indexOf(current, mv.TaskID) < 0 {
		return nil, ChangeEvent{}, fmt.Errorf("%w: %s", ErrNotFound, mv.TaskID)
	}
	next, err := Reorder(current, mv)
	if err != nil {
		return nil, ChangeEvent{}, err
	}
	return s.persistOrder(ctx, owner, current, next)
}

// ApplyTaskOrder persists a client computed ordering of the owner's tasks.
func (s TaskService) ApplyTaskOrder(ctx context.Context, owner string, entries []OrderUpdate) ([]Task, ChangeEvent, error) {
	current, err := s.loadForReorder(ctx, owner)
	if err != nil {
		return nil, ChangeEvent{}, err
	}
	next, err := ApplyOrder(current, entries)
	if err != nil {
		return nil, ChangeEvent{}, err
	}
	return s.persistOrder(ctx, owner, current, next)
}

func (s TaskService) loadForReorder(ctx context.Context, owner string) ([]Task, error) {
	if owner == "" {
		return nil, invalid("owner", "is required")
	}
	if err := authorizeOwner(ctx, owner); err != nil {
		return nil, err
	}
	current, err := s.listForWrite(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return current, nil
}

// persistOrder writes the entries that changed and reports the list as re-read
// from the store, so subscribers only ever see persisted state.
func (s TaskService) persistOrder(ctx context.Context, owner string, before, next []Task) ([]Task, ChangeEvent, error) {
	changed := changedOrders(before, next)
	if len(changed) == 0 {
		return next, reorderedEvent(owner, next), nil
	}

	if err := s.st.BulkUpdateOrder(ctx, owner, changed); err != nil {
		if !errors.Is(err, ErrPartialBulkFailure) {
			return nil, ChangeEvent{}, fmt.Errorf("bulk update order: %w", err)
		}
		actual, rerr := s.listForWrite(ctx, owner)
		if rerr != nil {
			log.WithFields(log.Fields{"owner": owner, "error": rerr}).Error("re-read after partial reorder failed")
			return nil, ChangeEvent{}, fmt.Errorf("bulk update order: %w", err)
		}
		log.WithFields(log.Fields{"owner": owner, "tasks": len(actual), "error": err}).Warn("reorder partially persisted")
		return actual, reorderedEvent(owner, actual), err
	}

	actual, err := s.listForWrite(ctx, owner)
	if err != nil {
		log.WithFields(log.Fields{"owner": owner, "error": err}).Warn("re-read after reorder failed, reporting computed order")
		actual = next
	}
	return actual, reorderedEvent(owner, actual), nil
}

func changedOrders(before, next []Task) []OrderUpdate {
	prev := make(map[string]Task, len(before))
	for _, t := range before {
		prev[t.ID] = t
	}
	var out []OrderUpdate
	for _, t := range next {
		if p, ok := prev[t.ID]; ok && p.Order == t.Order && p.Category == t.Category {
			continue
		}
		out = append(out, OrderUpdate{ID: t.ID, Order: t.Order, Category: t.Category})
	}
	return out
}
