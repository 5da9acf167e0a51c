package domain

// EventKind names a change notification.
type EventKind string

const (
	TaskCreated    EventKind = "task-created"
	TaskUpdated    EventKind = "task-updated"
	TaskDeleted    EventKind = "task-deleted"
	TasksReordered EventKind = "tasks-reordered"
)

// ChangeEvent is a transient notification routed to every session of Owner.
// Task is set for created/updated, TaskID for deleted and Tasks for reordered.
type ChangeEvent struct {
	Kind   EventKind `json:"type"`
	Owner  string    `json:"owner"`
	Task   *Task     `json:"task,omitempty"`
	TaskID string    `json:"id,omitempty"`
	Tasks  []Task    `json:"tasks,omitempty"`
}

// IsZero reports whether no event was produced.
func (e ChangeEvent) IsZero() bool { return e.Kind == "" }

func createdEvent(t Task) ChangeEvent {
	return ChangeEvent{Kind: TaskCreated, Owner: t.Owner, Task: &t}
}

func updatedEvent(t Task) ChangeEvent {
	return ChangeEvent{Kind: TaskUpdated, Owner: t.Owner, Task: &t}
}

func deletedEvent(owner, id string) ChangeEvent {
	return ChangeEvent{Kind: TaskDeleted, Owner: owner, TaskID: id}
}

func reorderedEvent(owner string, tasks []Task) ChangeEvent {
	return ChangeEvent{Kind: TasksReordered, Owner: owner, Tasks: tasks}
}
