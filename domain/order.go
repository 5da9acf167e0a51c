package domain

import (
	"fmt"
	"sort"
)

// Position addresses a slot inside one category's column.
type Position struct {
	Category Category `json:"category"`
	Index    int      `json:"index"`
}

// Move describes dragging TaskID from Source to Destination. A nil
// Destination is a drop outside any column.
type Move struct {
	TaskID      string    `json:"taskId"`
	Source      Position  `json:"source"`
	Destination *Position `json:"destination,omitempty"`
}

// Reorder returns a new list with the moved task placed at the destination
// index of the destination column and every order rewritten to its position in
// the flattened list. The input slice is never modified.
//
// A nil destination or an unchanged position is a no-op. Indexes outside the
// column clamp to its bounds.
func Reorder(tasks []Task, mv Move) ([]Task, error) {
	out := cloneTasks(tasks)
	if mv.Destination == nil {
		return out, nil
	}
	dst := *mv.Destination
	if mv.Source == dst {
		return out, nil
	}
	if err := validateCategory(dst.Category); err != nil {
		return nil, err
	}

	from := indexOf(out, mv.TaskID)
	if from < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, mv.TaskID)
	}
	moved := out[from]
	moved.Category = dst.Category
	rest := append(out[:from:from], out[from+1:]...)

	at := insertionPoint(rest, dst)
	result := make([]Task, 0, len(out))
	result = append(result, rest[:at]...)
	result = append(result, moved)
	result = append(result, rest[at:]...)
	renumber(result)
	return result, nil
}

// ApplyOrder rewrites tasks to follow a client computed list. Entries are taken
// in ascending Order (ties keep their list position); each named task gets the
// entry's category and its index as order. Tasks the entries do not mention keep
// their relative order and follow the named ones.
func ApplyOrder(tasks []Task, entries []OrderUpdate) ([]Task, error) {
	if len(entries) == 0 {
		return nil, invalid("tasks", "must not be empty")
	}
	byID := make(map[string]int, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = i
	}

	sorted := append([]OrderUpdate(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	seen := make(map[string]struct{}, len(sorted))
	result := make([]Task, 0, len(tasks))
	for _, e := range sorted {
		if _, dup := seen[e.ID]; dup {
			return nil, invalid("tasks", "contains duplicate id "+e.ID)
		}
		seen[e.ID] = struct{}{}
		i, ok := byID[e.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, e.ID)
		}
		if err := validateCategory(e.Category); err != nil {
			return nil, err
		}
		t := tasks[i]
		t.Category = e.Category
		result = append(result, t)
	}
	for _, t := range tasks {
		if _, ok := seen[t.ID]; !ok {
			result = append(result, t)
		}
	}
	renumber(result)
	return result, nil
}

// OrderUpdates lists the (id, order, category) triples of tasks.
func OrderUpdates(tasks []Task) []OrderUpdate {
	out := make([]OrderUpdate, len(tasks))
	for i, t := range tasks {
		out[i] = OrderUpdate{ID: t.ID, Order: t.Order, Category: t.Category}
	}
	return out
}

// SortByOrder sorts tasks by ascending order. Ties fall back to creation time
// and then id so listings are deterministic.
func SortByOrder(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func insertionPoint(rest []Task, dst Position) int {
	var column []int
	for i, t := range rest {
		if t.Category == dst.Category {
			column = append(column, i)
		}
	}
	idx := dst.Index
	if idx < 0 {
		idx = 0
	}
	if idx > len(column) {
		idx = len(column)
	}
	switch {
	case idx < len(column):
		return column[idx]
	case len(column) > 0:
		return column[len(column)-1] + 1
	default:
		return len(rest)
	}
}

func renumber(tasks []Task) {
	for i := range tasks {
		tasks[i].Order = i
	}
}

func indexOf(tasks []Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func cloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	return append(make([]Task, 0, len(tasks)), tasks...)
}
