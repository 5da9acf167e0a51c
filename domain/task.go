package domain

import (
	"time"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 50
	MaxDescriptionLength = 200
)

// Category is one of the fixed board columns.
type Category string

const (
	CategoryTodo       Category = "To-Do"
	CategoryInProgress Category = "In Progress"
	CategoryDone       Category = "Done"
)

// Categories lists the board columns in display order.
var Categories = []Category{CategoryTodo, CategoryInProgress, CategoryDone}

// Valid reports whether c is one of the board columns.
func (c Category) Valid() bool {
	switch c {
	case CategoryTodo, CategoryInProgress, CategoryDone:
		return true
	}
	return false
}

// Task represents a single board item.
type Task struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    Category  `json:"category"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewTask carries the client supplied fields of an add request.
type NewTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    Category `json:"category,omitempty"`
}

// TaskPatch represents a partial update. A nil pointer means "no change".
// Owner is accepted only so that attempts to change it can be rejected.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *Category `json:"category,omitempty"`
	Order       *int      `json:"order,omitempty"`
	Owner       *string   `json:"owner,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil && p.Order == nil
}

// Apply merges the patch into t. Owner is never copied.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
}

// OrderUpdate is one entry of a bulk order rewrite.
type OrderUpdate struct {
	ID       string   `json:"id"`
	Order    int      `json:"order"`
	Category Category `json:"category"`
}

// User is the profile of an authenticated board owner.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func validateTitle(title string) error {
	if title == "" {
		return invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return invalid("title", "must be at most 50 characters")
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return invalid("description", "must be at most 200 characters")
	}
	return nil
}

func validateCategory(c Category) error {
	if !c.Valid() {
		return invalid("category", "must be one of To-Do, In Progress, Done")
	}
	return nil
}

// Validate checks the add request constraints. An empty category defaults to To-Do.
func (n *NewTask) Validate() error {
	if n.Category == "" {
		n.Category = CategoryTodo
	}
	if err := validateTitle(n.Title); err != nil {
		return err
	}
	if err := validateDescription(n.Description); err != nil {
		return err
	}
	return validateCategory(n.Category)
}

// Validate checks field constraints of the provided fields only.
func (p TaskPatch) Validate() error {
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.Category != nil {
		if err := validateCategory(*p.Category); err != nil {
			return err
		}
	}
	if p.Order != nil && *p.Order < 0 {
		return invalid("order", "must not be negative")
	}
	return nil
}

// Validate checks that all profile fields are present.
func (u User) Validate() error {
	switch {
	case u.UID == "":
		return invalid("uid", "is required")
	case u.Email == "":
		return invalid("email", "is required")
	case u.DisplayName == "":
		return invalid("displayName", "is required")
	}
	return nil
}

// CountInCategory returns how many of the tasks belong to c.
func CountInCategory(tasks []Task, c Category) int {
	n := 0
	for _, t := range tasks {
		if t.Category == c {
			n++
		}
	}
	return n
}
