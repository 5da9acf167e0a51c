package api

import (
	"context"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Publisher delivers change events to subscribed sessions.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter is implemented by stores that can report their row counts.
type Counter interface {
	Counts(ctx context.Context) (tasks, users int, err error)
}

// Deduper remembers which task an idempotency key created.
type Deduper interface {
	// Reserve claims key for owner. When the key was already claimed it returns
	// the stored task id, which is empty while the first request is in flight.
	Reserve(ctx context.Context, owner, key string) (taskID string, reserved bool, err error)
	// Complete records the task created under a reserved key.
	Complete(ctx context.Context, owner, key, taskID string) error
	// Release drops a reservation so the caller may retry.
	Release(ctx context.Context, owner, key string) error
}
