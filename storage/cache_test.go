package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

type countingBackend struct {
	*MemoryStore
	lists   int
	bulkErr error
	// afterList runs once, after the next ListTasks read its result.
	afterList func()
}

func (b *countingBackend) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	b.lists++
	tasks, err := b.MemoryStore.ListTasks(ctx, owner)
	if hook := b.afterList; hook != nil {
		b.afterList = nil
		hook()
	}
	return tasks, err
}

func (b *countingBackend) BulkUpdateOrder(ctx context.Context, owner string, updates []domain.OrderUpdate) error {
	if b.bulkErr != nil {
		return b.bulkErr
	}
	return b.MemoryStore.BulkUpdateOrder(ctx, owner, updates)
}

func newTestCache(t *testing.T, tasks ...domain.Task) (*Cache, *countingBackend, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	base := &countingBackend{MemoryStore: seedMemory(t, tasks...)}
	return NewCache(base, client, time.Minute), base, mr
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	expected := []domain.Task{{ID: "t1", Owner: "u1", Title: "Write code", Category: domain.CategoryTodo}}
	cache, base, mr := newTestCache(t, expected...)
	ctx := context.Background()

	tasks, err := cache.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if base.lists != 1 {
		t.Fatalf("expected 1 call to backend, got %d", base.lists)
	}
	if ttl := mr.TTL(tasksCacheKey("u1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list cached tasks: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if base.lists != 1 {
		t.Fatalf("expected cached list to avoid backend, calls=%d", base.lists)
	}
}

func TestCacheWritesEvictOwner(t *testing.T) {
	cache, _, mr := newTestCache(t, domain.Task{ID: "t1", Owner: "u1", Title: "a", Category: domain.CategoryTodo})
	ctx := context.Background()
	title := "renamed"

	writes := map[string]func() error{
		"create": func() error {
			_, err := cache.CreateTask(ctx, domain.Task{ID: "t2", Owner: "u1", Title: "b", Category: domain.CategoryTodo, Order: 1})
			return err
		},
		"update": func() error {
			_, err := cache.UpdateTask(ctx, "t1", domain.TaskPatch{Title: &title})
			return err
		},
		"reorder": func() error {
			return cache.BulkUpdateOrder(ctx, "u1", []domain.OrderUpdate{{ID: "t1", Order: 5, Category: domain.CategoryDone}})
		},
		"delete": func() error { return cache.DeleteTask(ctx, "t1") },
	}
	for _, name := range []string{"create", "update", "reorder", "delete"} {
		if _, err := cache.ListTasks(ctx, "u1"); err != nil {
			t.Fatalf("%s: prime cache: %v", name, err)
		}
		if !mr.Exists(tasksCacheKey("u1")) {
			t.Fatalf("%s: expected cache populated", name)
		}
		if err := writes[name](); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if mr.Exists(tasksCacheKey("u1")) {
			t.Fatalf("%s: cache key should be evicted", name)
		}
	}
}

func TestCacheFailedWritePreservesCache(t *testing.T) {
	cache, base, mr := newTestCache(t, domain.Task{ID: "t1", Owner: "u1", Title: "a"})
	ctx := context.Background()
	if _, err := cache.ListTasks(ctx, "u1"); err != nil {
		t.Fatalf("prime: %v", err)
	}

	base.bulkErr = domain.ErrStoreUnavailable
	if err := cache.BulkUpdateOrder(ctx, "u1", nil); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store error, got %v", err)
	}
	if err := cache.DeleteTask(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("cache should remain on error")
	}
}

func TestCachePartialBulkFailureEvicts(t *testing.T) {
	cache, base, mr := newTestCache(t, domain.Task{ID: "t1", Owner: "u1", Title: "a"})
	ctx := context.Background()
	if _, err := cache.ListTasks(ctx, "u1"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	base.bulkErr = &domain.BulkUpdateError{Failed: []string{"t2"}, Total: 2, Cause: errors.New("boom")}
	if err := cache.BulkUpdateOrder(ctx, "u1", nil); !errors.Is(err, domain.ErrPartialBulkFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("partially applied batch should evict")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	cache, base, mr := newTestCache(t, domain.Task{ID: "t1", Owner: "u1", Title: "a"})
	if err := mr.Set(tasksCacheKey("u1"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tasks, err := cache.ListTasks(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || base.lists != 1 {
		t.Fatalf("expected backend fallback, got %d tasks and %d calls", len(tasks), base.lists)
	}
}

func TestCacheWithoutRedis(t *testing.T) {
	base := &countingBackend{MemoryStore: seedMemory(t, domain.Task{ID: "t1", Owner: "u1"})}
	cache := NewCache(base, nil, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := cache.ListTasks(context.Background(), "u1"); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if base.lists != 2 {
		t.Fatalf("expected every list to reach backend, got %d", base.lists)
	}
	if err := cache.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestCacheFillSkippedWhenWriteEvictsDuringMiss(t *testing.T) {
	cache, base, mr := newTestCache(t,
		domain.Task{ID: "t1", Owner: "u1", Title: "a", Category: domain.CategoryTodo, Order: 0},
		domain.Task{ID: "t2", Owner: "u1", Title: "b", Category: domain.CategoryTodo, Order: 1},
	)
	ctx := context.Background()

	base.afterList = func() {
		err := cache.BulkUpdateOrder(ctx, "u1", []domain.OrderUpdate{
			{ID: "t2", Order: 0, Category: domain.CategoryTodo},
			{ID: "t1", Order: 1, Category: domain.CategoryDone},
		})
		if err != nil {
			t.Errorf("concurrent reorder: %v", err)
		}
	}
	stale, err := cache.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if stale[0].ID != "t1" {
		t.Fatalf("reader should see the list it read, got %+v", stale)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatal("list read before the write must not be cached")
	}

	fresh, err := cache.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if fresh[0].ID != "t2" || fresh[1].Category != domain.CategoryDone {
		t.Fatalf("expected stored order, got %+v", fresh)
	}
	if !mr.Exists(tasksCacheKey("u1")) {
		t.Fatal("an undisturbed miss should fill the cache")
	}
}

func TestCacheConsistentListBypassesEntry(t *testing.T) {
	cache, base, mr := newTestCache(t, domain.Task{ID: "t1", Owner: "u1", Title: "a"})
	if err := mr.Set(tasksCacheKey("u1"), "[]"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tasks, err := cache.ListTasksConsistent(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || base.lists != 1 {
		t.Fatalf("expected backend read, got %d tasks and %d calls", len(tasks), base.lists)
	}
	var _ domain.ConsistentLister = cache
}

func TestCacheCountsDelegates(t *testing.T) {
	ctx := context.Background()
	base := &countingBackend{MemoryStore: seedMemory(t,
		domain.Task{ID: "t1", Owner: "u1"},
		domain.Task{ID: "t2", Owner: "u2"},
	)}
	if _, err := base.UpsertUser(ctx, domain.User{UID: "u1", Email: "u1@example.com"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	tasks, users, err := NewCache(base, nil, time.Minute).Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if tasks != 2 || users != 1 {
		t.Fatalf("expected 2 tasks and 1 user, got %d and %d", tasks, users)
	}
}
