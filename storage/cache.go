package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

// generationTTL outlives any cache fill; a lost generation only costs one miss.
const generationTTL = 24 * time.Hour

// Cache wraps a Backend with a Redis read-through cache of each owner's task
// list. Every write evicts the owner's entry after the backend accepted it.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.base.Ping(ctx); err != nil {
		return err
	}
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// ListTasks serves the owner's list from Redis when present. A miss reads the
// backend and fills the entry unless an eviction ran in between.
func (c *Cache) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, owner); ok {
		return tasks, nil
	}
	if c.redis == nil || c.ttl == 0 {
		return c.base.ListTasks(ctx, owner)
	}
	return c.fill(ctx, owner)
}

// ListTasksConsistent reads the backend directly. Mutations compute and report
// from it so a stale entry can never leak into a change event.
func (c *Cache) ListTasksConsistent(ctx context.Context, owner string) ([]domain.Task, error) {
	return c.base.ListTasks(ctx, owner)
}

// fill watches the owner's generation key across the backend read. evict bumps
// the generation, which aborts the Set of a list read before the write.
func (c *Cache) fill(ctx context.Context, owner string) ([]domain.Task, error) {
	var (
		tasks   []domain.Task
		baseErr error
		read    bool
	)
	err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
		tasks, baseErr = c.base.ListTasks(ctx, owner)
		read = true
		if baseErr != nil {
			return nil
		}
		data, err := sonic.Marshal(tasks)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, tasksCacheKey(owner), data, c.ttl)
			return nil
		})
		return err
	}, generationKey(owner))
	if !read {
		log.WithFields(log.Fields{"owner": owner, "error": err}).Debug("tasks cache unavailable")
		return c.base.ListTasks(ctx, owner)
	}
	if baseErr != nil {
		return nil, baseErr
	}
	switch {
	case errors.Is(err, redis.TxFailedErr):
		log.WithField("owner", owner).Debug("tasks changed during cache fill, not caching")
	case err != nil:
		log.WithFields(log.Fields{"owner": owner, "error": err}).Debug("tasks cache fill failed")
	}
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	created, err := c.base.CreateTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, created.Owner)
	return created, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	updated, err := c.base.UpdateTask(ctx, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, updated.Owner)
	return updated, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	current, err := c.base.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, current.Owner)
	return nil
}

// BulkUpdateOrder evicts even when the batch partially failed, since some rows changed.
func (c *Cache) BulkUpdateOrder(ctx context.Context, owner string, updates []domain.OrderUpdate) error {
	err := c.base.BulkUpdateOrder(ctx, owner, updates)
	if err == nil || errors.Is(err, domain.ErrPartialBulkFailure) {
		c.evict(ctx, owner)
	}
	return err
}

func (c *Cache) UpsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	return c.base.UpsertUser(ctx, u)
}

func (c *Cache) Counts(ctx context.Context) (int, int, error) {
	return c.base.Counts(ctx)
}

func (c *Cache) loadTasks(ctx context.Context, owner string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(owner)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			log.WithFields(log.Fields{"owner": owner, "error": err}).Debug("tasks cache read failed")
			_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	_, err := c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, tasksCacheKey(owner))
		p.Incr(ctx, generationKey(owner))
		p.Expire(ctx, generationKey(owner), generationTTL)
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{"owner": owner, "error": err}).Warn("tasks cache eviction failed")
	}
}

func tasksCacheKey(owner string) string {
	return "tasks:" + owner
}

func generationKey(owner string) string {
	return "tasks:gen:" + owner
}
