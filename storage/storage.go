package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

// Backend is the full persistence surface used by the server.
type Backend interface {
	domain.TaskStorage
	domain.UserStorage
	Ping(ctx context.Context) error
	// Counts reports how many tasks and users are stored.
	Counts(ctx context.Context) (tasks, users int, err error)
}

// Storage keeps tasks and users in Azure Table Storage.
type Storage struct {
	svc       *aztables.ServiceClient
	taskTable *aztables.Client
	userTable *aztables.Client
}

func clientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, clientOptions())
	if err != nil {
		return nil, err
	}
	return &Storage{
		svc:       svc,
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
	}, nil
}

// Ping checks that the table service is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.svc.GetProperties(ctx, nil); err != nil {
		return mapError("ping", err)
	}
	return nil
}

// CreateTask inserts a new task row.
func (s *Storage) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	payload, err := encodeTask(t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, mapError("add task", err)
	}
	return t, nil
}

// GetTask looks a task up by id across all owners.
func (s *Storage) GetTask(ctx context.Context, id string) (domain.Task, error) {
	tasks, err := s.query(ctx, "RowKey eq "+quote(id))
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, domain.ErrNotFound
	}
	return tasks[0], nil
}

// ListTasks returns the owner's tasks sorted by order.
func (s *Storage) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	tasks, err := s.query(ctx, "PartitionKey eq "+quote(owner))
	if err != nil {
		return nil, err
	}
	domain.SortByOrder(tasks)
	return tasks, nil
}

// Counts scans both tables, fetching only row keys.
func (s *Storage) Counts(ctx context.Context) (int, int, error) {
	tasks, err := countRows(ctx, s.taskTable)
	if err != nil {
		return 0, 0, mapError("count tasks", err)
	}
	users, err := countRows(ctx, s.userTable)
	if err != nil {
		return 0, 0, mapError("count users", err)
	}
	return tasks, users, nil
}

func countRows(ctx context.Context, table *aztables.Client) (int, error) {
	sel := "RowKey"
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Select: &sel})
	n := 0
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		n += len(resp.Entities)
	}
	return n, nil
}

func (s *Storage) query(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError("list tasks", err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, fmt.Errorf("decode task: %w", err)
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// UpdateTask merges the patch into the stored row and returns the result.
func (s *Storage) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := encodePatch(current.Owner, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return domain.Task{}, mapError("update task", err)
	}
	patch.Apply(&current)
	return current, nil
}

// DeleteTask removes a task row.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, current.Owner, id, nil); err != nil {
		return mapError("delete task", err)
	}
	return nil
}

// BulkUpdateOrder merges order and category for each entry. Entries are
// written one by one and every failure is collected into a *domain.BulkUpdateError.
func (s *Storage) BulkUpdateOrder(ctx context.Context, owner string, updates []domain.OrderUpdate) error {
	var (
		failed []string
		cause  error
	)
	et := azcore.ETagAny
	opts := &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}
	for _, u := range updates {
		payload, err := encodeOrder(owner, u)
		if err == nil {
			_, err = s.taskTable.UpdateEntity(ctx, payload, opts)
		}
		if err != nil {
			log.WithFields(log.Fields{"owner": owner, "task": u.ID, "error": err}).Warn("order update failed")
			failed = append(failed, u.ID)
			cause = mapError("update order", err)
		}
	}
	if len(failed) > 0 {
		return &domain.BulkUpdateError{Failed: failed, Total: len(updates), Cause: cause}
	}
	return nil
}

// UpsertUser creates or replaces a user row.
func (s *Storage) UpsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	payload, err := encodeUser(u)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := s.userTable.UpsertEntity(ctx, payload, nil); err != nil {
		return domain.User{}, mapError("upsert user", err)
	}
	return u, nil
}

// mapError turns a 404 into domain.ErrNotFound and everything else into
// domain.ErrStoreUnavailable.
func mapError(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// quote renders an OData string literal.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
