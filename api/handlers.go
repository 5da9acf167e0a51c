// Package api is the HTTP session gateway: it routes REST mutations to the
// task service, publishes the resulting change events and streams them back
// to subscribed clients over server-sent events.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Sadik-Sami/ToDo-DnD/broadcast"
	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

const idempotencyHeader = "Idempotency-Key"

// Deps are the collaborators of the gateway. Auth and Deduper are optional.
type Deps struct {
	Tasks     domain.TaskService
	Users     domain.UserService
	Store     Pinger
	Hub       *broadcast.Hub
	Publisher Publisher
	Auth      Authenticator
	Deduper   Deduper
	Logger    *log.Logger
	Heartbeat time.Duration
}

type gateway struct {
	Deps
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Publisher == nil && d.Hub != nil {
		d.Publisher = d.Hub
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = 25 * time.Second
	}
	g := &gateway{Deps: d}

	e.JSONSerializer = JSONSerializer{}
	e.Use(Authenticate(d.Auth, d.Logger, "/healthz", "/metrics"))

	e.GET("/tasks", g.listTasks)
	e.POST("/tasks", g.createTask)
	e.PUT("/tasks/:id", g.updateTask)
	e.DELETE("/tasks/:id", g.deleteTask)
	e.POST("/tasks/reorder", g.reorderTasks)
	e.POST("/users", g.registerUser)
	e.GET("/stream", g.stream)
	e.GET("/healthz", g.healthz)
	e.GET("/metrics", echoprometheus.NewHandler())
}

// deliver publishes ev detached from the request so a disconnecting client
// does not cancel delivery to its other sessions.
func (g *gateway) deliver(ctx context.Context, ev domain.ChangeEvent) {
	if ev.IsZero() || g.Publisher == nil {
		return
	}
	g.Publisher.Publish(context.WithoutCancel(ctx), ev)
}

// instrument runs fn with request metrics and a context that survives client
// disconnects, so store writes always complete.
func (g *gateway) instrument(c echo.Context, route string, fn func(ctx context.Context, m *requestMetrics) error) (err error) {
	m, ctx := newRequestMetrics(c.Request().Context(), g.Logger, route)
	defer func() {
		status := c.Response().Status
		if !c.Response().Committed {
			status = 0
		}
		m.Log(status, err)
	}()
	return fn(context.WithoutCancel(ctx), m)
}

func (g *gateway) fail(c echo.Context, m *requestMetrics, err error) error {
	m.SetErrorStage(errorStage(err))
	if status := statusFor(err); status >= http.StatusInternalServerError {
		g.Logger.WithFields(log.Fields{"path": c.Path(), "error": err}).Error("request failed")
	}
	return writeError(c, err)
}

func (g *gateway) timed(m *requestMetrics, fn func()) {
	start := time.Now()
	fn()
	m.ObserveStore(time.Since(start))
}

type createTaskRequest struct {
	Owner       string          `json:"owner"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    domain.Category `json:"category"`
}

func (g *gateway) createTask(c echo.Context) error {
	return g.instrument(c, "/tasks", func(ctx context.Context, m *requestMetrics) error {
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return g.fail(c, m, invalidBody(err))
		}
		owner := ownerOrActor(ctx, req.Owner)
		m.SetOwner(owner)

		key := ""
		if g.Deduper != nil {
			key = c.Request().Header.Get(idempotencyHeader)
		}
		if key != "" {
			existingID, reserved, err := g.Deduper.Reserve(ctx, owner, key)
			switch {
			case err != nil:
				g.Logger.WithFields(log.Fields{"owner": owner, "error": err}).Warn("idempotency check failed, creating anyway")
				key = ""
			case !reserved && existingID == "":
				m.SetErrorStage("idempotency_in_flight")
				return c.JSON(http.StatusConflict, errorResponse{Error: "request with this idempotency key is in progress"})
			case !reserved:
				task, err := g.Tasks.GetTask(ctx, existingID)
				if err != nil {
					return g.fail(c, m, err)
				}
				return c.JSON(http.StatusOK, task)
			}
		}

		var (
			task domain.Task
			ev   domain.ChangeEvent
			err  error
		)
		g.timed(m, func() {
			task, ev, err = g.Tasks.AddTask(ctx, owner, domain.NewTask{
				Title:       req.Title,
				Description: req.Description,
				Category:    req.Category,
			})
		})
		if err != nil {
			if key != "" {
				_ = g.Deduper.Release(ctx, owner, key)
			}
			return g.fail(c, m, err)
		}
		if key != "" {
			if cerr := g.Deduper.Complete(ctx, owner, key, task.ID); cerr != nil {
				g.Logger.WithFields(log.Fields{"owner": owner, "task": task.ID, "error": cerr}).Warn("failed to record idempotency key")
			}
		}
		g.deliver(ctx, ev)
		return c.JSON(http.StatusCreated, task)
	})
}

func (g *gateway) listTasks(c echo.Context) error {
	return g.instrument(c, "/tasks", func(ctx context.Context, m *requestMetrics) error {
		owner := ownerOrActor(ctx, c.QueryParam("owner"))
		m.SetOwner(owner)
		var (
			tasks []domain.Task
			err   error
		)
		g.timed(m, func() { tasks, err = g.Tasks.ListTasks(ctx, owner) })
		if err != nil {
			return g.fail(c, m, err)
		}
		m.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasks)
	})
}

type updateTaskRequest struct {
	domain.TaskPatch
	ID        string     `json:"id,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func (g *gateway) updateTask(c echo.Context) error {
	return g.instrument(c, "/tasks/:id", func(ctx context.Context, m *requestMetrics) error {
		id := c.Param("id")
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return g.fail(c, m, invalidBody(err))
		}
		if req.ID != "" && req.ID != id {
			return g.fail(c, m, &domain.ValidationError{Field: "id", Reason: "does not match the path"})
		}
		var (
			task domain.Task
			ev   domain.ChangeEvent
			err  error
		)
		g.timed(m, func() { task, ev, err = g.Tasks.UpdateTask(ctx, id, req.TaskPatch) })
		if err != nil {
			return g.fail(c, m, err)
		}
		m.SetOwner(task.Owner)
		g.deliver(ctx, ev)
		return c.JSON(http.StatusOK, task)
	})
}

type deleteTaskResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (g *gateway) deleteTask(c echo.Context) error {
	return g.instrument(c, "/tasks/:id", func(ctx context.Context, m *requestMetrics) error {
		id := c.Param("id")
		var (
			ev  domain.ChangeEvent
			err error
		)
		g.timed(m, func() { ev, err = g.Tasks.DeleteTask(ctx, id) })
		if err != nil {
			return g.fail(c, m, err)
		}
		m.SetOwner(ev.Owner)
		g.deliver(ctx, ev)
		return c.JSON(http.StatusOK, deleteTaskResponse{ID: id, Deleted: true})
	})
}

// reorderRequest carries either a server side move or a client computed list.
type reorderRequest struct {
	Owner string               `json:"owner"`
	Move  *domain.Move         `json:"move,omitempty"`
	Tasks []domain.OrderUpdate `json:"tasks,omitempty"`
}

func (g *gateway) reorderTasks(c echo.Context) error {
	return g.instrument(c, "/tasks/reorder", func(ctx context.Context, m *requestMetrics) error {
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return g.fail(c, m, invalidBody(err))
		}
		owner := ownerOrActor(ctx, req.Owner)
		m.SetOwner(owner)

		var (
			tasks []domain.Task
			ev    domain.ChangeEvent
			err   error
		)
		g.timed(m, func() {
			if req.Move != nil {
				tasks, ev, err = g.Tasks.ReorderTasks(ctx, owner, *req.Move)
			} else {
				tasks, ev, err = g.Tasks.ApplyTaskOrder(ctx, owner, req.Tasks)
			}
		})
		// A partially persisted reorder still reports the stored state to subscribers.
		g.deliver(ctx, ev)
		if err != nil {
			return g.fail(c, m, err)
		}
		m.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasks)
	})
}

func (g *gateway) healthz(c echo.Context) error {
	if g.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := g.Store.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		}
	}
	resp := healthResponse{Status: "ok"}
	if counter, ok := g.Store.(Counter); ok {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		tasks, users, err := counter.Counts(ctx)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		}
		resp.Tasks, resp.Users = &tasks, &users
	}
	return c.JSON(http.StatusOK, resp)
}

type healthResponse struct {
	Status string `json:"status"`
	Tasks  *int   `json:"tasks,omitempty"`
	Users  *int   `json:"users,omitempty"`
}

// ownerOrActor defaults an omitted owner to the authenticated user.
func ownerOrActor(ctx context.Context, owner string) string {
	if owner == "" {
		return domain.ActorFrom(ctx)
	}
	return owner
}

// invalidBody reports a request body that could not be decoded.
func invalidBody(err error) error {
	return &domain.ValidationError{Field: "body", Reason: err.Error()}
}
