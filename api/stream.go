package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

const snapshotEvent = "snapshot"

type snapshotFrame struct {
	Owner string        `json:"owner"`
	Tasks []domain.Task `json:"tasks"`
}

// streamOwners resolves the owners a stream subscribes to. Authenticated
// sessions may only follow their own board.
func streamOwners(c echo.Context) ([]string, error) {
	owners := c.QueryParams()["owner"]
	actor := domain.ActorFrom(c.Request().Context())
	if actor == "" {
		if len(owners) == 0 {
			return nil, &domain.ValidationError{Field: "owner", Reason: "is required"}
		}
		return owners, nil
	}
	if len(owners) == 0 {
		return []string{actor}, nil
	}
	if len(owners) > 1 || owners[0] != actor {
		return nil, domain.ErrForbidden
	}
	return owners, nil
}

// stream subscribes the connection to its owners, writes a snapshot of each
// board and then one frame per change event until the client goes away or
// the session is evicted.
func (g *gateway) stream(c echo.Context) error {
	if g.Hub == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "streaming disabled"})
	}
	owners, err := streamOwners(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()

	session := g.Hub.NewSession()
	for _, owner := range owners {
		g.Hub.Subscribe(owner, session)
	}
	defer g.Hub.Close(session)

	// Subscribing before the snapshot means no event is lost in between; clients
	// apply events idempotently.
	snapshots := make([]snapshotFrame, 0, len(owners))
	for _, owner := range owners {
		tasks, err := g.Tasks.ListTasks(ctx, owner)
		if err != nil {
			return writeError(c, err)
		}
		snapshots = append(snapshots, snapshotFrame{Owner: owner, Tasks: tasks})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
	}
	res.WriteHeader(http.StatusOK)

	logger := g.Logger.WithFields(log.Fields{"session": session.ID(), "owners": owners})
	logger.Debug("stream opened")
	defer logger.Debug("stream closed")

	for _, snap := range snapshots {
		if err := writeFrame(res, snapshotEvent, snap); err != nil {
			return nil
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(g.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case ev := <-session.Events():
			if err := writeFrame(res, string(ev.Kind), ev); err != nil {
				logger.WithField("error", err).Debug("stream write failed")
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := res.Write([]byte(":keepalive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case <-session.Done():
			logger.Info("stream session evicted")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func writeFrame(w http.ResponseWriter, event string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
