package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

func (g *gateway) registerUser(c echo.Context) error {
	return g.instrument(c, "/users", func(ctx context.Context, m *requestMetrics) error {
		var u domain.User
		if err := decodeBody(c, &u); err != nil {
			return g.fail(c, m, invalidBody(err))
		}
		if u.UID == "" {
			u.UID = domain.ActorFrom(ctx)
		}
		m.SetOwner(u.UID)
		var (
			saved domain.User
			err   error
		)
		g.timed(m, func() { saved, err = g.Users.Register(ctx, u) })
		if err != nil {
			return g.fail(c, m, err)
		}
		return c.JSON(http.StatusOK, saved)
	})
}
