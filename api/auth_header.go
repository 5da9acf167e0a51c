package api

import (
	"errors"
	"net/http"
	"strings"
	"unsafe"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// authorizationHeader returns the Authorization header, falling back to the
// token query parameter for EventSource clients that cannot set headers.
func authorizationHeader(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return bearerPrefix + token
	}
	return ""
}

func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return nil, errBadAuthorization
	}
	token := trimmed[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return nil, errBadAuthorization
	}
	return readOnlyBytes(token), nil
}

// Authenticate resolves the bearer token of every request into the acting
// user and stores it with domain.WithActor. A nil auth leaves requests
// anonymous. Paths in skip are served without a token.
func Authenticate(auth Authenticator, logger *log.Logger, skip ...string) echo.MiddlewareFunc {
	open := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		open[p] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if auth == nil {
			return next
		}
		return func(c echo.Context) error {
			if _, ok := open[c.Path()]; ok {
				return next(c)
			}
			req := c.Request()
			userID, err := auth.UserIDFromAuthHeader(authorizationHeader(req))
			if err != nil {
				if logger != nil {
					logger.WithFields(log.Fields{"path": c.Path(), "error": err}).Debug("authentication failed")
				}
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			c.SetRequest(req.WithContext(domain.WithActor(req.Context(), userID)))
			return next(c)
		}
	}
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
