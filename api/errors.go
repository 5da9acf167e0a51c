package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPartialBulkFailure):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// errorStage names the failure for request metrics.
func errorStage(err error) string {
	switch statusFor(err) {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "storage"
	}
	if errors.Is(err, domain.ErrPartialBulkFailure) {
		return "partial_bulk_failure"
	}
	return "internal"
}

func writeError(c echo.Context, err error) error {
	return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
}
