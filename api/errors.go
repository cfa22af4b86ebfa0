package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"trackhub/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the domain error taxonomy onto HTTP statuses. Transient
// failures surface as 503 so clients know a retry is safe.
func writeError(c echo.Context, err error) error {
	var (
		validation domain.ValidationError
		transition domain.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &transition):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrAlreadyMember):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case domain.IsTransient(err):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable, retry"})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
