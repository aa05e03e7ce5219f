package handler

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/apperr"
)

// Request deadlines.  Database routes get dbTimeout; routes that wait on
// object storage, the inference service or the LLM get upstreamTimeout.
const (
	dbTimeout       = 5 * time.Second
	upstreamTimeout = 60 * time.Second
)

func withTimeout(c echo.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), d)
}

// fail writes err as {"error": msg} with the status of its kind.
func fail(c echo.Context, log *zap.Logger, err error) error {
	status, msg := apperr.Status(err)
	if status >= 500 {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, echo.Map{"error": msg})
}

// apiFail is fail for the /api routes, whose bodies also carry success:false.
func apiFail(c echo.Context, log *zap.Logger, err error) error {
	status, msg := apperr.Status(err)
	if status >= 500 {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, echo.Map{"success": false, "error": msg})
}

// bind decodes the request body.  Malformed input is a validation error.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperr.Validation("Invalid request body")
	}
	return nil
}
