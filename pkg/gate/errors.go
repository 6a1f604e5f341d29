package gate

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPErrorHandler renders client errors as plain status responses. Everything else is
// logged and answered with the generic failure page, never with error details.
// The request logger hands every error to this handler before echo does, so a
// committed response means the error was already rendered and logged.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.String(he.Code, http.StatusText(he.Code))
		return
	}

	slog.Error("Request failed", "error", err, "method", c.Request().Method, "path", c.Request().URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID))
	_ = c.HTMLBlob(http.StatusInternalServerError, pageInternalError)
}
