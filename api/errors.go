package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

func errorMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return msgBadRequest
	case http.StatusForbidden:
		return msgUnauthorized
	case http.StatusNotFound:
		return msgNotFound
	case http.StatusMethodNotAllowed:
		return msgMethodNotAllowed
	case http.StatusConflict:
		return msgConflict
	case http.StatusInternalServerError:
		return msgInternal
	default:
		return http.StatusText(status)
	}
}

func writeError(c echo.Context, status int) error {
	return c.JSON(status, errorResponse{Error: errorMessage(status)})
}

// HTTPErrorHandler renders errors that escape handlers and middleware, such as
// unmatched routes, in the same {"error": ...} shape the handlers use.
func HTTPErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}
		if status >= http.StatusInternalServerError {
			logger.WithError(err).WithField("path", c.Request().URL.Path).Error("unhandled request error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = writeError(c, status)
		}
		if werr != nil {
			logger.WithError(werr).Warn("write error response")
		}
	}
}
