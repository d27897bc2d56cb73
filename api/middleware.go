package api

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
)

// GzipRequestMiddleware transparently inflates request bodies sent with
// Content-Encoding: gzip. The gzip stream is opened on the first Read, so a
// body that is not valid gzip surfaces as a read error in the handler, after
// authorization. Requests without a body pass through untouched.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody || req.ContentLength == 0 ||
				!acceptsGzip(req.Header.Values(echo.HeaderContentEncoding)) {
				return next(c)
			}

			req.Body = &inflatedBody{raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

// RequestIDMiddleware tags each request and response with X-Request-ID,
// keeping a client supplied value.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	})
}

// RequestLoggerMiddleware writes one debug entry per request.
func RequestLoggerMiddleware(logger *log.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": durationToMillis(v.Latency),
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Debug("http.request")
			return nil
		},
	})
}

// acceptsGzip reports whether any listed content coding is gzip.
func acceptsGzip(values []string) bool {
	for _, v := range values {
		for _, coding := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(coding), "gzip") {
				return true
			}
		}
	}
	return false
}

// inflatedBody reads through a gzip stream opened lazily over raw and closes
// both it and the underlying request body.
type inflatedBody struct {
	raw     io.ReadCloser
	zr      *gzip.Reader
	openErr error
}

var errInvalidGzip = errors.New("invalid gzip body")

func (b *inflatedBody) Read(p []byte) (int, error) {
	if b.zr == nil && b.openErr == nil {
		zr, err := gzip.NewReader(b.raw)
		if err != nil {
			b.openErr = fmt.Errorf("%w: %v", errInvalidGzip, err)
		} else {
			b.zr = zr
		}
	}
	if b.openErr != nil {
		return 0, b.openErr
	}
	n, err := b.zr.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %v", errInvalidGzip, err)
	}
	return n, err
}

func (b *inflatedBody) Close() error {
	var zerr error
	if b.zr != nil {
		zerr = b.zr.Close()
	}
	return errors.Join(zerr, b.raw.Close())
}
