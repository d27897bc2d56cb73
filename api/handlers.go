package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// Config holds the optional collaborators of the task routes.
type Config struct {
	// BaseURL replaces the scheme and host of rendered task uris when set.
	BaseURL string
	// Idempotency enables Idempotency-Key handling on create when set.
	Idempotency IdempotencyStore
	// Events receives task change events when set.
	Events *EventDispatcher
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, cfg Config, logger *log.Logger) {
	e.HTTPErrorHandler = HTTPErrorHandler(logger)
	e.JSONSerializer = SonicJSONSerializer{}

	e.GET(tasksPath, getTasks(store, auth, cfg, logger))
	e.POST(tasksPath, createTask(store, auth, cfg, logger))
	e.GET(taskPath, getTask(store, auth, cfg, logger)).Name = routeGetTask
	e.PUT(taskPath, updateTask(store, auth, cfg, logger))
	e.DELETE(taskPath, deleteTask(store, auth, cfg, logger))
	e.GET("/healthz", healthz(store))
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := store.ListTasks(c.Request().Context()); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(store Storage, auth Authenticator, cfg Config, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginTaskRequest(c, logger, tasksPath, "list")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		if !authorize(c, auth, metrics) {
			return writeError(c, http.StatusForbidden)
		}

		fetchStart := time.Now()
		tasks, fetchErr := store.ListTasks(ctx)
		metrics.ObserveStore(time.Since(fetchStart))
		if fetchErr != nil {
			return storeFailure(c, logger, metrics, fetchErr)
		}
		metrics.SetTasksReturned(len(tasks))
		return encode(c, metrics, http.StatusOK, newTasksResponse(renderTasks(c, cfg.BaseURL, tasks)))
	}
}

func getTask(store Storage, auth Authenticator, cfg Config, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginTaskRequest(c, logger, taskPath, "get")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id, ok := taskIDParam(c)
		if !ok {
			metrics.SetErrorStage("route", nil)
			return writeError(c, http.StatusNotFound)
		}
		metrics.SetTaskID(id)
		if !authorize(c, auth, metrics) {
			return writeError(c, http.StatusForbidden)
		}

		fetchStart := time.Now()
		task, fetchErr := store.GetTask(ctx, id)
		metrics.ObserveStore(time.Since(fetchStart))
		if fetchErr != nil {
			return storeFailure(c, logger, metrics, fetchErr)
		}
		return encode(c, metrics, http.StatusOK, taskResponse{Task: renderTask(c, cfg.BaseURL, task)})
	}
}

func createTask(store Storage, auth Authenticator, cfg Config, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginTaskRequest(c, logger, tasksPath, "create")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		if !authorize(c, auth, metrics) {
			return writeError(c, http.StatusForbidden)
		}

		body, readErr := readJSONBody(c)
		if readErr != nil {
			metrics.SetErrorStage("invalid_body", readErr)
			return writeError(c, http.StatusBadRequest)
		}
		in, decodeErr := domain.DecodeNewTask(body)
		if decodeErr != nil {
			metrics.SetErrorStage("validation", decodeErr)
			return writeError(c, http.StatusBadRequest)
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		metrics.SetIdempotencyKeyProvided(key != "")
		claimed := false
		if key != "" && cfg.Idempotency != nil {
			ok, existingID, claimErr := cfg.Idempotency.Claim(ctx, key)
			switch {
			case errors.Is(claimErr, errIdempotencyKeyTooLong):
				metrics.SetErrorStage("idempotency_key", claimErr)
				return writeError(c, http.StatusBadRequest)
			case claimErr != nil:
				logger.WithError(claimErr).Warn("idempotency claim failed; creating without dedupe")
			case ok:
				claimed = true
			case existingID == 0:
				metrics.SetErrorStage("idempotency_in_flight", nil)
				return writeError(c, http.StatusConflict)
			default:
				return replayCreate(c, store, cfg, logger, metrics, existingID)
			}
		}

		createStart := time.Now()
		task, createErr := store.CreateTask(ctx, in)
		metrics.ObserveStore(time.Since(createStart))
		if createErr != nil {
			if claimed {
				if rerr := cfg.Idempotency.Release(context.WithoutCancel(ctx), key); rerr != nil {
					logger.WithError(rerr).WithField("key", key).Error("idempotency release failed")
				}
			}
			return storeFailure(c, logger, metrics, createErr)
		}
		metrics.SetTaskID(task.ID)
		if claimed {
			if cerr := cfg.Idempotency.Complete(context.WithoutCancel(ctx), key, task.ID); cerr != nil {
				logger.WithError(cerr).WithField("key", key).Error("idempotency completion failed")
			}
		}

		cfg.Events.Dispatch(newTaskEvent(domain.TaskCreated, task.ID, &task))
		return encode(c, metrics, http.StatusCreated, taskResponse{Task: renderTask(c, cfg.BaseURL, task)})
	}
}

// replayCreate answers a repeated create with the task the first request made.
func replayCreate(c echo.Context, store Storage, cfg Config, logger *log.Logger, metrics *taskRequestMetrics, id int64) error {
	metrics.SetReplayed(true)
	metrics.SetTaskID(id)
	fetchStart := time.Now()
	task, err := store.GetTask(c.Request().Context(), id)
	metrics.ObserveStore(time.Since(fetchStart))
	if err != nil {
		return storeFailure(c, logger, metrics, err)
	}
	c.Response().Header().Set(headerReplayed, "true")
	return encode(c, metrics, http.StatusCreated, taskResponse{Task: renderTask(c, cfg.BaseURL, task)})
}

func updateTask(store Storage, auth Authenticator, cfg Config, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginTaskRequest(c, logger, taskPath, "update")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id, ok := taskIDParam(c)
		if !ok {
			metrics.SetErrorStage("route", nil)
			return writeError(c, http.StatusNotFound)
		}
		metrics.SetTaskID(id)
		if !authorize(c, auth, metrics) {
			return writeError(c, http.StatusForbidden)
		}

		body, parseErr := readJSONBody(c)
		var patch domain.TaskPatch
		if parseErr == nil {
			patch, parseErr = domain.DecodeTaskPatch(body)
		}
		if parseErr != nil {
			// a missing task is reported before a bad body
			if _, getErr := store.GetTask(ctx, id); errors.Is(getErr, domain.ErrNotFound) {
				return storeFailure(c, logger, metrics, getErr)
			}
			metrics.SetErrorStage("validation", parseErr)
			return writeError(c, http.StatusBadRequest)
		}

		updateStart := time.Now()
		task, updateErr := store.UpdateTask(ctx, id, patch)
		metrics.ObserveStore(time.Since(updateStart))
		if updateErr != nil {
			return storeFailure(c, logger, metrics, updateErr)
		}

		if !patch.Empty() {
			cfg.Events.Dispatch(newTaskEvent(domain.TaskUpdated, task.ID, &task))
		}
		return encode(c, metrics, http.StatusOK, taskResponse{Task: renderTask(c, cfg.BaseURL, task)})
	}
}

func deleteTask(store Storage, auth Authenticator, cfg Config, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginTaskRequest(c, logger, taskPath, "delete")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id, ok := taskIDParam(c)
		if !ok {
			metrics.SetErrorStage("route", nil)
			return writeError(c, http.StatusNotFound)
		}
		metrics.SetTaskID(id)
		if !authorize(c, auth, metrics) {
			return writeError(c, http.StatusForbidden)
		}

		deleteStart := time.Now()
		deleteErr := store.DeleteTask(ctx, id)
		metrics.ObserveStore(time.Since(deleteStart))
		if deleteErr != nil {
			return storeFailure(c, logger, metrics, deleteErr)
		}

		cfg.Events.Dispatch(newTaskEvent(domain.TaskDeleted, id, nil))
		return encode(c, metrics, http.StatusOK, deleteResponse{Result: true})
	}
}

// beginTaskRequest starts the request span and makes its context the request
// context.
func beginTaskRequest(c echo.Context, logger *log.Logger, route, operation string) (*taskRequestMetrics, context.Context) {
	metrics, spanCtx := newTaskRequestMetrics(c.Request().Context(), logger, route, operation)
	c.SetRequest(c.Request().WithContext(spanCtx))
	return metrics, spanCtx
}

func authorize(c echo.Context, auth Authenticator, metrics *taskRequestMetrics) bool {
	authStart := time.Now()
	err := auth.Authorize(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if err != nil {
		metrics.SetErrorStage("auth", err)
		return false
	}
	return true
}

// storeFailure maps a Storage error to its response.
func storeFailure(c echo.Context, logger *log.Logger, metrics *taskRequestMetrics, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.SetErrorStage("not_found", err)
		return writeError(c, http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		metrics.SetErrorStage("validation", err)
		return writeError(c, http.StatusBadRequest)
	default:
		metrics.SetErrorStage("storage", err)
		logger.WithError(err).Error("task storage failure")
		return writeError(c, http.StatusInternalServerError)
	}
}

func encode(c echo.Context, metrics *taskRequestMetrics, status int, body any) error {
	encodeStart := time.Now()
	err := c.JSON(status, body)
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response", err)
	}
	return err
}

// taskIDParam parses the :id path segment. Anything but a non-negative
// decimal integer does not name a task.
func taskIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 63)
	if err != nil {
		return 0, false
	}
	return int64(id), true
}

// readJSONBody returns the request body of a JSON request, capped at
// maxTaskBodySize.
func readJSONBody(c echo.Context) ([]byte, error) {
	req := c.Request()
	if !isJSONContentType(req.Header.Get(echo.HeaderContentType)) {
		return nil, fmt.Errorf("%w: content type must be application/json", domain.ErrInvalidInput)
	}
	if req.Body == nil {
		return nil, fmt.Errorf("%w: empty body", domain.ErrInvalidInput)
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxTaskBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrInvalidInput, err)
	}
	if len(data) > maxTaskBodySize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrInvalidInput, maxTaskBodySize)
	}
	return data, nil
}

func isJSONContentType(header string) bool {
	if header == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return mediaType == echo.MIMEApplicationJSON ||
		(strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json"))
}
