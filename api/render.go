package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"todo-api/domain"
)

// taskURI returns the absolute url of the get-task route for id. With a
// configured base url the host of the request is ignored.
func taskURI(c echo.Context, baseURL string, id int64) string {
	path := c.Echo().Reverse(routeGetTask, id)
	if path == "" {
		path = tasksPath + "/" + strconv.FormatInt(id, 10)
	}
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/") + path
	}
	return c.Scheme() + "://" + c.Request().Host + path
}

func renderTask(c echo.Context, baseURL string, t domain.Task) publicTask {
	return publicTask{
		Description: t.Description,
		Done:        t.Done,
		Title:       t.Title,
		URI:         taskURI(c, baseURL, t.ID),
	}
}

func renderTasks(c echo.Context, baseURL string, tasks []domain.Task) []publicTask {
	out := make([]publicTask, len(tasks))
	for i := range tasks {
		out[i] = renderTask(c, baseURL, tasks[i])
	}
	return out
}
