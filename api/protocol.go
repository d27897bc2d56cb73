package api

const (
	tasksPath = "/todo/api/v1.0/tasks"
	taskPath  = tasksPath + "/:id"

	routeGetTask = "get_task"

	maxTaskBodySize = 64 * 1024 // 64 KiB

	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// Error messages returned in the "error" member of failure responses.
const (
	msgBadRequest       = "Bad request"
	msgUnauthorized     = "Unauthorized access"
	msgNotFound         = "Not found"
	msgMethodNotAllowed = "Method not allowed"
	msgConflict         = "Request in progress"
	msgInternal         = "Internal server error"
)

// publicTask is the client facing form of a task: the id is replaced by the
// absolute uri of the task.
type publicTask struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
	Title       string `json:"title"`
	URI         string `json:"uri"`
}

// GET /todo/api/v1.0/tasks response body
type tasksResponse struct {
	Tasks []publicTask `json:"tasks"`
}

// single task response body for get, create and update
type taskResponse struct {
	Task publicTask `json:"task"`
}

// DELETE response body
type deleteResponse struct {
	Result bool `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newTasksResponse(tasks []publicTask) tasksResponse {
	if tasks == nil {
		tasks = []publicTask{}
	}
	return tasksResponse{Tasks: tasks}
}
