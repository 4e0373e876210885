package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestSubmitTaskReturns202WithTaskID(t *testing.T) {
	api := newTestAPI(t)
	resp := postJSON(t, api.url+"/api/v1/tasks", map[string]any{"model": "echo", "prompt": "hi"})

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, body["task_id"])
}

func TestSubmitTaskRequiresPromptOrMessages(t *testing.T) {
	api := newTestAPI(t)
	resp := postJSON(t, api.url+"/api/v1/tasks", map[string]any{"model": "echo"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitTaskUnknownModelReturns404(t *testing.T) {
	api := newTestAPI(t)
	resp := postJSON(t, api.url+"/api/v1/tasks", map[string]any{"model": "ghost", "prompt": "hi"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTaskReturnsSubmittedSession(t *testing.T) {
	api := newTestAPI(t)
	submitResp := postJSON(t, api.url+"/api/v1/tasks", map[string]any{"model": "echo", "prompt": "hi"})
	var submitted map[string]string
	decodeJSON(t, submitResp, &submitted)

	resp, err := http.Get(api.url + "/api/v1/tasks/" + submitted["task_id"])
	require.NoError(t, err)
	var sess gwtypes.Session
	decodeJSON(t, resp, &sess)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, submitted["task_id"], sess.TaskID)
	assert.Equal(t, gwtypes.StatusPending, sess.Status)
}

func TestGetTaskMissingReturns404(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Get(api.url + "/api/v1/tasks/does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteTaskRefusesNonTerminalTask(t *testing.T) {
	api := newTestAPI(t)
	submitResp := postJSON(t, api.url+"/api/v1/tasks", map[string]any{"model": "echo", "prompt": "hi"})
	var submitted map[string]string
	decodeJSON(t, submitResp, &submitted)

	req, _ := http.NewRequest(http.MethodDelete, api.url+"/api/v1/tasks/"+submitted["task_id"], nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteTaskRemovesTerminalSession(t *testing.T) {
	api := newTestAPI(t)
	submitResp := postJSON(t, api.url+"/api/v1/tasks", map[string]any{"model": "echo", "prompt": "hi"})
	var submitted map[string]string
	decodeJSON(t, submitResp, &submitted)

	require.NoError(t, api.store.UpdateSessionStatus(context.Background(), submitted["task_id"], gwtypes.StatusCompleted, &gwtypes.GenerationResult{Text: "hi"}, nil))

	req, _ := http.NewRequest(http.MethodDelete, api.url+"/api/v1/tasks/"+submitted["task_id"], nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	getResp, err := http.Get(api.url + "/api/v1/tasks/" + submitted["task_id"])
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestTaskLogsReturnsAppendedEntries(t *testing.T) {
	api := newTestAPI(t)
	submitResp := postJSON(t, api.url+"/api/v1/tasks", map[string]any{"model": "echo", "prompt": "hi"})
	var submitted map[string]string
	decodeJSON(t, submitResp, &submitted)

	resp, err := http.Get(api.url + "/api/v1/tasks/" + submitted["task_id"] + "/logs")
	require.NoError(t, err)
	var logs []gwtypes.LogEntry
	decodeJSON(t, resp, &logs)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, logs)
	assert.Equal(t, "created", logs[0].Message)
}

func TestTaskReportReturnsMetricsAndLogs(t *testing.T) {
	api := newTestAPI(t)
	submitResp := postJSON(t, api.url+"/api/v1/tasks", map[string]any{"model": "echo", "prompt": "hi"})
	var submitted map[string]string
	decodeJSON(t, submitResp, &submitted)
	taskID := submitted["task_id"]

	require.NoError(t, api.store.UpdateSessionStatus(context.Background(), taskID, gwtypes.StatusProcessing, nil, nil))
	require.NoError(t, api.store.UpdateSessionStatus(context.Background(), taskID, gwtypes.StatusCompleted, &gwtypes.GenerationResult{Text: "hi"}, nil))

	resp, err := http.Get(api.url + "/api/v1/tasks/" + taskID + "/report")
	require.NoError(t, err)
	var report map[string]any
	decodeJSON(t, resp, &report)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, taskID, report["task_id"])
	assert.Equal(t, string(gwtypes.StatusCompleted), report["status"])
	require.NotNil(t, report["logs"])

	metrics, ok := report["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, metrics, "queue_wait_ms")
	assert.Contains(t, metrics, "inference_ms")
	assert.Contains(t, metrics, "total_ms")
}

func TestTaskReportMissingReturns404(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Get(api.url + "/api/v1/tasks/does-not-exist/report")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTasksEndpointRejectsUnsupportedMethod(t *testing.T) {
	api := newTestAPI(t)
	req, _ := http.NewRequest(http.MethodPatch, api.url+"/api/v1/tasks", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
