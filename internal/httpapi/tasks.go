package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/steveyegge/gatewayd/internal/dispatcher"
	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

// taskReportMetrics is the timing breakdown over a session's lifecycle
// timestamps, omitting any leg whose endpoints are not both set yet.
type taskReportMetrics struct {
	QueueWaitMS *int64 `json:"queue_wait_ms,omitempty"`
	InferenceMS *int64 `json:"inference_ms,omitempty"`
	TotalMS     *int64 `json:"total_ms,omitempty"`
}

// taskReport is the `/tasks/{id}/report` response: the session's status and
// timestamps, a computed timing breakdown, and the task's log trail.
type taskReport struct {
	TaskID     string                   `json:"task_id"`
	Status     gwtypes.Status           `json:"status"`
	ModelName  string                   `json:"model_name"`
	CreatedAt  string                   `json:"created_at"`
	StartedAt  *string                  `json:"started_at,omitempty"`
	FinishedAt *string                  `json:"finished_at,omitempty"`
	Metrics    taskReportMetrics        `json:"metrics"`
	Result     *gwtypes.GenerationResult `json:"result,omitempty"`
	Error      *gwtypes.SessionError    `json:"error,omitempty"`
	Logs       []gwtypes.LogEntry       `json:"logs"`
}

type submitTaskRequest struct {
	Model              string                   `json:"model"`
	Prompt             string                   `json:"prompt,omitempty"`
	Messages           []gwtypes.Message        `json:"messages,omitempty"`
	Params             gwtypes.GenerationParams `json:"params,omitempty"`
	WebhookURL         string                   `json:"webhook_url,omitempty"`
	IdempotencyKey     string                   `json:"idempotency_key,omitempty"`
	Priority           float64                  `json:"priority,omitempty"`
	ConversationID     string                   `json:"conversation_id,omitempty"`
	SaveToConversation bool                     `json:"save_to_conversation,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitTask(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gwerrors.New(gwerrors.CodeValidation, "invalid request body: %v", err))
		return
	}
	if req.Prompt == "" && len(req.Messages) == 0 {
		writeError(w, gwerrors.New(gwerrors.CodeValidation, "either prompt or messages is required"))
		return
	}

	taskID, err := s.dispatcher.SubmitTask(r.Context(), dispatcher.SubmitRequest{
		Model:              req.Model,
		Prompt:             req.Prompt,
		Messages:           req.Messages,
		Params:             req.Params,
		WebhookURL:         req.WebhookURL,
		IdempotencyKey:     req.IdempotencyKey,
		Priority:           req.Priority,
		ConversationID:     req.ConversationID,
		SaveToConversation: req.SaveToConversation,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if taskID == "" {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(taskID, "/logs") {
		s.taskLogs(w, r, strings.TrimSuffix(taskID, "/logs"))
		return
	}
	if strings.HasSuffix(taskID, "/report") {
		s.taskReport(w, r, strings.TrimSuffix(taskID, "/report"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getTask(w, r, taskID)
	case http.MethodDelete:
		s.deleteTask(w, r, taskID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	sess, err := s.store.GetSession(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		writeError(w, gwerrors.New(gwerrors.CodeNotFound, "task %s not found", taskID))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, taskID string) {
	sess, err := s.store.GetSession(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		writeError(w, gwerrors.New(gwerrors.CodeNotFound, "task %s not found", taskID))
		return
	}
	if !sess.Status.Terminal() {
		writeError(w, gwerrors.New(gwerrors.CodeConflict, "task %s has not reached a terminal state", taskID))
		return
	}
	if err := s.store.DeleteSession(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) taskLogs(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logs, err := s.store.GetLogs(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// taskReport serves the detailed per-task report: status, timestamps, a
// timing breakdown computed from those timestamps, and the log trail.
func (s *Server) taskReport(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.store.GetSession(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		writeError(w, gwerrors.New(gwerrors.CodeNotFound, "task %s not found", taskID))
		return
	}
	logs, err := s.store.GetLogs(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	report := taskReport{
		TaskID:    sess.TaskID,
		Status:    sess.Status,
		ModelName: sess.ModelName,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339Nano),
		Logs:      logs,
	}
	if sess.StartedAt != nil {
		startedAt := sess.StartedAt.Format(time.RFC3339Nano)
		report.StartedAt = &startedAt
		report.Metrics.QueueWaitMS = durationMS(sess.CreatedAt, *sess.StartedAt)
	}
	if sess.FinishedAt != nil {
		f := sess.FinishedAt.Format(time.RFC3339Nano)
		report.FinishedAt = &f
		report.Metrics.TotalMS = durationMS(sess.CreatedAt, *sess.FinishedAt)
		if sess.StartedAt != nil {
			report.Metrics.InferenceMS = durationMS(*sess.StartedAt, *sess.FinishedAt)
		}
	}
	if sess.Status == gwtypes.StatusCompleted {
		report.Result = sess.Result
	}
	if sess.Status == gwtypes.StatusFailed {
		report.Error = sess.Error
	}

	writeJSON(w, http.StatusOK, report)
}

// durationMS returns the millisecond span between two timestamps as a
// pointer, matching the report's omitempty-on-unset convention.
func durationMS(from, to time.Time) *int64 {
	ms := to.Sub(from).Milliseconds()
	return &ms
}
