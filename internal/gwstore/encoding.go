package gwstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

// sessionFields flattens a Session into the hash-field shape described in
// spec section 6's persisted state layout: scalar fields as strings,
// nested fields (messages, params, result, error) as JSON strings.
func sessionFields(sess *gwtypes.Session) (map[string]any, error) {
	paramsJSON, err := json.Marshal(sess.Params)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"task_id":              sess.TaskID,
		"status":               string(sess.Status),
		"model_name":           sess.ModelName,
		"prompt":               sess.Prompt,
		"params":               string(paramsJSON),
		"webhook_url":          sess.WebhookURL,
		"idempotency_key":      sess.IdempotencyKey,
		"conversation_id":      sess.ConversationID,
		"priority":             sess.Priority,
		"save_to_conversation": sess.SaveToConversation,
		"created_at":           sess.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":           sess.UpdatedAt.Format(time.RFC3339Nano),
	}

	if len(sess.Messages) > 0 {
		b, err := json.Marshal(sess.Messages)
		if err != nil {
			return nil, err
		}
		fields["messages"] = string(b)
	}
	if sess.StartedAt != nil {
		fields["started_at"] = sess.StartedAt.Format(time.RFC3339Nano)
	}
	if sess.FinishedAt != nil {
		fields["finished_at"] = sess.FinishedAt.Format(time.RFC3339Nano)
	}
	if sess.Result != nil {
		b, err := json.Marshal(sess.Result)
		if err != nil {
			return nil, err
		}
		fields["result"] = string(b)
	}
	if sess.Error != nil {
		b, err := json.Marshal(sess.Error)
		if err != nil {
			return nil, err
		}
		fields["error"] = string(b)
	}

	return fields, nil
}

func decodeSession(m map[string]string) (*gwtypes.Session, error) {
	sess := &gwtypes.Session{
		TaskID:             m["task_id"],
		Status:             gwtypes.Status(m["status"]),
		ModelName:          m["model_name"],
		Prompt:             m["prompt"],
		WebhookURL:         m["webhook_url"],
		IdempotencyKey:     m["idempotency_key"],
		ConversationID:     m["conversation_id"],
		SaveToConversation: m["save_to_conversation"] == "true" || m["save_to_conversation"] == "1",
	}

	if v, ok := m["priority"]; ok {
		var p float64
		_, _ = fmt.Sscanf(v, "%g", &p)
		sess.Priority = p
	}
	if v, ok := m["params"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &sess.Params); err != nil {
			return nil, err
		}
	}
	if v, ok := m["messages"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &sess.Messages); err != nil {
			return nil, err
		}
	}
	if v, ok := m["result"]; ok && v != "" {
		var r gwtypes.GenerationResult
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, err
		}
		sess.Result = &r
	}
	if v, ok := m["error"]; ok && v != "" {
		var e gwtypes.SessionError
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, err
		}
		sess.Error = &e
	}

	sess.CreatedAt = parseTime(m["created_at"])
	sess.UpdatedAt = parseTime(m["updated_at"])
	if v := m["started_at"]; v != "" {
		t := parseTime(v)
		sess.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t := parseTime(v)
		sess.FinishedAt = &t
	}

	return sess, nil
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeLogEntries(raw []string) ([]gwtypes.LogEntry, error) {
	out := make([]gwtypes.LogEntry, 0, len(raw))
	for _, r := range raw {
		var e gwtypes.LogEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
