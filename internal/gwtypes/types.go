// Package gwtypes holds the data model shared across the gateway: sessions,
// generation parameters/results, conversations, and log entries.
package gwtypes

import (
	"encoding/json"
	"time"
)

// Status is a session's position in the task lifecycle DAG.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status accepts no further mutation except delete.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FinishReason is why generation stopped.
type FinishReason string

const (
	FinishStop  FinishReason = "stop"
	FinishLen   FinishReason = "length"
	FinishError FinishReason = "error"
)

// Role is a conversation message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// GenerationParams is the bag of generation knobs forwarded to a provider.
type GenerationParams struct {
	Temperature       float64        `json:"temperature,omitempty"`
	MaxTokens         int            `json:"max_tokens,omitempty"`
	TopP              float64        `json:"top_p,omitempty"`
	TopK              int            `json:"top_k,omitempty"`
	FrequencyPenalty  float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty   float64        `json:"presence_penalty,omitempty"`
	StopSequences     []string       `json:"stop_sequences,omitempty"`
	Seed              *int64         `json:"seed,omitempty"`
	ResponseFormat    json.RawMessage `json:"response_format,omitempty"`
	Grammar           string         `json:"grammar,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Usage reports token accounting for a single generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is what a provider returns for a completed generation.
type GenerationResult struct {
	Text         string         `json:"text"`
	FinishReason FinishReason   `json:"finish_reason"`
	Usage        Usage          `json:"usage"`
	ModelName    string         `json:"model_name"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// StreamChunk is one element of a generate_stream sequence.
type StreamChunk struct {
	Delta        string        `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
}

// Session is the persisted record of one submitted task.
type Session struct {
	TaskID         string            `json:"task_id"`
	Status         Status            `json:"status"`
	ModelName      string            `json:"model_name"`
	Prompt         string            `json:"prompt,omitempty"`
	Messages       []Message         `json:"messages,omitempty"`
	Params         GenerationParams  `json:"params"`
	WebhookURL     string            `json:"webhook_url,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Priority       float64           `json:"priority"`
	SaveToConversation bool          `json:"save_to_conversation"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	Result         *GenerationResult `json:"result,omitempty"`
	Error          *SessionError     `json:"error,omitempty"`
}

// SessionError is the terminal error recorded on a failed session.
type SessionError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HasMessages reports whether the task was submitted with a message list
// rather than a bare prompt string.
func (s *Session) HasMessages() bool {
	return len(s.Messages) > 0
}

// Conversation is the metadata record for a multi-turn session.
type Conversation struct {
	ConversationID string         `json:"conversation_id"`
	Model          string         `json:"model,omitempty"`
	SystemPrompt   string         `json:"system_prompt,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	MessageCount   int            `json:"message_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// LogEntry is one record in a task's log or the global recent-logs ring.
type LogEntry struct {
	TaskID    string    `json:"task_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelInfo is static metadata describing a provider's model.
type ModelInfo struct {
	Name                      string         `json:"name"`
	ProviderKind              string         `json:"provider_kind"`
	ContextWindow             int            `json:"context_window"`
	MaxOutputTokens           int            `json:"max_output_tokens"`
	SupportsStreaming         bool           `json:"supports_streaming"`
	SupportsStructuredOutput  bool           `json:"supports_structured_output"`
	Loaded                    bool           `json:"loaded"`
	Extra                     map[string]any `json:"extra,omitempty"`
}

// VRAMUsage is a point-in-time snapshot of device memory.
type VRAMUsage struct {
	TotalMB      int64   `json:"total_mb"`
	UsedMB       int64   `json:"used_mb"`
	FreeMB       int64   `json:"free_mb"`
	UsedPercent  float64 `json:"used_percent"`
}

// GPUInfo is device telemetry surfaced for monitoring.
type GPUInfo struct {
	Name        string  `json:"name"`
	Driver      string  `json:"driver"`
	CUDAVersion string  `json:"cuda_version"`
	Temperature float64 `json:"temperature_c"`
	Utilization float64 `json:"utilization_percent"`
	VRAM        VRAMUsage `json:"vram"`
}
