// Package webhook delivers task completion/failure notifications to
// caller-supplied URLs. Request construction and the POST-and-check-status
// shape follow internal/notification.Dispatcher.sendWebhook; the retry
// schedule replaces that function's single fire-and-forget attempt with
// bounded exponential backoff via cenkalti/backoff/v4, since task outcomes
// are higher-value than decision-point pings and are worth retrying.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/gatewayd/internal/gwtypes"
	"github.com/steveyegge/gatewayd/internal/idgen"
)

var logger = log.New(os.Stderr, "webhook: ", log.LstdFlags)

// Payload is the JSON body POSTed to a task's webhook URL on completion or
// failure.
type Payload struct {
	TaskID         string                    `json:"task_id"`
	Status         gwtypes.Status            `json:"status"`
	ModelName      string                    `json:"model_name"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	Result         *gwtypes.GenerationResult `json:"result,omitempty"`
	Error          *gwtypes.SessionError     `json:"error,omitempty"`
	FinishedAt     time.Time                 `json:"finished_at"`
}

// Delivery records the outcome of one Send call, across all of its retry
// attempts, for logging and for the task's log ring.
type Delivery struct {
	AttemptID string
	Attempts  int
	Delivered bool
	LastError string
}

// Sender posts task outcome payloads to webhook URLs with bounded retries.
type Sender struct {
	client     *http.Client
	maxRetries uint64
}

// NewSender constructs a Sender with the given per-request timeout and
// maximum retry attempts.
func NewSender(timeout time.Duration, maxRetries uint64) *Sender {
	return &Sender{
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// Send delivers payload to url, retrying on network errors and 5xx/429
// responses with exponential backoff. A 4xx response other than 429 is
// treated as permanent and not retried.
func (s *Sender) Send(ctx context.Context, url string, payload Payload) Delivery {
	data, err := json.Marshal(payload)
	if err != nil {
		return Delivery{LastError: fmt.Sprintf("marshal payload: %v", err)}
	}

	attemptID := idgen.WebhookAttemptID()
	var attempts int
	var lastErr error

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)

	op := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Gateway-Event", string(payload.Status))
		req.Header.Set("X-Gateway-Task-Id", payload.TaskID)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		lastErr = fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return lastErr
		}
		return backoff.Permanent(lastErr)
	}

	err = backoff.Retry(op, policy)
	if err != nil {
		logger.Printf("delivery %s to %s failed after %d attempts: %v", attemptID, url, attempts, lastErr)
		return Delivery{AttemptID: attemptID, Attempts: attempts, Delivered: false, LastError: lastErr.Error()}
	}
	return Delivery{AttemptID: attemptID, Attempts: attempts, Delivered: true}
}
