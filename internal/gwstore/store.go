// Package gwstore is the task store and priority queue: the sole
// coordination surface between HTTP handlers and the dispatcher. It is
// backed by Redis, generalizing the connection/TTL/namespace handling of
// internal/daemon/redis_wisp_store.go (the teacher's Redis-backed ephemeral
// issue store) to the gateway's session/queue/idempotency/log shape.
package gwstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

var logger = log.New(os.Stderr, "store: ", log.LstdFlags)

const (
	defaultNamespace = "gw"
)

// Option configures a Store.
type Option func(*Store)

// WithNamespace sets the Redis key namespace prefix.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// WithSessionTTL sets the TTL applied to session and per-task log keys.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithIdempotencyTTL sets the TTL applied to idempotency mappings.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// WithRecentLogsCap bounds the global recent-logs ring.
func WithRecentLogsCap(cap int) Option {
	return func(s *Store) {
		if cap > 0 {
			s.recentLogsCap = cap
		}
	}
}

// Store is the Redis-backed task store and priority queue.
type Store struct {
	client         *redis.Client
	namespace      string
	sessionTTL     time.Duration
	idempotencyTTL time.Duration
	recentLogsCap  int
}

// New connects to redisURL and returns a ready Store. Connectivity is
// verified with a Ping, the same up-front check redis_wisp_store.go
// performs so a misconfigured URL fails at startup rather than on first use.
func New(redisURL string, opts ...Option) (*Store, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "invalid redis URL")
	}

	client := redis.NewClient(redisOpts)

	s := &Store{
		client:         client,
		namespace:      defaultNamespace,
		sessionTTL:     24 * time.Hour,
		idempotencyTTL: 24 * time.Hour,
		recentLogsCap:  1000,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "redis ping failed")
	}

	return s, nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error { return s.client.Close() }

// Client exposes the underlying Redis client so co-located stores (the
// conversation store) can share one connection, per spec section 3's
// ownership summary ("conversation store... co-located in the same
// key-value service").
func (s *Store) Client() *redis.Client { return s.client }

// Namespace returns the configured key namespace prefix.
func (s *Store) Namespace() string { return s.namespace }

// HealthCheck performs a round-trip to the store.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "store health check failed")
	}
	return nil
}

func (s *Store) sessionKey(taskID string) string      { return s.namespace + ":session:" + taskID }
func (s *Store) queueKey() string                     { return s.namespace + ":queue:tasks" }
func (s *Store) queueSeqKey() string                  { return s.namespace + ":queue:seq" }
func (s *Store) processingKey() string                { return s.namespace + ":queue:processing" }
func (s *Store) idempotencyKey(key string) string     { return s.namespace + ":idempotency:" + key }
func (s *Store) taskLogKey(taskID string) string      { return s.namespace + ":logs:" + taskID }
func (s *Store) recentLogKey() string                 { return s.namespace + ":logs:recent" }
func (s *Store) gpuCacheKey() string                  { return s.namespace + ":system:gpu" }
func (s *Store) dailyStatKey(name string) string {
	return fmt.Sprintf("%s:stats:daily:%s", s.namespace, name)
}

// CreateSession writes a new pending session. If idempotencyKey is set, it
// also writes the idempotency mapping in the same pipeline so the two keys
// appear together from any reader's perspective.
func (s *Store) CreateSession(ctx context.Context, sess *gwtypes.Session) error {
	now := time.Now().UTC()
	sess.Status = gwtypes.StatusPending
	sess.CreatedAt = now
	sess.UpdatedAt = now

	fields, err := sessionFields(sess)
	if err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding session")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.sessionKey(sess.TaskID), fields)
	pipe.Expire(ctx, s.sessionKey(sess.TaskID), s.sessionTTL)
	if sess.IdempotencyKey != "" {
		pipe.Set(ctx, s.idempotencyKey(sess.IdempotencyKey), sess.TaskID, s.idempotencyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "creating session")
	}
	return nil
}

// GetSession returns the decoded session, or (nil, nil) if absent.
func (s *Store) GetSession(ctx context.Context, taskID string) (*gwtypes.Session, error) {
	m, err := s.client.HGetAll(ctx, s.sessionKey(taskID)).Result()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "getting session")
	}
	if len(m) == 0 {
		return nil, nil
	}
	return decodeSession(m)
}

// UpdateSessionStatus transitions a session to newStatus, writing updated_at
// and — for terminal states — finished_at plus result or error. It does not
// validate the transition DAG; the dispatcher is the sole writer and is
// responsible for calling this only along legal edges.
func (s *Store) UpdateSessionStatus(ctx context.Context, taskID string, newStatus gwtypes.Status, result *gwtypes.GenerationResult, sessErr *gwtypes.SessionError) error {
	now := time.Now().UTC()
	fields := map[string]any{
		"status":     string(newStatus),
		"updated_at": now.Format(time.RFC3339Nano),
	}
	if newStatus == gwtypes.StatusProcessing {
		fields["started_at"] = now.Format(time.RFC3339Nano)
	}
	if newStatus.Terminal() {
		fields["finished_at"] = now.Format(time.RFC3339Nano)
		if result != nil {
			b, err := json.Marshal(result)
			if err != nil {
				return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding result")
			}
			fields["result"] = string(b)
		}
		if sessErr != nil {
			b, err := json.Marshal(sessErr)
			if err != nil {
				return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding error")
			}
			fields["error"] = string(b)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.sessionKey(taskID), fields)
	pipe.Expire(ctx, s.sessionKey(taskID), s.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "updating session status")
	}
	return nil
}

// EnqueueTask adds task_id to the priority queue with score = -priority,
// tie-broken by a monotonic insertion sequence so equal-priority tasks pop
// in FIFO order.
func (s *Store) EnqueueTask(ctx context.Context, taskID string, priority float64) error {
	seq, err := s.client.Incr(ctx, s.queueSeqKey()).Result()
	if err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "allocating queue sequence")
	}
	score := -priority*1e12 + float64(seq%1e12)
	if err := s.client.ZAdd(ctx, s.queueKey(), redis.Z{Score: score, Member: taskID}).Err(); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "enqueueing task")
	}
	return nil
}

// DequeueTask atomically pops the lowest-score member, or ("", nil) if empty.
func (s *Store) DequeueTask(ctx context.Context) (string, error) {
	res, err := s.client.ZPopMin(ctx, s.queueKey(), 1).Result()
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "dequeueing task")
	}
	if len(res) == 0 {
		return "", nil
	}
	taskID, _ := res[0].Member.(string)
	return taskID, nil
}

// QueueDepth returns the number of tasks currently queued.
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.queueKey()).Result()
	if err != nil {
		return 0, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "counting queue")
	}
	return n, nil
}

// SetProcessing records the task currently held by the dispatcher.
func (s *Store) SetProcessing(ctx context.Context, taskID string) error {
	if err := s.client.Set(ctx, s.processingKey(), taskID, 0).Err(); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "setting processing")
	}
	return nil
}

// ClearProcessing clears the scalar dispatcher-owned "currently processing" marker.
func (s *Store) ClearProcessing(ctx context.Context) error {
	if err := s.client.Del(ctx, s.processingKey()).Err(); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "clearing processing")
	}
	return nil
}

// GetProcessing returns the task_id currently held by the dispatcher, if any.
func (s *Store) GetProcessing(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.processingKey()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "getting processing")
	}
	return v, nil
}

// TaskByIdempotency resolves an idempotency key to a previously minted task_id.
func (s *Store) TaskByIdempotency(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.idempotencyKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "resolving idempotency key")
	}
	return v, nil
}

// DeleteSession removes a session and its per-task log list.
func (s *Store) DeleteSession(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.sessionKey(taskID), s.taskLogKey(taskID)).Err(); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "deleting session")
	}
	return nil
}

// AppendLog appends a log record to the per-task log and the global
// recent-logs ring, trimming the ring to its configured cap.
func (s *Store) AppendLog(ctx context.Context, taskID, level, message string) error {
	entry := gwtypes.LogEntry{TaskID: taskID, Level: level, Message: message, Timestamp: time.Now().UTC()}
	b, err := json.Marshal(entry)
	if err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding log entry")
	}

	pipe := s.client.TxPipeline()
	if taskID != "" {
		pipe.RPush(ctx, s.taskLogKey(taskID), b)
		pipe.Expire(ctx, s.taskLogKey(taskID), s.sessionTTL)
	}
	pipe.RPush(ctx, s.recentLogKey(), b)
	pipe.LTrim(ctx, s.recentLogKey(), int64(-s.recentLogsCap), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Printf("append log failed for task %s: %v", taskID, err)
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "appending log")
	}
	return nil
}

// GetLogs returns the ordered log entries for a single task.
func (s *Store) GetLogs(ctx context.Context, taskID string) ([]gwtypes.LogEntry, error) {
	raw, err := s.client.LRange(ctx, s.taskLogKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "getting logs")
	}
	return decodeLogEntries(raw)
}

// GetRecentLogs returns up to limit of the most recent entries across all tasks.
func (s *Store) GetRecentLogs(ctx context.Context, limit int64) ([]gwtypes.LogEntry, error) {
	if limit <= 0 {
		limit = int64(s.recentLogsCap)
	}
	raw, err := s.client.LRange(ctx, s.recentLogKey(), -limit, -1).Result()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "getting recent logs")
	}
	return decodeLogEntries(raw)
}

// CacheGPUStats stashes a GPU telemetry snapshot with a short TTL so the
// monitor endpoint and the fan-out ticker can share a single recent read.
func (s *Store) CacheGPUStats(ctx context.Context, info *gwtypes.GPUInfo, ttl time.Duration) error {
	b, err := json.Marshal(info)
	if err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "encoding gpu stats")
	}
	if err := s.client.Set(ctx, s.gpuCacheKey(), b, ttl).Err(); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "caching gpu stats")
	}
	return nil
}

// GetCachedGPUStats returns the cached telemetry snapshot, or (nil, nil) if expired/absent.
func (s *Store) GetCachedGPUStats(ctx context.Context) (*gwtypes.GPUInfo, error) {
	b, err := s.client.Get(ctx, s.gpuCacheKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "getting cached gpu stats")
	}
	var info gwtypes.GPUInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "decoding cached gpu stats")
	}
	return &info, nil
}

// IncrementDailyStat bumps today's (UTC) counter by delta.
func (s *Store) IncrementDailyStat(ctx context.Context, name string, delta int64) error {
	day := time.Now().UTC().Format("2006-01-02")
	key := s.dailyStatKey(day)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, name, delta)
	pipe.Expire(ctx, key, 7*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "incrementing daily stat")
	}
	return nil
}

// DailyStats returns all counters recorded for the given YYYY-MM-DD day.
func (s *Store) DailyStats(ctx context.Context, day string) (map[string]int64, error) {
	m, err := s.client.HGetAll(ctx, s.dailyStatKey(day)).Result()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInfrastructureUnavailable, err, "getting daily stats")
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		var n int64
		_, _ = fmt.Sscanf(v, "%d", &n)
		out[k] = n
	}
	return out, nil
}
