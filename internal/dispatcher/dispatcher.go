// Package dispatcher owns the task lifecycle: submission, the single
// worker loop, and the terminal-state side effects (conversation append,
// webhook delivery, event emission). One Dispatcher exists per process,
// reflecting the single-GPU assumption. Structurally grounded on
// internal/coop.Client's public-contract-plus-private-worker shape, with
// the worker loop itself modeled on cmd/bd/monitor.go's pollMutations
// ticker-driven loop, generalized from a fixed interval to a non-blocking
// dequeue that sleeps briefly only when the queue is empty.
package dispatcher

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/gatewayd/internal/convo"
	"github.com/steveyegge/gatewayd/internal/gpu"
	"github.com/steveyegge/gatewayd/internal/gweventbus"
	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwstore"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
	"github.com/steveyegge/gatewayd/internal/idgen"
	"github.com/steveyegge/gatewayd/internal/provider"
	"github.com/steveyegge/gatewayd/internal/telemetry"
	"github.com/steveyegge/gatewayd/internal/webhook"
)

var logger = log.New(os.Stderr, "dispatcher: ", log.LstdFlags)

const dequeueIdleSleep = 500 * time.Millisecond

// SubmitRequest bundles submit_task's parameters.
type SubmitRequest struct {
	Model          string
	Prompt         string
	Messages       []gwtypes.Message
	Params         gwtypes.GenerationParams
	WebhookURL     string
	IdempotencyKey string
	Priority       float64
	ConversationID string
	SaveToConversation bool
}

// Dispatcher is the single-process task orchestrator.
type Dispatcher struct {
	store    *gwstore.Store
	convos   *convo.Store
	registry *provider.Registry
	guard    *gpu.Guard
	residency *gpu.Manager
	sender   *webhook.Sender
	bus      *gweventbus.Bus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Dispatcher wiring every collaborator it orchestrates.
func New(store *gwstore.Store, convos *convo.Store, registry *provider.Registry, guard *gpu.Guard, residency *gpu.Manager, sender *webhook.Sender, bus *gweventbus.Bus) *Dispatcher {
	return &Dispatcher{
		store:     store,
		convos:    convos,
		registry:  registry,
		guard:     guard,
		residency: residency,
		sender:    sender,
		bus:       bus,
	}
}

// SubmitTask implements submit_task: idempotency short-circuit, model
// resolvability check, session creation, enqueue, and event emission.
func (d *Dispatcher) SubmitTask(ctx context.Context, req SubmitRequest) (string, error) {
	if req.IdempotencyKey != "" {
		existing, err := d.store.TaskByIdempotency(ctx, req.IdempotencyKey)
		if err != nil {
			return "", err
		}
		if existing != "" {
			return existing, nil
		}
	}

	if req.Model != "" && !d.registry.Resolvable(req.Model) {
		return "", gwerrors.New(gwerrors.CodeModelNotFound, "model %q is not registered and no preset matches it", req.Model)
	}

	taskID := idgen.TaskID()
	now := time.Now().UTC()
	sess := &gwtypes.Session{
		TaskID:             taskID,
		ModelName:          req.Model,
		Prompt:             req.Prompt,
		Messages:           req.Messages,
		Params:             req.Params,
		WebhookURL:         req.WebhookURL,
		IdempotencyKey:     req.IdempotencyKey,
		ConversationID:     req.ConversationID,
		Priority:           req.Priority,
		SaveToConversation: req.SaveToConversation,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := d.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	if err := d.store.EnqueueTask(ctx, taskID, req.Priority); err != nil {
		return "", err
	}
	_ = d.store.AppendLog(ctx, taskID, "info", "created")
	d.bus.Publish(gweventbus.Event{Type: gweventbus.TypeTaskQueued, TaskID: taskID})

	return taskID, nil
}

// Start launches the worker loop as a background goroutine. Stop cancels
// it cooperatively: the loop only observes cancellation between tasks and
// never interrupts an in-flight generation.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop requests the worker loop to exit after its current task (if any)
// finishes, and blocks until it has.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		taskID, err := d.store.DequeueTask(ctx)
		if err != nil {
			logger.Printf("dequeue failed: %v", err)
			time.Sleep(dequeueIdleSleep)
			continue
		}
		if taskID == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueIdleSleep):
			}
			continue
		}

		// The task runs on a context detached from ctx's cancellation, so
		// Stop lets an in-flight generation finish; ctx is only observed
		// between tasks.
		taskCtx := context.WithoutCancel(ctx)
		d.processTask(taskCtx, taskID)
		if err := d.store.ClearProcessing(taskCtx); err != nil {
			logger.Printf("clear processing failed for %s: %v", taskID, err)
		}
	}
}

func (d *Dispatcher) processTask(ctx context.Context, taskID string) {
	tracer := telemetry.Tracer("github.com/steveyegge/gatewayd/dispatcher")
	ctx, span := tracer.Start(ctx, "dispatcher.process_task")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.task_id", taskID))

	sess, err := d.store.GetSession(ctx, taskID)
	if err != nil {
		logger.Printf("load session %s failed: %v", taskID, err)
		return
	}
	if sess == nil {
		logger.Printf("orphaned queue entry for missing session %s", taskID)
		return
	}
	span.SetAttributes(attribute.String("gateway.model", sess.ModelName))
	if sess.ConversationID != "" {
		span.SetAttributes(attribute.String("gateway.conversation_id", sess.ConversationID))
	}

	if err := d.store.SetProcessing(ctx, taskID); err != nil {
		logger.Printf("set processing %s failed: %v", taskID, err)
	}
	if err := d.store.UpdateSessionStatus(ctx, taskID, gwtypes.StatusProcessing, nil, nil); err != nil {
		logger.Printf("transition %s to processing failed: %v", taskID, err)
	}
	d.bus.Publish(gweventbus.Event{Type: gweventbus.TypeTaskStarted, TaskID: taskID})
	_ = d.store.AppendLog(ctx, taskID, "info", "processing")

	req, model, err := d.buildRequest(ctx, sess)
	if err != nil {
		d.fail(ctx, span, taskID, sess, err)
		return
	}

	p, err := d.registry.GetOrCreate(ctx, model)
	if err != nil {
		d.fail(ctx, span, taskID, sess, err)
		return
	}

	release, err := d.acquireGPU(ctx, taskID, model, p)
	if err != nil {
		d.fail(ctx, span, taskID, sess, err)
		return
	}
	defer release()

	result, err := p.Generate(ctx, req)
	if err != nil {
		d.fail(ctx, span, taskID, sess, err)
		return
	}

	if err := d.store.UpdateSessionStatus(ctx, taskID, gwtypes.StatusCompleted, result, nil); err != nil {
		logger.Printf("transition %s to completed failed: %v", taskID, err)
	}
	_ = d.store.IncrementDailyStat(ctx, "tasks_completed", 1)
	d.bus.Publish(gweventbus.Event{Type: gweventbus.TypeTaskCompleted, TaskID: taskID})
	_ = d.store.AppendLog(ctx, taskID, "info", "completed")

	if sess.ConversationID != "" && sess.SaveToConversation {
		_ = d.convos.AppendMessage(ctx, sess.ConversationID, gwtypes.Message{
			Role:    gwtypes.RoleAssistant,
			Content: result.Text,
		})
	}

	if sess.WebhookURL != "" {
		d.deliverWebhook(taskID, sess, result, nil)
	}
}

// buildRequest assembles the provider Request per step 3 of
// _process_task: prefer messages over prompt, prepend conversation
// history when attached, and adopt the conversation's model if the
// session did not specify one.
func (d *Dispatcher) buildRequest(ctx context.Context, sess *gwtypes.Session) (provider.Request, string, error) {
	model := sess.ModelName
	var history []gwtypes.Message

	if sess.ConversationID != "" {
		conv, err := d.convos.Get(ctx, sess.ConversationID)
		if err != nil {
			return provider.Request{}, "", err
		}
		if conv != nil {
			if model == "" {
				model = conv.Model
			}
			history, err = d.convos.Messages(ctx, sess.ConversationID, 0)
			if err != nil {
				return provider.Request{}, "", err
			}
		}
	}

	if model == "" {
		return provider.Request{}, "", gwerrors.New(gwerrors.CodeModelNotFound, "no model specified and no conversation to adopt one from")
	}

	req := provider.Request{Params: sess.Params}
	switch {
	case sess.HasMessages():
		req.Messages = append(append([]gwtypes.Message{}, history...), sess.Messages...)
	default:
		req.Prompt = sess.Prompt
		req.Messages = history
	}
	return req, model, nil
}

// acquireGPU prepares a provider that declares a VRAM requirement (the
// Loadable extension capability): it evicts least-recently-used residents
// via EnsureRoom, loads the model, and records it as resident under its
// model name. It then acquires the exclusive guard for every provider.
// Neither step rejects a task for insufficient VRAM: EnsureRoom proceeds
// when eviction cannot free enough, and Guard.Acquire does not check VRAM.
func (d *Dispatcher) acquireGPU(ctx context.Context, taskID, model string, p provider.Provider) (func(), error) {
	if loadable, ok := provider.AsLoadable(p); ok {
		required := loadable.RequiredVRAMMB()
		if _, err := d.residency.EnsureRoom(ctx, required); err != nil {
			return nil, err
		}
		if err := loadable.LoadModel(ctx); err != nil {
			return nil, gwerrors.Wrap(gwerrors.CodeGenerationFailed, err, "loading model")
		}
		d.residency.MarkLoaded(model, required, loadable)
	}
	return d.guard.Acquire(ctx, taskID)
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, taskID string, sess *gwtypes.Session, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	sessErr := &gwtypes.SessionError{
		Code:    string(gwerrors.CodeOf(err)),
		Message: err.Error(),
	}
	if sessErr.Code == "" {
		sessErr.Code = string(gwerrors.CodeGenerationFailed)
	}

	if uErr := d.store.UpdateSessionStatus(ctx, taskID, gwtypes.StatusFailed, nil, sessErr); uErr != nil {
		logger.Printf("transition %s to failed failed: %v", taskID, uErr)
	}
	_ = d.store.IncrementDailyStat(ctx, "tasks_failed", 1)
	d.bus.Publish(gweventbus.Event{Type: gweventbus.TypeTaskFailed, TaskID: taskID, Data: map[string]any{"error": sessErr.Message}})
	_ = d.store.AppendLog(ctx, taskID, "error", err.Error())
	logger.Printf("task %s failed: %v", taskID, err)

	if sess.WebhookURL != "" {
		d.deliverWebhook(taskID, sess, nil, sessErr)
	}
}

func (d *Dispatcher) deliverWebhook(taskID string, sess *gwtypes.Session, result *gwtypes.GenerationResult, sessErr *gwtypes.SessionError) {
	status := gwtypes.StatusCompleted
	if sessErr != nil {
		status = gwtypes.StatusFailed
	}
	payload := webhook.Payload{
		TaskID:         taskID,
		Status:         status,
		ModelName:      sess.ModelName,
		ConversationID: sess.ConversationID,
		Result:         result,
		Error:          sessErr,
		FinishedAt:     time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		delivery := d.sender.Send(ctx, sess.WebhookURL, payload)
		if !delivery.Delivered {
			_ = d.store.AppendLog(context.Background(), taskID, "warn", "webhook delivery failed: "+delivery.LastError)
		}
	}()
}
