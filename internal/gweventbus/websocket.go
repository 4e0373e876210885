package gweventbus

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steveyegge/gatewayd/internal/idgen"
)

var wsLogger = log.New(os.Stderr, "gweventbus: ", log.LstdFlags)

// upgrader follows cmd/bd/monitor.go's permissive CheckOrigin: the
// dashboard this serves is typically same-host or behind a reverse proxy
// that already restricts access.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const heartbeatInterval = 30 * time.Second

// knownEventTypes is advertised to a subscriber on connect.
var knownEventTypes = []Type{
	TypeTaskQueued, TypeTaskStarted, TypeTaskProgress, TypeTaskCompleted,
	TypeTaskFailed, TypeModelLoaded, TypeModelUnloaded, TypeGPUStats, TypeLog,
}

// controlMessage is a subscriber-sent JSON control frame.
type controlMessage struct {
	Type   string   `json:"type"`
	Events []string `json:"events,omitempty"`
	TaskID *string  `json:"task_id,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// controlReply is a bus-sent JSON control/event frame.
type controlReply struct {
	Type         string   `json:"type"`
	ConnectionID string   `json:"connection_id,omitempty"`
	EventTypes   []string `json:"event_types,omitempty"`
	Events       []string `json:"events,omitempty"`
	TaskID       *string  `json:"task_id,omitempty"`
	Message      string   `json:"message,omitempty"`
	Data         any      `json:"data,omitempty"`
}

// Handlers supplies the query-style control messages (get_queue_stats,
// get_task, get_errors, get_active_tasks) with backing data. Any field left
// nil yields an error reply for that message type rather than a panic,
// since a monitor client asking about queue depth should never be able to
// crash the connection.
type Handlers struct {
	QueueStats  func(ctx context.Context) (any, error)
	Task        func(ctx context.Context, taskID string) (any, error)
	RecentErrors func(ctx context.Context, limit int) (any, error)
	ActiveTasks func(ctx context.Context) (any, error)
}

// ServeWS upgrades r to a WebSocket and streams events to the subscriber,
// honoring the bidirectional control protocol (subscribe/unsubscribe,
// filter_task, ping, stat queries). Mirrors handleWebSocket's
// register-on-connect, write-until-error, cleanup-on-defer shape; the
// single global broadcast channel there becomes a per-connection filtered
// Subscription so monitor clients only receive what they asked for.
func ServeWS(bus *Bus, handlers Handlers, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLogger.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	filter := Filter{Types: nil} // nil Types == wildcard "*"
	sub := bus.Subscribe(filter, 64)
	defer sub.Unsubscribe()

	connID := idgen.ConnectionID()
	eventNames := make([]string, len(knownEventTypes))
	for i, t := range knownEventTypes {
		eventNames[i] = string(t)
	}
	writeJSON(conn, controlReply{Type: "connected", ConnectionID: connID, EventTypes: eventNames})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	incoming := make(chan controlMessage, 8)
	go readControl(conn, incoming, cancel)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			if err := handleControl(ctx, bus, sub, handlers, conn, msg); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := writeJSON(conn, controlReply{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}

func readControl(conn *websocket.Conn, out chan<- controlMessage, cancel context.CancelFunc) {
	defer cancel()
	defer close(out)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = writeJSON(conn, controlReply{Type: "error", Message: "invalid JSON"})
			continue
		}
		out <- msg
	}
}

func handleControl(ctx context.Context, bus *Bus, sub *Subscription, handlers Handlers, conn *websocket.Conn, msg controlMessage) error {
	switch msg.Type {
	case "subscribe":
		f := sub.currentFilter()
		f.Types = unionTypes(f.Types, msg.Events)
		sub.SetFilter(f)
		return writeJSON(conn, controlReply{Type: "subscribed", Events: msg.Events})
	case "unsubscribe":
		f := sub.currentFilter()
		f.Types = subtractTypes(f.Types, msg.Events)
		sub.SetFilter(f)
		return writeJSON(conn, controlReply{Type: "unsubscribed", Events: msg.Events})
	case "filter_task":
		taskID := ""
		if msg.TaskID != nil {
			taskID = *msg.TaskID
		}
		f := sub.currentFilter()
		f.TaskID = taskID
		sub.SetFilter(f)
		return writeJSON(conn, controlReply{Type: "filter_set", TaskID: msg.TaskID})
	case "ping":
		return writeJSON(conn, controlReply{Type: "pong"})
	case "get_queue_stats":
		return replyFromHandler(ctx, conn, "queue_stats", handlers.QueueStats)
	case "get_stats":
		return replyFromHandler(ctx, conn, "queue_stats", handlers.QueueStats)
	case "get_active_tasks":
		return replyFromHandler(ctx, conn, "initial", handlers.ActiveTasks)
	case "get_errors":
		if handlers.RecentErrors == nil {
			return writeJSON(conn, controlReply{Type: "error", Message: "not supported"})
		}
		data, err := handlers.RecentErrors(ctx, msg.Limit)
		if err != nil {
			return writeJSON(conn, controlReply{Type: "error", Message: err.Error()})
		}
		return writeJSON(conn, controlReply{Type: "initial", Data: data})
	case "get_task":
		if handlers.Task == nil || msg.TaskID == nil {
			return writeJSON(conn, controlReply{Type: "error", Message: "not supported"})
		}
		data, err := handlers.Task(ctx, *msg.TaskID)
		if err != nil {
			return writeJSON(conn, controlReply{Type: "error", Message: err.Error()})
		}
		return writeJSON(conn, controlReply{Type: "initial", TaskID: msg.TaskID, Data: data})
	default:
		return writeJSON(conn, controlReply{Type: "error", Message: "unknown message type"})
	}
}

func replyFromHandler(ctx context.Context, conn *websocket.Conn, replyType string, fn func(context.Context) (any, error)) error {
	if fn == nil {
		return writeJSON(conn, controlReply{Type: "error", Message: "not supported"})
	}
	data, err := fn(ctx)
	if err != nil {
		return writeJSON(conn, controlReply{Type: "error", Message: err.Error()})
	}
	return writeJSON(conn, controlReply{Type: replyType, Data: data})
}

func writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func writeEvent(conn *websocket.Conn, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// unionTypes adds names to the allow-set; a nil/empty allow-set means
// wildcard "*" and stays wildcard (subscribing further narrows nothing).
func unionTypes(allow map[Type]bool, names []string) map[Type]bool {
	if allow == nil {
		return nil
	}
	for _, n := range names {
		if n == "*" {
			return nil
		}
		allow[matchingType(n)] = true
	}
	return allow
}

func subtractTypes(allow map[Type]bool, names []string) map[Type]bool {
	if allow == nil {
		allow = make(map[Type]bool, len(knownEventTypes))
		for _, t := range knownEventTypes {
			allow[t] = true
		}
	}
	for _, n := range names {
		delete(allow, matchingType(n))
	}
	return allow
}

func matchingType(name string) Type {
	if strings.HasSuffix(name, ".*") {
		return Type(name) // stored verbatim; Filter.allowsType (bus.go) handles prefix expansion
	}
	return Type(name)
}

// GPUStatsFunc produces a gpu_stats event's payload, typically backed by
// gpu.Monitor.GetGPUInfo.
type GPUStatsFunc func(ctx context.Context) (map[string]any, error)

// RunGPUTicker publishes a gpu_stats event on bus every interval until ctx
// is cancelled, but only while at least one subscriber is active. Grounded
// on cmd/bd/monitor.go's pollMutations ticker loop, replacing its RPC poll
// with a direct telemetry call.
func RunGPUTicker(ctx context.Context, bus *Bus, interval time.Duration, stats GPUStatsFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if bus.SubscriberCount() == 0 {
				continue
			}
			data, err := stats(ctx)
			if err != nil {
				wsLogger.Printf("gpu stats collection failed: %v", err)
				continue
			}
			bus.Publish(Event{Type: TypeGPUStats, Data: data})
		}
	}
}
