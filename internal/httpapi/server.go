// Package httpapi exposes the gateway's HTTP surface: task submission and
// inspection, model registration/lifecycle, conversation CRUD, and the
// monitor endpoints (health, gpu, queue, websocket fan-out). Server setup
// follows internal/rpc.HTTPServer's stdlib http.ServeMux plus
// context-cancellation-triggered graceful Shutdown, rather than pulling in
// a router library the rest of the pack does not otherwise need.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/steveyegge/gatewayd/internal/convo"
	"github.com/steveyegge/gatewayd/internal/dispatcher"
	"github.com/steveyegge/gatewayd/internal/gpu"
	"github.com/steveyegge/gatewayd/internal/gweventbus"
	"github.com/steveyegge/gatewayd/internal/gwstore"
	"github.com/steveyegge/gatewayd/internal/provider"
)

var logger = log.New(os.Stderr, "httpapi: ", log.LstdFlags)

// Server is the HTTP facade wrapping every subsystem it fronts.
type Server struct {
	store      *gwstore.Store
	convos     *convo.Store
	registry   *provider.Registry
	dispatcher *dispatcher.Dispatcher
	monitor    *gpu.Monitor
	guard      *gpu.Guard
	bus        *gweventbus.Bus

	httpServer *http.Server
	listener   net.Listener
}

// New constructs a Server wiring every collaborator its handlers call into.
func New(store *gwstore.Store, convos *convo.Store, registry *provider.Registry, d *dispatcher.Dispatcher, monitor *gpu.Monitor, guard *gpu.Guard, bus *gweventbus.Bus) *Server {
	return &Server{store: store, convos: convos, registry: registry, dispatcher: d, monitor: monitor, guard: guard, bus: bus}
}

// Start listens on addr and serves until ctx is cancelled, at which point
// it shuts down gracefully with a 10s drain window.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses and websockets must not be cut off
		IdleTimeout:  120 * time.Second,
	}

	var err error
	s.listener, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", s.listener.Addr())
	err = s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the address actually bound, useful when addr was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/tasks/", s.handleTaskByID)

	mux.HandleFunc("/api/v1/models", s.handleModels)
	mux.HandleFunc("/api/v1/models/", s.handleModelByName)

	mux.HandleFunc("/api/v1/conversations", s.handleConversations)
	mux.HandleFunc("/api/v1/conversations/", s.handleConversationByID)

	mux.HandleFunc("/api/v1/monitor/health", s.handleHealth)
	mux.HandleFunc("/api/v1/monitor/gpu", s.handleGPU)
	mux.HandleFunc("/api/v1/monitor/queue", s.handleQueueStats)
	mux.HandleFunc("/ws/monitor", s.handleMonitorWS)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    err.Error(),
	})
}
