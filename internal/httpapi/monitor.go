package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/steveyegge/gatewayd/internal/gweventbus"
)

type healthResponse struct {
	Status     string `json:"status"`
	StoreOK    bool   `json:"store_ok"`
	GPULocked  bool   `json:"gpu_locked"`
	CurrentTask string `json:"current_task,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeErr := s.store.HealthCheck(r.Context())
	resp := healthResponse{
		Status:      "ok",
		StoreOK:     storeErr == nil,
		GPULocked:   s.guard.IsLocked(),
		CurrentTask: s.guard.CurrentTaskID(),
	}
	if storeErr != nil {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGPU(w http.ResponseWriter, r *http.Request) {
	cached, err := s.store.GetCachedGPUStats(r.Context())
	if err == nil && cached != nil {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	info, err := s.monitor.GetGPUInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type queueStatsResponse struct {
	Depth          int64            `json:"depth"`
	Processing     string           `json:"processing,omitempty"`
	TasksCompleted int64            `json:"tasks_completed_today"`
	TasksFailed    int64            `json:"tasks_failed_today"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queueStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) queueStats(ctx context.Context) (queueStatsResponse, error) {
	depth, err := s.store.QueueDepth(ctx)
	if err != nil {
		return queueStatsResponse{}, err
	}
	processing, err := s.store.GetProcessing(ctx)
	if err != nil {
		return queueStatsResponse{}, err
	}
	today := time.Now().UTC().Format("2006-01-02")
	daily, err := s.store.DailyStats(ctx, today)
	if err != nil {
		return queueStatsResponse{}, err
	}
	return queueStatsResponse{
		Depth:          depth,
		Processing:     processing,
		TasksCompleted: daily["tasks_completed"],
		TasksFailed:    daily["tasks_failed"],
	}, nil
}

func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	handlers := gweventbus.Handlers{
		QueueStats: func(ctx context.Context) (any, error) { return s.queueStats(ctx) },
		Task: func(ctx context.Context, taskID string) (any, error) {
			return s.store.GetSession(ctx, taskID)
		},
	}
	gweventbus.ServeWS(s.bus, handlers, w, r)
}
