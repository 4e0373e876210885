package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/steveyegge/gatewayd/internal/gpu"
	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/provider"
)

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.registry.GetAllModelsInfo())
	case http.MethodPost:
		s.registerFromPreset(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type registerModelRequest struct {
	Name string `json:"name"`
}

// registerFromPreset implements register-from-preset: construct and
// register a provider purely from the preset catalog entry matching name.
func (s *Server) registerFromPreset(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, gwerrors.New(gwerrors.CodeValidation, "name is required"))
		return
	}
	p, err := s.registry.GetOrCreate(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p.GetModelInfo())
}

func (s *Server) handleModelByName(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/models/")
	name, action, hasAction := strings.Cut(rest, "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	if !hasAction {
		switch r.Method {
		case http.MethodGet:
			s.getModel(w, r, name)
		case http.MethodDelete:
			s.unregisterModel(w, r, name)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch action {
	case "load":
		s.loadModel(w, r, name)
	case "unload":
		s.unloadModel(w, r, name)
	case "check-compatibility":
		s.checkCompatibility(w, r, name)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request, name string) {
	p, err := s.registry.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.GetModelInfo())
}

func (s *Server) unregisterModel(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.registry.Unregister(name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadModel(w http.ResponseWriter, r *http.Request, name string) {
	p, err := s.registry.GetOrCreate(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	loadable, ok := provider.AsLoadable(p)
	if !ok {
		writeError(w, gwerrors.New(gwerrors.CodeNotSupported, "model %q does not support explicit load", name))
		return
	}
	if err := loadable.LoadModel(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.GetModelInfo())
}

func (s *Server) unloadModel(w http.ResponseWriter, r *http.Request, name string) {
	p, err := s.registry.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	loadable, ok := provider.AsLoadable(p)
	if !ok {
		writeError(w, gwerrors.New(gwerrors.CodeNotSupported, "model %q does not support explicit unload", name))
		return
	}
	if err := loadable.UnloadModel(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.GetModelInfo())
}

type compatibilityResponse struct {
	Compatible          bool   `json:"compatible"`
	RequiredVRAMMB      int64  `json:"required_vram_mb"`
	AvailableVRAMMB     int64  `json:"available_vram_mb"`
	RecommendedQuant    string `json:"recommended_quantization,omitempty"`
}

// checkCompatibility estimates a model's VRAM footprint against the
// current budget without loading it, walking the eviction-order fallback
// q4_k_m -> q5_k_m -> q8_0 -> fp16 to recommend the densest variant that fits.
func (s *Server) checkCompatibility(w http.ResponseWriter, r *http.Request, name string) {
	p, err := s.registry.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	loadable, ok := provider.AsLoadable(p)
	if !ok {
		writeJSON(w, http.StatusOK, compatibilityResponse{Compatible: true})
		return
	}

	available, err := s.monitor.AvailableVRAMMB(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	required := loadable.RequiredVRAMMB()
	resp := compatibilityResponse{
		Compatible:      required <= available,
		RequiredVRAMMB:  required,
		AvailableVRAMMB: available,
	}
	if !resp.Compatible {
		current, _ := p.GetModelInfo().Extra["quantization"].(string)
		resp.RecommendedQuant = recommendQuantization(required, current, available)
	}
	writeJSON(w, http.StatusOK, resp)
}

func recommendQuantization(requiredMB int64, current string, availableMB int64) string {
	// Recover the model's size from its footprint at the current quantization.
	paramBillions := float64(requiredMB) / float64(gpu.EstimateVRAMMB(1, current))
	for _, quant := range []string{"q4_k_m", "q5_k_m", "q8_0", "fp16"} {
		if gpu.EstimateVRAMMB(paramBillions, quant) <= availableMB {
			return quant
		}
	}
	return ""
}
