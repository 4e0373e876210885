package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

type createConversationRequest struct {
	Model        string         `json:"model,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gwerrors.New(gwerrors.CodeValidation, "invalid request body: %v", err))
		return
	}
	conv, err := s.convos.Create(r.Context(), req.Model, req.SystemPrompt, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations/")
	id, sub, hasSub := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if hasSub && sub == "messages" {
		s.conversationMessages(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getConversation(w, r, id)
	case http.MethodDelete:
		s.deleteConversation(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request, id string) {
	conv, err := s.convos.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if conv == nil {
		writeError(w, gwerrors.New(gwerrors.CodeNotFound, "conversation %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.convos.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) conversationMessages(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		limit := int64(0)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				limit = n
			}
		}
		msgs, err := s.convos.Messages(r.Context(), id, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	case http.MethodPost:
		var msg gwtypes.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			writeError(w, gwerrors.New(gwerrors.CodeValidation, "invalid request body: %v", err))
			return
		}
		if err := s.convos.AppendMessage(r.Context(), id, msg); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		if err := s.convos.DeleteMessages(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
