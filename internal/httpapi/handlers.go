package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ZhyangJ/Agent-chat/internal/agent"
	"github.com/ZhyangJ/Agent-chat/internal/llm"
	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

const badRequestMessage = "请求格式错误"

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handleNotFound(w, r)
		return
	}

	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		log.Warn("Rejected chat request %s: %v", requestID(r.Context()), err)
		writeError(w, http.StatusBadRequest, badRequestMessage)
		return
	}
	if len(req.Messages) == 0 {
		log.Warn("Rejected chat request %s: no messages", requestID(r.Context()))
		writeError(w, http.StatusBadRequest, badRequestMessage)
		return
	}

	sink, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info("Chat request %s: %d messages", requestID(r.Context()), len(req.Messages))
	result, err := s.agent.Execute(r.Context(), agent.AgentRequest{Messages: req.Messages}, sink)
	if err != nil {
		log.Warn("Chat request %s ended with error: %v", requestID(r.Context()), err)
	}
	if result != nil {
		log.Info("Chat request %s finished: outcome=%s iterations=%d tool_calls=%d frames=%d",
			requestID(r.Context()), result.Outcome, result.Iterations, len(result.ToolCalls), result.Frames)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		handleNotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Message: "AI Chat API is running"})
}

// handleNotFound answers with an empty 404 body.
func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
