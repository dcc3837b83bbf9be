package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/llm"
)

const chatMaxTokens = 1000

type ChatHandler struct {
	gen    llm.Generator
	logger zerolog.Logger
}

func NewChatHandler(gen llm.Generator, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{gen: gen, logger: logger.With().Str("handler", "chat").Logger()}
}

type chatRequest struct {
	Message     string `json:"message"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	FileType    string `json:"file_type"`
}

// Chat answers free-form data engineering questions. A filename switches
// to the analysis-recommendation prompt for that file; when only a file
// type is given, the canned explanation prompt for that type is used.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		writeError(w, http.StatusServiceUnavailable, "text generation is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var prompt, system string
	switch {
	case req.Message != "":
		prompt = req.Message
		system = "You are a helpful data engineering assistant. Answer concisely."
	case req.Filename != "":
		prompt, system = llm.AnalysisPrompt(req.Filename, req.ContentType)
	case req.FileType != "":
		prompt, system = llm.ExplainPrompt(req.FileType)
	default:
		writeError(w, http.StatusBadRequest, "message or file_type is required")
		return
	}

	response, err := h.gen.Generate(r.Context(), prompt, system, chatMaxTokens)
	if err != nil {
		h.logger.Error().Err(err).Msg("Chat generation failed")
		writeError(w, http.StatusBadGateway, "text generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}
