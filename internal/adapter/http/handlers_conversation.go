package http

import (
	"net/http"

	"github.com/devkade/hackathon-starter/internal/domain/conversation"
)

// SubmitMessage handles POST /conversations
func (h *Handlers) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[conversation.SubmitRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	resp, err := h.Conversations.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetConversation handles GET /conversations/{id}
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	view, err := h.Conversations.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ReportStatus handles POST /conversations/{id}/status, the agent's
// terminal callback.
func (h *Handlers) ReportStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[conversation.CallbackRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if err := h.Conversations.HandleCallback(r.Context(), urlParam(r, "id"), req); err != nil {
		writeDomainError(w, err, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conversation.CallbackResponse{Success: true})
}
