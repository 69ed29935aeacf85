package http

import (
	"github.com/devkade/hackathon-starter/internal/service"
)

// Handlers holds the services behind the HTTP API.
type Handlers struct {
	Conversations *service.ConversationService
	Files         *service.FileService
	MaxBodySize   int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.MaxBodySize <= 0 {
		return 1 << 20
	}
	return h.MaxBodySize
}
