package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devkade/hackathon-starter/internal/middleware"
)

// MountRoutes registers the conversation API on r. The status callback is
// guarded by callbackToken when non-empty. limiter and idempotency may be
// nil.
func MountRoutes(r chi.Router, h *Handlers, callbackToken string, limiter *middleware.RateLimiter, idempotency func(http.Handler) http.Handler) {
	r.Route("/conversations", func(r chi.Router) {
		// Agent callback (outside the client rate limit, token verified)
		r.With(middleware.WebhookToken(callbackToken, middleware.HeaderCallbackToken)).
			Post("/{id}/status", h.ReportStatus)

		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.Handler)
			}

			submit := http.Handler(http.HandlerFunc(h.SubmitMessage))
			if idempotency != nil {
				submit = idempotency(submit)
			}
			r.Method(http.MethodPost, "/", submit)

			r.Get("/{id}", h.GetConversation)
			r.Get("/{id}/files", h.ListFiles)
			r.Get("/{id}/files/*", h.ReadFile)
		})
	})
}
