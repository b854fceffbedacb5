package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// Public routes
	r.Get("/health", apiHandler.HealthHandler)

	// Token-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)

		// Ask may append to a conversation; the handler checks write scope for that case.
		r.Post("/ask", apiHandler.AskHandler)
		r.Get("/graph", apiHandler.GraphHandler)
		r.Get("/export", apiHandler.ExportHandler)

		r.Group(func(r chi.Router) {
			r.Use(requireWrite)

			r.Route("/thoughts", func(r chi.Router) {
				r.Post("/", apiHandler.CaptureHandler)
				r.Get("/", apiHandler.ListThoughtsHandler)
				r.Get("/{thoughtID}", apiHandler.GetThoughtHandler)
				r.Put("/{thoughtID}", apiHandler.UpdateThoughtHandler)
				r.Delete("/{thoughtID}", apiHandler.DeleteThoughtHandler)
				r.Get("/{thoughtID}/related", apiHandler.RelatedHandler)
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", apiHandler.CreateConversationHandler)
				r.Get("/", apiHandler.ListConversationsHandler)
				r.Get("/{conversationID}", apiHandler.GetConversationHandler)
				r.Patch("/{conversationID}", apiHandler.SetConversationStatusHandler)
				r.Delete("/{conversationID}", apiHandler.DeleteConversationHandler)
				r.Post("/{conversationID}/messages", apiHandler.AppendMessagesHandler)
			})
		})
	})

	return r
}
