package gateway

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Users         *UserHandler
	Files         *FileHandler
	Stream        *StreamHandler
}

// NewRouter assembles the HTTP surface. File serving and user registration
// are open; everything else requires the forwarded identity header.
func NewRouter(h Handlers, corsOrigins string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RecoverJSON)
	// Never compress the WebSocket upgrade: a compressing ResponseWriter
	// does not implement http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{corsOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/files/{id}", h.Files.Serve)
	r.Post("/api/users", h.Users.Create)
	r.Get("/api/users/check-username", h.Users.CheckUsername)

	r.Group(func(r chi.Router) {
		r.Use(Auth)

		r.Get("/api/users/me", h.Users.Me)
		r.Put("/api/users/me", h.Users.Update)
		r.Get("/api/users/search", h.Users.Search)
		r.Get("/api/users/{id}", h.Users.Get)

		r.Get("/api/conversations", h.Conversations.List)
		r.Post("/api/conversations/direct", h.Conversations.ResolveDirect)
		r.Post("/api/conversations/group", h.Conversations.CreateGroup)
		r.Get("/api/conversations/{kind}/{id}", h.Conversations.Get)
		r.Delete("/api/conversations/{kind}/{id}", h.Conversations.Delete)
		r.Post("/api/conversations/{kind}/{id}/clear", h.Conversations.ClearHistory)
		r.Post("/api/conversations/{kind}/{id}/read", h.Conversations.MarkRead)
		r.Get("/api/conversations/{kind}/{id}/unread", h.Conversations.Unread)

		r.Put("/api/groups/{id}", h.Conversations.UpdateGroup)
		r.Post("/api/groups/{id}/members", h.Conversations.AddMembers)
		r.Delete("/api/groups/{id}/members/{userID}", h.Conversations.RemoveMember)
		r.Post("/api/groups/{id}/leave", h.Conversations.Leave)

		r.Get("/api/conversations/{kind}/{id}/messages", h.Messages.Page)
		r.Post("/api/conversations/{kind}/{id}/messages", h.Messages.Send)
		r.Get("/api/conversations/{kind}/{id}/messages/search", h.Messages.Search)

		r.Post("/api/files/upload", h.Files.Upload)
		r.Post("/api/files/avatar", h.Files.UploadAvatar)
		r.Delete("/api/files/{id}", h.Files.Delete)

		r.Get("/ws", h.Stream.ServeHTTP)
	})

	return r
}
