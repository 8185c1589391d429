package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// API bundles the handlers mounted under /api.
type API struct {
	Match     *MatchHandler
	Tasks     *TaskHandler
	Auth      *AuthHandler
	WebSocket http.HandlerFunc
	// ObjectsDir and QueriesDir are served read-only under /assets.
	ObjectsDir string
	QueriesDir string
}

// Mount registers every route on r.
func (a *API) Mount(r chi.Router) {
	admin := func(h http.HandlerFunc) http.Handler {
		return AdminAuth(a.Auth.JWTSecret, h)
	}

	r.Get("/health", Health)
	r.Post("/auth/token", a.Auth.IssueToken)

	r.Route("/load", func(r chi.Router) {
		r.Method(http.MethodPost, "/directory", admin(a.Match.LoadDirectory))
		r.Method(http.MethodPost, "/zip", admin(a.Match.LoadZip))
	})
	r.Post("/query", a.Match.Query)
	r.Get("/stats", a.Match.Stats)
	r.Get("/models", a.Match.Models)
	r.Get("/classes", a.Match.Classes)

	r.Route("/database", func(r chi.Router) {
		r.Get("/objects", a.Match.ListObjects)
		r.Get("/objects/{object_id}/image", a.Match.ObjectImage)
		r.Method(http.MethodDelete, "/clear", admin(a.Match.Clear))
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", a.Tasks.ListTasks)
		r.Get("/{task_id}", a.Tasks.GetTask)
	})

	if a.ObjectsDir != "" {
		r.Get("/assets/objects/*", AssetServer(a.ObjectsDir))
	}
	if a.QueriesDir != "" {
		r.Get("/assets/queries/*", AssetServer(a.QueriesDir))
	}
	if a.WebSocket != nil {
		r.Get("/ws", a.WebSocket)
	}
}
