package api

import (
	"net/http"

	"momo-collab/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler, jwtSecret []byte) *mux.Router {
	r := mux.NewRouter()

	// Global middleware: tracing first, then recovery, then CORS.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Auth endpoints
	api.HandleFunc("/auth/register", h.Register).Methods("POST")
	api.HandleFunc("/auth/login", h.Login).Methods("POST")

	// Document metadata endpoints (bearer token required)
	docs := api.PathPrefix("/documents").Subrouter()
	docs.Use(RequireAuth(jwtSecret))
	docs.HandleFunc("", h.CreateDocument).Methods("POST")
	docs.HandleFunc("/{id}", h.GetDocument).Methods("GET")
	docs.HandleFunc("/{id}/collaborators", h.AddCollaborator).Methods("POST")
	docs.HandleFunc("/{id}/visibility", h.SetVisibility).Methods("PUT")

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Collaboration WebSocket: the room key and credential may ride the
	// upgrade request or the first protocol frame.
	r.HandleFunc("/collaboration", h.HandleCollaborationSocket)
	r.HandleFunc("/collaboration/{room}", h.HandleCollaborationSocket)

	return r
}
