// Package routes wires handlers onto the HTTP router.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/handlers"
	"github.com/skyload/skyload-api/internal/middleware"
)

func NewRouter(
	health *handlers.HealthHandler,
	upload *handlers.UploadHandler,
	wf *handlers.WorkflowHandler,
	chat *handlers.ChatHandler,
	logger zerolog.Logger,
) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(logger))

	r.HandleFunc("/health", health.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload", upload.Upload).Methods(http.MethodPost)
	api.HandleFunc("/uploads", upload.ListUploads).Methods(http.MethodGet)
	api.HandleFunc("/etl-workflow", wf.Run).Methods(http.MethodPost)
	api.HandleFunc("/workflows", wf.List).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{workflowID}", wf.Get).Methods(http.MethodGet)
	api.HandleFunc("/chat", chat.Chat).Methods(http.MethodPost)

	return r
}
