package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"traktbridge/handlers"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	traktHandler *handlers.TraktHandler,
	libraryHandler *handlers.LibraryHandler,
	tasksHandler *handlers.TasksHandler,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	// Trakt account surface
	api.HandleFunc("/trakt/users/{userID}/authorize", traktHandler.Authorize).Methods(http.MethodPost)
	api.HandleFunc("/trakt/users/{userID}/status", traktHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/trakt/users/{userID}", traktHandler.Deauthorize).Methods(http.MethodDelete)
	api.HandleFunc("/trakt/users/{userID}/rate", traktHandler.Rate).Methods(http.MethodPost)
	api.HandleFunc("/trakt/users/{userID}/recommendations/movies", traktHandler.RecommendedMovies).Methods(http.MethodGet)
	api.HandleFunc("/trakt/users/{userID}/recommendations/shows", traktHandler.RecommendedShows).Methods(http.MethodGet)

	// Library intake
	api.HandleFunc("/library/items", libraryHandler.UpsertItem).Methods(http.MethodPost)
	api.HandleFunc("/library/items/{itemID}", libraryHandler.DeleteItem).Methods(http.MethodDelete)
	api.HandleFunc("/library/items/{itemID}/playstate", libraryHandler.SetPlaystate).Methods(http.MethodPost)
	api.HandleFunc("/library/items/{itemID}/playback", libraryHandler.ReportPlayback).Methods(http.MethodPost)

	// Scheduled tasks
	api.HandleFunc("/sync/tasks", tasksHandler.ListTasks).Methods(http.MethodGet)
	api.HandleFunc("/sync/tasks", tasksHandler.CreateTask).Methods(http.MethodPost)
	api.HandleFunc("/sync/tasks/{taskID}/run", tasksHandler.RunTask).Methods(http.MethodPost)
}
