// Package gateway exposes the local HTTP and WebSocket surface over
// running tasks: listing, inspection, cancellation and a live event
// stream for UIs that do not want to poll the CLI.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/outpost/internal/events"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
)

// Canceller requests cancellation of a running task.
type Canceller interface {
	Cancel(ctx context.Context, taskID string) error
}

// Server is the Outpost gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *hub
	bus        *events.Bus
	store      store.Store
	canceller  Canceller
}

// NewServer wires the routes and the WebSocket hub.
func NewServer(bus *events.Bus, st store.Store, canceller Canceller, host string, port int) *Server {
	s := &Server{
		hub:       newHub(bus),
		bus:       bus,
		store:     st,
		canceller: canceller,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/ws", s.hub.serveWS)
	r.Get("/api/tasks", s.handleListTasks)
	r.Get("/api/tasks/{id}", s.handleGetTask)
	r.Get("/api/tasks/{id}/logs", s.handleTaskLogs)
	r.Get("/api/tasks/{id}/patch", s.handleTaskPatch)
	r.Post("/api/tasks/{id}/cancel", s.handleCancelTask)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server and its WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, s.bus.History(limit))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	ids, err := s.store.ListTaskIDs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.store.GetMetadata(r.Context(), id)
		if err != nil {
			// A single corrupt record must not hide the rest.
			slog.Warn("skipping unreadable task record", "task", task.ShortID(id), "error", err)
			continue
		}
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveID(w, r)
	if !ok {
		return
	}
	t, err := s.store.GetMetadata(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if t == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, store.OutputArtifact, "text/plain; charset=utf-8")
}

func (s *Server) handleTaskPatch(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, store.PatchArtifact, "text/x-diff")
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, name, contentType string) {
	id, ok := s.resolveID(w, r)
	if !ok {
		return
	}
	data, err := s.store.GetArtifact(r.Context(), id, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if data == nil {
		http.Error(w, name+" not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveID(w, r)
	if !ok {
		return
	}
	if err := s.canceller.Cancel(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "taskId": id})
}

// resolveID turns the path id (full or prefix) into a full task id,
// writing the error response itself when resolution fails.
func (s *Server) resolveID(w http.ResponseWriter, r *http.Request) (string, bool) {
	prefix := chi.URLParam(r, "id")
	id, err := store.ResolveTaskID(r.Context(), s.store, prefix)
	if err != nil {
		var amb *store.AmbiguousIDError
		if errors.As(err, &amb) {
			http.Error(w, amb.Error(), http.StatusBadRequest)
			return "", false
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return "", false
	}
	if id == "" {
		http.Error(w, "task not found", http.StatusNotFound)
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
