// Package server exposes the memory engine over HTTP. Management
// operations are plain JSON endpoints; the live feed and count
// observations are WebSocket streams that push a fresh snapshot after
// every mutation.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mindfold/mind/engine"
	"github.com/mindfold/mind/memory"
)

// Server routes HTTP traffic onto an engine.
type Server struct {
	engine *engine.Engine
}

// New creates a Server for the given engine.
func New(e *engine.Engine) *Server {
	return &Server{engine: e}
}

// Routes builds the chi router for the memory API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/v1/personas/{personaID}", func(r chi.Router) {
		r.Post("/turns", s.handleIngest)
		r.Post("/context", s.handleContext)
		r.Get("/count", s.handleCount)
		r.Put("/enabled", s.handleEnabled)
		r.Put("/chats/{chatID}/title", s.handleChatTitle)
		r.Delete("/memories/{memoryID}", s.handleDelete)
		r.Delete("/memories", s.handleDeleteAll)

		// WebSocket streams.
		r.Get("/feed", s.handleFeed)
		r.Get("/counts", s.handleCounts)
	})
	return r
}

type ingestRequest struct {
	Turn      memory.Turn `json:"turn"`
	Incognito bool        `json:"incognito"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Ingest(r.Context(), personaID, req.Turn, req.Incognito); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type contextRequest struct {
	ChatID    string `json:"chat_id"`
	Message   string `json:"message"`
	MaxTokens int    `json:"max_tokens"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")

	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bundle, err := s.engine.ContextFor(r.Context(), personaID, req.ChatID, req.Message, req.MaxTokens)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Count(r.Context(), chi.URLParam(r, "personaID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.engine.Enable(chi.URLParam(r, "personaID"), req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.engine.SetChatTitle(r.Context(),
		chi.URLParam(r, "personaID"), chi.URLParam(r, "chatID"), req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Delete(r.Context(),
		chi.URLParam(r, "personaID"), chi.URLParam(r, "memoryID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.DeleteAll(r.Context(), chi.URLParam(r, "personaID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// feedFilterFromQuery reads the optional kind/q/limit feed parameters.
func feedFilterFromQuery(r *http.Request) memory.FeedFilter {
	filter := memory.FeedFilter{
		Kind:  memory.Kind(r.URL.Query().Get("kind")),
		Query: r.URL.Query().Get("q"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	return filter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] Write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
