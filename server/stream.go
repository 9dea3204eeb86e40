package server

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mindfold/mind/memory"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon fronts a local app; cross-origin policy belongs to
	// whatever proxies it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleFeed streams the persona's filtered memory list over a
// WebSocket: one JSON snapshot immediately, then one after every
// mutation.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	filter := feedFilterFromQuery(r)

	serveStream(w, r, func(ctx context.Context) <-chan []memory.Memory {
		return s.engine.Feed(ctx, personaID, filter)
	})
}

// handleCounts streams live per-kind memory counts over a WebSocket.
func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")

	serveStream(w, r, func(ctx context.Context) <-chan map[memory.Kind]int {
		return s.engine.ObserveCounts(ctx, personaID)
	})
}

// serveStream upgrades the connection and copies engine snapshots onto
// it as JSON messages until either side goes away. A reader goroutine
// drains client frames so close and ping handling work, and cancels the
// stream when the peer disconnects.
func serveStream[T any](w http.ResponseWriter, r *http.Request, open func(context.Context) <-chan T) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snapshot := range open(ctx) {
		if err := conn.WriteJSON(snapshot); err != nil {
			log.Printf("[SERVER] WebSocket write failed: %v", err)
			return
		}
	}
}
