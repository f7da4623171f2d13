// Package api exposes the resolved menu state over HTTP for panel frontends
// and debugging. The websocket stream pushes a fresh model on every
// re-render.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gmenu/gmenu/internal/logger"
	"github.com/gmenu/gmenu/internal/menubar"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server is the introspection HTTP server.
type Server struct {
	router   *mux.Router
	bar      *menubar.MenuBar
	upgrader websocket.Upgrader
}

// NewServer creates the API server over the given coordinator.
func NewServer(bar *menubar.MenuBar) *Server {
	s := &Server{
		router: mux.NewRouter(),
		bar:    bar,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Local introspection surface only.
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/window", s.handleGetWindow).Methods("GET")
	api.HandleFunc("/menu", s.handleGetMenu).Methods("GET")
	api.HandleFunc("/menu/activate", s.handleActivate).Methods("POST")
	api.HandleFunc("/menu/prepare", s.handlePrepare).Methods("POST")
	api.HandleFunc("/menu/stream", s.handleMenuStream)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the HTTP server on the given port. Blocks.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("API server listening")
	return http.ListenAndServe(addr, s.router)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleGetWindow(w http.ResponseWriter, r *http.Request) {
	model := s.bar.Model()
	writeJSON(w, model.Window)
}

func (s *Server) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.bar.Model())
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int32  `json:"id"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.bar.Activate(req.ID, req.Action); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handlePrepare runs the about-to-show handshake for a submenu item and
// re-renders when the application reports a change.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int32  `json:"id"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.bar.PrepareSubmenu(r.Context(), req.ID, req.Action); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

// handleMenuStream upgrades to a websocket and pushes the model on every
// re-render, starting with the current state.
func (s *Server) handleMenuStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.bar.Subscribe()
	defer s.bar.Unsubscribe(sub)

	if err := conn.WriteJSON(s.bar.Model()); err != nil {
		return
	}

	for model := range sub {
		if err := conn.WriteJSON(model); err != nil {
			log.Debug().Err(err).Msg("websocket write failed, dropping client")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
