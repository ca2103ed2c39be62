// Package web exposes the tracker to external renderers: a small JSON API
// for status and control, a websocket pushing each emitted update, and a
// Prometheus metrics endpoint. It renders nothing itself.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/gpxassist/ridetrack/ride"
)

// Server serves the tracker's status/control API and pushes update events to
// websocket clients
type Server struct {
	tracker  *ride.Tracker
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	broadcast chan ride.UpdateEvent
}

// NewServer creates a server for the given tracker and registers for its
// update events
func NewServer(tracker *ride.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		tracker: tracker,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local companion tool; renderers connect from file:// origins
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan ride.UpdateEvent, 16),
	}

	tracker.AddCallback(func(ev ride.UpdateEvent) {
		select {
		case s.broadcast <- ev:
		default:
			// Channel full, skip this update
		}
	})

	go s.broadcastToClients()
	return s
}

// Router builds the HTTP routes
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Use(MetricsMiddleware)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/simulation/start", s.handleSimulationStart).Methods(http.MethodPost)
	api.HandleFunc("/simulation/stop", s.handleSimulationStop).Methods(http.MethodPost)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodPost)

	// The websocket route bypasses the metrics middleware: the upgrader
	// needs the raw http.Hijacker.
	router.HandleFunc("/ws", s.handleWebSocket)
	router.Handle("/metrics", MetricsHandler())

	return router
}

// Serve listens on addr until the listener fails
func (s *Server) Serve(addr string) error {
	s.logger.Info("web server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) handleSimulationStart(w http.ResponseWriter, r *http.Request) {
	s.tracker.StartSimulation()
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) handleSimulationStop(w http.ResponseWriter, r *http.Request) {
	s.tracker.StopSimulation()
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

// configRequest carries live-tunable settings. Omitted fields are left
// unchanged.
type configRequest struct {
	Delta    *float64 `json:"delta,omitempty"`
	SimSpeed *float64 `json:"sim_speed,omitempty"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	// Validate the whole request before applying any of it, so a rejected
	// request leaves the configuration untouched.
	if req.Delta != nil && *req.Delta <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ride.ErrInvalidDelta.Error()})
		return
	}
	if req.SimSpeed != nil && *req.SimSpeed <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ride.ErrInvalidSimSpeed.Error()})
		return
	}

	if req.Delta != nil {
		if err := s.tracker.SetDelta(*req.Delta); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.SimSpeed != nil {
		if err := s.tracker.SetSimSpeed(*req.SimSpeed); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Send current status immediately so a reconnecting renderer can draw
	// without waiting for the next emitted update. Registration happens
	// after this write so the broadcast loop cannot write concurrently.
	if err := conn.WriteJSON(map[string]any{
		"type": "status",
		"data": s.tracker.Status(),
	}); err != nil {
		s.logger.Warn("failed to send initial status", "error", err)
		return
	}

	s.addClient(conn)
	defer s.removeClient(conn)

	// Drain client messages until the connection drops; pushes happen from
	// the broadcast loop.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) addClient(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[conn] = true
	websocketClients.Set(float64(len(s.clients)))
	s.logger.Info("websocket client connected", "clients", len(s.clients))
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
	websocketClients.Set(float64(len(s.clients)))
	s.logger.Info("websocket client disconnected", "clients", len(s.clients))
}

// broadcastToClients forwards each emitted update to every connected client
func (s *Server) broadcastToClients() {
	for ev := range s.broadcast {
		message := map[string]any{
			"type": "update",
			"data": ev,
		}

		s.mu.Lock()
		for client := range s.clients {
			if err := client.WriteJSON(message); err != nil {
				s.logger.Warn("websocket write failed, dropping client", "error", err)
				client.Close()
				delete(s.clients, client)
			}
		}
		websocketClients.Set(float64(len(s.clients)))
		s.mu.Unlock()

		updatesPushedTotal.Inc()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing left to do but note it.
		slog.Default().Warn("failed to encode response", "error", err)
	}
}
