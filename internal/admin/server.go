// Package admin exposes an operator-facing JSON surface over the room store
// and connection registry: inspect live state, and force-disconnect a peer.
// Mutations go through the registry's Kick path, so the signaling loop runs
// its ordinary disconnect cleanup and room state stays consistent.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webcall/signaling-relay/internal/auth"
	"github.com/webcall/signaling-relay/internal/httpserver"
	"github.com/webcall/signaling-relay/internal/metrics"
	"github.com/webcall/signaling-relay/internal/registry"
	"github.com/webcall/signaling-relay/internal/room"
)

type Config struct {
	Store    *room.Store
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// APIKey guards every admin route. When empty the surface only works
	// with DevMode set; production without a key keeps it disabled.
	APIKey  string
	DevMode bool
}

type Server struct {
	store    *room.Store
	registry *registry.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger

	verifier auth.APIKeyVerifier
	open     bool
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		store:    cfg.Store,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		verifier: auth.APIKeyVerifier{Expected: cfg.APIKey},
		open:     cfg.APIKey == "" && cfg.DevMode,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/rooms", s.guard(s.handleRooms))
	mux.HandleFunc("GET /api/admin/connections", s.guard(s.handleConnections))
	mux.HandleFunc("POST /api/admin/kick", s.guard(s.handleKick))
	mux.HandleFunc("DELETE /api/admin/connections/{token}/{peerId}", s.guard(s.handleDeleteConnection))
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.open {
			next(w, r)
			return
		}
		if err := s.verifier.VerifyRequest(r); err != nil {
			s.metrics.Inc(metrics.AuthFailures)
			s.log.Warn("admin auth rejected", "remote", r.RemoteAddr, "path", r.URL.Path)
			httpserver.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

type roomView struct {
	Token           string      `json:"token"`
	CreatedAt       time.Time   `json:"createdAt"`
	ExpiresAt       time.Time   `json:"expiresAt"`
	MaxParticipants int         `json:"maxParticipants"`
	Peers           []room.Peer `json:"peers"`
	LastEmptySince  *time.Time  `json:"lastEmptySince,omitempty"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.store.Rooms()
	out := make([]roomView, 0, len(rooms))
	for _, info := range rooms {
		v := roomView{
			Token:           info.Token,
			CreatedAt:       info.CreatedAt,
			ExpiresAt:       info.ExpiresAt,
			MaxParticipants: info.MaxParticipants,
			Peers:           info.Peers,
		}
		if !info.LastEmptySince.IsZero() {
			t := info.LastEmptySince
			v.LastEmptySince = &t
		}
		out = append(out, v)
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

type connectionView struct {
	ID          string    `json:"id"`
	Token       string    `json:"token"`
	PeerID      string    `json:"peerId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Snapshot()
	out := make([]connectionView, 0, len(entries))
	for _, e := range entries {
		out = append(out, connectionView{
			ID:          e.ID,
			Token:       e.Token,
			PeerID:      e.PeerID,
			ConnectedAt: e.ConnectedAt,
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"connections": out})
}

type kickRequest struct {
	Token  string `json:"token"`
	PeerID string `json:"peerId"`
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req kickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.PeerID == "" {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}
	s.kick(w, req.Token, req.PeerID)
}

// handleDeleteConnection is the resource-shaped variant of kick that the
// admin frontend calls.
func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	s.kick(w, r.PathValue("token"), r.PathValue("peerId"))
}

func (s *Server) kick(w http.ResponseWriter, token, peerID string) {
	entry, ok := s.registry.Find(token, peerID)
	if !ok {
		httpserver.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "connection_not_found"})
		return
	}

	// Closing the socket is all that's needed: the connection's read loop
	// observes it and tears down room and registry state itself.
	entry.Kick(websocket.CloseGoingAway, "kicked by admin")
	s.metrics.Inc(metrics.AdminKicks)
	s.log.Info("admin kicked peer", "token", token, "peer", peerID, "conn", entry.ID)

	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"status": "kicked"})
}
