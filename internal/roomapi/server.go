// Package roomapi is the JSON surface the call frontend uses to mint and
// inspect rooms before it opens the signaling socket.
package roomapi

import (
	"log/slog"
	"net/http"

	"github.com/webcall/signaling-relay/internal/httpserver"
	"github.com/webcall/signaling-relay/internal/metrics"
	"github.com/webcall/signaling-relay/internal/room"
)

// Room status values reported to the frontend.
const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
)

type Config struct {
	Store   *room.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// PublicBaseURL prefixes the shareable room URL. Empty means the server
	// doesn't know its external address and returns a path-only URL.
	PublicBaseURL string

	// MaxParticipants is the capacity of newly minted rooms.
	MaxParticipants int
}

type Server struct {
	store   *room.Store
	metrics *metrics.Metrics
	log     *slog.Logger

	publicBaseURL   string
	maxParticipants int
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxParticipants < 1 {
		cfg.MaxParticipants = 2
	}
	return &Server{
		store:           cfg.Store,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
		publicBaseURL:   cfg.PublicBaseURL,
		maxParticipants: cfg.MaxParticipants,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{token}", s.handleGetRoom)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

type createRoomResponse struct {
	Token      string `json:"token"`
	URL        string `json:"url"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

type roomInfoResponse struct {
	Token           string `json:"token"`
	Participants    int    `json:"participants"`
	MaxParticipants int    `json:"maxParticipants"`
	Status          string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.CreateRoom(s.maxParticipants)
	if err != nil {
		s.log.Error("room creation failed", "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	s.log.Info("room created", "token", info.Token, "max", info.MaxParticipants)
	httpserver.WriteJSON(w, http.StatusOK, createRoomResponse{
		Token:      info.Token,
		URL:        s.publicBaseURL + "/r/" + info.Token,
		TTLSeconds: int64(info.ExpiresAt.Sub(info.CreatedAt).Seconds()),
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	info, ok := s.store.GetRoom(token)
	if !ok {
		httpserver.WriteJSON(w, http.StatusNotFound, errorResponse{Error: "room_not_found"})
		return
	}

	// A room is active as soon as anyone is connected; waiting means the
	// link has been minted but nobody has arrived yet.
	status := StatusWaiting
	if info.Participants > 0 {
		status = StatusActive
	}
	httpserver.WriteJSON(w, http.StatusOK, roomInfoResponse{
		Token:           info.Token,
		Participants:    info.Participants,
		MaxParticipants: info.MaxParticipants,
		Status:          status,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
