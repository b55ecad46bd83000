// Package signaling implements the relay's WebSocket surface: one message
// loop per connection, driving room membership and fanning frames out to the
// rest of the room.
package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webcall/signaling-relay/internal/metrics"
	"github.com/webcall/signaling-relay/internal/ratelimit"
	"github.com/webcall/signaling-relay/internal/registry"
	"github.com/webcall/signaling-relay/internal/room"
)

// Application close codes, mirrored by the browser client.
const (
	CloseRoomFull     = 4403
	CloseRoomNotFound = 4404
)

// internalErrorBudget bounds how many unexpected internal failures a single
// connection may provoke before it is closed defensively.
const internalErrorBudget = 3

type Config struct {
	Store    *room.Store
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// DefaultMaxParticipants is used when lazily recreating a room addressed
	// by URL.
	DefaultMaxParticipants int

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// WriteTimeout bounds every outbound write so one stuck peer cannot stall
	// a broadcast indefinitely.
	WriteTimeout time.Duration

	Clock ratelimit.Clock
}

// Server accepts signaling connections at GET /ws/rooms/{token}.
type Server struct {
	store    *room.Store
	registry *registry.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger

	defaultMaxParticipants int
	maxMessageBytes        int64
	maxMessagesPerSecond   int
	writeTimeout           time.Duration
	clock                  ratelimit.Clock
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	if cfg.DefaultMaxParticipants < 1 {
		cfg.DefaultMaxParticipants = 2
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = 50
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 1 * time.Second
	}
	return &Server{
		store:    cfg.Store,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,

		defaultMaxParticipants: cfg.DefaultMaxParticipants,
		maxMessageBytes:        cfg.MaxMessageBytes,
		maxMessagesPerSecond:   cfg.MaxMessagesPerSecond,
		writeTimeout:           cfg.WriteTimeout,
		clock:                  cfg.Clock,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/rooms/{token}", s.handleRoomSocket)
}

func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	upgrader := websocket.Upgrader{
		// Origin checks are enforced by the outer httpserver middleware; unit
		// tests dial the mux directly.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	pc := &peerConn{
		srv:   s,
		conn:  conn,
		token: token,
		limiter: ratelimit.NewTokenBucket(s.clock,
			int64(s.maxMessagesPerSecond), int64(s.maxMessagesPerSecond)),
	}
	pc.run()
}

// peerConn is one accepted signaling connection. It moves through
// CONNECTED (no peer id) -> JOINED (registered) -> CLOSED; teardown runs
// exactly once no matter which path closes the connection.
type peerConn struct {
	srv   *Server
	conn  *websocket.Conn
	token string

	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex

	// peerID is set once a join frame is accepted.
	peerID string
	entry  *registry.Entry

	teardownOnce sync.Once
	internalErrs int
}

func (pc *peerConn) run() {
	defer pc.teardown()

	s := pc.srv
	pc.conn.SetReadLimit(s.maxMessageBytes)

	if !room.ValidToken(pc.token) {
		s.metrics.Inc(metrics.RoomNotFound)
		pc.fail("room_not_found", "Room not found", CloseRoomNotFound)
		return
	}

	// Lazily recreate the room when the URL addresses a token the store no
	// longer holds (or holds only as an expired, empty shell). A live room is
	// returned untouched.
	s.store.CreateRoomWithToken(pc.token, s.defaultMaxParticipants)

	s.log.Debug("signaling connected", "token", pc.token, "remote", pc.conn.RemoteAddr())

	for {
		msgType, data, err := pc.conn.ReadMessage()
		if err != nil {
			s.log.Debug("signaling read ended", "token", pc.token, "peer", pc.peerID, "err", err)
			return
		}

		// The limit applies after the read so buffered bytes are consumed
		// before any close, keeping the close frame observable by the client.
		if !pc.limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimitedFrames)
			pc.fail("rate_limited", "message rate limit exceeded", websocket.ClosePolicyViolation)
			return
		}

		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.BadFrames)
			pc.sendError("bad_frame", "expected a text frame")
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.metrics.Inc(metrics.BadFrames)
			pc.sendError("bad_json", "Invalid JSON")
			continue
		}

		if closed := pc.dispatch(&f, data); closed {
			return
		}
	}
}

// dispatch handles one parsed frame, reporting whether the connection should
// close.
func (pc *peerConn) dispatch(f *frame, raw []byte) (closed bool) {
	if err := f.validate(); err != nil {
		var protoErr *protocolError
		if errors.As(err, &protoErr) {
			pc.srv.metrics.Inc(metrics.BadFrames)
			pc.sendError(protoErr.Code, protoErr.Message)
			return false
		}
		return pc.internalError(err)
	}

	if f.Type == frameTypeJoin {
		return pc.handleJoin(f)
	}

	// Every non-join frame requires a bound peer id; before join there is no
	// registry entry to route through, so reply with an explicit violation
	// instead of silently dropping.
	if pc.peerID == "" {
		pc.srv.metrics.Inc(metrics.BadFrames)
		pc.sendError("not_joined", "join required before "+f.Type)
		return false
	}

	if f.Type == frameTypeCandidate && !standardCandidate(f.Candidate) {
		pc.srv.metrics.Inc(metrics.NonStandardICE)
		pc.srv.log.Debug("non-standard ice candidate payload",
			"token", pc.token, "peer", f.PeerID)
	}

	pc.srv.metrics.Inc(metrics.FramesRelayed)
	pc.srv.registry.Broadcast(pc.token, f.PeerID, raw)
	return false
}

func (pc *peerConn) handleJoin(f *frame) (closed bool) {
	s := pc.srv

	if pc.peerID != "" {
		s.metrics.Inc(metrics.BadFrames)
		pc.sendError("already_joined", "Already joined")
		return false
	}

	// Claim the registry slot before touching room membership. A reconnect
	// thereby supersedes the old socket first, so the old connection's
	// teardown loses the identity-compared Unregister and cannot strip the
	// membership this join is about to confirm.
	pc.peerID = f.PeerID
	pc.entry = s.registry.Register(pc.token, pc.peerID, pc, s.clock.Now())

	join, err := s.store.Join(pc.token, f.PeerID)
	switch {
	case errors.Is(err, room.ErrRoomFull):
		pc.abandonJoin()
		pc.fail("room_full", "Room is full", CloseRoomFull)
		return true
	case errors.Is(err, room.ErrRoomNotFound):
		// The room was swept between connect and join.
		s.metrics.Inc(metrics.RoomNotFound)
		pc.abandonJoin()
		pc.fail("room_not_found", "Room not found", CloseRoomNotFound)
		return true
	case err != nil:
		pc.abandonJoin()
		return pc.internalError(err)
	}

	s.log.Info("peer joined", "token", pc.token, "peer", pc.peerID,
		"role", f.Role, "rejoined", join.Rejoined)

	if err := pc.sendJSON(roomInfoFrame{
		Type:  frameTypeRoomInfo,
		Peers: join.Others,
		Max:   join.Max,
	}); err != nil {
		// The read loop will observe the broken socket shortly.
		s.log.Debug("room-info send failed", "token", pc.token, "peer", pc.peerID, "err", err)
	}

	event, err := json.Marshal(peerEventFrame{Type: frameTypePeerJoined, PeerID: pc.peerID})
	if err != nil {
		return pc.internalError(err)
	}
	s.registry.Broadcast(pc.token, pc.peerID, event)
	return false
}

// abandonJoin rolls back the registry claim after a failed room join, so the
// eventual teardown treats the connection as never having joined.
func (pc *peerConn) abandonJoin() {
	pc.srv.registry.Unregister(pc.entry)
	pc.entry = nil
	pc.peerID = ""
}

// teardown releases room membership and the registry entry, then notifies the
// rest of the room. It runs exactly once per connection regardless of which
// path triggered it; a connection that never joined only closes the socket.
func (pc *peerConn) teardown() {
	pc.teardownOnce.Do(func() {
		s := pc.srv
		// Unregister succeeds only for the connection that still owns the
		// registry slot. A socket superseded by a rejoin must not release the
		// replacement's room membership or announce a departure.
		if pc.peerID != "" && s.registry.Unregister(pc.entry) {
			s.store.Leave(pc.token, pc.peerID)

			if event, err := json.Marshal(peerEventFrame{
				Type:   frameTypePeerLeft,
				PeerID: pc.peerID,
			}); err == nil {
				s.registry.Broadcast(pc.token, pc.peerID, event)
			}
			s.log.Info("peer disconnected", "token", pc.token, "peer", pc.peerID)
		}
		_ = pc.conn.Close()
	})
}

// SendText implements registry.Sender. Writes are serialized and bounded so a
// stalled peer fails fast instead of blocking broadcasts.
func (pc *peerConn) SendText(data []byte) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	_ = pc.conn.SetWriteDeadline(time.Now().Add(pc.srv.writeTimeout))
	return pc.conn.WriteMessage(websocket.TextMessage, data)
}

// Kick implements registry.Sender: it force-closes the transport, which
// unblocks the read loop and routes through the normal teardown.
func (pc *peerConn) Kick(code int, reason string) {
	pc.closeWith(code, reason)
	_ = pc.conn.Close()
}

func (pc *peerConn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return pc.SendText(data)
}

func (pc *peerConn) sendError(code, message string) {
	if err := pc.sendJSON(newErrorFrame(code, message)); err != nil {
		pc.srv.log.Debug("error frame send failed", "token", pc.token, "err", err)
	}
}

// fail sends a terminal error frame and then a close frame with the given
// status code.
func (pc *peerConn) fail(code, message string, closeCode int) {
	pc.sendError(code, message)
	pc.closeWith(closeCode, code)
}

func (pc *peerConn) closeWith(code int, reason string) {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	_ = pc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(pc.srv.writeTimeout))
}

// internalError surfaces an unexpected failure as a generic error frame
// without leaking internals. Repeated failures exhaust a small budget and
// close the connection defensively.
func (pc *peerConn) internalError(err error) (closed bool) {
	s := pc.srv
	s.metrics.Inc(metrics.InternalError)
	s.log.Error("signaling internal error", "token", pc.token, "peer", pc.peerID, "err", err)
	pc.sendError("internal_error", "internal error")

	pc.internalErrs++
	if pc.internalErrs >= internalErrorBudget {
		pc.closeWith(websocket.CloseInternalServerErr, "internal error")
		return true
	}
	return false
}
