// Package registry maps (room token, peer id) to the live outbound side of a
// signaling connection. Registry membership and room membership are kept in
// sync by the signaling loop; an entry here does not by itself imply the peer
// is still a room member.
package registry

import (
	"log/slog"
	"time"

	"sync"

	"github.com/google/uuid"

	"github.com/webcall/signaling-relay/internal/metrics"
)

// Sender is the outbound half of a registered connection. Implementations
// must be safe for concurrent use and must bound each write with a timeout so
// one stuck peer cannot stall another connection's broadcast.
type Sender interface {
	// SendText writes one complete text frame.
	SendText(data []byte) error
	// Kick closes the underlying transport with a WebSocket close code. The
	// connection's own read loop observes the close and runs its normal
	// disconnect cleanup.
	Kick(code int, reason string)
}

// Entry is one registered connection.
type Entry struct {
	// ID uniquely identifies this connection for the process lifetime, so the
	// admin surface can address a specific socket even across a peer id reuse.
	ID          string
	Token       string
	PeerID      string
	ConnectedAt time.Time

	sender Sender
}

func (e *Entry) Send(data []byte) error { return e.sender.SendText(data) }

func (e *Entry) Kick(code int, reason string) { e.sender.Kick(code, reason) }

// Registry owns the (token, peerId) -> connection mapping under its own
// mutex, independent of the room store's lock.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]map[string]*Entry
}

func New(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		log:     logger,
		metrics: m,
		rooms:   make(map[string]map[string]*Entry),
	}
}

// Register binds peerID's outbound channel in the given room, replacing any
// prior entry for the same peer id (a reconnect supersedes the old socket).
func (r *Registry) Register(token, peerID string, s Sender, connectedAt time.Time) *Entry {
	e := &Entry{
		ID:          uuid.NewString(),
		Token:       token,
		PeerID:      peerID,
		ConnectedAt: connectedAt,
		sender:      s,
	}

	r.mu.Lock()
	peers, ok := r.rooms[token]
	if !ok {
		peers = make(map[string]*Entry)
		r.rooms[token] = peers
	}
	peers[peerID] = e
	r.mu.Unlock()

	return e
}

// Unregister removes exactly the given entry. It is a no-op when the slot has
// already been evicted or replaced by a newer connection for the same peer,
// which makes disconnect cleanup safe to run from multiple paths.
func (r *Registry) Unregister(e *Entry) bool {
	if e == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	peers, ok := r.rooms[e.Token]
	if !ok || peers[e.PeerID] != e {
		return false
	}
	delete(peers, e.PeerID)
	if len(peers) == 0 {
		delete(r.rooms, e.Token)
	}
	return true
}

// Find returns the live entry for (token, peerID).
func (r *Registry) Find(token, peerID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[token][peerID]
	return e, ok
}

// Broadcast sends payload to every registered connection in the room except
// fromPeer. Each send is independent: a failed write evicts that entry and
// kicks its socket, and never affects delivery to the rest of the room. It
// returns the number of successful deliveries.
func (r *Registry) Broadcast(token, fromPeer string, payload []byte) int {
	// Snapshot under the lock so a concurrent join/leave cannot disturb the
	// iteration; peers registered mid-broadcast are simply missed.
	r.mu.Lock()
	targets := make([]*Entry, 0, len(r.rooms[token]))
	for peerID, e := range r.rooms[token] {
		if peerID != fromPeer {
			targets = append(targets, e)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, e := range targets {
		if err := e.Send(payload); err != nil {
			// Treat the broken socket as an implicit disconnect; its read loop
			// completes the room-side cleanup.
			r.metrics.Inc(metrics.DeliveryFailures)
			if r.Unregister(e) {
				r.metrics.Inc(metrics.RegistryEvicted)
			}
			e.Kick(websocketCloseGoingAway, "write failed")
			r.log.Warn("broadcast delivery failed, evicting peer",
				"token", token, "peer", e.PeerID, "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// websocketCloseGoingAway mirrors websocket.CloseGoingAway without importing
// the transport package here.
const websocketCloseGoingAway = 1001

// Snapshot returns a copy of every registered connection, for the admin
// surface.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0)
	for _, peers := range r.rooms {
		for _, e := range peers {
			out = append(out, *e)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, peers := range r.rooms {
		n += len(peers)
	}
	return n
}
