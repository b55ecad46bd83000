// Package room owns the signaling room lifecycle: creation, membership,
// TTL/idle expiry, and the background sweep.
package room

import "time"

// Peer is one participant's identity within a room. The id is caller-supplied
// and unique only within its room.
type Peer struct {
	ID          string    `json:"peerId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// room is the store-internal state of one signaling session. All access is
// serialized by the owning Store's mutex; the raw peers map is never handed
// to callers.
type room struct {
	token           string
	createdAt       time.Time
	expiresAt       time.Time
	maxParticipants int

	peers map[string]Peer

	// lastEmptySince is stamped when the room transitions to empty and cleared
	// on the next join. It stays zero for a created-but-never-joined room, so a
	// freshly shared link is only ever reaped by TTL.
	lastEmptySince time.Time
}

// join admits peerID, reporting whether it was already a member. Rejoining
// with an existing id always succeeds, even when the room is nominally full,
// because that id's slot is already counted.
func (r *room) join(peerID string, now time.Time) (rejoined, ok bool) {
	if _, exists := r.peers[peerID]; exists {
		return true, true
	}
	if len(r.peers) >= r.maxParticipants {
		return false, false
	}
	r.peers[peerID] = Peer{ID: peerID, ConnectedAt: now}
	r.lastEmptySince = time.Time{}
	return false, true
}

// leave removes peerID if present, stamping lastEmptySince when the room
// becomes empty.
func (r *room) leave(peerID string, now time.Time) bool {
	_, present := r.peers[peerID]
	if present {
		delete(r.peers, peerID)
	}
	if len(r.peers) == 0 {
		r.lastEmptySince = now
	}
	return present
}

func (r *room) snapshot() Info {
	peers := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return Info{
		Token:           r.token,
		CreatedAt:       r.createdAt,
		ExpiresAt:       r.expiresAt,
		MaxParticipants: r.maxParticipants,
		Participants:    len(r.peers),
		Peers:           peers,
		LastEmptySince:  r.lastEmptySince,
	}
}

// Info is a point-in-time copy of a room's state, safe to use without holding
// the store lock.
type Info struct {
	Token           string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	MaxParticipants int
	Participants    int
	Peers           []Peer
	// LastEmptySince is zero while the room has participants or has never had
	// any.
	LastEmptySince time.Time
}
