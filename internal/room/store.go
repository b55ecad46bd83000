package room

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/webcall/signaling-relay/internal/metrics"
	"github.com/webcall/signaling-relay/internal/ratelimit"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
)

const tokenBytes = 16 // 128 bits, base64url-encoded to 22 chars

// ValidToken reports whether s is shaped like a room token: URL-safe base64
// alphabet, between 16 and 128 characters. The relay otherwise treats tokens
// as opaque.
func ValidToken(s string) bool {
	if len(s) < 16 || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

type Options struct {
	// TTL is the room lifetime measured from creation. Zero means DefaultTTL.
	TTL time.Duration
	// IdleGrace is how long an emptied room survives before the sweep removes
	// it. Zero means DefaultIdleGrace.
	IdleGrace time.Duration

	Clock   ratelimit.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

const (
	DefaultTTL       = 7 * 24 * time.Hour
	DefaultIdleGrace = 5 * time.Minute
)

// Store exclusively owns the token -> room mapping. Every operation,
// including the sweep, runs under one store-wide mutex so capacity decisions
// and expiry never observe half-applied state.
type Store struct {
	ttl       time.Duration
	idleGrace time.Duration
	clock     ratelimit.Clock
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*room
}

func NewStore(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.IdleGrace <= 0 {
		opts.IdleGrace = DefaultIdleGrace
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		ttl:       opts.TTL,
		idleGrace: opts.IdleGrace,
		clock:     opts.Clock,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		rooms:     make(map[string]*room),
	}
}

// CreateRoom allocates a room under a fresh random token.
func (s *Store) CreateRoom(maxParticipants int) (Info, error) {
	token, err := newToken()
	if err != nil {
		return Info{}, err
	}

	now := s.clock.Now()
	r := s.newRoom(token, maxParticipants, now)

	s.mu.Lock()
	s.rooms[token] = r
	info := r.snapshot()
	s.mu.Unlock()

	s.metrics.Inc(metrics.RoomsCreated)
	s.log.Debug("room created", "token", token, "max_participants", info.MaxParticipants)
	return info, nil
}

// CreateRoomWithToken recreates a room under a caller-supplied token, used
// when a shared room URL points at a token the store no longer holds. An
// existing entry is only replaced when it is both expired and empty; a live
// room is returned as-is, never clobbered. Calling it on a resolvable token
// is therefore a safe way to "get or lazily recreate".
func (s *Store) CreateRoomWithToken(token string, maxParticipants int) Info {
	now := s.clock.Now()

	s.mu.Lock()
	if existing, ok := s.rooms[token]; ok {
		if len(existing.peers) > 0 || now.Before(existing.expiresAt) {
			info := existing.snapshot()
			s.mu.Unlock()
			return info
		}
	}
	r := s.newRoom(token, maxParticipants, now)
	s.rooms[token] = r
	info := r.snapshot()
	s.mu.Unlock()

	s.metrics.Inc(metrics.RoomsRecreated)
	s.log.Debug("room recreated", "token", token)
	return info
}

// GetRoom is a pure lookup with no side effects.
func (s *Store) GetRoom(token string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[token]
	if !ok {
		return Info{}, false
	}
	return r.snapshot(), true
}

// JoinInfo describes a successful join from the joining peer's perspective.
type JoinInfo struct {
	// Others lists the peer ids already in the room, excluding the joiner.
	Others []string
	// Max is the room's participant capacity.
	Max int
	// Rejoined is true when the peer id was already a member (reconnect).
	Rejoined bool
}

// Join admits peerID into the room. It returns ErrRoomNotFound when the token
// is unknown and ErrRoomFull when a new id would exceed capacity; rejoining
// with an existing id always succeeds.
func (s *Store) Join(token, peerID string) (JoinInfo, error) {
	now := s.clock.Now()

	s.mu.Lock()
	r, ok := s.rooms[token]
	if !ok {
		s.mu.Unlock()
		return JoinInfo{}, ErrRoomNotFound
	}

	others := make([]string, 0, len(r.peers))
	for id := range r.peers {
		if id != peerID {
			others = append(others, id)
		}
	}

	rejoined, admitted := r.join(peerID, now)
	max := r.maxParticipants
	s.mu.Unlock()

	if !admitted {
		s.metrics.Inc(metrics.RoomFullRejects)
		return JoinInfo{}, ErrRoomFull
	}
	if rejoined {
		s.metrics.Inc(metrics.PeersRejoined)
	} else {
		s.metrics.Inc(metrics.PeersJoined)
	}
	return JoinInfo{Others: others, Max: max, Rejoined: rejoined}, nil
}

// Leave removes peerID from the room, if both still exist.
func (s *Store) Leave(token, peerID string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	r, ok := s.rooms[token]
	if !ok {
		s.mu.Unlock()
		return false
	}
	left := r.leave(peerID, now)
	s.mu.Unlock()

	if left {
		s.metrics.Inc(metrics.PeersLeft)
	}
	return left
}

// Cleanup runs one sweep pass and returns the number of rooms removed. A room
// is removed when its TTL has elapsed or it has sat empty for at least the
// idle grace period; a room with participants is never removed, regardless of
// age.
func (s *Store) Cleanup() int {
	now := s.clock.Now()
	var ttlSwept, idleSwept int

	s.mu.Lock()
	for token, r := range s.rooms {
		if len(r.peers) > 0 {
			continue
		}
		switch {
		case !now.Before(r.expiresAt):
			delete(s.rooms, token)
			ttlSwept++
		case !r.lastEmptySince.IsZero() && now.Sub(r.lastEmptySince) >= s.idleGrace:
			delete(s.rooms, token)
			idleSwept++
		}
	}
	s.mu.Unlock()

	s.metrics.Add(metrics.RoomsSweptTTL, uint64(ttlSwept))
	s.metrics.Add(metrics.RoomsSweptIdle, uint64(idleSwept))
	if ttlSwept+idleSwept > 0 {
		s.log.Debug("swept rooms", "expired", ttlSwept, "idle", idleSwept)
	}
	return ttlSwept + idleSwept
}

// Rooms returns snapshots of every live room, for the admin surface.
func (s *Store) Rooms() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.snapshot())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Store) newRoom(token string, maxParticipants int, now time.Time) *room {
	if maxParticipants < 1 {
		maxParticipants = 1
	}
	return &room{
		token:           token,
		createdAt:       now,
		expiresAt:       now.Add(s.ttl),
		maxParticipants: maxParticipants,
		peers:           make(map[string]Peer),
	}
}

func newToken() (string, error) {
	var buf [tokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate room token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
