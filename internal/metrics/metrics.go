package metrics

import "sync"

// Event names used across the relay. Names are intentionally flat; the
// Prometheus handler exposes them as label values on one counter family.
const (
	RoomsCreated   = "rooms_created"
	RoomsRecreated = "rooms_recreated"
	RoomsSweptTTL  = "rooms_swept_ttl"
	RoomsSweptIdle = "rooms_swept_idle"

	PeersJoined       = "peers_joined"
	PeersRejoined     = "peers_rejoined"
	PeersLeft         = "peers_left"
	RoomFullRejects   = "room_full_rejects"
	RoomNotFound      = "room_not_found"
	FramesRelayed     = "frames_relayed"
	BadFrames         = "bad_frames"
	NonStandardICE    = "non_standard_ice_candidates"
	RateLimitedFrames = "rate_limited_frames"

	DeliveryFailures = "broadcast_delivery_failures"
	RegistryEvicted  = "registry_evictions"

	AdminKicks    = "admin_kicks"
	AuthFailures  = "auth_failures"
	InternalError = "internal_errors"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay deliberately keeps its metrics in-process and scrapeable rather
// than depending on a metrics SDK; see PrometheusHandler for the export path.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
