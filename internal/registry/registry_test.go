package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/webcall/signaling-relay/internal/metrics"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   [][]byte
	fail   error
	kicked bool
}

func (f *fakeSender) SendText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSender) Kick(code int, reason string) {
	f.mu.Lock()
	f.kicked = true
	f.mu.Unlock()
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	r := New(nil, metrics.New())
	now := time.Now()

	a := &fakeSender{}
	b := &fakeSender{}
	r.Register("room1", "a", a, now)
	r.Register("room1", "b", b, now)

	if delivered := r.Broadcast("room1", "a", []byte(`{"type":"offer"}`)); delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if a.sentCount() != 0 {
		t.Errorf("sender received its own broadcast")
	}
	if b.sentCount() != 1 {
		t.Errorf("peer b received %d messages, want 1", b.sentCount())
	}
}

func TestBroadcast_FailedDeliveryEvictsOnlyThatPeer(t *testing.T) {
	m := metrics.New()
	r := New(nil, m)
	now := time.Now()

	good := &fakeSender{}
	bad := &fakeSender{fail: errors.New("broken pipe")}
	r.Register("room1", "good", good, now)
	r.Register("room1", "bad", bad, now)

	if delivered := r.Broadcast("room1", "sender", []byte(`x`)); delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}

	if good.sentCount() != 1 {
		t.Errorf("healthy peer missed the broadcast")
	}
	if !bad.kicked {
		t.Errorf("failed peer was not kicked")
	}
	if _, ok := r.Find("room1", "bad"); ok {
		t.Errorf("failed peer still registered")
	}
	if _, ok := r.Find("room1", "good"); !ok {
		t.Errorf("healthy peer was evicted")
	}
	if m.Get(metrics.DeliveryFailures) != 1 {
		t.Errorf("DeliveryFailures = %d", m.Get(metrics.DeliveryFailures))
	}
}

func TestUnregister_OnlyRemovesOwnEntry(t *testing.T) {
	r := New(nil, metrics.New())
	now := time.Now()

	old := r.Register("room1", "a", &fakeSender{}, now)
	replacement := r.Register("room1", "a", &fakeSender{}, now) // reconnect

	// The superseded connection's teardown must not remove the new entry.
	if r.Unregister(old) {
		t.Fatalf("stale entry unregistered the replacement's slot")
	}
	got, ok := r.Find("room1", "a")
	if !ok || got != replacement {
		t.Fatalf("replacement entry missing after stale unregister")
	}

	if !r.Unregister(replacement) {
		t.Fatalf("live entry failed to unregister")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d after unregister", r.Len())
	}
	if r.Unregister(replacement) {
		t.Fatalf("double unregister reported removal")
	}
}

func TestSnapshot(t *testing.T) {
	r := New(nil, metrics.New())
	now := time.Now()
	r.Register("room1", "a", &fakeSender{}, now)
	r.Register("room2", "b", &fakeSender{}, now)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d", len(snap))
	}
	for _, e := range snap {
		if e.ID == "" {
			t.Errorf("entry %q/%q missing connection id", e.Token, e.PeerID)
		}
	}
}
