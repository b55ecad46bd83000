package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webcall/signaling-relay/internal/auth"
	"github.com/webcall/signaling-relay/internal/metrics"
	"github.com/webcall/signaling-relay/internal/registry"
	"github.com/webcall/signaling-relay/internal/room"
)

type fakeSender struct {
	kicked atomic.Int64
}

func (f *fakeSender) SendText(data []byte) error   { return nil }
func (f *fakeSender) Kick(code int, reason string) { f.kicked.Add(1) }

type adminFixture struct {
	ts       *httptest.Server
	store    *room.Store
	registry *registry.Registry
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, apiKey string, devMode bool) *adminFixture {
	t.Helper()
	m := metrics.New()
	store := room.NewStore(room.Options{Metrics: m})
	reg := registry.New(nil, m)

	mux := http.NewServeMux()
	NewServer(Config{
		Store:    store,
		Registry: reg,
		Metrics:  m,
		APIKey:   apiKey,
		DevMode:  devMode,
	}).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &adminFixture{ts: ts, store: store, registry: reg, metrics: m}
}

func get(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if key != "" {
		req.Header.Set(auth.HeaderAdminKey, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func TestGuard(t *testing.T) {
	t.Run("no key configured, prod mode: everything rejected", func(t *testing.T) {
		f := newFixture(t, "", false)
		resp := get(t, f.ts.URL+"/api/admin/rooms", "any")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if f.metrics.Get(metrics.AuthFailures) != 1 {
			t.Errorf("AuthFailures = %d", f.metrics.Get(metrics.AuthFailures))
		}
	})

	t.Run("no key configured, dev mode: open", func(t *testing.T) {
		f := newFixture(t, "", true)
		resp := get(t, f.ts.URL+"/api/admin/rooms", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})

	t.Run("key configured: header accepted, wrong key rejected", func(t *testing.T) {
		f := newFixture(t, "sekret", true)
		if resp := get(t, f.ts.URL+"/api/admin/rooms", "sekret"); resp.StatusCode != http.StatusOK {
			t.Fatalf("valid key status = %d", resp.StatusCode)
		}
		if resp := get(t, f.ts.URL+"/api/admin/rooms", "wrong"); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("wrong key status = %d", resp.StatusCode)
		}
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		f := newFixture(t, "sekret", false)
		req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/admin/rooms", nil)
		req.Header.Set("Authorization", "Bearer sekret")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})
}

func TestRoomsView(t *testing.T) {
	f := newFixture(t, "", true)
	info, err := f.store.CreateRoom(2)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := f.store.Join(info.Token, "a"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	resp := get(t, f.ts.URL+"/api/admin/rooms", "")
	var body struct {
		Rooms []roomView `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	if len(body.Rooms) != 1 {
		t.Fatalf("rooms = %d", len(body.Rooms))
	}
	got := body.Rooms[0]
	if got.Token != info.Token || got.MaxParticipants != 2 {
		t.Fatalf("room view = %+v", got)
	}
	if len(got.Peers) != 1 || got.Peers[0].ID != "a" {
		t.Fatalf("peers = %+v", got.Peers)
	}
	if got.LastEmptySince != nil {
		t.Errorf("lastEmptySince should be omitted for an occupied room")
	}
}

func TestConnectionsView(t *testing.T) {
	f := newFixture(t, "", true)
	f.registry.Register("tok", "a", &fakeSender{}, time.Unix(1700000000, 0).UTC())

	resp := get(t, f.ts.URL+"/api/admin/connections", "")
	var body struct {
		Connections []connectionView `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	if len(body.Connections) != 1 {
		t.Fatalf("connections = %d", len(body.Connections))
	}
	c := body.Connections[0]
	if c.Token != "tok" || c.PeerID != "a" || c.ID == "" {
		t.Fatalf("connection view = %+v", c)
	}
}

func TestKick(t *testing.T) {
	f := newFixture(t, "", true)
	sender := &fakeSender{}
	f.registry.Register("tok", "a", sender, time.Now())

	resp, err := http.Post(f.ts.URL+"/api/admin/kick", "application/json",
		strings.NewReader(`{"token":"tok","peerId":"a"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if sender.kicked.Load() != 1 {
		t.Errorf("kick count = %d", sender.kicked.Load())
	}
	if f.metrics.Get(metrics.AdminKicks) != 1 {
		t.Errorf("AdminKicks = %d", f.metrics.Get(metrics.AdminKicks))
	}
}

func TestDeleteConnection(t *testing.T) {
	f := newFixture(t, "", true)
	sender := &fakeSender{}
	f.registry.Register("tok", "a", sender, time.Now())

	req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/admin/connections/tok/a", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if sender.kicked.Load() != 1 {
		t.Errorf("kick count = %d", sender.kicked.Load())
	}

	req, _ = http.NewRequest(http.MethodDelete, f.ts.URL+"/api/admin/connections/tok/ghost", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown peer status = %d", resp.StatusCode)
	}
}

func TestKick_UnknownConnection(t *testing.T) {
	f := newFixture(t, "", true)

	resp, err := http.Post(f.ts.URL+"/api/admin/kick", "application/json",
		strings.NewReader(`{"token":"tok","peerId":"ghost"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestKick_BadBody(t *testing.T) {
	f := newFixture(t, "", true)

	resp, err := http.Post(f.ts.URL+"/api/admin/kick", "application/json",
		strings.NewReader(`{`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
