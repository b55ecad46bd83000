package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFromMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFromMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q (dev default should be text)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v (dev default should be debug)", cfg.LogLevel)
	}
	if cfg.RoomTTL != DefaultRoomTTL {
		t.Errorf("RoomTTL = %v", cfg.RoomTTL)
	}
	if cfg.RoomIdleGrace != DefaultRoomIdleGrace {
		t.Errorf("RoomIdleGrace = %v", cfg.RoomIdleGrace)
	}
	if cfg.RoomSweepInterval != DefaultRoomSweepInterval {
		t.Errorf("RoomSweepInterval = %v", cfg.RoomSweepInterval)
	}
	if cfg.MaxParticipants != DefaultMaxParticipants {
		t.Errorf("MaxParticipants = %d", cfg.MaxParticipants)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Errorf("MaxSignalingMessageBytes = %d", cfg.MaxSignalingMessageBytes)
	}
}

func TestLoad_ProdDefaultsToJSONInfo(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{"WEBCALL_MODE": "prod"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"WEBCALL_LISTEN_ADDR": "0.0.0.0:9000",
		"ROOM_TTL":            "48h",
		"ROOM_IDLE_GRACE":     "90s",
		"ROOM_SWEEP_INTERVAL": "5s",
		"MAX_PARTICIPANTS":    "4",
		"ALLOWED_ORIGINS":     "https://a.example, https://b.example",
	}

	cfg, err := load(lookupFromMap(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.RoomTTL != 48*time.Hour {
		t.Errorf("RoomTTL = %v", cfg.RoomTTL)
	}
	if cfg.RoomIdleGrace != 90*time.Second {
		t.Errorf("RoomIdleGrace = %v", cfg.RoomIdleGrace)
	}
	if cfg.MaxParticipants != 4 {
		t.Errorf("MaxParticipants = %d", cfg.MaxParticipants)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoad_FlagsWin(t *testing.T) {
	env := map[string]string{"WEBCALL_LISTEN_ADDR": "127.0.0.1:1111", "WEBCALL_MODE": "prod"}
	cfg, err := load(lookupFromMap(env), []string{"-listen-addr", "127.0.0.1:2222", "-mode", "dev"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:2222" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q", cfg.Mode)
	}
}

func TestLoad_PublicBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"unset", "", "", false},
		{"valid", "https://call.example.com", "https://call.example.com", false},
		{"trailing slash trimmed", "https://call.example.com/", "https://call.example.com", false},
		{"placeholder treated as unset", "${PUBLIC_BASE_URL:-}", "", false},
		{"relative rejected", "call.example.com", "", true},
		{"ftp rejected", "ftp://call.example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(lookupFromMap(map[string]string{"WEBCALL_PUBLIC_BASE_URL": tt.raw}), nil)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.PublicBaseURL != tt.want {
				t.Errorf("PublicBaseURL = %q, want %q", cfg.PublicBaseURL, tt.want)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"WEBCALL_MODE": "staging"},
		{"WEBCALL_LOG_FORMAT": "yaml"},
		{"WEBCALL_LOG_LEVEL": "loud"},
		{"ROOM_TTL": "tomorrow"},
		{"MAX_PARTICIPANTS": "0"},
		{"MAX_PARTICIPANTS": "two"},
		{"MAX_SIGNALING_MESSAGE_BYTES": "-1"},
		{"MAX_SIGNALING_MESSAGES_PER_SECOND": "0"},
		{"SIGNALING_WRITE_TIMEOUT": "-1s"},
	}

	for _, env := range tests {
		if _, err := load(lookupFromMap(env), nil); err == nil {
			t.Errorf("expected error for %v", env)
		}
	}
}

func TestNewLogger_RejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(Config{LogFormat: "yaml"}); err == nil ||
		!strings.Contains(err.Error(), "unsupported log format") {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewLogger(Config{LogFormat: LogFormatJSON}); err != nil {
		t.Fatalf("json logger: %v", err)
	}
}
