package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "WEBCALL_LISTEN_ADDR"
	envVarPublicBaseURL   = "WEBCALL_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarMode            = "WEBCALL_MODE"
	envVarLogFormat       = "WEBCALL_LOG_FORMAT"
	envVarLogLevel        = "WEBCALL_LOG_LEVEL"
	envVarShutdownTimeout = "WEBCALL_SHUTDOWN_TIMEOUT"

	// Room lifecycle knobs.
	envVarRoomTTL           = "ROOM_TTL"
	envVarRoomIdleGrace     = "ROOM_IDLE_GRACE"
	envVarRoomSweepInterval = "ROOM_SWEEP_INTERVAL"
	envVarMaxParticipants   = "MAX_PARTICIPANTS"

	// WebSocket signaling hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingWriteTimeout         = "SIGNALING_WRITE_TIMEOUT"

	// Admin surface.
	envVarAdminAPIKey = "WEBCALL_ADMIN_API_KEY"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultRoomTTL           = 7 * 24 * time.Hour
	DefaultRoomIdleGrace     = 5 * time.Minute
	DefaultRoomSweepInterval = 30 * time.Second
	DefaultMaxParticipants   = 2

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingWriteTimeout         = 1 * time.Second

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr     string
	PublicBaseURL  string
	AllowedOrigins []string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	RoomTTL           time.Duration
	RoomIdleGrace     time.Duration
	RoomSweepInterval time.Duration
	MaxParticipants   int

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingWriteTimeout         time.Duration

	AdminAPIKey string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("webcall-relay", flag.ContinueOnError)
	listenAddrFlag := fs.String("listen-addr", "", "listen address (overrides "+envVarListenAddr+")")
	modeFlag := fs.String("mode", "", "dev or prod (overrides "+envVarMode+")")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	modeRaw := envOrDefault(lookup, envVarMode, string(DefaultMode))
	if *modeFlag != "" {
		modeRaw = *modeFlag
	}
	mode, err := parseMode(modeRaw)
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	if *listenAddrFlag != "" {
		listenAddr = *listenAddrFlag
	}

	publicBaseURL, err := normalizePublicBaseURL(envOrDefault(lookup, envVarPublicBaseURL, ""))
	if err != nil {
		return Config{}, err
	}

	var allowedOrigins []string
	for _, entry := range strings.Split(envOrDefault(lookup, envVarAllowedOrigins, ""), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			allowedOrigins = append(allowedOrigins, entry)
		}
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	roomTTL, err := envDurationOrDefault(lookup, envVarRoomTTL, DefaultRoomTTL)
	if err != nil {
		return Config{}, err
	}
	roomIdleGrace, err := envDurationOrDefault(lookup, envVarRoomIdleGrace, DefaultRoomIdleGrace)
	if err != nil {
		return Config{}, err
	}
	roomSweepInterval, err := envDurationOrDefault(lookup, envVarRoomSweepInterval, DefaultRoomSweepInterval)
	if err != nil {
		return Config{}, err
	}
	maxParticipants, err := envIntOrDefault(lookup, envVarMaxParticipants, DefaultMaxParticipants)
	if err != nil {
		return Config{}, err
	}
	if maxParticipants < 1 {
		return Config{}, fmt.Errorf("invalid %s %d: must be >= 1", envVarMaxParticipants, maxParticipants)
	}

	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return Config{}, err
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("invalid %s %d: must be > 0", envVarMaxSignalingMessageBytes, maxMessageBytes)
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("invalid %s %d: must be > 0", envVarMaxSignalingMessagesPerSecond, maxMessagesPerSecond)
	}
	writeTimeout, err := envDurationOrDefault(lookup, envVarSignalingWriteTimeout, DefaultSignalingWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	if writeTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid %s %s: must be > 0", envVarSignalingWriteTimeout, writeTimeout)
	}

	adminAPIKey := envOrDefault(lookup, envVarAdminAPIKey, "")

	return Config{
		ListenAddr:     listenAddr,
		PublicBaseURL:  publicBaseURL,
		AllowedOrigins: allowedOrigins,

		Mode:      mode,
		LogFormat: logFormat,
		LogLevel:  logLevel,

		ShutdownTimeout: shutdownTimeout,

		RoomTTL:           roomTTL,
		RoomIdleGrace:     roomIdleGrace,
		RoomSweepInterval: roomSweepInterval,
		MaxParticipants:   maxParticipants,

		MaxSignalingMessageBytes:      int64(maxMessageBytes),
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		SignalingWriteTimeout:         writeTimeout,

		AdminAPIKey: adminAPIKey,
	}, nil
}

// normalizePublicBaseURL accepts only absolute http(s) URLs and trims any
// trailing slash. Unexpanded deployment placeholders (e.g. "${BASE_URL}" or
// "${BASE_URL:-}") are treated as unset rather than rejected so a templated
// env file doesn't take the relay down.
func normalizePublicBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if strings.Contains(raw, "${") || strings.Contains(raw, ":-") {
		return "", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q: %w", envVarPublicBaseURL, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid %s %q: must be an absolute http(s) URL", envVarPublicBaseURL, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s %q: expected dev or prod", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s %q: expected text or json", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envVarLogLevel, raw, err)
	}
	return level, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}
