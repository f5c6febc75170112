// Package config loads the server configuration from the environment and
// command-line flags. Flags override environment values.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/origin"
)

const (
	EnvListenAddr           = "WEBRTC_SIGNALING_LISTEN_ADDR"
	EnvMode                 = "WEBRTC_SIGNALING_MODE"
	EnvLogFormat            = "WEBRTC_SIGNALING_LOG_FORMAT"
	EnvLogLevel             = "WEBRTC_SIGNALING_LOG_LEVEL"
	EnvShutdownTimeout      = "WEBRTC_SIGNALING_SHUTDOWN_TIMEOUT"
	EnvConfirmType          = "WEBRTC_SIGNALING_CONFIRM_TYPE"
	EnvTLSCertFile          = "WEBRTC_SIGNALING_TLS_CERT_FILE"
	EnvTLSKeyFile           = "WEBRTC_SIGNALING_TLS_KEY_FILE"
	EnvAllowedOrigins       = "ALLOWED_ORIGINS"
	EnvPingInterval         = "WEBRTC_SIGNALING_PING_INTERVAL"
	EnvMaxMessageBytes      = "WEBRTC_SIGNALING_MAX_MESSAGE_BYTES"
	EnvMaxMessagesPerSecond = "WEBRTC_SIGNALING_MAX_MESSAGES_PER_SECOND"
	EnvSendQueueSize        = "WEBRTC_SIGNALING_SEND_QUEUE_SIZE"
	EnvTraceExporter        = "WEBRTC_SIGNALING_TRACE_EXPORTER"

	EnvICEServersJSON = "WEBRTC_SIGNALING_ICE_SERVERS_JSON"
	EnvSTUNURLs       = "WEBRTC_SIGNALING_STUN_URLS"
	EnvTURNURLs       = "WEBRTC_SIGNALING_TURN_URLS"
	EnvTURNUsername   = "WEBRTC_SIGNALING_TURN_USERNAME"
	EnvTURNCredential = "WEBRTC_SIGNALING_TURN_CREDENTIAL"

	EnvTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	EnvTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	EnvTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	EnvTURNRESTRealm          = "TURN_REST_REALM"
)

const (
	DefaultListenAddr = "0.0.0.0:9876"
	DefaultMode       = ModeDev
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

// TraceExporter selects where engine spans go.
type TraceExporter string

const (
	TraceExporterNone   TraceExporter = "none"
	TraceExporterStdout TraceExporter = "stdout"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	ConfirmType     engine.ConfirmType
	TraceExporter   TraceExporter

	TLSCertFile string
	TLSKeyFile  string

	AllowedOrigins []string

	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError is the ICE parse failure, if any. It is not fatal at load
// time; the server reports itself unready instead.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// envConfig is the raw environment. Empty log settings defer to the mode.
type envConfig struct {
	ListenAddr           string        `env:"WEBRTC_SIGNALING_LISTEN_ADDR" envDefault:"0.0.0.0:9876"`
	Mode                 string        `env:"WEBRTC_SIGNALING_MODE" envDefault:"dev"`
	LogFormat            string        `env:"WEBRTC_SIGNALING_LOG_FORMAT"`
	LogLevel             string        `env:"WEBRTC_SIGNALING_LOG_LEVEL"`
	ShutdownTimeout      time.Duration `env:"WEBRTC_SIGNALING_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	ConfirmType          string        `env:"WEBRTC_SIGNALING_CONFIRM_TYPE" envDefault:"auto"`
	TLSCertFile          string        `env:"WEBRTC_SIGNALING_TLS_CERT_FILE"`
	TLSKeyFile           string        `env:"WEBRTC_SIGNALING_TLS_KEY_FILE"`
	AllowedOrigins       string        `env:"ALLOWED_ORIGINS"`
	PingInterval         time.Duration `env:"WEBRTC_SIGNALING_PING_INTERVAL" envDefault:"10s"`
	MaxMessageBytes      int64         `env:"WEBRTC_SIGNALING_MAX_MESSAGE_BYTES" envDefault:"65536"`
	MaxMessagesPerSecond int           `env:"WEBRTC_SIGNALING_MAX_MESSAGES_PER_SECOND" envDefault:"50"`
	SendQueueSize        int           `env:"WEBRTC_SIGNALING_SEND_QUEUE_SIZE" envDefault:"256"`
	TraceExporter        string        `env:"WEBRTC_SIGNALING_TRACE_EXPORTER" envDefault:"none"`

	ICEServersJSON string `env:"WEBRTC_SIGNALING_ICE_SERVERS_JSON"`
	STUNURLs       string `env:"WEBRTC_SIGNALING_STUN_URLS"`
	TURNURLs       string `env:"WEBRTC_SIGNALING_TURN_URLS"`
	TURNUsername   string `env:"WEBRTC_SIGNALING_TURN_USERNAME"`
	TURNCredential string `env:"WEBRTC_SIGNALING_TURN_CREDENTIAL"`

	TURNRESTSharedSecret   string `env:"TURN_REST_SHARED_SECRET"`
	TURNRESTTTLSeconds     int64  `env:"TURN_REST_TTL_SECONDS" envDefault:"3600"`
	TURNRESTUsernamePrefix string `env:"TURN_REST_USERNAME_PREFIX" envDefault:"signaling"`
	TURNRESTRealm          string `env:"TURN_REST_REALM"`
}

// Load reads the process environment and parses args. A --help request
// returns pflag.ErrHelp after printing usage to stderr.
func Load(args []string) (Config, error) {
	return load(env.ToMap(os.Environ()), args, os.Stderr)
}

func load(environ map[string]string, args []string, usage io.Writer) (Config, error) {
	if environ == nil {
		// env falls back to the process environment for a nil map.
		environ = map[string]string{}
	}
	var raw envConfig
	if err := env.ParseWithOptions(&raw, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	fs := pflag.NewFlagSet("webrtc-signaling", pflag.ContinueOnError)
	fs.SetOutput(usage)
	fs.SortFlags = false

	fs.StringVar(&raw.ListenAddr, "listen-addr", raw.ListenAddr, "HTTP listen address (host:port; env "+EnvListenAddr+")")
	fs.StringVar(&raw.Mode, "mode", raw.Mode, "Run mode: dev or prod (env "+EnvMode+")")
	fs.StringVar(&raw.LogFormat, "log-format", raw.LogFormat, "Log format: text or json (default depends on mode; env "+EnvLogFormat+")")
	fs.StringVar(&raw.LogLevel, "log-level", raw.LogLevel, "Log level: debug, info, warn, error (default depends on mode; env "+EnvLogLevel+")")
	fs.DurationVar(&raw.ShutdownTimeout, "shutdown-timeout", raw.ShutdownTimeout, "Graceful shutdown timeout (env "+EnvShutdownTimeout+")")
	fs.StringVar(&raw.ConfirmType, "confirm-type", raw.ConfirmType, "Who approves join requests: creator, members or auto (env "+EnvConfirmType+")")
	fs.StringVar(&raw.TLSCertFile, "tls-cert-file", raw.TLSCertFile, "TLS certificate file; requires --tls-key-file (env "+EnvTLSCertFile+")")
	fs.StringVar(&raw.TLSKeyFile, "tls-key-file", raw.TLSKeyFile, "TLS key file; requires --tls-cert-file (env "+EnvTLSKeyFile+")")
	fs.StringVar(&raw.AllowedOrigins, "allowed-origins", raw.AllowedOrigins, "Comma-separated allowed browser origins; empty means same host (env "+EnvAllowedOrigins+")")
	fs.DurationVar(&raw.PingInterval, "ping-interval", raw.PingInterval, "WebSocket liveness probe interval (env "+EnvPingInterval+")")
	fs.Int64Var(&raw.MaxMessageBytes, "max-message-bytes", raw.MaxMessageBytes, "Max inbound WebSocket message size (env "+EnvMaxMessageBytes+")")
	fs.IntVar(&raw.MaxMessagesPerSecond, "max-messages-per-second", raw.MaxMessagesPerSecond, "Max inbound WebSocket messages per second per socket (env "+EnvMaxMessagesPerSecond+")")
	fs.IntVar(&raw.SendQueueSize, "send-queue-size", raw.SendQueueSize, "Outbound frames buffered per socket (env "+EnvSendQueueSize+")")
	fs.StringVar(&raw.TraceExporter, "trace-exporter", raw.TraceExporter, "Span exporter: none or stdout (env "+EnvTraceExporter+")")
	fs.StringVar(&raw.ICEServersJSON, "ice-servers-json", raw.ICEServersJSON, "ICE servers as JSON (env "+EnvICEServersJSON+")")
	fs.StringVar(&raw.STUNURLs, "stun-urls", raw.STUNURLs, "Comma-separated STUN URLs (env "+EnvSTUNURLs+")")
	fs.StringVar(&raw.TURNURLs, "turn-urls", raw.TURNURLs, "Comma-separated TURN URLs (env "+EnvTURNURLs+")")
	fs.StringVar(&raw.TURNUsername, "turn-username", raw.TURNUsername, "TURN username (env "+EnvTURNUsername+")")
	fs.StringVar(&raw.TURNCredential, "turn-credential", raw.TURNCredential, "TURN credential (env "+EnvTURNCredential+")")
	fs.StringVar(&raw.TURNRESTSharedSecret, "turn-rest-shared-secret", raw.TURNRESTSharedSecret, "TURN REST shared secret; enables per-connection TURN credentials (env "+EnvTURNRESTSharedSecret+")")
	fs.Int64Var(&raw.TURNRESTTTLSeconds, "turn-rest-ttl-seconds", raw.TURNRESTTTLSeconds, "TURN REST credential TTL seconds (env "+EnvTURNRESTTTLSeconds+")")
	fs.StringVar(&raw.TURNRESTUsernamePrefix, "turn-rest-username-prefix", raw.TURNRESTUsernamePrefix, "TURN REST username prefix (env "+EnvTURNRESTUsernamePrefix+")")
	fs.StringVar(&raw.TURNRESTRealm, "turn-rest-realm", raw.TURNRESTRealm, "TURN realm (coturn config; env "+EnvTURNRESTRealm+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	return build(raw)
}

func build(raw envConfig) (Config, error) {
	mode, err := parseMode(raw.Mode)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(raw.LogFormat) == "" {
		raw.LogFormat = defaultLogFormatForMode(mode)
	}
	if strings.TrimSpace(raw.LogLevel) == "" {
		raw.LogLevel = defaultLogLevelForMode(mode)
	}
	logFormat, err := parseLogFormat(raw.LogFormat)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(raw.LogLevel)
	if err != nil {
		return Config{}, err
	}
	confirm, err := engine.ParseConfirmType(raw.ConfirmType)
	if err != nil {
		return Config{}, err
	}
	traceExporter, err := parseTraceExporter(raw.TraceExporter)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(raw.AllowedOrigins)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", EnvAllowedOrigins, err)
	}

	if strings.TrimSpace(raw.ListenAddr) == "" {
		return Config{}, fmt.Errorf("%s must not be empty", EnvListenAddr)
	}
	if (raw.TLSCertFile == "") != (raw.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together", EnvTLSCertFile, EnvTLSKeyFile)
	}
	for _, check := range []struct {
		name string
		ok   bool
	}{
		{EnvShutdownTimeout, raw.ShutdownTimeout > 0},
		{EnvPingInterval, raw.PingInterval > 0},
		{EnvMaxMessageBytes, raw.MaxMessageBytes > 0},
		{EnvMaxMessagesPerSecond, raw.MaxMessagesPerSecond > 0},
		{EnvSendQueueSize, raw.SendQueueSize > 0},
	} {
		if !check.ok {
			return Config{}, fmt.Errorf("%s must be positive", check.name)
		}
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   raw.TURNRESTSharedSecret,
		TTLSeconds:     raw.TURNRESTTTLSeconds,
		UsernamePrefix: raw.TURNRESTUsernamePrefix,
		Realm:          raw.TURNRESTRealm,
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", EnvTURNRESTTTLSeconds)
		}
		if prefix := strings.TrimSpace(turnREST.UsernamePrefix); prefix == "" || strings.Contains(prefix, ":") {
			return Config{}, fmt.Errorf("%s must be non-empty and must not contain ':'", EnvTURNRESTUsernamePrefix)
		}
	}

	cfg := Config{
		ListenAddr:      raw.ListenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: raw.ShutdownTimeout,
		ConfirmType:     confirm,
		TraceExporter:   traceExporter,

		TLSCertFile: raw.TLSCertFile,
		TLSKeyFile:  raw.TLSKeyFile,

		AllowedOrigins: allowedOrigins,

		PingInterval:         raw.PingInterval,
		MaxMessageBytes:      raw.MaxMessageBytes,
		MaxMessagesPerSecond: raw.MaxMessagesPerSecond,
		SendQueueSize:        raw.SendQueueSize,

		TURNREST: turnREST,
	}

	servers, err := parseICEServers(iceSource{
		ServersJSON:    raw.ICEServersJSON,
		STUNURLs:       raw.STUNURLs,
		TURNURLs:       raw.TURNURLs,
		TURNUsername:   raw.TURNUsername,
		TURNCredential: raw.TURNCredential,
	}, turnREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = servers
	}
	return cfg, nil
}

// NewLogger builds the process logger writing to stdout.
func NewLogger(cfg Config) (*slog.Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
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

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development", "":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseTraceExporter(raw string) (TraceExporter, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(TraceExporterNone), "":
		return TraceExporterNone, nil
	case string(TraceExporterStdout):
		return TraceExporterStdout, nil
	default:
		return "", fmt.Errorf("invalid trace exporter %q (expected none or stdout)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*", origin.Null:
			out = append(out, entry)
			continue
		}

		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
