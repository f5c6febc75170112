package config

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"
)

func mustLoad(t *testing.T, environ map[string]string, args ...string) Config {
	t.Helper()
	cfg, err := load(environ, args, &bytes.Buffer{})
	require.NoError(t, err)
	return cfg
}

func TestDefaultsDev(t *testing.T) {
	cfg := mustLoad(t, nil)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, ModeDev, cfg.Mode)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, engine.ConfirmAuto, cfg.ConfirmType)
	assert.Equal(t, 10*time.Second, cfg.PingInterval)
	assert.EqualValues(t, 65536, cfg.MaxMessageBytes)
	assert.Equal(t, 50, cfg.MaxMessagesPerSecond)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Equal(t, TraceExporterNone, cfg.TraceExporter)
	assert.False(t, cfg.TLSEnabled())
	assert.False(t, cfg.TURNREST.Enabled())
	assert.EqualValues(t, 3600, cfg.TURNREST.TTLSeconds)
	assert.Equal(t, "signaling", cfg.TURNREST.UsernamePrefix)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.ICEServers)
	assert.NoError(t, cfg.ICEConfigError())
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg := mustLoad(t, nil, "--mode", "prod")

	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg := mustLoad(t, nil, "--mode", "prod", "--log-format", "text")
	assert.Equal(t, LogFormatText, cfg.LogFormat)

	cfg = mustLoad(t, map[string]string{EnvMode: "production", EnvLogLevel: "warn"})
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	cfg := mustLoad(t, map[string]string{
		EnvListenAddr:   "127.0.0.1:1",
		EnvConfirmType:  "members",
		EnvPingInterval: "3s",
	}, "--listen-addr", "127.0.0.1:2", "--confirm-type=creator")

	assert.Equal(t, "127.0.0.1:2", cfg.ListenAddr)
	assert.Equal(t, engine.ConfirmCreator, cfg.ConfirmType)
	assert.Equal(t, 3*time.Second, cfg.PingInterval)
}

func TestTraceExporter(t *testing.T) {
	cfg := mustLoad(t, map[string]string{EnvTraceExporter: "STDOUT"})
	assert.Equal(t, TraceExporterStdout, cfg.TraceExporter)

	cfg = mustLoad(t, map[string]string{EnvTraceExporter: "stdout"}, "--trace-exporter", "none")
	assert.Equal(t, TraceExporterNone, cfg.TraceExporter)
}

func TestAllowedOrigins(t *testing.T) {
	cfg := mustLoad(t, map[string]string{
		EnvAllowedOrigins: " https://Example.com:443/ , null,*,http://localhost:5173",
	})
	assert.Equal(t, []string{"https://example.com", "null", "*", "http://localhost:5173"}, cfg.AllowedOrigins)

	_, err := load(map[string]string{EnvAllowedOrigins: "example.com"}, nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvAllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct {
		environ map[string]string
		args    []string
	}{
		"mode":            {environ: map[string]string{EnvMode: "staging"}},
		"log format":      {args: []string{"--log-format", "xml"}},
		"log level":       {args: []string{"--log-level", "loud"}},
		"confirm type":    {environ: map[string]string{EnvConfirmType: "nobody"}},
		"duration":        {environ: map[string]string{EnvPingInterval: "soon"}},
		"zero ping":       {args: []string{"--ping-interval", "0s"}},
		"negative queue":  {environ: map[string]string{EnvSendQueueSize: "-1"}},
		"zero rate":       {args: []string{"--max-messages-per-second", "0"}},
		"empty listen":    {args: []string{"--listen-addr", " "}},
		"half tls":        {environ: map[string]string{EnvTLSCertFile: "cert.pem"}},
		"positional args": {args: []string{"extra"}},
		"unknown flag":    {args: []string{"--nope"}},
		"trace exporter":  {environ: map[string]string{EnvTraceExporter: "jaeger"}},
		"turn rest ttl": {environ: map[string]string{
			EnvTURNRESTSharedSecret: "s",
			EnvTURNRESTTTLSeconds:   "0",
		}},
		"turn rest prefix": {environ: map[string]string{
			EnvTURNRESTSharedSecret:   "s",
			EnvTURNRESTUsernamePrefix: "a:b",
		}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load(tc.environ, tc.args, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func TestHelpReturnsErrHelp(t *testing.T) {
	var usage bytes.Buffer
	_, err := load(nil, []string{"--help"}, &usage)
	require.True(t, errors.Is(err, pflag.ErrHelp), "err=%v", err)
	assert.Contains(t, usage.String(), "--confirm-type")
}

func TestTLSEnabled(t *testing.T) {
	cfg := mustLoad(t, nil, "--tls-cert-file", "cert.pem", "--tls-key-file", "key.pem")
	assert.True(t, cfg.TLSEnabled())
}

func TestICEServersFromEnvironment(t *testing.T) {
	cfg := mustLoad(t, map[string]string{
		EnvSTUNURLs:       "stun:stun.example.com:3478",
		EnvTURNURLs:       "turn:turn.example.com:3478",
		EnvTURNUsername:   "user",
		EnvTURNCredential: "pass",
	})
	require.NoError(t, cfg.ICEConfigError())
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, "user", cfg.ICEServers[1].Username)

	cfg = mustLoad(t, map[string]string{
		EnvICEServersJSON: `[{"urls":"stun:json.example.com"}]`,
		EnvSTUNURLs:       "stun:ignored.example.com",
	})
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:json.example.com"}, cfg.ICEServers[0].URLs)
}

func TestICEConfigErrorIsNotFatal(t *testing.T) {
	cfg := mustLoad(t, map[string]string{EnvICEServersJSON: "not json"})

	require.Error(t, cfg.ICEConfigError())
	assert.Contains(t, cfg.ICEConfigError().Error(), EnvICEServersJSON)
	assert.Empty(t, cfg.ICEServers)
}

func TestTURNRESTAllowsTURNWithoutStaticCredentials(t *testing.T) {
	cfg := mustLoad(t, map[string]string{
		EnvTURNURLs:             "turn:turn.example.com:3478",
		EnvTURNRESTSharedSecret: "secret",
	})
	require.NoError(t, cfg.ICEConfigError())
	require.Len(t, cfg.ICEServers, 1)
	assert.True(t, cfg.TURNREST.Enabled())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(Config{LogFormat: LogFormatJSON, LogLevel: slog.LevelInfo}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(Config{LogFormat: "yaml"}, &buf)
	assert.Error(t, err)
}
