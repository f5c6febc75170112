package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/origin"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}
	if slices.Contains(cfg.AllowedOrigins, origin.Null) {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains 'null' (allows sandboxed and file:// pages)",
			"warning_code", "allowed_origins_null",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.ConfirmType == engine.ConfirmAuto {
		logger.Warn("startup security warning: confirm type is auto while --mode=prod (any user may join any session)",
			"warning_code", "confirm_type_auto_in_prod",
			"confirm_type", cfg.ConfirmType,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !cfg.TLSEnabled() {
		logger.Warn("startup warning: TLS is not configured while --mode=prod (terminate TLS in front of the server)",
			"warning_code", "tls_disabled_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessageBytes > 1<<20 {
		logger.Warn("startup security warning: max message size is very large (increases per-message allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}
}
