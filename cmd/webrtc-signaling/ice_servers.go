package main

import (
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/turnrest"
)

// connectionICEServers returns the list announced in each user.init. With
// TURN REST, TURN entries carry credentials bound to the connection id. When
// minting fails those entries are dropped so the client still gets STUN.
func connectionICEServers(cfg config.Config, turn *turnrest.Generator, logger *slog.Logger) engine.ICEServerFunc {
	if cfg.ICEConfigError() != nil || len(cfg.ICEServers) == 0 {
		return nil
	}
	if turn == nil {
		return func(string) []webrtc.ICEServer { return cfg.ICEServers }
	}

	return func(connectionID string) []webrtc.ICEServer {
		servers, err := turn.ICEServers(cfg.ICEServers, connectionID)
		if err == nil {
			return servers
		}
		logger.Error("failed to generate TURN REST credentials", "connection_id", connectionID, "err", err)

		out := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
		for _, server := range cfg.ICEServers {
			if !turnrest.HasTURN([]webrtc.ICEServer{server}) {
				out = append(out, server)
			}
		}
		return out
	}
}
