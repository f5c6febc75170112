// Package httpserver hosts the HTTP surface: health and version probes, the
// ICE server endpoint, metrics and the signaling WebSocket.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Deps are the optional handlers mounted next to the built-in routes.
type Deps struct {
	Signaling *signaling.Server
	Metrics   http.Handler

	// TURNREST, when set, mints fresh credentials for TURN entries served by
	// /webrtc/ice.
	TURNREST *turnrest.Generator
}

type Server struct {
	log   *slog.Logger
	cfg   config.Config
	build BuildInfo
	deps  Deps

	ready atomic.Bool

	router chi.Router
	srv    *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, deps Deps) *Server {
	s := &Server{
		log:    logger,
		cfg:    cfg,
		build:  build,
		deps:   deps,
		router: chi.NewRouter(),
	}

	s.router.Use(
		recoverMiddleware(s.log),
		middleware.RequestID,
		middleware.RealIP,
		requestIDHeaderMiddleware,
		requestLoggerMiddleware(s.log),
	)
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		// WebSocket connections are long-lived, so no read or write timeout.
	}

	return s
}

// Handler returns the routed handler, for tests that use httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l, over TLS when a certificate is configured.
func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	if s.cfg.TLSEnabled() {
		s.log.Info("https server serving", "addr", l.Addr().String())
		return s.srv.ServeTLS(l, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

// Shutdown stops accepting requests and waits for in-flight HTTP requests.
// Upgraded WebSockets are not tracked here; close the signaling server after.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	r := s.router

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.originPolicy)
		r.Get("/webrtc/ice", s.handleICE)
		r.Options("/webrtc/ice", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	if s.deps.Signaling != nil {
		s.deps.Signaling.RegisterRoutes(r)
	}
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	if s.deps.TURNREST != nil && turnrest.HasTURN(servers) {
		creds, err := s.deps.TURNREST.GenerateRandom()
		if err != nil {
			s.log.Error("failed to generate TURN REST credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to generate TURN credentials"})
			return
		}
		servers = turnrest.WithCredentials(servers, creds)
		w.Header().Set("Cache-Control", "no-store")
	}
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

func recoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestIDHeaderMiddleware echoes the request id chosen by
// middleware.RequestID back to the client.
func requestIDHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set(middleware.RequestIDHeader, reqID)
		}
		next.ServeHTTP(w, r)
	})
}

func requestLoggerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// Hijacked or never written.
				status = http.StatusOK
			}
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
