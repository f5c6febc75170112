package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

const (
	DefaultPingInterval         = 10 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 256
)

// Path is the route the WebSocket endpoint is mounted on.
const Path = "/webrtc/signal"

// Config wires the binding to an engine.
type Config struct {
	Engine  *engine.Engine
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins is the browser origin allow-list. Empty means same host
	// only.
	AllowedOrigins []string

	// PingInterval is how often each socket is probed. A socket that has not
	// answered the previous probe by the next tick is reported lost.
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int
}

// Server serves GET /webrtc/signal.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	links  map[*wsLink]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		cfg:   cfg,
		log:   logger.With("component", "signaling"),
		links: make(map[*wsLink]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := origin.Check(r, s.cfg.AllowedOrigins)
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get(Path, s.handleSignal)
}

// ServeHTTP serves the WebSocket endpoint on any path, for tests and
// embedders that do their own routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleSignal(w, r)
}

// Close initiates a going-away close on every open socket and waits for their
// goroutines to finish. Later upgrade attempts are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	links := make([]*wsLink, 0, len(s.links))
	for l := range s.links {
		links = append(links, l)
	}
	s.mu.Unlock()

	for _, l := range links {
		l.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	s.wg.Wait()
}

// Len returns the number of open sockets.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *Server) track(l *wsLink) {
	s.mu.Lock()
	closed := s.closed
	s.links[l] = struct{}{}
	s.mu.Unlock()

	if closed {
		l.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) untrack(l *wsLink) {
	s.mu.Lock()
	delete(s.links, l)
	s.mu.Unlock()
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.PingInterval <= 0 {
		return DefaultPingInterval
	}
	return s.cfg.PingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxMessageBytes <= 0 {
		return DefaultMaxMessageBytes
	}
	return s.cfg.MaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.cfg.MaxMessagesPerSecond <= 0 {
		return DefaultMaxMessagesPerSecond
	}
	return s.cfg.MaxMessagesPerSecond
}

func (s *Server) sendQueueSize() int {
	if s.cfg.SendQueueSize <= 0 {
		return DefaultSendQueueSize
	}
	return s.cfg.SendQueueSize
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Engine == nil {
		http.Error(w, "signaling engine not configured", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	l := newLink(conn, s.sendQueueSize(), s.log, s.cfg.Metrics)
	s.track(l)
	defer s.untrack(l)

	meta := model.RequestMeta{
		RemoteAddr: r.RemoteAddr,
		Origin:     origin.FromRequest(r),
		UserAgent:  r.UserAgent(),
		RequestID:  middleware.GetReqID(r.Context()),
	}
	l.id = s.cfg.Engine.ConnectionOpened(l, meta)
	l.log = s.log.With("connection_id", l.id)

	go l.writeLoop(s.cfg.Engine, s.pingInterval())
	s.readLoop(r, l)
}

func (s *Server) readLoop(r *http.Request, l *wsLink) {
	conn := l.conn
	defer func() {
		close(l.readerDone)
		s.cfg.Engine.ConnectionClosed(l.id)
		l.closeWith(websocket.CloseNormalClosure, "")
		<-l.writerDone
		_ = conn.Close()
	}()

	conn.SetReadLimit(s.maxMessageBytes())
	conn.SetPongHandler(func(string) error {
		l.alive.Store(true)
		return nil
	})

	limit := s.maxMessagesPerSecond()
	limiter := rate.NewLimiter(rate.Limit(limit), limit)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				l.log.Debug("websocket read failed", "err", err)
			}
			return
		}
		l.alive.Store(true)

		// The limit is applied after the read so the frame's bytes are consumed
		// and the peer reliably sees the close code instead of a reset.
		if !limiter.Allow() {
			s.cfg.Metrics.FrameDropped(metrics.DropReasonRateLimited)
			l.log.Warn("closing websocket: rate limit exceeded")
			l.fail("rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.cfg.Metrics.FrameMalformed()
			l.fail("expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if l.closing() {
			continue
		}

		err = s.cfg.Engine.ReceiveMessage(r.Context(), l.id, data)
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrConnectionNotFound):
			return
		case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrUnsupportedType):
			s.cfg.Metrics.FrameMalformed()
			l.log.Debug("rejecting malformed frame", "err", err)
			l.reject(err.Error())
		default:
			l.log.Error("failed to handle frame", "err", err)
			l.reject("internal error")
		}
	}
}
