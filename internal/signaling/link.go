package signaling

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

const (
	wsWriteWait  = 1 * time.Second
	wsCloseGrace = 1 * time.Second
)

// wsLink is the engine's handle on one socket. Send, Close and Terminate never
// block; the writer goroutine does the actual I/O.
type wsLink struct {
	id      string
	conn    *websocket.Conn
	log     *slog.Logger
	metrics *metrics.Metrics

	queue      chan []byte
	done       chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
	terminated  atomic.Bool
	alive       atomic.Bool
}

func newLink(conn *websocket.Conn, queueSize int, logger *slog.Logger, m *metrics.Metrics) *wsLink {
	l := &wsLink{
		conn:       conn,
		log:        logger,
		metrics:    m,
		queue:      make(chan []byte, queueSize),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	l.alive.Store(true)
	return l
}

func (l *wsLink) Send(frame []byte) {
	if l.closing() {
		l.metrics.FrameDropped(metrics.DropReasonClosed)
		return
	}
	select {
	case l.queue <- frame:
	default:
		l.metrics.FrameDropped(metrics.DropReasonQueueFull)
	}
}

// Close starts a normal close handshake after the queued frames are flushed.
func (l *wsLink) Close() {
	l.closeWith(websocket.CloseNormalClosure, "")
}

// Terminate drops the socket without a close handshake.
func (l *wsLink) Terminate() {
	l.terminated.Store(true)
	l.closeOnce.Do(func() { close(l.done) })
	_ = l.conn.Close()
}

func (l *wsLink) closeWith(code int, reason string) {
	l.closeOnce.Do(func() {
		l.closeCode = code
		l.closeReason = reason
		close(l.done)
	})
}

func (l *wsLink) closing() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// reject answers a frame the engine never saw with a BAD_MESSAGE error.
func (l *wsLink) reject(reason string) {
	frame, err := protocol.Encode(protocol.NewError(protocol.CodeBadMessage, protocol.Details{protocol.KeyReason: reason}))
	if err != nil {
		l.log.Error("failed to encode error message", "err", err)
		return
	}
	l.Send(frame)
}

func (l *wsLink) fail(reason string, code int, closeReason string) {
	l.reject(reason)
	l.closeWith(code, closeReason)
}

func (l *wsLink) writeLoop(e *engine.Engine, pingInterval time.Duration) {
	defer close(l.writerDone)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-l.queue:
			if err := l.write(frame); err != nil {
				l.log.Debug("websocket write failed", "err", err)
				l.Terminate()
				return
			}
		case <-ticker.C:
			if !l.alive.Swap(false) {
				l.log.Info("websocket did not answer ping")
				e.ConnectionLost(l.id)
				return
			}
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				l.log.Debug("websocket ping failed", "err", err)
				l.Terminate()
				return
			}
		case <-l.done:
			if l.terminated.Load() {
				return
			}
			l.flush()
			writeClose(l.conn, l.closeCode, l.closeReason)

			grace := time.NewTimer(wsCloseGrace)
			select {
			case <-l.readerDone:
			case <-grace.C:
			}
			grace.Stop()
			_ = l.conn.Close()
			return
		}
	}
}

// flush writes whatever is still queued, stopping at the first failure.
func (l *wsLink) flush() {
	for {
		select {
		case frame := <-l.queue:
			if err := l.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (l *wsLink) write(frame []byte) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

// writeClose sends a close frame. It fails harmlessly with
// websocket.ErrCloseSent when the peer started the handshake.
func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
