// Package engine implements the signaling state machine.
//
// An Engine owns the connection, user and session registries and is driven by
// a transport binding through ConnectionOpened, ReceiveMessage,
// ConnectionClosed and ConnectionLost. Every entry point runs to completion
// under a single lock, hooks included, so the state seen by one inbound event
// is never interleaved with another.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/repository"
)

const tracerName = "github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/engine"

// ErrConnectionNotFound is returned by ReceiveMessage for frames whose link
// has already been removed.
var ErrConnectionNotFound = errors.New("engine: connection not found")

// Stats is a point-in-time count of the registries.
type Stats struct {
	Connections int
	Users       int
	Sessions    int
}

type Engine struct {
	confirm    ConfirmType
	log        *slog.Logger
	tracer     trace.Tracer
	iceServers ICEServerFunc

	mu          sync.Mutex
	connections *repository.Repository[*model.Connection]
	users       *repository.Repository[*model.User]
	sessions    *repository.Repository[*model.Session]
	hooks       *events.Dispatcher
}

func New(opts ...Option) *Engine {
	o := options{confirm: ConfirmAuto}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.confirm == "" {
		o.confirm = ConfirmAuto
	}

	e := &Engine{
		confirm:     o.confirm,
		log:         o.logger.With("component", "engine"),
		tracer:      o.tracer,
		iceServers:  o.iceServers,
		connections: repository.New[*model.Connection](o.ids),
		users:       repository.New[*model.User](o.ids),
		sessions:    repository.New[*model.Session](o.ids),
	}
	e.hooks = events.NewDispatcher(directory{e})
	return e
}

func (e *Engine) ConfirmType() ConfirmType { return e.confirm }

// On registers h for the named event. Handlers run inside the engine's turn
// and must not call back into the Engine's exported methods.
func (e *Engine) On(name events.Name, h events.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks.On(name, h)
}

func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Info("signaling engine started", "confirm_type", string(e.confirm))
	e.hooks.Dispatch(events.ServerStarted, &events.Context{})
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks.Dispatch(events.ServerStopped, &events.Context{})
	e.log.Info("signaling engine stopped")
}

// ConnectionOpened registers a new link and greets it with user.init. It must
// be called once per link, before any frame from it is passed on.
func (e *Engine) ConnectionOpened(link model.Link, meta model.RequestMeta) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.connections.Add(model.NewConnection(link, meta))
	placeholder := model.NewUser(protocol.User{ID: e.users.NewID()})
	c.Bind(placeholder)

	e.log.Debug("connection opened", "connection_id", c.ID(), "remote_addr", meta.RemoteAddr, "request_id", meta.RequestID)
	e.hooks.Dispatch(events.ConnectionOpened, &events.Context{Connection: c, User: placeholder})

	init := protocol.NewUserMessage(protocol.TypeUserInit, placeholder.Data())
	if e.iceServers != nil {
		if servers := e.iceServers(c.ID()); len(servers) > 0 {
			if _, err := init.WithData(protocol.InitData{ICEServers: servers}); err != nil {
				e.log.Error("failed to attach ice servers", "connection_id", c.ID(), "err", err)
			}
		}
	}
	e.sendToConnection(c, init)
	return c.ID()
}

// ReceiveMessage handles one inbound frame. Frames that fail to decode are
// reported as errors wrapping protocol.ErrMalformed or
// protocol.ErrUnsupportedType and leave every registry untouched. Protocol
// level failures are answered on the wire and are not returned.
func (e *Engine) ReceiveMessage(ctx context.Context, connectionID string, raw []byte) error {
	_, span := e.tracer.Start(ctx, "signaling.receive", trace.WithAttributes(
		attribute.String("signaling.connection_id", connectionID),
		attribute.String("signaling.message_type", string(protocol.PeekType(raw))),
	))
	defer span.End()

	msg, err := protocol.Decode(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.connections.Get(connectionID)
	if !ok {
		span.SetStatus(codes.Error, "unknown connection")
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}

	e.hooks.Dispatch(events.MessageReceived, &events.Context{Connection: c, Message: msg})
	e.route(c, msg)
	return nil
}

// ConnectionClosed cleans up after a link that went away. Unknown ids are
// ignored, so it is safe to call after ConnectionLost.
func (e *Engine) ConnectionClosed(connectionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.connections.Get(connectionID)
	if !ok {
		return
	}
	if u, ok := e.boundUser(c); ok {
		e.disconnect(u)
	}
	e.connections.Remove(c.ID())

	e.log.Debug("connection closed", "connection_id", c.ID())
	e.hooks.Dispatch(events.ConnectionClosed, &events.Context{Connection: c})
}

// ConnectionLost is called when a link stops answering liveness probes. The
// cleanup matches ConnectionClosed; the link is then terminated without a
// close handshake.
func (e *Engine) ConnectionLost(connectionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.connections.Get(connectionID)
	if !ok {
		return
	}
	if u, ok := e.boundUser(c); ok {
		e.disconnect(u)
	}
	e.connections.Remove(c.ID())

	e.log.Info("connection lost", "connection_id", c.ID(), "remote_addr", c.Request.RemoteAddr)
	e.hooks.Dispatch(events.ConnectionLost, &events.Context{Connection: c})
	if link := c.Link(); link != nil {
		link.Terminate()
	}
}

func (e *Engine) route(c *model.Connection, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeUserConnect:
		e.handleUserConnect(c, msg)
	case protocol.TypeUserDisconnect:
		e.handleUserDisconnect(c, msg)
	case protocol.TypeUserCommunication:
		e.handleUserCommunication(c, msg)
	case protocol.TypeSessionNew:
		e.handleSessionNew(c, msg)
	case protocol.TypeSessionRequest:
		e.handleSessionRequest(c, msg)
	case protocol.TypeSessionConfirm:
		e.handleSessionConfirm(c, msg)
	case protocol.TypeSessionReject:
		e.handleSessionReject(c, msg)
	case protocol.TypeSessionStop:
		e.handleSessionStop(c, msg)
	case protocol.TypeSessionLeave:
		e.handleSessionLeave(c, msg)
	case protocol.TypeSessionClose:
		e.handleSessionClose(c, msg)
	case protocol.TypeSDPTransfer:
		e.handleRelay(c, msg, events.SDPReceived)
	case protocol.TypeICECandidate:
		e.handleRelay(c, msg, events.ICEReceived)
	case protocol.TypeChatMessage:
		e.handleRelay(c, msg, events.ChatReceived)
	default:
		// Decode only lets inbound types through.
		e.log.Warn("unrouted message type", "type", string(msg.Type))
	}
}

// User returns the registered user with the given id.
func (e *Engine) User(id string) (*model.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.users.Get(id)
}

func (e *Engine) Session(id string) (*model.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Get(id)
}

func (e *Engine) Connection(id string) (*model.Connection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connections.Get(id)
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Connections: e.connections.Len(),
		Users:       e.users.Len(),
		Sessions:    e.sessions.Len(),
	}
}

// directory is the lock-free view handed to hooks, which already run under
// the engine lock.
type directory struct{ e *Engine }

func (d directory) User(id string) (*model.User, bool)       { return d.e.users.Get(id) }
func (d directory) Session(id string) (*model.Session, bool) { return d.e.sessions.Get(id) }
func (d directory) Connection(id string) (*model.Connection, bool) {
	return d.e.connections.Get(id)
}
