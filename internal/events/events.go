// Package events is the hook mechanism of the signaling engine.
//
// Handlers run synchronously inside the engine's turn, in registration order.
// Notification events ignore what handlers return; gate events fold the
// returned outcomes left to right and the last rejection wins.
package events

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

type Name string

const (
	ServerStarted Name = "server.started"
	ServerStopped Name = "server.stopped"

	ConnectionOpened Name = "connection.opened"
	ConnectionClosed Name = "connection.closed"
	ConnectionLost   Name = "connection.lost"

	UserChecked        Name = "user.checked"
	UserCheckedSuccess Name = "user.checked.success"
	UserCheckedFailure Name = "user.checked.failure"
	UserConnected      Name = "user.connected"
	UserDisconnected   Name = "user.disconnected"
	UserCommunication  Name = "user.communication"

	SessionChecked         Name = "session.checked"
	SessionCreated         Name = "session.created"
	SessionRequestedBefore Name = "session.requested.before"
	SessionRequested       Name = "session.requested"
	SessionJoined          Name = "session.joined"
	SessionRejected        Name = "session.rejected"
	SessionStopped         Name = "session.stopped"
	SessionLeft            Name = "session.left"
	SessionDisconnected    Name = "session.disconnected"
	SessionClosed          Name = "session.closed"

	MessageReceived Name = "message.received"
	MessageSent     Name = "message.sent"
	SDPReceived     Name = "sdp.received"
	ICEReceived     Name = "ice.received"
	ChatReceived    Name = "chat.received"
)

// All lists every event the engine fires.
var All = []Name{
	ServerStarted, ServerStopped,
	ConnectionOpened, ConnectionClosed, ConnectionLost,
	UserChecked, UserCheckedSuccess, UserCheckedFailure, UserConnected, UserDisconnected, UserCommunication,
	SessionChecked, SessionCreated, SessionRequestedBefore, SessionRequested, SessionJoined,
	SessionRejected, SessionStopped, SessionLeft, SessionDisconnected, SessionClosed,
	MessageReceived, MessageSent, SDPReceived, ICEReceived, ChatReceived,
}

// Directory resolves entities by id. Lookups made from a handler see the
// state of the turn the handler runs in.
type Directory interface {
	User(id string) (*model.User, bool)
	Session(id string) (*model.Session, bool)
	Connection(id string) (*model.Connection, bool)
}

// Context is what a handler receives. Fields that do not apply to an event
// are nil.
//
// A user.checked handler may replace User. The engine registers the
// replacement's profile under the identity and connection it assigned, so
// later handlers and the success ack see the replaced profile.
type Context struct {
	Event      Name
	Server     Directory
	Connection *model.Connection
	User       *model.User
	Session    *model.Session
	Message    *protocol.Message
}

// Outcome is the verdict of a gate handler. The zero value passes.
type Outcome struct {
	rejected bool
	message  *protocol.Message
}

// Pass lets the gated action proceed.
var Pass = Outcome{}

// Reject vetoes the gated action. msg, if non-nil, is relayed to the party
// that asked for it.
func Reject(msg *protocol.Message) Outcome {
	return Outcome{rejected: true, message: msg}
}

func (o Outcome) Rejected() bool              { return o.rejected }
func (o Outcome) Message() *protocol.Message { return o.message }

type Handler func(*Context) Outcome

// Notify adapts a handler that never vetoes.
func Notify(fn func(*Context)) Handler {
	return func(c *Context) Outcome {
		fn(c)
		return Pass
	}
}
