package engine

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

const connectedTemplate = "User {uname} has been connected"

// boundUser returns the registered user bound to c.
func (e *Engine) boundUser(c *model.Connection) (*model.User, bool) {
	u, ok := e.users.Get(c.UserID())
	if !ok || !u.Bound() || u.ConnectionID() != c.ID() {
		return nil, false
	}
	return u, true
}

// actor resolves the user a message acts for: the embedded user id if there is
// one, else the user bound to c. Either way the user must be registered and
// bound to c. On failure USER_NOT_FOUND has already been sent.
func (e *Engine) actor(c *model.Connection, msg *protocol.Message) (*model.User, bool) {
	id := msg.UserID()
	if id == "" {
		id = c.UserID()
	}
	if u, ok := e.users.Get(id); ok && u.Bound() && u.ConnectionID() == c.ID() {
		return u, true
	}

	name := protocol.NameOf(id)
	if msg.User != nil {
		name = msg.User.DisplayName()
	}
	e.sendError(c, protocol.CodeUserNotFound, protocol.Details{protocol.KeyUserName: name})
	return nil, false
}

// originUser is actor for messages whose embedded user is someone else.
func (e *Engine) originUser(c *model.Connection) (*model.User, bool) {
	if u, ok := e.boundUser(c); ok {
		return u, true
	}
	e.sendError(c, protocol.CodeUserNotFound, protocol.Details{
		protocol.KeyUserName: protocol.NameOf(c.UserID()),
	})
	return nil, false
}

func (e *Engine) handleUserConnect(c *model.Connection, msg *protocol.Message) {
	if declared := msg.User.ConnectionID; declared != "" && declared != c.ID() {
		e.sendError(c, protocol.CodeConnNotFound, protocol.Details{protocol.KeyConnection: declared})
		return
	}

	profile := *msg.User
	profile.ID = c.UserID()
	if profile.ID == "" {
		profile.ID = e.users.NewID()
	}
	profile.ConnectionID = c.ID()
	candidate := model.NewUser(profile)

	ctx := &events.Context{Connection: c, User: candidate, Message: msg}
	out := e.hooks.Dispatch(events.UserChecked, ctx)
	if ctx.User != nil && ctx.User != candidate {
		replaced := model.NewUser(protocol.User{ID: candidate.ID(), ConnectionID: c.ID()})
		replaced.UpdateProfile(ctx.User.Data())
		candidate = replaced
	}
	if out.Rejected() {
		e.hooks.Dispatch(events.UserCheckedFailure, &events.Context{Connection: c, User: candidate, Message: out.Message()})
		e.userCheckFailed(c, candidate, out)
		return
	}
	e.hooks.Dispatch(events.UserCheckedSuccess, &events.Context{Connection: c, User: candidate, Message: msg})
	e.userChecked(c, candidate)
}

func (e *Engine) userChecked(c *model.Connection, candidate *model.User) {
	u, ok := e.boundUser(c)
	if ok && u.ID() == candidate.ID() {
		u.UpdateProfile(candidate.Data())
		u.Save()
		e.log.Debug("user profile updated", "user_id", u.ID(), "connection_id", c.ID())
	} else {
		u = e.users.Add(candidate)
		c.Bind(u)
		e.log.Debug("user connected", "user_id", u.ID(), "connection_id", c.ID())
	}
	e.hooks.Dispatch(events.UserConnected, &events.Context{Connection: c, User: u})

	pub := u.Public()
	ack := protocol.NewSuccess(connectedTemplate, protocol.Details{
		protocol.KeyUserName: u.DisplayName(),
		protocol.KeyUser:     pub,
	})
	ack.User = &pub
	e.sendToUser(u, ack)
}

func (e *Engine) userCheckFailed(c *model.Connection, candidate *model.User, out events.Outcome) {
	e.relayRejection(c, events.UserChecked, out)
	if u, ok := e.boundUser(c); ok && u.ID() == candidate.ID() {
		e.disconnect(u)
	} else {
		e.log.Debug("user rejected", "user_id", candidate.ID(), "connection_id", c.ID())
		e.hooks.Dispatch(events.UserDisconnected, &events.Context{Connection: c, User: candidate})
	}
	if link := c.Link(); link != nil {
		link.Close()
	}
}

func (e *Engine) handleUserDisconnect(c *model.Connection, msg *protocol.Message) {
	u, ok := e.actor(c, msg)
	if !ok {
		return
	}
	e.disconnect(u)
	if link := c.Link(); link != nil {
		link.Close()
	}
}

// disconnect walks u out of every session, drops its pending requests and
// removes it from the registry. The connection stays registered until the
// binding reports it closed.
func (e *Engine) disconnect(u *model.User) {
	for _, sid := range u.Sessions() {
		if s, ok := e.sessions.Get(sid); ok {
			e.leave(s, u, true, true)
		}
	}
	for _, s := range e.sessions.Snapshot() {
		if s.RemoveRequest(u.ID()) {
			s.Save()
		}
	}
	e.users.Remove(u.ID())

	c, ok := e.connections.Get(u.ConnectionID())
	if ok {
		c.Unbind(u)
	}
	e.log.Debug("user disconnected", "user_id", u.ID())
	e.hooks.Dispatch(events.UserDisconnected, &events.Context{Connection: c, User: u})
}

func (e *Engine) handleUserCommunication(c *model.Connection, msg *protocol.Message) {
	sender, ok := e.actor(c, msg)
	if !ok {
		return
	}
	target, ok := e.users.Get(msg.To)
	if !ok {
		e.sendError(c, protocol.CodeUserNotFound, protocol.Details{
			protocol.KeyUserName: protocol.NameOf(msg.To),
		})
		return
	}

	fwd := msg.Clone()
	pub := sender.Public()
	fwd.User = &pub

	e.hooks.Dispatch(events.UserCommunication, &events.Context{Connection: c, User: sender, Message: fwd})
	e.sendToUser(target, fwd)
	if target != sender {
		e.sendToUser(sender, fwd)
	}
}
