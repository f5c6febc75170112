package engine

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

// handleRelay forwards sdp.transfer, ice.candidate and chat.message within a
// session. The sender must be a member. With a "to" field the message goes to
// that member only; otherwise every member receives it, sender included.
func (e *Engine) handleRelay(c *model.Connection, msg *protocol.Message, received events.Name) {
	sender, ok := e.actor(c, msg)
	if !ok {
		return
	}
	s, ok := e.lookupSession(c, msg)
	if !ok {
		return
	}
	if !s.HasMember(sender.ID()) {
		e.permissionDenied(c, sender, msg.Type)
		return
	}

	var target *model.User
	if msg.To != "" {
		u, ok := e.users.Get(msg.To)
		if !ok || !s.HasMember(u.ID()) {
			e.sendError(c, protocol.CodeUserNotFound, protocol.Details{
				protocol.KeyUserName:  protocol.NameOf(msg.To),
				protocol.KeySessionID: s.ID(),
			})
			return
		}
		target = u
	}

	fwd := msg.Clone()
	pub := sender.Public()
	fwd.User = &pub

	e.hooks.Dispatch(received, &events.Context{Connection: c, User: sender, Session: s, Message: fwd})
	if target != nil {
		e.sendToUser(target, fwd)
		return
	}
	e.broadcast(s.Members(), fwd)
}
