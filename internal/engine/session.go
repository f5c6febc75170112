package engine

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

func (e *Engine) lookupSession(c *model.Connection, msg *protocol.Message) (*model.Session, bool) {
	s, ok := e.sessions.Get(msg.SessionID)
	if !ok {
		e.sendError(c, protocol.CodeSessNotFound, protocol.Details{protocol.KeySessionID: msg.SessionID})
	}
	return s, ok
}

func (e *Engine) permissionDenied(c *model.Connection, u *model.User, action protocol.Type) {
	e.sendError(c, protocol.CodePermReq, protocol.Details{
		protocol.KeyUserName: u.DisplayName(),
		protocol.KeyAction:   string(action),
	})
}

func (e *Engine) handleSessionNew(c *model.Connection, msg *protocol.Message) {
	u, ok := e.actor(c, msg)
	if !ok {
		return
	}

	s := model.NewSession(u)
	out := e.hooks.Dispatch(events.SessionChecked, &events.Context{Connection: c, User: u, Session: s, Message: msg})
	if out.Rejected() {
		e.relayRejection(c, events.SessionChecked, out)
		return
	}

	e.sessions.Add(s)
	s.Join(u)
	s.Save()
	u.Save()
	e.log.Debug("session created", "session_id", s.ID(), "user_id", u.ID())

	pub := u.Public()
	e.sendToUser(u, protocol.NewSessionMessage(protocol.TypeSessionNew, s.ID(), &pub))
	e.hooks.Dispatch(events.SessionCreated, &events.Context{Connection: c, User: u, Session: s, Message: msg})
}

func (e *Engine) handleSessionRequest(c *model.Connection, msg *protocol.Message) {
	u, ok := e.actor(c, msg)
	if !ok {
		return
	}
	s, ok := e.lookupSession(c, msg)
	if !ok {
		return
	}

	ctx := &events.Context{Connection: c, User: u, Session: s, Message: msg}
	if out := e.hooks.Dispatch(events.SessionRequestedBefore, ctx); out.Rejected() {
		e.relayRejection(c, events.SessionRequestedBefore, out)
		return
	}
	if s.HasMember(u.ID()) {
		e.sendError(c, protocol.CodeDoubleSessMemb, protocol.Details{
			protocol.KeyUserName:  u.DisplayName(),
			protocol.KeySessionID: s.ID(),
		})
		return
	}

	s.NewRequest(u)
	s.Save()
	e.log.Debug("session requested", "session_id", s.ID(), "user_id", u.ID(), "confirm_type", string(e.confirm))

	fwd := msg.Clone()
	pub := u.Public()
	fwd.User = &pub
	fwd.SessionID = s.ID()

	requested := &events.Context{Connection: c, User: u, Session: s, Message: fwd}
	switch e.confirm {
	case ConfirmCreator:
		if creator, ok := e.users.Get(s.CreatorID()); ok {
			e.sendToUser(creator, fwd)
		}
		e.hooks.Dispatch(events.SessionRequested, requested)
	case ConfirmMembers:
		e.broadcast(s.Members(), fwd)
		e.hooks.Dispatch(events.SessionRequested, requested)
	default:
		e.hooks.Dispatch(events.SessionRequested, requested)
		e.confirmRequest(s, u)
	}
}

// mayDecide reports whether u may confirm or reject requests to s.
func (e *Engine) mayDecide(s *model.Session, u *model.User) bool {
	if e.confirm == ConfirmCreator {
		return s.IsCreator(u.ID())
	}
	return s.HasMember(u.ID())
}

// decision resolves the parts shared by session.confirm and session.reject:
// the deciding user, the session and the requester named by the message.
func (e *Engine) decision(c *model.Connection, msg *protocol.Message) (*model.Session, *model.User, bool) {
	actor, ok := e.originUser(c)
	if !ok {
		return nil, nil, false
	}
	s, ok := e.lookupSession(c, msg)
	if !ok {
		return nil, nil, false
	}
	if !e.mayDecide(s, actor) {
		e.permissionDenied(c, actor, msg.Type)
		return nil, nil, false
	}
	target, ok := e.users.Get(msg.UserID())
	if !ok {
		e.sendError(c, protocol.CodeUserNotFound, protocol.Details{protocol.KeyUserName: msg.User.DisplayName()})
		return nil, nil, false
	}
	if !s.HasRequest(target.ID()) {
		e.sendError(c, protocol.CodeReqNotFound, protocol.Details{
			protocol.KeyUserName:  target.DisplayName(),
			protocol.KeySessionID: s.ID(),
		})
		return nil, nil, false
	}
	return s, target, true
}

func (e *Engine) handleSessionConfirm(c *model.Connection, msg *protocol.Message) {
	s, target, ok := e.decision(c, msg)
	if !ok {
		return
	}
	e.confirmRequest(s, target)
}

// confirmRequest turns the pending request of u into membership. The confirm
// notice goes to the members as they were before u joined; u gets the full
// session snapshot instead.
func (e *Engine) confirmRequest(s *model.Session, u *model.User) {
	s.RemoveRequest(u.ID())
	members := s.Members()
	s.Join(u)

	pub := u.Public()
	e.broadcast(members, protocol.NewSessionMessage(protocol.TypeSessionConfirm, s.ID(), &pub))
	s.Save()
	u.Save()
	e.log.Debug("session joined", "session_id", s.ID(), "user_id", u.ID())
	e.hooks.Dispatch(events.SessionJoined, &events.Context{User: u, Session: s})

	data, err := protocol.NewSessionMessage(protocol.TypeSessionData, s.ID(), nil).
		WithData(protocol.SessionData{Session: s.View(e.users.Get)})
	if err != nil {
		e.log.Error("failed to encode session data", "session_id", s.ID(), "err", err)
		return
	}
	e.sendToUser(u, data)
}

func (e *Engine) handleSessionReject(c *model.Connection, msg *protocol.Message) {
	s, target, ok := e.decision(c, msg)
	if !ok {
		return
	}
	s.RemoveRequest(target.ID())
	s.Save()

	fwd := msg.Clone()
	pub := target.Public()
	fwd.User = &pub
	e.sendToUser(target, fwd)

	e.log.Debug("session request rejected", "session_id", s.ID(), "user_id", target.ID())
	e.hooks.Dispatch(events.SessionRejected, &events.Context{Connection: c, User: target, Session: s, Message: msg})
}

func (e *Engine) handleSessionStop(c *model.Connection, msg *protocol.Message) {
	u, ok := e.actor(c, msg)
	if !ok {
		return
	}
	s, ok := e.lookupSession(c, msg)
	if !ok {
		return
	}
	if !s.RemoveRequest(u.ID()) {
		e.sendError(c, protocol.CodeReqNotFound, protocol.Details{
			protocol.KeyUserName:  u.DisplayName(),
			protocol.KeySessionID: s.ID(),
		})
		return
	}
	s.Save()

	pub := u.Public()
	notice := protocol.NewSessionMessage(protocol.TypeSessionStop, s.ID(), &pub)
	e.broadcast(s.Members(), notice)
	e.sendToUser(u, notice)

	e.log.Debug("session request stopped", "session_id", s.ID(), "user_id", u.ID())
	e.hooks.Dispatch(events.SessionStopped, &events.Context{Connection: c, User: u, Session: s, Message: msg})
}

func (e *Engine) handleSessionLeave(c *model.Connection, msg *protocol.Message) {
	u, ok := e.actor(c, msg)
	if !ok {
		return
	}
	s, ok := e.lookupSession(c, msg)
	if !ok {
		return
	}
	e.leave(s, u, false, true)
}

// leave walks u out of s. The notice goes to the members as they were before
// u left, u included. Disconnect-flavoured leaves are announced as
// session.disconnect. A creator leaving closes the session unless cascade is
// off.
func (e *Engine) leave(s *model.Session, u *model.User, disconnected, cascade bool) {
	if !s.HasMember(u.ID()) {
		e.log.Debug("ignoring leave by non-member", "session_id", s.ID(), "user_id", u.ID())
		return
	}

	members := s.Members()
	kind, event := protocol.TypeSessionLeave, events.SessionLeft
	if disconnected {
		kind, event = protocol.TypeSessionDisconnect, events.SessionDisconnected
	}
	pub := u.Public()
	e.broadcast(members, protocol.NewSessionMessage(kind, s.ID(), &pub))

	s.Leave(u)
	s.Save()
	u.Save()
	e.log.Debug("session left", "session_id", s.ID(), "user_id", u.ID(), "disconnected", disconnected)
	e.hooks.Dispatch(event, &events.Context{User: u, Session: s})

	if cascade && s.IsCreator(u.ID()) {
		e.closeSession(s, u)
	}
}

func (e *Engine) handleSessionClose(c *model.Connection, msg *protocol.Message) {
	u, ok := e.actor(c, msg)
	if !ok {
		return
	}
	s, ok := e.lookupSession(c, msg)
	if !ok {
		return
	}
	if !s.IsCreator(u.ID()) {
		e.permissionDenied(c, u, msg.Type)
		return
	}
	e.closeSession(s, u)
}

// closeSession announces the close, walks every remaining member out and
// drops s from the registry.
func (e *Engine) closeSession(s *model.Session, by *model.User) {
	members := s.Members()
	pub := by.Public()
	e.broadcast(members, protocol.NewSessionMessage(protocol.TypeSessionClose, s.ID(), &pub))

	for _, id := range members {
		if m, ok := e.users.Get(id); ok {
			e.leave(s, m, false, false)
		}
	}
	e.sessions.Remove(s.ID())
	e.log.Debug("session closed", "session_id", s.ID(), "user_id", by.ID())
	e.hooks.Dispatch(events.SessionClosed, &events.Context{User: by, Session: s})
}
