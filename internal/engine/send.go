package engine

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

// SendToAll delivers msg to every registered user.
func (e *Engine) SendToAll(msg *protocol.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range e.users.Snapshot() {
		e.sendToUser(u, msg)
	}
}

// SendToSessions delivers msg once to every member of the given sessions.
func (e *Engine) SendToSessions(msg *protocol.Message, sessionIDs ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, sid := range sessionIDs {
		s, ok := e.sessions.Get(sid)
		if !ok {
			continue
		}
		for _, id := range s.Members() {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	e.broadcast(ids, msg)
}

// SendToUsers delivers msg to each listed user that is registered.
func (e *Engine) SendToUsers(msg *protocol.Message, userIDs ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcast(userIDs, msg)
}

func (e *Engine) broadcast(userIDs []string, msg *protocol.Message) {
	for _, id := range userIDs {
		if u, ok := e.users.Get(id); ok {
			e.sendToUser(u, msg)
		}
	}
}

func (e *Engine) sendToUser(u *model.User, msg *protocol.Message) {
	c, ok := e.connections.Get(u.ConnectionID())
	if !ok || !u.Bound() || c.UserID() != u.ID() {
		e.log.Debug("dropping message for unreachable user", "user_id", u.ID(), "type", string(msg.Type))
		return
	}
	if !e.write(c, msg) {
		return
	}
	e.hooks.Dispatch(events.MessageSent, &events.Context{Connection: c, User: u, Message: msg})
}

func (e *Engine) sendToConnection(c *model.Connection, msg *protocol.Message) {
	if !e.write(c, msg) {
		return
	}
	e.hooks.Dispatch(events.MessageSent, &events.Context{Connection: c, Message: msg})
}

func (e *Engine) write(c *model.Connection, msg *protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		e.log.Error("failed to encode message", "type", string(msg.Type), "err", err)
		return false
	}
	c.Send(frame)
	return true
}

// sendError answers the connection that caused a protocol error. Errors are
// never broadcast.
func (e *Engine) sendError(c *model.Connection, code protocol.Code, details protocol.Details) {
	msg := protocol.NewError(code, details)
	e.log.Debug("protocol error", "connection_id", c.ID(), "code", string(code), "message", msg.Text)
	e.sendToConnection(c, msg)
}

// relayRejection forwards the message a gate rejected with, if it left one.
func (e *Engine) relayRejection(c *model.Connection, gate events.Name, out events.Outcome) {
	e.log.Info("gate rejected", "event", string(gate), "connection_id", c.ID())
	if msg := out.Message(); msg != nil {
		e.sendToConnection(c, msg)
	}
}
