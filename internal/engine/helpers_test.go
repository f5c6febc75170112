package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

type recordingLink struct {
	frames     [][]byte
	closed     bool
	terminated bool
}

func (l *recordingLink) Send(frame []byte) {
	l.frames = append(l.frames, append([]byte(nil), frame...))
}

func (l *recordingLink) Close()     { l.closed = true }
func (l *recordingLink) Terminate() { l.terminated = true }

type peer struct {
	t      *testing.T
	e      *Engine
	link   *recordingLink
	connID string
	userID string
	read   int
}

func open(t *testing.T, e *Engine) *peer {
	t.Helper()
	p := &peer{t: t, e: e, link: &recordingLink{}}
	p.connID = e.ConnectionOpened(p.link, model.RequestMeta{RemoteAddr: "192.0.2.1:5000"})

	init := p.next()
	require.Equal(t, protocol.TypeUserInit, init.Type)
	require.NotNil(t, init.User)
	p.userID = init.User.ID
	return p
}

// connect opens a link and identifies it as name.
func connect(t *testing.T, e *Engine, name string) *peer {
	t.Helper()
	p := open(t, e)
	p.send(`{"type":"user.connect","user":{"name":%q}}`, name)
	ack := p.next()
	require.Equal(t, protocol.TypeSuccess, ack.Type, "connect %s: %s", name, ack.Text)
	return p
}

func (p *peer) send(format string, args ...any) {
	p.t.Helper()
	require.NoError(p.t, p.e.ReceiveMessage(context.Background(), p.connID, []byte(fmt.Sprintf(format, args...))))
}

// drain returns every message received since the last call.
func (p *peer) drain() []protocol.Message {
	p.t.Helper()
	var out []protocol.Message
	for ; p.read < len(p.link.frames); p.read++ {
		var msg protocol.Message
		require.NoError(p.t, json.Unmarshal(p.link.frames[p.read], &msg))
		out = append(out, msg)
	}
	return out
}

func (p *peer) next() protocol.Message {
	p.t.Helper()
	require.Greater(p.t, len(p.link.frames), p.read, "no pending message")
	var msg protocol.Message
	require.NoError(p.t, json.Unmarshal(p.link.frames[p.read], &msg))
	p.read++
	return msg
}

func (p *peer) user() *model.User {
	p.t.Helper()
	u, ok := p.e.User(p.userID)
	require.True(p.t, ok, "user %s not registered", p.userID)
	return u
}

// newSession has p create a session and returns its id.
func (p *peer) newSession() string {
	p.t.Helper()
	p.send(`{"type":"session.new"}`)
	msg := p.next()
	require.Equal(p.t, protocol.TypeSessionNew, msg.Type)
	require.NotEmpty(p.t, msg.SessionID)
	return msg.SessionID
}

func types(msgs []protocol.Message) []protocol.Type {
	out := make([]protocol.Type, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func only(t *testing.T, msgs []protocol.Message) protocol.Message {
	t.Helper()
	require.Len(t, msgs, 1, "messages: %v", types(msgs))
	return msgs[0]
}

// recorder tracks which events fired, in order.
type recorder struct {
	names []events.Name
	ctxs  []events.Context
}

func record(e *Engine, names ...events.Name) *recorder {
	r := &recorder{}
	for _, name := range names {
		e.On(name, events.Notify(func(c *events.Context) {
			r.names = append(r.names, c.Event)
			r.ctxs = append(r.ctxs, *c)
		}))
	}
	return r
}

func (r *recorder) count(name events.Name) int {
	n := 0
	for _, got := range r.names {
		if got == name {
			n++
		}
	}
	return n
}

func sessionData(t *testing.T, msg protocol.Message) protocol.SessionView {
	t.Helper()
	require.Equal(t, protocol.TypeSessionData, msg.Type)
	var data protocol.SessionData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return data.Session
}

func memberIDs(view protocol.SessionView) []string {
	out := make([]string, 0, len(view.Members))
	for _, u := range view.Members {
		out = append(out, u.ID)
	}
	return out
}
