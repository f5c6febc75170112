package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/model"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

func TestConnectRegistersPlaceholderIdentity(t *testing.T) {
	e := New()
	rec := record(e, events.UserConnected, events.UserCheckedSuccess, events.UserCheckedFailure)

	p := open(t, e)
	_, registered := e.User(p.userID)
	assert.False(t, registered, "placeholders are not registered before user.connect")

	p.send(`{"type":"user.connect","user":{"name":"A"}}`)

	ack := only(t, p.drain())
	assert.Equal(t, protocol.TypeSuccess, ack.Type)
	assert.Equal(t, "User A has been connected", ack.Text)
	require.NotNil(t, ack.User)
	assert.Equal(t, p.userID, ack.User.ID)
	assert.Equal(t, p.connID, ack.User.ConnectionID)

	u := p.user()
	assert.Equal(t, "A", u.Public().Name)
	assert.True(t, u.Bound())
	assert.Equal(t, []events.Name{events.UserCheckedSuccess, events.UserConnected}, rec.names)
}

func TestInitCarriesConnectionAndICEServers(t *testing.T) {
	var asked string
	e := New(WithICEServers(func(connID string) []webrtc.ICEServer {
		asked = connID
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	}))
	link := &recordingLink{}

	id := e.ConnectionOpened(link, model.RequestMeta{})

	require.Len(t, link.frames, 1)
	var init protocol.Message
	require.NoError(t, json.Unmarshal(link.frames[0], &init))
	assert.Equal(t, id, asked)
	assert.Equal(t, id, init.User.ConnectionID)

	var data protocol.InitData
	require.NoError(t, json.Unmarshal(init.Data, &data))
	require.Len(t, data.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, data.ICEServers[0].URLs)
}

func TestSecondConnectUpdatesProfile(t *testing.T) {
	e := New()
	p := connect(t, e, "A")
	before := p.user()

	p.send(`{"type":"user.connect","user":{"name":"B"}}`)

	ack := only(t, p.drain())
	assert.Equal(t, "User B has been connected", ack.Text)
	after := p.user()
	assert.Same(t, before, after)
	assert.Equal(t, "B", after.Public().Name)
	assert.Equal(t, 1, e.Stats().Users)
}

func TestConnectWithForeignConnectionID(t *testing.T) {
	e := New()
	p := open(t, e)

	p.send(`{"type":"user.connect","user":{"name":"A","connectionId":"elsewhere"}}`)

	msg := only(t, p.drain())
	assert.Equal(t, protocol.CodeConnNotFound, msg.Code)
	assert.Equal(t, "Connection elsewhere has not been found", msg.Text)
	assert.Equal(t, 0, e.Stats().Users)
}

func TestIdentityGateRejection(t *testing.T) {
	e := New()
	rec := record(e, events.UserCheckedFailure, events.UserConnected, events.UserDisconnected)
	denied := protocol.NewError(protocol.CodePermReq, protocol.Details{protocol.KeyUserName: "A", protocol.KeyAction: "user.connect"})
	e.On(events.UserChecked, func(c *events.Context) events.Outcome {
		if string(c.User.Data().Secret) != `"letmein"` {
			return events.Reject(denied)
		}
		return events.Pass
	})

	p := open(t, e)
	p.send(`{"type":"user.connect","user":{"name":"A","secret":"wrong"}}`)

	msg := only(t, p.drain())
	assert.Equal(t, protocol.CodePermReq, msg.Code)
	assert.True(t, p.link.closed)
	assert.Equal(t, 0, e.Stats().Users)
	assert.Equal(t, []events.Name{events.UserCheckedFailure, events.UserDisconnected}, rec.names)
	require.Len(t, rec.ctxs, 2)
	assert.Equal(t, p.userID, rec.ctxs[1].User.ID())
	assert.Equal(t, p.connID, rec.ctxs[1].Connection.ID())

	ok := open(t, e)
	ok.send(`{"type":"user.connect","user":{"name":"B","secret":"letmein"}}`)
	assert.Equal(t, protocol.TypeSuccess, only(t, ok.drain()).Type)
	assert.False(t, ok.link.closed)
}

func TestIdentityGateReplacesProfile(t *testing.T) {
	e := New()
	rec := record(e, events.UserCheckedSuccess, events.UserConnected)
	e.On(events.UserChecked, func(c *events.Context) events.Outcome {
		c.User = model.NewUser(protocol.User{ID: "spoofed", ConnectionID: "elsewhere", Name: "Verified " + c.User.Data().Name})
		return events.Pass
	})

	p := open(t, e)
	p.send(`{"type":"user.connect","user":{"name":"A","secret":"t"}}`)

	ack := only(t, p.drain())
	assert.Equal(t, "User Verified A has been connected", ack.Text)
	require.NotNil(t, ack.User)
	assert.Equal(t, p.userID, ack.User.ID)
	assert.Equal(t, p.connID, ack.User.ConnectionID)

	u := p.user()
	assert.Equal(t, "Verified A", u.Public().Name)
	assert.Nil(t, u.Data().Secret)
	_, spoofed := e.User("spoofed")
	assert.False(t, spoofed)
	require.Len(t, rec.ctxs, 2)
	assert.Equal(t, "Verified A", rec.ctxs[0].User.Public().Name)
}

func TestFailedReconnectDisconnectsExistingUser(t *testing.T) {
	e := New()
	creator := connect(t, e, "C")
	sid := creator.newSession()
	rec := record(e, events.UserDisconnected)
	e.On(events.UserChecked, func(*events.Context) events.Outcome { return events.Reject(nil) })

	creator.send(`{"type":"user.connect","user":{"name":"C2"}}`)

	assert.Equal(t, []protocol.Type{protocol.TypeSessionDisconnect}, types(creator.drain()))
	assert.True(t, creator.link.closed)
	_, ok := e.User(creator.userID)
	assert.False(t, ok)
	_, ok = e.Session(sid)
	assert.False(t, ok)
	assert.Equal(t, 1, rec.count(events.UserDisconnected))
}

func TestActorMustBeBoundToOrigin(t *testing.T) {
	e := New()
	alice := connect(t, e, "alice")
	mallory := connect(t, e, "mallory")

	mallory.send(`{"type":"session.new","user":{"id":%q,"name":"alice"}}`, alice.userID)

	msg := only(t, mallory.drain())
	assert.Equal(t, protocol.CodeUserNotFound, msg.Code)
	assert.Equal(t, "User alice has not been found", msg.Text)
	assert.Equal(t, 0, e.Stats().Sessions)
	assert.Empty(t, alice.drain())
}

func TestAnonymousActionsAreRejected(t *testing.T) {
	e := New()
	p := open(t, e)

	p.send(`{"type":"session.new"}`)

	msg := only(t, p.drain())
	assert.Equal(t, protocol.CodeUserNotFound, msg.Code)
	assert.Equal(t, p.userID, msg.Details[protocol.KeyUserName])
}

func TestMalformedFramesLeaveStateUntouched(t *testing.T) {
	e := New()
	rec := record(e, events.MessageReceived)
	p := connect(t, e, "A")
	before := e.Stats()

	for _, raw := range []string{`nope`, `{"type":"session.new","extra":1}`, `{"type":"user.init"}`} {
		err := e.ReceiveMessage(context.Background(), p.connID, []byte(raw))
		require.Error(t, err, raw)
	}
	err := e.ReceiveMessage(context.Background(), p.connID, []byte(`{"type":"session.bogus"}`))
	assert.ErrorIs(t, err, protocol.ErrUnsupportedType)
	err = e.ReceiveMessage(context.Background(), p.connID, []byte(`{"type":"chat.message","sessionId":"s"}`))
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	assert.Equal(t, before, e.Stats())
	assert.Empty(t, p.drain())
	assert.Zero(t, rec.count(events.MessageReceived))
}

func TestFramesForUnknownConnection(t *testing.T) {
	e := New()
	err := e.ReceiveMessage(context.Background(), "missing", []byte(`{"type":"session.new"}`))
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestConnectionClosedCleansUp(t *testing.T) {
	e := New()
	rec := record(e, events.SessionDisconnected, events.UserDisconnected, events.ConnectionClosed)
	creator := connect(t, e, "C")
	guest := connect(t, e, "G")
	sid := creator.newSession()
	guest.send(`{"type":"session.request","sessionId":%q}`, sid)
	creator.drain()
	guest.drain()

	e.ConnectionClosed(guest.connID)

	notice := only(t, creator.drain())
	assert.Equal(t, protocol.TypeSessionDisconnect, notice.Type)
	assert.Equal(t, guest.userID, notice.User.ID)

	s, ok := e.Session(sid)
	require.True(t, ok)
	assert.Equal(t, []string{creator.userID}, s.Members())
	_, ok = e.User(guest.userID)
	assert.False(t, ok)
	_, ok = e.Connection(guest.connID)
	assert.False(t, ok)
	assert.Equal(t, []events.Name{events.SessionDisconnected, events.UserDisconnected, events.ConnectionClosed}, rec.names)

	e.ConnectionClosed(guest.connID)
	assert.Equal(t, 1, rec.count(events.ConnectionClosed))
}

func TestConnectionLostTerminates(t *testing.T) {
	e := New()
	rec := record(e, events.ConnectionLost, events.ConnectionClosed, events.SessionClosed)
	creator := connect(t, e, "C")
	sid := creator.newSession()

	e.ConnectionLost(creator.connID)
	e.ConnectionClosed(creator.connID)

	assert.True(t, creator.link.terminated)
	assert.False(t, creator.link.closed)
	_, ok := e.Session(sid)
	assert.False(t, ok)
	assert.Equal(t, Stats{}, e.Stats())
	assert.Equal(t, []events.Name{events.SessionClosed, events.ConnectionLost}, rec.names)
}

func TestPeerDisconnect(t *testing.T) {
	e := New()
	p := connect(t, e, "A")

	p.send(`{"type":"user.disconnect"}`)

	assert.True(t, p.link.closed)
	assert.Empty(t, p.drain())
	_, ok := e.User(p.userID)
	assert.False(t, ok)
	_, ok = e.Connection(p.connID)
	assert.True(t, ok, "the connection stays until the link reports closed")

	p.send(`{"type":"user.disconnect"}`)
	assert.Equal(t, protocol.CodeUserNotFound, only(t, p.drain()).Code)
}

func TestUserCommunication(t *testing.T) {
	e := New()
	rec := record(e, events.UserCommunication)
	a := connect(t, e, "A")
	b := connect(t, e, "B")

	a.send(`{"type":"user.communication","to":%q,"data":{"ping":1}}`, b.userID)

	got := only(t, b.drain())
	assert.Equal(t, protocol.TypeUserCommunication, got.Type)
	assert.Equal(t, a.userID, got.User.ID)
	assert.JSONEq(t, `{"ping":1}`, string(got.Data))
	assert.Equal(t, protocol.TypeUserCommunication, only(t, a.drain()).Type)
	assert.Equal(t, 1, rec.count(events.UserCommunication))

	a.send(`{"type":"user.communication","to":"ghost"}`)
	msg := only(t, a.drain())
	assert.Equal(t, protocol.CodeUserNotFound, msg.Code)
	assert.Equal(t, "User ghost has not been found", msg.Text)
}

func TestSecretsNeverLeave(t *testing.T) {
	e := New(WithConfirmType(ConfirmCreator))
	creator := connect(t, e, "C")
	sid := creator.newSession()

	guest := open(t, e)
	guest.send(`{"type":"user.connect","user":{"name":"G","secret":{"token":"hunter2"}}}`)
	guest.send(`{"type":"session.request","sessionId":%q,"user":{"id":%q,"secret":"hunter2"}}`, sid, guest.userID)
	creator.send(`{"type":"session.confirm","sessionId":%q,"user":{"id":%q}}`, sid, guest.userID)

	for _, p := range []*peer{creator, guest} {
		for _, frame := range p.link.frames {
			assert.NotContains(t, string(frame), "hunter2")
		}
	}
	assert.JSONEq(t, `{"token":"hunter2"}`, string(guest.user().Data().Secret))
}

func TestMessageSentEvents(t *testing.T) {
	e := New()
	var sent []protocol.Type
	var codes []protocol.Code
	e.On(events.MessageSent, events.Notify(func(c *events.Context) {
		require.NotNil(t, c.Connection)
		sent = append(sent, c.Message.Type)
		codes = append(codes, c.Message.Code)
	}))

	p := connect(t, e, "A")
	p.send(`{"type":"session.request","sessionId":"nope"}`)

	assert.Equal(t, []protocol.Type{protocol.TypeUserInit, protocol.TypeSuccess, protocol.TypeError}, sent)
	assert.Equal(t, protocol.CodeSessNotFound, codes[2])
}

func TestBroadcastHelpers(t *testing.T) {
	e := New()
	a := connect(t, e, "A")
	b := connect(t, e, "B")
	c := connect(t, e, "C")
	s1 := a.newSession()
	s2 := a.newSession()
	b.send(`{"type":"session.request","sessionId":%q}`, s2)
	for _, p := range []*peer{a, b, c} {
		p.drain()
	}

	notice := &protocol.Message{Type: protocol.TypeChatMessage, Data: json.RawMessage(`{"text":"maintenance"}`)}

	e.SendToSessions(notice, s1, s2, "missing")
	assert.Len(t, a.drain(), 1, "members of several sessions get one copy")
	assert.Len(t, b.drain(), 1)
	assert.Empty(t, c.drain())

	e.SendToUsers(notice, c.userID, "ghost")
	assert.Len(t, c.drain(), 1)

	e.SendToAll(notice)
	for _, p := range []*peer{a, b, c} {
		assert.Len(t, p.drain(), 1)
	}
}

func TestStartStopEvents(t *testing.T) {
	e := New()
	rec := record(e, events.ServerStarted, events.ServerStopped)

	e.Start()
	e.Stop()

	assert.Equal(t, []events.Name{events.ServerStarted, events.ServerStopped}, rec.names)
}

func TestHooksCanReadDirectory(t *testing.T) {
	e := New()
	var creatorName string
	e.On(events.SessionCreated, events.Notify(func(c *events.Context) {
		u, ok := c.Server.User(c.Session.CreatorID())
		if ok {
			creatorName = u.Public().Name
		}
	}))

	p := connect(t, e, "A")
	p.newSession()

	assert.Equal(t, "A", creatorName)
}

func TestParseConfirmType(t *testing.T) {
	for raw, want := range map[string]ConfirmType{"": ConfirmAuto, "creator": ConfirmCreator, " Members ": ConfirmMembers, "auto": ConfirmAuto} {
		got, err := ParseConfirmType(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseConfirmType("anyone")
	assert.Error(t, err)
}
