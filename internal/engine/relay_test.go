package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
)

const offerSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=rtpmap:111 opus/48000/2\r\n"

// room returns a creator and guest that are both members of a fresh session.
func room(t *testing.T, e *Engine) (creator, guest *peer, sid string) {
	t.Helper()
	creator = connect(t, e, "C")
	guest = connect(t, e, "G")
	sid = creator.newSession()
	guest.send(`{"type":"session.request","sessionId":%q}`, sid)
	creator.drain()
	guest.drain()
	return creator, guest, sid
}

func sdpFrame(t *testing.T, sid, to string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"type": "offer", "sdp": offerSDP})
	require.NoError(t, err)
	msg := map[string]any{"type": "sdp.transfer", "sessionId": sid, "data": json.RawMessage(data)}
	if to != "" {
		msg["to"] = to
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(raw)
}

func TestSDPGoesToEveryMember(t *testing.T) {
	e := New()
	rec := record(e, events.SDPReceived)
	creator, guest, sid := room(t, e)

	creator.send("%s", sdpFrame(t, sid, ""))

	for _, p := range []*peer{creator, guest} {
		msg := only(t, p.drain())
		assert.Equal(t, protocol.TypeSDPTransfer, msg.Type)
		assert.Equal(t, creator.userID, msg.User.ID)
		desc, err := msg.SessionDescription()
		require.NoError(t, err)
		assert.Equal(t, offerSDP, desc.SDP)
	}
	require.Equal(t, 1, rec.count(events.SDPReceived))
	assert.Equal(t, sid, rec.ctxs[0].Session.ID())
}

func TestRelayToSingleMember(t *testing.T) {
	e := New()
	creator, guest, sid := room(t, e)
	third := connect(t, e, "T")
	third.send(`{"type":"session.request","sessionId":%q}`, sid)
	creator.drain()
	guest.drain()
	third.drain()

	guest.send(`{"type":"ice.candidate","sessionId":%q,"to":%q,"data":{"candidate":"candidate:1 1 udp 2130706431 192.168.1.10 54321 typ host","sdpMid":"0"}}`, sid, creator.userID)

	msg := only(t, creator.drain())
	assert.Equal(t, protocol.TypeICECandidate, msg.Type)
	assert.Equal(t, guest.userID, msg.User.ID)
	assert.Empty(t, guest.drain())
	assert.Empty(t, third.drain())
}

func TestRelayToNonMember(t *testing.T) {
	e := New()
	creator, _, sid := room(t, e)
	outsider := connect(t, e, "O")

	creator.send(`{"type":"chat.message","sessionId":%q,"to":%q,"data":{"text":"psst"}}`, sid, outsider.userID)

	msg := only(t, creator.drain())
	assert.Equal(t, protocol.CodeUserNotFound, msg.Code)
	assert.Empty(t, outsider.drain())
}

func TestRelayRequiresMembership(t *testing.T) {
	e := New()
	creator, guest, sid := room(t, e)
	outsider := connect(t, e, "O")

	outsider.send(`{"type":"chat.message","sessionId":%q,"data":{"text":"hello"}}`, sid)

	msg := only(t, outsider.drain())
	assert.Equal(t, protocol.CodePermReq, msg.Code)
	assert.Equal(t, "User O is not permitted to perform chat.message", msg.Text)
	assert.Empty(t, creator.drain())
	assert.Empty(t, guest.drain())
}

func TestRelayRequiresSession(t *testing.T) {
	e := New()
	rec := record(e, events.ChatReceived, events.ICEReceived)
	p := connect(t, e, "A")

	p.send(`{"type":"chat.message","sessionId":"gone","data":{"text":"hello"}}`)
	p.send(`{"type":"ice.candidate","sessionId":"gone","data":{"candidate":""}}`)

	msgs := p.drain()
	require.Len(t, msgs, 2)
	for _, msg := range msgs {
		assert.Equal(t, protocol.CodeSessNotFound, msg.Code)
	}
	assert.Empty(t, rec.names)
}

func TestChatBroadcast(t *testing.T) {
	e := New()
	creator, guest, sid := room(t, e)

	guest.send(`{"type":"chat.message","sessionId":%q,"data":{"text":"hi all"}}`, sid)

	for _, p := range []*peer{creator, guest} {
		msg := only(t, p.drain())
		text, err := msg.ChatText()
		require.NoError(t, err)
		assert.Equal(t, "hi all", text)
	}
}
