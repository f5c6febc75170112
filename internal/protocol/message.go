// Package protocol defines the JSON control messages exchanged between
// signaling clients and the server.
package protocol

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeUserInit          Type = "user.init"
	TypeUserConnect       Type = "user.connect"
	TypeUserDisconnect    Type = "user.disconnect"
	TypeUserCommunication Type = "user.communication"

	TypeSessionNew        Type = "session.new"
	TypeSessionRequest    Type = "session.request"
	TypeSessionConfirm    Type = "session.confirm"
	TypeSessionReject     Type = "session.reject"
	TypeSessionStop       Type = "session.stop"
	TypeSessionLeave      Type = "session.leave"
	TypeSessionClose      Type = "session.close"
	TypeSessionData       Type = "session.data"
	TypeSessionDisconnect Type = "session.disconnect"

	TypeSDPTransfer  Type = "sdp.transfer"
	TypeICECandidate Type = "ice.candidate"
	TypeChatMessage  Type = "chat.message"

	TypeSuccess Type = "success"
	TypeError   Type = "error"
)

// Inbound reports whether clients may send messages of this type.
func (t Type) Inbound() bool {
	switch t {
	case TypeUserConnect, TypeUserDisconnect, TypeUserCommunication,
		TypeSessionNew, TypeSessionRequest, TypeSessionConfirm, TypeSessionReject,
		TypeSessionStop, TypeSessionLeave, TypeSessionClose,
		TypeSDPTransfer, TypeICECandidate, TypeChatMessage:
		return true
	default:
		return false
	}
}

// User is the protocol-visible shape of a participant.
//
// Secret is accepted from clients (e.g. a token for the identity check) but is
// never sent back out: every outbound user goes through Public.
type User struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Email        string          `json:"email,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Secret       json.RawMessage `json:"secret,omitempty"`
}

// Public returns a copy of u without secret fields.
func (u *User) Public() User {
	out := *u
	out.Secret = nil
	out.Metadata = maps.Clone(u.Metadata)
	return out
}

// DisplayName is the value used for the {uname} placeholder.
func (u *User) DisplayName() string {
	switch {
	case u == nil:
		return undefinedName
	case u.Name != "":
		return u.Name
	case u.ID != "":
		return u.ID
	default:
		return undefinedName
	}
}

// NameOf is the {uname} value for a user known only by id.
func NameOf(id string) string {
	if id == "" {
		return undefinedName
	}
	return id
}

const undefinedName = "<undefined>"

// Message is the single envelope used for every control message.
type Message struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	User      *User           `json:"user,omitempty"`
	To        string          `json:"to,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	Code    Code    `json:"code,omitempty"`
	Details Details `json:"details,omitempty"`
	Text    string  `json:"message,omitempty"`
}

// Details holds the placeholder values of success and error messages.
type Details map[string]any

// Clone returns a shallow copy of m whose User (if any) is the public
// projection. Relayed messages go through Clone so client secrets never leave.
func (m *Message) Clone() *Message {
	out := *m
	if m.User != nil {
		u := m.User.Public()
		out.User = &u
	}
	out.Details = maps.Clone(m.Details)
	return &out
}

// UserID returns the id of the embedded user, or "".
func (m *Message) UserID() string {
	if m.User == nil {
		return ""
	}
	return m.User.ID
}

// NewUserMessage builds a message about a single user.
func NewUserMessage(t Type, u User) *Message {
	pub := u.Public()
	return &Message{Type: t, User: &pub}
}

// NewSessionMessage builds a session-scoped message. u may be nil.
func NewSessionMessage(t Type, sessionID string, u *User) *Message {
	m := &Message{Type: t, SessionID: sessionID}
	if u != nil {
		pub := u.Public()
		m.User = &pub
	}
	return m
}

// WithData marshals v into the message payload.
func (m *Message) WithData(v any) (*Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", m.Type, err)
	}
	m.Data = data
	return m, nil
}

// NewSuccess builds a success envelope. template may reference detail keys.
func NewSuccess(template string, details Details) *Message {
	return &Message{
		Type:    TypeSuccess,
		Details: details,
		Text:    Format(template, details),
	}
}

// SessionView is the membership snapshot carried by session.data.
type SessionView struct {
	ID       string `json:"id"`
	Creator  *User  `json:"creator,omitempty"`
	Members  []User `json:"members"`
	Requests []User `json:"requests"`
}

type SessionData struct {
	Session SessionView `json:"session"`
}

// InitData is attached to user.init when ICE servers are configured.
type InitData struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

type ChatData struct {
	Text string `json:"text"`
}
