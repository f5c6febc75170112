package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrMalformed       = errors.New("protocol: malformed message")
	ErrUnsupportedType = errors.New("protocol: unsupported message type")
)

// PeekType returns the type discriminator of raw without decoding the rest of
// the frame. It returns "" when raw is not a JSON object with a string type.
func PeekType(raw []byte) Type {
	res := gjson.GetBytes(raw, "type")
	if res.Type != gjson.String {
		return ""
	}
	return Type(res.Str)
}

// Decode parses and validates an inbound frame. Unknown fields, trailing data
// and server-only types are rejected.
func Decode(raw []byte) (*Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	t := PeekType(raw)
	if t == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !t.Inbound() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}

	var msg Message
	if err := decodeStrictJSON(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}

// Encode serializes an outbound message.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func (m *Message) validate() error {
	if m.Code != "" || len(m.Details) > 0 || m.Text != "" {
		return fmt.Errorf("%s message has server-only fields", m.Type)
	}

	switch m.Type {
	case TypeUserConnect:
		if m.User == nil {
			return errors.New("user.connect message missing user")
		}
	case TypeSDPTransfer:
		if _, err := m.SessionDescription(); err != nil {
			return err
		}
	case TypeICECandidate:
		if _, err := m.Candidate(); err != nil {
			return err
		}
	case TypeChatMessage:
		if _, err := m.ChatText(); err != nil {
			return err
		}
	}
	return nil
}

// ChatText returns the text of a chat.message payload.
func (m *Message) ChatText() (string, error) {
	if len(m.Data) == 0 {
		return "", errors.New("chat message missing data")
	}
	var chat ChatData
	if err := decodeStrictJSON(m.Data, &chat); err != nil {
		return "", fmt.Errorf("chat message data: %w", err)
	}
	if strings.TrimSpace(chat.Text) == "" {
		return "", errors.New("chat message has empty text")
	}
	return chat.Text, nil
}
