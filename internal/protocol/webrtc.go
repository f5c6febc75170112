package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s sessionDescription) toPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	case "pranswer":
		t = webrtc.SDPTypePranswer
	case "rollback":
		t = webrtc.SDPTypeRollback
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (c candidate) toPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// SessionDescription decodes and validates an sdp.transfer payload. Rollbacks
// carry no body; every other type must hold a parseable SDP.
func (m *Message) SessionDescription() (webrtc.SessionDescription, error) {
	if len(m.Data) == 0 {
		return webrtc.SessionDescription{}, errors.New("sdp message missing data")
	}
	var wire sessionDescription
	if err := decodeStrictJSON(m.Data, &wire); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("sdp message data: %w", err)
	}
	desc, err := wire.toPion()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if desc.Type == webrtc.SDPTypeRollback {
		return desc, nil
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return webrtc.SessionDescription{}, errors.New("sdp message missing sdp")
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("invalid sdp: %w", err)
	}
	return desc, nil
}

// Candidate decodes and validates an ice.candidate payload. An empty
// candidate string is the end-of-candidates marker and is accepted as-is.
func (m *Message) Candidate() (webrtc.ICECandidateInit, error) {
	if len(m.Data) == 0 {
		return webrtc.ICECandidateInit{}, errors.New("candidate message missing data")
	}
	var wire candidate
	if err := decodeStrictJSON(m.Data, &wire); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("candidate message data: %w", err)
	}
	if wire.Candidate != "" {
		if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(wire.Candidate, "candidate:")); err != nil {
			return webrtc.ICECandidateInit{}, fmt.Errorf("invalid candidate: %w", err)
		}
	}
	return wire.toPion(), nil
}
