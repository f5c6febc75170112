package model

import (
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/repository"
)

// Session is a negotiation context. Members and requests are ordered user id
// sets and never share an id.
type Session struct {
	id        string
	creatorID string
	members   []string
	requests  []string

	repo repository.Saver[*Session]
}

func NewSession(creator *User) *Session {
	return &Session{creatorID: creator.ID()}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) SetID(id string) { s.id = id }

func (s *Session) BindRepository(repo repository.Saver[*Session]) { s.repo = repo }

func (s *Session) Save() {
	if s.repo != nil {
		s.repo.Update(s)
	}
}

func (s *Session) CreatorID() string { return s.creatorID }

func (s *Session) IsCreator(userID string) bool {
	return userID != "" && userID == s.creatorID
}

func (s *Session) Members() []string  { return slices.Clone(s.members) }
func (s *Session) Requests() []string { return slices.Clone(s.requests) }

func (s *Session) HasMember(userID string) bool {
	return slices.Contains(s.members, userID)
}

func (s *Session) HasRequest(userID string) bool {
	return slices.Contains(s.requests, userID)
}

// NewRequest records a pending join request by u. Requesting twice keeps a
// single entry. Members cannot request and NewRequest reports false.
func (s *Session) NewRequest(u *User) bool {
	if s.HasMember(u.ID()) {
		return false
	}
	if !s.HasRequest(u.ID()) {
		s.requests = append(s.requests, u.ID())
	}
	return true
}

// RemoveRequest drops the pending request of userID and reports whether
// there was one.
func (s *Session) RemoveRequest(userID string) bool {
	n := len(s.requests)
	s.requests = slices.DeleteFunc(s.requests, func(id string) bool { return id == userID })
	return len(s.requests) != n
}

// Join makes u a member, consuming its pending request if it had one.
func (s *Session) Join(u *User) {
	s.RemoveRequest(u.ID())
	if !s.HasMember(u.ID()) {
		s.members = append(s.members, u.ID())
	}
	u.addSession(s.id)
}

// Leave removes u from the members and reports whether it was one.
func (s *Session) Leave(u *User) bool {
	n := len(s.members)
	s.members = slices.DeleteFunc(s.members, func(id string) bool { return id == u.ID() })
	u.removeSession(s.id)
	return len(s.members) != n
}

// View renders the membership snapshot sent in session.data. Ids that lookup
// cannot resolve are skipped.
func (s *Session) View(lookup func(id string) (*User, bool)) protocol.SessionView {
	view := protocol.SessionView{
		ID:       s.id,
		Members:  publicUsers(s.members, lookup),
		Requests: publicUsers(s.requests, lookup),
	}
	if creator, ok := lookup(s.creatorID); ok {
		pub := creator.Public()
		view.Creator = &pub
	}
	return view
}

func publicUsers(ids []string, lookup func(id string) (*User, bool)) []protocol.User {
	out := make([]protocol.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := lookup(id); ok {
			out = append(out, u.Public())
		}
	}
	return out
}
