package model

import (
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/repository"
)

type User struct {
	data     protocol.User
	bound    bool
	sessions []string

	repo repository.Saver[*User]
}

// NewUser wraps profile. The secret, if any, stays on the server-side copy.
func NewUser(profile protocol.User) *User {
	return &User{data: profile}
}

func (u *User) ID() string      { return u.data.ID }
func (u *User) SetID(id string) { u.data.ID = id }

func (u *User) BindRepository(repo repository.Saver[*User]) { u.repo = repo }

// Save writes u back to its repository. It is a no-op for users that were
// never stored.
func (u *User) Save() {
	if u.repo != nil {
		u.repo.Update(u)
	}
}

// Data returns the full profile, secret included.
func (u *User) Data() protocol.User { return u.data }

// Public returns the profile as other peers may see it.
func (u *User) Public() protocol.User { return u.data.Public() }

func (u *User) DisplayName() string { return u.data.DisplayName() }

func (u *User) ConnectionID() string { return u.data.ConnectionID }

// Bound reports whether a live connection is bound to u.
func (u *User) Bound() bool { return u.bound }

// SetConnectionID changes the connection u belongs to. While a live connection
// is bound the id is fixed and SetConnectionID reports false.
func (u *User) SetConnectionID(id string) bool {
	if u.bound && u.data.ConnectionID != "" && u.data.ConnectionID != id {
		return false
	}
	u.data.ConnectionID = id
	return true
}

// UpdateProfile replaces the client-supplied fields of u. Identity and
// connection are kept.
func (u *User) UpdateProfile(p protocol.User) {
	u.data.Name = p.Name
	u.data.Email = p.Email
	u.data.Metadata = p.Metadata
	u.data.Secret = p.Secret
}

// Sessions returns the ids of the sessions u has joined.
func (u *User) Sessions() []string { return slices.Clone(u.sessions) }

func (u *User) InSession(sessionID string) bool {
	return slices.Contains(u.sessions, sessionID)
}

func (u *User) attach(connectionID string) {
	u.data.ConnectionID = connectionID
	u.bound = true
}

func (u *User) detach() { u.bound = false }

func (u *User) addSession(sessionID string) {
	if !u.InSession(sessionID) {
		u.sessions = append(u.sessions, sessionID)
	}
}

func (u *User) removeSession(sessionID string) {
	u.sessions = slices.DeleteFunc(u.sessions, func(id string) bool { return id == sessionID })
}
