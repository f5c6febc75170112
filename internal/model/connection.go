// Package model holds the signaling state of connections, users and sessions.
//
// Entities refer to each other by id only; the engine's repositories own the
// instances and resolve those ids on demand.
package model

// Link is the transport handle behind a Connection. Implementations must not
// block: the engine calls them while holding its lock.
type Link interface {
	// Send queues one text frame. Frames sent to a link that is not writable
	// are dropped.
	Send(frame []byte)
	// Close starts a graceful close handshake.
	Close()
	// Terminate tears the link down without a handshake.
	Terminate()
}

// RequestMeta describes the request that opened a link.
type RequestMeta struct {
	RemoteAddr string
	Origin     string
	UserAgent  string
	RequestID  string
}

type Connection struct {
	id      string
	link    Link
	Request RequestMeta

	userID string
}

func NewConnection(link Link, meta RequestMeta) *Connection {
	return &Connection{link: link, Request: meta}
}

func (c *Connection) ID() string      { return c.id }
func (c *Connection) SetID(id string) { c.id = id }
func (c *Connection) Link() Link      { return c.link }

// UserID returns the id of the bound user, or "".
func (c *Connection) UserID() string { return c.userID }

// Bind attaches u to this connection, replacing any previous binding, and
// points u back at it.
func (c *Connection) Bind(u *User) {
	c.userID = u.ID()
	u.attach(c.id)
}

// Unbind releases u if it is the user bound to c.
func (c *Connection) Unbind(u *User) {
	if c.userID != u.ID() {
		return
	}
	c.userID = ""
	u.detach()
}

// Send forwards frame to the link.
func (c *Connection) Send(frame []byte) {
	if c.link != nil {
		c.link.Send(frame)
	}
}
