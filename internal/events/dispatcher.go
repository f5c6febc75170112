package events

// Dispatcher keeps the handlers registered per event. It is not safe for
// concurrent use; the engine registers hooks before serving and dispatches
// under its own lock.
type Dispatcher struct {
	server   Directory
	handlers map[Name][]Handler
}

func NewDispatcher(server Directory) *Dispatcher {
	return &Dispatcher{
		server:   server,
		handlers: make(map[Name][]Handler),
	}
}

func (d *Dispatcher) On(name Name, h Handler) {
	if h == nil {
		return
	}
	d.handlers[name] = append(d.handlers[name], h)
}

// Has reports whether any handler is registered for name.
func (d *Dispatcher) Has(name Name) bool {
	return len(d.handlers[name]) > 0
}

// Dispatch runs every handler registered for name and returns the folded
// outcome. Every handler runs even after a rejection; a later Pass does not
// undo an earlier Reject, but a later Reject replaces its message. With no
// handlers the result is Pass.
func (d *Dispatcher) Dispatch(name Name, c *Context) Outcome {
	c.Event = name
	c.Server = d.server

	out := Pass
	for _, h := range d.handlers[name] {
		o := h(c)
		if o.rejected {
			out = o
		}
	}
	return out
}
