package comm

import "github.com/rost-lang/rost/internal/task"

// Channel is a write endpoint addressing a port. Many channels may exist
// per port, each task-owned, each with its own buffer and token so
// multiple producers can queue independently.
type Channel struct {
	Owner  *task.Task
	Port   *Port // nil once disassociated; channels may outlive their port
	Buffer *CircBuf
	Token  *Token

	chansIdx int
	refcount int
}

// NewChannel creates a channel owned by owner, addressing port, with
// refcount 1. The channel registers itself in port.Chans immediately.
func NewChannel(owner *task.Task, port *Port) *Channel {
	c := &Channel{
		Owner:    owner,
		Port:     port,
		Buffer:   NewCircBuf(port.UnitSize),
		refcount: 1,
	}
	c.Token = &Token{Chan: c}
	port.addChan(c)
	return c
}

// Clone creates a new channel owned by newOwner addressing the same port
// as c, permitting multiple producers onto one port.
func Clone(newOwner *task.Task, c *Channel) *Channel {
	return NewChannel(newOwner, c.Port)
}

// Ref bumps the channel's refcount.
func (c *Channel) Ref() { c.refcount++ }

// Unref drops the channel's refcount, returning true once it reaches
// zero. Callers must call Disassociate before releasing the channel's
// last reference if it has not already disassociated itself.
func (c *Channel) Unref() bool {
	c.refcount--
	return c.refcount <= 0
}

// Disassociate withdraws the channel's pending token (if any) and removes
// it from its port's Chans, then nulls its Port pointer. Safe to call
// more than once or after the port has already gone away.
func (c *Channel) Disassociate() {
	if c.Port == nil {
		return
	}
	c.Token.Withdraw()
	c.Port.removeChan(c)
	c.Port = nil
}
