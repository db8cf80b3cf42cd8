package comm

import "github.com/rost-lang/rost/internal/task"

// Port is a typed read endpoint owned by exactly one task. Writers is the
// ordered sequence of tokens currently submitted (channels with pending
// data whose task blocks awaiting acceptance); Chans is every channel
// still addressing this port, including ones with nothing queued.
// Invariant: writers[i].Idx == i, chans[j].idx == j.
type Port struct {
	Owner    *task.Task
	UnitSize int
	Writers  []*Token
	Chans    []*Channel

	refcount int
}

// IsCondition makes *Port a valid task.Condition: receive blocks on it.
func (*Port) IsCondition() {}

// NewPort creates a port owned by owner, refcount 1.
func NewPort(owner *task.Task, unitSize int) *Port {
	return &Port{Owner: owner, UnitSize: unitSize, refcount: 1}
}

// Ref bumps the port's refcount.
func (p *Port) Ref() { p.refcount++ }

// Unref drops the port's refcount, returning true once it reaches zero.
func (p *Port) Unref() bool {
	p.refcount--
	return p.refcount <= 0
}

// addChan registers c in p.Chans, recording its index.
func (p *Port) addChan(c *Channel) {
	c.chansIdx = len(p.Chans)
	p.Chans = append(p.Chans, c)
}

// removeChan swap-deletes c from p.Chans using its cached index.
func (p *Port) removeChan(c *Channel) {
	i := c.chansIdx
	last := len(p.Chans) - 1
	p.Chans[i] = p.Chans[last]
	p.Chans[i].chansIdx = i
	p.Chans[last] = nil
	p.Chans = p.Chans[:last]
}

// submitWriter appends tok to p.Writers, recording its index.
func (p *Port) submitWriter(tok *Token) {
	tok.Idx = len(p.Writers)
	tok.Submitted = true
	p.Writers = append(p.Writers, tok)
}

// withdrawWriter swap-deletes tok from p.Writers using its cached index.
func (p *Port) withdrawWriter(tok *Token) {
	i := tok.Idx
	last := len(p.Writers) - 1
	p.Writers[i] = p.Writers[last]
	p.Writers[i].Idx = i
	p.Writers[last] = nil
	p.Writers = p.Writers[:last]
	tok.Submitted = false
}

// Close disassociates every channel still referencing the port (nulling
// their Port pointer and withdrawing any pending token) before the port
// is freed. Channels may outlive the port; this must run before the
// port's last reference is dropped so no channel is left with a dangling
// back-pointer.
func (p *Port) Close() {
	// Iterate over a copy since Disassociate mutates p.Chans.
	chans := make([]*Channel, len(p.Chans))
	copy(chans, p.Chans)
	for _, c := range chans {
		c.Disassociate()
	}
}
