package comm

import (
	"errors"

	"github.com/rost-lang/rost/internal/task"
)

// ErrPortNoOwner is returned by Send when its target port has no live
// owning task: either the channel was already disassociated (the port is
// gone, scenario S5) or the port's owner has already died with the port
// still allocated. The original source logged this case ("port has no
// task (possibly throw?)") without deciding its behavior; this runtime
// fails the sender rather than silently dropping the message, since a
// silently dropped user send is a worse default. Only Send returns it;
// the internal attempt_transmission helper checks the port first and
// treats a missing one as a no-op.
var ErrPortNoOwner = errors.New("comm: port has no owning task")

// Send implements upcall_send: push sptr onto c's buffer, block the
// sender on its token, attempt immediate transmission to the port's
// owner, and resubmit the token if data remains unsent. It reports
// whether the sender is still blocked afterward (the caller should yield
// if so), and returns ErrPortNoOwner or a buffer error when nothing was
// sent.
func Send(t *task.Task, c *Channel, sptr []byte) (stillBlocked bool, err error) {
	if c.Port == nil || c.Port.Owner == nil || c.Port.Owner.Dead() {
		return false, ErrPortNoOwner
	}

	if err := c.Buffer.Push(sptr); err != nil {
		return false, err
	}

	t.Block(c.Token)
	attemptTransmission(c, c.Port.Owner)

	if c.Buffer.Unread() > 0 && !c.Token.Submitted {
		c.Token.Submit()
	}

	return t.Blocked(), nil
}

// Recv implements upcall_recv: block the receiver on port, and if any
// writer is waiting, pick one uniformly at random via randIntn and try to
// complete the rendezvous immediately. Reports whether the receiver is
// still blocked afterward.
//
// dptr is written into the receiver's rendezvous slot before the attempt
// rather than after, unlike the original's upcall_recv which only
// assigns task->dptr once the attempt has already failed — writing it
// first makes attemptTransmission's shift destination correct on every
// call, including the very first one on a task that has never received
// before.
func Recv(t *task.Task, port *Port, dptr []byte, randIntn func(int) int) (stillBlocked bool) {
	t.Dptr = dptr
	t.Block(port)

	if len(port.Writers) > 0 {
		i := randIntn(len(port.Writers))
		tok := port.Writers[i]
		if attemptTransmission(tok.Chan, t) {
			tok.Withdraw()
		}
	}

	return t.Blocked()
}

// attemptTransmission tries to move one unit from c's buffer into
// receiver's rendezvous slot, waking both sides as appropriate. It is a
// no-op, reporting false, unless all of: c still addresses a port, c's
// buffer is non-empty, and receiver is blocked on that exact port.
func attemptTransmission(c *Channel, receiver *task.Task) bool {
	if c.Port == nil {
		return false
	}
	if c.Buffer.Unread() == 0 {
		return false
	}
	if !receiver.BlockedOn(c.Port) {
		return false
	}

	if err := c.Buffer.Shift(receiver.Dptr); err != nil {
		return false
	}

	if c.Owner.BlockedOn(c.Token) {
		c.Owner.Wakeup(c.Token)
	}
	receiver.Wakeup(c.Port)

	return true
}
