package comm

import (
	"math/rand"
	"testing"

	"github.com/rost-lang/rost/internal/task"
	"github.com/stretchr/testify/require"
)

// zeroRand always picks index 0, useful for deterministic tests of the
// rendezvous mechanics; fairness itself is tested separately below.
func zeroRand(n int) int { return 0 }

func newRunningTask(name string) *task.Task {
	t := task.New(name, nil)
	t.SetState(task.Running)
	return t
}

func TestCircBufPushShiftRoundTrip(t *testing.T) {
	buf := NewCircBuf(4)
	for i := 0; i < 20; i++ {
		require.NoError(t, buf.Push([]byte{byte(i), 0, 0, 0}))
	}
	require.Equal(t, 20, buf.Unread())

	for i := 0; i < 20; i++ {
		dst := make([]byte, 4)
		require.NoError(t, buf.Shift(dst))
		require.Equal(t, byte(i), dst[0])
	}
	require.Equal(t, 0, buf.Unread())
}

func TestCircBufCapacityIsPowerOfTwoAndBounded(t *testing.T) {
	buf := NewCircBuf(1)
	for i := 0; i < 1000; i++ {
		require.NoError(t, buf.Push([]byte{byte(i)}))
	}
	cap := buf.CapacityUnits()
	require.True(t, cap&(cap-1) == 0, "capacity %d must be a power of two", cap)
	require.LessOrEqual(t, buf.Unread(), cap)
}

// S1 — single producer / single consumer: 1000 sends received in order.
func TestScenarioS1SingleProducerSingleConsumer(t *testing.T) {
	consumer := newRunningTask("consumer")
	producer := newRunningTask("producer")

	port := NewPort(consumer, 4)
	chan1 := NewChannel(producer, port)

	// Each send/recv pair is driven as a single round trip, mirroring how
	// the domain scheduler would actually interleave a producer and
	// consumer cooperatively: a send's token is only ever resubmitted by
	// a later Send call, so batching all sends before any receive would
	// strand everything after the first item behind a withdrawn token.
	const n = 1000
	received := make([]int, 0, n)
	for i := 0; i < n; i++ {
		producer.SetState(task.Running)
		src := []byte{byte(i), byte(i >> 8), 0, 0}
		_, err := Send(producer, chan1, src)
		require.NoError(t, err)

		consumer.SetState(task.Running)
		dst := make([]byte, 4)
		Recv(consumer, port, dst, zeroRand)
		received = append(received, int(dst[0])|int(dst[1])<<8)
	}

	for i := 0; i < n; i++ {
		require.Equal(t, i, received[i])
	}
	require.Equal(t, 0, chan1.Buffer.Unread())
	require.Empty(t, port.Writers)
}

// S2 — two producers sharing one port, 500 sends each, FIFO within a
// channel, counts preserved, writers empty at the end.
func TestScenarioS2TwoProducersOneConsumer(t *testing.T) {
	consumer := newRunningTask("consumer")
	p1 := newRunningTask("p1")
	p2 := newRunningTask("p2")

	port := NewPort(consumer, 1)
	c1 := NewChannel(p1, port)
	c2 := NewChannel(p2, port)

	countA, countB := 0, 0
	for i := 0; i < 500; i++ {
		p1.SetState(task.Running)
		_, err := Send(p1, c1, []byte("A"))
		require.NoError(t, err)

		p2.SetState(task.Running)
		_, err = Send(p2, c2, []byte("B"))
		require.NoError(t, err)

		for j := 0; j < 2; j++ {
			consumer.SetState(task.Running)
			dst := make([]byte, 1)
			Recv(consumer, port, dst, zeroRand)
			switch dst[0] {
			case 'A':
				countA++
			case 'B':
				countB++
			}
		}
	}

	require.Equal(t, 500, countA)
	require.Equal(t, 500, countB)
	require.Empty(t, port.Writers)
}

// S5 — channel outlives port: port's owner releases it, the port closes
// and disassociates the channel; a subsequent send observes a nil port
// and fails cleanly instead of panicking.
func TestScenarioS5ChannelOutlivesPort(t *testing.T) {
	owner := newRunningTask("owner")
	other := newRunningTask("other")

	port := NewPort(owner, 4)
	c := NewChannel(other, port)

	port.Close()
	require.Nil(t, c.Port)
	require.Empty(t, port.Chans)

	other.SetState(task.Running)
	_, err := Send(other, c, []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrPortNoOwner)
}

func TestTokenSubmittedInvariant(t *testing.T) {
	consumer := newRunningTask("consumer")
	producer := newRunningTask("producer")
	port := NewPort(consumer, 1)
	c := NewChannel(producer, port)

	producer.SetState(task.Running)
	_, err := Send(producer, c, []byte("x"))
	require.NoError(t, err)

	// Consumer never receives: token must be submitted since buffer
	// holds unread data and the producer blocks on its token.
	require.True(t, c.Token.Submitted)
	require.Contains(t, port.Writers, c.Token)
	require.True(t, producer.BlockedOn(c.Token))
}

func TestRecvWithNoWriters(t *testing.T) {
	consumer := newRunningTask("consumer")
	port := NewPort(consumer, 4)

	dst := make([]byte, 4)
	stillBlocked := Recv(consumer, port, dst, zeroRand)
	require.True(t, stillBlocked)
	require.True(t, consumer.BlockedOn(port))
}

func TestCloneChannelPermitsMultipleProducers(t *testing.T) {
	owner := newRunningTask("owner")
	p1 := newRunningTask("p1")
	p2 := newRunningTask("p2")

	port := NewPort(owner, 1)
	c1 := NewChannel(p1, port)
	c2 := Clone(p2, c1)

	require.Len(t, port.Chans, 2)
	require.Same(t, port, c2.Port)
	require.NotSame(t, c1, c2)
}

// Fairness law: with k channels each always having a pending message, a
// receiver draws each with positive probability and the empirical
// distribution approaches uniform over many draws.
func TestWriterSelectionFairness(t *testing.T) {
	consumer := newRunningTask("consumer")
	const k = 4
	producers := make([]*task.Task, k)
	chans := make([]*Channel, k)
	port := NewPort(consumer, 1)
	for i := 0; i < k; i++ {
		producers[i] = newRunningTask("p")
		chans[i] = NewChannel(producers[i], port)
	}

	rng := rand.New(rand.NewSource(1))
	counts := make([]int, k)
	const trials = 20000

	for i := 0; i < trials; i++ {
		// Refresh all k channels to have exactly one pending message, then
		// take a single random draw to see which one the picker favors.
		for j, p := range producers {
			p.SetState(task.Running)
			_, err := Send(p, chans[j], []byte{byte(j)})
			require.NoError(t, err)
		}

		consumer.SetState(task.Running)
		dst := make([]byte, 1)
		Recv(consumer, port, dst, rng.Intn)
		counts[dst[0]]++

		// Drain whatever the draw did not pick directly, bypassing the
		// rendezvous protocol, so every trial starts with k fresh writers.
		for j := 0; j < k; j++ {
			for chans[j].Buffer.Unread() > 0 {
				tmp := make([]byte, 1)
				require.NoError(t, chans[j].Buffer.Shift(tmp))
			}
			chans[j].Token.Withdraw()
			producers[j].SetState(task.Running)
		}
	}

	expected := trials / k
	for _, c := range counts {
		require.Greater(t, c, 0, "every channel must be drawn with positive probability")
		require.InDelta(t, expected, c, float64(expected)*0.25, "distribution should approach uniform")
	}
}
