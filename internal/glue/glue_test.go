package glue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoroutineRunsToCompletionWithoutYielding(t *testing.T) {
	co := NewCoroutine(func(*Coroutine) int { return 42 })

	alive, rval := co.Activate()
	require.False(t, alive)
	require.Equal(t, 42, rval)
}

func TestCoroutineYieldsAndResumes(t *testing.T) {
	var trace []string
	co := NewCoroutine(func(c *Coroutine) int {
		trace = append(trace, "a")
		c.Yield()
		trace = append(trace, "b")
		c.Yield()
		trace = append(trace, "c")
		return 7
	})

	alive, _ := co.Activate()
	require.True(t, alive)
	require.Equal(t, []string{"a"}, trace)

	alive, _ = co.Activate()
	require.True(t, alive)
	require.Equal(t, []string{"a", "b"}, trace)

	alive, rval := co.Activate()
	require.False(t, alive)
	require.Equal(t, 7, rval)
	require.Equal(t, []string{"a", "b", "c"}, trace)
}

func TestCoroutineActivateAfterDeathIsIdempotent(t *testing.T) {
	co := NewCoroutine(func(*Coroutine) int { return 1 })

	alive, rval := co.Activate()
	require.False(t, alive)
	require.Equal(t, 1, rval)

	alive, rval = co.Activate()
	require.False(t, alive)
	require.Equal(t, 1, rval)
}

func TestClosureGlueActivatesCoroutine(t *testing.T) {
	co := NewCoroutine(func(c *Coroutine) int {
		c.Yield()
		return 99
	})

	var g Glue = ClosureGlue{}
	alive, _ := g.Activate(co)
	require.True(t, alive)

	alive, rval := g.Activate(co)
	require.False(t, alive)
	require.Equal(t, 99, rval)
}
