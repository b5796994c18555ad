package irqwrap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcornwell/periph/emu/memory"
)

func TestFireUnfireMonotonicity(t *testing.T) {
	var s Status
	require.True(t, s.Disabled())

	before := s.Ordinal()
	s = s.fire()
	require.GreaterOrEqual(t, s.Ordinal(), before, "fire on Disabled is a fixed point")

	s = Status{pending: true}
	before = s.Ordinal()
	s = s.fire()
	require.Greater(t, s.Ordinal(), before)
	depth, ok := s.Fired()
	require.True(t, ok)
	require.Equal(t, 1, depth)

	before = s.Ordinal()
	s = s.fire()
	require.Greater(t, s.Ordinal(), before)
	depth, _ = s.Fired()
	require.Equal(t, 2, depth)

	before = s.Ordinal()
	s = s.unfire()
	require.Less(t, s.Ordinal(), before)
	depth, _ = s.Fired()
	require.Equal(t, 1, depth)

	before = s.Ordinal()
	s = s.unfire()
	require.Less(t, s.Ordinal(), before)
	require.True(t, s.Pending())
}

func TestDisabledIsFixedPointOfBothTransitions(t *testing.T) {
	var s Status
	require.Equal(t, s, s.fire())
	require.Equal(t, s, s.unfire())
}

// Scenario: interrupt stack discipline. Pushing then popping leaves
// returns_stack empty and status equal to the pre-fire status.
func TestStackDiscipline(t *testing.T) {
	calls := 0
	w := New(func(depth int, pc memory.Address) (memory.Address, bool) {
		calls++
		return 0x4000, calls == 1
	}, false)
	w.Enable()
	preFire := w.Status()

	target, branch, changed := w.HookArchStep(0x1000)
	require.True(t, branch)
	require.True(t, changed)
	require.Equal(t, memory.Address(0x4000), target)
	require.Equal(t, []memory.Address{0x1000}, w.ReturnsStack())

	_, branch, _ = w.HookArchStep(0x1000)
	require.False(t, branch, "already fired and not nesting, same pc is the return address")
	require.Empty(t, w.ReturnsStack())
	require.Equal(t, preFire, w.Status())
}

func TestNoOverrideHitLeavesStatusUnchanged(t *testing.T) {
	w := New(func(depth int, pc memory.Address) (memory.Address, bool) {
		return 0, false
	}, false)
	w.Enable()
	before := w.Status()

	_, branch, changed := w.HookArchStep(0x2000)
	require.False(t, branch)
	require.False(t, changed)
	require.Equal(t, before, w.Status())
}

func TestDisabledWrapperNeverInvokesCallback(t *testing.T) {
	called := false
	w := New(func(depth int, pc memory.Address) (memory.Address, bool) {
		called = true
		return 0x4000, true
	}, false)

	_, branch, _ := w.HookArchStep(0x1000)
	require.False(t, branch)
	require.False(t, called)
}

func TestNestingRequiresAllowNesting(t *testing.T) {
	hits := 0
	w := New(func(depth int, pc memory.Address) (memory.Address, bool) {
		hits++
		return memory.Address(0x4000 + memory.Address(depth)), true
	}, false)
	w.Enable()

	_, branch, _ := w.HookArchStep(0x1000)
	require.True(t, branch)

	_, branch, _ = w.HookArchStep(0x9000) // a different pc, would otherwise re-fire
	require.False(t, branch, "nesting disallowed: no second fire while already Fired")
}

func TestAllowNestingFiresAgain(t *testing.T) {
	hits := 0
	w := New(func(depth int, pc memory.Address) (memory.Address, bool) {
		hits++
		return memory.Address(0x4000 + memory.Address(depth)), true
	}, true)
	w.Enable()

	_, branch, _ := w.HookArchStep(0x1000)
	require.True(t, branch)
	depth, ok := w.Status().Fired()
	require.True(t, ok)
	require.Equal(t, 1, depth)

	_, branch, _ = w.HookArchStep(0x9000)
	require.True(t, branch, "nesting allowed: a second interrupt may fire while already Fired")
	depth, _ = w.Status().Fired()
	require.Equal(t, 2, depth)
}
