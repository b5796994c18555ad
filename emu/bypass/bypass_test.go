package bypass

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcornwell/periph/emu/memory"
	"github.com/rcornwell/periph/emu/symbolic"
)

type fakeBus struct {
	data map[memory.Address]uint8
}

func newFakeBus() *fakeBus {
	return &fakeBus{data: map[memory.Address]uint8{}}
}

func (b *fakeBus) ReadByte(addr memory.Address) (uint8, error) {
	return b.data[addr], nil
}

func (b *fakeBus) WriteByte(addr memory.Address, val uint8) error {
	b.data[addr] = val
	return nil
}

// fakeSolver always finds a satisfying value of 1 for the target.
type fakeSolver struct {
	value uint64
}

func (s fakeSolver) CheckSat(constraint, target *symbolic.Expr) (uint64, bool, error) {
	return s.value, true, nil
}

// Scenario 5: bypass loop solve. "r0 <- load [0x1000]; if r0 == 0 goto -2
// else fallthrough." After the first CBranch, a backward branch is
// detected, the bypass solves for a value of [0x1000] that makes the loop
// exit (r0 == 0 false, i.e. any non-zero), and writes it back.
func TestBypassLoopSolve(t *testing.T) {
	bus := newFakeBus()
	p := New(bus, memory.BigEndian)
	p.AddRange(0x1000, 0x10FF)

	loadPC := memory.Address(0x8000)

	src := symbolic.VarOperand(symbolic.AddressKey(0x1000), 32)
	r0 := symbolic.VarOperand("r0", 32)

	require.NoError(t, p.HandleLoad(loadPC, src, r0, 0x1000, nil))
	require.True(t, p.Tracking())

	// condition == (r0 == 0); backward branch to loadPC.
	solver := fakeSolver{value: 7}
	err := p.HandleCBranch(loadPC, true, r0, 0, solver, nil)
	require.NoError(t, err)
	require.False(t, p.solvingStarted, "loop detected must end the solve")

	got, err := memory.ReadUint32(bus, 0x1000, memory.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint32(7), got)
}

// Scenario 6: cache hit. With caching enabled, a second load of the same
// address writes the cached value directly, without creating a new solver
// (HandleLoad returns before touching the bridge).
func TestBypassCacheHit(t *testing.T) {
	bus := newFakeBus()
	p := New(bus, memory.BigEndian)
	p.AddRange(0x1000, 0x10FF)
	p.EnableCache(true)

	loadPC := memory.Address(0x8000)
	src := symbolic.VarOperand(symbolic.AddressKey(0x1000), 32)
	r0 := symbolic.VarOperand("r0", 32)

	require.NoError(t, p.HandleLoad(loadPC, src, r0, 0x1000, nil))
	solver := fakeSolver{value: 9}
	require.NoError(t, p.HandleCBranch(loadPC, true, r0, 0, solver, nil))

	got, err := memory.ReadUint32(bus, 0x1000, memory.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint32(9), got)

	// Overwrite the memory with something else, then load again: the
	// cached value must be restored without a fresh solve.
	require.NoError(t, memory.WriteUint32(bus, 0x1000, 0, memory.BigEndian))
	require.NoError(t, p.HandleLoad(loadPC, src, r0, 0x1000, nil))
	require.False(t, p.Tracking(), "a cache hit must not start a new solve")

	got, err = memory.ReadUint32(bus, 0x1000, memory.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint32(9), got)
}

func TestStoreToPolledAddressAbandonsSolve(t *testing.T) {
	bus := newFakeBus()
	p := New(bus, memory.BigEndian)
	p.AddRange(0x1000, 0x10FF)

	src := symbolic.VarOperand(symbolic.AddressKey(0x1000), 32)
	r0 := symbolic.VarOperand("r0", 32)
	require.NoError(t, p.HandleLoad(0x8000, src, r0, 0x1000, nil))
	require.True(t, p.Tracking())

	p.HandleStore(0x1000)
	require.False(t, p.Tracking())
}

func TestForwardBranchIsForgivenOnceThenAbandoned(t *testing.T) {
	bus := newFakeBus()
	p := New(bus, memory.BigEndian)
	p.AddRange(0x1000, 0x10FF)

	src := symbolic.VarOperand(symbolic.AddressKey(0x1000), 32)
	r0 := symbolic.VarOperand("r0", 32)
	require.NoError(t, p.HandleLoad(0x8000, src, r0, 0x1000, nil))

	solver := fakeSolver{value: 1}
	// Forward branch (target > last load pc): forgiven once.
	require.NoError(t, p.HandleCBranch(0x9000, true, r0, 1, solver, nil))
	require.True(t, p.solvingStarted, "first forward branch is forgiven")

	// A second forward branch abandons the solve.
	require.NoError(t, p.HandleCBranch(0x9100, true, r0, 1, solver, nil))
	require.False(t, p.solvingStarted)
}

func TestICallAbandonsSolve(t *testing.T) {
	bus := newFakeBus()
	p := New(bus, memory.BigEndian)
	p.AddRange(0x1000, 0x10FF)

	src := symbolic.VarOperand(symbolic.AddressKey(0x1000), 32)
	r0 := symbolic.VarOperand("r0", 32)
	require.NoError(t, p.HandleLoad(0x8000, src, r0, 0x1000, nil))
	require.True(t, p.Tracking())

	p.HandleICall()
	require.False(t, p.Tracking(), "an unbalanced call abandons the solve")
}

func TestCloneSharesCacheNotSolveState(t *testing.T) {
	bus := newFakeBus()
	p := New(bus, memory.BigEndian)
	p.AddRange(0x1000, 0x10FF)
	p.EnableCache(true)
	p.storeCache(0x1000, Result{Value: 42, Size: 4})

	clone := p.Clone()
	cached, ok := clone.cachedValue(0x1000)
	require.True(t, ok)
	require.Equal(t, uint64(42), cached.Value)

	p.storeCache(0x2000, Result{Value: 99, Size: 4})
	cached, ok = clone.cachedValue(0x2000)
	require.True(t, ok, "cache is shared by reference across clones")
	require.Equal(t, uint64(99), cached.Value)
}
