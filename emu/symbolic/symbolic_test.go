package symbolic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcornwell/periph/emu/memory"
)

// fakeSolver is a trivial CheckSat: any constraint over a Var target is
// satisfiable with a fixed concrete value, exercising the bridge's wiring
// without needing a real SMT engine.
type fakeSolver struct {
	value uint64
	sat   bool
}

func (s fakeSolver) CheckSat(constraint, target *Expr) (uint64, bool, error) {
	return s.value, s.sat, nil
}

func TestAddressKeyAndRegisterKey(t *testing.T) {
	require.Equal(t, "4096", AddressKey(memory.Address(4096)))
	require.Equal(t, "r0", RegisterKey("R0"))
	require.Equal(t, "space0:8", TempKey("space0", 8))
}

func TestLoadMarksVariableToSolveAndTruncates(t *testing.T) {
	b := New()
	src := VarOperand(AddressKey(0x1000), 32)
	dst := VarOperand("r0", 8)

	require.False(t, b.HasToSolve())
	require.NoError(t, b.Load(src, 0x1000, dst, nil))
	require.True(t, b.HasToSolve())

	dstExpr, err := b.get(dst, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(8), dstExpr.Width())
}

func TestApplyIntAnd(t *testing.T) {
	b := New()
	b.SetDefaults(map[string]uint64{"a": 0xFF, "b": 0x0F})
	a := VarOperand("a", 8)
	bb := VarOperand("b", 8)
	result := VarOperand("c", 8)

	require.NoError(t, b.Apply(OpIntAnd, result, []Operand{a, bb}, 0, nil))
	c, err := b.get(result, nil)
	require.NoError(t, err)
	require.Equal(t, ExprBinOp, c.kind)
	require.Equal(t, BinAnd, c.binOp)
}

func TestApplySkipBranchCallReturnAreNoOps(t *testing.T) {
	b := New()
	for _, op := range []Op{OpSkip, OpBranch, OpCBranch, OpCall, OpReturn} {
		require.NoError(t, b.Apply(op, Operand{}, nil, 0, nil))
	}
	require.Empty(t, b.vars)
}

func TestSubpieceExtractsLowBits(t *testing.T) {
	b := New()
	b.SetDefaults(map[string]uint64{"v": 0x12345678})
	v := VarOperand("v", 32)
	result := VarOperand("low", 16)

	// amount=2 bytes thrown away from a 4-byte operand leaves 2 bytes (16
	// bits) to preserve, matching the 16-bit result exactly.
	require.NoError(t, b.Apply(OpSubpiece, result, []Operand{v}, 2, nil))
	r, err := b.get(result, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(16), r.Width())
	require.Equal(t, ExprExtract, r.kind)
}

func TestZeroAndSignExtendWidenResult(t *testing.T) {
	b := New()
	b.SetDefaults(map[string]uint64{"v": 0x80})
	v := VarOperand("v", 8)
	zResult := VarOperand("z", 32)
	sResult := VarOperand("s", 32)

	require.NoError(t, b.Apply(OpZeroExtend, zResult, []Operand{v}, 0, nil))
	z, err := b.get(zResult, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(32), z.Width())
	require.False(t, z.isSignExtend())

	require.NoError(t, b.Apply(OpSignExtend, sResult, []Operand{v}, 0, nil))
	s, err := b.get(sResult, nil)
	require.NoError(t, err)
	require.True(t, s.isSignExtend())
}

// Scenario 7 (solver round-trip): a single tracked load solved against an
// expected value returns that value for the load's source address.
func TestSolveRoundTrip(t *testing.T) {
	b := New()
	src := VarOperand(AddressKey(0x1000), 32)
	dst := VarOperand("r0", 32)
	require.NoError(t, b.Load(src, 0x1000, dst, nil))

	solver := fakeSolver{value: 7, sat: true}
	result, err := b.Solve(solver, dst, 0, nil)
	require.NoError(t, err)
	require.Equal(t, map[memory.Address]uint64{0x1000: 7}, result)
}

func TestSolveUnsatIsOmittedNotErrored(t *testing.T) {
	b := New()
	src := VarOperand(AddressKey(0x2000), 32)
	dst := VarOperand("r1", 32)
	require.NoError(t, b.Load(src, 0x2000, dst, nil))

	solver := fakeSolver{sat: false}
	result, err := b.Solve(solver, dst, 0, nil)
	require.NoError(t, err)
	require.Empty(t, result)
}

func TestUnknownVariableWithNoDefaultOrReaderErrors(t *testing.T) {
	b := New()
	_, err := b.get(VarOperand("ghost", 8), nil)
	require.Error(t, err)
}
