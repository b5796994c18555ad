/*
   periph - Symbolic solver bridge: builds expression trees over p-code-like
   low-level operations and hands them to an externally supplied solver.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

// Package symbolic builds a symbolic expression tree over a trace of
// low-level (p-code-like) operations and bridges it to a Solver supplied
// by the embedder. The solver itself (an SMT engine) is never part of this
// package — it is an external collaborator per SPEC_FULL.md §1.
package symbolic

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rcornwell/periph/emu/errs"
	"github.com/rcornwell/periph/emu/memory"
	"github.com/rcornwell/periph/util/logger"
)

var log = slog.New(logger.NewHandler(os.Stderr, nil, new(bool)))

// Op tags the low-level operation kind, mirroring the PCodeOp variants the
// bridge must translate into expressions.
type Op int

const (
	OpLoad Op = iota
	OpCopy
	OpStore
	OpIntAnd
	OpIntOr
	OpIntXor
	OpIntNot
	OpShl
	OpShr
	OpSignedShr
	OpZeroExtend
	OpSignExtend
	OpSubpiece
	OpEq
	OpNotEq
	OpSignedLess
	OpLess
	OpAdd
	OpSub
	OpNeg
	OpCarry
	OpSignedCarry
	OpBoolOr
	OpSkip
	OpBranch
	OpCBranch
	OpCall
	OpReturn
)

// Operand is one operand of a low-level operation: either a sized constant
// or a reference to a named variable (address, register, or p-code
// temporary).
type Operand struct {
	Constant bool
	Value    uint64
	SizeBits uint32
	Key      string // unused when Constant
}

// ConstOperand builds a constant operand of the given bit width.
func ConstOperand(value uint64, sizeBits uint32) Operand {
	return Operand{Constant: true, Value: value, SizeBits: sizeBits}
}

// AddressKey forms the variable key for a guest memory operand, per
// SPEC_FULL.md §4.G: the decimal address value, unkeyed by space.
func AddressKey(addr memory.Address) string {
	return fmt.Sprintf("%d", uint64(addr))
}

// RegisterKey forms the variable key for a CPU register operand: its
// lower-cased name.
func RegisterKey(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// TempKey forms the variable key for a p-code temporary: "space:offset".
func TempKey(space string, offset uint64) string {
	return fmt.Sprintf("%s:%d", space, offset)
}

// VarOperand references a named variable of the given bit width.
func VarOperand(key string, sizeBits uint32) Operand {
	return Operand{Key: key, SizeBits: sizeBits}
}

// ExprKind tags the shape of an Expr node.
type ExprKind int

const (
	ExprConst ExprKind = iota
	ExprVar
	ExprBinOp
	ExprUnOp
	ExprExtract
	ExprExtend
)

// BinOpKind distinguishes two-operand expression nodes.
type BinOpKind int

const (
	BinAnd BinOpKind = iota
	BinOr
	BinXor
	BinShl
	BinShr
	BinSignedShr
	BinEq
	BinNotEq
	BinSignedLess
	BinLess
	BinAdd
	BinSub
	BinCarry
	BinSignedCarry
	BinBoolOr
)

// UnOpKind distinguishes single-operand expression nodes.
type UnOpKind int

const (
	UnNot UnOpKind = iota
	UnNeg
)

// Expr is an immutable symbolic expression node. Every node carries its own
// bit width so extension and subpiece math never need to re-derive operand
// sizes from context.
type Expr struct {
	kind ExprKind

	// ExprConst
	constVal uint64

	// ExprVar
	varKey string

	// ExprBinOp / ExprUnOp
	binOp BinOpKind
	unOp  UnOpKind
	lhs   *Expr
	rhs   *Expr

	// ExprExtract: [offsetBits, offsetBits+widthBits) of lhs, counted from
	// the low end.
	offsetBits uint32

	width uint32
}

// Width returns the expression's bit width.
func (e *Expr) Width() uint32 { return e.width }

func constExpr(v uint64, width uint32) *Expr {
	return &Expr{kind: ExprConst, constVal: v, width: width}
}

func varExpr(key string, width uint32) *Expr {
	return &Expr{kind: ExprVar, varKey: key, width: width}
}

func binExpr(op BinOpKind, lhs, rhs *Expr) *Expr {
	return &Expr{kind: ExprBinOp, binOp: op, lhs: lhs, rhs: rhs, width: lhs.width}
}

func unExpr(op UnOpKind, operand *Expr) *Expr {
	return &Expr{kind: ExprUnOp, unOp: op, lhs: operand, width: operand.width}
}

// extractLow extracts the low widthBits of e, the Load/Subpiece-style
// truncation described in SPEC_FULL.md §4.G.
func extractLow(e *Expr, widthBits uint32) *Expr {
	if widthBits > e.width {
		widthBits = e.width
	}
	return &Expr{kind: ExprExtract, lhs: e, offsetBits: 0, width: widthBits}
}

func zeroExtend(e *Expr, toBits uint32) *Expr {
	return &Expr{kind: ExprExtend, lhs: e, width: toBits}
}

func signExtend(e *Expr, toBits uint32) *Expr {
	return &Expr{kind: ExprExtend, lhs: e, width: toBits, offsetBits: 1} // offsetBits==1 marks sign-extend
}

func (e *Expr) isSignExtend() bool { return e.kind == ExprExtend && e.offsetBits == 1 }

// variable is one tracked key's write history; the last element is its
// current value, per SPEC_FULL.md §3's "a write bumps version and appends".
type variable struct {
	key     string
	history []*Expr
}

func (v *variable) current() *Expr { return v.history[len(v.history)-1] }

// Solver is supplied by the embedder and performs the actual constraint
// solving. It is never implemented by this package.
type Solver interface {
	// CheckSat adds constraint to a fresh solver context and reports a
	// satisfying concrete value for target, if one exists.
	CheckSat(constraint *Expr, target *Expr) (value uint64, sat bool, err error)
}

// ConcreteReader reads the current concrete value of a register or guest
// memory operand when no symbolic history exists for it yet, per
// SPEC_FULL.md §4.G's "seed from the current concrete register value".
type ConcreteReader interface {
	ReadRegister(name string, sizeBits uint32) (uint64, error)
}

// Bridge maintains the variable table and the set of variables currently
// marked for solving.
type Bridge struct {
	defaults map[string]uint64
	vars     map[string]*variable
	toSolve  map[string]solveTarget
}

type solveTarget struct {
	expr *Expr
	addr memory.Address
}

// New builds an empty bridge.
func New() *Bridge {
	return &Bridge{
		defaults: map[string]uint64{},
		vars:     map[string]*variable{},
		toSolve:  map[string]solveTarget{},
	}
}

// SetDefaults installs the seed values used when a variable is read before
// ever being written and has no concrete backing (e.g. an unmodeled
// register).
func (b *Bridge) SetDefaults(defaults map[string]uint64) {
	b.defaults = make(map[string]uint64, len(defaults))
	for k, v := range defaults {
		b.defaults[k] = v
	}
}

// get resolves a non-constant operand to its current expression, seeding
// it from defaults or the concrete reader on first use.
func (b *Bridge) get(operand Operand, reader ConcreteReader) (*Expr, error) {
	if v, ok := b.vars[operand.Key]; ok {
		return v.current(), nil
	}
	if dv, ok := b.defaults[operand.Key]; ok {
		e := constExpr(dv, operand.SizeBits)
		b.insert(operand, e)
		return e, nil
	}
	if reader != nil {
		val, err := reader.ReadRegister(operand.Key, operand.SizeBits)
		if err == nil {
			e := constExpr(val, operand.SizeBits)
			b.insert(operand, e)
			return e, nil
		}
	}
	return nil, errs.New(errs.Unsupported, "symbolic: variable %q has no history, default, or concrete backing", operand.Key)
}

// read builds the expression for reading operand: a sized constant if
// operand.Constant, else the variable's current value.
func (b *Bridge) read(operand Operand, reader ConcreteReader) (*Expr, error) {
	if operand.Constant {
		return constExpr(operand.Value, operand.SizeBits), nil
	}
	return b.get(operand, reader)
}

// insert records expr as the new current value of operand's variable,
// bumping its version (appending to history).
func (b *Bridge) insert(operand Operand, expr *Expr) {
	v, ok := b.vars[operand.Key]
	if !ok {
		v = &variable{key: operand.Key}
		b.vars[operand.Key] = v
	}
	v.history = append(v.history, expr)
}

// Load translates a Load operation: source is marked as a variable to
// solve (its concrete guest address is sourceAddr), and destination
// receives the low destSizeBits of source's expression. A source with no
// history, default or concrete backing is seeded as a free variable.
func (b *Bridge) Load(source Operand, sourceAddr memory.Address, destination Operand, reader ConcreteReader) error {
	srcExpr, err := b.get(source, reader)
	if err != nil {
		srcExpr = varExpr(source.Key, source.SizeBits)
		b.insert(source, srcExpr)
	}
	b.toSolve[source.Key] = solveTarget{expr: srcExpr, addr: sourceAddr}
	b.insert(destination, extractLow(srcExpr, destination.SizeBits))
	return nil
}

// Apply translates every other supported operation listed in
// SPEC_FULL.md §4.G. Skip, Branch, Call, Return produce no tree effect.
func (b *Bridge) Apply(op Op, result Operand, operands []Operand, amountBytes uint64, reader ConcreteReader) error {
	switch op {
	case OpSkip, OpBranch, OpCBranch, OpCall, OpReturn:
		return nil
	case OpCopy, OpStore:
		src, err := b.read(operands[0], reader)
		if err != nil {
			return err
		}
		b.insert(result, src)
		return nil
	case OpIntNot:
		v, err := b.read(operands[0], reader)
		if err != nil {
			return err
		}
		b.insert(result, unExpr(UnNot, v))
		return nil
	case OpNeg:
		v, err := b.read(operands[0], reader)
		if err != nil {
			return err
		}
		b.insert(result, unExpr(UnNeg, v))
		return nil
	case OpZeroExtend:
		v, err := b.read(operands[0], reader)
		if err != nil {
			return err
		}
		b.insert(result, zeroExtend(v, result.SizeBits))
		return nil
	case OpSignExtend:
		v, err := b.read(operands[0], reader)
		if err != nil {
			return err
		}
		b.insert(result, signExtend(v, result.SizeBits))
		return nil
	case OpSubpiece:
		v, err := b.read(operands[0], reader)
		if err != nil {
			return err
		}
		bitsPreserve := (uint64(operands[0].SizeBits)/8 - amountBytes) * 8
		bitsResult := uint64(result.SizeBits)
		bitsSmaller := bitsPreserve
		if bitsResult < bitsSmaller {
			bitsSmaller = bitsResult
		}
		b.insert(result, extractLow(v, uint32(bitsSmaller)))
		return nil
	}

	if len(operands) != 2 {
		return errs.New(errs.Unsupported, "symbolic: operation %d requires two operands", op)
	}
	lhs, err := b.read(operands[0], reader)
	if err != nil {
		return err
	}
	rhs, err := b.read(operands[1], reader)
	if err != nil {
		return err
	}

	var bk BinOpKind
	switch op {
	case OpIntAnd:
		bk = BinAnd
	case OpIntOr:
		bk = BinOr
	case OpIntXor:
		bk = BinXor
	case OpShl:
		bk = BinShl
	case OpShr:
		bk = BinShr
	case OpSignedShr:
		bk = BinSignedShr
	case OpEq:
		bk = BinEq
	case OpNotEq:
		bk = BinNotEq
	case OpSignedLess:
		bk = BinSignedLess
	case OpLess:
		bk = BinLess
	case OpAdd:
		bk = BinAdd
	case OpSub:
		bk = BinSub
	case OpCarry:
		bk = BinCarry
	case OpSignedCarry:
		bk = BinSignedCarry
	case OpBoolOr:
		bk = BinBoolOr
	default:
		return errs.New(errs.Unsupported, "symbolic: unsupported operation tag %d", op)
	}
	b.insert(result, binExpr(bk, lhs, rhs))
	return nil
}

// Solve builds the expression for operand, constrains it to equal
// expectedValue, and asks solver for a satisfying assignment of every
// variable currently marked to-solve. Returns addr -> value for every
// variable the solver could satisfy; a variable the solver found
// unsatisfiable for is simply absent from the result (SPEC_FULL.md §7:
// SolverUnsat degrades to "left untouched", not an error).
func (b *Bridge) Solve(solver Solver, operand Operand, expectedValue uint64, reader ConcreteReader) (map[memory.Address]uint64, error) {
	opExpr, err := b.read(operand, reader)
	if err != nil {
		return nil, err
	}
	expectedExpr := constExpr(expectedValue, opExpr.width)
	constraint := binExpr(BinEq, opExpr, expectedExpr)

	result := make(map[memory.Address]uint64, len(b.toSolve))
	for _, target := range b.toSolve {
		value, sat, err := solver.CheckSat(constraint, target.expr)
		if err != nil {
			return nil, errs.Wrap(errs.Unsupported, err, "symbolic: solver failed for address %#x", target.addr)
		}
		if sat {
			result[target.addr] = value
		} else {
			log.Warn("symbolic: solve unsatisfiable, leaving address unresolved", "address", target.addr)
		}
	}
	return result, nil
}

// ClearToSolve drops every variable currently marked for solving, called
// once a solve has completed or the hypothesis that produced them is
// abandoned.
func (b *Bridge) ClearToSolve() {
	b.toSolve = map[string]solveTarget{}
}

// HasToSolve reports whether any variable is currently marked for solving.
func (b *Bridge) HasToSolve() bool {
	return len(b.toSolve) > 0
}
