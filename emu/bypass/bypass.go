/*
   periph - Dummy (bypass) peripheral: detects firmware polling loops over
   unmodeled registers and drives the symbolic solver to synthesize a value
   that exits them.

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

// Package bypass implements the worked "dummy peripheral": a hook that
// watches loads from declared address ranges, recognizes a firmware
// polling loop over them, and backs-solves a register value that exits
// the loop via emu/symbolic.
package bypass

import (
	"sync"

	"github.com/rcornwell/periph/emu/errs"
	"github.com/rcornwell/periph/emu/memory"
	"github.com/rcornwell/periph/emu/symbolic"
)

// addrRange is a [min, max] inclusive guest address range the peripheral
// watches loads against.
type addrRange struct {
	min, max memory.Address
}

func (r addrRange) contains(addr memory.Address) bool {
	return addr >= r.min && addr <= r.max
}

// Result is a synthesized value for a watched address, cached across
// clones once solving_results_cache is enabled.
type Result struct {
	Value uint64
	Size  int
}

// lastLoad records the most recent in-range load, used to recognize a
// polling loop's back-edge per SPEC_FULL.md §4.H.
type lastLoad struct {
	pc           memory.Address
	sourceAddr   memory.Address
	size         int
	eventCounter uint64
}

// Peripheral is the bypass hook. It is cloneable: every field is
// deep-copied on Clone except the solving-result cache, which is shared
// under cacheMu across clones per SPEC_FULL.md §5.
type Peripheral struct {
	ranges []addrRange

	eventCounter uint64
	order        memory.Endian
	bus          memory.Bus

	cacheEnabled bool
	cacheMu      *sync.RWMutex
	cache        map[memory.Address]Result

	defaults map[string]uint64
	bridge   *symbolic.Bridge

	solvingStarted       bool
	forgiveJump          int
	forgiveFunCall       int
	forgiveBranchCondVal uint64
	last                 lastLoad
}

// New builds an empty bypass peripheral bound to bus with the given
// endianness, watching no ranges until AddRange is called.
func New(bus memory.Bus, order memory.Endian) *Peripheral {
	return &Peripheral{
		order:    order,
		bus:      bus,
		cacheMu:  &sync.RWMutex{},
		cache:    map[memory.Address]Result{},
		defaults: map[string]uint64{},
		bridge:   symbolic.New(),
	}
}

// AddRange declares [min, max] as watched for polling-loop detection.
func (p *Peripheral) AddRange(min, max memory.Address) {
	p.ranges = append(p.ranges, addrRange{min: min, max: max})
}

// EnableCache turns the solving-result cache on or off.
func (p *Peripheral) EnableCache(enable bool) {
	p.cacheEnabled = enable
}

// SetDefault seeds a default concrete value for a variable key the solver
// may need before any write is observed for it.
func (p *Peripheral) SetDefault(key string, value uint64) {
	p.defaults[key] = value
	p.bridge.SetDefaults(p.defaults)
}

func (p *Peripheral) inRange(addr memory.Address) bool {
	for _, r := range p.ranges {
		if r.contains(addr) {
			return true
		}
	}
	return false
}

// HookArchStep advances the event counter used to distinguish loads across
// steps; it never redirects the fetch stream.
func (p *Peripheral) HookArchStep() {
	p.eventCounter++
}

// cachedValue returns a cached result for addr, if caching is enabled and
// a result exists.
func (p *Peripheral) cachedValue(addr memory.Address) (Result, bool) {
	if !p.cacheEnabled {
		return Result{}, false
	}
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	r, ok := p.cache[addr]
	return r, ok
}

func (p *Peripheral) storeCache(addr memory.Address, r Result) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.cache[addr] = r
}

// HandleLoad implements the Load branch of SPEC_FULL.md §4.H. pc is the
// current program counter, source/destination describe the symbolic
// operands, sourceAddr is the concrete guest address being read.
func (p *Peripheral) HandleLoad(pc memory.Address, source, destination symbolic.Operand, sourceAddr memory.Address, reader symbolic.ConcreteReader) error {
	if !p.inRange(sourceAddr) {
		return nil
	}

	if cached, ok := p.cachedValue(sourceAddr); ok {
		return memory.WriteSized(p.bus, sourceAddr, cached.Value, cached.Size, p.order)
	}

	p.solvingStarted = true
	p.forgiveJump = 0
	p.bridge = symbolic.New()
	p.bridge.SetDefaults(p.defaults)
	p.last = lastLoad{pc: pc, sourceAddr: sourceAddr, size: int(destination.SizeBits / 8), eventCounter: p.eventCounter}

	return p.bridge.Load(source, sourceAddr, destination, reader)
}

// HandleStore implements the Store branch: firmware writing back to the
// address currently being polled abandons the solve.
func (p *Peripheral) HandleStore(destAddr memory.Address) {
	if p.solvingStarted && destAddr == p.last.sourceAddr {
		p.solvingStarted = false
	}
}

// HandleCBranch implements the CBranch branch. destAddr/isAddrOperand
// describe the branch target (a non-address constant target is treated as
// internal control flow the bypass ignores, per the original's handling of
// Operand::Constant targets). conditionValue is the concrete value the
// condition operand held at this point, used if the branch is forgiven.
func (p *Peripheral) HandleCBranch(destAddr memory.Address, isAddrOperand bool, condition symbolic.Operand, conditionValue uint64, solver symbolic.Solver, reader symbolic.ConcreteReader) error {
	if !p.solvingStarted {
		return nil
	}
	if !isAddrOperand {
		return nil
	}

	loop := false
	switch {
	case destAddr == p.last.pc:
		loop = true
		p.solvingStarted = false
	case destAddr < p.last.pc:
		loop = true
		p.solvingStarted = false
	default:
		p.forgiveJump++
		if p.forgiveJump > 1 {
			p.solvingStarted = false
		} else {
			p.forgiveBranchCondVal = conditionValue
		}
	}

	if !loop {
		return nil
	}

	var expected uint64
	if p.forgiveJump == 0 {
		expected = 0
	} else if p.forgiveBranchCondVal == 0 {
		expected = 1
	} else {
		expected = 0
	}

	results, err := p.bridge.Solve(solver, condition, expected, reader)
	if err != nil {
		return err
	}
	for addr, value := range results {
		if err := memory.WriteSized(p.bus, addr, value, p.last.size, p.order); err != nil {
			return errs.Wrap(errs.BackendPCode, err, "bypass: writing solved value at %#x", addr)
		}
		if p.cacheEnabled {
			p.storeCache(addr, Result{Value: value, Size: p.last.size})
		}
	}
	p.bridge.ClearToSolve()
	return nil
}

// HandleICall implements the ICall branch: it bumps forgive_fun_call, and
// any non-zero value abandons the solve, so a call while solving always
// ends it.
func (p *Peripheral) HandleICall() {
	p.forgiveFunCall++
	if p.forgiveFunCall != 0 {
		p.solvingStarted = false
	}
}

// HandleReturn implements the Return branch, the ICall counterpart.
func (p *Peripheral) HandleReturn() {
	p.forgiveFunCall--
	if p.forgiveFunCall != 0 {
		p.solvingStarted = false
	}
}

// Tracking reports whether the bypass is actively extending the
// expression tree for the current step, per the final gating condition in
// SPEC_FULL.md §4.H.
func (p *Peripheral) Tracking() bool {
	return p.solvingStarted && p.forgiveJump == 0 && p.forgiveFunCall >= 0
}

// Bridge exposes the underlying symbolic bridge so a caller can feed it
// non-Load/Store/CBranch/ICall/Return operations (IntAnd, Subpiece, …)
// while Tracking reports true.
func (p *Peripheral) Bridge() *symbolic.Bridge {
	return p.bridge
}

// Clone returns a copy that shares the solving-result cache with p under
// cacheMu and deep-copies everything else, per SPEC_FULL.md §5.
func (p *Peripheral) Clone() *Peripheral {
	clone := &Peripheral{
		ranges:       append([]addrRange(nil), p.ranges...),
		eventCounter: p.eventCounter,
		order:        p.order,
		bus:          p.bus,
		cacheEnabled: p.cacheEnabled,
		cacheMu:      p.cacheMu,
		cache:        p.cache,
		defaults:     make(map[string]uint64, len(p.defaults)),
		bridge:       symbolic.New(),

		solvingStarted:       p.solvingStarted,
		forgiveJump:          p.forgiveJump,
		forgiveFunCall:       p.forgiveFunCall,
		forgiveBranchCondVal: p.forgiveBranchCondVal,
		last:                 p.last,
	}
	for k, v := range p.defaults {
		clone.defaults[k] = v
	}
	clone.bridge.SetDefaults(clone.defaults)
	return clone
}
