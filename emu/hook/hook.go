/*
   periph - Hook bundle contract shared by every peripheral model.

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

// Package hook defines the outcome every peripheral hook returns to the
// embedding emulator on an architectural step, a per-operation step, or a
// memory access. The emulator calls hooks on its single stepping thread;
// hooks never block and never spawn goroutines of their own.
package hook

import "github.com/rcornwell/periph/emu/memory"

// Outcome tags what the emulator should do after a hook runs.
type Outcome struct {
	kind   outcomeKind
	target memory.Address
	delay  int
}

type outcomeKind int

const (
	kindPass outcomeKind = iota
	kindBranch
)

// Pass continues execution unchanged.
func Pass() Outcome {
	return Outcome{kind: kindPass}
}

// Branch redirects the next fetch to target after delaySlots further
// instructions, matching the architecture's delay-slot semantics.
func Branch(delaySlots int, target memory.Address) Outcome {
	return Outcome{kind: kindBranch, target: target, delay: delaySlots}
}

// IsBranch reports whether the outcome redirects the fetch stream.
func (o Outcome) IsBranch() bool {
	return o.kind == kindBranch
}

// Target returns the branch target; valid only when IsBranch is true.
func (o Outcome) Target() memory.Address {
	return o.target
}

// Delay returns the delay-slot count; valid only when IsBranch is true.
func (o Outcome) Delay() int {
	return o.delay
}

// ArchStepper is implemented by peripherals that need to observe every
// architectural (instruction) step — timers ticking, interrupt wrappers
// checking return addresses.
type ArchStepper interface {
	HookArchStep(bus memory.Bus, pc memory.Address) (Outcome, error)
}

// OpStepper is implemented by peripherals that need to observe every
// low-level (p-code) operation within a step — the symbolic bypass.
type OpStepper interface {
	HookOpStep(bus memory.Bus, pc memory.Address, op any) (Outcome, error)
}
