/*
   periph - Interrupt wrapper: status machine for overridable handlers.

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

// Package irqwrap generalizes emu/cmt's fixed two-channel dispatch into an
// interrupt wrapper driven entirely by a host-supplied Override callback,
// with nesting tracked by depth instead of a single in-flight flag.
package irqwrap

import "github.com/rcornwell/periph/emu/memory"

// Status is the wrapper's 3-state tag: Disabled, Pending, or Fired at some
// nesting depth.
type Status struct {
	fired   bool
	pending bool
	depth   int
}

// Disabled reports whether the wrapper is off: it neither watches for
// returns nor invokes the override callback.
func (s Status) Disabled() bool {
	return !s.fired && !s.pending
}

// Pending reports whether the wrapper is armed but not currently servicing
// an interrupt.
func (s Status) Pending() bool {
	return s.pending && !s.fired
}

// Fired reports whether the wrapper is mid-service, and at what nesting
// depth (1 = not nested).
func (s Status) Fired() (depth int, ok bool) {
	if s.fired {
		return s.depth, true
	}
	return 0, false
}

// Depth returns the current fire depth, or 0 if not fired.
func (s Status) Depth() int {
	if s.fired {
		return s.depth
	}
	return 0
}

func (s Status) String() string {
	switch {
	case s.Disabled():
		return "Disabled"
	case s.fired:
		return "Fired"
	default:
		return "Pending"
	}
}

// Ordinal gives Disabled < Pending < Fired(n) < Fired(n+1) the monotonic
// order required by the status-monotonicity property.
func (s Status) Ordinal() int {
	switch {
	case s.Disabled():
		return 0
	case s.pending && !s.fired:
		return 1
	default:
		return 1 + s.depth
	}
}

func pendingStatus() Status { return Status{pending: true} }

// fire transitions Pending->Fired(1), Fired(n)->Fired(n+1); Disabled is a
// fixed point.
func (s Status) fire() Status {
	switch {
	case s.Disabled():
		return s
	case s.fired:
		return Status{pending: true, fired: true, depth: s.depth + 1}
	default:
		return Status{pending: true, fired: true, depth: 1}
	}
}

// unfire transitions Fired(1)->Pending, Fired(n)->Fired(n-1); others
// unchanged.
func (s Status) unfire() Status {
	if !s.fired {
		return s
	}
	if s.depth <= 1 {
		return Status{pending: true}
	}
	return Status{pending: true, fired: true, depth: s.depth - 1}
}

// enable transitions Disabled->Pending, or Disabled->Fired(n) if n returns
// are already outstanding (the wrapper is being re-enabled mid-nest).
func (s Status) enable(outstandingReturns int) Status {
	if !s.Disabled() {
		return s
	}
	if outstandingReturns == 0 {
		return Status{pending: true}
	}
	return Status{pending: true, fired: true, depth: outstandingReturns}
}

// Override resolves, for the current fire depth, whether an interrupt
// should be serviced right now, and if so the handler's entry address.
type Override func(depth int, pc memory.Address) (handler memory.Address, ok bool)

// Wrapper is the interrupt wrapper: a status machine plus the two address
// stacks described in SPEC_FULL.md §4.F. AllowNesting gates whether fire
// may be invoked while already Fired.
type Wrapper struct {
	AllowNesting bool

	status        Status
	handlerStack  []memory.Address
	returnsStack  []memory.Address
	callback      Override
}

// New builds a disabled wrapper around callback.
func New(callback Override, allowNesting bool) *Wrapper {
	return &Wrapper{AllowNesting: allowNesting, callback: callback}
}

// Status returns the wrapper's current status.
func (w *Wrapper) Status() Status { return w.status }

// Enable arms a disabled wrapper: Pending when returnsStack is empty, or
// Fired at depth len(returnsStack) otherwise. Disable empties returnsStack,
// so a wrapper re-enabled after Disable always starts at Pending. Enable on
// a wrapper that is not disabled changes nothing.
func (w *Wrapper) Enable() {
	w.status = w.status.enable(len(w.returnsStack))
}

// Disable is a direct reset to the Disabled fixed point, dropping any
// in-flight nesting. Callers that want stack discipline preserved should
// prefer letting HookArchStep drain the stacks via ISR returns instead.
func (w *Wrapper) Disable() {
	w.status = Status{}
	w.handlerStack = nil
	w.returnsStack = nil
}

// HookArchStep implements the three-step algorithm in SPEC_FULL.md §4.F.
// changed reports whether this step altered the wrapper's state (a return
// was serviced, the handler entry at the top of the handler stack was
// reached, or a new interrupt was dispatched); pc is the current program
// counter.
func (w *Wrapper) HookArchStep(pc memory.Address) (target memory.Address, branch bool, changed bool) {
	if depth, fired := w.status.Fired(); fired {
		_ = depth
		if n := len(w.returnsStack); n > 0 && w.returnsStack[n-1] == pc {
			w.returnsStack = w.returnsStack[:n-1]
			w.status = w.status.unfire()
			return 0, false, true
		}
		if n := len(w.handlerStack); n > 0 && w.handlerStack[n-1] == pc {
			w.handlerStack = w.handlerStack[:n-1]
			return 0, false, true
		}
	}

	if w.status.Disabled() {
		return 0, false, false
	}
	if _, fired := w.status.Fired(); fired && !w.AllowNesting {
		return 0, false, false
	}

	handler, ok := w.callback(w.status.Depth(), pc)
	if !ok {
		return 0, false, false
	}

	w.handlerStack = append(w.handlerStack, handler)
	w.returnsStack = append(w.returnsStack, pc)
	w.status = w.status.fire()
	return handler, true, true
}

// Clone returns an independent copy of w: the status and both address
// stacks are deep-copied, and the callback closure is shared (it is
// immutable host-supplied behavior, not per-instance state).
func (w *Wrapper) Clone() *Wrapper {
	return &Wrapper{
		AllowNesting: w.AllowNesting,
		status:       w.status,
		handlerStack: append([]memory.Address(nil), w.handlerStack...),
		returnsStack: append([]memory.Address(nil), w.returnsStack...),
		callback:     w.callback,
	}
}

// ReturnsStack returns a copy of the outstanding return addresses, oldest
// first, for inspection by tests.
func (w *Wrapper) ReturnsStack() []memory.Address {
	out := make([]memory.Address, len(w.returnsStack))
	copy(out, w.returnsStack)
	return out
}
