/*
   periph - Interrupt object and ISR handler resolution.

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

// Package interrupt holds the Interrupt object a peripheral raises on a
// match, and the InterruptHandler variants that resolve where the ISA
// should branch to service it.
package interrupt

import "github.com/rcornwell/periph/emu/memory"

// Interrupt tracks one source's enable/trigger state. Enabled is driven by
// firmware writing the owning peripheral's control register; Triggered is
// raised by the peripheral on a match and cleared when the CPU executes
// the ISA's return-from-exception instruction.
type Interrupt struct {
	Name         string
	Enabled      bool
	Triggered    bool
	TriggerCount uint64
	Priority     int32
}

// New creates a named, disabled, untriggered interrupt source.
func New(name string, priority int32) *Interrupt {
	return &Interrupt{Name: name, Priority: priority}
}

// Trigger raises Triggered and bumps TriggerCount. Idempotent: triggering
// an already-triggered interrupt does not bump the count again, matching a
// level-sensitive source that stays asserted until serviced.
func (i *Interrupt) Trigger() {
	if !i.Triggered {
		i.Triggered = true
		i.TriggerCount++
	}
}

// Clear lowers Triggered; called once the ISA's return-from-exception
// instruction executes.
func (i *Interrupt) Clear() {
	i.Triggered = false
}

// Handler resolves the ISR entry address for an interrupt source.
type Handler interface {
	// GetRoutineAddress returns the ISR entry address. ok is false for an
	// Override handler that declined to route this step — routing must be
	// requested explicitly in that case.
	GetRoutineAddress(bus memory.Bus, order memory.Endian) (addr memory.Address, ok bool, err error)
}

// Routine is a Handler that always resolves to a fixed ISR entry address.
type Routine struct {
	Addr memory.Address
}

func (r Routine) GetRoutineAddress(memory.Bus, memory.Endian) (memory.Address, bool, error) {
	return r.Addr, true, nil
}

// Vector is a Handler whose ISR entry is the 32-bit word stored at Addr in
// the peripheral's endianness — a pointer-table vector.
type Vector struct {
	Addr memory.Address
}

func (v Vector) GetRoutineAddress(bus memory.Bus, order memory.Endian) (memory.Address, bool, error) {
	word, err := memory.ReadUint32(bus, v.Addr, order)
	if err != nil {
		return 0, false, err
	}
	return memory.Address(word), true, nil
}

// Override delegates ISR resolution to a host-side callback, which may
// decline to route by returning ok=false. It carries no back-reference to
// the interrupt or peripheral — only what the callback needs is passed in
// by the caller that invokes it.
type Override struct {
	Callback func(bus memory.Bus) (addr memory.Address, ok bool, err error)
}

func (o Override) GetRoutineAddress(bus memory.Bus, _ memory.Endian) (memory.Address, bool, error) {
	addr, ok, err := o.Callback(bus)
	return addr, ok, err
}
