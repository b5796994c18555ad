/*
   periph - Polling-peripheral protocol: route MMIO reads/writes to a handler.

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

// Package polling routes MMIO and CPU-register accesses that fall inside a
// declared range to a Handler, in either of two flavors: memory polling
// (a guest address range) or register polling (a set of named CPU
// registers).
package polling

import (
	"github.com/rcornwell/periph/emu/errs"
	"github.com/rcornwell/periph/emu/memory"
)

// Handler is implemented by whatever backs a polled range — a peripheral
// model, or the symbolic bypass.
type Handler interface {
	// Init runs once, at build time.
	Init(bus memory.Bus) error
	// HandleInput runs before the emulator completes a read; it may
	// mutate guest memory to fabricate the value the read will observe.
	HandleInput(bus memory.Bus, addr memory.Address, size int) error
	// HandleOutput runs on a write, for side effects only.
	HandleOutput(bus memory.Bus, addr memory.Address, data []byte, size int) error
}

// MemoryRange is a [Min, Max] (inclusive) range of guest addresses
// delegated to a Handler. ReadOnly ranges reject writes instead of
// delegating them — firmware poking a read-only status register is a
// configuration bug worth surfacing.
type MemoryRange struct {
	Min, Max memory.Address
	Handler  Handler
	ReadOnly bool
}

// Contains reports whether addr falls inside the range.
func (r MemoryRange) Contains(addr memory.Address) bool {
	return addr >= r.Min && addr <= r.Max
}

// HookMemoryRead delegates to r.Handler if addr falls inside the range.
// ok is false when addr is outside the range and the caller should ignore
// this range entirely.
func (r MemoryRange) HookMemoryRead(bus memory.Bus, addr memory.Address, size int) (ok bool, err error) {
	if !r.Contains(addr) {
		return false, nil
	}
	if err := r.Handler.HandleInput(bus, addr, size); err != nil {
		return true, errs.Wrap(errs.HandleInput, err, "polling range [%#x,%#x] read at %#x", r.Min, r.Max, addr)
	}
	return true, nil
}

// HookMemoryWrite delegates to r.Handler if addr falls inside the range.
func (r MemoryRange) HookMemoryWrite(bus memory.Bus, addr memory.Address, data []byte, size int) (ok bool, err error) {
	if !r.Contains(addr) {
		return false, nil
	}
	if r.ReadOnly {
		return true, errs.New(errs.InvalidRegister, "write to read-only polling range [%#x,%#x] at %#x", r.Min, r.Max, addr)
	}
	if err := r.Handler.HandleOutput(bus, addr, data, size); err != nil {
		return true, errs.Wrap(errs.HandleOutput, err, "polling range [%#x,%#x] write at %#x", r.Min, r.Max, addr)
	}
	return true, nil
}

// RegisterSet is a set of named CPU registers delegated to a Handler, the
// register-polling counterpart of MemoryRange. Names are opaque to this
// package — the embedder defines what they mean.
type RegisterSet struct {
	Names   map[string]struct{}
	Handler Handler
}

// NewRegisterSet builds a RegisterSet over the given register names.
func NewRegisterSet(handler Handler, names ...string) RegisterSet {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return RegisterSet{Names: set, Handler: handler}
}

// Contains reports whether name is in the polled set.
func (r RegisterSet) Contains(name string) bool {
	_, ok := r.Names[name]
	return ok
}

// HookRegisterRead delegates to r.Handler if name is in the polled set.
// Register polling has no guest address, so addr is always 0 in the
// HandleInput/HandleOutput call — size alone distinguishes register width.
func (r RegisterSet) HookRegisterRead(bus memory.Bus, name string, size int) (ok bool, err error) {
	if !r.Contains(name) {
		return false, nil
	}
	if err := r.Handler.HandleInput(bus, 0, size); err != nil {
		return true, errs.Wrap(errs.HandleInput, err, "polling register %s read", name)
	}
	return true, nil
}

// HookRegisterWrite delegates to r.Handler if name is in the polled set.
func (r RegisterSet) HookRegisterWrite(bus memory.Bus, name string, data []byte, size int) (ok bool, err error) {
	if !r.Contains(name) {
		return false, nil
	}
	if err := r.Handler.HandleOutput(bus, 0, data, size); err != nil {
		return true, errs.Wrap(errs.HandleOutput, err, "polling register %s write", name)
	}
	return true, nil
}
