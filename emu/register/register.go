/*
   periph - Memory-mapped register dispatch table.

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

// Package register maps a byte address plus a bitmask to a named semantic
// operation on a backend model. It is the bit-field dispatcher every
// register-oriented peripheral in this library is built on top of.
package register

import (
	"math/bits"

	"github.com/rcornwell/periph/emu/errs"
	"github.com/rcornwell/periph/emu/memory"
)

// FunctionTag names a semantic register operation. A fixed, closed set —
// new peripherals add new tags here rather than growing private enums.
type FunctionTag int

const (
	_ FunctionTag = iota
	IsEnabled
	SetEnable
	IsInterruptEnabled
	SetInterruptEnabled
	IsMatched
	ClearMatchedFlag
	GetCurrentTick
	SetCurrentTick
	GetCompareAgainst
	SetCompareAgainst
	GetFlagOverflow
	GetFlagUnderflow
	GetFlagOverUnderflow
	SetFlagOverUnderflow
	GetCountForwardFlag
	SetCountForward
	GetMatchToggle
	SetMatchToggle
)

// Backend is implemented by a peripheral model and invoked by the table for
// each FunctionTag bound at an address. Getters return the bits to place at
// the tag's bitmask; setters receive the mask-aligned bits observed on a
// write. Boolean-shaped tags ignore the value argument on the getter side
// and treat any nonzero argument as true on the setter side.
type Backend interface {
	Get(tag FunctionTag) (uint32, error)
	Set(tag FunctionTag, value uint32) error
}

// binding pairs a bitmask with the tag it dispatches to.
type binding struct {
	mask uint32
	tag  FunctionTag
}

// Table holds the read and write dispatch maps for one address space. A
// single Table may serve several Backend instances if callers route
// accordingly (cmt uses one Table across both of its channels).
type Table struct {
	reads  map[memory.Address][]binding
	writes map[memory.Address][]binding
}

// NewTable builds an empty dispatch table.
func NewTable() *Table {
	return &Table{
		reads:  make(map[memory.Address][]binding),
		writes: make(map[memory.Address][]binding),
	}
}

// MapRead binds mask at addr to tag on the read side, overwriting any
// existing binding for the same mask.
func (t *Table) MapRead(addr memory.Address, mask uint32, tag FunctionTag) {
	t.reads[addr] = replaceBinding(t.reads[addr], mask, tag)
}

// MapWrite binds mask at addr to tag on the write side.
func (t *Table) MapWrite(addr memory.Address, mask uint32, tag FunctionTag) {
	t.writes[addr] = replaceBinding(t.writes[addr], mask, tag)
}

func replaceBinding(bindings []binding, mask uint32, tag FunctionTag) []binding {
	for i, b := range bindings {
		if b.mask == mask {
			bindings[i].tag = tag
			return bindings
		}
	}
	return append(bindings, binding{mask: mask, tag: tag})
}

// maskStartBit returns the position of the least significant set bit of
// mask. Value fields use contiguous masks only.
func maskStartBit(mask uint32) int {
	if mask == 0 {
		return 0
	}
	return bits.TrailingZeros32(mask)
}

// HandleRead reads the word currently at addr, replaces every masked
// bit-field with the value the backend reports for its bound tag, writes
// the updated word back, and returns it.
func (t *Table) HandleRead(backend Backend, bus memory.Bus, addr memory.Address, order memory.Endian) (uint32, error) {
	bindings, ok := t.reads[addr]
	if !ok {
		return 0, errs.New(errs.InvalidRegister, "no read binding at %#x", addr)
	}

	word, err := memory.ReadUint32(bus, addr, order)
	if err != nil {
		return 0, errs.Wrap(errs.BackendPCode, err, "reading register word at %#x", addr)
	}

	for _, b := range bindings {
		v, err := backend.Get(b.tag)
		if err != nil {
			return 0, err
		}
		word &^= b.mask
		if isBoolTag(b.tag) {
			if v != 0 {
				word |= b.mask
			}
		} else {
			word |= (v << maskStartBit(b.mask)) & b.mask
		}
	}

	if err := memory.WriteUint32(bus, addr, word, order); err != nil {
		return 0, errs.Wrap(errs.BackendPCode, err, "writing register word at %#x", addr)
	}
	return word, nil
}

// HandleWrite dispatches write_val against every binding registered at
// addr. A bit set anywhere in a binding's mask invokes the setter with
// true (booleans) or the masked field value (value fields); otherwise the
// clearing variant fires. ClearMatchedFlag is the exception: it fires only
// when its bit is written as 1, and a 0 leaves the flag alone —
// write-one-to-clear semantics.
func (t *Table) HandleWrite(backend Backend, addr memory.Address, writeVal uint32) error {
	bindings, ok := t.writes[addr]
	if !ok {
		return errs.New(errs.InvalidRegister, "no write binding at %#x", addr)
	}

	for _, b := range bindings {
		set := writeVal&b.mask != 0
		if isBoolTag(b.tag) {
			if b.tag == ClearMatchedFlag {
				if set {
					if err := backend.Set(b.tag, 1); err != nil {
						return err
					}
				}
				continue
			}
			var v uint32
			if set {
				v = 1
			}
			if err := backend.Set(b.tag, v); err != nil {
				return err
			}
			continue
		}
		field := (writeVal & b.mask) >> maskStartBit(b.mask)
		if err := backend.Set(b.tag, field); err != nil {
			return err
		}
	}
	return nil
}

// isBoolTag reports whether tag is a single-bit flag rather than a
// multi-bit value field.
func isBoolTag(tag FunctionTag) bool {
	switch tag {
	case IsEnabled, SetEnable, IsInterruptEnabled, SetInterruptEnabled,
		IsMatched, ClearMatchedFlag, GetFlagOverflow, GetFlagUnderflow,
		GetFlagOverUnderflow, SetFlagOverUnderflow, GetCountForwardFlag,
		SetCountForward, GetMatchToggle, SetMatchToggle:
		return true
	default:
		return false
	}
}
