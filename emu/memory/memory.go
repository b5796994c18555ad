/*
   periph - Guest memory access and endianness helpers.

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

// Package memory abstracts the guest address space the emulator owns.
// Peripherals never hold physical memory themselves; they read and write
// through a Bus handed to them at construction, in a fixed endianness.
package memory

// Address is a byte address in guest memory, comparable and ordered.
type Address uint64

// Endian selects the byte order a peripheral uses for multi-byte accesses.
type Endian bool

const (
	LittleEndian Endian = false
	BigEndian    Endian = true
)

// Bus is the guest memory surface peripherals are handed. The embedding
// emulator implements it; this library never allocates physical memory.
type Bus interface {
	ReadByte(addr Address) (uint8, error)
	WriteByte(addr Address, val uint8) error
}

// ReadUint16 reads a 2-byte value at addr in the given byte order.
func ReadUint16(bus Bus, addr Address, order Endian) (uint16, error) {
	b0, err := bus.ReadByte(addr)
	if err != nil {
		return 0, err
	}
	b1, err := bus.ReadByte(addr + 1)
	if err != nil {
		return 0, err
	}
	if order == BigEndian {
		return uint16(b0)<<8 | uint16(b1), nil
	}
	return uint16(b1)<<8 | uint16(b0), nil
}

// WriteUint16 writes a 2-byte value at addr in the given byte order.
func WriteUint16(bus Bus, addr Address, val uint16, order Endian) error {
	hi, lo := uint8(val>>8), uint8(val)
	if order == BigEndian {
		if err := bus.WriteByte(addr, hi); err != nil {
			return err
		}
		return bus.WriteByte(addr+1, lo)
	}
	if err := bus.WriteByte(addr, lo); err != nil {
		return err
	}
	return bus.WriteByte(addr+1, hi)
}

// ReadUint32 reads a 4-byte value at addr in the given byte order.
func ReadUint32(bus Bus, addr Address, order Endian) (uint32, error) {
	hi, err := ReadUint16(bus, addr, order)
	if err != nil {
		return 0, err
	}
	lo, err := ReadUint16(bus, addr+2, order)
	if err != nil {
		return 0, err
	}
	if order == BigEndian {
		return uint32(hi)<<16 | uint32(lo), nil
	}
	return uint32(lo)<<16 | uint32(hi), nil
}

// WriteUint32 writes a 4-byte value at addr in the given byte order.
func WriteUint32(bus Bus, addr Address, val uint32, order Endian) error {
	hi, lo := uint16(val>>16), uint16(val)
	if order == BigEndian {
		if err := WriteUint16(bus, addr, hi, order); err != nil {
			return err
		}
		return WriteUint16(bus, addr+2, lo, order)
	}
	if err := WriteUint16(bus, addr, lo, order); err != nil {
		return err
	}
	return WriteUint16(bus, addr+2, hi, order)
}

// ReadUint64 reads an 8-byte value at addr in the given byte order.
func ReadUint64(bus Bus, addr Address, order Endian) (uint64, error) {
	hi, err := ReadUint32(bus, addr, order)
	if err != nil {
		return 0, err
	}
	lo, err := ReadUint32(bus, addr+4, order)
	if err != nil {
		return 0, err
	}
	if order == BigEndian {
		return uint64(hi)<<32 | uint64(lo), nil
	}
	return uint64(lo)<<32 | uint64(hi), nil
}

// WriteUint64 writes an 8-byte value at addr in the given byte order.
func WriteUint64(bus Bus, addr Address, val uint64, order Endian) error {
	hi, lo := uint32(val>>32), uint32(val)
	if order == BigEndian {
		if err := WriteUint32(bus, addr, hi, order); err != nil {
			return err
		}
		return WriteUint32(bus, addr+4, lo, order)
	}
	if err := WriteUint32(bus, addr, lo, order); err != nil {
		return err
	}
	return WriteUint32(bus, addr+4, hi, order)
}

// ReadSized reads a 1/2/4/8-byte value at addr and returns it zero-extended
// to uint64. It is the read counterpart of WriteSized, which the bypass
// peripheral uses to write solved values of varying width.
func ReadSized(bus Bus, addr Address, size int, order Endian) (uint64, error) {
	switch size {
	case 1:
		v, err := bus.ReadByte(addr)
		return uint64(v), err
	case 2:
		v, err := ReadUint16(bus, addr, order)
		return uint64(v), err
	case 4:
		v, err := ReadUint32(bus, addr, order)
		return uint64(v), err
	case 8:
		return ReadUint64(bus, addr, order)
	default:
		return 0, ErrBadSize(size)
	}
}

// WriteSized writes the low size bytes of val at addr.
func WriteSized(bus Bus, addr Address, val uint64, size int, order Endian) error {
	switch size {
	case 1:
		return bus.WriteByte(addr, uint8(val))
	case 2:
		return WriteUint16(bus, addr, uint16(val), order)
	case 4:
		return WriteUint32(bus, addr, uint32(val), order)
	case 8:
		return WriteUint64(bus, addr, val, order)
	default:
		return ErrBadSize(size)
	}
}

// sizeError reports an access with a size outside {1,2,4,8}.
type sizeError int

func (s sizeError) Error() string {
	return "memory: unsupported access size"
}

// ErrBadSize returns an error describing an out-of-range access size.
func ErrBadSize(size int) error {
	return sizeError(size)
}
