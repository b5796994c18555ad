/*
   periph - Error taxonomy shared across the peripheral hook library.

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

// Package errs holds the error kinds a hook object can return to the
// embedding emulator. Handler failures propagate as hook errors; Unsupported
// indicates a programmer error in a peripheral map, not a runtime condition.
package errs

import "fmt"

// Kind tags the category of error a hook returned.
type Kind int

const (
	_              Kind = iota
	BackendPCode        // Underlying CPU state error, pass through.
	InvalidRegister
	HandleInput  // Polling handler failed servicing a read.
	HandleOutput // Polling handler failed servicing a write.
	TransportConstruction
	TransportIO
	Unsupported // Un-mapped operation tag or unsupported handler variant.
)

func (k Kind) String() string {
	switch k {
	case BackendPCode:
		return "backend p-code error"
	case InvalidRegister:
		return "invalid register"
	case HandleInput:
		return "handle input failed"
	case HandleOutput:
		return "handle output failed"
	case TransportConstruction:
		return "transport construction failed"
	case TransportIO:
		return "transport i/o error"
	case Unsupported:
		return "unsupported operation"
	default:
		return "unknown error"
	}
}

// Error wraps a Kind with a message and an optional inner cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an inner cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e.Kind == kind
	}
	return false
}
