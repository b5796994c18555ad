/*
   periph - CAN transports: a real SocketCAN backend and an in-process FIFO
   stand-in for tests and non-CAN-capable hosts.

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

package can

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/rcornwell/periph/emu/errs"
)

// VCANTransport is a Transport backed by a real (or virtual) SocketCAN
// interface, opened via a raw AF_CAN/SOCK_RAW/CAN_RAW socket. Connection is
// lazy: the socket is opened on first Send or Recv and held open after
// that.
type VCANTransport struct {
	ifaceName string

	mu sync.Mutex
	fd int // -1 when not connected
}

// NewVCANTransport returns a transport bound to the named SocketCAN
// interface (e.g. "vcan0"). The socket is not opened until first use.
func NewVCANTransport(ifaceName string) *VCANTransport {
	return &VCANTransport{ifaceName: ifaceName, fd: -1}
}

// connect opens and binds the socket if it is not already open.
func (t *VCANTransport) connect() error {
	if t.fd >= 0 {
		return nil
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return errs.Wrap(errs.TransportConstruction, err, "can: opening socket for %s", t.ifaceName)
	}
	idx, err := unix.IfNametoindex(t.ifaceName)
	if err != nil {
		_ = unix.Close(fd)
		return errs.Wrap(errs.TransportConstruction, err, "can: resolving interface %s", t.ifaceName)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: int(idx)}); err != nil {
		_ = unix.Close(fd)
		return errs.Wrap(errs.TransportConstruction, err, "can: binding to %s", t.ifaceName)
	}
	// A one-second receive timeout, per the spec's "Recv never blocks
	// indefinitely" requirement: the emulator's poll loop must not stall
	// waiting for traffic that never arrives.
	timeout := unix.Timeval{Sec: 1, Usec: 0}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout); err != nil {
		_ = unix.Close(fd)
		return errs.Wrap(errs.TransportConstruction, err, "can: setting receive timeout on %s", t.ifaceName)
	}
	t.fd = fd
	return nil
}

// Send transmits f as a classic CAN frame.
func (t *VCANTransport) Send(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.connect(); err != nil {
		return err
	}
	raw := encodeFrame(f)
	n, err := unix.Write(t.fd, raw[:])
	if err != nil {
		return errs.Wrap(errs.TransportIO, err, "can: writing frame to %s", t.ifaceName)
	}
	if n != len(raw) {
		return errs.New(errs.TransportIO, "can: short write to %s (%d of %d bytes)", t.ifaceName, n, len(raw))
	}
	return nil
}

// Recv reads one frame, or returns ok=false if none arrived within the
// socket's one-second receive timeout.
func (t *VCANTransport) Recv() (Frame, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.connect(); err != nil {
		return Frame{}, false, err
	}
	var raw [canFrameSize]byte
	n, err := unix.Read(t.fd, raw[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return Frame{}, false, nil
		}
		return Frame{}, false, errs.Wrap(errs.TransportIO, err, "can: reading frame from %s", t.ifaceName)
	}
	if n != canFrameSize {
		return Frame{}, false, errs.New(errs.TransportIO, "can: short read from %s (%d of %d bytes)", t.ifaceName, n, canFrameSize)
	}
	return decodeFrame(raw), true, nil
}

// Close releases the socket, if open.
func (t *VCANTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fd < 0 {
		return nil
	}
	err := unix.Close(t.fd)
	t.fd = -1
	return err
}

// canFrameSize matches struct can_frame's wire layout: a 4-byte ID, a
// 1-byte DLC, 3 bytes of padding, and 8 bytes of data.
const canFrameSize = 16

func encodeFrame(f Frame) [canFrameSize]byte {
	var raw [canFrameSize]byte
	id := f.ID
	raw[0] = byte(id)
	raw[1] = byte(id >> 8)
	raw[2] = byte(id >> 16)
	raw[3] = byte(id >> 24)
	raw[4] = byte(f.Length)
	copy(raw[8:], f.Data[:])
	return raw
}

func decodeFrame(raw [canFrameSize]byte) Frame {
	f := Frame{
		ID:     uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24,
		Length: int(raw[4]),
	}
	copy(f.Data[:], raw[8:16])
	return f
}

// QueuedTransport is an in-process FIFO Transport: frames enqueued via
// Enqueue are what Recv returns, and frames sent via Send are appended to
// an outbound log a test can inspect with Sent. It exists for tests and
// for embedders running on hosts without a CAN interface.
type QueuedTransport struct {
	mu   sync.Mutex
	in   []Frame
	sent []Frame
}

// NewQueuedTransport returns an empty queued transport.
func NewQueuedTransport() *QueuedTransport {
	return &QueuedTransport{}
}

// Enqueue appends f to the receive queue, to be returned by a future Recv.
func (q *QueuedTransport) Enqueue(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.in = append(q.in, f)
}

// Send appends f to the sent log and always succeeds.
func (q *QueuedTransport) Send(f Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, f)
	return nil
}

// Recv pops the oldest queued frame, or returns ok=false if empty.
func (q *QueuedTransport) Recv() (Frame, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.in) == 0 {
		return Frame{}, false, nil
	}
	f := q.in[0]
	q.in = q.in[1:]
	return f, true, nil
}

// Sent returns a copy of the frames sent so far.
func (q *QueuedTransport) Sent() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Frame(nil), q.sent...)
}

// Close is a no-op; there is no handle to release.
func (q *QueuedTransport) Close() error {
	return nil
}
