package polling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcornwell/periph/emu/memory"
)

type fakeBus struct {
	data map[memory.Address]uint8
}

func newFakeBus() *fakeBus {
	return &fakeBus{data: map[memory.Address]uint8{}}
}

func (b *fakeBus) ReadByte(addr memory.Address) (uint8, error) {
	return b.data[addr], nil
}

func (b *fakeBus) WriteByte(addr memory.Address, val uint8) error {
	b.data[addr] = val
	return nil
}

type recordingHandler struct {
	inputs  []memory.Address
	outputs []memory.Address
	failOn  memory.Address
}

func (h *recordingHandler) Init(memory.Bus) error { return nil }

func (h *recordingHandler) HandleInput(bus memory.Bus, addr memory.Address, size int) error {
	if addr == h.failOn {
		return errFail
	}
	h.inputs = append(h.inputs, addr)
	return nil
}

func (h *recordingHandler) HandleOutput(bus memory.Bus, addr memory.Address, data []byte, size int) error {
	h.outputs = append(h.outputs, addr)
	return nil
}

type fail struct{}

func (fail) Error() string { return "handler failure" }

var errFail = fail{}

func TestMemoryRangeDelegatesInside(t *testing.T) {
	h := &recordingHandler{failOn: 0xFFFF}
	r := MemoryRange{Min: 0x1000, Max: 0x10FF, Handler: h}
	bus := newFakeBus()

	ok, err := r.HookMemoryRead(bus, 0x1000, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []memory.Address{0x1000}, h.inputs)

	ok, err = r.HookMemoryRead(bus, 0x2000, 1)
	require.NoError(t, err)
	require.False(t, ok, "outside range must not delegate")
}

func TestMemoryRangeReadOnlyRejectsWrite(t *testing.T) {
	h := &recordingHandler{}
	r := MemoryRange{Min: 0x1000, Max: 0x10FF, Handler: h, ReadOnly: true}
	bus := newFakeBus()

	ok, err := r.HookMemoryWrite(bus, 0x1000, []byte{1}, 1)
	require.True(t, ok)
	require.Error(t, err)
	require.Empty(t, h.outputs)
}

func TestMemoryRangeWrapsHandlerError(t *testing.T) {
	h := &recordingHandler{failOn: 0x1000}
	r := MemoryRange{Min: 0x1000, Max: 0x10FF, Handler: h}
	bus := newFakeBus()

	ok, err := r.HookMemoryRead(bus, 0x1000, 1)
	require.True(t, ok)
	require.Error(t, err)
}

func TestRegisterSetDelegates(t *testing.T) {
	h := &recordingHandler{failOn: 0xFFFF}
	set := NewRegisterSet(h, "r0", "r1")
	bus := newFakeBus()

	ok, err := set.HookRegisterRead(bus, "r0", 4)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = set.HookRegisterRead(bus, "r9", 4)
	require.NoError(t, err)
	require.False(t, ok)
}
