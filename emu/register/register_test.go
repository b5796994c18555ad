package register

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcornwell/periph/emu/memory"
)

// fakeBackend is a minimal Backend recording Get/Set calls for assertions.
type fakeBackend struct {
	enabled  bool
	matched  bool
	tick     uint32
	compare  uint32
	cleared  bool
}

func (f *fakeBackend) Get(tag FunctionTag) (uint32, error) {
	switch tag {
	case IsEnabled:
		if f.enabled {
			return 1, nil
		}
		return 0, nil
	case IsMatched:
		if f.matched {
			return 1, nil
		}
		return 0, nil
	case GetCurrentTick:
		return f.tick, nil
	case GetCompareAgainst:
		return f.compare, nil
	default:
		return 0, nil
	}
}

func (f *fakeBackend) Set(tag FunctionTag, value uint32) error {
	switch tag {
	case SetEnable:
		f.enabled = value != 0
	case ClearMatchedFlag:
		f.matched = false
		f.cleared = true
	case SetCurrentTick:
		f.tick = value
	case SetCompareAgainst:
		f.compare = value
	}
	return nil
}

type fakeBus struct {
	data [16]uint8
}

func (b *fakeBus) ReadByte(addr memory.Address) (uint8, error) {
	return b.data[addr], nil
}

func (b *fakeBus) WriteByte(addr memory.Address, val uint8) error {
	b.data[addr] = val
	return nil
}

func TestHandleReadSetsBoolAndValueFields(t *testing.T) {
	table := NewTable()
	table.MapRead(0, 0x00000001, IsEnabled)
	table.MapRead(0, 0x00000080, IsMatched)
	table.MapRead(4, 0x0000ffff, GetCurrentTick)

	backend := &fakeBackend{enabled: true, matched: true, tick: 0x1234}
	bus := &fakeBus{}

	word, err := table.HandleRead(backend, bus, 0, memory.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint32(0x81), word)

	word, err = table.HandleRead(backend, bus, 4, memory.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1234), word)
}

func TestHandleWriteW1C(t *testing.T) {
	table := NewTable()
	table.MapWrite(0, 0x00000001, SetEnable)
	table.MapWrite(2, 0x00000080, ClearMatchedFlag)

	backend := &fakeBackend{matched: true}

	require.NoError(t, table.HandleWrite(backend, 2, 0x00))
	require.True(t, backend.matched, "write of 0 must not clear W1C flag")
	require.False(t, backend.cleared)

	require.NoError(t, table.HandleWrite(backend, 2, 0x80))
	require.False(t, backend.matched)
	require.True(t, backend.cleared)
}

func TestHandleWriteValueField(t *testing.T) {
	table := NewTable()
	table.MapWrite(6, 0x0000ffff, SetCompareAgainst)

	backend := &fakeBackend{}
	require.NoError(t, table.HandleWrite(backend, 6, 0x0003))
	require.Equal(t, uint32(3), backend.compare)
}

func TestHandleReadUnknownAddress(t *testing.T) {
	table := NewTable()
	backend := &fakeBackend{}
	bus := &fakeBus{}

	_, err := table.HandleRead(backend, bus, 0x99, memory.BigEndian)
	require.Error(t, err)
}
