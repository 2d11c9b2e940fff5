package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rv32hart/internal/mmu"
)

// identityTranslator always succeeds, returning vaddr unchanged, enough
// to exercise Memory's translated-access paths without a real MMU.
type identityTranslator struct{}

func (identityTranslator) Translate(vaddr uint32, _ mmu.Access) (uint32, bool) {
	return vaddr, true
}

// faultingTranslator always reports a page fault.
type faultingTranslator struct{}

func (faultingTranslator) Translate(uint32, mmu.Access) (uint32, bool) {
	return 0, false
}

func newTestMemory() *Memory {
	m := New(4096)
	m.SetTranslator(identityTranslator{})
	return m
}

func TestLittleEndianRoundTripWord(t *testing.T) {
	m := newTestMemory()
	ok, err := m.WriteWord(0x10, 0xdeadbeef)
	require.NoError(t, err)
	require.True(t, ok)

	v, ok, err := m.ReadWord(0x10, mmu.AccessRead)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, v)
}

func TestLittleEndianByteOrder(t *testing.T) {
	m := newTestMemory()
	err := m.WritePhysicalWord(0, 0x01020304)
	require.NoError(t, err)

	b0, err := m.ReadPhysicalWord(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x01020304, b0)
	assert.Equal(t, byte(0x04), m.bytes[0])
	assert.Equal(t, byte(0x01), m.bytes[3])
}

func TestOutOfRangePhysicalReadErrors(t *testing.T) {
	m := New(16)
	_, err := m.ReadPhysicalWord(13)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestOutOfRangePhysicalWriteErrors(t *testing.T) {
	m := New(16)
	err := m.WritePhysicalWord(13, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPageFaultSkipsSideEffect(t *testing.T) {
	m := New(4096)
	m.SetTranslator(faultingTranslator{})

	ok, err := m.WriteWord(0x10, 0xffffffff)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.ReadPhysicalWord(0x10)
	require.NoError(t, err)
	assert.EqualValues(t, 0, m.bytes[0x10])
}

func TestStoreDataUsesImageBaseOffset(t *testing.T) {
	m := New(4096)
	m.NoteSegmentBase(0x1000)
	m.NoteSegmentBase(0x2000) // not the minimum, ImageBase stays 0x1000

	require.NoError(t, m.StoreData([]byte{1, 2, 3, 4}, 0x1004))

	v, err := m.ReadPhysicalWord(4)
	require.NoError(t, err)
	assert.EqualValues(t, 0x04030201, v)
}

func TestByteAndHalfwordAccess(t *testing.T) {
	m := newTestMemory()
	ok, err := m.WriteByte(0x20, 0xAB)
	require.NoError(t, err)
	require.True(t, ok)

	v, ok, err := m.ReadByte(0x20, mmu.AccessRead)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 0xAB, v)

	ok, err = m.WriteHalfword(0x30, 0xBEEF)
	require.NoError(t, err)
	require.True(t, ok)

	h, ok, err := m.ReadHalfword(0x30, mmu.AccessRead)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 0xBEEF, h)
}
