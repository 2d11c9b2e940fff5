package mmu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemory is a tiny PhysicalMemory backed by a plain map, enough to
// exercise page-walk logic without depending on the memory package.
type fakeMemory struct {
	words map[uint32]uint32
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{words: make(map[uint32]uint32)}
}

func (f *fakeMemory) ReadPhysicalWord(addr uint32) (uint32, error) {
	return f.words[addr], nil
}

func (f *fakeMemory) WritePhysicalWord(addr uint32, v uint32) error {
	f.words[addr] = v
	return nil
}

func setupOnePageMapping(t *testing.T, root, leaf, vpn1, vpn0, ppn uint32, flags uint32) *fakeMemory {
	t.Helper()
	mem := newFakeMemory()
	mem.words[root+vpn1*4] = ((leaf >> 12) << 10) | PTEValid
	mem.words[leaf+vpn0*4] = (ppn << 10) | PTEValid | flags
	return mem
}

func TestTranslateBareModeIsIdentity(t *testing.T) {
	m := New(newFakeMemory())
	paddr, ok, err := m.Translate(0x1234, AccessRead)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 0x1234, paddr)
}

func TestTranslateMissThenHit(t *testing.T) {
	mem := setupOnePageMapping(t, 0x1000, 0x2000, 0, 0, 5, PTERead|PTEWrite|PTEExec)
	m := New(mem)
	m.SetSATP((1 << 31) | (0x1000 >> 12))

	_, ok1, err1 := m.Translate(0x0, AccessRead)
	require.NoError(t, err1)
	require.True(t, ok1)

	p2, ok2, err2 := m.Translate(0x0, AccessRead)
	require.NoError(t, err2)
	require.True(t, ok2)
	assert.EqualValues(t, (5<<12)|0, p2)

	stats := m.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestPermissionEnforcement(t *testing.T) {
	mem := setupOnePageMapping(t, 0x1000, 0x2000, 0, 0, 5, PTERead) // no write permission
	m := New(mem)
	m.SetSATP((1 << 31) | (0x1000 >> 12))

	_, ok, err := m.Translate(0x0, AccessWrite)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := m.Stats()
	assert.EqualValues(t, 1, stats.Faults)
}

func TestAccessedDirtyUpdateOnSuccess(t *testing.T) {
	mem := setupOnePageMapping(t, 0x1000, 0x2000, 0, 0, 5, PTERead|PTEWrite)
	m := New(mem)
	m.SetSATP((1 << 31) | (0x1000 >> 12))

	_, ok, err := m.Translate(0x0, AccessWrite)
	require.NoError(t, err)
	require.True(t, ok)

	pte := mem.words[0x2000]
	assert.NotZero(t, pte&PTEAcc)
	assert.NotZero(t, pte&PTEDirty)
}

func TestAccessedOnlyUpdateOnReadOfCleanPage(t *testing.T) {
	mem := setupOnePageMapping(t, 0x1000, 0x2000, 0, 0, 5, PTERead|PTEWrite)
	m := New(mem)
	m.SetSATP((1 << 31) | (0x1000 >> 12))

	_, ok, err := m.Translate(0x0, AccessRead)
	require.NoError(t, err)
	require.True(t, ok)

	pte := mem.words[0x2000]
	assert.NotZero(t, pte&PTEAcc)
	assert.Zero(t, pte&PTEDirty)
}

func TestTLBClearForcesWalk(t *testing.T) {
	mem := setupOnePageMapping(t, 0x1000, 0x2000, 0, 0, 5, PTERead|PTEWrite|PTEExec)
	m := New(mem)
	m.SetSATP((1 << 31) | (0x1000 >> 12))

	_, _, _ = m.Translate(0x0, AccessRead)
	m.TLBClear()
	_, _, _ = m.Translate(0x0, AccessRead)

	stats := m.Stats()
	assert.EqualValues(t, 2, stats.Misses)
}

func TestSuperpageLeafAtLevelOne(t *testing.T) {
	mem := newFakeMemory()
	root := uint32(0x1000)
	// Root PTE is itself a leaf (R set) mapping a 4 MiB superpage.
	mem.words[root+0] = (7 << 10) | PTEValid | PTERead | PTEWrite | PTEExec
	m := New(mem)
	m.SetSATP((1 << 31) | (root >> 12))

	paddr, ok, err := m.Translate(0x1234, AccessRead)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, ((uint32(7)<<12)&0xFFC00000)|(uint32(0x1234)&0x3FFFFF), paddr)
}
