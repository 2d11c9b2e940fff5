package loader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rv32hart/internal/memory"
)

// writeMinimalELF32 hand-assembles the smallest ELF32 executable
// debug/elf.Open will accept: one PT_LOAD segment carrying payload at
// vaddr, with the entry point pointing at its first byte.
func writeMinimalELF32(t *testing.T, vaddr uint32, payload []byte) string {
	t.Helper()

	const ehdrSize = 52
	const phdrSize = 32
	offset := uint32(ehdrSize + phdrSize)

	buf := make([]byte, offset+uint32(len(payload)))

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)          // e_type = ET_EXEC
	le.PutUint16(buf[18:], 243)        // e_machine = EM_RISCV
	le.PutUint32(buf[20:], 1)          // e_version
	le.PutUint32(buf[24:], vaddr)      // e_entry
	le.PutUint32(buf[28:], ehdrSize)   // e_phoff
	le.PutUint16(buf[40:], ehdrSize)   // e_ehsize
	le.PutUint16(buf[42:], phdrSize)   // e_phentsize
	le.PutUint16(buf[44:], 1)          // e_phnum

	ph := buf[ehdrSize:]
	le.PutUint32(ph[0:], 1)              // p_type = PT_LOAD
	le.PutUint32(ph[4:], offset)         // p_offset
	le.PutUint32(ph[8:], vaddr)          // p_vaddr
	le.PutUint32(ph[12:], vaddr)         // p_paddr
	le.PutUint32(ph[16:], uint32(len(payload))) // p_filesz
	le.PutUint32(ph[20:], uint32(len(payload))) // p_memsz
	le.PutUint32(ph[24:], 7)             // p_flags = RWX
	le.PutUint32(ph[28:], 0x1000)        // p_align

	copy(buf[offset:], payload)

	path := filepath.Join(t.TempDir(), "image.elf")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestLoadPicksMinimumLoadVaddrAsBase(t *testing.T) {
	payload := []byte{0x93, 0x00, 0x50, 0x00} // ADDI x1, x0, 5
	path := writeMinimalELF32(t, 0x8000, payload)

	mem := memory.New(1 << 16)
	img, err := Load(path, mem)
	require.NoError(t, err)

	assert.EqualValues(t, 0x8000, img.ImageBase)
	assert.EqualValues(t, 0, img.EntryPC)

	word, err := mem.ReadPhysicalWord(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x00500093, word)
}

func TestLoadThenBootstrapPreservesImageBytes(t *testing.T) {
	payload := []byte{0x93, 0x00, 0x50, 0x00, 0x73, 0x00, 0x00, 0x00} // ADDI x1, x0, 5; ECALL
	path := writeMinimalELF32(t, 0x8000, payload)

	mem := memory.New(1 << 16)
	img, err := Load(path, mem)
	require.NoError(t, err)
	require.EqualValues(t, 0x8000, img.ImageBase)

	base := SafeBootstrapBase(mem)
	assert.GreaterOrEqual(t, base, mem.LoadEnd())
	assert.Zero(t, base%4096)

	_, err = BootstrapIdentityPageTable(mem, base)
	require.NoError(t, err)

	// The page tables must land entirely after the loaded segment, so
	// the program's own bytes must read back unchanged.
	word, err := mem.ReadPhysicalWord(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x00500093, word)

	word, err = mem.ReadPhysicalWord(4)
	require.NoError(t, err)
	assert.EqualValues(t, 0x00000073, word)
}

func TestBootstrapIdentityPageTableMapsFirstPage(t *testing.T) {
	mem := memory.New(1 << 20)
	rootPPN, err := BootstrapIdentityPageTable(mem, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rootPPN)

	// Root PTE for vpn1=0 should point at the first leaf table,
	// immediately after the 1024-entry root table (4096 bytes).
	rootPTE, err := mem.ReadPhysicalWord(0)
	require.NoError(t, err)
	leafPPN := (rootPTE >> 10) & 0x3FFFFF
	assert.EqualValues(t, 1, leafPPN) // leaf table starts at physical page 1

	leafAddr := leafPPN << 12
	leafPTE, err := mem.ReadPhysicalWord(leafAddr)
	require.NoError(t, err)
	assert.EqualValues(t, 0, (leafPTE>>10)&0x3FFFFF) // identity: vpn0=0 -> ppn=0
	assert.NotZero(t, leafPTE&1)                     // valid
}
