// Package memory implements the hart's flat physical memory: a
// fixed-capacity byte array with little-endian multi-width access, plus
// the translated-access path that routes through a Translator (normally
// the owning Hart) before touching physical memory.
//
// Memory holds a borrowed back-reference to its Translator rather than
// an owning one, following the initialization order Hart -> Memory ->
// MMU -> back-links recommended for this design: the Hart, Memory, and
// MMU are all created up front and wired together once, never torn down
// and rebuilt mid-run.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"

	"rv32hart/internal/mmu"
)

// DefaultCapacity is the default physical memory size in bytes. The
// core only specifies the interface, not the size; 1 MiB is enough to
// run the small statically-linked images this simulator targets.
const DefaultCapacity = 1 << 20

// ErrOutOfRange indicates a physical access beyond memory capacity.
var ErrOutOfRange = errors.New("memory: address out of range")

// Translator resolves a virtual address to a physical one for a given
// access kind. *hart.Hart implements this by delegating to its MMU and
// handling any resulting page fault.
type Translator interface {
	Translate(vaddr uint32, access mmu.Access) (paddr uint32, ok bool)
}

// Memory is the hart's flat physical address space.
type Memory struct {
	bytes []byte

	imageBase  uint32
	haveBase   bool
	loadEnd    uint32
	translator Translator
}

// New allocates a Memory of the given capacity in bytes.
func New(capacity int) *Memory {
	return &Memory{bytes: make([]byte, capacity)}
}

// SetTranslator installs the Translator used for virtual accesses. Must
// be called once during start-up, before any translated access.
func (m *Memory) SetTranslator(t Translator) {
	m.translator = t
}

// Len returns the memory's capacity in bytes.
func (m *Memory) Len() int {
	return len(m.bytes)
}

// NoteSegmentBase records a LOAD segment's virtual base address,
// keeping the minimum seen so far as the image base, mirroring the
// loader's "pick the lowest LOAD vaddr" rule.
func (m *Memory) NoteSegmentBase(vaddr uint32) {
	if !m.haveBase || vaddr < m.imageBase {
		m.imageBase = vaddr
		m.haveBase = true
	}
}

// ImageBase returns the lowest LOAD-segment virtual address seen so far.
func (m *Memory) ImageBase() uint32 {
	return m.imageBase
}

// LoadEnd returns the physical offset one past the highest byte any
// loaded segment has occupied so far. Callers that reserve physical
// memory below/after the image (the page-table bootstrap) use this to
// avoid placing anything inside the loaded program's footprint.
func (m *Memory) LoadEnd() uint32 {
	return m.loadEnd
}

// StoreData bulk-copies a loaded segment's payload into physical memory.
// The destination offset is virtualBase - ImageBase(), per the loader
// contract in spec.md §4.1.
func (m *Memory) StoreData(data []byte, virtualBase uint32) error {
	offset := virtualBase - m.imageBase
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.bytes)) {
		return fmt.Errorf("%w: segment at 0x%x size %d overruns memory", ErrOutOfRange, virtualBase, len(data))
	}
	copy(m.bytes[offset:], data)
	if uint32(end) > m.loadEnd {
		m.loadEnd = uint32(end)
	}
	return nil
}

// --- physical (untranslated) access, used by the MMU and by page-table
// bootstrap code. ---

// ReadPhysicalWord reads a little-endian 32-bit word with no translation.
func (m *Memory) ReadPhysicalWord(addr uint32) (uint32, error) {
	if uint64(addr)+4 > uint64(len(m.bytes)) {
		return 0, fmt.Errorf("%w: read_physical_word(0x%x)", ErrOutOfRange, addr)
	}
	return binary.LittleEndian.Uint32(m.bytes[addr : addr+4]), nil
}

// WritePhysicalByte writes a single byte with no translation.
func (m *Memory) WritePhysicalByte(addr uint32, v uint8) error {
	if uint64(addr) >= uint64(len(m.bytes)) {
		return fmt.Errorf("%w: write_physical_byte(0x%x)", ErrOutOfRange, addr)
	}
	m.bytes[addr] = v
	return nil
}

// WritePhysicalWord writes a little-endian 32-bit word with no translation.
func (m *Memory) WritePhysicalWord(addr uint32, v uint32) error {
	if uint64(addr)+4 > uint64(len(m.bytes)) {
		return fmt.Errorf("%w: write_physical_word(0x%x)", ErrOutOfRange, addr)
	}
	binary.LittleEndian.PutUint32(m.bytes[addr:addr+4], v)
	return nil
}

// --- translated access, used by instruction semantics. ---

// ReadByte reads a byte at a virtual address. ok is false on page fault;
// err is non-nil on an out-of-range physical access.
func (m *Memory) ReadByte(vaddr uint32, access mmu.Access) (uint8, bool, error) {
	paddr, ok := m.translator.Translate(vaddr, access)
	if !ok {
		return 0, false, nil
	}
	if uint64(paddr) >= uint64(len(m.bytes)) {
		return 0, false, fmt.Errorf("%w: read_byte(0x%x)", ErrOutOfRange, paddr)
	}
	return m.bytes[paddr], true, nil
}

// ReadHalfword reads a little-endian 16-bit value at a virtual address.
func (m *Memory) ReadHalfword(vaddr uint32, access mmu.Access) (uint16, bool, error) {
	paddr, ok := m.translator.Translate(vaddr, access)
	if !ok {
		return 0, false, nil
	}
	if uint64(paddr)+2 > uint64(len(m.bytes)) {
		return 0, false, fmt.Errorf("%w: read_halfword(0x%x)", ErrOutOfRange, paddr)
	}
	return binary.LittleEndian.Uint16(m.bytes[paddr : paddr+2]), true, nil
}

// ReadWord reads a little-endian 32-bit value at a virtual address.
func (m *Memory) ReadWord(vaddr uint32, access mmu.Access) (uint32, bool, error) {
	paddr, ok := m.translator.Translate(vaddr, access)
	if !ok {
		return 0, false, nil
	}
	if uint64(paddr)+4 > uint64(len(m.bytes)) {
		return 0, false, fmt.Errorf("%w: read_word(0x%x)", ErrOutOfRange, paddr)
	}
	return binary.LittleEndian.Uint32(m.bytes[paddr : paddr+4]), true, nil
}

// ReadDoubleword reads a little-endian 64-bit value at a virtual address.
func (m *Memory) ReadDoubleword(vaddr uint32, access mmu.Access) (uint64, bool, error) {
	paddr, ok := m.translator.Translate(vaddr, access)
	if !ok {
		return 0, false, nil
	}
	if uint64(paddr)+8 > uint64(len(m.bytes)) {
		return 0, false, fmt.Errorf("%w: read_doubleword(0x%x)", ErrOutOfRange, paddr)
	}
	return binary.LittleEndian.Uint64(m.bytes[paddr : paddr+8]), true, nil
}

// WriteByte writes a byte at a virtual address.
func (m *Memory) WriteByte(vaddr uint32, v uint8) (bool, error) {
	paddr, ok := m.translator.Translate(vaddr, mmu.AccessWrite)
	if !ok {
		return false, nil
	}
	if uint64(paddr) >= uint64(len(m.bytes)) {
		return false, fmt.Errorf("%w: write_byte(0x%x)", ErrOutOfRange, paddr)
	}
	m.bytes[paddr] = v
	return true, nil
}

// WriteHalfword writes a little-endian 16-bit value at a virtual address.
func (m *Memory) WriteHalfword(vaddr uint32, v uint16) (bool, error) {
	paddr, ok := m.translator.Translate(vaddr, mmu.AccessWrite)
	if !ok {
		return false, nil
	}
	if uint64(paddr)+2 > uint64(len(m.bytes)) {
		return false, fmt.Errorf("%w: write_halfword(0x%x)", ErrOutOfRange, paddr)
	}
	binary.LittleEndian.PutUint16(m.bytes[paddr:paddr+2], v)
	return true, nil
}

// WriteWord writes a little-endian 32-bit value at a virtual address.
func (m *Memory) WriteWord(vaddr uint32, v uint32) (bool, error) {
	paddr, ok := m.translator.Translate(vaddr, mmu.AccessWrite)
	if !ok {
		return false, nil
	}
	if uint64(paddr)+4 > uint64(len(m.bytes)) {
		return false, fmt.Errorf("%w: write_word(0x%x)", ErrOutOfRange, paddr)
	}
	binary.LittleEndian.PutUint32(m.bytes[paddr:paddr+4], v)
	return true, nil
}

// WriteDoubleword writes a little-endian 64-bit value at a virtual address.
func (m *Memory) WriteDoubleword(vaddr uint32, v uint64) (bool, error) {
	paddr, ok := m.translator.Translate(vaddr, mmu.AccessWrite)
	if !ok {
		return false, nil
	}
	if uint64(paddr)+8 > uint64(len(m.bytes)) {
		return false, fmt.Errorf("%w: write_doubleword(0x%x)", ErrOutOfRange, paddr)
	}
	binary.LittleEndian.PutUint64(m.bytes[paddr:paddr+8], v)
	return true, nil
}
