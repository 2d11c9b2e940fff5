// Package loader reads a statically-linked ELF image into a hart's
// memory: it picks the lowest PT_LOAD virtual address as the image
// base, copies each loadable segment's bytes to vaddr-base, and
// resolves the entry PC the same way. It also builds the optional
// identity-mapped Sv32 bootstrap page table used when translation is
// requested.
package loader

import (
	"debug/elf"
	"fmt"

	"rv32hart/internal/mmu"
)

// Target is the narrow surface the loader needs from a hart's memory:
// segment bookkeeping, bulk segment copy, and raw physical writes for
// page-table bootstrap.
type Target interface {
	NoteSegmentBase(vaddr uint32)
	StoreData(data []byte, virtualBase uint32) error
	WritePhysicalWord(addr uint32, value uint32) error
	ImageBase() uint32
	Len() int
	LoadEnd() uint32
}

// Image describes a loaded executable.
type Image struct {
	EntryPC   uint32
	ImageBase uint32
}

// Load reads the ELF file at path, copies its PT_LOAD segments into
// mem, and returns the entry PC relative to the image base.
func Load(path string, mem Target) (Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("loader: open %s: %w", path, err)
	}
	defer f.Close()

	var loadable []*elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			loadable = append(loadable, p)
		}
	}
	if len(loadable) == 0 {
		return Image{}, fmt.Errorf("loader: %s has no PT_LOAD segments", path)
	}

	for _, p := range loadable {
		mem.NoteSegmentBase(uint32(p.Vaddr))
	}

	for _, p := range loadable {
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			return Image{}, fmt.Errorf("loader: read segment at 0x%x: %w", p.Vaddr, err)
		}
		if err := mem.StoreData(data, uint32(p.Vaddr)); err != nil {
			return Image{}, fmt.Errorf("loader: store segment at 0x%x: %w", p.Vaddr, err)
		}
	}

	base := mem.ImageBase()
	return Image{
		EntryPC:   uint32(f.Entry) - base,
		ImageBase: base,
	}, nil
}

const pageSize = 4096

// SafeBootstrapBase returns a page-aligned physical address at or past
// every loaded segment's footprint, so BootstrapIdentityPageTable never
// overwrites the program it just loaded. Callers enabling translation
// should pass this, not a hardcoded address, as tableBase.
func SafeBootstrapBase(mem Target) uint32 {
	end := mem.LoadEnd()
	return (end + pageSize - 1) &^ (pageSize - 1)
}

// BootstrapIdentityPageTable writes a root table plus one leaf table
// per occupied 4 MiB region, identity-mapping the whole physical image
// with read/write/execute permission, and returns the root table's
// physical page number for satp. This replaces the source's
// `(virt_page + 0x10) & memory_size` bootstrap, whose non-power-of-two
// mask produced wrong physical pages for anything but a handful of low
// addresses; an explicit identity map has no such failure mode.
func BootstrapIdentityPageTable(mem Target, tableBase uint32) (rootPPN uint32, err error) {
	const pteSize = 4
	const entriesPerTable = 1024
	const superpageSize = pageSize * entriesPerTable

	root := tableBase
	leaves := root + entriesPerTable*pteSize

	memLen := uint32(mem.Len())
	numSuperpages := (memLen + superpageSize - 1) / superpageSize

	flags := uint32(mmu.PTEValid | mmu.PTERead | mmu.PTEWrite | mmu.PTEExec)

	for vpn1 := uint32(0); vpn1 < numSuperpages; vpn1++ {
		leaf := leaves + vpn1*entriesPerTable*pteSize
		rootPTE := ((leaf >> 12) << 10) | mmu.PTEValid
		if err := mem.WritePhysicalWord(root+vpn1*pteSize, rootPTE); err != nil {
			return 0, fmt.Errorf("loader: write root pte: %w", err)
		}
		for vpn0 := uint32(0); vpn0 < entriesPerTable; vpn0++ {
			ppn := vpn1*entriesPerTable + vpn0
			leafPTE := (ppn << 10) | flags
			if err := mem.WritePhysicalWord(leaf+vpn0*pteSize, leafPTE); err != nil {
				return 0, fmt.Errorf("loader: write leaf pte: %w", err)
			}
		}
	}

	return root >> 12, nil
}
