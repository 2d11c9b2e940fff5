// Package mmu implements the Sv32-style MMU and TLB used to translate
// virtual addresses to physical ones for the hart.
//
// The translation algorithm follows a two-level page walk: a root table
// indexed by the upper ten bits of the virtual page number, and, unless
// the root entry is itself a 4 MiB leaf, a second-level table indexed by
// the lower ten bits. Every successful walk populates the TLB so that
// later accesses to the same page skip the walk entirely.
package mmu

import "fmt"

// Access identifies the kind of memory access being translated.
type Access uint8

// The following constants define the access kinds understood by Translate.
const (
	AccessRead Access = iota
	AccessExecute
	AccessWrite
)

// String implements fmt.Stringer.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessExecute:
		return "execute"
	case AccessWrite:
		return "write"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// PTE bit flags, packed into the low ten bits of a page-table entry,
// matching the Sv32-like layout described for this simulator.
const (
	PTEValid = 1 << 0
	PTERead  = 1 << 1
	PTEWrite = 1 << 2
	PTEExec  = 1 << 3
	PTEUser  = 1 << 4
	PTEGlob  = 1 << 5
	PTEAcc   = 1 << 6
	PTEDirty = 1 << 7
)

// TLBSize is the number of entries in the fixed-capacity TLB.
const TLBSize = 64

// TLBEntry is one slot of the TLB.
type TLBEntry struct {
	Valid bool
	VPN   uint32 // 20-bit virtual page number
	PPN   uint32 // 22-bit physical page number
	Flags uint32 // 10-bit PTE flags
	ASID  uint32 // 9-bit address-space id
}

// PhysicalMemory is the narrow interface the MMU needs to walk page
// tables: unlocked, untranslated word access to physical memory. The
// memory package's Memory type satisfies this interface without the mmu
// package importing memory.
type PhysicalMemory interface {
	ReadPhysicalWord(addr uint32) (uint32, error)
	WritePhysicalWord(addr uint32, value uint32) error
}

// Stats reports TLB/page-walk counters.
type Stats struct {
	Hits, Misses, Faults uint64
}

// HitRate returns hits / (hits + misses), or 0 when there have been no
// translations yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// MMU owns the TLB and the satp register and walks page tables against a
// PhysicalMemory on a TLB miss.
type MMU struct {
	mem PhysicalMemory

	tlb    [TLBSize]TLBEntry
	cursor int

	satp uint32

	hits, misses, faults uint64
}

// New returns an MMU that walks page tables against mem. satp starts in
// bare (identity) mode.
func New(mem PhysicalMemory) *MMU {
	return &MMU{mem: mem}
}

// SetSATP installs a new satp value. Bit 31 selects Sv32 mode; bits 0-21
// hold the root page-table PPN; bits 22-30 hold the ASID.
func (m *MMU) SetSATP(v uint32) {
	m.satp = v
}

// GetSATP returns the current satp value.
func (m *MMU) GetSATP() uint32 {
	return m.satp
}

func (m *MMU) mode() uint32 {
	return m.satp >> 31
}

func (m *MMU) asid() uint32 {
	return (m.satp >> 22) & 0x1FF
}

func (m *MMU) rootPPN() uint32 {
	return m.satp & 0x3FFFFF
}

// Translate converts vaddr to a physical address for the given access
// kind. ok is false either because of a TLB/page-table miss that faulted
// (page_fault) or because the walk hit an I/O error reading the page
// table; callers distinguish the two by checking err.
func (m *MMU) Translate(vaddr uint32, access Access) (paddr uint32, ok bool, err error) {
	if m.mode() == 0 {
		return vaddr, true, nil
	}

	offset := vaddr & 0xFFF
	vpn0 := (vaddr >> 12) & 0x3FF
	vpn1 := (vaddr >> 22) & 0x3FF
	fullVPN := (vpn1 << 10) | vpn0

	asid := m.asid()
	for i := range m.tlb {
		e := &m.tlb[i]
		if e.Valid && e.VPN == fullVPN && (e.Flags&PTEGlob != 0 || e.ASID == asid) {
			m.hits++
			return (e.PPN << 12) | offset, true, nil
		}
	}
	m.misses++

	pte1Addr := (m.rootPPN() << 12) + vpn1*4
	valid1, ppn1, flags1, err := m.readPTE(pte1Addr)
	if err != nil {
		return 0, false, err
	}
	if !valid1 {
		m.faults++
		return 0, false, nil
	}

	if isLeaf(flags1) {
		if !checkPermission(flags1, access) {
			m.faults++
			return 0, false, nil
		}
		flags1 = withAccessedDirty(flags1, access)
		if err := m.writePTE(pte1Addr, valid1, ppn1, flags1); err != nil {
			return 0, false, err
		}
		// The TLB works at 4 KiB granularity, so cache the 4 KiB frame
		// inside the superpage that this vaddr's vpn0 selects.
		m.tlbAdd(fullVPN, (ppn1&^0x3FF)|vpn0, flags1, asid)
		paddr = ((ppn1 << 12) & 0xFFC00000) | (vaddr & 0x3FFFFF)
		return paddr, true, nil
	}

	pte0Addr := (ppn1 << 12) + vpn0*4
	valid0, ppn0, flags0, err := m.readPTE(pte0Addr)
	if err != nil {
		return 0, false, err
	}
	if !valid0 {
		m.faults++
		return 0, false, nil
	}
	if !checkPermission(flags0, access) {
		m.faults++
		return 0, false, nil
	}
	flags0 = withAccessedDirty(flags0, access)
	if err := m.writePTE(pte0Addr, valid0, ppn0, flags0); err != nil {
		return 0, false, err
	}
	m.tlbAdd(fullVPN, ppn0, flags0, asid)
	paddr = (ppn0 << 12) | offset
	return paddr, true, nil
}

func isLeaf(flags uint32) bool {
	return flags&(PTERead|PTEWrite|PTEExec) != 0
}

func withAccessedDirty(flags uint32, access Access) uint32 {
	flags |= PTEAcc
	if access == AccessWrite {
		flags |= PTEDirty
	}
	return flags
}

func checkPermission(flags uint32, access Access) bool {
	switch access {
	case AccessRead:
		return flags&PTERead != 0
	case AccessExecute:
		return flags&PTEExec != 0
	case AccessWrite:
		return flags&PTEWrite != 0 && flags&PTERead != 0
	default:
		return false
	}
}

func (m *MMU) readPTE(addr uint32) (valid bool, ppn uint32, flags uint32, err error) {
	word, err := m.mem.ReadPhysicalWord(addr)
	if err != nil {
		return false, 0, 0, err
	}
	valid = word&PTEValid != 0
	ppn = (word >> 10) & 0x3FFFFF
	flags = word & 0x3FF
	return valid, ppn, flags, nil
}

func (m *MMU) writePTE(addr uint32, valid bool, ppn uint32, flags uint32) error {
	var word uint32
	if valid {
		word |= PTEValid
	}
	word |= (ppn & 0x3FFFFF) << 10
	word |= flags & 0x3FF
	return m.mem.WritePhysicalWord(addr, word)
}

// TLBAdd installs an entry for vaddr's page, decomposing vaddr into its
// full VPN and then using the same insertion path as a page-walk fill.
func (m *MMU) TLBAdd(vaddr uint32, ppn uint32, flags uint32, asid uint32) {
	offset := vaddr & 0xFFF
	_ = offset
	vpn0 := (vaddr >> 12) & 0x3FF
	vpn1 := (vaddr >> 22) & 0x3FF
	m.tlbAdd((vpn1<<10)|vpn0, ppn, flags, asid)
}

func (m *MMU) tlbAdd(fullVPN uint32, ppn uint32, flags uint32, asid uint32) {
	for i := range m.tlb {
		e := &m.tlb[i]
		if e.Valid && e.VPN == fullVPN && e.ASID == asid {
			e.PPN = ppn
			e.Flags = flags
			return
		}
	}
	m.tlb[m.cursor] = TLBEntry{Valid: true, VPN: fullVPN, PPN: ppn, Flags: flags, ASID: asid}
	m.cursor = (m.cursor + 1) % TLBSize
}

// TLBRemove invalidates any entry matching vaddr's page and asid.
func (m *MMU) TLBRemove(vaddr uint32, asid uint32) {
	vpn := vaddr >> 12
	for i := range m.tlb {
		if m.tlb[i].Valid && m.tlb[i].VPN == vpn && m.tlb[i].ASID == asid {
			m.tlb[i].Valid = false
		}
	}
}

// TLBClear invalidates every TLB entry. Used as the conservative
// implementation of SFENCE.VMA.
func (m *MMU) TLBClear() {
	for i := range m.tlb {
		m.tlb[i].Valid = false
	}
	m.cursor = 0
}

// Stats returns a snapshot of the hit/miss/fault counters.
func (m *MMU) Stats() Stats {
	return Stats{Hits: m.hits, Misses: m.misses, Faults: m.faults}
}

// Entries returns the valid TLB entries in slot order, for reporting.
func (m *MMU) Entries() []TLBEntry {
	var out []TLBEntry
	for _, e := range m.tlb {
		if e.Valid {
			out = append(out, e)
		}
	}
	return out
}
