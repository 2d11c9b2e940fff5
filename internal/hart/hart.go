// Package hart implements the fetch/decode/execute driver: a single
// 32-bit RV32I-with-hooks core wired to a Memory, an MMU, and a
// basic-block cache. Hart is the only type that imports both memory and
// mmu, tying the three together and implementing memory.Translator by
// delegating to the MMU and handling the resulting page fault.
package hart

import (
	"errors"
	"fmt"
	"time"

	"rv32hart/internal/decoder"
	"rv32hart/internal/memory"
	"rv32hart/internal/mmu"
)

// ErrTerminate signals a graceful stop requested by ECALL, EBREAK, or
// the illegal-opcode sentinel. It is not a failure; the CLI prints the
// final report and exits zero.
var ErrTerminate = errors.New("hart: terminated")

// CSR addresses used by the trap path.
const (
	csrMStatus = 0x300
	csrSATP    = 0x302
	csrMIE     = 0x304
	csrMTVec   = 0x305
	csrMEPC    = 0x341
	csrMCause  = 0x342
	csrMTVal   = 0x343
)

// Hart is the architectural state of one hardware thread.
type Hart struct {
	GPR [32]uint32
	CSR [1024]uint32
	PC  uint32

	Retired uint64

	Mem *memory.Memory
	MMU *mmu.MMU

	blocks map[uint32]*Block

	// terminated records why the run ended, for the final report.
	terminated error

	started time.Time
}

// New wires a Hart to the given physical memory capacity. It builds the
// Memory and MMU itself and back-links them, following the borrowed-
// reference initialization order: Hart -> Memory -> MMU -> back-links,
// so that no package owns another's lifetime.
func New(memCapacity int) *Hart {
	h := &Hart{
		Mem:    memory.New(memCapacity),
		blocks: make(map[uint32]*Block),
	}
	h.MMU = mmu.New(h.Mem)
	h.Mem.SetTranslator(h)
	return h
}

// GPRRead returns register r's value; register 0 always reads as 0.
func (h *Hart) GPRRead(r uint8) uint32 {
	if r == 0 {
		return 0
	}
	return h.GPR[r]
}

// GPRWrite writes register r; writes to register 0 are silently dropped,
// enforcing the zero-register invariant at every write site.
func (h *Hart) GPRWrite(r uint8, v uint32) {
	if r == 0 {
		return
	}
	h.GPR[r] = v
}

// Translate implements memory.Translator. A page fault (or a physical
// I/O error encountered mid-walk, which this simulator treats the same
// as a fault since both mean "this access cannot complete") redirects
// PC to mtvec and populates the trap CSRs, compensating for the
// driver's unconditional PC += 4 the same way branches and jumps do.
func (h *Hart) Translate(vaddr uint32, access mmu.Access) (uint32, bool) {
	paddr, ok, err := h.MMU.Translate(vaddr, access)
	if ok && err == nil {
		return paddr, true
	}
	h.raisePageFault(vaddr, access)
	return 0, false
}

func (h *Hart) raisePageFault(vaddr uint32, access mmu.Access) {
	var cause uint32
	switch access {
	case mmu.AccessExecute:
		cause = 12
	case mmu.AccessRead:
		cause = 13
	case mmu.AccessWrite:
		cause = 15
	}
	h.CSR[csrMCause] = cause
	h.CSR[csrMEPC] = h.PC
	h.CSR[csrMTVal] = vaddr
	h.CSR[csrMStatus] = (h.CSR[csrMStatus] | (1 << 7)) &^ (1 << 3)
	h.PC = h.CSR[csrMTVec] - 4
}

// Seed sets the initial stack pointer and, when translate is true,
// enables Sv32 translation against the page table rooted at rootPPN.
// Callers that drive their own step loop (the CLI's verbose trace mode)
// call this directly instead of Run.
func (h *Hart) Seed(rootPPN uint32, translate bool) {
	h.GPR[2] = uint32(h.Mem.Len() - 1) // sp
	if translate {
		h.MMU.SetSATP((1 << 31) | (rootPPN & 0x3FFFFF))
	}
}

// Run seeds the stack pointer, optionally enables translation against
// the page table already built at rootPPN, then steps until termination.
func (h *Hart) Run(rootPPN uint32, translate bool) error {
	h.Seed(rootPPN, translate)
	h.started = time.Now()
	for h.Step() {
	}
	return h.terminated
}

// Step executes one logical step: a cached block, or a single
// fetch-decode-execute with cache-install on the slow path. It returns
// false when the run has ended.
func (h *Hart) Step() bool {
	if h.PC >= uint32(h.Mem.Len()) {
		h.terminated = fmt.Errorf("%w: pc left physical address space", ErrTerminate)
		return false
	}

	if h.executeFromCache(h.PC) {
		return h.terminated == nil
	}

	word, ok, err := h.fetchWord(h.PC)
	if err != nil {
		h.terminated = err
		return false
	}
	if !ok {
		// The page fault left PC at mtvec-4 to offset the driver's usual
		// +4; no action ran, so apply that +4 here to land on mtvec.
		h.PC += 4
		return true
	}

	action, cf, err := decoder.Decode(word)
	if err != nil {
		h.terminated = fmt.Errorf("illegal instruction at pc=0x%x: %w", h.PC, err)
		return false
	}

	if cf {
		h.execute(action)
		h.PC += 4
		h.Retired++
		return h.terminated == nil
	}

	h.cacheIt(h.PC)
	h.executeFromCache(h.PC)
	return h.terminated == nil
}

func (h *Hart) fetchWord(pc uint32) (uint32, bool, error) {
	return h.Mem.ReadWord(pc, mmu.AccessExecute)
}

// Elapsed returns the wall-clock duration since Run started.
func (h *Hart) Elapsed() time.Duration {
	return time.Since(h.started)
}

// GPRValues returns a snapshot of the register file, for reporting.
func (h *Hart) GPRValues() [32]uint32 {
	return h.GPR
}

// RetireCount returns the number of semantic actions executed so far.
func (h *Hart) RetireCount() uint64 {
	return h.Retired
}

// MarkStart resets the wall-clock start time, for callers that drive
// the step loop themselves instead of calling Run.
func (h *Hart) MarkStart() {
	h.started = time.Now()
}

// Err returns the reason the run terminated, if any.
func (h *Hart) Err() error {
	return h.terminated
}
