// Package report formats a hart's final architectural state: retire
// count, throughput, register dump with ABI names, TLB contents, and
// MMU statistics — the same information the teacher logs with
// log.Printf, reshaped into a tabwriter-aligned report.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"rv32hart/internal/mmu"
)

// abiNames are the RISC-V calling-convention register names, x0..x31.
var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// Hart is the narrow surface report needs from a hart, kept separate
// from the hart package to avoid a dependency in the other direction.
type Hart interface {
	GPRValues() [32]uint32
	RetireCount() uint64
	Elapsed() time.Duration
}

// MMUStats is the narrow surface needed from the MMU.
type MMUStats interface {
	Stats() mmu.Stats
	Entries() []mmu.TLBEntry
}

// Final writes the run's final report to w: retire count, wall-clock
// seconds, MIPS, register dump, TLB dump, and MMU statistics.
func Final(w io.Writer, h Hart, m MMUStats) {
	elapsed := h.Elapsed()
	retired := h.RetireCount()
	seconds := elapsed.Seconds()
	var mips float64
	if seconds > 0 {
		mips = float64(retired) / seconds / 1e6
	}

	fmt.Fprintf(w, "retired %d instructions in %.6fs (%.3f MIPS)\n", retired, seconds, mips)

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	gpr := h.GPRValues()
	for i := 0; i < 32; i += 4 {
		for j := 0; j < 4; j++ {
			r := i + j
			fmt.Fprintf(tw, "x%-2d(%-4s)=0x%08x\t", r, abiNames[r], gpr[r])
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()

	stats := m.Stats()
	fmt.Fprintf(w, "mmu: hits=%d misses=%d faults=%d hit_rate=%.3f\n",
		stats.Hits, stats.Misses, stats.Faults, stats.HitRate())

	entries := m.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(w, "tlb: empty")
		return
	}
	fmt.Fprintf(w, "tlb: %d entries\n", len(entries))
	etw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(etw, "vpn\tppn\tflags\tasid")
	for _, e := range entries {
		fmt.Fprintf(etw, "0x%05x\t0x%05x\t0x%03x\t%d\n", e.VPN, e.PPN, e.Flags, e.ASID)
	}
	etw.Flush()
}
