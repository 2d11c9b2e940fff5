package hart

import (
	"fmt"

	"rv32hart/internal/decoder"
	"rv32hart/internal/mmu"
)

// execute runs one decoded Action against the hart. Every method here
// implements the contract from the reference ISA, including the "-4"
// PC compensation that branches and jumps need because the driver
// unconditionally adds 4 to PC after every action.
func (h *Hart) execute(a decoder.Action) {
	switch a.Kind {
	case decoder.KindADD:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)+h.GPRRead(a.Rs2))
	case decoder.KindSUB:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)-h.GPRRead(a.Rs2))
	case decoder.KindSLL:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)<<(h.GPRRead(a.Rs2)&0x1F))
	case decoder.KindSLT:
		if int32(h.GPRRead(a.Rs1)) < int32(h.GPRRead(a.Rs2)) {
			h.GPRWrite(a.Rd, 1)
		} else {
			h.GPRWrite(a.Rd, 0)
		}
	case decoder.KindSLTU:
		if h.GPRRead(a.Rs1) < h.GPRRead(a.Rs2) {
			h.GPRWrite(a.Rd, 1)
		} else {
			h.GPRWrite(a.Rd, 0)
		}
	case decoder.KindXOR:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)^h.GPRRead(a.Rs2))
	case decoder.KindSRL:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)>>(h.GPRRead(a.Rs2)&0x1F))
	case decoder.KindSRA:
		h.GPRWrite(a.Rd, uint32(int32(h.GPRRead(a.Rs1))>>(h.GPRRead(a.Rs2)&0x1F)))
	case decoder.KindOR:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)|h.GPRRead(a.Rs2))
	case decoder.KindAND:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)&h.GPRRead(a.Rs2))

	case decoder.KindADDI:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)+uint32(a.Imm))
	case decoder.KindSLTI:
		if int32(h.GPRRead(a.Rs1)) < a.Imm {
			h.GPRWrite(a.Rd, 1)
		} else {
			h.GPRWrite(a.Rd, 0)
		}
	case decoder.KindSLTIU:
		// The 12-bit immediate is sign-extended to 32 bits first, then
		// reinterpreted unsigned for the comparison, per the ISA.
		if h.GPRRead(a.Rs1) < uint32(a.Imm) {
			h.GPRWrite(a.Rd, 1)
		} else {
			h.GPRWrite(a.Rd, 0)
		}
	case decoder.KindXORI:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)^uint32(a.Imm))
	case decoder.KindORI:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)|uint32(a.Imm))
	case decoder.KindANDI:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)&uint32(a.Imm))
	case decoder.KindSLLI:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)<<uint32(a.Imm))
	case decoder.KindSRLI:
		h.GPRWrite(a.Rd, h.GPRRead(a.Rs1)>>uint32(a.Imm))
	case decoder.KindSRAI:
		h.GPRWrite(a.Rd, uint32(int32(h.GPRRead(a.Rs1))>>uint32(a.Imm)))

	case decoder.KindLUI:
		h.GPRWrite(a.Rd, uint32(a.Imm))
	case decoder.KindAUIPC:
		h.GPRWrite(a.Rd, h.PC+uint32(a.Imm))

	case decoder.KindLB:
		h.load(a, 1, true)
	case decoder.KindLH:
		h.load(a, 2, true)
	case decoder.KindLW:
		h.load(a, 4, true)
	case decoder.KindLBU:
		h.load(a, 1, false)
	case decoder.KindLHU:
		h.load(a, 2, false)
	case decoder.KindLWU:
		h.load(a, 4, false)
	case decoder.KindLD:
		h.loadDoubleword(a)

	case decoder.KindSB:
		h.store(a, 1)
	case decoder.KindSH:
		h.store(a, 2)
	case decoder.KindSW:
		h.store(a, 4)
	case decoder.KindSD:
		h.storeDoubleword(a)

	case decoder.KindBEQ:
		h.branch(a, h.GPRRead(a.Rs1) == h.GPRRead(a.Rs2))
	case decoder.KindBNE:
		h.branch(a, h.GPRRead(a.Rs1) != h.GPRRead(a.Rs2))
	case decoder.KindBLT:
		h.branch(a, int32(h.GPRRead(a.Rs1)) < int32(h.GPRRead(a.Rs2)))
	case decoder.KindBGE:
		h.branch(a, int32(h.GPRRead(a.Rs1)) >= int32(h.GPRRead(a.Rs2)))
	case decoder.KindBLTU:
		h.branch(a, h.GPRRead(a.Rs1) < h.GPRRead(a.Rs2))
	case decoder.KindBGEU:
		h.branch(a, h.GPRRead(a.Rs1) >= h.GPRRead(a.Rs2))

	case decoder.KindJAL:
		h.GPRWrite(a.Rd, h.PC+4)
		h.PC = uint32(int32(h.PC) + a.Imm - 4)
	case decoder.KindJALR:
		target := (h.GPRRead(a.Rs1) + uint32(a.Imm)) &^ 1
		h.GPRWrite(a.Rd, h.PC+4)
		h.PC = target - 4

	case decoder.KindCSRRW:
		h.csrReadModifyWrite(a, func(old, rs uint32) uint32 { return rs }, h.GPRRead(a.Rs1))
	case decoder.KindCSRRS:
		h.csrReadModifyWrite(a, func(old, rs uint32) uint32 { return old | rs }, h.GPRRead(a.Rs1))
	case decoder.KindCSRRC:
		h.csrReadModifyWrite(a, func(old, rs uint32) uint32 { return old &^ rs }, h.GPRRead(a.Rs1))
	case decoder.KindCSRRWI:
		h.csrReadModifyWrite(a, func(old, z uint32) uint32 { return z }, uint32(a.Rs1))
	case decoder.KindCSRRSI:
		h.csrReadModifyWrite(a, func(old, z uint32) uint32 { return old | z }, uint32(a.Rs1))
	case decoder.KindCSRRCI:
		h.csrReadModifyWrite(a, func(old, z uint32) uint32 { return old &^ z }, uint32(a.Rs1))

	case decoder.KindECALL:
		h.terminated = fmt.Errorf("%w: ecall at pc=0x%x", ErrTerminate, h.PC)
	case decoder.KindEBREAK:
		h.terminated = fmt.Errorf("%w: ebreak at pc=0x%x", ErrTerminate, h.PC)

	case decoder.KindSFENCEVMA:
		h.MMU.TLBClear()

	case decoder.KindIllegal:
		h.terminated = fmt.Errorf("%w: illegal opcode sentinel at pc=0x%x", ErrTerminate, h.PC)
		h.PC = uint32(h.Mem.Len())

	default:
		h.terminated = fmt.Errorf("hart: unimplemented action kind %v", a.Kind)
	}
}

func (h *Hart) effectiveAddr(a decoder.Action) uint32 {
	return h.GPRRead(a.Rs1) + uint32(a.Imm)
}

func (h *Hart) load(a decoder.Action, width int, signed bool) {
	addr := h.effectiveAddr(a)
	switch width {
	case 1:
		v, ok, err := h.Mem.ReadByte(addr, mmu.AccessRead)
		h.finishLoad(a, ok, err, func() uint32 {
			if signed {
				return uint32(int32(int8(v)))
			}
			return uint32(v)
		})
	case 2:
		v, ok, err := h.Mem.ReadHalfword(addr, mmu.AccessRead)
		h.finishLoad(a, ok, err, func() uint32 {
			if signed {
				return uint32(int32(int16(v)))
			}
			return uint32(v)
		})
	case 4:
		v, ok, err := h.Mem.ReadWord(addr, mmu.AccessRead)
		h.finishLoad(a, ok, err, func() uint32 { return v })
	}
}

// loadDoubleword backs LD: the value is fetched as a 64-bit doubleword,
// per spec, then truncated into the 32-bit register file.
func (h *Hart) loadDoubleword(a decoder.Action) {
	addr := h.effectiveAddr(a)
	v, ok, err := h.Mem.ReadDoubleword(addr, mmu.AccessRead)
	h.finishLoad(a, ok, err, func() uint32 { return uint32(v) })
}

func (h *Hart) finishLoad(a decoder.Action, ok bool, err error, value func() uint32) {
	if err != nil {
		h.terminated = err
		return
	}
	if !ok {
		return // page fault already redirected PC; no register effect.
	}
	h.GPRWrite(a.Rd, value())
}

func (h *Hart) store(a decoder.Action, width int) {
	addr := h.effectiveAddr(a)
	rs2 := h.GPRRead(a.Rs2)
	var ok bool
	var err error
	switch width {
	case 1:
		ok, err = h.Mem.WriteByte(addr, uint8(rs2))
	case 2:
		ok, err = h.Mem.WriteHalfword(addr, uint16(rs2))
	case 4:
		ok, err = h.Mem.WriteWord(addr, rs2)
	}
	if err != nil {
		h.terminated = err
		return
	}
	_ = ok
}

// storeDoubleword backs SD: rs2 is zero-extended to 64 bits and written
// as a full doubleword; like LD, its memory footprint (8 bytes) differs
// from its 32-bit counterpart.
func (h *Hart) storeDoubleword(a decoder.Action) {
	addr := h.effectiveAddr(a)
	_, err := h.Mem.WriteDoubleword(addr, uint64(h.GPRRead(a.Rs2)))
	if err != nil {
		h.terminated = err
	}
}

func (h *Hart) branch(a decoder.Action, taken bool) {
	if !taken {
		return
	}
	h.PC = uint32(int32(h.PC) + a.Imm - 4)
}

func (h *Hart) csrReadModifyWrite(a decoder.Action, combine func(old, operand uint32) uint32, operand uint32) {
	if int(a.Csr) == csrSATP {
		old := h.MMU.GetSATP()
		h.GPRWrite(a.Rd, old)
		h.MMU.SetSATP(combine(old, operand))
		return
	}
	old := h.CSR[a.Csr]
	h.GPRWrite(a.Rd, old)
	h.CSR[a.Csr] = combine(old, operand)
}
