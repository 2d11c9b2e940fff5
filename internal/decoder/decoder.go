// Package decoder turns a 32-bit RV32I-with-hooks instruction word into a
// compact, cacheable Action plus a control-flow flag. Decode is a pure
// function: it touches no hart or memory state. It extracts every operand
// field once, at decode time, into the Action, so the same Action can be
// replayed from the basic-block cache without re-decoding.
package decoder

import (
	"errors"
	"fmt"
)

// ErrIllegalInstruction is returned for a structurally invalid variant of
// a recognized opcode (e.g. a LOAD with an unassigned funct3). It is
// never returned for an unrecognized opcode byte — those decode
// successfully to ActionIllegalSentinel instead, per spec.
var ErrIllegalInstruction = errors.New("decoder: illegal instruction")

// Kind tags the semantic action an Action carries. Keeping the action
// itself to a small tagged struct of pre-extracted operands (rather than
// a closure) is what makes blocks cheap to cache and replay.
type Kind uint8

const (
	KindIllegal Kind = iota

	// Register-register arithmetic (OP, 0x33).
	KindADD
	KindSUB
	KindSLL
	KindSLT
	KindSLTU
	KindXOR
	KindSRL
	KindSRA
	KindOR
	KindAND

	// Register-immediate arithmetic (OP-IMM, 0x13).
	KindADDI
	KindSLTI
	KindSLTIU
	KindXORI
	KindORI
	KindANDI
	KindSLLI
	KindSRLI
	KindSRAI

	KindLUI
	KindAUIPC

	// Loads (LOAD, 0x03).
	KindLB
	KindLH
	KindLW
	KindLBU
	KindLHU
	KindLWU
	KindLD

	// Stores (STORE, 0x23).
	KindSB
	KindSH
	KindSW
	KindSD

	// Branches (BRANCH, 0x63).
	KindBEQ
	KindBNE
	KindBLT
	KindBGE
	KindBLTU
	KindBGEU

	KindJAL
	KindJALR

	// CSR access (SYSTEM, 0x73, funct3 != 0).
	KindCSRRW
	KindCSRRS
	KindCSRRC
	KindCSRRWI
	KindCSRRSI
	KindCSRRCI

	KindECALL
	KindEBREAK
	KindSFENCEVMA
)

// String names a Kind for disassembly and diagnostics.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "ILLEGAL"
}

var kindNames = map[Kind]string{
	KindADD: "add", KindSUB: "sub", KindSLL: "sll", KindSLT: "slt",
	KindSLTU: "sltu", KindXOR: "xor", KindSRL: "srl", KindSRA: "sra",
	KindOR: "or", KindAND: "and",
	KindADDI: "addi", KindSLTI: "slti", KindSLTIU: "sltiu", KindXORI: "xori",
	KindORI: "ori", KindANDI: "andi", KindSLLI: "slli", KindSRLI: "srli",
	KindSRAI: "srai",
	KindLUI:  "lui", KindAUIPC: "auipc",
	KindLB: "lb", KindLH: "lh", KindLW: "lw", KindLBU: "lbu", KindLHU: "lhu",
	KindLWU: "lwu", KindLD: "ld",
	KindSB: "sb", KindSH: "sh", KindSW: "sw", KindSD: "sd",
	KindBEQ: "beq", KindBNE: "bne", KindBLT: "blt", KindBGE: "bge",
	KindBLTU: "bltu", KindBGEU: "bgeu",
	KindJAL: "jal", KindJALR: "jalr",
	KindCSRRW: "csrrw", KindCSRRS: "csrrs", KindCSRRC: "csrrc",
	KindCSRRWI: "csrrwi", KindCSRRSI: "csrrsi", KindCSRRCI: "csrrci",
	KindECALL: "ecall", KindEBREAK: "ebreak", KindSFENCEVMA: "sfence.vma",
}

// Action is a decoded instruction: a Kind tag plus the raw operand
// fields every semantic method needs. Every RV32I field is captured
// uniformly (rd/rs1/rs2/imm/csr) even though a given Kind only uses a
// subset, so Action stays a flat, copyable value.
type Action struct {
	Kind Kind
	Rd   uint8
	Rs1  uint8
	Rs2  uint8
	Imm  int32
	Csr  uint16

	// Word is the original encoded instruction, kept for disassembly
	// and diagnostics; semantics never re-derive fields from it.
	Word uint32
}

// ActionIllegalSentinel is the Action produced for an unrecognized
// opcode byte. Its execution parks PC past memory capacity to end the
// run, per the decode-time/execute-time distinction spec'd for illegal
// handling.
var ActionIllegalSentinel = Action{Kind: KindIllegal}

// csrControlFlow lists the CSR addresses whose access must end a basic
// block because a write may redirect PC, the page-table root, or the
// trap vector.
var csrControlFlow = map[uint16]bool{
	0x302: true, // satp
	0x304: true, // mie
	0x305: true, // mtvec
	0x341: true, // mepc
	0x342: true, // mcause
}

// Decode converts a 32-bit instruction word into an Action and reports
// whether it is control-flow. Structurally illegal variants of a known
// opcode return ErrIllegalInstruction; entirely unrecognized opcode
// bytes decode successfully to ActionIllegalSentinel (is_control_flow
// true) instead of erroring.
func Decode(word uint32) (Action, bool, error) {
	opcode := word & 0x7F
	rd := uint8((word >> 7) & 0x1F)
	funct3 := uint8((word >> 12) & 0x7)
	rs1 := uint8((word >> 15) & 0x1F)
	rs2 := uint8((word >> 20) & 0x1F)
	funct7 := uint8((word >> 25) & 0x7F)

	switch opcode {
	case 0x33, 0x3B: // OP, OP-32 (W-suffixed collapse to the same Kind)
		return decodeOp(word, rd, rs1, rs2, funct3, funct7)

	case 0x13, 0x1B: // OP-IMM, OP-IMM-32 (W-suffixed collapse to the same Kind)
		return decodeOpImm(word, rd, rs1, funct3, funct7)

	case 0x37: // LUI
		return Action{Kind: KindLUI, Rd: rd, Imm: int32(word & 0xFFFFF000), Word: word}, false, nil

	case 0x17: // AUIPC
		return Action{Kind: KindAUIPC, Rd: rd, Imm: int32(word & 0xFFFFF000), Word: word}, false, nil

	case 0x03: // LOAD
		return decodeLoad(word, rd, rs1, funct3)

	case 0x23: // STORE
		return decodeStore(word, rs1, rs2, funct3)

	case 0x63: // BRANCH
		return decodeBranch(word, rs1, rs2, funct3)

	case 0x6F: // JAL
		return Action{Kind: KindJAL, Rd: rd, Imm: jImm(word), Word: word}, true, nil

	case 0x67: // JALR
		if funct3 != 0 {
			return Action{}, false, fmt.Errorf("%w: jalr funct3=%d", ErrIllegalInstruction, funct3)
		}
		return Action{Kind: KindJALR, Rd: rd, Rs1: rs1, Imm: iImm(word), Word: word}, true, nil

	case 0x73: // SYSTEM
		return decodeSystem(word, rd, rs1, rs2, funct3, funct7)

	default:
		return ActionIllegalSentinel, true, nil
	}
}

func decodeOp(word uint32, rd, rs1, rs2, funct3, funct7 uint8) (Action, bool, error) {
	a := Action{Rd: rd, Rs1: rs1, Rs2: rs2, Word: word}
	switch funct3 {
	case 0x0:
		switch funct7 {
		case 0x00:
			a.Kind = KindADD
		case 0x20:
			a.Kind = KindSUB
		default:
			return Action{}, false, fmt.Errorf("%w: op funct3=0 funct7=0x%02x", ErrIllegalInstruction, funct7)
		}
	case 0x1:
		a.Kind = KindSLL
	case 0x2:
		a.Kind = KindSLT
	case 0x3:
		a.Kind = KindSLTU
	case 0x4:
		a.Kind = KindXOR
	case 0x5:
		switch funct7 {
		case 0x00:
			a.Kind = KindSRL
		case 0x20:
			a.Kind = KindSRA
		default:
			return Action{}, false, fmt.Errorf("%w: op funct3=5 funct7=0x%02x", ErrIllegalInstruction, funct7)
		}
	case 0x6:
		a.Kind = KindOR
	case 0x7:
		a.Kind = KindAND
	default:
		return Action{}, false, fmt.Errorf("%w: op funct3=%d", ErrIllegalInstruction, funct3)
	}
	return a, false, nil
}

func decodeOpImm(word uint32, rd, rs1, funct3, funct7 uint8) (Action, bool, error) {
	a := Action{Rd: rd, Rs1: rs1, Imm: iImm(word), Word: word}
	switch funct3 {
	case 0x0:
		a.Kind = KindADDI
	case 0x2:
		a.Kind = KindSLTI
	case 0x3:
		a.Kind = KindSLTIU
	case 0x4:
		a.Kind = KindXORI
	case 0x6:
		a.Kind = KindORI
	case 0x7:
		a.Kind = KindANDI
	case 0x1:
		if funct7 != 0x00 {
			return Action{}, false, fmt.Errorf("%w: slli funct7=0x%02x", ErrIllegalInstruction, funct7)
		}
		a.Kind = KindSLLI
		a.Imm = int32(word>>20) & 0x1F
	case 0x5:
		shamt := int32(word>>20) & 0x1F
		switch funct7 {
		case 0x00:
			a.Kind = KindSRLI
		case 0x20:
			a.Kind = KindSRAI
		default:
			return Action{}, false, fmt.Errorf("%w: srli/srai funct7=0x%02x", ErrIllegalInstruction, funct7)
		}
		a.Imm = shamt
	default:
		return Action{}, false, fmt.Errorf("%w: op-imm funct3=%d", ErrIllegalInstruction, funct3)
	}
	return a, false, nil
}

func decodeLoad(word uint32, rd, rs1, funct3 uint8) (Action, bool, error) {
	a := Action{Rd: rd, Rs1: rs1, Imm: iImm(word), Word: word}
	switch funct3 {
	case 0x0:
		a.Kind = KindLB
	case 0x1:
		a.Kind = KindLH
	case 0x2:
		a.Kind = KindLW
	case 0x3:
		a.Kind = KindLD
	case 0x4:
		a.Kind = KindLBU
	case 0x5:
		a.Kind = KindLHU
	case 0x6:
		a.Kind = KindLWU
	default:
		return Action{}, false, fmt.Errorf("%w: load funct3=%d", ErrIllegalInstruction, funct3)
	}
	return a, false, nil
}

func decodeStore(word uint32, rs1, rs2, funct3 uint8) (Action, bool, error) {
	a := Action{Rs1: rs1, Rs2: rs2, Imm: sImm(word), Word: word}
	switch funct3 {
	case 0x0:
		a.Kind = KindSB
	case 0x1:
		a.Kind = KindSH
	case 0x2:
		a.Kind = KindSW
	case 0x3:
		a.Kind = KindSD
	default:
		return Action{}, false, fmt.Errorf("%w: store funct3=%d", ErrIllegalInstruction, funct3)
	}
	return a, false, nil
}

func decodeBranch(word uint32, rs1, rs2, funct3 uint8) (Action, bool, error) {
	a := Action{Rs1: rs1, Rs2: rs2, Imm: bImm(word), Word: word}
	switch funct3 {
	case 0x0:
		a.Kind = KindBEQ
	case 0x1:
		a.Kind = KindBNE
	case 0x4:
		a.Kind = KindBLT
	case 0x5:
		a.Kind = KindBGE
	case 0x6:
		a.Kind = KindBLTU
	case 0x7:
		a.Kind = KindBGEU
	default:
		return Action{}, false, fmt.Errorf("%w: branch funct3=%d", ErrIllegalInstruction, funct3)
	}
	return a, true, nil
}

func decodeSystem(word uint32, rd, rs1, rs2, funct3, funct7 uint8) (Action, bool, error) {
	imm := uint16(word>>20) & 0xFFF
	switch funct3 {
	case 0x0:
		switch {
		case funct7 == 0x09:
			return Action{Kind: KindSFENCEVMA, Rs1: rs1, Rs2: rs2, Word: word}, true, nil
		case imm == 0x000:
			return Action{Kind: KindECALL, Word: word}, true, nil
		case imm == 0x001:
			return Action{Kind: KindEBREAK, Word: word}, true, nil
		default:
			return Action{}, false, fmt.Errorf("%w: system funct3=0 imm=0x%03x funct7=0x%02x", ErrIllegalInstruction, imm, funct7)
		}
	case 0x1:
		return csrAction(word, KindCSRRW, rd, rs1, imm), csrControlFlow[imm], nil
	case 0x2:
		return csrAction(word, KindCSRRS, rd, rs1, imm), csrControlFlow[imm], nil
	case 0x3:
		return csrAction(word, KindCSRRC, rd, rs1, imm), csrControlFlow[imm], nil
	case 0x5:
		return csrImmAction(word, KindCSRRWI, rd, rs1, imm), csrControlFlow[imm], nil
	case 0x6:
		return csrImmAction(word, KindCSRRSI, rd, rs1, imm), csrControlFlow[imm], nil
	case 0x7:
		return csrImmAction(word, KindCSRRCI, rd, rs1, imm), csrControlFlow[imm], nil
	default:
		return Action{}, false, fmt.Errorf("%w: system funct3=%d", ErrIllegalInstruction, funct3)
	}
}

func csrAction(word uint32, kind Kind, rd, rs1 uint8, csr uint16) Action {
	return Action{Kind: kind, Rd: rd, Rs1: rs1, Csr: csr, Word: word}
}

// csrImmAction stores the 5-bit zimm field (zero-extended, no sign bit
// to extend) in Rs1, matching the real encoding where CSRRWI/SI/CI place
// the immediate in the rs1 field position.
func csrImmAction(word uint32, kind Kind, rd, zimm uint8, csr uint16) Action {
	return Action{Kind: kind, Rd: rd, Rs1: zimm, Csr: csr, Word: word}
}

// iImm sign-extends the I-type 12-bit immediate (bits 20-31).
func iImm(word uint32) int32 {
	return int32(word) >> 20
}

// sImm sign-extends the S-type 12-bit immediate (bits 7-11, 25-31).
func sImm(word uint32) int32 {
	imm := ((word >> 25) << 5) | ((word >> 7) & 0x1F)
	return signExtend(imm, 12)
}

// bImm sign-extends the B-type 13-bit immediate (bit 0 implicitly zero).
func bImm(word uint32) int32 {
	imm := ((word >> 31) << 12) |
		(((word >> 7) & 0x1) << 11) |
		(((word >> 25) & 0x3F) << 5) |
		(((word >> 8) & 0xF) << 1)
	return signExtend(imm, 13)
}

// jImm sign-extends the J-type 21-bit immediate (bit 0 implicitly zero).
func jImm(word uint32) int32 {
	imm := ((word >> 31) << 20) |
		(((word >> 12) & 0xFF) << 12) |
		(((word >> 20) & 0x1) << 11) |
		(((word >> 21) & 0x3FF) << 1)
	return signExtend(imm, 21)
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// Disassemble renders a decoded Action as a short mnemonic line, used by
// the interactive debugger.
func Disassemble(a Action) string {
	switch a.Kind {
	case KindLUI, KindAUIPC:
		return fmt.Sprintf("%s x%d, 0x%x", a.Kind, a.Rd, uint32(a.Imm)>>12)
	case KindJAL:
		return fmt.Sprintf("%s x%d, %d", a.Kind, a.Rd, a.Imm)
	case KindJALR:
		return fmt.Sprintf("%s x%d, %d(x%d)", a.Kind, a.Rd, a.Imm, a.Rs1)
	case KindBEQ, KindBNE, KindBLT, KindBGE, KindBLTU, KindBGEU:
		return fmt.Sprintf("%s x%d, x%d, %d", a.Kind, a.Rs1, a.Rs2, a.Imm)
	case KindSB, KindSH, KindSW, KindSD:
		return fmt.Sprintf("%s x%d, %d(x%d)", a.Kind, a.Rs2, a.Imm, a.Rs1)
	case KindLB, KindLH, KindLW, KindLBU, KindLHU, KindLWU, KindLD:
		return fmt.Sprintf("%s x%d, %d(x%d)", a.Kind, a.Rd, a.Imm, a.Rs1)
	case KindCSRRW, KindCSRRS, KindCSRRC:
		return fmt.Sprintf("%s x%d, 0x%x, x%d", a.Kind, a.Rd, a.Csr, a.Rs1)
	case KindCSRRWI, KindCSRRSI, KindCSRRCI:
		return fmt.Sprintf("%s x%d, 0x%x, %d", a.Kind, a.Rd, a.Csr, a.Rs1)
	case KindECALL, KindEBREAK, KindSFENCEVMA:
		return a.Kind.String()
	case KindIllegal:
		return "ill"
	default:
		return fmt.Sprintf("%s x%d, x%d, x%d", a.Kind, a.Rd, a.Rs1, a.Rs2)
	}
}
