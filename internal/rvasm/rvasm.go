// Package rvasm assembles RV32I instruction structs into encoded
// 32-bit words. It generalizes the teacher's text-assembler idiom — a
// small Instruction interface, each variant owning its own Encode
// method, plus a two-pass label table for branch/jump targets — from
// RiSC-16's three instruction formats to RV32I's five, and drops the
// line-oriented lexer/parser: this simulator's external interface is a
// compiled ELF image, not an assembly source file, so there is no text
// syntax to parse. It exists so tests can build short RV32I programs
// by mnemonic instead of by hand-encoded hex literals.
package rvasm

import "fmt"

// Instruction is one not-yet-encoded RV32I instruction. Label targets
// are resolved against a program's label table at Encode time, the
// same two-pass shape the teacher's assembler uses for its own
// forward-referencing branches.
type Instruction interface {
	// Encode renders the instruction at the given program-counter word
	// index, resolving any label reference against labels.
	Encode(labels map[string]int, pc int) (uint32, error)
}

// Program is an ordered, nameable sequence of instructions.
type Program struct {
	instructions []Instruction
	labels       map[string]int
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{labels: make(map[string]int)}
}

// Label records name as pointing at the next instruction to be added.
func (p *Program) Label(name string) {
	p.labels[name] = len(p.instructions)
}

// Add appends an instruction.
func (p *Program) Add(i Instruction) {
	p.instructions = append(p.instructions, i)
}

// Encode renders every instruction to its 32-bit word, in order.
func (p *Program) Encode() ([]uint32, error) {
	words := make([]uint32, len(p.instructions))
	for pc, instr := range p.instructions {
		w, err := instr.Encode(p.labels, pc)
		if err != nil {
			return nil, fmt.Errorf("rvasm: instruction %d: %w", pc, err)
		}
		words[pc] = w
	}
	return words, nil
}

func rType(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func iType(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xFFF)<<20 | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func sType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm) & 0xFFF
	return ((u >> 5) << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | ((u & 0x1F) << 7) | opcode
}

func bType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm) & 0x1FFF
	bit12 := (u >> 12) & 1
	bit11 := (u >> 11) & 1
	bits10_5 := (u >> 5) & 0x3F
	bits4_1 := (u >> 1) & 0xF
	return (bit12 << 31) | (bits10_5 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (bits4_1 << 8) | (bit11 << 7) | opcode
}

func uType(opcode, rd uint32, imm int32) uint32 {
	return (uint32(imm) & 0xFFFFF000) | (rd << 7) | opcode
}

func jType(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm) & 0x1FFFFF
	bit20 := (u >> 20) & 1
	bits10_1 := (u >> 1) & 0x3FF
	bit11 := (u >> 11) & 1
	bits19_12 := (u >> 12) & 0xFF
	return (bit20 << 31) | (bits10_1 << 21) | (bit11 << 20) | (bits19_12 << 12) | (rd << 7) | opcode
}

// ADDI builds an ADDI rd, rs1, imm instruction.
func ADDI(rd, rs1 uint32, imm int32) Instruction { return immOp{0x13, rd, 0x0, rs1, imm} }

// ADD builds an ADD rd, rs1, rs2 instruction.
func ADD(rd, rs1, rs2 uint32) Instruction { return regOp{rd, 0x0, rs1, rs2, 0x00} }

// SUB builds a SUB rd, rs1, rs2 instruction.
func SUB(rd, rs1, rs2 uint32) Instruction { return regOp{rd, 0x0, rs1, rs2, 0x20} }

// LUI builds a LUI rd, imm20 instruction (imm20 already shifted to bits 12-31).
func LUI(rd uint32, imm int32) Instruction { return uOp{0x37, rd, imm} }

// AUIPC builds an AUIPC rd, imm20 instruction.
func AUIPC(rd uint32, imm int32) Instruction { return uOp{0x17, rd, imm} }

// JAL builds a JAL rd, label instruction; the offset is resolved
// against the program's label table at encode time.
func JAL(rd uint32, label string) Instruction { return jalOp{rd, label} }

// BEQ builds a BEQ rs1, rs2, label instruction.
func BEQ(rs1, rs2 uint32, label string) Instruction { return branchOp{0x0, rs1, rs2, label} }

// ECALL builds an ECALL instruction.
func ECALL() Instruction { return rawOp{0x73} }

type immOp struct {
	opcode, rd, funct3, rs1 uint32
	imm                     int32
}

func (o immOp) Encode(map[string]int, int) (uint32, error) {
	return iType(o.opcode, o.rd, o.funct3, o.rs1, o.imm), nil
}

type regOp struct {
	rd, funct3, rs1, rs2, funct7 uint32
}

func (o regOp) Encode(map[string]int, int) (uint32, error) {
	return rType(0x33, o.rd, o.funct3, o.rs1, o.rs2, o.funct7), nil
}

type uOp struct {
	opcode, rd uint32
	imm        int32
}

func (o uOp) Encode(map[string]int, int) (uint32, error) {
	return uType(o.opcode, o.rd, o.imm), nil
}

type jalOp struct {
	rd    uint32
	label string
}

func (o jalOp) Encode(labels map[string]int, pc int) (uint32, error) {
	target, ok := labels[o.label]
	if !ok {
		return 0, fmt.Errorf("undefined label %q", o.label)
	}
	offset := int32((target - pc) * 4)
	return jType(0x6F, o.rd, offset), nil
}

type branchOp struct {
	funct3, rs1, rs2 uint32
	label            string
}

func (o branchOp) Encode(labels map[string]int, pc int) (uint32, error) {
	target, ok := labels[o.label]
	if !ok {
		return 0, fmt.Errorf("undefined label %q", o.label)
	}
	offset := int32((target - pc) * 4)
	return bType(0x63, o.funct3, o.rs1, o.rs2, offset), nil
}

type rawOp struct {
	word uint32
}

func (o rawOp) Encode(map[string]int, int) (uint32, error) {
	return o.word, nil
}
