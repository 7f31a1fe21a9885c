package classfile

import "fmt"

// Label marks a position in a method's instruction list. Instructions
// refer to labels by pointer; a label is placed by a LABEL instruction.
type Label struct {
	Name string

	offset int // assigned while decoding or assembling
}

// NewLabel returns an unplaced label.
func NewLabel(name string) *Label {
	return &Label{Name: name, offset: -1}
}

// Offset returns the byte offset of the label in the most recently
// decoded or assembled code, or -1.
func (l *Label) Offset() int {
	return l.offset
}

func (l *Label) String() string {
	if l == nil {
		return "<nil>"
	}
	return l.Name
}

// Instruction is one element of a decoded instruction list. Compact and
// wide encodings are normalized: iload_1 decodes as ILOAD with Var 1,
// ldc_w as LDC, goto_w as GOTO, jsr_w as JSR.
type Instruction struct {
	Op Opcode

	Var   int    // local slot: loads, stores, iinc, ret
	Int   int32  // bipush/sipush value, iinc delta, newarray type, multianewarray dimensions, LINE number
	Index uint16 // constant pool reference

	Target *Label // branch target
	Label  *Label // LABEL and LINE

	// tableswitch uses Low/High, lookupswitch uses Keys.
	Default *Label
	Low     int32
	High    int32
	Keys    []int32
	Targets []*Label
}

// Insn returns an instruction without operands.
func Insn(op Opcode) *Instruction {
	return &Instruction{Op: op}
}

// VarInsn returns a load, store or ret instruction.
func VarInsn(op Opcode, slot int) *Instruction {
	return &Instruction{Op: op, Var: slot}
}

// IntInsn returns a bipush, sipush or newarray instruction.
func IntInsn(op Opcode, v int32) *Instruction {
	return &Instruction{Op: op, Int: v}
}

// IincInsn returns an iinc instruction.
func IincInsn(slot int, delta int32) *Instruction {
	return &Instruction{Op: IINC, Var: slot, Int: delta}
}

// PoolInsn returns an instruction referencing the constant pool (ldc,
// field and method access, new, checkcast, ...).
func PoolInsn(op Opcode, index uint16) *Instruction {
	return &Instruction{Op: op, Index: index}
}

// JumpInsn returns a branch to target.
func JumpInsn(op Opcode, target *Label) *Instruction {
	return &Instruction{Op: op, Target: target}
}

// LabelInsn places l in an instruction list.
func LabelInsn(l *Label) *Instruction {
	return &Instruction{Op: LABEL, Label: l}
}

// LineInsn records that the code at l belongs to source line line.
func LineInsn(l *Label, line int) *Instruction {
	return &Instruction{Op: LINE, Label: l, Int: int32(line)}
}

// IsReal reports whether the instruction occupies bytes in the code array.
func (in *Instruction) IsReal() bool {
	return !in.Op.IsPseudo()
}

// Labels returns every label the instruction branches to.
func (in *Instruction) Labels() []*Label {
	switch {
	case in.Op.IsBranch():
		return []*Label{in.Target}
	case in.Op.IsSwitch():
		out := make([]*Label, 0, len(in.Targets)+1)
		out = append(out, in.Default)
		return append(out, in.Targets...)
	}
	return nil
}

func (in *Instruction) String() string {
	switch in.Op {
	case LABEL:
		return in.Label.String() + ":"
	case LINE:
		return fmt.Sprintf("line %d (%s)", in.Int, in.Label)
	}
	info, _ := GetOpcodeInfo(in.Op)
	switch info.Operand {
	case OperandVar, OperandImplicitVar:
		return fmt.Sprintf("%s %d", in.Op, in.Var)
	case OperandIinc:
		return fmt.Sprintf("%s %d %d", in.Op, in.Var, in.Int)
	case OperandByte, OperandShort, OperandNewArray:
		return fmt.Sprintf("%s %d", in.Op, in.Int)
	case OperandPool, OperandPoolByte, OperandInvokeInterface, OperandInvokeDynamic:
		return fmt.Sprintf("%s #%d", in.Op, in.Index)
	case OperandMultiANewArray:
		return fmt.Sprintf("%s #%d %d", in.Op, in.Index, in.Int)
	case OperandBranch, OperandBranchWide:
		return fmt.Sprintf("%s %s", in.Op, in.Target)
	case OperandTableSwitch:
		return fmt.Sprintf("%s %d..%d default %s", in.Op, in.Low, in.High, in.Default)
	case OperandLookupSwitch:
		return fmt.Sprintf("%s %d keys default %s", in.Op, len(in.Keys), in.Default)
	}
	return in.Op.String()
}
