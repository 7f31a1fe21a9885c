package splice

import (
	"fmt"

	"github.com/chazu/classweave/pkg/classfile"
)

// Fragment builds an instruction sequence against a class's constant
// pool. Pool entries are added as instructions are appended.
type Fragment struct {
	pool   *classfile.ConstantPool
	prefix string
	insns  []*classfile.Instruction
}

// NewFragment returns an empty fragment. prefix names its labels.
func NewFragment(pool *classfile.ConstantPool, prefix string) *Fragment {
	return &Fragment{pool: pool, prefix: prefix}
}

// Label returns a new unplaced label owned by the fragment.
func (f *Fragment) Label(name string) *classfile.Label {
	return classfile.NewLabel(fmt.Sprintf("%s.%s", f.prefix, name))
}

func (f *Fragment) add(in *classfile.Instruction) *Fragment {
	f.insns = append(f.insns, in)
	return f
}

// Op appends an instruction without operands.
func (f *Fragment) Op(op classfile.Opcode) *Fragment {
	return f.add(classfile.Insn(op))
}

// Var appends a load or store of slot.
func (f *Fragment) Var(op classfile.Opcode, slot int) *Fragment {
	return f.add(classfile.VarInsn(op, slot))
}

// Type appends new, checkcast, instanceof or anewarray of class.
func (f *Fragment) Type(op classfile.Opcode, class string) *Fragment {
	return f.add(classfile.PoolInsn(op, f.pool.AddClass(class)))
}

// Invoke appends a method call. invokeinterface refers to an interface
// method entry, every other invoke to a method entry.
func (f *Fragment) Invoke(op classfile.Opcode, owner, name, desc string) *Fragment {
	var idx uint16
	if op == classfile.INVOKEINTERFACE {
		idx = f.pool.AddInterfaceMethodref(owner, name, desc)
	} else {
		idx = f.pool.AddMethodref(owner, name, desc)
	}
	return f.add(classfile.PoolInsn(op, idx))
}

// Ldc appends a string constant load.
func (f *Fragment) Ldc(s string) *Fragment {
	return f.add(classfile.PoolInsn(classfile.LDC, f.pool.AddString(s)))
}

// Jump appends a branch to l.
func (f *Fragment) Jump(op classfile.Opcode, l *classfile.Label) *Fragment {
	return f.add(classfile.JumpInsn(op, l))
}

// Mark places l at the current position.
func (f *Fragment) Mark(l *classfile.Label) *Fragment {
	return f.add(classfile.LabelInsn(l))
}

// Instructions returns the built sequence.
func (f *Fragment) Instructions() []*classfile.Instruction {
	return f.insns
}
