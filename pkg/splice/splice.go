// Package splice locates instructions in a decoded method and inserts
// instruction fragments in front of them.
package splice

import (
	"errors"
	"fmt"

	"github.com/chazu/classweave/pkg/classfile"
)

var (
	// ErrTargetNotFound reports that the class, method or instruction a
	// splice targets does not exist.
	ErrTargetNotFound = errors.New("splice: target not found")

	// ErrIncompatibleTarget reports a target method whose shape the
	// fragment cannot serve. It matches ErrTargetNotFound under errors.Is.
	ErrIncompatibleTarget = fmt.Errorf("%w: incompatible target", ErrTargetNotFound)
)

// Predicate selects instructions.
type Predicate func(in *classfile.Instruction) bool

// OpcodeIs matches instructions with the given opcode.
func OpcodeIs(op classfile.Opcode) Predicate {
	return func(in *classfile.Instruction) bool { return in.Op == op }
}

// ReturnsReference matches areturn.
var ReturnsReference = OpcodeIs(classfile.ARETURN)

// FindInstruction returns the index in code.Insns of the first real
// instruction matching pred.
func FindInstruction(code *classfile.Code, pred Predicate) (int, error) {
	if code == nil {
		return -1, ErrTargetNotFound
	}
	for i, in := range code.Insns {
		if in.IsReal() && pred(in) {
			return i, nil
		}
	}
	return -1, ErrTargetNotFound
}

// FindAll returns the indexes of every real instruction matching pred,
// in order.
func FindAll(code *classfile.Code, pred Predicate) []int {
	if code == nil {
		return nil
	}
	var out []int
	for i, in := range code.Insns {
		if in.IsReal() && pred(in) {
			out = append(out, i)
		}
	}
	return out
}

// InsertBefore inserts fragment immediately in front of the instruction
// at index. Labels placed before that instruction stay before the
// fragment, so branches to the instruction now run the fragment first.
// The method is marked for re-assembly.
func InsertBefore(m *classfile.Method, index int, fragment []*classfile.Instruction) error {
	if m.Code == nil {
		return fmt.Errorf("%w: %s%s has no code", ErrTargetNotFound, m.Name, m.Descriptor)
	}
	insns := m.Code.Insns
	if index < 0 || index >= len(insns) || !insns[index].IsReal() {
		return fmt.Errorf("splice: index %d is not an instruction of %s%s", index, m.Name, m.Descriptor)
	}
	out := make([]*classfile.Instruction, 0, len(insns)+len(fragment))
	out = append(out, insns[:index]...)
	out = append(out, fragment...)
	out = append(out, insns[index:]...)
	m.Code.Insns = out
	m.MarkModified()
	return nil
}
