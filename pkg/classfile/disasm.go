package classfile

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the class: header,
// constant pool summary and each method's instruction list.
func (cf *ClassFile) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", BinaryName(cf.Name())))
	sb.WriteString(fmt.Sprintf("; Version: %d.%d\n", cf.Major, cf.Minor))
	if super := cf.SuperName(); super != "" {
		sb.WriteString(fmt.Sprintf("; Super: %s\n", BinaryName(super)))
	}
	sb.WriteString(fmt.Sprintf("; Constants: %d\n", cf.Pool.Len()-1))
	sb.WriteString("\n")

	for _, m := range cf.Methods {
		sb.WriteString(DisassembleMethod(cf, m))
		sb.WriteString("\n")
	}
	return sb.String()
}

// DisassembleMethod returns the listing of a single method.
func DisassembleMethod(cf *ClassFile, m *Method) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s%s  ; access 0x%04X\n", m.Name, m.Descriptor, m.Access))
	if m.Code == nil {
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("; max_stack=%d max_locals=%d\n", m.Code.MaxStack, m.Code.MaxLocals))

	for _, in := range m.Code.Insns {
		switch in.Op {
		case LABEL:
			sb.WriteString(fmt.Sprintf("%s:\n", in.Label))
			continue
		case LINE:
			sb.WriteString(fmt.Sprintf("    ; line %d\n", in.Int))
			continue
		}
		sb.WriteString("    ")
		sb.WriteString(in.String())
		if comment := poolComment(cf.Pool, in); comment != "" {
			sb.WriteString("  ; ")
			sb.WriteString(comment)
		}
		sb.WriteString("\n")
	}

	for _, h := range m.Code.Handlers {
		catch := "any"
		if h.CatchType != 0 {
			catch, _ = cf.Pool.ClassName(h.CatchType)
		}
		sb.WriteString(fmt.Sprintf("; try %s-%s catch %s -> %s\n", h.Start, h.End, catch, h.Handler))
	}
	return sb.String()
}

func poolComment(pool *ConstantPool, in *Instruction) string {
	info, _ := GetOpcodeInfo(in.Op)
	switch info.Operand {
	case OperandPool, OperandPoolByte, OperandInvokeInterface, OperandInvokeDynamic, OperandMultiANewArray:
	default:
		return ""
	}
	c := pool.Get(in.Index)
	if c == nil {
		return "<invalid>"
	}
	switch c.Tag {
	case TagClass:
		name, _ := pool.ClassName(in.Index)
		return name
	case TagString:
		s, _ := pool.StringValue(in.Index)
		if len(s) > 40 {
			s = s[:37] + "..."
		}
		return fmt.Sprintf("%q", s)
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		ref, err := pool.Member(in.Index)
		if err != nil {
			return "<invalid>"
		}
		return ref.String()
	case TagInvokeDynamic, TagDynamic:
		name, desc, _ := pool.InvokeDynamic(in.Index)
		return name + desc
	case TagInteger:
		return fmt.Sprintf("%d", int32(c.Bits))
	case TagLong:
		return fmt.Sprintf("%d", int64(c.Bits))
	}
	return c.Tag.String()
}
