package classfile

import (
	"encoding/binary"
	"sort"
	"strconv"
)

// Attribute names handled by the code model.
const (
	attrCode                   = "Code"
	attrStackMapTable          = "StackMapTable"
	attrLineNumberTable        = "LineNumberTable"
	attrLocalVariableTable     = "LocalVariableTable"
	attrLocalVariableTypeTable = "LocalVariableTypeTable"
)

// maxCodeLength is the JVM limit on a method's code array.
const maxCodeLength = 65535

// Handler is one exception table entry. CatchType 0 catches everything.
type Handler struct {
	Start     *Label
	End       *Label
	Handler   *Label
	CatchType uint16
}

// LocalVar is one LocalVariableTable or LocalVariableTypeTable entry.
// For type-table entries (Signature true) DescIndex names the signature.
type LocalVar struct {
	Start     *Label
	End       *Label
	NameIndex uint16
	DescIndex uint16
	Index     int
	Signature bool
}

// Code is the decoded view of a Code attribute.
type Code struct {
	MaxStack  uint16
	MaxLocals uint16
	Insns     []*Instruction
	Handlers  []Handler
	LocalVars []LocalVar

	// Attributes holds the remaining Code sub-attributes (StackMapTable
	// and anything unrecognized). They are dropped when the method is
	// re-assembled.
	Attributes []*Attribute
}

// RealCount returns the number of non-pseudo instructions.
func (c *Code) RealCount() int {
	n := 0
	for _, in := range c.Insns {
		if in.IsReal() {
			n++
		}
	}
	return n
}

// FirstFreeLocal returns the lowest local slot that no parameter,
// instruction, local variable entry or the declared max_locals claims.
func (m *Method) FirstFreeLocal(pool *ConstantPool) (int, error) {
	params, _, err := ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return 0, err
	}
	free := 0
	if !m.IsStatic() {
		free = 1
	}
	for _, p := range params {
		free += slotWidth(p)
	}
	if m.Code == nil {
		return free, nil
	}
	if int(m.Code.MaxLocals) > free {
		free = int(m.Code.MaxLocals)
	}
	for _, in := range m.Code.Insns {
		switch {
		case in.Op.IsLoad(), in.Op.IsStore():
			free = max(free, in.Var+in.Op.VarWidth())
		case in.Op == IINC, in.Op == RET:
			free = max(free, in.Var+1)
		}
	}
	for _, lv := range m.Code.LocalVars {
		width := 1
		if !lv.Signature {
			if d, err := pool.Utf8(lv.DescIndex); err == nil {
				width = slotWidth(d)
			}
		}
		free = max(free, lv.Index+width)
	}
	return free, nil
}

func decodeCode(pool *ConstantPool, data []byte) (*Code, error) {
	r := newReader(data)
	c := &Code{
		MaxStack:  r.u2("max_stack"),
		MaxLocals: r.u2("max_locals"),
	}
	length := int(r.u4("code_length"))
	if r.err != nil {
		return nil, r.err
	}
	if length == 0 || length > maxCodeLength {
		return nil, malformed("code_length %d", length)
	}
	code := r.bytes(length, "code")

	type rawHandler struct{ start, end, handler, catch uint16 }
	handlers := make([]rawHandler, int(r.u2("exception_table_length")))
	for i := range handlers {
		handlers[i] = rawHandler{r.u2("start_pc"), r.u2("end_pc"), r.u2("handler_pc"), r.u2("catch_type")}
	}
	attrs, err := parseAttributes(r, pool)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, malformed("%d trailing bytes in Code attribute", r.remaining())
	}

	d := &codeDecoder{code: code, labels: make(map[int]*Label)}
	var decoded []decodedInsn
	starts := make(map[int]bool)
	for pos := 0; pos < len(code); {
		in, next, err := d.decode(pos)
		if err != nil {
			return nil, err
		}
		starts[pos] = true
		decoded = append(decoded, decodedInsn{pos, in})
		pos = next
	}
	starts[len(code)] = true

	for _, h := range handlers {
		if h.start >= h.end {
			return nil, malformed("exception range %d-%d", h.start, h.end)
		}
		entry := Handler{CatchType: h.catch}
		if entry.Start, err = d.labelAt(int(h.start)); err != nil {
			return nil, err
		}
		if entry.End, err = d.labelAt(int(h.end)); err != nil {
			return nil, err
		}
		if entry.Handler, err = d.labelAt(int(h.handler)); err != nil {
			return nil, err
		}
		c.Handlers = append(c.Handlers, entry)
	}

	lines := make(map[int][]int)
	for _, a := range attrs {
		switch a.Name {
		case attrLineNumberTable:
			ar := newReader(a.Data)
			n := int(ar.u2("line_number_table_length"))
			for i := 0; i < n; i++ {
				pc := int(ar.u2("start_pc"))
				line := int(ar.u2("line_number"))
				if ar.err != nil {
					break
				}
				if _, err := d.labelAt(pc); err != nil {
					return nil, err
				}
				lines[pc] = append(lines[pc], line)
			}
			if ar.err != nil {
				return nil, ar.err
			}
		case attrLocalVariableTable, attrLocalVariableTypeTable:
			ar := newReader(a.Data)
			n := int(ar.u2("local_variable_table_length"))
			for i := 0; i < n; i++ {
				pc := int(ar.u2("start_pc"))
				span := int(ar.u2("length"))
				lv := LocalVar{
					NameIndex: ar.u2("name_index"),
					DescIndex: ar.u2("descriptor_index"),
					Index:     int(ar.u2("index")),
					Signature: a.Name == attrLocalVariableTypeTable,
				}
				if ar.err != nil {
					break
				}
				if lv.Start, err = d.labelAt(pc); err != nil {
					return nil, err
				}
				if lv.End, err = d.labelAt(pc + span); err != nil {
					return nil, err
				}
				c.LocalVars = append(c.LocalVars, lv)
			}
			if ar.err != nil {
				return nil, ar.err
			}
		default:
			c.Attributes = append(c.Attributes, a)
		}
	}

	offsets := make([]int, 0, len(d.labels))
	for off := range d.labels {
		if !starts[off] {
			return nil, malformed("label at offset %d is inside an instruction", off)
		}
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	for i, off := range offsets {
		d.labels[off].Name = "L" + strconv.Itoa(i)
	}

	c.Insns = make([]*Instruction, 0, len(decoded)+len(offsets))
	for _, di := range decoded {
		if l := d.labels[di.offset]; l != nil {
			c.Insns = append(c.Insns, LabelInsn(l))
			for _, line := range lines[di.offset] {
				c.Insns = append(c.Insns, LineInsn(l, line))
			}
		}
		c.Insns = append(c.Insns, di.in)
	}
	if l := d.labels[len(code)]; l != nil {
		c.Insns = append(c.Insns, LabelInsn(l))
	}
	return c, nil
}

type decodedInsn struct {
	offset int
	in     *Instruction
}

type codeDecoder struct {
	code   []byte
	labels map[int]*Label
}

func (d *codeDecoder) labelAt(off int) (*Label, error) {
	if off < 0 || off > len(d.code) {
		return nil, malformed("code offset %d out of range", off)
	}
	l := d.labels[off]
	if l == nil {
		l = &Label{offset: off}
		d.labels[off] = l
	}
	return l, nil
}

func (d *codeDecoder) u1(p int) int { return int(d.code[p]) }

func (d *codeDecoder) u2(p int) int { return int(binary.BigEndian.Uint16(d.code[p:])) }

func (d *codeDecoder) s2(p int) int { return int(int16(binary.BigEndian.Uint16(d.code[p:]))) }

func (d *codeDecoder) s4(p int) int32 { return int32(binary.BigEndian.Uint32(d.code[p:])) }

func (d *codeDecoder) need(pos, n int) error {
	if pos+n > len(d.code) {
		return malformed("instruction at offset %d runs past the end of the code", pos)
	}
	return nil
}

// decode decodes the instruction at pos and returns it with the offset
// of the next instruction.
func (d *codeDecoder) decode(pos int) (*Instruction, int, error) {
	op := Opcode(d.code[pos])
	info, ok := GetOpcodeInfo(op)
	if !ok || op.IsPseudo() {
		return nil, 0, malformed("unknown opcode 0x%02X at offset %d", uint16(op), pos)
	}

	switch info.Operand {
	case OperandNone:
		return Insn(op), pos + 1, nil

	case OperandByte, OperandNewArray:
		if err := d.need(pos, 2); err != nil {
			return nil, 0, err
		}
		v := int32(int8(d.code[pos+1]))
		if op == NEWARRAY {
			v = int32(d.code[pos+1])
		}
		return IntInsn(op, v), pos + 2, nil

	case OperandShort:
		if err := d.need(pos, 3); err != nil {
			return nil, 0, err
		}
		return IntInsn(op, int32(d.s2(pos+1))), pos + 3, nil

	case OperandPoolByte:
		if err := d.need(pos, 2); err != nil {
			return nil, 0, err
		}
		return PoolInsn(LDC, uint16(d.u1(pos+1))), pos + 2, nil

	case OperandPool:
		if err := d.need(pos, 3); err != nil {
			return nil, 0, err
		}
		if op == LDC_W {
			op = LDC
		}
		return PoolInsn(op, uint16(d.u2(pos+1))), pos + 3, nil

	case OperandVar:
		if err := d.need(pos, 2); err != nil {
			return nil, 0, err
		}
		return VarInsn(op, d.u1(pos+1)), pos + 2, nil

	case OperandImplicitVar:
		if op <= ALOAD_3 {
			n := int(op - ILOAD_0)
			return VarInsn(ILOAD+Opcode(n/4), n%4), pos + 1, nil
		}
		n := int(op - ISTORE_0)
		return VarInsn(ISTORE+Opcode(n/4), n%4), pos + 1, nil

	case OperandIinc:
		if err := d.need(pos, 3); err != nil {
			return nil, 0, err
		}
		return IincInsn(d.u1(pos+1), int32(int8(d.code[pos+2]))), pos + 3, nil

	case OperandBranch:
		if err := d.need(pos, 3); err != nil {
			return nil, 0, err
		}
		target, err := d.labelAt(pos + d.s2(pos+1))
		if err != nil {
			return nil, 0, err
		}
		return JumpInsn(op, target), pos + 3, nil

	case OperandBranchWide:
		if err := d.need(pos, 5); err != nil {
			return nil, 0, err
		}
		target, err := d.labelAt(pos + int(d.s4(pos+1)))
		if err != nil {
			return nil, 0, err
		}
		if op == GOTO_W {
			op = GOTO
		} else {
			op = JSR
		}
		return JumpInsn(op, target), pos + 5, nil

	case OperandTableSwitch:
		p := (pos + 4) &^ 3
		if err := d.need(p, 12); err != nil {
			return nil, 0, err
		}
		in := &Instruction{Op: op, Low: d.s4(p + 4), High: d.s4(p + 8)}
		if in.High < in.Low {
			return nil, 0, malformed("tableswitch at %d has high %d < low %d", pos, in.High, in.Low)
		}
		n := int64(in.High) - int64(in.Low) + 1
		if n > maxCodeLength {
			return nil, 0, malformed("tableswitch at %d has %d entries", pos, n)
		}
		if err := d.need(p, 12+int(n)*4); err != nil {
			return nil, 0, err
		}
		var err error
		if in.Default, err = d.labelAt(pos + int(d.s4(p))); err != nil {
			return nil, 0, err
		}
		in.Targets = make([]*Label, n)
		for i := range in.Targets {
			if in.Targets[i], err = d.labelAt(pos + int(d.s4(p+12+i*4))); err != nil {
				return nil, 0, err
			}
		}
		return in, p + 12 + int(n)*4, nil

	case OperandLookupSwitch:
		p := (pos + 4) &^ 3
		if err := d.need(p, 8); err != nil {
			return nil, 0, err
		}
		n := int(d.s4(p + 4))
		if n < 0 || n > maxCodeLength {
			return nil, 0, malformed("lookupswitch at %d has %d pairs", pos, n)
		}
		if err := d.need(p, 8+n*8); err != nil {
			return nil, 0, err
		}
		in := &Instruction{Op: op, Keys: make([]int32, n), Targets: make([]*Label, n)}
		var err error
		if in.Default, err = d.labelAt(pos + int(d.s4(p))); err != nil {
			return nil, 0, err
		}
		for i := 0; i < n; i++ {
			in.Keys[i] = d.s4(p + 8 + i*8)
			if in.Targets[i], err = d.labelAt(pos + int(d.s4(p+12+i*8))); err != nil {
				return nil, 0, err
			}
		}
		return in, p + 8 + n*8, nil

	case OperandInvokeInterface:
		if err := d.need(pos, 5); err != nil {
			return nil, 0, err
		}
		return PoolInsn(op, uint16(d.u2(pos+1))), pos + 5, nil

	case OperandInvokeDynamic:
		if err := d.need(pos, 5); err != nil {
			return nil, 0, err
		}
		return PoolInsn(op, uint16(d.u2(pos+1))), pos + 5, nil

	case OperandMultiANewArray:
		if err := d.need(pos, 4); err != nil {
			return nil, 0, err
		}
		return &Instruction{Op: op, Index: uint16(d.u2(pos + 1)), Int: int32(d.u1(pos + 3))}, pos + 4, nil

	case OperandWide:
		if err := d.need(pos, 4); err != nil {
			return nil, 0, err
		}
		inner := Opcode(d.code[pos+1])
		switch {
		case inner == IINC:
			if err := d.need(pos, 6); err != nil {
				return nil, 0, err
			}
			return IincInsn(d.u2(pos+2), int32(d.s2(pos+4))), pos + 6, nil
		case inner.IsLoad(), inner.IsStore(), inner == RET:
			return VarInsn(inner, d.u2(pos+2)), pos + 4, nil
		}
		return nil, 0, malformed("wide applied to %s at offset %d", inner, pos)
	}
	return nil, 0, malformed("cannot decode %s at offset %d", op, pos)
}
