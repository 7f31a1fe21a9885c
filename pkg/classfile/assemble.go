package classfile

import (
	"encoding/binary"
	"math"
	"sort"
)

// assembler encodes one modified method's instruction list into the body
// of a Code attribute.
type assembler struct {
	cf    *ClassFile
	m     *Method
	insns []*Instruction
	an    *Analysis

	wide     map[*Instruction]bool // gotos promoted to goto_w
	offsets  []int
	size     int
	labelOff map[*Label]int
	labelIdx map[*Label]int
}

// assemble re-encodes m's Code attribute. Unreachable instructions are
// dropped, branch offsets are laid out (promoting goto to goto_w where a
// 16-bit offset does not reach), and max_stack, max_locals and the
// StackMapTable are recomputed.
func assemble(cf *ClassFile, m *Method) ([]byte, error) {
	a := &assembler{cf: cf, m: m, insns: m.Code.Insns, wide: make(map[*Instruction]bool)}

	an, err := analyze(cf, m, a.insns)
	if err != nil {
		return nil, err
	}
	if kept := reachable(a.insns, an.Frames); len(kept) != len(a.insns) {
		a.insns = kept
		if an, err = analyze(cf, m, a.insns); err != nil {
			return nil, err
		}
	}
	a.an = an

	if err := a.layout(); err != nil {
		return nil, err
	}
	code, err := a.encode()
	if err != nil {
		return nil, err
	}
	if an.MaxStack > math.MaxUint16 || an.MaxLocals > math.MaxUint16 {
		return nil, unrepresentable("max_stack %d / max_locals %d", an.MaxStack, an.MaxLocals)
	}
	m.Code.MaxStack = uint16(an.MaxStack)
	m.Code.MaxLocals = uint16(an.MaxLocals)

	buf := make([]byte, 0, len(code)+64)
	buf = binary.BigEndian.AppendUint16(buf, m.Code.MaxStack)
	buf = binary.BigEndian.AppendUint16(buf, m.Code.MaxLocals)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(code)))
	buf = append(buf, code...)

	handlers, err := a.handlerTable()
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(handlers)))
	for _, h := range handlers {
		for _, v := range h {
			buf = binary.BigEndian.AppendUint16(buf, v)
		}
	}

	attrs, err := a.subAttributes()
	if err != nil {
		return nil, err
	}
	return appendAttributes(buf, attrs, nil)
}

// reachable returns insns without the real instructions that have no
// incoming frame. Labels and line markers are kept.
func reachable(insns []*Instruction, frames []*Frame) []*Instruction {
	out := make([]*Instruction, 0, len(insns))
	for i, in := range insns {
		if in.IsReal() && frames[i] == nil {
			continue
		}
		out = append(out, in)
	}
	return out
}

func (a *assembler) layout() error {
	a.labelIdx = make(map[*Label]int)
	for i, in := range a.insns {
		if in.Op == LABEL {
			a.labelIdx[in.Label] = i
		}
	}
	for {
		a.offsets = make([]int, len(a.insns))
		a.labelOff = make(map[*Label]int)
		pos := 0
		for i, in := range a.insns {
			a.offsets[i] = pos
			if in.Op == LABEL {
				a.labelOff[in.Label] = pos
			}
			pos += a.insnSize(in, pos)
		}
		a.size = pos

		grew := false
		for i, in := range a.insns {
			if !in.Op.IsBranch() {
				continue
			}
			target, ok := a.labelOff[in.Target]
			if !ok {
				return unrepresentable("%s to unplaced label %s", in.Op, in.Target)
			}
			d := target - a.offsets[i]
			if d >= math.MinInt16 && d <= math.MaxInt16 || a.wide[in] {
				continue
			}
			if in.Op != GOTO && in.Op != JSR {
				return unrepresentable("%s offset %d does not fit in 16 bits", in.Op, d)
			}
			a.wide[in] = true
			grew = true
		}
		if !grew {
			break
		}
	}
	if a.size > maxCodeLength {
		return unrepresentable("code length %d exceeds %d", a.size, maxCodeLength)
	}
	for l, off := range a.labelOff {
		l.offset = off
	}
	return nil
}

func switchPad(pos int) int {
	return 3 - pos%4
}

func (a *assembler) insnSize(in *Instruction, pos int) int {
	info, _ := GetOpcodeInfo(in.Op)
	switch info.Operand {
	case OperandPseudo:
		return 0
	case OperandByte, OperandNewArray:
		return 2
	case OperandShort:
		return 3
	case OperandPoolByte:
		if in.Index <= math.MaxUint8 {
			return 2
		}
		return 3
	case OperandPool:
		if in.Op == LDC_W && in.Index <= math.MaxUint8 {
			return 2
		}
		return 3
	case OperandVar:
		switch {
		case in.Var <= 3 && in.Op != RET:
			return 1
		case in.Var <= math.MaxUint8:
			return 2
		}
		return 4
	case OperandIinc:
		if in.Var <= math.MaxUint8 && in.Int >= math.MinInt8 && in.Int <= math.MaxInt8 {
			return 3
		}
		return 6
	case OperandBranch:
		if a.wide[in] {
			return 5
		}
		return 3
	case OperandBranchWide:
		return 5
	case OperandTableSwitch:
		return 1 + switchPad(pos) + 12 + 4*len(in.Targets)
	case OperandLookupSwitch:
		return 1 + switchPad(pos) + 8 + 8*len(in.Keys)
	case OperandInvokeInterface, OperandInvokeDynamic:
		return 5
	case OperandMultiANewArray:
		return 4
	}
	return 1
}

func (a *assembler) target(l *Label, from int) (int32, error) {
	off, ok := a.labelOff[l]
	if !ok {
		return 0, unrepresentable("branch to unplaced label %s", l)
	}
	return int32(off - from), nil
}

func (a *assembler) encode() ([]byte, error) {
	code := make([]byte, 0, a.size)
	for i, in := range a.insns {
		pos := a.offsets[i]
		var err error
		if code, err = a.encodeInsn(code, in, pos); err != nil {
			return nil, err
		}
		if in.IsReal() && len(code) != pos+a.insnSize(in, pos) {
			return nil, unrepresentable("%s encoded to an unexpected size", in.Op)
		}
	}
	return code, nil
}

func (a *assembler) encodeInsn(code []byte, in *Instruction, pos int) ([]byte, error) {
	info, _ := GetOpcodeInfo(in.Op)
	op := byte(in.Op)
	switch info.Operand {
	case OperandPseudo:
		return code, nil

	case OperandNone:
		return append(code, op), nil

	case OperandByte:
		if in.Int < math.MinInt8 || in.Int > math.MaxInt8 {
			return nil, unrepresentable("bipush %d", in.Int)
		}
		return append(code, op, byte(int8(in.Int))), nil

	case OperandNewArray:
		return append(code, op, byte(in.Int)), nil

	case OperandShort:
		if in.Int < math.MinInt16 || in.Int > math.MaxInt16 {
			return nil, unrepresentable("sipush %d", in.Int)
		}
		return binary.BigEndian.AppendUint16(append(code, op), uint16(int16(in.Int))), nil

	case OperandPoolByte, OperandPool:
		if (in.Op == LDC || in.Op == LDC_W) && in.Index <= math.MaxUint8 {
			return append(code, byte(LDC), byte(in.Index)), nil
		}
		if in.Op == LDC {
			op = byte(LDC_W)
		}
		return binary.BigEndian.AppendUint16(append(code, op), in.Index), nil

	case OperandVar:
		if in.Var < 0 || in.Var > math.MaxUint16 {
			return nil, unrepresentable("local slot %d", in.Var)
		}
		switch {
		case in.Var <= 3 && in.Op.IsLoad():
			return append(code, byte(ILOAD_0+(in.Op-ILOAD)*4+Opcode(in.Var))), nil
		case in.Var <= 3 && in.Op.IsStore():
			return append(code, byte(ISTORE_0+(in.Op-ISTORE)*4+Opcode(in.Var))), nil
		case in.Var <= math.MaxUint8:
			return append(code, op, byte(in.Var)), nil
		}
		return binary.BigEndian.AppendUint16(append(code, byte(WIDE), op), uint16(in.Var)), nil

	case OperandIinc:
		if in.Var <= math.MaxUint8 && in.Int >= math.MinInt8 && in.Int <= math.MaxInt8 {
			return append(code, op, byte(in.Var), byte(int8(in.Int))), nil
		}
		if in.Var > math.MaxUint16 || in.Int < math.MinInt16 || in.Int > math.MaxInt16 {
			return nil, unrepresentable("iinc %d %d", in.Var, in.Int)
		}
		code = append(code, byte(WIDE), op)
		code = binary.BigEndian.AppendUint16(code, uint16(in.Var))
		return binary.BigEndian.AppendUint16(code, uint16(int16(in.Int))), nil

	case OperandBranch, OperandBranchWide:
		d, err := a.target(in.Target, pos)
		if err != nil {
			return nil, err
		}
		if a.wide[in] || info.Operand == OperandBranchWide {
			wop := GOTO_W
			if in.Op == JSR || in.Op == JSR_W {
				wop = JSR_W
			}
			return binary.BigEndian.AppendUint32(append(code, byte(wop)), uint32(d)), nil
		}
		return binary.BigEndian.AppendUint16(append(code, op), uint16(int16(d))), nil

	case OperandTableSwitch:
		if int64(in.High)-int64(in.Low)+1 != int64(len(in.Targets)) {
			return nil, unrepresentable("tableswitch %d..%d with %d targets", in.Low, in.High, len(in.Targets))
		}
		code = append(code, op)
		code = append(code, make([]byte, switchPad(pos))...)
		d, err := a.target(in.Default, pos)
		if err != nil {
			return nil, err
		}
		code = binary.BigEndian.AppendUint32(code, uint32(d))
		code = binary.BigEndian.AppendUint32(code, uint32(in.Low))
		code = binary.BigEndian.AppendUint32(code, uint32(in.High))
		for _, l := range in.Targets {
			if d, err = a.target(l, pos); err != nil {
				return nil, err
			}
			code = binary.BigEndian.AppendUint32(code, uint32(d))
		}
		return code, nil

	case OperandLookupSwitch:
		if len(in.Keys) != len(in.Targets) {
			return nil, unrepresentable("lookupswitch with %d keys and %d targets", len(in.Keys), len(in.Targets))
		}
		code = append(code, op)
		code = append(code, make([]byte, switchPad(pos))...)
		d, err := a.target(in.Default, pos)
		if err != nil {
			return nil, err
		}
		code = binary.BigEndian.AppendUint32(code, uint32(d))
		code = binary.BigEndian.AppendUint32(code, uint32(len(in.Keys)))
		order := make([]int, len(in.Keys))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return in.Keys[order[i]] < in.Keys[order[j]] })
		for _, k := range order {
			if d, err = a.target(in.Targets[k], pos); err != nil {
				return nil, err
			}
			code = binary.BigEndian.AppendUint32(code, uint32(in.Keys[k]))
			code = binary.BigEndian.AppendUint32(code, uint32(d))
		}
		return code, nil

	case OperandInvokeInterface:
		ref, err := a.cf.Pool.Member(in.Index)
		if err != nil {
			return nil, err
		}
		words, err := ArgWords(ref.Desc)
		if err != nil {
			return nil, err
		}
		code = binary.BigEndian.AppendUint16(append(code, op), in.Index)
		return append(code, byte(words+1), 0), nil

	case OperandInvokeDynamic:
		code = binary.BigEndian.AppendUint16(append(code, op), in.Index)
		return append(code, 0, 0), nil

	case OperandMultiANewArray:
		code = binary.BigEndian.AppendUint16(append(code, op), in.Index)
		return append(code, byte(in.Int)), nil
	}
	return nil, unrepresentable("cannot encode %s", in.Op)
}

// handlerTable returns the encoded exception table rows. Entries whose
// range became empty are dropped.
func (a *assembler) handlerTable() ([][4]uint16, error) {
	var rows [][4]uint16
	for _, h := range a.m.Code.Handlers {
		start, ok1 := a.labelOff[h.Start]
		end, ok2 := a.labelOff[h.End]
		handler, ok3 := a.labelOff[h.Handler]
		if !ok1 || !ok2 || !ok3 {
			return nil, unrepresentable("exception handler references an unplaced label")
		}
		if start >= end {
			continue
		}
		rows = append(rows, [4]uint16{uint16(start), uint16(end), uint16(handler), h.CatchType})
	}
	return rows, nil
}

func (a *assembler) newAttribute(name string, data []byte) *Attribute {
	return &Attribute{NameIndex: a.cf.Pool.AddUtf8(name), Name: name, Data: data}
}

func (a *assembler) subAttributes() ([]*Attribute, error) {
	var attrs []*Attribute

	var lines []byte
	n := 0
	for _, in := range a.insns {
		if in.Op != LINE {
			continue
		}
		off, ok := a.labelOff[in.Label]
		if !ok || off >= a.size || in.Int < 0 || in.Int > math.MaxUint16 {
			continue
		}
		lines = binary.BigEndian.AppendUint16(lines, uint16(off))
		lines = binary.BigEndian.AppendUint16(lines, uint16(in.Int))
		n++
	}
	if n > 0 {
		data := binary.BigEndian.AppendUint16(nil, uint16(n))
		attrs = append(attrs, a.newAttribute(attrLineNumberTable, append(data, lines...)))
	}

	for _, sig := range []bool{false, true} {
		var body []byte
		n := 0
		for _, lv := range a.m.Code.LocalVars {
			if lv.Signature != sig {
				continue
			}
			start, ok1 := a.labelOff[lv.Start]
			end, ok2 := a.labelOff[lv.End]
			if !ok1 || !ok2 || end < start || start >= a.size {
				continue
			}
			body = binary.BigEndian.AppendUint16(body, uint16(start))
			body = binary.BigEndian.AppendUint16(body, uint16(end-start))
			body = binary.BigEndian.AppendUint16(body, lv.NameIndex)
			body = binary.BigEndian.AppendUint16(body, lv.DescIndex)
			body = binary.BigEndian.AppendUint16(body, uint16(lv.Index))
			n++
		}
		if n == 0 {
			continue
		}
		name := attrLocalVariableTable
		if sig {
			name = attrLocalVariableTypeTable
		}
		data := binary.BigEndian.AppendUint16(nil, uint16(n))
		attrs = append(attrs, a.newAttribute(name, append(data, body...)))
	}

	if a.cf.Major >= FramesMajorVersion {
		frames, err := a.frames()
		if err != nil {
			return nil, err
		}
		if len(frames) > 0 {
			offsetOf := make(map[*Instruction]int, len(a.insns))
			for i, in := range a.insns {
				if in.IsReal() {
					offsetOf[in] = a.offsets[i]
				}
			}
			data, err := encodeStackMap(a.cf.Pool, a.an.Initial, frames, offsetOf)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, a.newAttribute(attrStackMapTable, data))
		}
	}
	return attrs, nil
}

func (a *assembler) nextReal(i int) int {
	for ; i < len(a.insns); i++ {
		if a.insns[i].IsReal() {
			return i
		}
	}
	return -1
}

// frames returns the stack map frames the verifier needs: at every
// branch target, exception handler and instruction following an
// unconditional transfer.
func (a *assembler) frames() ([]mapFrame, error) {
	need := make(map[int]bool)
	mark := func(l *Label) {
		if j := a.nextReal(a.labelIdx[l]); j >= 0 {
			need[j] = true
		}
	}
	for i, in := range a.insns {
		if !in.IsReal() {
			continue
		}
		for _, l := range in.Labels() {
			mark(l)
		}
		if in.Op.EndsBlock() {
			if j := a.nextReal(i + 1); j >= 0 {
				need[j] = true
			}
		}
	}
	for _, h := range a.m.Code.Handlers {
		if a.labelOff[h.Start] < a.labelOff[h.End] {
			mark(h.Handler)
		}
	}

	var out []mapFrame
	for i := range a.insns {
		if !need[i] {
			continue
		}
		f := a.an.Frames[i]
		if f == nil {
			return nil, unrepresentable("no frame for instruction at offset %d", a.offsets[i])
		}
		out = append(out, toMapFrame(a.offsets[i], f))
	}
	return out, nil
}
