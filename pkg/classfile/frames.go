package classfile

import (
	"fmt"
	"strings"
)

// VKind is a verification type category. The values match the
// verification_type_info tags of the StackMapTable attribute.
type VKind uint8

const (
	VTop VKind = iota
	VInt
	VFloat
	VDouble
	VLong
	VNull
	VUninitThis
	VObject
	VUninit
)

// VType is a verification type.
type VType struct {
	Kind  VKind
	Class string       // VObject: internal name, or a descriptor for arrays
	New   *Instruction // VUninit: the NEW instruction that created the value
}

var (
	topType    = VType{Kind: VTop}
	intType    = VType{Kind: VInt}
	floatType  = VType{Kind: VFloat}
	longType   = VType{Kind: VLong}
	doubleType = VType{Kind: VDouble}
	nullType   = VType{Kind: VNull}
)

// ObjectType returns the verification type of a class or array.
func ObjectType(name string) VType {
	return VType{Kind: VObject, Class: name}
}

// Wide reports whether the type takes two slots.
func (t VType) Wide() bool {
	return t.Kind == VLong || t.Kind == VDouble
}

// IsReference reports whether the type is a reference.
func (t VType) IsReference() bool {
	switch t.Kind {
	case VNull, VUninitThis, VObject, VUninit:
		return true
	}
	return false
}

func (t VType) String() string {
	switch t.Kind {
	case VTop:
		return "top"
	case VInt:
		return "int"
	case VFloat:
		return "float"
	case VLong:
		return "long"
	case VDouble:
		return "double"
	case VNull:
		return "null"
	case VUninitThis:
		return "uninitializedThis"
	case VObject:
		return t.Class
	case VUninit:
		return "uninitialized"
	}
	return fmt.Sprintf("VKind(%d)", t.Kind)
}

// TypeFromDescriptor returns the verification type of a field descriptor.
func TypeFromDescriptor(desc string) VType {
	if desc == "" {
		return topType
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return intType
	case 'F':
		return floatType
	case 'J':
		return longType
	case 'D':
		return doubleType
	case 'L':
		return ObjectType(strings.TrimSuffix(desc[1:], ";"))
	case '[':
		return ObjectType(desc)
	}
	return topType
}

// Hierarchy resolves the common superclass of two internal class names
// when two control-flow paths merge with different reference types.
type Hierarchy interface {
	CommonSuperClass(a, b string) string
}

// HierarchyFunc adapts a function to Hierarchy.
type HierarchyFunc func(a, b string) string

// CommonSuperClass calls f.
func (f HierarchyFunc) CommonSuperClass(a, b string) string {
	return f(a, b)
}

// DefaultHierarchy answers java/lang/Object for every pair, which the
// verifier accepts wherever the merged value is only passed on as an
// Object or an interface type.
var DefaultHierarchy Hierarchy = HierarchyFunc(func(a, b string) string {
	return "java/lang/Object"
})

// SuperMap is a Hierarchy backed by a class → superclass table.
// Classes missing from the table are treated as direct subclasses of
// java/lang/Object.
type SuperMap map[string]string

// CommonSuperClass walks both superclass chains.
func (s SuperMap) CommonSuperClass(a, b string) string {
	seen := make(map[string]bool)
	for c := a; c != ""; c = s.super(c) {
		seen[c] = true
	}
	for c := b; c != ""; c = s.super(c) {
		if seen[c] {
			return c
		}
	}
	return "java/lang/Object"
}

func (s SuperMap) super(c string) string {
	if c == "java/lang/Object" {
		return ""
	}
	if p, ok := s[c]; ok {
		return p
	}
	return "java/lang/Object"
}

// Frame is the type state before an instruction. Locals are indexed by
// slot: a long or double occupies its slot and a following VTop slot.
// Stack entries are values, so a long is a single entry.
type Frame struct {
	Locals []VType
	Stack  []VType
}

func (f *Frame) clone() *Frame {
	return &Frame{
		Locals: append([]VType(nil), f.Locals...),
		Stack:  append([]VType(nil), f.Stack...),
	}
}

// StackWords returns the operand stack depth in words.
func (f *Frame) StackWords() int {
	n := 0
	for _, t := range f.Stack {
		n++
		if t.Wide() {
			n++
		}
	}
	return n
}

func mergeType(a, b VType, h Hierarchy) VType {
	if a == b {
		return a
	}
	switch {
	case a.Kind == VNull && b.Kind == VObject:
		return b
	case a.Kind == VObject && b.Kind == VNull:
		return a
	case a.Kind == VObject && b.Kind == VObject:
		if strings.HasPrefix(a.Class, "[") || strings.HasPrefix(b.Class, "[") {
			return ObjectType("java/lang/Object")
		}
		return ObjectType(h.CommonSuperClass(a.Class, b.Class))
	}
	return topType
}

// merge folds other into f and reports whether f changed.
func (f *Frame) merge(other *Frame, h Hierarchy) (bool, error) {
	if len(f.Stack) != len(other.Stack) {
		return false, unrepresentable("stack height mismatch at merge (%d vs %d)", len(f.Stack), len(other.Stack))
	}
	changed := false
	for i := range f.Stack {
		t := mergeType(f.Stack[i], other.Stack[i], h)
		if t.Kind == VTop {
			return false, unrepresentable("incompatible stack types at merge: %s vs %s", f.Stack[i], other.Stack[i])
		}
		if t != f.Stack[i] {
			f.Stack[i] = t
			changed = true
		}
	}
	n := max(len(f.Locals), len(other.Locals))
	for i := 0; i < n; i++ {
		a, b := topType, topType
		if i < len(f.Locals) {
			a = f.Locals[i]
		}
		if i < len(other.Locals) {
			b = other.Locals[i]
		}
		t := mergeType(a, b, h)
		if i >= len(f.Locals) {
			f.Locals = append(f.Locals, t)
			changed = changed || t != topType
			continue
		}
		if t != a {
			f.Locals[i] = t
			changed = true
		}
	}
	// A wide local whose partner slot was merged away is no longer usable.
	for i, t := range f.Locals {
		if t.Wide() && (i+1 >= len(f.Locals) || f.Locals[i+1] != topType) {
			f.Locals[i] = topType
			changed = true
		}
	}
	return changed, nil
}

func (f *Frame) push(t VType) {
	f.Stack = append(f.Stack, t)
}

func (f *Frame) pop() (VType, error) {
	if len(f.Stack) == 0 {
		return topType, unrepresentable("operand stack underflow")
	}
	t := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	return t, nil
}

func (f *Frame) popN(n int) error {
	for i := 0; i < n; i++ {
		if _, err := f.pop(); err != nil {
			return err
		}
	}
	return nil
}

func (f *Frame) peekWide() bool {
	return len(f.Stack) > 0 && f.Stack[len(f.Stack)-1].Wide()
}

func (f *Frame) setLocal(i int, t VType) {
	need := i + 1
	if t.Wide() {
		need++
	}
	for len(f.Locals) < need {
		f.Locals = append(f.Locals, topType)
	}
	if i > 0 && f.Locals[i-1].Wide() {
		f.Locals[i-1] = topType
	}
	f.Locals[i] = t
	if t.Wide() {
		f.Locals[i+1] = topType
	}
}

func (f *Frame) local(i int) (VType, error) {
	if i >= len(f.Locals) {
		return topType, unrepresentable("read of unset local %d", i)
	}
	return f.Locals[i], nil
}

func (f *Frame) replace(from, to VType) {
	for i, t := range f.Locals {
		if t == from {
			f.Locals[i] = to
		}
	}
	for i, t := range f.Stack {
		if t == from {
			f.Stack[i] = to
		}
	}
}

// Analysis is the result of a dataflow pass over an instruction list.
type Analysis struct {
	// Frames holds the incoming frame of each instruction; nil marks
	// unreachable code.
	Frames    []*Frame
	Initial   *Frame
	MaxStack  int
	MaxLocals int
}

type handlerRange struct {
	start, end, handler int
	catch               VType
}

type analyzer struct {
	cf     *ClassFile
	m      *Method
	insns  []*Instruction
	hier   Hierarchy
	labels map[*Label]int

	frames    []*Frame
	queued    []bool
	work      []int
	handlers  []handlerRange
	maxStack  int
	maxLocals int
}

// Analyze computes the incoming frame of every instruction of m.
func Analyze(cf *ClassFile, m *Method) (*Analysis, error) {
	if m.Code == nil {
		return nil, fmt.Errorf("method %s%s has no code", m.Name, m.Descriptor)
	}
	return analyze(cf, m, m.Code.Insns)
}

func analyze(cf *ClassFile, m *Method, insns []*Instruction) (*Analysis, error) {
	a := &analyzer{
		cf:     cf,
		m:      m,
		insns:  insns,
		hier:   cf.Hierarchy,
		labels: make(map[*Label]int),
		frames: make([]*Frame, len(insns)),
		queued: make([]bool, len(insns)),
	}
	if a.hier == nil {
		a.hier = DefaultHierarchy
	}
	if len(insns) == 0 {
		return nil, unrepresentable("method %s%s has an empty instruction list", m.Name, m.Descriptor)
	}
	for i, in := range insns {
		if in.Op == LABEL {
			if _, dup := a.labels[in.Label]; dup {
				return nil, unrepresentable("label %s placed twice", in.Label)
			}
			a.labels[in.Label] = i
		}
	}
	for _, h := range m.Code.Handlers {
		r := handlerRange{}
		var err error
		if r.start, err = a.labelIndex(h.Start); err != nil {
			return nil, err
		}
		if r.end, err = a.labelIndex(h.End); err != nil {
			return nil, err
		}
		if r.handler, err = a.labelIndex(h.Handler); err != nil {
			return nil, err
		}
		r.catch = ObjectType("java/lang/Throwable")
		if h.CatchType != 0 {
			name, err := cf.Pool.ClassName(h.CatchType)
			if err != nil {
				return nil, err
			}
			r.catch = ObjectType(name)
		}
		a.handlers = append(a.handlers, r)
	}

	initial, err := a.initialFrame()
	if err != nil {
		return nil, err
	}
	a.maxLocals = len(initial.Locals)
	a.frames[0] = initial.clone()
	a.enqueue(0)

	for len(a.work) > 0 {
		i := a.work[len(a.work)-1]
		a.work = a.work[:len(a.work)-1]
		a.queued[i] = false
		if err := a.step(i); err != nil {
			return nil, err
		}
	}

	return &Analysis{
		Frames:    a.frames,
		Initial:   initial,
		MaxStack:  a.maxStack,
		MaxLocals: a.maxLocals,
	}, nil
}

func (a *analyzer) labelIndex(l *Label) (int, error) {
	i, ok := a.labels[l]
	if !ok {
		return 0, unrepresentable("reference to unplaced label %s", l)
	}
	return i, nil
}

func (a *analyzer) initialFrame() (*Frame, error) {
	params, _, err := ParseMethodDescriptor(a.m.Descriptor)
	if err != nil {
		return nil, err
	}
	f := &Frame{}
	if !a.m.IsStatic() {
		this := ObjectType(a.cf.Name())
		if a.m.Name == "<init>" && a.cf.Name() != "java/lang/Object" {
			this = VType{Kind: VUninitThis}
		}
		f.Locals = append(f.Locals, this)
	}
	for _, p := range params {
		t := TypeFromDescriptor(p)
		f.Locals = append(f.Locals, t)
		if t.Wide() {
			f.Locals = append(f.Locals, topType)
		}
	}
	return f, nil
}

func (a *analyzer) enqueue(i int) {
	if !a.queued[i] {
		a.queued[i] = true
		a.work = append(a.work, i)
	}
}

func (a *analyzer) flow(j int, f *Frame) error {
	if j >= len(a.insns) {
		return unrepresentable("execution falls off the end of the code")
	}
	old := a.frames[j]
	if old == nil {
		a.frames[j] = f.clone()
		a.enqueue(j)
		return nil
	}
	changed, err := old.merge(f, a.hier)
	if err != nil {
		return fmt.Errorf("at instruction %d: %w", j, err)
	}
	if changed {
		a.enqueue(j)
	}
	return nil
}

func (a *analyzer) step(i int) error {
	in := a.insns[i]
	in0 := a.frames[i]
	if !in.IsReal() {
		return a.flow(i+1, in0)
	}

	for _, h := range a.handlers {
		if h.start < i && i < h.end {
			hf := &Frame{Locals: append([]VType(nil), in0.Locals...), Stack: []VType{h.catch}}
			a.maxStack = max(a.maxStack, 1)
			if err := a.flow(h.handler, hf); err != nil {
				return err
			}
		}
	}

	out := in0.clone()
	if err := a.exec(in, out); err != nil {
		return fmt.Errorf("%s at instruction %d: %w", in.Op, i, err)
	}
	a.maxStack = max(a.maxStack, out.StackWords())
	a.maxLocals = max(a.maxLocals, len(out.Locals))

	for _, l := range in.Labels() {
		j, err := a.labelIndex(l)
		if err != nil {
			return err
		}
		if err := a.flow(j, out); err != nil {
			return err
		}
	}
	if !in.Op.EndsBlock() {
		return a.flow(i+1, out)
	}
	return nil
}

func (a *analyzer) constType(index uint16) (VType, error) {
	c := a.cf.Pool.Get(index)
	if c == nil {
		return topType, malformed("ldc of empty constant %d", index)
	}
	switch c.Tag {
	case TagInteger:
		return intType, nil
	case TagFloat:
		return floatType, nil
	case TagLong:
		return longType, nil
	case TagDouble:
		return doubleType, nil
	case TagString:
		return ObjectType("java/lang/String"), nil
	case TagClass:
		return ObjectType("java/lang/Class"), nil
	case TagMethodType:
		return ObjectType("java/lang/invoke/MethodType"), nil
	case TagMethodHandle:
		return ObjectType("java/lang/invoke/MethodHandle"), nil
	case TagDynamic:
		_, desc, err := a.cf.Pool.InvokeDynamic(index)
		if err != nil {
			return topType, err
		}
		return TypeFromDescriptor(desc), nil
	}
	return topType, malformed("ldc of %s constant", c.Tag)
}

var arrayTypes = map[int32]string{4: "[Z", 5: "[C", 6: "[F", 7: "[D", 8: "[B", 9: "[S", 10: "[I", 11: "[J"}

// numeric kinds by position within the i/l/f/d opcode groups.
var numericTypes = [4]VType{intType, longType, floatType, doubleType}

func (a *analyzer) exec(in *Instruction, f *Frame) error {
	pool := a.cf.Pool
	op := in.Op
	switch {
	case op == NOP:

	case op == ACONST_NULL:
		f.push(nullType)
	case op >= ICONST_M1 && op <= ICONST_5, op == BIPUSH, op == SIPUSH:
		f.push(intType)
	case op == LCONST_0, op == LCONST_1:
		f.push(longType)
	case op >= FCONST_0 && op <= FCONST_2:
		f.push(floatType)
	case op == DCONST_0, op == DCONST_1:
		f.push(doubleType)
	case op == LDC, op == LDC_W, op == LDC2_W:
		t, err := a.constType(in.Index)
		if err != nil {
			return err
		}
		f.push(t)

	case op.IsLoad():
		var t VType
		if op == ALOAD {
			var err error
			if t, err = f.local(in.Var); err != nil {
				return err
			}
			if !t.IsReference() {
				return unrepresentable("aload of %s from local %d", t, in.Var)
			}
		} else {
			t = numericTypes[op-ILOAD]
		}
		a.maxLocals = max(a.maxLocals, in.Var+op.VarWidth())
		f.push(t)
	case op.IsStore():
		t, err := f.pop()
		if err != nil {
			return err
		}
		if op != ASTORE {
			t = numericTypes[op-ISTORE]
		}
		f.setLocal(in.Var, t)

	case op >= IALOAD && op <= SALOAD:
		if err := f.popN(1); err != nil {
			return err
		}
		arr, err := f.pop()
		if err != nil {
			return err
		}
		switch op {
		case IALOAD, BALOAD, CALOAD, SALOAD:
			f.push(intType)
		case LALOAD:
			f.push(longType)
		case FALOAD:
			f.push(floatType)
		case DALOAD:
			f.push(doubleType)
		case AALOAD:
			if arr.Kind == VObject && strings.HasPrefix(arr.Class, "[") {
				f.push(TypeFromDescriptor(arr.Class[1:]))
			} else {
				f.push(nullType)
			}
		}
	case op >= IASTORE && op <= SASTORE:
		if err := f.popN(3); err != nil {
			return err
		}

	case op == POP:
		if _, err := f.pop(); err != nil {
			return err
		}
	case op == POP2:
		n := 2
		if f.peekWide() {
			n = 1
		}
		if err := f.popN(n); err != nil {
			return err
		}
	case op == DUP:
		v, err := f.pop()
		if err != nil {
			return err
		}
		f.push(v)
		f.push(v)
	case op == DUP_X1:
		v1, v2, err := pop2(f)
		if err != nil {
			return err
		}
		f.push(v1)
		f.push(v2)
		f.push(v1)
	case op == DUP_X2:
		v1, err := f.pop()
		if err != nil {
			return err
		}
		if f.peekWide() {
			v2, _ := f.pop()
			f.push(v1)
			f.push(v2)
			f.push(v1)
			break
		}
		v2, v3, err := pop2(f)
		if err != nil {
			return err
		}
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case op == DUP2:
		v1, err := f.pop()
		if err != nil {
			return err
		}
		if v1.Wide() {
			f.push(v1)
			f.push(v1)
			break
		}
		v2, err := f.pop()
		if err != nil {
			return err
		}
		f.push(v2)
		f.push(v1)
		f.push(v2)
		f.push(v1)
	case op == DUP2_X1:
		v1, err := f.pop()
		if err != nil {
			return err
		}
		if v1.Wide() {
			v2, err := f.pop()
			if err != nil {
				return err
			}
			f.push(v1)
			f.push(v2)
			f.push(v1)
			break
		}
		v2, v3, err := pop2(f)
		if err != nil {
			return err
		}
		f.push(v2)
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case op == DUP2_X2:
		if err := dup2x2(f); err != nil {
			return err
		}
	case op == SWAP:
		v1, v2, err := pop2(f)
		if err != nil {
			return err
		}
		f.push(v1)
		f.push(v2)

	case op >= IADD && op <= DREM:
		t := numericTypes[(op-IADD)%4]
		if err := f.popN(2); err != nil {
			return err
		}
		f.push(t)
	case op >= INEG && op <= DNEG:
		t := numericTypes[(op-INEG)%4]
		if err := f.popN(1); err != nil {
			return err
		}
		f.push(t)
	case op >= ISHL && op <= LXOR:
		t := intType
		if (op-ISHL)%2 == 1 {
			t = longType
		}
		if err := f.popN(2); err != nil {
			return err
		}
		f.push(t)
	case op == IINC:
		f.setLocal(in.Var, intType)
		a.maxLocals = max(a.maxLocals, in.Var+1)

	case op >= I2L && op <= I2S:
		if err := f.popN(1); err != nil {
			return err
		}
		f.push(conversionResult[op])
	case op >= LCMP && op <= DCMPG:
		if err := f.popN(2); err != nil {
			return err
		}
		f.push(intType)

	case op >= IFEQ && op <= IFLE, op == IFNULL, op == IFNONNULL:
		if err := f.popN(1); err != nil {
			return err
		}
	case op >= IF_ICMPEQ && op <= IF_ACMPNE:
		if err := f.popN(2); err != nil {
			return err
		}
	case op == GOTO:

	case op == JSR, op == RET:
		return unrepresentable("subroutines (jsr/ret) are not supported")
	case op.IsSwitch():
		if err := f.popN(1); err != nil {
			return err
		}
	case op >= IRETURN && op <= ARETURN:
		if err := f.popN(1); err != nil {
			return err
		}
	case op == RETURN:

	case op == GETSTATIC, op == GETFIELD, op == PUTSTATIC, op == PUTFIELD:
		ref, err := pool.Member(in.Index)
		if err != nil {
			return err
		}
		switch op {
		case GETFIELD:
			err = f.popN(1)
		case PUTSTATIC:
			err = f.popN(1)
		case PUTFIELD:
			err = f.popN(2)
		}
		if err != nil {
			return err
		}
		if op == GETSTATIC || op == GETFIELD {
			f.push(TypeFromDescriptor(ref.Desc))
		}

	case op.IsInvoke():
		return a.invoke(in, f)

	case op == NEW:
		if _, err := pool.ClassName(in.Index); err != nil {
			return err
		}
		f.push(VType{Kind: VUninit, New: in})
	case op == NEWARRAY:
		desc, ok := arrayTypes[in.Int]
		if !ok {
			return malformed("newarray type %d", in.Int)
		}
		if err := f.popN(1); err != nil {
			return err
		}
		f.push(ObjectType(desc))
	case op == ANEWARRAY:
		name, err := pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		if err := f.popN(1); err != nil {
			return err
		}
		if strings.HasPrefix(name, "[") {
			f.push(ObjectType("[" + name))
		} else {
			f.push(ObjectType("[L" + name + ";"))
		}
	case op == ARRAYLENGTH, op == INSTANCEOF:
		if err := f.popN(1); err != nil {
			return err
		}
		f.push(intType)
	case op == ATHROW, op == MONITORENTER, op == MONITOREXIT:
		if err := f.popN(1); err != nil {
			return err
		}
	case op == CHECKCAST:
		name, err := pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		if err := f.popN(1); err != nil {
			return err
		}
		f.push(ObjectType(name))
	case op == MULTIANEWARRAY:
		name, err := pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		if err := f.popN(int(in.Int)); err != nil {
			return err
		}
		f.push(ObjectType(name))

	default:
		return unrepresentable("no frame rule for %s", op)
	}
	return nil
}

var conversionResult = map[Opcode]VType{
	I2L: longType, I2F: floatType, I2D: doubleType,
	L2I: intType, L2F: floatType, L2D: doubleType,
	F2I: intType, F2L: longType, F2D: doubleType,
	D2I: intType, D2L: longType, D2F: floatType,
	I2B: intType, I2C: intType, I2S: intType,
}

func pop2(f *Frame) (VType, VType, error) {
	v1, err := f.pop()
	if err != nil {
		return topType, topType, err
	}
	v2, err := f.pop()
	if err != nil {
		return topType, topType, err
	}
	return v1, v2, nil
}

func dup2x2(f *Frame) error {
	v1, err := f.pop()
	if err != nil {
		return err
	}
	if v1.Wide() {
		v2, err := f.pop()
		if err != nil {
			return err
		}
		if v2.Wide() {
			f.push(v1)
			f.push(v2)
			f.push(v1)
			return nil
		}
		v3, err := f.pop()
		if err != nil {
			return err
		}
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
		return nil
	}
	v2, v3, err := pop2(f)
	if err != nil {
		return err
	}
	if v3.Wide() {
		f.push(v2)
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
		return nil
	}
	v4, err := f.pop()
	if err != nil {
		return err
	}
	f.push(v2)
	f.push(v1)
	f.push(v4)
	f.push(v3)
	f.push(v2)
	f.push(v1)
	return nil
}

func (a *analyzer) invoke(in *Instruction, f *Frame) error {
	pool := a.cf.Pool
	var name, desc string
	if in.Op == INVOKEDYNAMIC {
		var err error
		if name, desc, err = pool.InvokeDynamic(in.Index); err != nil {
			return err
		}
	} else {
		ref, err := pool.Member(in.Index)
		if err != nil {
			return err
		}
		name, desc = ref.Name, ref.Desc
	}
	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		return err
	}
	if err := f.popN(len(params)); err != nil {
		return err
	}
	if in.Op != INVOKESTATIC && in.Op != INVOKEDYNAMIC {
		recv, err := f.pop()
		if err != nil {
			return err
		}
		if in.Op == INVOKESPECIAL && name == "<init>" {
			switch recv.Kind {
			case VUninitThis:
				f.replace(recv, ObjectType(a.cf.Name()))
			case VUninit:
				cls, err := pool.ClassName(recv.New.Index)
				if err != nil {
					return err
				}
				f.replace(recv, ObjectType(cls))
			default:
				return unrepresentable("<init> called on initialized %s", recv)
			}
		}
	}
	if ret != "V" {
		f.push(TypeFromDescriptor(ret))
	}
	return nil
}
