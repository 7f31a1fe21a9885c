package interp

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/tliron/commonlog"

	"github.com/chazu/classweave/pkg/classfile"
)

var log = commonlog.GetLogger("classweave.interp")

// ErrStepLimit is returned when an invocation executes more instructions
// than VM.MaxSteps allows.
var ErrStepLimit = errors.New("interp: step limit exceeded")

// ErrUnsupported is returned for instructions and methods the
// interpreter does not implement.
var ErrUnsupported = errors.New("interp: unsupported")

const maxDepth = 256

// VM executes the methods of one parsed class. Calls to the class's own
// methods are interpreted; calls into the JDK go to a small table of
// natives covering collections, strings and StringBuilder.
type VM struct {
	cf      *classfile.ClassFile
	natives map[string]Native
	statics map[string]Value

	// MaxSteps bounds the instructions executed by one Invoke; 0 means
	// no limit.
	MaxSteps int

	// Out receives System.out.println output.
	Out io.Writer

	// Trace logs every executed instruction at debug level.
	Trace bool

	steps int
	depth int
}

// New returns a VM for cf.
func New(cf *classfile.ClassFile) *VM {
	return &VM{
		cf:       cf,
		natives:  make(map[string]Native),
		statics:  make(map[string]Value),
		MaxSteps: 1_000_000,
	}
}

// Register adds or replaces a static method or constructor native,
// keyed as "owner.name" + descriptor.
func (vm *VM) Register(key string, fn Native) {
	vm.natives[key] = fn
}

// Invoke runs the named method. For instance methods args[0] is the
// receiver. A Java exception escaping the method is returned as *Thrown.
func (vm *VM) Invoke(name, desc string, args ...Value) (Value, error) {
	m := vm.cf.FindMethod(name, desc)
	if m == nil {
		return nil, fmt.Errorf("interp: no method %s%s in %s", name, desc, vm.cf.Name())
	}
	vm.steps = 0
	vm.depth = 0
	return vm.call(m, args)
}

type frame struct {
	m      *classfile.Method
	insns  []*classfile.Instruction
	labels map[*classfile.Label]int
	locals []Value
	stack  []Value
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) store(slot int, v Value) {
	for len(f.locals) <= slot+1 {
		f.locals = append(f.locals, nil)
	}
	f.locals[slot] = v
}

func (f *frame) popInt() int32 {
	return f.pop().(int32)
}

func (vm *VM) call(m *classfile.Method, args []Value) (Value, error) {
	if m.Code == nil {
		return nil, fmt.Errorf("%w: %s%s has no code", ErrUnsupported, m.Name, m.Descriptor)
	}
	if vm.depth >= maxDepth {
		return nil, throw("java/lang/StackOverflowError", "")
	}
	vm.depth++
	defer func() { vm.depth-- }()

	f := &frame{
		m:      m,
		insns:  m.Code.Insns,
		labels: make(map[*classfile.Label]int),
		locals: make([]Value, m.Code.MaxLocals),
	}
	for i, in := range f.insns {
		if in.Op == classfile.LABEL {
			f.labels[in.Label] = i
		}
	}
	slot := 0
	for _, a := range args {
		f.store(slot, a)
		slot++
		if isWide(a) {
			slot++
		}
	}
	return vm.run(f)
}

func (vm *VM) run(f *frame) (Value, error) {
	pc := 0
	for pc < len(f.insns) {
		in := f.insns[pc]
		idx := pc
		pc++
		if !in.IsReal() {
			continue
		}
		vm.steps++
		if vm.MaxSteps > 0 && vm.steps > vm.MaxSteps {
			return nil, ErrStepLimit
		}
		if vm.Trace {
			log.Debugf("[%s %04d] %-24s stack=%d", f.m.Name, idx, in, len(f.stack))
		}

		next, ret, done, err := vm.step(f, in, pc)
		if err != nil {
			var th *Thrown
			if errors.As(err, &th) {
				if h, ok := vm.handlerFor(f, idx, th); ok {
					f.stack = append(f.stack[:0], th)
					pc = h
					continue
				}
			}
			return nil, err
		}
		if done {
			return ret, nil
		}
		pc = next
	}
	return nil, fmt.Errorf("interp: %s%s fell off the end of its code", f.m.Name, f.m.Descriptor)
}

func (vm *VM) handlerFor(f *frame, idx int, th *Thrown) (int, bool) {
	for _, h := range f.m.Code.Handlers {
		start, end := f.labels[h.Start], f.labels[h.End]
		if idx <= start || idx >= end {
			continue
		}
		if h.CatchType != 0 {
			class, err := vm.cf.Pool.ClassName(h.CatchType)
			if err != nil || !instanceOf(th, class, vm.super) {
				continue
			}
		}
		return f.labels[h.Handler], true
	}
	return 0, false
}

func (vm *VM) super(class string) string {
	if class == vm.cf.Name() {
		return vm.cf.SuperName()
	}
	if class == "java/lang/Object" {
		return ""
	}
	return "java/lang/Object"
}

func (vm *VM) jump(f *frame, l *classfile.Label) int {
	return f.labels[l]
}

// step executes one instruction and returns the next pc, or the method
// result when done is set.
func (vm *VM) step(f *frame, in *classfile.Instruction, pc int) (next int, ret Value, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interp: %s in %s%s: %v", in.Op, f.m.Name, f.m.Descriptor, r)
		}
	}()

	next = pc
	pool := vm.cf.Pool
	op := in.Op
	switch {
	case op == classfile.NOP:

	case op == classfile.ACONST_NULL:
		f.push(nil)
	case op >= classfile.ICONST_M1 && op <= classfile.ICONST_5:
		f.push(int32(op) - int32(classfile.ICONST_0))
	case op == classfile.LCONST_0, op == classfile.LCONST_1:
		f.push(int64(op - classfile.LCONST_0))
	case op >= classfile.FCONST_0 && op <= classfile.FCONST_2:
		f.push(float32(op - classfile.FCONST_0))
	case op == classfile.DCONST_0, op == classfile.DCONST_1:
		f.push(float64(op - classfile.DCONST_0))
	case op == classfile.BIPUSH, op == classfile.SIPUSH:
		f.push(in.Int)
	case op == classfile.LDC, op == classfile.LDC_W, op == classfile.LDC2_W:
		v, err := vm.constant(in.Index)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case op.IsLoad():
		f.push(f.locals[in.Var])
	case op.IsStore():
		f.store(in.Var, f.pop())
	case op == classfile.IINC:
		f.locals[in.Var] = f.locals[in.Var].(int32) + in.Int

	case op >= classfile.IALOAD && op <= classfile.SALOAD:
		i := f.popInt()
		arr, err := arrayRef(f.pop(), i)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(arr.Elems[i])
	case op >= classfile.IASTORE && op <= classfile.SASTORE:
		v := f.pop()
		i := f.popInt()
		arr, err := arrayRef(f.pop(), i)
		if err != nil {
			return 0, nil, false, err
		}
		arr.Elems[i] = v
	case op == classfile.ARRAYLENGTH:
		arr, ok := f.pop().(*Array)
		if !ok {
			return 0, nil, false, npe("arraylength")
		}
		f.push(int32(len(arr.Elems)))
	case op == classfile.NEWARRAY, op == classfile.ANEWARRAY:
		n := f.popInt()
		if n < 0 {
			return 0, nil, false, throw("java/lang/NegativeArraySizeException", "%d", n)
		}
		arr := &Array{Elems: make([]Value, n)}
		if op == classfile.NEWARRAY {
			zero := arrayZero(in.Int)
			for i := range arr.Elems {
				arr.Elems[i] = zero
			}
		}
		f.push(arr)

	case op >= classfile.POP && op <= classfile.SWAP:
		stackOp(f, op)

	case op >= classfile.IADD && op <= classfile.DREM:
		b, a := f.pop(), f.pop()
		v, err := arith(op, a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case op >= classfile.INEG && op <= classfile.DNEG:
		switch x := f.pop().(type) {
		case int32:
			f.push(-x)
		case int64:
			f.push(-x)
		case float32:
			f.push(-x)
		case float64:
			f.push(-x)
		}
	case op >= classfile.ISHL && op <= classfile.LXOR:
		b, a := f.pop(), f.pop()
		f.push(bitwise(op, a, b))

	case op >= classfile.I2L && op <= classfile.I2S:
		f.push(convert(op, f.pop()))
	case op == classfile.LCMP:
		b, a := f.pop().(int64), f.pop().(int64)
		f.push(compare(a < b, a > b))
	case op == classfile.FCMPL, op == classfile.FCMPG:
		b, a := f.pop().(float32), f.pop().(float32)
		f.push(fcompare(float64(a), float64(b), op == classfile.FCMPG))
	case op == classfile.DCMPL, op == classfile.DCMPG:
		b, a := f.pop().(float64), f.pop().(float64)
		f.push(fcompare(a, b, op == classfile.DCMPG))

	case op >= classfile.IFEQ && op <= classfile.IFLE:
		if intCond(op-classfile.IFEQ, f.popInt(), 0) {
			next = vm.jump(f, in.Target)
		}
	case op >= classfile.IF_ICMPEQ && op <= classfile.IF_ICMPLE:
		b, a := f.popInt(), f.popInt()
		if intCond(op-classfile.IF_ICMPEQ, a, b) {
			next = vm.jump(f, in.Target)
		}
	case op == classfile.IF_ACMPEQ, op == classfile.IF_ACMPNE:
		b, a := f.pop(), f.pop()
		if (a == b) == (op == classfile.IF_ACMPEQ) {
			next = vm.jump(f, in.Target)
		}
	case op == classfile.IFNULL, op == classfile.IFNONNULL:
		if (f.pop() == nil) == (op == classfile.IFNULL) {
			next = vm.jump(f, in.Target)
		}
	case op == classfile.GOTO, op == classfile.GOTO_W:
		next = vm.jump(f, in.Target)
	case op == classfile.TABLESWITCH:
		k := f.popInt()
		next = vm.jump(f, in.Default)
		if k >= in.Low && k <= in.High {
			next = vm.jump(f, in.Targets[k-in.Low])
		}
	case op == classfile.LOOKUPSWITCH:
		k := f.popInt()
		next = vm.jump(f, in.Default)
		for i, key := range in.Keys {
			if key == k {
				next = vm.jump(f, in.Targets[i])
				break
			}
		}

	case op >= classfile.IRETURN && op <= classfile.ARETURN:
		return 0, f.pop(), true, nil
	case op == classfile.RETURN:
		return 0, nil, true, nil

	case op == classfile.GETSTATIC, op == classfile.PUTSTATIC, op == classfile.GETFIELD, op == classfile.PUTFIELD:
		return next, nil, false, vm.field(f, in)

	case op.IsInvoke():
		return next, nil, false, vm.invoke(f, in)

	case op == classfile.NEW:
		class, err := pool.ClassName(in.Index)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(newInstance(class))
	case op == classfile.CHECKCAST:
		class, err := pool.ClassName(in.Index)
		if err != nil {
			return 0, nil, false, err
		}
		v := f.pop()
		if _, isArr := v.(*Array); v != nil && !isArr && !instanceOf(v, class, vm.super) {
			return 0, nil, false, throw("java/lang/ClassCastException", "%T cannot be cast to %s", v, class)
		}
		f.push(v)
	case op == classfile.INSTANCEOF:
		class, err := pool.ClassName(in.Index)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(boolValue(instanceOf(f.pop(), class, vm.super)))
	case op == classfile.ATHROW:
		switch x := f.pop().(type) {
		case *Thrown:
			return 0, nil, false, x
		case *Object:
			return 0, nil, false, &Thrown{Class: x.Class}
		case nil:
			return 0, nil, false, npe("athrow")
		}
		return 0, nil, false, fmt.Errorf("%w: athrow of non-throwable", ErrUnsupported)
	case op == classfile.MONITORENTER, op == classfile.MONITOREXIT:
		if f.pop() == nil {
			return 0, nil, false, npe("monitor")
		}

	default:
		return 0, nil, false, fmt.Errorf("%w: %s", ErrUnsupported, op)
	}
	return next, nil, false, nil
}

func (vm *VM) constant(index uint16) (Value, error) {
	c := vm.cf.Pool.Get(index)
	if c == nil {
		return nil, fmt.Errorf("interp: empty constant %d", index)
	}
	switch c.Tag {
	case classfile.TagInteger:
		return int32(uint32(c.Bits)), nil
	case classfile.TagFloat:
		return math.Float32frombits(uint32(c.Bits)), nil
	case classfile.TagLong:
		return int64(c.Bits), nil
	case classfile.TagDouble:
		return math.Float64frombits(c.Bits), nil
	case classfile.TagString:
		return vm.cf.Pool.StringValue(index)
	}
	return nil, fmt.Errorf("%w: ldc of %s", ErrUnsupported, c.Tag)
}

func arrayRef(v Value, i int32) (*Array, error) {
	arr, ok := v.(*Array)
	if !ok {
		return nil, npe("array access")
	}
	if i < 0 || int(i) >= len(arr.Elems) {
		return nil, throw("java/lang/ArrayIndexOutOfBoundsException", "%d", i)
	}
	return arr, nil
}

func arrayZero(atype int32) Value {
	switch atype {
	case 6:
		return float32(0)
	case 7:
		return float64(0)
	case 11:
		return int64(0)
	}
	return int32(0)
}

func stackOp(f *frame, op classfile.Opcode) {
	switch op {
	case classfile.POP:
		f.pop()
	case classfile.POP2:
		if !isWide(f.pop()) {
			f.pop()
		}
	case classfile.DUP:
		v := f.pop()
		f.push(v)
		f.push(v)
	case classfile.DUP_X1:
		v1, v2 := f.pop(), f.pop()
		f.push(v1)
		f.push(v2)
		f.push(v1)
	case classfile.DUP_X2:
		v1, v2 := f.pop(), f.pop()
		if isWide(v2) {
			f.push(v1)
			f.push(v2)
			f.push(v1)
			return
		}
		v3 := f.pop()
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case classfile.DUP2:
		v1 := f.pop()
		if isWide(v1) {
			f.push(v1)
			f.push(v1)
			return
		}
		v2 := f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v2)
		f.push(v1)
	case classfile.DUP2_X1:
		v1 := f.pop()
		if isWide(v1) {
			v2 := f.pop()
			f.push(v1)
			f.push(v2)
			f.push(v1)
			return
		}
		v2, v3 := f.pop(), f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case classfile.DUP2_X2:
		v1 := f.pop()
		if isWide(v1) {
			v2 := f.pop()
			if isWide(v2) {
				f.push(v1)
				f.push(v2)
				f.push(v1)
				return
			}
			v3 := f.pop()
			f.push(v1)
			f.push(v3)
			f.push(v2)
			f.push(v1)
			return
		}
		v2, v3 := f.pop(), f.pop()
		if isWide(v3) {
			f.push(v2)
			f.push(v1)
			f.push(v3)
			f.push(v2)
			f.push(v1)
			return
		}
		v4 := f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v4)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case classfile.SWAP:
		v1, v2 := f.pop(), f.pop()
		f.push(v1)
		f.push(v2)
	}
}

func compare(less, greater bool) int32 {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func fcompare(a, b float64, nanIsGreater bool) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		if nanIsGreater {
			return 1
		}
		return -1
	}
	return compare(a < b, a > b)
}

// intCond evaluates the k-th comparison of the eq/ne/lt/ge/gt/le family.
func intCond(k classfile.Opcode, a, b int32) bool {
	switch k {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	}
	return a <= b
}

func arith(op classfile.Opcode, a, b Value) (Value, error) {
	kind := (op - classfile.IADD) / 4
	switch x := a.(type) {
	case int32:
		return intArith(kind, x, b.(int32))
	case int64:
		return intArith(kind, x, b.(int64))
	case float32:
		return float32(floatArith(kind, float64(x), float64(b.(float32)))), nil
	case float64:
		return floatArith(kind, x, b.(float64)), nil
	}
	return nil, fmt.Errorf("%w: arithmetic on %T", ErrUnsupported, a)
}

func intArith[T int32 | int64](kind classfile.Opcode, a, b T) (Value, error) {
	switch kind {
	case 0:
		return a + b, nil
	case 1:
		return a - b, nil
	case 2:
		return a * b, nil
	}
	if b == 0 {
		return nil, throw("java/lang/ArithmeticException", "/ by zero")
	}
	if b == -1 {
		// Go panics on MinInt / -1; Java wraps.
		if kind == 3 {
			return -a, nil
		}
		return T(0), nil
	}
	if kind == 3 {
		return a / b, nil
	}
	return a % b, nil
}

func floatArith(kind classfile.Opcode, a, b float64) float64 {
	switch kind {
	case 0:
		return a + b
	case 1:
		return a - b
	case 2:
		return a * b
	case 3:
		return a / b
	}
	return math.Mod(a, b)
}

func bitwise(op classfile.Opcode, a, b Value) Value {
	if x, ok := a.(int64); ok {
		switch op {
		case classfile.LSHL:
			return x << (b.(int32) & 63)
		case classfile.LSHR:
			return x >> (b.(int32) & 63)
		case classfile.LUSHR:
			return int64(uint64(x) >> (b.(int32) & 63))
		case classfile.LAND:
			return x & b.(int64)
		case classfile.LOR:
			return x | b.(int64)
		}
		return x ^ b.(int64)
	}
	x, y := a.(int32), b.(int32)
	switch op {
	case classfile.ISHL:
		return x << (y & 31)
	case classfile.ISHR:
		return x >> (y & 31)
	case classfile.IUSHR:
		return int32(uint32(x) >> (y & 31))
	case classfile.IAND:
		return x & y
	case classfile.IOR:
		return x | y
	}
	return x ^ y
}

func convert(op classfile.Opcode, v Value) Value {
	switch op {
	case classfile.I2L:
		return int64(v.(int32))
	case classfile.I2F:
		return float32(v.(int32))
	case classfile.I2D:
		return float64(v.(int32))
	case classfile.L2I:
		return int32(v.(int64))
	case classfile.L2F:
		return float32(v.(int64))
	case classfile.L2D:
		return float64(v.(int64))
	case classfile.F2I:
		return int32(v.(float32))
	case classfile.F2L:
		return int64(v.(float32))
	case classfile.F2D:
		return float64(v.(float32))
	case classfile.D2I:
		return int32(v.(float64))
	case classfile.D2L:
		return int64(v.(float64))
	case classfile.D2F:
		return float32(v.(float64))
	case classfile.I2B:
		return int32(int8(v.(int32)))
	case classfile.I2C:
		return int32(uint16(v.(int32)))
	}
	return int32(int16(v.(int32)))
}

func (vm *VM) field(f *frame, in *classfile.Instruction) error {
	ref, err := vm.cf.Pool.Member(in.Index)
	if err != nil {
		return err
	}
	key := ref.Owner + "." + ref.Name
	switch in.Op {
	case classfile.GETSTATIC:
		if key == "java/lang/System.out" {
			f.push(&PrintStream{})
			return nil
		}
		v, ok := vm.statics[key]
		if !ok {
			v = zeroValue(ref.Desc)
		}
		f.push(v)
	case classfile.PUTSTATIC:
		vm.statics[key] = f.pop()
	case classfile.GETFIELD:
		obj, ok := f.pop().(*Object)
		if !ok {
			return npe("getfield " + ref.Name)
		}
		v, ok := obj.Fields[ref.Name]
		if !ok {
			v = zeroValue(ref.Desc)
		}
		f.push(v)
	case classfile.PUTFIELD:
		v := f.pop()
		obj, ok := f.pop().(*Object)
		if !ok {
			return npe("putfield " + ref.Name)
		}
		obj.Fields[ref.Name] = v
	}
	return nil
}

func zeroValue(desc string) Value {
	switch desc {
	case "Z", "B", "C", "S", "I":
		return int32(0)
	case "J":
		return int64(0)
	case "F":
		return float32(0)
	case "D":
		return float64(0)
	}
	return nil
}

func (vm *VM) invoke(f *frame, in *classfile.Instruction) error {
	if in.Op == classfile.INVOKEDYNAMIC {
		return fmt.Errorf("%w: invokedynamic", ErrUnsupported)
	}
	ref, err := vm.cf.Pool.Member(in.Index)
	if err != nil {
		return err
	}
	params, ret, err := classfile.ParseMethodDescriptor(ref.Desc)
	if err != nil {
		return err
	}
	args := make([]Value, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	var recv Value
	if in.Op != classfile.INVOKESTATIC {
		recv = f.pop()
		if recv == nil {
			return npe(ref.Name)
		}
	}

	result, err := vm.dispatch(in.Op, ref, recv, args)
	if err != nil {
		return err
	}
	if ret != "V" {
		f.push(result)
	}
	return nil
}

func (vm *VM) dispatch(op classfile.Opcode, ref classfile.MemberRef, recv Value, args []Value) (Value, error) {
	sig := ref.Name + ref.Desc
	own := vm.cf.Name()

	// Methods of the interpreted class. invokespecial is bound to the
	// named owner, so super.<init>() reaches the native.
	interpret := ref.Owner == own
	if obj, ok := recv.(*Object); ok && obj.Class == own && op != classfile.INVOKESPECIAL {
		interpret = true
	}
	if interpret {
		if m := vm.cf.FindMethod(ref.Name, ref.Desc); m != nil && m.Code != nil {
			if recv != nil {
				args = append([]Value{recv}, args...)
			}
			return vm.call(m, args)
		}
	}

	if fn, ok := vm.natives[ref.Owner+"."+sig]; ok {
		return fn(vm, recv, args)
	}
	if op == classfile.INVOKESTATIC || op == classfile.INVOKESPECIAL && ref.Name == "<init>" {
		if fn, ok := staticNatives[ref.Owner+"."+sig]; ok {
			return fn(vm, recv, args)
		}
		if ref.Name == "<init>" {
			return vm.construct(recv, args)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ref)
	}

	if fn, ok := virtualTable(recv)[sig]; ok {
		return fn(vm, recv, args)
	}
	if fn, ok := objectMethods[sig]; ok {
		return fn(vm, recv, args)
	}
	return nil, throw("java/lang/AbstractMethodError", "%s on %T", sig, recv)
}

// construct handles constructors without a native: exceptions take an
// optional message and plain objects need no initialization.
func (vm *VM) construct(recv Value, args []Value) (Value, error) {
	switch x := recv.(type) {
	case *Thrown:
		if len(args) > 0 {
			x.Message = ToString(args[0])
		}
		return nil, nil
	case *Object:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: constructor for %T", ErrUnsupported, recv)
}
