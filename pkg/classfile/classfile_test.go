package classfile

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func buildClass(t *testing.T, build func(cf *ClassFile)) []byte {
	t.Helper()
	cf := NewClass("demo/Sample", "java/lang/Object")
	build(cf)
	data, err := cf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return data
}

func mustParse(t *testing.T, data []byte) *ClassFile {
	t.Helper()
	cf, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cf
}

func codeAttr(t *testing.T, m *Method) []byte {
	t.Helper()
	for _, a := range m.Attributes {
		if a.Name == "Code" {
			return a.Data
		}
	}
	t.Fatalf("method %s has no Code attribute", m.Name)
	return nil
}

func TestBuildAndRoundTrip(t *testing.T) {
	data := buildClass(t, func(cf *ClassFile) {
		cf.AddMethod(AccPublic|AccStatic, "twice", "(I)I", []*Instruction{
			VarInsn(ILOAD, 0),
			Insn(ICONST_2),
			Insn(IMUL),
			Insn(IRETURN),
		})
	})

	cf := mustParse(t, data)
	if cf.Name() != "demo/Sample" {
		t.Errorf("Name() = %q, want %q", cf.Name(), "demo/Sample")
	}
	if cf.SuperName() != "java/lang/Object" {
		t.Errorf("SuperName() = %q, want java/lang/Object", cf.SuperName())
	}
	m := cf.FindMethod("twice", "(I)I")
	if m == nil {
		t.Fatal("method twice not found")
	}
	if got := m.Code.RealCount(); got != 4 {
		t.Errorf("RealCount() = %d, want 4", got)
	}
	if m.Code.MaxStack != 2 {
		t.Errorf("MaxStack = %d, want 2", m.Code.MaxStack)
	}
	if m.Code.MaxLocals != 1 {
		t.Errorf("MaxLocals = %d, want 1", m.Code.MaxLocals)
	}

	again, err := cf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Error("unmodified class did not round-trip byte for byte")
	}
}

func TestParseErrors(t *testing.T) {
	valid := buildClass(t, func(cf *ClassFile) {
		cf.AddMethod(AccPublic|AccStatic, "run", "()V", []*Instruction{Insn(RETURN)})
	})

	badMagic := append([]byte(nil), valid...)
	badMagic[0] = 0xDE

	future := append([]byte(nil), valid...)
	future[7] = 53

	ancient := append([]byte(nil), valid...)
	ancient[6], ancient[7] = 0, 44

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"magic only", valid[:4], ErrTruncated},
		{"bad magic", badMagic, ErrBadMagic},
		{"version too new", future, ErrUnsupportedVersion},
		{"version too old", ancient, ErrUnsupportedVersion},
		{"truncated body", valid[:len(valid)-3], ErrMalformedUnit},
		{"trailing bytes", append(append([]byte(nil), valid...), 0), ErrMalformedUnit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrMalformedUnit) {
				t.Errorf("Parse() error = %v does not match ErrMalformedUnit", err)
			}
		})
	}
}

func TestModifiedRoundTripKeepsInstructions(t *testing.T) {
	data := buildClass(t, func(cf *ClassFile) {
		skip := NewLabel("skip")
		cf.AddMethod(AccPublic|AccStatic, "pick", "(I)I", []*Instruction{
			VarInsn(ILOAD, 0),
			JumpInsn(IFEQ, skip),
			Insn(ICONST_1),
			Insn(IRETURN),
			LabelInsn(skip),
			Insn(ICONST_0),
			Insn(IRETURN),
		})
	})

	cf := mustParse(t, data)
	m := cf.FindMethod("pick", "")
	before := listing(m)
	m.MarkModified()
	out, err := cf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	after := listing(mustParse(t, out).FindMethod("pick", ""))
	if before != after {
		t.Errorf("instructions changed:\n%s\nwant:\n%s", after, before)
	}
}

func listing(m *Method) string {
	var sb strings.Builder
	for _, in := range m.Code.Insns {
		sb.WriteString(in.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestStackMapSameFrame(t *testing.T) {
	data := buildClass(t, func(cf *ClassFile) {
		skip := NewLabel("skip")
		cf.AddMethod(AccPublic|AccStatic, "pick", "(I)I", []*Instruction{
			VarInsn(ILOAD, 0),
			JumpInsn(IFEQ, skip),
			Insn(ICONST_1),
			Insn(IRETURN),
			LabelInsn(skip),
			Insn(ICONST_0),
			Insn(IRETURN),
		})
	})

	m := mustParse(t, data).FindMethod("pick", "")
	var smt []byte
	for _, a := range m.Code.Attributes {
		if a.Name == "StackMapTable" {
			smt = a.Data
		}
	}
	// One same_frame at offset 6: iload_0, ifeq(3), iconst_1, ireturn.
	want := []byte{0x00, 0x01, 0x06}
	if !bytes.Equal(smt, want) {
		t.Errorf("StackMapTable = % X, want % X", smt, want)
	}
}

func TestStackMapLoopFrames(t *testing.T) {
	cf := NewClass("demo/Sample", "java/lang/Object")
	loop := NewLabel("loop")
	done := NewLabel("done")
	m := cf.AddMethod(AccPublic|AccStatic, "count", "(I)Ljava/lang/String;", []*Instruction{
		Insn(ICONST_0),
		VarInsn(ISTORE, 1),
		LabelInsn(loop),
		VarInsn(ILOAD, 1),
		VarInsn(ILOAD, 0),
		JumpInsn(IF_ICMPGE, done),
		IincInsn(1, 1),
		JumpInsn(GOTO, loop),
		LabelInsn(done),
		PoolInsn(LDC, cf.Pool.AddString("done")),
		Insn(ARETURN),
	})
	data, err := cf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if m.Code.MaxLocals != 2 {
		t.Errorf("MaxLocals = %d, want 2", m.Code.MaxLocals)
	}
	if m.Code.MaxStack != 2 {
		t.Errorf("MaxStack = %d, want 2", m.Code.MaxStack)
	}

	var smt []byte
	for _, a := range mustParse(t, data).FindMethod("count", "").Code.Attributes {
		if a.Name == "StackMapTable" {
			smt = a.Data
		}
	}
	// append_frame(+int) at loop (offset 2), then same_frame at done
	// (offset 13, delta 10).
	want := []byte{0x00, 0x02, 252, 0x00, 0x02, byte(VInt), 10}
	if !bytes.Equal(smt, want) {
		t.Errorf("StackMapTable = % X, want % X", smt, want)
	}

	an, err := Analyze(cf, m)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for i, in := range m.Code.Insns {
		if in.Op == IINC {
			f := an.Frames[i]
			if len(f.Locals) != 2 || f.Locals[1] != intType {
				t.Errorf("frame before iinc = %v, want [int int]", f.Locals)
			}
		}
	}
}

func TestGotoPromotedToWide(t *testing.T) {
	skip := NewLabel("skip")
	end := NewLabel("end")
	insns := []*Instruction{
		VarInsn(ILOAD, 0),
		JumpInsn(IFEQ, skip),
		JumpInsn(GOTO, end),
		LabelInsn(skip),
	}
	for i := 0; i < 33000; i++ {
		insns = append(insns, Insn(NOP))
	}
	insns = append(insns, LabelInsn(end), Insn(RETURN))

	data := buildClass(t, func(cf *ClassFile) {
		cf.AddMethod(AccPublic|AccStatic, "far", "(I)V", insns)
	})
	code := codeAttr(t, mustParse(t, data).FindMethod("far", ""))
	// Code bytes start after max_stack, max_locals and code_length.
	if op := Opcode(code[8+4]); op != GOTO_W {
		t.Errorf("opcode at offset 4 = %s, want goto_w", op)
	}
}

func TestConditionalOutOfRange(t *testing.T) {
	end := NewLabel("end")
	insns := []*Instruction{
		VarInsn(ILOAD, 0),
		JumpInsn(IFEQ, end),
	}
	for i := 0; i < 33000; i++ {
		insns = append(insns, Insn(NOP))
	}
	insns = append(insns, LabelInsn(end), Insn(RETURN))

	cf := NewClass("demo/Sample", "java/lang/Object")
	cf.AddMethod(AccPublic|AccStatic, "far", "(I)V", insns)
	_, err := cf.Serialize()
	if !errors.Is(err, ErrUnrepresentableUnit) {
		t.Errorf("Serialize() error = %v, want ErrUnrepresentableUnit", err)
	}
}

func TestUnreachableCodeRemoved(t *testing.T) {
	data := buildClass(t, func(cf *ClassFile) {
		cf.AddMethod(AccPublic|AccStatic, "run", "()V", []*Instruction{
			Insn(RETURN),
			Insn(NOP),
			Insn(ICONST_1),
			Insn(POP),
		})
	})
	m := mustParse(t, data).FindMethod("run", "")
	if got := m.Code.RealCount(); got != 1 {
		t.Errorf("RealCount() = %d, want 1", got)
	}
}

func TestDanglingLabel(t *testing.T) {
	cf := NewClass("demo/Sample", "java/lang/Object")
	cf.AddMethod(AccPublic|AccStatic, "run", "()V", []*Instruction{
		JumpInsn(GOTO, NewLabel("nowhere")),
	})
	if _, err := cf.Serialize(); !errors.Is(err, ErrUnrepresentableUnit) {
		t.Errorf("Serialize() error = %v, want ErrUnrepresentableUnit", err)
	}
}

func TestSubroutinesRejected(t *testing.T) {
	sub := NewLabel("sub")
	cf := NewClass("demo/Sample", "java/lang/Object")
	cf.Major = 49
	cf.AddMethod(AccPublic|AccStatic, "run", "()V", []*Instruction{
		JumpInsn(JSR, sub),
		Insn(RETURN),
		LabelInsn(sub),
		VarInsn(ASTORE, 0),
		VarInsn(RET, 0),
	})
	if _, err := cf.Serialize(); !errors.Is(err, ErrUnrepresentableUnit) {
		t.Errorf("Serialize() error = %v, want ErrUnrepresentableUnit", err)
	}
}

func TestHandlersAndLinesSurvive(t *testing.T) {
	start, end, handler := NewLabel("start"), NewLabel("end"), NewLabel("handler")
	var cf *ClassFile
	data := buildClass(t, func(c *ClassFile) {
		cf = c
		m := c.AddMethod(AccPublic|AccStatic, "safe", "()Ljava/lang/Object;", []*Instruction{
			LabelInsn(start),
			LineInsn(start, 10),
			PoolInsn(NEW, c.Pool.AddClass("java/lang/Object")),
			Insn(DUP),
			PoolInsn(INVOKESPECIAL, c.Pool.AddMethodref("java/lang/Object", "<init>", "()V")),
			LabelInsn(end),
			Insn(ARETURN),
			LabelInsn(handler),
			LineInsn(handler, 12),
			Insn(ARETURN),
		})
		m.Code.Handlers = []Handler{{Start: start, End: end, Handler: handler, CatchType: c.Pool.AddClass("java/lang/RuntimeException")}}
	})

	m := mustParse(t, data).FindMethod("safe", "")
	if len(m.Code.Handlers) != 1 {
		t.Fatalf("len(Handlers) = %d, want 1", len(m.Code.Handlers))
	}
	h := m.Code.Handlers[0]
	if h.Start.Offset() != 0 || h.End.Offset() != 7 || h.Handler.Offset() != 8 {
		t.Errorf("handler = %d-%d -> %d, want 0-7 -> 8", h.Start.Offset(), h.End.Offset(), h.Handler.Offset())
	}
	var lines []int32
	for _, in := range m.Code.Insns {
		if in.Op == LINE {
			lines = append(lines, in.Int)
		}
	}
	if len(lines) != 2 || lines[0] != 10 || lines[1] != 12 {
		t.Errorf("lines = %v, want [10 12]", lines)
	}

	an, err := Analyze(cf, cf.FindMethod("safe", ""))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	last := len(cf.FindMethod("safe", "").Code.Insns) - 1
	if got := an.Frames[last].Stack; len(got) != 1 || got[0] != ObjectType("java/lang/RuntimeException") {
		t.Errorf("handler stack = %v, want [java/lang/RuntimeException]", got)
	}
	if got := an.Frames[last-3].Stack; len(got) != 1 || got[0] != ObjectType("java/lang/Object") {
		t.Errorf("stack before areturn = %v, want [java/lang/Object]", got)
	}
}

func TestWideLocalsAndStack(t *testing.T) {
	cf := NewClass("demo/Sample", "java/lang/Object")
	m := cf.AddMethod(AccPublic|AccStatic, "sum", "(JI)J", []*Instruction{
		VarInsn(LLOAD, 0),
		VarInsn(ILOAD, 2),
		Insn(I2L),
		Insn(LADD),
		VarInsn(LSTORE, 300),
		VarInsn(LLOAD, 300),
		Insn(LRETURN),
	})
	data, err := cf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if m.Code.MaxStack != 4 {
		t.Errorf("MaxStack = %d, want 4", m.Code.MaxStack)
	}
	if m.Code.MaxLocals != 302 {
		t.Errorf("MaxLocals = %d, want 302", m.Code.MaxLocals)
	}

	parsed := mustParse(t, data).FindMethod("sum", "")
	var store *Instruction
	for _, in := range parsed.Code.Insns {
		if in.Op == LSTORE {
			store = in
		}
	}
	if store == nil || store.Var != 300 {
		t.Errorf("wide lstore decoded as %v, want lstore 300", store)
	}
}

func TestMergeTypes(t *testing.T) {
	hier := SuperMap{
		"demo/Cat":    "demo/Animal",
		"demo/Dog":    "demo/Animal",
		"demo/Animal": "java/lang/Object",
	}
	tests := []struct {
		name string
		a, b VType
		want VType
	}{
		{"same", intType, intType, intType},
		{"null and object", nullType, ObjectType("java/lang/String"), ObjectType("java/lang/String")},
		{"siblings", ObjectType("demo/Cat"), ObjectType("demo/Dog"), ObjectType("demo/Animal")},
		{"unrelated", ObjectType("demo/Cat"), ObjectType("java/lang/String"), ObjectType("java/lang/Object")},
		{"arrays", ObjectType("[I"), ObjectType("[J"), ObjectType("java/lang/Object")},
		{"int and float", intType, floatType, topType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeType(tt.a, tt.b, hier); got != tt.want {
				t.Errorf("mergeType(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMergeNullAndString(t *testing.T) {
	cf := NewClass("demo/Sample", "java/lang/Object")
	other, join := NewLabel("other"), NewLabel("join")
	m := cf.AddMethod(AccPublic|AccStatic, "choose", "(Z)Ljava/lang/Object;", []*Instruction{
		VarInsn(ILOAD, 0),
		JumpInsn(IFEQ, other),
		PoolInsn(LDC, cf.Pool.AddString("x")),
		JumpInsn(GOTO, join),
		LabelInsn(other),
		Insn(ACONST_NULL),
		LabelInsn(join),
		Insn(ARETURN),
	})
	an, err := Analyze(cf, m)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	f := an.Frames[len(m.Code.Insns)-1]
	if len(f.Stack) != 1 || f.Stack[0] != ObjectType("java/lang/String") {
		t.Errorf("stack at join = %v, want [java/lang/String]", f.Stack)
	}
	if _, err := cf.Serialize(); err != nil {
		t.Errorf("Serialize: %v", err)
	}
}

func TestStackHeightMismatch(t *testing.T) {
	cf := NewClass("demo/Sample", "java/lang/Object")
	join := NewLabel("join")
	cf.AddMethod(AccPublic|AccStatic, "bad", "(I)V", []*Instruction{
		VarInsn(ILOAD, 0),
		JumpInsn(IFEQ, join),
		Insn(ICONST_1),
		LabelInsn(join),
		Insn(RETURN),
	})
	if _, err := cf.Serialize(); !errors.Is(err, ErrUnrepresentableUnit) {
		t.Errorf("Serialize() error = %v, want ErrUnrepresentableUnit", err)
	}
}

func TestFirstFreeLocal(t *testing.T) {
	cf := NewClass("demo/Sample", "java/lang/Object")
	tests := []struct {
		name   string
		access uint16
		desc   string
		insns  []*Instruction
		want   int
	}{
		{"static no args", AccStatic, "()V", []*Instruction{Insn(RETURN)}, 0},
		{"instance", 0, "()V", []*Instruction{Insn(RETURN)}, 1},
		{"wide param", AccStatic, "(JI)V", []*Instruction{Insn(RETURN)}, 3},
		{"store beyond params", AccStatic, "()V", []*Instruction{Insn(DCONST_0), VarInsn(DSTORE, 4), Insn(RETURN)}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := cf.AddMethod(tt.access, "m", tt.desc, tt.insns)
			got, err := m.FirstFreeLocal(cf.Pool)
			if err != nil {
				t.Fatalf("FirstFreeLocal: %v", err)
			}
			if got != tt.want {
				t.Errorf("FirstFreeLocal() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDisassemble(t *testing.T) {
	data := buildClass(t, func(cf *ClassFile) {
		cf.AddMethod(AccPublic|AccStatic, "hello", "()Ljava/lang/String;", []*Instruction{
			PoolInsn(LDC, cf.Pool.AddString("hi")),
			Insn(ARETURN),
		})
	})
	out := mustParse(t, data).Disassemble()
	for _, want := range []string{"demo.Sample", "hello()Ljava/lang/String;", "ldc", `"hi"`, "areturn"} {
		if !strings.Contains(out, want) {
			t.Errorf("Disassemble() missing %q:\n%s", want, out)
		}
	}
}

func stackMap(m *Method) []byte {
	for _, a := range m.Code.Attributes {
		if a.Name == "StackMapTable" {
			return a.Data
		}
	}
	return nil
}

func TestModifiedReferenceLocals(t *testing.T) {
	cf := NewClass("demo/Sample", "java/lang/Object")
	skip := NewLabel("skip")
	m := cf.AddMethod(AccPublic|AccStatic, "keep", "(Ljava/lang/String;Z)Ljava/lang/Object;", []*Instruction{
		VarInsn(ALOAD, 0),
		VarInsn(ASTORE, 2),
		VarInsn(ILOAD, 1),
		JumpInsn(IFEQ, skip),
		VarInsn(ALOAD, 2),
		Insn(ARETURN),
		LabelInsn(skip),
		VarInsn(ALOAD, 0),
		Insn(ARETURN),
	})
	data, err := cf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if m.Code.MaxLocals != 3 {
		t.Errorf("MaxLocals = %d, want 3", m.Code.MaxLocals)
	}
	if m.Code.MaxStack != 1 {
		t.Errorf("MaxStack = %d, want 1", m.Code.MaxStack)
	}

	parsed := mustParse(t, data)
	pm := parsed.FindMethod("keep", "")
	// aload_0 astore_2 iload_1 ifeq aload_2 areturn | aload_0 areturn
	code := codeAttr(t, pm)
	wantCode := []byte{0x2A, 0x4D, 0x1B, 0x99, 0x00, 0x05, 0x2C, 0xB0, 0x2A, 0xB0}
	if got := code[8 : 8+binary.BigEndian.Uint32(code[4:8])]; !bytes.Equal(got, wantCode) {
		t.Errorf("code = % X, want % X", got, wantCode)
	}
	// append_frame(+String) at offset 8.
	str := parsed.Pool.AddClass("java/lang/String")
	want := []byte{0x00, 0x01, 252, 0x00, 0x08, byte(VObject), byte(str >> 8), byte(str)}
	if got := stackMap(pm); !bytes.Equal(got, want) {
		t.Errorf("StackMapTable = % X, want % X", got, want)
	}

	an, err := Analyze(parsed, pm)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for i, in := range pm.Code.Insns {
		if in.Op == ALOAD && in.Var == 2 {
			if got := an.Frames[i+1].Stack; len(got) != 1 || got[0] != ObjectType("java/lang/String") {
				t.Errorf("stack after aload 2 = %v, want [java/lang/String]", got)
			}
		}
	}

	// Re-assembling the parsed method reproduces the same code.
	pm.MarkModified()
	again, err := parsed.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if got := listing(mustParse(t, again).FindMethod("keep", "")); got != listing(pm) {
		t.Errorf("re-assembled listing:\n%s\nwant:\n%s", got, listing(pm))
	}
}

// loadFixture reads a hex-encoded class file from testdata.
func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	text, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	data, err := hex.DecodeString(strings.Join(strings.Fields(string(text)), ""))
	if err != nil {
		t.Fatalf("decoding %s: %v", name, err)
	}
	return data
}

func localVars(m *Method) string {
	var parts []string
	for _, lv := range m.Code.LocalVars {
		parts = append(parts, fmt.Sprintf("%d@%d-%d/%v", lv.Index, lv.Start.Offset(), lv.End.Offset(), lv.Signature))
	}
	return strings.Join(parts, " ")
}

// Mods.class.hex is testdata/Mods.java as javac lays it out: compact
// loads and stores, a padded tableswitch, line, local variable and
// local variable type tables and a StackMapTable.
func TestCompiledClass(t *testing.T) {
	data := loadFixture(t, "Mods.class.hex")
	cf := mustParse(t, data)
	if cf.Name() != "demo/Mods" || cf.Major != 52 {
		t.Fatalf("class = %s version %d, want demo/Mods 52", cf.Name(), cf.Major)
	}
	again, err := cf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Fatal("compiled class did not round-trip byte for byte")
	}

	m := cf.FindMethod("active", "")
	var sw *Instruction
	loads := 0
	for _, in := range m.Code.Insns {
		switch {
		case in.Op == TABLESWITCH:
			sw = in
		case in.Op == ALOAD:
			loads++
		}
	}
	if sw == nil || sw.Low != 0 || sw.High != 1 || len(sw.Targets) != 2 {
		t.Fatalf("tableswitch decoded as %v", sw)
	}
	if sw.Default.Offset() != 34 || sw.Targets[0].Offset() != 24 || sw.Targets[1].Offset() != 29 {
		t.Errorf("tableswitch targets = %d %d default %d, want 24 29 default 34",
			sw.Targets[0].Offset(), sw.Targets[1].Offset(), sw.Default.Offset())
	}
	if loads != 3 {
		t.Errorf("decoded %d aload instructions, want 3", loads)
	}
	if len(stackMap(m)) == 0 {
		t.Error("original StackMapTable not kept")
	}
	wantVars := localVars(m)

	code := codeAttr(t, m)
	original := bytes.Clone(code[8 : 8+binary.BigEndian.Uint32(code[4:8])])

	m.MarkModified()
	out, err := cf.Serialize()
	if err != nil {
		t.Fatalf("Serialize modified: %v", err)
	}
	parsed := mustParse(t, out)
	pm := parsed.FindMethod("active", "")
	code = codeAttr(t, pm)
	if got := code[8 : 8+binary.BigEndian.Uint32(code[4:8])]; !bytes.Equal(got, original) {
		t.Errorf("re-assembled code = % X\nwant % X", got, original)
	}
	if pm.Code.MaxStack != 2 || pm.Code.MaxLocals != 4 {
		t.Errorf("max_stack %d max_locals %d, want 2 4", pm.Code.MaxStack, pm.Code.MaxLocals)
	}
	if got := localVars(pm); got != wantVars {
		t.Errorf("local variables = %s, want %s", got, wantVars)
	}
	var lines []int32
	for _, in := range pm.Code.Insns {
		if in.Op == LINE {
			lines = append(lines, in.Int)
		}
	}
	if fmt.Sprint(lines) != "[8 10 13 16 19]" {
		t.Errorf("lines = %v, want [8 10 13 16 19]", lines)
	}

	// Recomputed frames: the three switch arms keep the entry locals, and
	// out merges List with ArrayList to Object.
	obj := parsed.Pool.AddClass("java/lang/Object")
	want := []byte{0x00, 0x04, 24, 4, 4, 252, 0x00, 0x07, byte(VObject), byte(obj >> 8), byte(obj)}
	if got := stackMap(pm); !bytes.Equal(got, want) {
		t.Errorf("StackMapTable = % X, want % X", got, want)
	}
	if got := len(pm.Code.Attributes); got != 1 {
		t.Errorf("%d other Code attributes after re-assembly, want 1", got)
	}
}
