package interp

import (
	"bytes"
	"errors"
	"testing"

	cf "github.com/chazu/classweave/pkg/classfile"
)

// compile builds a class, serializes it and parses the result back so
// the tests run the encoded form.
func compile(t *testing.T, build func(c *cf.ClassFile)) *cf.ClassFile {
	t.Helper()
	c := cf.NewClass("demo/Calc", "java/lang/Object")
	build(c)
	data, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	parsed, err := cf.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return parsed
}

func TestSumLoop(t *testing.T) {
	class := compile(t, func(c *cf.ClassFile) {
		loop, done := cf.NewLabel("loop"), cf.NewLabel("done")
		c.AddMethod(cf.AccPublic|cf.AccStatic, "sum", "(I)I", []*cf.Instruction{
			cf.Insn(cf.ICONST_0),
			cf.VarInsn(cf.ISTORE, 1),
			cf.Insn(cf.ICONST_0),
			cf.VarInsn(cf.ISTORE, 2),
			cf.LabelInsn(loop),
			cf.VarInsn(cf.ILOAD, 2),
			cf.VarInsn(cf.ILOAD, 0),
			cf.JumpInsn(cf.IF_ICMPGT, done),
			cf.VarInsn(cf.ILOAD, 1),
			cf.VarInsn(cf.ILOAD, 2),
			cf.Insn(cf.IADD),
			cf.VarInsn(cf.ISTORE, 1),
			cf.IincInsn(2, 1),
			cf.JumpInsn(cf.GOTO, loop),
			cf.LabelInsn(done),
			cf.VarInsn(cf.ILOAD, 1),
			cf.Insn(cf.IRETURN),
		})
	})

	tests := []struct {
		n, want int32
	}{
		{0, 0},
		{1, 1},
		{10, 55},
		{100, 5050},
	}
	for _, tt := range tests {
		got, err := New(class).Invoke("sum", "(I)I", tt.n)
		if err != nil {
			t.Fatalf("sum(%d): %v", tt.n, err)
		}
		if got != tt.want {
			t.Errorf("sum(%d) = %v, want %d", tt.n, got, tt.want)
		}
	}
}

func TestListNatives(t *testing.T) {
	class := compile(t, func(c *cf.ClassFile) {
		p := c.Pool
		c.AddMethod(cf.AccPublic|cf.AccStatic, "copy", "(Ljava/util/List;)Ljava/util/List;", []*cf.Instruction{
			cf.PoolInsn(cf.NEW, p.AddClass("java/util/ArrayList")),
			cf.Insn(cf.DUP),
			cf.VarInsn(cf.ALOAD, 0),
			cf.PoolInsn(cf.INVOKESPECIAL, p.AddMethodref("java/util/ArrayList", "<init>", "(Ljava/util/Collection;)V")),
			cf.Insn(cf.DUP),
			cf.PoolInsn(cf.LDC, p.AddString("tail")),
			cf.PoolInsn(cf.INVOKEINTERFACE, p.AddInterfaceMethodref("java/util/List", "add", "(Ljava/lang/Object;)Z")),
			cf.Insn(cf.POP),
			cf.Insn(cf.ARETURN),
		})
	})

	src := NewList("a", "b")
	got, err := New(class).Invoke("copy", "", src)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if s := ToString(got); s != "[a, b, tail]" {
		t.Errorf("copy() = %s, want [a, b, tail]", s)
	}
	if len(src.Items) != 2 {
		t.Errorf("source list modified: %v", ToString(src))
	}
}

func TestCaughtException(t *testing.T) {
	class := compile(t, func(c *cf.ClassFile) {
		p := c.Pool
		start, end, handler := cf.NewLabel("start"), cf.NewLabel("end"), cf.NewLabel("handler")
		m := c.AddMethod(cf.AccPublic|cf.AccStatic, "guarded", "()Ljava/lang/String;", []*cf.Instruction{
			cf.LabelInsn(start),
			cf.PoolInsn(cf.NEW, p.AddClass("java/lang/IllegalStateException")),
			cf.Insn(cf.DUP),
			cf.PoolInsn(cf.LDC, p.AddString("boom")),
			cf.PoolInsn(cf.INVOKESPECIAL, p.AddMethodref("java/lang/IllegalStateException", "<init>", "(Ljava/lang/String;)V")),
			cf.Insn(cf.ATHROW),
			cf.LabelInsn(end),
			cf.LabelInsn(handler),
			cf.PoolInsn(cf.INVOKEVIRTUAL, p.AddMethodref("java/lang/Throwable", "getMessage", "()Ljava/lang/String;")),
			cf.Insn(cf.ARETURN),
		})
		m.Code.Handlers = []cf.Handler{{Start: start, End: end, Handler: handler, CatchType: p.AddClass("java/lang/RuntimeException")}}
	})

	got, err := New(class).Invoke("guarded", "")
	if err != nil {
		t.Fatalf("guarded: %v", err)
	}
	if got != "boom" {
		t.Errorf("guarded() = %v, want boom", got)
	}
}

func TestUncaughtException(t *testing.T) {
	class := compile(t, func(c *cf.ClassFile) {
		p := c.Pool
		c.AddMethod(cf.AccPublic|cf.AccStatic, "fail", "()V", []*cf.Instruction{
			cf.Insn(cf.ACONST_NULL),
			cf.PoolInsn(cf.INVOKEVIRTUAL, p.AddMethodref("java/lang/Object", "toString", "()Ljava/lang/String;")),
			cf.Insn(cf.POP),
			cf.Insn(cf.RETURN),
		})
	})

	_, err := New(class).Invoke("fail", "")
	var th *Thrown
	if !errors.As(err, &th) {
		t.Fatalf("fail() error = %v, want *Thrown", err)
	}
	if th.Class != "java/lang/NullPointerException" {
		t.Errorf("thrown class = %s, want java/lang/NullPointerException", th.Class)
	}
}

func TestStepLimit(t *testing.T) {
	class := compile(t, func(c *cf.ClassFile) {
		spin := cf.NewLabel("spin")
		c.AddMethod(cf.AccPublic|cf.AccStatic, "spin", "()V", []*cf.Instruction{
			cf.LabelInsn(spin),
			cf.JumpInsn(cf.GOTO, spin),
		})
	})

	vm := New(class)
	vm.MaxSteps = 1000
	if _, err := vm.Invoke("spin", ""); !errors.Is(err, ErrStepLimit) {
		t.Errorf("spin() error = %v, want ErrStepLimit", err)
	}
}

func TestInstanceCallAndPrint(t *testing.T) {
	class := compile(t, func(c *cf.ClassFile) {
		p := c.Pool
		c.AddMethod(cf.AccPublic, "<init>", "()V", []*cf.Instruction{
			cf.VarInsn(cf.ALOAD, 0),
			cf.PoolInsn(cf.INVOKESPECIAL, p.AddMethodref("java/lang/Object", "<init>", "()V")),
			cf.Insn(cf.RETURN),
		})
		c.AddMethod(cf.AccPublic, "greet", "(Ljava/lang/String;)Ljava/lang/String;", []*cf.Instruction{
			cf.PoolInsn(cf.NEW, p.AddClass("java/lang/StringBuilder")),
			cf.Insn(cf.DUP),
			cf.PoolInsn(cf.LDC, p.AddString("hello ")),
			cf.PoolInsn(cf.INVOKESPECIAL, p.AddMethodref("java/lang/StringBuilder", "<init>", "(Ljava/lang/String;)V")),
			cf.VarInsn(cf.ALOAD, 1),
			cf.PoolInsn(cf.INVOKEVIRTUAL, p.AddMethodref("java/lang/StringBuilder", "append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;")),
			cf.PoolInsn(cf.INVOKEVIRTUAL, p.AddMethodref("java/lang/StringBuilder", "toString", "()Ljava/lang/String;")),
			cf.Insn(cf.ARETURN),
		})
		c.AddMethod(cf.AccPublic|cf.AccStatic, "main", "()V", []*cf.Instruction{
			cf.PoolInsn(cf.GETSTATIC, p.AddFieldref("java/lang/System", "out", "Ljava/io/PrintStream;")),
			cf.PoolInsn(cf.NEW, p.AddClass("demo/Calc")),
			cf.Insn(cf.DUP),
			cf.PoolInsn(cf.INVOKESPECIAL, p.AddMethodref("demo/Calc", "<init>", "()V")),
			cf.PoolInsn(cf.LDC, p.AddString("world")),
			cf.PoolInsn(cf.INVOKEVIRTUAL, p.AddMethodref("demo/Calc", "greet", "(Ljava/lang/String;)Ljava/lang/String;")),
			cf.PoolInsn(cf.INVOKEVIRTUAL, p.AddMethodref("java/io/PrintStream", "println", "(Ljava/lang/String;)V")),
			cf.Insn(cf.RETURN),
		})
	})

	var out bytes.Buffer
	vm := New(class)
	vm.Out = &out
	if _, err := vm.Invoke("main", "()V"); err != nil {
		t.Fatalf("main: %v", err)
	}
	if got := out.String(); got != "hello world\n" {
		t.Errorf("output = %q, want %q", got, "hello world\n")
	}
}

func TestInstanceOf(t *testing.T) {
	noSuper := func(string) string { return "" }
	tests := []struct {
		v     Value
		class string
		want  bool
	}{
		{"x", "java/lang/CharSequence", true},
		{NewList(), "java/lang/Iterable", true},
		{NewList(), "java/util/Iterator", false},
		{nil, "java/lang/Object", false},
		{Integer(3), "java/lang/Number", true},
		{&Thrown{Class: "java/lang/IllegalStateException"}, "java/lang/RuntimeException", true},
	}
	for _, tt := range tests {
		if got := instanceOf(tt.v, tt.class, noSuper); got != tt.want {
			t.Errorf("instanceOf(%v, %s) = %v, want %v", tt.v, tt.class, got, tt.want)
		}
	}
}
