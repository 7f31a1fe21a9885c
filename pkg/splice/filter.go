package splice

import (
	"fmt"

	"github.com/chazu/classweave/pkg/classfile"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("classweave.splice")

// Target names the method a splice applies to. Class is an internal or
// binary class name; empty matches any class.
type Target struct {
	Class      string
	Method     string
	Descriptor string
}

func (t Target) String() string {
	return fmt.Sprintf("%s.%s%s", classfile.BinaryName(t.Class), t.Method, t.Descriptor)
}

// Return types the filter fragment accepts. Every one of them either is
// java/util/ArrayList or is assignable from it.
var filterableReturns = map[string]bool{
	"Ljava/lang/Iterable;":           true,
	"Ljava/util/Collection;":         true,
	"Ljava/util/List;":               true,
	"Ljava/util/AbstractCollection;": true,
	"Ljava/util/AbstractList;":       true,
	"Ljava/util/ArrayList;":          true,
	"Ljava/lang/Object;":             true,
}

// Filterable reports whether a method with descriptor desc can have its
// returns filtered.
func Filterable(desc string) bool {
	return filterableReturns[classfile.ReturnDescriptor(desc)]
}

// FilterFragment returns the instructions that replace the iterable on
// top of the stack with a new ArrayList of its elements whose string
// form does not contain marker. A null stays null. Slots base, base+1
// and base+2 hold the accumulator, the iterator and the current element.
func FilterFragment(pool *classfile.ConstantPool, base int, marker string) []*classfile.Instruction {
	return filterFragment(pool, fmt.Sprintf("filter@%d", base), base, marker)
}

func filterFragment(pool *classfile.ConstantPool, prefix string, base int, marker string) []*classfile.Instruction {
	acc, it, elem := base, base+1, base+2

	f := NewFragment(pool, prefix)
	loop, done, isNull, ret := f.Label("loop"), f.Label("done"), f.Label("null"), f.Label("ret")

	f.Op(classfile.DUP).
		Jump(classfile.IFNULL, isNull).
		Type(classfile.NEW, "java/util/ArrayList").
		Op(classfile.DUP).
		Invoke(classfile.INVOKESPECIAL, "java/util/ArrayList", "<init>", "()V").
		Var(classfile.ASTORE, acc).
		Invoke(classfile.INVOKEINTERFACE, "java/lang/Iterable", "iterator", "()Ljava/util/Iterator;").
		Var(classfile.ASTORE, it)

	f.Mark(loop).
		Var(classfile.ALOAD, it).
		Invoke(classfile.INVOKEINTERFACE, "java/util/Iterator", "hasNext", "()Z").
		Jump(classfile.IFEQ, done).
		Var(classfile.ALOAD, it).
		Invoke(classfile.INVOKEINTERFACE, "java/util/Iterator", "next", "()Ljava/lang/Object;").
		Var(classfile.ASTORE, elem).
		Var(classfile.ALOAD, elem).
		Invoke(classfile.INVOKESTATIC, "java/lang/String", "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;").
		Ldc(marker).
		Invoke(classfile.INVOKEVIRTUAL, "java/lang/String", "contains", "(Ljava/lang/CharSequence;)Z").
		Jump(classfile.IFNE, loop).
		Var(classfile.ALOAD, acc).
		Var(classfile.ALOAD, elem).
		Invoke(classfile.INVOKEVIRTUAL, "java/util/ArrayList", "add", "(Ljava/lang/Object;)Z").
		Op(classfile.POP).
		Jump(classfile.GOTO, loop)

	f.Mark(done).
		Var(classfile.ALOAD, acc).
		Jump(classfile.GOTO, ret)

	f.Mark(isNull).
		Op(classfile.POP).
		Op(classfile.ACONST_NULL).
		Mark(ret)

	return f.Instructions()
}

// Splicer rewrites class files. The zero value is ready to use.
type Splicer struct {
	// Hierarchy answers common superclass queries while frames are
	// recomputed. Nil means classfile.DefaultHierarchy.
	Hierarchy classfile.Hierarchy
}

// FilterReturns parses raw, inserts the filter fragment before every
// areturn of the target method and serializes the result. On any error
// raw is returned unchanged together with the error.
func (s *Splicer) FilterReturns(raw []byte, target Target, marker string) ([]byte, error) {
	cf, err := classfile.Parse(raw)
	if err != nil {
		return raw, err
	}
	if target.Class != "" && cf.Name() != classfile.InternalName(target.Class) {
		return raw, fmt.Errorf("%w: class %s is not %s", ErrTargetNotFound, classfile.BinaryName(cf.Name()), target.Class)
	}
	m := cf.FindMethod(target.Method, target.Descriptor)
	if m == nil || m.Code == nil {
		return raw, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}
	if !Filterable(m.Descriptor) {
		return raw, fmt.Errorf("%w: %s returns %s", ErrIncompatibleTarget, target, classfile.ReturnDescriptor(m.Descriptor))
	}
	returns := FindAll(m.Code, ReturnsReference)
	if len(returns) == 0 {
		return raw, fmt.Errorf("%w: %s has no areturn", ErrTargetNotFound, target)
	}
	base, err := m.FirstFreeLocal(cf.Pool)
	if err != nil {
		return raw, err
	}

	// Back to front so earlier indexes stay valid.
	for i := len(returns) - 1; i >= 0; i-- {
		frag := filterFragment(cf.Pool, fmt.Sprintf("filter%d", i), base, marker)
		if err := InsertBefore(m, returns[i], frag); err != nil {
			return raw, err
		}
	}

	cf.Hierarchy = s.Hierarchy
	out, err := cf.Serialize()
	if err != nil {
		return raw, fmt.Errorf("splice: %s: %w", target, err)
	}
	log.Debugf("filtered %d return(s) of %s", len(returns), target)
	return out, nil
}

// FilterReturns runs a zero Splicer.
func FilterReturns(raw []byte, target Target, marker string) ([]byte, error) {
	var s Splicer
	return s.FilterReturns(raw, target, marker)
}
