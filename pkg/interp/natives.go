package interp

import (
	"fmt"
	"strings"
)

// Native implements a JDK method the interpreter does not load from a
// class file. recv is nil for static methods.
type Native func(vm *VM, recv Value, args []Value) (Value, error)

// PrintStream is the value of java/lang/System.out.
type PrintStream struct{}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func listAdd(vm *VM, recv Value, args []Value) (Value, error) {
	l := recv.(*List)
	l.Items = append(l.Items, args[0])
	return int32(1), nil
}

var listMethods = map[string]Native{
	"add(Ljava/lang/Object;)Z": listAdd,
	"size()I": func(vm *VM, recv Value, args []Value) (Value, error) {
		return int32(len(recv.(*List).Items)), nil
	},
	"isEmpty()Z": func(vm *VM, recv Value, args []Value) (Value, error) {
		return boolValue(len(recv.(*List).Items) == 0), nil
	},
	"get(I)Ljava/lang/Object;": func(vm *VM, recv Value, args []Value) (Value, error) {
		l, i := recv.(*List), args[0].(int32)
		if i < 0 || int(i) >= len(l.Items) {
			return nil, throw("java/lang/IndexOutOfBoundsException", "Index: %d, Size: %d", i, len(l.Items))
		}
		return l.Items[i], nil
	},
	"iterator()Ljava/util/Iterator;": func(vm *VM, recv Value, args []Value) (Value, error) {
		return &Iterator{list: recv.(*List)}, nil
	},
	"clear()V": func(vm *VM, recv Value, args []Value) (Value, error) {
		recv.(*List).Items = nil
		return nil, nil
	},
}

var iteratorMethods = map[string]Native{
	"hasNext()Z": func(vm *VM, recv Value, args []Value) (Value, error) {
		it := recv.(*Iterator)
		return boolValue(it.pos < len(it.list.Items)), nil
	},
	"next()Ljava/lang/Object;": func(vm *VM, recv Value, args []Value) (Value, error) {
		it := recv.(*Iterator)
		if it.pos >= len(it.list.Items) {
			return nil, throw("java/util/NoSuchElementException", "")
		}
		v := it.list.Items[it.pos]
		it.pos++
		return v, nil
	},
}

var stringMethods = map[string]Native{
	"length()I": func(vm *VM, recv Value, args []Value) (Value, error) {
		return int32(len(recv.(string))), nil
	},
	"isEmpty()Z": func(vm *VM, recv Value, args []Value) (Value, error) {
		return boolValue(recv.(string) == ""), nil
	},
	"contains(Ljava/lang/CharSequence;)Z": func(vm *VM, recv Value, args []Value) (Value, error) {
		if args[0] == nil {
			return nil, npe("contains")
		}
		return boolValue(strings.Contains(recv.(string), ToString(args[0]))), nil
	},
	"startsWith(Ljava/lang/String;)Z": func(vm *VM, recv Value, args []Value) (Value, error) {
		if args[0] == nil {
			return nil, npe("startsWith")
		}
		return boolValue(strings.HasPrefix(recv.(string), args[0].(string))), nil
	},
	"concat(Ljava/lang/String;)Ljava/lang/String;": func(vm *VM, recv Value, args []Value) (Value, error) {
		if args[0] == nil {
			return nil, npe("concat")
		}
		return recv.(string) + args[0].(string), nil
	},
}

var builderMethods = map[string]Native{
	"append(Ljava/lang/String;)Ljava/lang/StringBuilder;": builderAppend,
	"append(Ljava/lang/Object;)Ljava/lang/StringBuilder;": builderAppend,
	"append(I)Ljava/lang/StringBuilder;":                  builderAppend,
	"length()I": func(vm *VM, recv Value, args []Value) (Value, error) {
		return int32(recv.(*StringBuilder).sb.Len()), nil
	},
}

func builderAppend(vm *VM, recv Value, args []Value) (Value, error) {
	b := recv.(*StringBuilder)
	b.sb.WriteString(ToString(args[0]))
	return b, nil
}

var integerMethods = map[string]Native{
	"intValue()I": func(vm *VM, recv Value, args []Value) (Value, error) {
		return int32(recv.(Integer)), nil
	},
}

// Methods every reference answers.
var objectMethods = map[string]Native{
	"toString()Ljava/lang/String;": func(vm *VM, recv Value, args []Value) (Value, error) {
		return ToString(recv), nil
	},
	"equals(Ljava/lang/Object;)Z": func(vm *VM, recv Value, args []Value) (Value, error) {
		switch x := recv.(type) {
		case string, Integer:
			return boolValue(x == args[0]), nil
		}
		return boolValue(recv == args[0]), nil
	},
	"hashCode()I": func(vm *VM, recv Value, args []Value) (Value, error) {
		var h int32
		for _, c := range ToString(recv) {
			h = 31*h + int32(c)
		}
		return h, nil
	},
	"getMessage()Ljava/lang/String;": func(vm *VM, recv Value, args []Value) (Value, error) {
		if t, ok := recv.(*Thrown); ok {
			return t.Message, nil
		}
		return nil, throw("java/lang/NoSuchMethodError", "getMessage")
	},
}

var printMethods = map[string]Native{
	"println(Ljava/lang/String;)V": printLine,
	"println(Ljava/lang/Object;)V": printLine,
	"println(I)V":                  printLine,
}

func printLine(vm *VM, recv Value, args []Value) (Value, error) {
	if vm.Out != nil {
		fmt.Fprintln(vm.Out, ToString(args[0]))
	}
	return nil, nil
}

func noop(vm *VM, recv Value, args []Value) (Value, error) {
	return nil, nil
}

// Static methods and constructors, keyed by owner.name+descriptor.
var staticNatives = map[string]Native{
	"java/lang/Object.<init>()V":           noop,
	"java/util/ArrayList.<init>()V":        noop,
	"java/util/ArrayList.<init>(I)V":       noop,
	"java/lang/StringBuilder.<init>()V":    noop,
	"java/lang/RuntimeException.<init>()V": noop,
	"java/util/ArrayList.<init>(Ljava/util/Collection;)V": func(vm *VM, recv Value, args []Value) (Value, error) {
		src, ok := args[0].(*List)
		if !ok {
			return nil, npe("ArrayList(Collection)")
		}
		recv.(*List).Items = append([]Value(nil), src.Items...)
		return nil, nil
	},
	"java/lang/StringBuilder.<init>(Ljava/lang/String;)V": func(vm *VM, recv Value, args []Value) (Value, error) {
		recv.(*StringBuilder).sb.WriteString(ToString(args[0]))
		return nil, nil
	},
	"java/lang/RuntimeException.<init>(Ljava/lang/String;)V": func(vm *VM, recv Value, args []Value) (Value, error) {
		recv.(*Thrown).Message = ToString(args[0])
		return nil, nil
	},
	"java/lang/Integer.valueOf(I)Ljava/lang/Integer;": func(vm *VM, recv Value, args []Value) (Value, error) {
		return Integer(args[0].(int32)), nil
	},
	"java/lang/String.valueOf(Ljava/lang/Object;)Ljava/lang/String;": func(vm *VM, recv Value, args []Value) (Value, error) {
		return ToString(args[0]), nil
	},
	"java/util/Collections.emptyList()Ljava/util/List;": func(vm *VM, recv Value, args []Value) (Value, error) {
		return NewList(), nil
	},
	"java/util/Arrays.asList([Ljava/lang/Object;)Ljava/util/List;": func(vm *VM, recv Value, args []Value) (Value, error) {
		arr, ok := args[0].(*Array)
		if !ok {
			return nil, npe("Arrays.asList")
		}
		return NewList(arr.Elems...), nil
	},
}

// virtualTable returns the native methods of the receiver's runtime type.
func virtualTable(recv Value) map[string]Native {
	switch recv.(type) {
	case *List:
		return listMethods
	case *Iterator:
		return iteratorMethods
	case string:
		return stringMethods
	case *StringBuilder:
		return builderMethods
	case Integer:
		return integerMethods
	case *PrintStream:
		return printMethods
	}
	return nil
}

// newInstance allocates the value produced by the new instruction.
func newInstance(class string) Value {
	switch class {
	case "java/util/ArrayList":
		return &List{}
	case "java/lang/StringBuilder":
		return &StringBuilder{}
	case "java/lang/RuntimeException", "java/lang/IllegalStateException", "java/lang/IllegalArgumentException":
		return &Thrown{Class: class}
	}
	return NewObject(class)
}
