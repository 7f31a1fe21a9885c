package interp

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Value is a JVM value as seen by the interpreter:
//
//	int32     int, boolean, byte, char, short
//	int64     long
//	float32   float
//	float64   double
//	nil       null
//	string    java/lang/String
//	Integer   java/lang/Integer
//	*List     java/util/ArrayList and the collection interfaces
//	*Iterator java/util/Iterator
//	*StringBuilder, *Array, *Object, *Thrown
type Value any

// Integer is a boxed java/lang/Integer.
type Integer int32

var objectIDs atomic.Uint64

// Object is an instance of a class without native support, including
// the class being interpreted.
type Object struct {
	Class  string
	Fields map[string]Value

	id uint64
}

// NewObject returns an object of the given internal class name.
func NewObject(class string) *Object {
	return &Object{Class: class, Fields: make(map[string]Value), id: objectIDs.Add(1)}
}

// List backs java/util/ArrayList.
type List struct {
	Items []Value
}

// NewList returns a list holding items.
func NewList(items ...Value) *List {
	return &List{Items: append([]Value(nil), items...)}
}

// Iterator iterates a List.
type Iterator struct {
	list *List
	pos  int
}

// StringBuilder backs java/lang/StringBuilder.
type StringBuilder struct {
	sb strings.Builder
}

// Array is a Java array of any element type.
type Array struct {
	Elems []Value
}

// Thrown is a Java exception. It is returned as an error when it
// escapes the invoked method.
type Thrown struct {
	Class   string
	Message string
}

func (t *Thrown) Error() string {
	if t.Message == "" {
		return "interp: uncaught " + t.Class
	}
	return fmt.Sprintf("interp: uncaught %s: %s", t.Class, t.Message)
}

func throw(class, format string, args ...any) *Thrown {
	return &Thrown{Class: class, Message: fmt.Sprintf(format, args...)}
}

func npe(what string) *Thrown {
	return throw("java/lang/NullPointerException", "%s on null", what)
}

// ToString renders v the way java.lang.String.valueOf would.
func ToString(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case Integer:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case *List:
		parts := make([]string, len(x.Items))
		for i, item := range x.Items {
			parts[i] = ToString(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *StringBuilder:
		return x.sb.String()
	case *Object:
		return fmt.Sprintf("%s@%x", strings.ReplaceAll(x.Class, "/", "."), x.id)
	case *Thrown:
		if x.Message == "" {
			return strings.ReplaceAll(x.Class, "/", ".")
		}
		return strings.ReplaceAll(x.Class, "/", ".") + ": " + x.Message
	}
	return fmt.Sprintf("%v", v)
}

var (
	stringTypes   = []string{"java/lang/String", "java/lang/CharSequence", "java/lang/Comparable"}
	listTypes     = []string{"java/util/ArrayList", "java/util/AbstractList", "java/util/AbstractCollection", "java/util/List", "java/util/Collection", "java/lang/Iterable", "java/util/RandomAccess"}
	iteratorTypes = []string{"java/util/Iterator"}
	builderTypes  = []string{"java/lang/StringBuilder", "java/lang/CharSequence"}
	integerTypes  = []string{"java/lang/Integer", "java/lang/Number", "java/lang/Comparable"}
	throwTypes    = []string{"java/lang/Throwable", "java/lang/Exception", "java/lang/RuntimeException"}
)

// instanceOf reports whether v is an instance of the internal class name.
// super maps interpreted classes to their superclass.
func instanceOf(v Value, class string, super func(string) string) bool {
	if v == nil {
		return false
	}
	if class == "java/lang/Object" {
		return true
	}
	var names []string
	switch x := v.(type) {
	case string:
		names = stringTypes
	case *List:
		names = listTypes
	case *Iterator:
		names = iteratorTypes
	case *StringBuilder:
		names = builderTypes
	case Integer:
		names = integerTypes
	case *Thrown:
		if x.Class == class {
			return true
		}
		names = throwTypes
	case *Object:
		for c := x.Class; c != ""; c = super(c) {
			if c == class {
				return true
			}
		}
		return false
	}
	for _, n := range names {
		if n == class {
			return true
		}
	}
	return false
}

func isWide(v Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}
