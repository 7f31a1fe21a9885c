package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Magic is the first four bytes of every class file.
const Magic uint32 = 0xCAFEBABE

// Supported class file major versions (JDK 1.1 through Java 8).
const (
	MinMajorVersion uint16 = 45
	MaxMajorVersion uint16 = 52

	// FramesMajorVersion is the first version that requires StackMapTable.
	FramesMajorVersion uint16 = 50
)

// Access flags used by this package.
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccProtected uint16 = 0x0004
	AccStatic    uint16 = 0x0008
	AccFinal     uint16 = 0x0010
	AccSuper     uint16 = 0x0020
	AccNative    uint16 = 0x0100
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
)

// Attribute is an attribute kept as raw bytes.
type Attribute struct {
	NameIndex uint16
	Name      string
	Data      []byte
}

// Field is a field_info structure.
type Field struct {
	Access     uint16
	NameIndex  uint16
	DescIndex  uint16
	Name       string
	Descriptor string
	Attributes []*Attribute
}

// Method is a method_info structure. Code is the decoded view of the
// method's Code attribute, nil for abstract and native methods.
type Method struct {
	Access     uint16
	NameIndex  uint16
	DescIndex  uint16
	Name       string
	Descriptor string
	Attributes []*Attribute
	Code       *Code

	modified bool
}

// MarkModified makes Serialize re-assemble the method's code from its
// instruction list instead of reusing the original attribute bytes.
func (m *Method) MarkModified() {
	m.modified = true
}

// Modified reports whether the method will be re-assembled.
func (m *Method) Modified() bool {
	return m.modified
}

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool {
	return m.Access&AccStatic != 0
}

// ClassFile is an in-memory class file.
type ClassFile struct {
	Minor      uint16
	Major      uint16
	Pool       *ConstantPool
	Access     uint16
	ThisClass  uint16
	SuperClass uint16
	Interfaces []uint16
	Fields     []*Field
	Methods    []*Method
	Attributes []*Attribute

	// Hierarchy resolves common superclasses when frames are recomputed.
	// Nil means DefaultHierarchy.
	Hierarchy Hierarchy
}

// InternalName converts a binary class name (a.b.C) to its internal form (a/b/C).
func InternalName(binaryName string) string {
	return strings.ReplaceAll(binaryName, ".", "/")
}

// BinaryName converts an internal class name (a/b/C) to its binary form (a.b.C).
func BinaryName(internalName string) string {
	return strings.ReplaceAll(internalName, "/", ".")
}

// Name returns the internal name of the class, or "" if the pool entry
// is broken.
func (cf *ClassFile) Name() string {
	name, err := cf.Pool.ClassName(cf.ThisClass)
	if err != nil {
		return ""
	}
	return name
}

// SuperName returns the internal name of the superclass, or "".
func (cf *ClassFile) SuperName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	name, err := cf.Pool.ClassName(cf.SuperClass)
	if err != nil {
		return ""
	}
	return name
}

// FindMethod returns the method with the given name and descriptor. An
// empty desc matches the first method with that name.
func (cf *ClassFile) FindMethod(name, desc string) *Method {
	for _, m := range cf.Methods {
		if m.Name == name && (desc == "" || m.Descriptor == desc) {
			return m
		}
	}
	return nil
}

// NewClass returns an empty public class with the given internal names.
func NewClass(name, super string) *ClassFile {
	cf := &ClassFile{
		Major:  MaxMajorVersion,
		Pool:   NewConstantPool(),
		Access: AccPublic | AccSuper,
	}
	cf.ThisClass = cf.Pool.AddClass(name)
	if super != "" {
		cf.SuperClass = cf.Pool.AddClass(super)
	}
	return cf
}

// AddMethod appends a method whose code is assembled on Serialize.
// Pass nil insns for abstract or native methods.
func (cf *ClassFile) AddMethod(access uint16, name, desc string, insns []*Instruction) *Method {
	m := &Method{
		Access:     access,
		NameIndex:  cf.Pool.AddUtf8(name),
		DescIndex:  cf.Pool.AddUtf8(desc),
		Name:       name,
		Descriptor: desc,
	}
	if insns != nil {
		m.Code = &Code{Insns: insns}
		m.Attributes = append(m.Attributes, &Attribute{NameIndex: cf.Pool.AddUtf8(attrCode), Name: attrCode})
		m.modified = true
	}
	cf.Methods = append(cf.Methods, m)
	return m
}

// Parse decodes a class file.
func Parse(data []byte) (*ClassFile, error) {
	r := newReader(data)

	if magic := r.u4("magic"); r.err == nil && magic != Magic {
		return nil, fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}
	cf := &ClassFile{}
	cf.Minor = r.u2("minor_version")
	cf.Major = r.u2("major_version")
	if r.err != nil {
		return nil, r.err
	}
	if cf.Major < MinMajorVersion || cf.Major > MaxMajorVersion {
		return nil, fmt.Errorf("%w: %d.%d (supported %d-%d)", ErrUnsupportedVersion,
			cf.Major, cf.Minor, MinMajorVersion, MaxMajorVersion)
	}

	pool, err := parseConstantPool(r)
	if err != nil {
		return nil, err
	}
	cf.Pool = pool

	cf.Access = r.u2("access_flags")
	cf.ThisClass = r.u2("this_class")
	cf.SuperClass = r.u2("super_class")
	n := int(r.u2("interfaces_count"))
	for i := 0; i < n && r.err == nil; i++ {
		cf.Interfaces = append(cf.Interfaces, r.u2("interface"))
	}
	if r.err != nil {
		return nil, r.err
	}
	if _, err := pool.ClassName(cf.ThisClass); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}

	n = int(r.u2("fields_count"))
	for i := 0; i < n && r.err == nil; i++ {
		f := &Field{
			Access:    r.u2("field access"),
			NameIndex: r.u2("field name"),
			DescIndex: r.u2("field descriptor"),
		}
		if f.Name, f.Descriptor, err = cf.memberNames(r, f.NameIndex, f.DescIndex); err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		if f.Attributes, err = parseAttributes(r, pool); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		cf.Fields = append(cf.Fields, f)
	}

	n = int(r.u2("methods_count"))
	for i := 0; i < n && r.err == nil; i++ {
		m := &Method{
			Access:    r.u2("method access"),
			NameIndex: r.u2("method name"),
			DescIndex: r.u2("method descriptor"),
		}
		if m.Name, m.Descriptor, err = cf.memberNames(r, m.NameIndex, m.DescIndex); err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		if m.Attributes, err = parseAttributes(r, pool); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
		}
		for _, a := range m.Attributes {
			if a.Name != attrCode {
				continue
			}
			if m.Code, err = decodeCode(pool, a.Data); err != nil {
				return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
			}
		}
		cf.Methods = append(cf.Methods, m)
	}

	if cf.Attributes, err = parseAttributes(r, pool); err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, malformed("%d trailing bytes after class file", r.remaining())
	}
	return cf, nil
}

func (cf *ClassFile) memberNames(r *reader, nameIdx, descIdx uint16) (string, string, error) {
	if r.err != nil {
		return "", "", r.err
	}
	name, err := cf.Pool.Utf8(nameIdx)
	if err != nil {
		return "", "", err
	}
	desc, err := cf.Pool.Utf8(descIdx)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

func parseAttributes(r *reader, pool *ConstantPool) ([]*Attribute, error) {
	n := int(r.u2("attributes_count"))
	attrs := make([]*Attribute, 0, n)
	for i := 0; i < n; i++ {
		a := &Attribute{NameIndex: r.u2("attribute name")}
		length := r.u4("attribute length")
		if r.err != nil {
			return nil, r.err
		}
		if int64(length) > int64(r.remaining()) {
			return nil, fmt.Errorf("%w: attribute of %d bytes with %d remaining", ErrTruncated, length, r.remaining())
		}
		a.Data = r.bytes(int(length), "attribute data")
		name, err := pool.Utf8(a.NameIndex)
		if err != nil {
			return nil, err
		}
		a.Name = name
		attrs = append(attrs, a)
	}
	return attrs, r.err
}

func appendAttributes(buf []byte, attrs []*Attribute, replace map[*Attribute][]byte) ([]byte, error) {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(attrs)))
	for _, a := range attrs {
		data := a.Data
		if d, ok := replace[a]; ok {
			data = d
		}
		if uint64(len(data)) > math.MaxUint32 {
			return nil, unrepresentable("attribute %s of %d bytes", a.Name, len(data))
		}
		buf = binary.BigEndian.AppendUint16(buf, a.NameIndex)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return buf, nil
}

// Serialize encodes the class file. Methods that were not modified are
// written from their original bytes, so an untouched class round-trips
// exactly. Modified methods are re-assembled and get freshly computed
// max_stack, max_locals and StackMapTable.
func (cf *ClassFile) Serialize() ([]byte, error) {
	replace := make(map[*Attribute][]byte)
	for _, m := range cf.Methods {
		if !m.modified || m.Code == nil {
			continue
		}
		data, err := assemble(cf, m)
		if err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
		}
		for _, a := range m.Attributes {
			if a.Name == attrCode {
				replace[a] = data
			}
		}
	}

	size := 64
	for _, m := range cf.Methods {
		for _, a := range m.Attributes {
			size += len(a.Data) + 6
		}
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, Magic)
	buf = binary.BigEndian.AppendUint16(buf, cf.Minor)
	buf = binary.BigEndian.AppendUint16(buf, cf.Major)

	buf, err := cf.Pool.appendTo(buf)
	if err != nil {
		return nil, err
	}

	buf = binary.BigEndian.AppendUint16(buf, cf.Access)
	buf = binary.BigEndian.AppendUint16(buf, cf.ThisClass)
	buf = binary.BigEndian.AppendUint16(buf, cf.SuperClass)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		buf = binary.BigEndian.AppendUint16(buf, i)
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		buf = binary.BigEndian.AppendUint16(buf, f.Access)
		buf = binary.BigEndian.AppendUint16(buf, f.NameIndex)
		buf = binary.BigEndian.AppendUint16(buf, f.DescIndex)
		if buf, err = appendAttributes(buf, f.Attributes, nil); err != nil {
			return nil, err
		}
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		buf = binary.BigEndian.AppendUint16(buf, m.Access)
		buf = binary.BigEndian.AppendUint16(buf, m.NameIndex)
		buf = binary.BigEndian.AppendUint16(buf, m.DescIndex)
		if buf, err = appendAttributes(buf, m.Attributes, replace); err != nil {
			return nil, err
		}
	}

	return appendAttributes(buf, cf.Attributes, nil)
}
