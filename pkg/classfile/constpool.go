package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ConstantTag identifies the kind of a constant pool entry.
type ConstantTag uint8

const (
	TagUtf8               ConstantTag = 1
	TagInteger            ConstantTag = 3
	TagFloat              ConstantTag = 4
	TagLong               ConstantTag = 5
	TagDouble             ConstantTag = 6
	TagClass              ConstantTag = 7
	TagString             ConstantTag = 8
	TagFieldref           ConstantTag = 9
	TagMethodref          ConstantTag = 10
	TagInterfaceMethodref ConstantTag = 11
	TagNameAndType        ConstantTag = 12
	TagMethodHandle       ConstantTag = 15
	TagMethodType         ConstantTag = 16
	TagDynamic            ConstantTag = 17
	TagInvokeDynamic      ConstantTag = 18
	TagModule             ConstantTag = 19
	TagPackage            ConstantTag = 20
)

// String returns the JVM name of the tag.
func (t ConstantTag) String() string {
	switch t {
	case TagUtf8:
		return "Utf8"
	case TagInteger:
		return "Integer"
	case TagFloat:
		return "Float"
	case TagLong:
		return "Long"
	case TagDouble:
		return "Double"
	case TagClass:
		return "Class"
	case TagString:
		return "String"
	case TagFieldref:
		return "Fieldref"
	case TagMethodref:
		return "Methodref"
	case TagInterfaceMethodref:
		return "InterfaceMethodref"
	case TagNameAndType:
		return "NameAndType"
	case TagMethodHandle:
		return "MethodHandle"
	case TagMethodType:
		return "MethodType"
	case TagDynamic:
		return "Dynamic"
	case TagInvokeDynamic:
		return "InvokeDynamic"
	case TagModule:
		return "Module"
	case TagPackage:
		return "Package"
	default:
		return fmt.Sprintf("ConstantTag(%d)", uint8(t))
	}
}

// Constant is one constant pool entry. Only the fields relevant to Tag
// are set. Utf8 text is kept as the raw modified-UTF-8 bytes so the pool
// re-encodes exactly.
type Constant struct {
	Tag ConstantTag

	Text string // Utf8
	Bits uint64 // Integer, Float (low 32 bits), Long, Double

	// References to other entries. Class/String/MethodType/Module/Package
	// use A; member refs use A=class, B=name-and-type; NameAndType uses
	// A=name, B=descriptor; MethodHandle uses Kind and A=reference;
	// Dynamic/InvokeDynamic use A=bootstrap index, B=name-and-type.
	A, B uint16
	Kind uint8
}

// ConstantPool holds entries at indices 1..Len()-1. Index 0 and the slot
// after each Long/Double entry are nil.
type ConstantPool struct {
	entries []*Constant
}

// NewConstantPool returns an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: []*Constant{nil}}
}

// Len returns the constant_pool_count value (one more than the highest index).
func (p *ConstantPool) Len() int {
	return len(p.entries)
}

// Get returns the entry at index, or nil.
func (p *ConstantPool) Get(index uint16) *Constant {
	if int(index) >= len(p.entries) {
		return nil
	}
	return p.entries[index]
}

func (p *ConstantPool) tagged(index uint16, tag ConstantTag) (*Constant, error) {
	c := p.Get(index)
	if c == nil {
		return nil, malformed("constant pool index %d is empty", index)
	}
	if c.Tag != tag {
		return nil, malformed("constant pool index %d is %s, want %s", index, c.Tag, tag)
	}
	return c, nil
}

// Utf8 returns the text of a Utf8 entry.
func (p *ConstantPool) Utf8(index uint16) (string, error) {
	c, err := p.tagged(index, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// ClassName returns the internal name referenced by a Class entry.
func (p *ConstantPool) ClassName(index uint16) (string, error) {
	c, err := p.tagged(index, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// StringValue returns the text of a String entry.
func (p *ConstantPool) StringValue(index uint16) (string, error) {
	c, err := p.tagged(index, TagString)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// NameAndType returns the name and descriptor of a NameAndType entry.
func (p *ConstantPool) NameAndType(index uint16) (name, desc string, err error) {
	c, err := p.tagged(index, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.A); err != nil {
		return "", "", err
	}
	desc, err = p.Utf8(c.B)
	return name, desc, err
}

// MemberRef describes a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Tag   ConstantTag
	Owner string
	Name  string
	Desc  string
}

func (m MemberRef) String() string {
	return m.Owner + "." + m.Name + ":" + m.Desc
}

// Member resolves a field or method reference.
func (p *ConstantPool) Member(index uint16) (MemberRef, error) {
	c := p.Get(index)
	if c == nil {
		return MemberRef{}, malformed("constant pool index %d is empty", index)
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return MemberRef{}, malformed("constant pool index %d is %s, want a member reference", index, c.Tag)
	}
	owner, err := p.ClassName(c.A)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := p.NameAndType(c.B)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Tag: c.Tag, Owner: owner, Name: name, Desc: desc}, nil
}

// InvokeDynamic resolves the name and descriptor of an InvokeDynamic or
// Dynamic entry.
func (p *ConstantPool) InvokeDynamic(index uint16) (name, desc string, err error) {
	c := p.Get(index)
	if c == nil || (c.Tag != TagInvokeDynamic && c.Tag != TagDynamic) {
		return "", "", malformed("constant pool index %d is not a dynamic constant", index)
	}
	return p.NameAndType(c.B)
}

func (p *ConstantPool) add(c *Constant) uint16 {
	for i, e := range p.entries {
		if e != nil && *e == *c {
			return uint16(i)
		}
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if c.Tag == TagLong || c.Tag == TagDouble {
		p.entries = append(p.entries, nil)
	}
	return idx
}

// AddUtf8 returns the index of a Utf8 entry, adding one if needed.
func (p *ConstantPool) AddUtf8(s string) uint16 {
	return p.add(&Constant{Tag: TagUtf8, Text: s})
}

// AddClass returns the index of a Class entry for an internal name.
func (p *ConstantPool) AddClass(name string) uint16 {
	return p.add(&Constant{Tag: TagClass, A: p.AddUtf8(name)})
}

// AddString returns the index of a String entry.
func (p *ConstantPool) AddString(s string) uint16 {
	return p.add(&Constant{Tag: TagString, A: p.AddUtf8(s)})
}

// AddInteger returns the index of an Integer entry.
func (p *ConstantPool) AddInteger(v int32) uint16 {
	return p.add(&Constant{Tag: TagInteger, Bits: uint64(uint32(v))})
}

// AddLong returns the index of a Long entry.
func (p *ConstantPool) AddLong(v int64) uint16 {
	return p.add(&Constant{Tag: TagLong, Bits: uint64(v)})
}

// AddDouble returns the index of a Double entry.
func (p *ConstantPool) AddDouble(v float64) uint16 {
	return p.add(&Constant{Tag: TagDouble, Bits: math.Float64bits(v)})
}

// AddNameAndType returns the index of a NameAndType entry.
func (p *ConstantPool) AddNameAndType(name, desc string) uint16 {
	return p.add(&Constant{Tag: TagNameAndType, A: p.AddUtf8(name), B: p.AddUtf8(desc)})
}

func (p *ConstantPool) addMember(tag ConstantTag, owner, name, desc string) uint16 {
	return p.add(&Constant{Tag: tag, A: p.AddClass(owner), B: p.AddNameAndType(name, desc)})
}

// AddFieldref returns the index of a Fieldref entry.
func (p *ConstantPool) AddFieldref(owner, name, desc string) uint16 {
	return p.addMember(TagFieldref, owner, name, desc)
}

// AddMethodref returns the index of a Methodref entry.
func (p *ConstantPool) AddMethodref(owner, name, desc string) uint16 {
	return p.addMember(TagMethodref, owner, name, desc)
}

// AddInterfaceMethodref returns the index of an InterfaceMethodref entry.
func (p *ConstantPool) AddInterfaceMethodref(owner, name, desc string) uint16 {
	return p.addMember(TagInterfaceMethodref, owner, name, desc)
}

func parseConstantPool(r *reader) (*ConstantPool, error) {
	count := int(r.u2("constant_pool_count"))
	if r.err != nil {
		return nil, r.err
	}
	if count == 0 {
		return nil, malformed("constant_pool_count is zero")
	}
	p := &ConstantPool{entries: make([]*Constant, 1, count)}
	for len(p.entries) < count {
		c := &Constant{Tag: ConstantTag(r.u1("constant tag"))}
		switch c.Tag {
		case TagUtf8:
			n := int(r.u2("utf8 length"))
			c.Text = string(r.bytes(n, "utf8 bytes"))
		case TagInteger, TagFloat:
			c.Bits = uint64(r.u4("constant value"))
		case TagLong, TagDouble:
			hi := uint64(r.u4("constant high bytes"))
			lo := uint64(r.u4("constant low bytes"))
			c.Bits = hi<<32 | lo
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.A = r.u2("constant reference")
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.A = r.u2("constant reference")
			c.B = r.u2("constant reference")
		case TagMethodHandle:
			c.Kind = r.u1("method handle kind")
			c.A = r.u2("method handle reference")
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, malformed("unknown constant tag %d at index %d", c.Tag, len(p.entries))
		}
		if r.err != nil {
			return nil, r.err
		}
		p.entries = append(p.entries, c)
		if c.Tag == TagLong || c.Tag == TagDouble {
			if len(p.entries) >= count {
				return nil, malformed("%s constant overflows the pool", c.Tag)
			}
			p.entries = append(p.entries, nil)
		}
	}
	return p, nil
}

func (p *ConstantPool) appendTo(buf []byte) ([]byte, error) {
	if len(p.entries) > math.MaxUint16 {
		return nil, unrepresentable("constant pool has %d entries", len(p.entries))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.entries)))
	for _, c := range p.entries {
		if c == nil {
			continue
		}
		buf = append(buf, byte(c.Tag))
		switch c.Tag {
		case TagUtf8:
			if len(c.Text) > math.MaxUint16 {
				return nil, unrepresentable("utf8 constant of %d bytes", len(c.Text))
			}
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Text)))
			buf = append(buf, c.Text...)
		case TagInteger, TagFloat:
			buf = binary.BigEndian.AppendUint32(buf, uint32(c.Bits))
		case TagLong, TagDouble:
			buf = binary.BigEndian.AppendUint64(buf, c.Bits)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			buf = binary.BigEndian.AppendUint16(buf, c.A)
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			buf = binary.BigEndian.AppendUint16(buf, c.A)
			buf = binary.BigEndian.AppendUint16(buf, c.B)
		case TagMethodHandle:
			buf = append(buf, c.Kind)
			buf = binary.BigEndian.AppendUint16(buf, c.A)
		}
	}
	return buf, nil
}
