package classfile

import "strings"

// ParseMethodDescriptor splits a method descriptor such as
// "(ILjava/lang/String;[J)V" into parameter and return field descriptors.
func ParseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", malformed("method descriptor %q", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldDescriptorLen(desc[i:])
		if err != nil {
			return nil, "", malformed("method descriptor %q", desc)
		}
		params = append(params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return nil, "", malformed("method descriptor %q", desc)
	}
	ret = desc[i+1:]
	if ret != "V" {
		if n, err := fieldDescriptorLen(ret); err != nil || n != len(ret) {
			return nil, "", malformed("method descriptor %q", desc)
		}
	}
	return params, ret, nil
}

// ReturnDescriptor returns the return part of a method descriptor.
func ReturnDescriptor(desc string) string {
	if i := strings.LastIndexByte(desc, ')'); i >= 0 {
		return desc[i+1:]
	}
	return ""
}

func fieldDescriptorLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, malformed("field descriptor %q", s)
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 2 {
			return 0, malformed("field descriptor %q", s)
		}
		return i + end + 1, nil
	}
	return 0, malformed("field descriptor %q", s)
}

// slotWidth returns the number of local slots or stack words a value of
// the field descriptor occupies.
func slotWidth(desc string) int {
	if desc == "J" || desc == "D" {
		return 2
	}
	if desc == "V" {
		return 0
	}
	return 1
}

// ArgWords returns the number of stack words taken by a method's arguments,
// excluding the receiver.
func ArgWords(desc string) (int, error) {
	params, _, err := ParseMethodDescriptor(desc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range params {
		n += slotWidth(p)
	}
	return n, nil
}
