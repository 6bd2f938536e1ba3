package vm

import (
	"fmt"
	"strings"
)

// FieldType is a single field descriptor such as "I" or "Ljava/lang/String;".
type FieldType string

// Kind returns the computational type used to hold values of t.
func (t FieldType) Kind() Kind {
	switch t[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return KindInt
	case 'F':
		return KindFloat
	case 'J':
		return KindLong
	case 'D':
		return KindDouble
	default:
		return KindReference
	}
}

// MethodDescriptor is a parsed method descriptor.
type MethodDescriptor struct {
	Params []FieldType
	Return FieldType // "V" for void
}

// ReturnsVoid reports whether the method returns nothing.
func (d MethodDescriptor) ReturnsVoid() bool {
	return d.Return == "V"
}

// ArgSlots returns the number of local slots the parameters occupy.
func (d MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range d.Params {
		n += p.Kind().Slots()
	}
	return n
}

// ParseMethodDescriptor parses a descriptor such as "(IJ[Ljava/lang/String;)V".
func ParseMethodDescriptor(desc string) (MethodDescriptor, error) {
	bad := func(why string) (MethodDescriptor, error) {
		return MethodDescriptor{}, fmt.Errorf("%w: method descriptor %q: %s", ErrMalformedConstant, desc, why)
	}
	if !strings.HasPrefix(desc, "(") {
		return bad("missing '('")
	}
	var md MethodDescriptor
	rest := desc[1:]
	for {
		if rest == "" {
			return bad("missing ')'")
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		t, tail, err := parseFieldType(rest)
		if err != nil {
			return bad(err.Error())
		}
		md.Params = append(md.Params, t)
		rest = tail
	}
	if rest == "V" {
		md.Return = "V"
		return md, nil
	}
	t, tail, err := parseFieldType(rest)
	if err != nil {
		return bad(err.Error())
	}
	if tail != "" {
		return bad("trailing characters")
	}
	md.Return = t
	return md, nil
}

// parseFieldType consumes one field type from the front of s.
func parseFieldType(s string) (FieldType, string, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i == len(s) {
		return "", "", fmt.Errorf("incomplete type")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return FieldType(s[:i+1]), s[i+1:], nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return "", "", fmt.Errorf("unterminated class type")
		}
		return FieldType(s[:i+end+1]), s[i+end+1:], nil
	default:
		return "", "", fmt.Errorf("unexpected %q", s[i])
	}
}
