package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Class file model
// ---------------------------------------------------------------------------

// ClassMagic starts every class file.
const ClassMagic uint32 = 0xCAFEBABE

// Class file version written by this package (Java 8).
const (
	MinorVersion uint16 = 0
	MajorVersion uint16 = 52
)

// Access flags.
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccProtected uint16 = 0x0004
	AccStatic    uint16 = 0x0008
	AccFinal     uint16 = 0x0010
	AccSuper     uint16 = 0x0020
)

// Well-known attribute names.
const (
	AttrCode          = "Code"
	AttrStackMapTable = "StackMapTable"
)

// Attribute is an attribute preserved as raw bytes.
type Attribute struct {
	NameIndex uint16
	Info      []byte
}

// ExceptionTableEntry is one row of a Code attribute's exception table.
// Rows are parsed and written back but never executed.
type ExceptionTableEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// CodeAttribute is a decoded Code attribute.
type CodeAttribute struct {
	NameIndex      uint16 // pool index of "Code"
	MaxStack       uint16
	MaxLocals      uint16
	Code           []byte
	ExceptionTable []ExceptionTableEntry
	Attributes     []Attribute
}

// Field is a field_info structure.
type Field struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []Attribute
}

// Method is a method_info structure. Code is nil for abstract and native
// methods; all other attributes are kept raw in Attributes.
type Method struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Code            *CodeAttribute
	Attributes      []Attribute
}

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool {
	return m.AccessFlags&AccStatic != 0
}

// ClassFile is an in-memory class file.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *ConstantPool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []Field
	Methods      []Method
	Attributes   []Attribute
}

// ClassName returns the internal name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return cf.Pool.ClassName(cf.ThisClass)
}

// SuperName returns the internal name of the superclass, or "" if none.
func (cf *ClassFile) SuperName() (string, error) {
	if cf.SuperClass == 0 {
		return "", nil
	}
	return cf.Pool.ClassName(cf.SuperClass)
}

// MethodSignature returns the name and descriptor of m.
func (cf *ClassFile) MethodSignature(m *Method) (name, descriptor string, err error) {
	if name, err = cf.Pool.Utf8(m.NameIndex); err != nil {
		return "", "", err
	}
	if descriptor, err = cf.Pool.Utf8(m.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// FindMethod returns the method with the given name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) (*Method, error) {
	for i := range cf.Methods {
		m := &cf.Methods[i]
		n, d, err := cf.MethodSignature(m)
		if err != nil {
			return nil, err
		}
		if n == name && d == descriptor {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s%s", ErrNoSuchMethod, name, descriptor)
}

// Disassemble renders the class header, constant pool and every method body.
func (cf *ClassFile) Disassemble() string {
	var sb strings.Builder

	name, _ := cf.ClassName()
	super, _ := cf.SuperName()
	fmt.Fprintf(&sb, "class %s extends %s\n", name, super)
	fmt.Fprintf(&sb, "  version: %d.%d\n", cf.MajorVersion, cf.MinorVersion)
	fmt.Fprintf(&sb, "  flags: 0x%04X\n", cf.AccessFlags)
	sb.WriteString("Constant pool:\n")
	sb.WriteString(cf.Pool.String())

	for i := range cf.Methods {
		m := &cf.Methods[i]
		mname, desc, err := cf.MethodSignature(m)
		if err != nil {
			fmt.Fprintf(&sb, "\nmethod #%d: %v\n", i, err)
			continue
		}
		fmt.Fprintf(&sb, "\n%s%s  flags: 0x%04X\n", mname, desc, m.AccessFlags)
		if m.Code == nil {
			continue
		}
		fmt.Fprintf(&sb, "  stack=%d, locals=%d, code_length=%d\n",
			m.Code.MaxStack, m.Code.MaxLocals, len(m.Code.Code))
		for _, line := range strings.Split(strings.TrimSuffix(Disassemble(m.Code.Code, cf.Pool), "\n"), "\n") {
			sb.WriteString("    ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		for _, attr := range m.Code.Attributes {
			aname, _ := cf.Pool.Utf8(attr.NameIndex)
			fmt.Fprintf(&sb, "  %s: %d bytes\n", aname, len(attr.Info))
		}
	}
	return sb.String()
}
