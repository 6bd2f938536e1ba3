package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Constant pool entries
// ---------------------------------------------------------------------------

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
	TagInvokeDynamic      ConstantTag = 18
)

var tagNames = map[ConstantTag]string{
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagInvokeDynamic:      "InvokeDynamic",
}

func (t ConstantTag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Known reports whether t is a tag this package can parse.
func (t ConstantTag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

// Constant is a constant pool entry.
type Constant interface {
	Tag() ConstantTag
}

type (
	Utf8Info    struct{ Value string }
	IntegerInfo struct{ Value int32 }
	FloatInfo   struct{ Value float32 }
	LongInfo    struct{ Value int64 }
	DoubleInfo  struct{ Value float64 }
	ClassInfo   struct{ NameIndex uint16 }
	StringInfo  struct{ StringIndex uint16 }

	FieldrefInfo struct {
		ClassIndex       uint16
		NameAndTypeIndex uint16
	}
	MethodrefInfo struct {
		ClassIndex       uint16
		NameAndTypeIndex uint16
	}
	InterfaceMethodrefInfo struct {
		ClassIndex       uint16
		NameAndTypeIndex uint16
	}
	NameAndTypeInfo struct {
		NameIndex       uint16
		DescriptorIndex uint16
	}
	MethodHandleInfo struct {
		ReferenceKind  uint8
		ReferenceIndex uint16
	}
	MethodTypeInfo    struct{ DescriptorIndex uint16 }
	InvokeDynamicInfo struct {
		BootstrapMethodAttrIndex uint16
		NameAndTypeIndex         uint16
	}

	// wideSlot fills the unusable slot after a Long or Double.
	wideSlot struct{}
)

func (Utf8Info) Tag() ConstantTag               { return TagUtf8 }
func (IntegerInfo) Tag() ConstantTag            { return TagInteger }
func (FloatInfo) Tag() ConstantTag              { return TagFloat }
func (LongInfo) Tag() ConstantTag               { return TagLong }
func (DoubleInfo) Tag() ConstantTag             { return TagDouble }
func (ClassInfo) Tag() ConstantTag              { return TagClass }
func (StringInfo) Tag() ConstantTag             { return TagString }
func (FieldrefInfo) Tag() ConstantTag           { return TagFieldref }
func (MethodrefInfo) Tag() ConstantTag          { return TagMethodref }
func (InterfaceMethodrefInfo) Tag() ConstantTag { return TagInterfaceMethodref }
func (NameAndTypeInfo) Tag() ConstantTag        { return TagNameAndType }
func (MethodHandleInfo) Tag() ConstantTag       { return TagMethodHandle }
func (MethodTypeInfo) Tag() ConstantTag         { return TagMethodType }
func (InvokeDynamicInfo) Tag() ConstantTag      { return TagInvokeDynamic }
func (wideSlot) Tag() ConstantTag               { return 0 }

// slotsFor returns how many pool slots c occupies.
func slotsFor(c Constant) int {
	switch c.(type) {
	case LongInfo, DoubleInfo:
		return 2
	}
	return 1
}

// floatKey and doubleKey deduplicate floating constants by bit pattern, so
// NaN payloads and signed zeros stay distinct.
type (
	floatKey  struct{ bits uint32 }
	doubleKey struct{ bits uint64 }
)

func internKey(c Constant) any {
	switch v := c.(type) {
	case FloatInfo:
		return floatKey{math.Float32bits(v.Value)}
	case DoubleInfo:
		return doubleKey{math.Float64bits(v.Value)}
	}
	return c
}

// maxPoolSlots is the largest slot count a u2 constant_pool_count allows.
const maxPoolSlots = 0xFFFF - 1

// ---------------------------------------------------------------------------
// ConstantPool
// ---------------------------------------------------------------------------

// ConstantPool is an ordered, 1-based table of constants. The generator
// grows it through the Intern methods; everything downstream only reads.
type ConstantPool struct {
	entries []Constant      // entries[i] is pool index i+1
	index   map[any]uint16 // first index of each distinct constant
}

// NewConstantPool creates an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{index: make(map[any]uint16)}
}

// Len returns the number of slots in use, counting the second slot of
// every Long and Double.
func (p *ConstantPool) Len() int {
	return len(p.entries)
}

// Count returns the constant_pool_count written to a class file.
func (p *ConstantPool) Count() int {
	return len(p.entries) + 1
}

// Entry returns the constant at pool index i.
func (p *ConstantPool) Entry(i uint16) (Constant, error) {
	if i == 0 || int(i) > len(p.entries) {
		return nil, fmt.Errorf("%w: #%d (pool has %d slots)", ErrIndexOutOfRange, i, len(p.entries))
	}
	c := p.entries[i-1]
	if _, ok := c.(wideSlot); ok {
		return nil, fmt.Errorf("%w: #%d is the upper half of a wide constant", ErrIndexOutOfRange, i)
	}
	return c, nil
}

// Entries returns a copy of every slot in order. The slot following a
// Long or Double is nil.
func (p *ConstantPool) Entries() []Constant {
	out := make([]Constant, len(p.entries))
	for i, c := range p.entries {
		if _, ok := c.(wideSlot); !ok {
			out[i] = c
		}
	}
	return out
}

// Lookup returns the first index holding a constant equal to c.
func (p *ConstantPool) Lookup(c Constant) (uint16, bool) {
	idx, ok := p.index[internKey(c)]
	return idx, ok
}

func (p *ConstantPool) entryTagged(i uint16, want ConstantTag) (Constant, error) {
	c, err := p.Entry(i)
	if err != nil {
		return nil, err
	}
	if c.Tag() != want {
		return nil, fmt.Errorf("%w: #%d is %s, want %s", ErrMalformedConstant, i, c.Tag(), want)
	}
	return c, nil
}

// Utf8 returns the string held by the Utf8 entry at i.
func (p *ConstantPool) Utf8(i uint16) (string, error) {
	c, err := p.entryTagged(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.(Utf8Info).Value, nil
}

// ClassName returns the internal name of the Class entry at i.
func (p *ConstantPool) ClassName(i uint16) (string, error) {
	c, err := p.entryTagged(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.(ClassInfo).NameIndex)
}

// NameAndType returns the name and descriptor of the NameAndType entry at i.
func (p *ConstantPool) NameAndType(i uint16) (name, descriptor string, err error) {
	c, err := p.entryTagged(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	nat := c.(NameAndTypeInfo)
	if name, err = p.Utf8(nat.NameIndex); err != nil {
		return "", "", err
	}
	if descriptor, err = p.Utf8(nat.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Tag        ConstantTag
	Class      string
	Name       string
	Descriptor string
}

func (m MemberRef) String() string {
	return fmt.Sprintf("%s.%s:%s", m.Class, m.Name, m.Descriptor)
}

// MemberRef resolves the member reference at i.
func (p *ConstantPool) MemberRef(i uint16) (MemberRef, error) {
	c, err := p.Entry(i)
	if err != nil {
		return MemberRef{}, err
	}
	var classIdx, natIdx uint16
	switch v := c.(type) {
	case FieldrefInfo:
		classIdx, natIdx = v.ClassIndex, v.NameAndTypeIndex
	case MethodrefInfo:
		classIdx, natIdx = v.ClassIndex, v.NameAndTypeIndex
	case InterfaceMethodrefInfo:
		classIdx, natIdx = v.ClassIndex, v.NameAndTypeIndex
	default:
		return MemberRef{}, fmt.Errorf("%w: #%d is %s, want a member reference", ErrMalformedConstant, i, c.Tag())
	}
	ref := MemberRef{Tag: c.Tag()}
	if ref.Class, err = p.ClassName(classIdx); err != nil {
		return MemberRef{}, err
	}
	if ref.Name, ref.Descriptor, err = p.NameAndType(natIdx); err != nil {
		return MemberRef{}, err
	}
	return ref, nil
}

// Describe renders entry i for listings, or "" if it cannot be resolved.
func (p *ConstantPool) Describe(i uint16) string {
	c, err := p.Entry(i)
	if err != nil {
		return ""
	}
	switch v := c.(type) {
	case Utf8Info:
		return strconv.Quote(v.Value)
	case IntegerInfo:
		return fmt.Sprintf("int %d", v.Value)
	case FloatInfo:
		return fmt.Sprintf("float %g", v.Value)
	case LongInfo:
		return fmt.Sprintf("long %d", v.Value)
	case DoubleInfo:
		return fmt.Sprintf("double %g", v.Value)
	case ClassInfo:
		name, _ := p.Utf8(v.NameIndex)
		return "class " + name
	case StringInfo:
		s, _ := p.Utf8(v.StringIndex)
		return "String " + strconv.Quote(s)
	case NameAndTypeInfo:
		name, desc, _ := p.NameAndType(i)
		return fmt.Sprintf("NameAndType %s:%s", name, desc)
	case FieldrefInfo:
		ref, _ := p.MemberRef(i)
		return "Field " + ref.String()
	case MethodrefInfo:
		ref, _ := p.MemberRef(i)
		return "Method " + ref.String()
	case InterfaceMethodrefInfo:
		ref, _ := p.MemberRef(i)
		return "InterfaceMethod " + ref.String()
	case MethodHandleInfo:
		return fmt.Sprintf("MethodHandle kind=%d #%d", v.ReferenceKind, v.ReferenceIndex)
	case MethodTypeInfo:
		desc, _ := p.Utf8(v.DescriptorIndex)
		return "MethodType " + desc
	case InvokeDynamicInfo:
		name, desc, _ := p.NameAndType(v.NameAndTypeIndex)
		return fmt.Sprintf("InvokeDynamic #%d:%s:%s", v.BootstrapMethodAttrIndex, name, desc)
	}
	return ""
}

// String renders the whole pool, one entry per line.
func (p *ConstantPool) String() string {
	var out []byte
	for i := range p.entries {
		idx := uint16(i + 1)
		c, err := p.Entry(idx)
		if err != nil {
			continue
		}
		out = fmt.Appendf(out, "  #%-4d = %-18s %s\n", idx, c.Tag(), p.Describe(idx))
	}
	return string(out)
}

// appendParsed appends a constant read from a class file. Third-party pools
// may hold duplicates, so nothing is deduplicated; the lookup index keeps
// the first occurrence.
func (p *ConstantPool) appendParsed(c Constant) (uint16, error) {
	n := slotsFor(c)
	if len(p.entries)+n > maxPoolSlots {
		return 0, fmt.Errorf("%w: %d slots", ErrPoolOverflow, len(p.entries)+n)
	}
	idx := uint16(len(p.entries) + 1)
	p.entries = append(p.entries, c)
	if n == 2 {
		p.entries = append(p.entries, wideSlot{})
	}
	key := internKey(c)
	if _, seen := p.index[key]; !seen {
		p.index[key] = idx
	}
	return idx, nil
}
