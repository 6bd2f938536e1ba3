package vm

import "fmt"

// ---------------------------------------------------------------------------
// Constant pool write path: interning during generation
// ---------------------------------------------------------------------------

// intern returns the index of an existing equal constant or appends c.
func (p *ConstantPool) intern(c Constant) (uint16, error) {
	if idx, ok := p.index[internKey(c)]; ok {
		return idx, nil
	}
	n := slotsFor(c)
	if len(p.entries)+n > maxPoolSlots {
		return 0, fmt.Errorf("%w: adding %s to %d slots", ErrPoolOverflow, c.Tag(), len(p.entries))
	}
	idx := uint16(len(p.entries) + 1)
	p.entries = append(p.entries, c)
	if n == 2 {
		p.entries = append(p.entries, wideSlot{})
	}
	p.index[internKey(c)] = idx
	return idx, nil
}

// InternUtf8 interns a Utf8 constant.
func (p *ConstantPool) InternUtf8(s string) (uint16, error) {
	return p.intern(Utf8Info{Value: s})
}

// InternInteger interns an Integer constant.
func (p *ConstantPool) InternInteger(v int32) (uint16, error) {
	return p.intern(IntegerInfo{Value: v})
}

// InternFloat interns a Float constant, deduplicated by bit pattern.
func (p *ConstantPool) InternFloat(v float32) (uint16, error) {
	return p.intern(FloatInfo{Value: v})
}

// InternLong interns a Long constant. It occupies two slots.
func (p *ConstantPool) InternLong(v int64) (uint16, error) {
	return p.intern(LongInfo{Value: v})
}

// InternDouble interns a Double constant, deduplicated by bit pattern. It
// occupies two slots.
func (p *ConstantPool) InternDouble(v float64) (uint16, error) {
	return p.intern(DoubleInfo{Value: v})
}

// InternClass interns a Class constant for an internal name such as
// "java/lang/Object".
func (p *ConstantPool) InternClass(name string) (uint16, error) {
	nameIdx, err := p.InternUtf8(name)
	if err != nil {
		return 0, err
	}
	return p.intern(ClassInfo{NameIndex: nameIdx})
}

// InternString interns a String constant.
func (p *ConstantPool) InternString(s string) (uint16, error) {
	utf8Idx, err := p.InternUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.intern(StringInfo{StringIndex: utf8Idx})
}

// InternNameAndType interns a NameAndType constant.
func (p *ConstantPool) InternNameAndType(name, descriptor string) (uint16, error) {
	nameIdx, err := p.InternUtf8(name)
	if err != nil {
		return 0, err
	}
	descIdx, err := p.InternUtf8(descriptor)
	if err != nil {
		return 0, err
	}
	return p.intern(NameAndTypeInfo{NameIndex: nameIdx, DescriptorIndex: descIdx})
}

func (p *ConstantPool) memberParts(class, name, descriptor string) (uint16, uint16, error) {
	classIdx, err := p.InternClass(class)
	if err != nil {
		return 0, 0, err
	}
	natIdx, err := p.InternNameAndType(name, descriptor)
	if err != nil {
		return 0, 0, err
	}
	return classIdx, natIdx, nil
}

// InternFieldref interns a Fieldref constant.
func (p *ConstantPool) InternFieldref(class, name, descriptor string) (uint16, error) {
	classIdx, natIdx, err := p.memberParts(class, name, descriptor)
	if err != nil {
		return 0, err
	}
	return p.intern(FieldrefInfo{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// InternMethodref interns a Methodref constant.
func (p *ConstantPool) InternMethodref(class, name, descriptor string) (uint16, error) {
	classIdx, natIdx, err := p.memberParts(class, name, descriptor)
	if err != nil {
		return 0, err
	}
	return p.intern(MethodrefInfo{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}
