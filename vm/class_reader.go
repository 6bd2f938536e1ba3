package vm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ---------------------------------------------------------------------------
// Class reader
// ---------------------------------------------------------------------------

// ReadClassFile reads and parses the class file at path.
func ReadClassFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class file: %w", err)
	}
	return ParseClass(data)
}

// ReadClass reads a whole class file from r and parses it.
func ReadClass(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read class data: %w", err)
	}
	return ParseClass(data)
}

// ParseClass parses and validates a class file. Every method body is
// decoded up front, so an unsupported opcode is reported here rather than
// when the method first runs.
func ParseClass(data []byte) (*ClassFile, error) {
	d := &classDecoder{data: data}

	magic, err := d.u4("magic")
	if err != nil {
		return nil, err
	}
	if magic != ClassMagic {
		return nil, fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}

	cf := &ClassFile{}
	if cf.MinorVersion, err = d.u2("minor_version"); err != nil {
		return nil, err
	}
	if cf.MajorVersion, err = d.u2("major_version"); err != nil {
		return nil, err
	}

	if cf.Pool, err = readPool(d); err != nil {
		return nil, err
	}
	if err := validatePool(cf.Pool); err != nil {
		return nil, err
	}

	if cf.AccessFlags, err = d.u2("access_flags"); err != nil {
		return nil, err
	}
	if cf.ThisClass, err = d.u2("this_class"); err != nil {
		return nil, err
	}
	if _, err := cf.Pool.entryTagged(cf.ThisClass, TagClass); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if cf.SuperClass, err = d.u2("super_class"); err != nil {
		return nil, err
	}
	if cf.SuperClass != 0 {
		if _, err := cf.Pool.entryTagged(cf.SuperClass, TagClass); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}

	nInterfaces, err := d.u2("interfaces_count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nInterfaces); i++ {
		idx, err := d.u2("interface")
		if err != nil {
			return nil, err
		}
		if _, err := cf.Pool.entryTagged(idx, TagClass); err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, idx)
	}

	nFields, err := d.u2("fields_count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nFields); i++ {
		f, err := readField(d, cf.Pool)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		cf.Fields = append(cf.Fields, f)
	}

	nMethods, err := d.u2("methods_count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nMethods); i++ {
		m, err := readMethod(d, cf.Pool)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		cf.Methods = append(cf.Methods, m)
	}

	if cf.Attributes, err = readAttributes(d, cf.Pool, "class"); err != nil {
		return nil, err
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes at offset %d", ErrTrailingData, d.remaining(), d.pos)
	}

	for i := range cf.Methods {
		if err := verifyMethod(cf, &cf.Methods[i]); err != nil {
			return nil, err
		}
	}
	return cf, nil
}

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

func readPool(d *classDecoder) (*ConstantPool, error) {
	count, err := d.u2("constant_pool_count")
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: constant_pool_count is 0", ErrMalformedConstant)
	}

	pool := NewConstantPool()
	for i := 1; i < int(count); {
		c, err := readConstant(d, i)
		if err != nil {
			return nil, err
		}
		if slotsFor(c) == 2 && i+1 >= int(count) {
			return nil, fmt.Errorf("%w: %s at #%d needs two slots", ErrMalformedConstant, c.Tag(), i)
		}
		if _, err := pool.appendParsed(c); err != nil {
			return nil, err
		}
		i += slotsFor(c)
	}
	return pool, nil
}

func readConstant(d *classDecoder, idx int) (Constant, error) {
	what := fmt.Sprintf("constant #%d", idx)
	tag, err := d.u1(what)
	if err != nil {
		return nil, err
	}

	// two reads the common (u2, u2) shape.
	two := func() (uint16, uint16, error) {
		a, err := d.u2(what)
		if err != nil {
			return 0, 0, err
		}
		b, err := d.u2(what)
		return a, b, err
	}

	switch ConstantTag(tag) {
	case TagUtf8:
		n, err := d.u2(what)
		if err != nil {
			return nil, err
		}
		raw, err := d.bytes(int(n), what)
		if err != nil {
			return nil, err
		}
		s, err := DecodeModifiedUTF8(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		return Utf8Info{Value: s}, nil
	case TagInteger:
		v, err := d.u4(what)
		return IntegerInfo{Value: int32(v)}, err
	case TagFloat:
		v, err := d.u4(what)
		return FloatInfo{Value: math.Float32frombits(v)}, err
	case TagLong:
		v, err := d.u8(what)
		return LongInfo{Value: int64(v)}, err
	case TagDouble:
		v, err := d.u8(what)
		return DoubleInfo{Value: math.Float64frombits(v)}, err
	case TagClass:
		v, err := d.u2(what)
		return ClassInfo{NameIndex: v}, err
	case TagString:
		v, err := d.u2(what)
		return StringInfo{StringIndex: v}, err
	case TagFieldref:
		a, b, err := two()
		return FieldrefInfo{ClassIndex: a, NameAndTypeIndex: b}, err
	case TagMethodref:
		a, b, err := two()
		return MethodrefInfo{ClassIndex: a, NameAndTypeIndex: b}, err
	case TagInterfaceMethodref:
		a, b, err := two()
		return InterfaceMethodrefInfo{ClassIndex: a, NameAndTypeIndex: b}, err
	case TagNameAndType:
		a, b, err := two()
		return NameAndTypeInfo{NameIndex: a, DescriptorIndex: b}, err
	case TagMethodHandle:
		kind, err := d.u1(what)
		if err != nil {
			return nil, err
		}
		ref, err := d.u2(what)
		return MethodHandleInfo{ReferenceKind: kind, ReferenceIndex: ref}, err
	case TagMethodType:
		v, err := d.u2(what)
		return MethodTypeInfo{DescriptorIndex: v}, err
	case TagInvokeDynamic:
		a, b, err := two()
		return InvokeDynamicInfo{BootstrapMethodAttrIndex: a, NameAndTypeIndex: b}, err
	default:
		return nil, fmt.Errorf("%w: unknown tag %d at #%d (offset %d)", ErrMalformedConstant, tag, idx, d.pos-1)
	}
}

// validatePool checks every cross-reference inside the pool.
func validatePool(pool *ConstantPool) error {
	for i, c := range pool.entries {
		idx := uint16(i + 1)
		var err error
		switch v := c.(type) {
		case ClassInfo:
			_, err = pool.entryTagged(v.NameIndex, TagUtf8)
		case StringInfo:
			_, err = pool.entryTagged(v.StringIndex, TagUtf8)
		case MethodTypeInfo:
			_, err = pool.entryTagged(v.DescriptorIndex, TagUtf8)
		case NameAndTypeInfo:
			if _, err = pool.entryTagged(v.NameIndex, TagUtf8); err == nil {
				_, err = pool.entryTagged(v.DescriptorIndex, TagUtf8)
			}
		case FieldrefInfo:
			err = validateMember(pool, v.ClassIndex, v.NameAndTypeIndex)
		case MethodrefInfo:
			err = validateMember(pool, v.ClassIndex, v.NameAndTypeIndex)
		case InterfaceMethodrefInfo:
			err = validateMember(pool, v.ClassIndex, v.NameAndTypeIndex)
		case InvokeDynamicInfo:
			_, err = pool.entryTagged(v.NameAndTypeIndex, TagNameAndType)
		case MethodHandleInfo:
			err = validateMethodHandle(pool, v)
		}
		if err != nil {
			return fmt.Errorf("constant #%d (%s): %w", idx, c.Tag(), err)
		}
	}
	return nil
}

func validateMember(pool *ConstantPool, classIdx, natIdx uint16) error {
	if _, err := pool.entryTagged(classIdx, TagClass); err != nil {
		return err
	}
	_, err := pool.entryTagged(natIdx, TagNameAndType)
	return err
}

// Method handle reference kinds.
const (
	refGetField         = 1
	refPutStatic        = 4
	refInvokeVirtual    = 5
	refInvokeStatic     = 6
	refInvokeSpecial    = 7
	refNewInvokeSpecial = 8
	refInvokeInterface  = 9
)

func validateMethodHandle(pool *ConstantPool, h MethodHandleInfo) error {
	target, err := pool.Entry(h.ReferenceIndex)
	if err != nil {
		return err
	}
	tag := target.Tag()
	var ok bool
	switch {
	case h.ReferenceKind >= refGetField && h.ReferenceKind <= refPutStatic:
		ok = tag == TagFieldref
	case h.ReferenceKind == refInvokeVirtual || h.ReferenceKind == refNewInvokeSpecial:
		ok = tag == TagMethodref
	case h.ReferenceKind == refInvokeStatic || h.ReferenceKind == refInvokeSpecial:
		ok = tag == TagMethodref || tag == TagInterfaceMethodref
	case h.ReferenceKind == refInvokeInterface:
		ok = tag == TagInterfaceMethodref
	default:
		return fmt.Errorf("%w: reference kind %d", ErrMalformedConstant, h.ReferenceKind)
	}
	if !ok {
		return fmt.Errorf("%w: reference kind %d cannot target %s", ErrMalformedConstant, h.ReferenceKind, tag)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Members and attributes
// ---------------------------------------------------------------------------

func readMemberHeader(d *classDecoder, pool *ConstantPool) (flags, name, desc uint16, err error) {
	if flags, err = d.u2("access_flags"); err != nil {
		return
	}
	if name, err = d.u2("name_index"); err != nil {
		return
	}
	if _, err = pool.entryTagged(name, TagUtf8); err != nil {
		return
	}
	if desc, err = d.u2("descriptor_index"); err != nil {
		return
	}
	_, err = pool.entryTagged(desc, TagUtf8)
	return
}

func readField(d *classDecoder, pool *ConstantPool) (Field, error) {
	flags, name, desc, err := readMemberHeader(d, pool)
	if err != nil {
		return Field{}, err
	}
	attrs, err := readAttributes(d, pool, "field")
	if err != nil {
		return Field{}, err
	}
	return Field{AccessFlags: flags, NameIndex: name, DescriptorIndex: desc, Attributes: attrs}, nil
}

func readMethod(d *classDecoder, pool *ConstantPool) (Method, error) {
	flags, name, desc, err := readMemberHeader(d, pool)
	if err != nil {
		return Method{}, err
	}
	m := Method{AccessFlags: flags, NameIndex: name, DescriptorIndex: desc}
	descriptor, _ := pool.Utf8(desc)
	if _, err := ParseMethodDescriptor(descriptor); err != nil {
		return Method{}, err
	}

	attrs, err := readAttributes(d, pool, "method")
	if err != nil {
		return Method{}, err
	}
	for _, a := range attrs {
		aname, _ := pool.Utf8(a.NameIndex)
		if aname != AttrCode {
			m.Attributes = append(m.Attributes, a)
			continue
		}
		if m.Code != nil {
			return Method{}, fmt.Errorf("%w: duplicate Code attribute", ErrMalformedCode)
		}
		if m.Code, err = parseCode(a, pool); err != nil {
			return Method{}, err
		}
	}
	return m, nil
}

func readAttributes(d *classDecoder, pool *ConstantPool, owner string) ([]Attribute, error) {
	n, err := d.u2(owner + " attributes_count")
	if err != nil {
		return nil, err
	}
	var out []Attribute
	for i := 0; i < int(n); i++ {
		name, err := d.u2(owner + " attribute_name_index")
		if err != nil {
			return nil, err
		}
		if _, err := pool.entryTagged(name, TagUtf8); err != nil {
			return nil, fmt.Errorf("%s attribute %d: %w", owner, i, err)
		}
		length, err := d.u4(owner + " attribute_length")
		if err != nil {
			return nil, err
		}
		if uint64(length) > uint64(d.remaining()) {
			return nil, fmt.Errorf("%w: %s attribute %d claims %d bytes, %d remain",
				ErrTruncated, owner, i, length, d.remaining())
		}
		info, err := d.bytes(int(length), owner+" attribute")
		if err != nil {
			return nil, err
		}
		out = append(out, Attribute{NameIndex: name, Info: bytes.Clone(info)})
	}
	return out, nil
}

func parseCode(a Attribute, pool *ConstantPool) (*CodeAttribute, error) {
	d := &classDecoder{data: a.Info}
	c := &CodeAttribute{NameIndex: a.NameIndex}

	var err error
	if c.MaxStack, err = d.u2("max_stack"); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = d.u2("max_locals"); err != nil {
		return nil, err
	}
	n, err := d.u4("code_length")
	if err != nil {
		return nil, err
	}
	if n == 0 || n > 0xFFFF {
		return nil, fmt.Errorf("%w: code_length %d outside [1, 65535]", ErrMalformedCode, n)
	}
	if c.Code, err = d.bytes(int(n), "code"); err != nil {
		return nil, err
	}

	nx, err := d.u2("exception_table_length")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nx); i++ {
		var x ExceptionTableEntry
		if x.StartPC, err = d.u2("start_pc"); err != nil {
			return nil, err
		}
		if x.EndPC, err = d.u2("end_pc"); err != nil {
			return nil, err
		}
		if x.HandlerPC, err = d.u2("handler_pc"); err != nil {
			return nil, err
		}
		if x.CatchType, err = d.u2("catch_type"); err != nil {
			return nil, err
		}
		if x.StartPC >= x.EndPC || uint32(x.EndPC) > n || uint32(x.HandlerPC) >= n {
			return nil, fmt.Errorf("%w: exception table entry %d [%d, %d) -> %d outside code",
				ErrMalformedCode, i, x.StartPC, x.EndPC, x.HandlerPC)
		}
		if x.CatchType != 0 {
			if _, err := pool.entryTagged(x.CatchType, TagClass); err != nil {
				return nil, fmt.Errorf("exception table entry %d: %w", i, err)
			}
		}
		c.ExceptionTable = append(c.ExceptionTable, x)
	}

	if c.Attributes, err = readAttributes(d, pool, "code"); err != nil {
		return nil, err
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("%w: Code attribute has %d unread bytes", ErrMalformedCode, d.remaining())
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Method body verification
// ---------------------------------------------------------------------------

func verifyMethod(cf *ClassFile, m *Method) error {
	if m.Code == nil {
		return nil
	}
	name, desc, err := cf.MethodSignature(m)
	if err != nil {
		return err
	}
	sig := name + desc

	instrs, err := DecodeCode(m.Code.Code)
	if err != nil {
		var uie *UnsupportedInstructionError
		if errors.As(err, &uie) {
			uie.Method = sig
			return uie
		}
		return fmt.Errorf("%s: %w", sig, err)
	}

	for _, in := range instrs {
		if err := verifyInstruction(cf.Pool, m.Code, in); err != nil {
			return fmt.Errorf("%s: %s at pc %d: %w", sig, in.Op, in.PC, err)
		}
	}
	return nil
}

func verifyInstruction(pool *ConstantPool, code *CodeAttribute, in Instruction) error {
	if idx, kind, _, ok := localAccess(in); ok {
		if idx+kind.Slots() > int(code.MaxLocals) {
			return fmt.Errorf("%w: local %d with max_locals %d", ErrMalformedCode, idx, code.MaxLocals)
		}
		return nil
	}

	switch in.Op {
	case OpLdc, OpLdcW:
		return expectTag(pool, in.A, TagInteger, TagFloat, TagString, TagClass, TagMethodType, TagMethodHandle)
	case OpLdc2W:
		return expectTag(pool, in.A, TagLong, TagDouble)
	case OpGetstatic:
		return expectTag(pool, in.A, TagFieldref)
	case OpInvokevirtual:
		return expectTag(pool, in.A, TagMethodref)
	case OpInvokespecial, OpInvokestatic:
		return expectTag(pool, in.A, TagMethodref, TagInterfaceMethodref)
	}
	return nil
}

func expectTag(pool *ConstantPool, idx int32, tags ...ConstantTag) error {
	c, err := pool.Entry(uint16(idx))
	if err != nil {
		return err
	}
	for _, t := range tags {
		if c.Tag() == t {
			return nil
		}
	}
	return fmt.Errorf("%w: #%d is %s", ErrMalformedConstant, idx, c.Tag())
}
