package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// ---------------------------------------------------------------------------
// Class writer
// ---------------------------------------------------------------------------

// BuildClass assembles the generator output into a class with a public
// static main and a private static rollDice.
func BuildClass(gen *Generated) (*ClassFile, error) {
	if gen == nil || gen.Pool == nil {
		return nil, fmt.Errorf("%w: no generated code", ErrMalformedCode)
	}
	r := gen.refs

	mainCode := make([]byte, 0, len(gen.Main)+1)
	mainCode = append(mainCode, gen.Main...)
	mainCode = append(mainCode, byte(OpReturn))

	stackMap, err := EncodeStackMapTable(
		[]VerificationType{{Tag: VerifyInteger}, {Tag: VerifyInteger}},
		gen.RollDiceFrames,
	)
	if err != nil {
		return nil, err
	}

	return &ClassFile{
		MinorVersion: MinorVersion,
		MajorVersion: MajorVersion,
		Pool:         gen.Pool,
		AccessFlags:  AccPublic | AccSuper,
		ThisClass:    r.thisClass,
		SuperClass:   r.superClass,
		Methods: []Method{
			{
				AccessFlags:     AccPublic | AccStatic,
				NameIndex:       r.mainName,
				DescriptorIndex: r.mainDesc,
				Code: &CodeAttribute{
					NameIndex: r.code,
					MaxStack:  mainMaxStack,
					MaxLocals: mainMaxLocals,
					Code:      mainCode,
				},
			},
			{
				AccessFlags:     AccPrivate | AccStatic,
				NameIndex:       r.rollName,
				DescriptorIndex: r.rollDesc,
				Code: &CodeAttribute{
					NameIndex: r.code,
					MaxStack:  rollDiceMaxStack,
					MaxLocals: rollDiceMaxLocals,
					Code:      gen.RollDice,
					Attributes: []Attribute{
						{NameIndex: r.stackMapTable, Info: stackMap},
					},
				},
			},
		},
	}, nil
}

// Bytes serializes the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	e := &classEncoder{buf: make([]byte, 0, 512)}
	if err := cf.encode(e); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// WriteTo serializes the class file to w.
func (cf *ClassFile) WriteTo(w io.Writer) (int64, error) {
	data, err := cf.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// WriteClassFile writes cf to path atomically via a temp file and rename.
func WriteClassFile(path string, cf *ClassFile) error {
	data, err := cf.Bytes()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".class-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write class file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close class file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename class file: %w", err)
	}
	return nil
}

func (cf *ClassFile) encode(e *classEncoder) error {
	if cf.Pool == nil {
		return fmt.Errorf("%w: class has no constant pool", ErrEncoding)
	}
	e.u4(ClassMagic)
	e.u2(cf.MinorVersion)
	e.u2(cf.MajorVersion)

	if err := encodePool(e, cf.Pool); err != nil {
		return err
	}

	e.u2(cf.AccessFlags)
	e.u2(cf.ThisClass)
	e.u2(cf.SuperClass)

	if err := e.count(len(cf.Interfaces), "interface"); err != nil {
		return err
	}
	for _, idx := range cf.Interfaces {
		e.u2(idx)
	}

	if err := e.count(len(cf.Fields), "field"); err != nil {
		return err
	}
	for _, f := range cf.Fields {
		e.u2(f.AccessFlags)
		e.u2(f.NameIndex)
		e.u2(f.DescriptorIndex)
		if err := encodeAttributes(e, f.Attributes); err != nil {
			return err
		}
	}

	if err := e.count(len(cf.Methods), "method"); err != nil {
		return err
	}
	for i := range cf.Methods {
		if err := encodeMethod(e, &cf.Methods[i]); err != nil {
			return err
		}
	}

	return encodeAttributes(e, cf.Attributes)
}

func encodePool(e *classEncoder, pool *ConstantPool) error {
	if err := e.count(pool.Count(), "constant pool"); err != nil {
		return err
	}
	for _, c := range pool.entries {
		switch v := c.(type) {
		case wideSlot:
			// no bytes: the upper half of a Long or Double
		case Utf8Info:
			b := EncodeModifiedUTF8(v.Value)
			if len(b) > math.MaxUint16 {
				return fmt.Errorf("%w: Utf8 constant is %d bytes, limit is 65535", ErrEncoding, len(b))
			}
			e.u1(uint8(TagUtf8))
			e.u2(uint16(len(b)))
			e.raw(b)
		case IntegerInfo:
			e.u1(uint8(TagInteger))
			e.u4(uint32(v.Value))
		case FloatInfo:
			e.u1(uint8(TagFloat))
			e.u4(math.Float32bits(v.Value))
		case LongInfo:
			e.u1(uint8(TagLong))
			e.u8(uint64(v.Value))
		case DoubleInfo:
			e.u1(uint8(TagDouble))
			e.u8(math.Float64bits(v.Value))
		case ClassInfo:
			e.u1(uint8(TagClass))
			e.u2(v.NameIndex)
		case StringInfo:
			e.u1(uint8(TagString))
			e.u2(v.StringIndex)
		case FieldrefInfo:
			e.u1(uint8(TagFieldref))
			e.u2(v.ClassIndex)
			e.u2(v.NameAndTypeIndex)
		case MethodrefInfo:
			e.u1(uint8(TagMethodref))
			e.u2(v.ClassIndex)
			e.u2(v.NameAndTypeIndex)
		case InterfaceMethodrefInfo:
			e.u1(uint8(TagInterfaceMethodref))
			e.u2(v.ClassIndex)
			e.u2(v.NameAndTypeIndex)
		case NameAndTypeInfo:
			e.u1(uint8(TagNameAndType))
			e.u2(v.NameIndex)
			e.u2(v.DescriptorIndex)
		case MethodHandleInfo:
			e.u1(uint8(TagMethodHandle))
			e.u1(v.ReferenceKind)
			e.u2(v.ReferenceIndex)
		case MethodTypeInfo:
			e.u1(uint8(TagMethodType))
			e.u2(v.DescriptorIndex)
		case InvokeDynamicInfo:
			e.u1(uint8(TagInvokeDynamic))
			e.u2(v.BootstrapMethodAttrIndex)
			e.u2(v.NameAndTypeIndex)
		default:
			return fmt.Errorf("%w: cannot encode %T", ErrEncoding, c)
		}
	}
	return nil
}

func encodeAttributes(e *classEncoder, attrs []Attribute) error {
	if err := e.count(len(attrs), "attribute"); err != nil {
		return err
	}
	for _, a := range attrs {
		if uint64(len(a.Info)) > math.MaxUint32 {
			return fmt.Errorf("%w: attribute of %d bytes", ErrEncoding, len(a.Info))
		}
		e.u2(a.NameIndex)
		e.u4(uint32(len(a.Info)))
		e.raw(a.Info)
	}
	return nil
}

func encodeMethod(e *classEncoder, m *Method) error {
	e.u2(m.AccessFlags)
	e.u2(m.NameIndex)
	e.u2(m.DescriptorIndex)

	n := len(m.Attributes)
	if m.Code != nil {
		n++
	}
	if err := e.count(n, "method attribute"); err != nil {
		return err
	}
	if m.Code != nil {
		info, err := encodeCode(m.Code)
		if err != nil {
			return err
		}
		e.u2(m.Code.NameIndex)
		e.u4(uint32(len(info)))
		e.raw(info)
	}
	for _, a := range m.Attributes {
		e.u2(a.NameIndex)
		e.u4(uint32(len(a.Info)))
		e.raw(a.Info)
	}
	return nil
}

// encodeCode returns the Code attribute payload, without its name and
// length header.
func encodeCode(c *CodeAttribute) ([]byte, error) {
	if len(c.Code) == 0 || len(c.Code) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: code length %d outside [1, 65535]", ErrEncoding, len(c.Code))
	}
	e := &classEncoder{}
	e.u2(c.MaxStack)
	e.u2(c.MaxLocals)
	e.u4(uint32(len(c.Code)))
	e.raw(c.Code)
	if err := e.count(len(c.ExceptionTable), "exception table"); err != nil {
		return nil, err
	}
	for _, x := range c.ExceptionTable {
		e.u2(x.StartPC)
		e.u2(x.EndPC)
		e.u2(x.HandlerPC)
		e.u2(x.CatchType)
	}
	if err := encodeAttributes(e, c.Attributes); err != nil {
		return nil, err
	}
	return e.buf, nil
}
