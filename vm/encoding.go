package vm

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Class file encoding: big-endian primitives and modified UTF-8
// ---------------------------------------------------------------------------

// classEncoder accumulates big-endian class file bytes.
type classEncoder struct {
	buf []byte
}

func (e *classEncoder) u1(v uint8)  { e.buf = append(e.buf, v) }
func (e *classEncoder) u2(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *classEncoder) u4(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *classEncoder) u8(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *classEncoder) raw(b []byte) {
	e.buf = append(e.buf, b...)
}

// count writes n as a u2 count, failing closed when it does not fit.
func (e *classEncoder) count(n int, what string) error {
	if n < 0 || n > 0xFFFF {
		return fmt.Errorf("%w: %s count %d exceeds u2", ErrEncoding, what, n)
	}
	e.u2(uint16(n))
	return nil
}

// classDecoder reads big-endian class file bytes, reporting truncation
// with the offset at which data ran out.
type classDecoder struct {
	data []byte
	pos  int
}

func (d *classDecoder) remaining() int { return len(d.data) - d.pos }

func (d *classDecoder) need(n int, what string) error {
	if n < 0 || d.remaining() < n {
		return fmt.Errorf("%w: reading %s at offset %d (need %d bytes, have %d)",
			ErrTruncated, what, d.pos, n, d.remaining())
	}
	return nil
}

func (d *classDecoder) u1(what string) (uint8, error) {
	if err := d.need(1, what); err != nil {
		return 0, err
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *classDecoder) u2(what string) (uint16, error) {
	if err := d.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *classDecoder) u4(what string) (uint32, error) {
	if err := d.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *classDecoder) u8(what string) (uint64, error) {
	if err := d.need(8, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

// bytes returns the next n bytes without copying.
func (d *classDecoder) bytes(n int, what string) ([]byte, error) {
	if err := d.need(n, what); err != nil {
		return nil, err
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ---------------------------------------------------------------------------
// Modified UTF-8
// ---------------------------------------------------------------------------

// EncodeModifiedUTF8 encodes s the way class files store Utf8 constants:
// NUL becomes 0xC0 0x80 and supplementary characters become a surrogate
// pair with each half encoded in three bytes.
func EncodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r == 0:
			out = append(out, 0xC0, 0x80)
		case r < 0x80:
			out = append(out, byte(r))
		case r < 0x800:
			out = append(out, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			out = appendUTF8Triple(out, r)
		default:
			hi, lo := utf16.EncodeRune(r)
			out = appendUTF8Triple(out, hi)
			out = appendUTF8Triple(out, lo)
		}
	}
	return out
}

func appendUTF8Triple(out []byte, r rune) []byte {
	return append(out, 0xE0|byte(r>>12), 0x80|byte((r>>6)&0x3F), 0x80|byte(r&0x3F))
}

// DecodeModifiedUTF8 decodes a class file Utf8 payload. Raw NUL bytes and
// four-byte forms are rejected with ErrEncoding; unpaired surrogates decode
// to U+FFFD.
func DecodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return "", fmt.Errorf("%w: NUL byte at %d", ErrEncoding, i)
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad two-byte sequence at %d", ErrEncoding, i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad three-byte sequence at %d", ErrEncoding, i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("%w: invalid byte 0x%02X at %d", ErrEncoding, c, i)
		}
	}

	runes := utf16.Decode(units)
	out := make([]byte, 0, len(runes))
	for _, r := range runes {
		out = utf8.AppendRune(out, r)
	}
	return string(out), nil
}
