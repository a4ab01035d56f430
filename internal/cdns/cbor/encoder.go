// Package cbor implements a streaming CBOR primitive writer. It emits the
// standard major types with the shortest possible integer encodings and
// supports both definite and indefinite length containers. Errors from the
// underlying writer are sticky: the first failure is latched and all later
// writes become no-ops, so callers check once via Flush or Err.
package cbor

import "io"

// CBOR major types.
const (
	majorUnsigned = 0
	majorNegative = 1
	majorBytes    = 2
	majorText     = 3
	majorArray    = 4
	majorMap      = 5
	majorSimple   = 7
)

const (
	simpleFalse    = 20
	simpleTrue     = 21
	simpleNull     = 22
	indefiniteInfo = 31
)

const bufSize = 2048

// Encoder writes CBOR items to an underlying writer through a small buffer.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 0, bufSize),
	}
}

// Err returns the first error encountered by the encoder, if any.
func (e *Encoder) Err() error {
	return e.err
}

// Flush writes any buffered bytes to the underlying writer.
func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	if len(e.buf) > 0 {
		if _, err := e.w.Write(e.buf); err != nil {
			e.err = err
			return err
		}
		e.buf = e.buf[:0]
	}
	return nil
}

func (e *Encoder) writeByte(b byte) {
	if e.err != nil {
		return
	}
	if len(e.buf) == cap(e.buf) {
		if e.Flush() != nil {
			return
		}
	}
	e.buf = append(e.buf, b)
}

// writeTypeValue emits a major type header with the shortest encoding of v.
func (e *Encoder) writeTypeValue(major byte, v uint64) {
	switch {
	case v < 24:
		e.writeByte(major<<5 | byte(v))
	case v <= 0xff:
		e.writeByte(major<<5 | 24)
		e.writeByte(byte(v))
	case v <= 0xffff:
		e.writeByte(major<<5 | 25)
		e.writeByte(byte(v >> 8))
		e.writeByte(byte(v))
	case v <= 0xffffffff:
		e.writeByte(major<<5 | 26)
		e.writeByte(byte(v >> 24))
		e.writeByte(byte(v >> 16))
		e.writeByte(byte(v >> 8))
		e.writeByte(byte(v))
	default:
		e.writeByte(major<<5 | 27)
		e.writeByte(byte(v >> 56))
		e.writeByte(byte(v >> 48))
		e.writeByte(byte(v >> 40))
		e.writeByte(byte(v >> 32))
		e.writeByte(byte(v >> 24))
		e.writeByte(byte(v >> 16))
		e.writeByte(byte(v >> 8))
		e.writeByte(byte(v))
	}
}

// WriteUint writes an unsigned integer.
func (e *Encoder) WriteUint(v uint64) {
	e.writeTypeValue(majorUnsigned, v)
}

// WriteInt writes a signed integer, using the negative major type when
// v is below zero.
func (e *Encoder) WriteInt(v int64) {
	if v < 0 {
		e.writeTypeValue(majorNegative, uint64(-1-v))
	} else {
		e.writeTypeValue(majorUnsigned, uint64(v))
	}
}

// WriteBytes writes a definite-length byte string.
func (e *Encoder) WriteBytes(b []byte) {
	e.writeTypeValue(majorBytes, uint64(len(b)))
	for _, c := range b {
		e.writeByte(c)
	}
}

// WriteText writes a definite-length text string.
func (e *Encoder) WriteText(s string) {
	e.writeTypeValue(majorText, uint64(len(s)))
	for i := 0; i < len(s); i++ {
		e.writeByte(s[i])
	}
}

// WriteArrayHeader writes a definite-length array header for n items.
func (e *Encoder) WriteArrayHeader(n int) {
	e.writeTypeValue(majorArray, uint64(n))
}

// WriteIndefArrayHeader opens an indefinite-length array, terminated by
// a later WriteBreak.
func (e *Encoder) WriteIndefArrayHeader() {
	e.writeByte(majorArray<<5 | indefiniteInfo)
}

// WriteMapHeader writes a definite-length map header for n pairs.
func (e *Encoder) WriteMapHeader(n int) {
	e.writeTypeValue(majorMap, uint64(n))
}

// WriteIndefMapHeader opens an indefinite-length map, terminated by a
// later WriteBreak.
func (e *Encoder) WriteIndefMapHeader() {
	e.writeByte(majorMap<<5 | indefiniteInfo)
}

// WriteBreak terminates the innermost indefinite-length container.
func (e *Encoder) WriteBreak() {
	e.writeByte(majorSimple<<5 | indefiniteInfo)
}

// WriteBool writes a boolean.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.writeByte(majorSimple<<5 | simpleTrue)
	} else {
		e.writeByte(majorSimple<<5 | simpleFalse)
	}
}

// WriteNull writes a null.
func (e *Encoder) WriteNull() {
	e.writeByte(majorSimple<<5 | simpleNull)
}
