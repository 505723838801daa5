package mtp

import (
	"encoding/binary"
	"errors"
	"time"
	"unicode/utf16"
)

var ErrDatasetShort = errors.New("mtp: dataset truncated")

// DatasetWriter appends dataset fields to a growing payload. Strings
// are counted UTF-16LE with a terminating NUL, arrays carry a u32
// element count. Both sides of the protocol build datasets with it.
type DatasetWriter struct {
	b []byte
}

func (w *DatasetWriter) Bytes() []byte { return w.b }

func (w *DatasetWriter) U8(v uint8) {
	w.b = append(w.b, v)
}

func (w *DatasetWriter) U16(v uint16) {
	w.b = binary.LittleEndian.AppendUint16(w.b, v)
}

func (w *DatasetWriter) U32(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *DatasetWriter) U64(v uint64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
}

// Str writes a counted string. The count is in 16-bit units and
// includes the terminator; the empty string is a bare zero count.
func (w *DatasetWriter) Str(s string) {
	if s == "" {
		w.U8(0)
		return
	}
	units := utf16.Encode([]rune(s))
	w.U8(uint8(len(units) + 1))
	for _, u := range units {
		w.U16(u)
	}
	w.U16(0)
}

func (w *DatasetWriter) U16Array(a []uint16) {
	w.U32(uint32(len(a)))
	for _, v := range a {
		w.U16(v)
	}
}

func (w *DatasetWriter) U32Array(a []uint32) {
	w.U32(uint32(len(a)))
	for _, v := range a {
		w.U32(v)
	}
}

// DatasetReader walks dataset fields. The first short read sticks:
// every later field reads as zero and Err reports the truncation.
type DatasetReader struct {
	b   []byte
	off int
	err error
}

func NewDatasetReader(b []byte) *DatasetReader {
	return &DatasetReader{b: b}
}

func (r *DatasetReader) Err() error { return r.err }

func (r *DatasetReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.err = ErrDatasetShort
		return nil
	}
	f := r.b[r.off : r.off+n]
	r.off += n
	return f
}

func (r *DatasetReader) U8() uint8 {
	f := r.take(1)
	if f == nil {
		return 0
	}
	return f[0]
}

func (r *DatasetReader) U16() uint16 {
	f := r.take(2)
	if f == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(f)
}

func (r *DatasetReader) U32() uint32 {
	f := r.take(4)
	if f == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(f)
}

func (r *DatasetReader) Str() string {
	n := int(r.U8())
	if n == 0 {
		return ""
	}
	f := r.take(2 * n)
	if f == nil {
		return ""
	}
	units := make([]uint16, n-1)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(f[2*i:])
	}
	return string(utf16.Decode(units))
}

// U16ArrayField reads a counted u16 array. A count running past the
// buffer is a truncation, not an allocation.
func (r *DatasetReader) U16ArrayField() []uint16 {
	n := int(r.U32())
	if n > (len(r.b)-r.off)/2 {
		r.err = ErrDatasetShort
		return nil
	}
	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.U16())
	}
	return out
}

// U32ArrayField reads a counted u32 array.
func (r *DatasetReader) U32ArrayField() []uint32 {
	n := int(r.U32())
	if n > (len(r.b)-r.off)/4 {
		r.err = ErrDatasetShort
		return nil
	}
	out := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.U32())
	}
	return out
}

// ptpDateTime renders t in the protocol's date format. The zero time is
// the empty string so absent dates stay absent.
func ptpDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("20060102T150405")
}
