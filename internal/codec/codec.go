// Package codec decodes the compact binary layout used for all
// chain-sourced records. Decoding is pure: a failure never leaves partial
// state behind, and callers are expected to skip the offending item and
// continue. Record payloads are length-prefixed so that fields or whole
// record kinds introduced by newer runtime versions are skipped rather
// than rejected.
package codec

import (
	"encoding/binary"
	"fmt"
)

// DecodeError reports a malformed or truncated input together with the
// byte offset where decoding stopped.
type DecodeError struct {
	Reason string
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s at offset %d", e.Reason, e.Offset)
}

func errAt(off int, format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...), Offset: off}
}

// Reader is a cursor over an immutable byte slice.
type Reader struct {
	data []byte
	off  int
}

// NewReader wraps raw bytes for decoding. The slice is not copied; the
// caller must not mutate it while the reader is in use.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the current cursor position.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, errAt(r.off, "unexpected end of input reading byte")
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

// Bytes reads exactly n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, errAt(r.off, "negative length %d", n)
	}
	if r.Remaining() < n {
		return nil, errAt(r.off, "unexpected end of input: need %d bytes, have %d", n, r.Remaining())
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out, nil
}

// Skip advances the cursor by n bytes without interpreting them.
func (r *Reader) Skip(n int) error {
	_, err := r.Bytes(n)
	return err
}

// Uint32 reads a fixed-width little-endian u32.
func (r *Reader) Uint32() (uint32, error) {
	raw, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// Uint64 reads a fixed-width little-endian u64.
func (r *Reader) Uint64() (uint64, error) {
	raw, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// CompactUint reads a SCALE compact-encoded unsigned integer. The two low
// bits of the first byte select the mode: single byte, two bytes, four
// bytes, or a length-prefixed big integer (supported up to 8 bytes here).
func (r *Reader) CompactUint() (uint64, error) {
	start := r.off
	first, err := r.Byte()
	if err != nil {
		return 0, err
	}
	switch first & 0b11 {
	case 0b00:
		return uint64(first >> 2), nil
	case 0b01:
		second, err := r.Byte()
		if err != nil {
			return 0, err
		}
		v := (uint64(first) | uint64(second)<<8) >> 2
		if v < 64 {
			return 0, errAt(start, "non-canonical two-byte compact %d", v)
		}
		return v, nil
	case 0b10:
		rest, err := r.Bytes(3)
		if err != nil {
			return 0, err
		}
		v := (uint64(first) | uint64(rest[0])<<8 | uint64(rest[1])<<16 | uint64(rest[2])<<24) >> 2
		if v < 1<<14 {
			return 0, errAt(start, "non-canonical four-byte compact %d", v)
		}
		return v, nil
	default:
		n := int(first>>2) + 4
		if n > 8 {
			return 0, errAt(start, "compact big integer of %d bytes exceeds u64", n)
		}
		raw, err := r.Bytes(n)
		if err != nil {
			return 0, err
		}
		var v uint64
		for i, b := range raw {
			v |= uint64(b) << (8 * i)
		}
		if v < 1<<30 {
			return 0, errAt(start, "non-canonical big-integer compact %d", v)
		}
		return v, nil
	}
}

// Writer builds the same layout the Reader consumes. It backs checkpoint
// snapshots and test fixtures.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated output.
func (w *Writer) Bytes() []byte { return w.buf }

// Byte appends a single byte.
func (w *Writer) Byte(b byte) { w.buf = append(w.buf, b) }

// Raw appends raw bytes verbatim.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Uint32 appends a fixed-width little-endian u32.
func (w *Writer) Uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// Uint64 appends a fixed-width little-endian u64.
func (w *Writer) Uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// CompactUint appends a SCALE compact-encoded unsigned integer.
func (w *Writer) CompactUint(v uint64) {
	switch {
	case v < 64:
		w.Byte(byte(v) << 2)
	case v < 1<<14:
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v)<<2|0b01)
	case v < 1<<30:
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v)<<2|0b10)
	default:
		n := 0
		for tmp := v; tmp > 0; tmp >>= 8 {
			n++
		}
		w.Byte(byte(n-4)<<2 | 0b11)
		for i := 0; i < n; i++ {
			w.Byte(byte(v >> (8 * i)))
		}
	}
}
