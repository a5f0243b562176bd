package serialize

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Stream layout, little endian:
//
//	header   magic u32 | version u16 | top u8 | pad u8 | rank i32 |
//	         levels u32 | count[4] u32 | size u64
//	elements per kind up to top, in node order:
//	         id i64 | shape u8 | level u32 | parent i32 | descendants u32 |
//	         nv u8 | vertex u32 * nv | ns u8 | side u32 * ns | [coord f64 * 3]
//	links    per kind up to top, per level: n u32, then n times
//	         level u32 | rank i32 | count u32 | entry u32 * count
//	trailer  xxhash64 of everything before it
const (
	magic       uint32 = 0x53444744 // "DGDS"
	version     uint16 = 2
	headerSize         = 40
	trailerSize        = 8
	sizeOffset         = headerSize - 8
)

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) i32(v int)    { w.u32(uint32(int32(v))) }

func (w *writer) f64(v float64) { w.u64(math.Float64bits(v)) }

// reader latches the first error; later reads return zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf)-r.off {
		r.err = errors.Wrapf(ErrCorruptStream, "record at offset %d runs past the frame", r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) i32() int { return int(int32(r.u32())) }

func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *reader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrCorruptStream, format, args...)
	}
}
