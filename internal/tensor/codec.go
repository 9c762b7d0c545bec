// Package tensor encodes flat numeric tensors into the fixed-width little
// endian layout used on the wire and splits the result into bounded chunks
// for streamed transmission.
package tensor

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/aspect-build/sealrun/internal/trusterr"
)

// DefaultChunkSize bounds a single streamed message payload.
const DefaultChunkSize = 32 * 1024

// Codec serializes tensors with a fixed chunk limit.
type Codec struct {
	ChunkSize int
}

var defaultCodec = Codec{ChunkSize: DefaultChunkSize}

// Serialize encodes values with the default chunk limit.
func Serialize(values any, dt DatumType) ([][]byte, error) {
	return defaultCodec.Serialize(values, dt)
}

// Serialize encodes values as dt and splits the bytes into chunks no larger
// than c.ChunkSize. The concatenation of the chunks equals Encode(values, dt).
func (c Codec) Serialize(values any, dt DatumType) ([][]byte, error) {
	raw, err := Encode(values, dt)
	if err != nil {
		return nil, err
	}
	return Chunk(raw, c.ChunkSize), nil
}

// Chunk splits data into consecutive slices of at most limit bytes. The
// returned chunks alias data. An empty input yields no chunks.
func Chunk(data []byte, limit int) [][]byte {
	if limit <= 0 {
		limit = DefaultChunkSize
	}
	if len(data) == 0 {
		return nil
	}
	n := (len(data) + limit - 1) / limit
	out := make([][]byte, 0, n)
	for start := 0; start < len(data); start += limit {
		end := start + limit
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[start:end:end])
	}
	return out
}

// Encode flattens values into the byte width implied by dt. values must be
// the slice type matching dt ([]float32 for F32, []bool for Bool, ...);
// []float64 is also accepted for every type and converted first.
func Encode(values any, dt DatumType) ([]byte, error) {
	if _, err := dt.Width(); err != nil {
		return nil, err
	}
	if f, ok := values.([]float64); ok && dt != F64 {
		conv, err := FromFloat64(f, dt)
		if err != nil {
			return nil, err
		}
		values = conv
	}
	if !matches(values, dt) {
		return nil, trusterr.Encoding("values of type %T cannot be encoded as %s", values, dt)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		return nil, trusterr.Encoding("encode %s: %v", dt, err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. It returns the slice type matching dt.
func Decode(b []byte, dt DatumType) (any, error) {
	w, err := dt.Width()
	if err != nil {
		return nil, err
	}
	if len(b)%w != 0 {
		return nil, trusterr.Encoding("%d bytes is not a multiple of the %s width %d", len(b), dt, w)
	}
	n := len(b) / w
	var out any
	switch dt {
	case F32:
		out = make([]float32, n)
	case F64:
		out = make([]float64, n)
	case I32:
		out = make([]int32, n)
	case I64:
		out = make([]int64, n)
	case U32:
		out = make([]uint32, n)
	case U64:
		out = make([]uint64, n)
	case U8:
		out = make([]uint8, n)
	case U16:
		out = make([]uint16, n)
	case I8:
		out = make([]int8, n)
	case I16:
		out = make([]int16, n)
	case Bool:
		out = make([]bool, n)
	}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, out); err != nil {
		return nil, trusterr.Encoding("decode %s: %v", dt, err)
	}
	return out, nil
}

func matches(values any, dt DatumType) bool {
	switch values.(type) {
	case []float32:
		return dt == F32
	case []float64:
		return dt == F64
	case []int32:
		return dt == I32
	case []int64:
		return dt == I64
	case []uint32:
		return dt == U32
	case []uint64:
		return dt == U64
	case []uint8:
		return dt == U8
	case []uint16:
		return dt == U16
	case []int8:
		return dt == I8
	case []int16:
		return dt == I16
	case []bool:
		return dt == Bool
	}
	return false
}

// FromFloat64 converts plain numbers (as parsed from JSON) into the slice
// type matching dt. Integer types reject fractional or out-of-range input.
func FromFloat64(vals []float64, dt DatumType) (any, error) {
	switch dt {
	case F32:
		out := make([]float32, len(vals))
		for i, v := range vals {
			out[i] = float32(v)
		}
		return out, nil
	case F64:
		return append([]float64(nil), vals...), nil
	case Bool:
		out := make([]bool, len(vals))
		for i, v := range vals {
			out[i] = v != 0
		}
		return out, nil
	}

	// hi is exclusive: the 64-bit maxima are not representable as float64
	// and round up to the next power of two.
	var lo, hi float64
	switch dt {
	case I8:
		lo, hi = math.MinInt8, math.MaxInt8+1
	case I16:
		lo, hi = math.MinInt16, math.MaxInt16+1
	case I32:
		lo, hi = math.MinInt32, math.MaxInt32+1
	case I64:
		lo, hi = math.MinInt64, 0x1p63
	case U8:
		lo, hi = 0, math.MaxUint8+1
	case U16:
		lo, hi = 0, math.MaxUint16+1
	case U32:
		lo, hi = 0, math.MaxUint32+1
	case U64:
		lo, hi = 0, 0x1p64
	default:
		return nil, trusterr.Encoding("unsupported datum type tag %d", uint32(dt))
	}
	for i, v := range vals {
		if v != math.Trunc(v) || v < lo || v >= hi {
			return nil, trusterr.Encoding("value %v at index %d is not representable as %s", v, i, dt)
		}
	}

	switch dt {
	case I8:
		return convertInts[int8](vals), nil
	case I16:
		return convertInts[int16](vals), nil
	case I32:
		return convertInts[int32](vals), nil
	case I64:
		return convertInts[int64](vals), nil
	case U8:
		return convertInts[uint8](vals), nil
	case U16:
		return convertInts[uint16](vals), nil
	case U32:
		return convertInts[uint32](vals), nil
	default:
		return convertInts[uint64](vals), nil
	}
}

func convertInts[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64](vals []float64) []T {
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = T(v)
	}
	return out
}

// ToFloat64 widens a decoded slice for display. Bools map to 0 and 1.
func ToFloat64(values any) ([]float64, error) {
	switch v := values.(type) {
	case []float32:
		return widen(v), nil
	case []float64:
		return append([]float64(nil), v...), nil
	case []int32:
		return widen(v), nil
	case []int64:
		return widen(v), nil
	case []uint32:
		return widen(v), nil
	case []uint64:
		return widen(v), nil
	case []uint8:
		return widen(v), nil
	case []uint16:
		return widen(v), nil
	case []int8:
		return widen(v), nil
	case []int16:
		return widen(v), nil
	case []bool:
		out := make([]float64, len(v))
		for i, b := range v {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	}
	return nil, trusterr.Encoding("unsupported value type %T", values)
}

func widen[T float32 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
