package tensor

import (
	"strings"

	"github.com/aspect-build/sealrun/internal/trusterr"
)

// DatumType is the wire tag of a tensor element type.
type DatumType uint32

const (
	F32 DatumType = iota
	F64
	I32
	I64
	U32
	U64
	U8
	U16
	I8
	I16
	Bool
)

var widths = map[DatumType]int{
	F32:  4,
	F64:  8,
	I32:  4,
	I64:  8,
	U32:  4,
	U64:  8,
	U8:   1,
	U16:  2,
	I8:   1,
	I16:  2,
	Bool: 1,
}

var names = map[DatumType]string{
	F32:  "f32",
	F64:  "f64",
	I32:  "i32",
	I64:  "i64",
	U32:  "u32",
	U64:  "u64",
	U8:   "u8",
	U16:  "u16",
	I8:   "i8",
	I16:  "i16",
	Bool: "bool",
}

var aliases = map[string]DatumType{
	"float32": F32,
	"float":   F32,
	"float64": F64,
	"double":  F64,
	"int32":   I32,
	"int64":   I64,
	"uint32":  U32,
	"uint64":  U64,
	"uint8":   U8,
	"byte":    U8,
	"uint16":  U16,
	"int8":    I8,
	"int16":   I16,
	"boolean": Bool,
}

// Width returns the encoded size of one element in bytes.
func (d DatumType) Width() (int, error) {
	w, ok := widths[d]
	if !ok {
		return 0, trusterr.Encoding("unsupported datum type tag %d", uint32(d))
	}
	return w, nil
}

// Valid reports whether d is one of the known tags.
func (d DatumType) Valid() bool {
	_, ok := widths[d]
	return ok
}

func (d DatumType) String() string {
	if n, ok := names[d]; ok {
		return n
	}
	return "unknown"
}

// ParseDatumType accepts short names (f32, u8, bool) and the longer
// numpy-style spellings (float32, uint8, boolean).
func ParseDatumType(s string) (DatumType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for d, n := range names {
		if n == v {
			return d, nil
		}
	}
	if d, ok := aliases[v]; ok {
		return d, nil
	}
	return 0, trusterr.Encoding("unknown datum type %q", s)
}
