package tensor

import (
	"crypto/sha256"
	"math/bits"

	"github.com/aspect-build/sealrun/internal/trusterr"
)

// Info describes a tensor: its shape, element type, position among the
// model inputs or outputs, and an optional name.
type Info struct {
	Dims      []uint64  `json:"dims"`
	DatumType DatumType `json:"datum_type"`
	Index     int       `json:"index"`
	Name      string    `json:"index_name,omitempty"`
}

// NumElements is the product of the dims. A scalar (no dims) has one element.
// A product that does not fit in 64 bits is an encoding error.
func (i Info) NumElements() (uint64, error) {
	n := uint64(1)
	for _, d := range i.Dims {
		hi, lo := bits.Mul64(n, d)
		if hi != 0 {
			return 0, trusterr.Encoding("tensor %d: shape %v overflows", i.Index, i.Dims)
		}
		n = lo
	}
	return n, nil
}

// ByteLen is the encoded payload length implied by the shape and type.
func (i Info) ByteLen() (uint64, error) {
	w, err := i.DatumType.Width()
	if err != nil {
		return 0, err
	}
	n, err := i.NumElements()
	if err != nil {
		return 0, err
	}
	hi, lo := bits.Mul64(n, uint64(w))
	if hi != 0 {
		return 0, trusterr.Encoding("tensor %d: shape %v of %s overflows", i.Index, i.Dims, i.DatumType)
	}
	return lo, nil
}

// Tensor is an encoded tensor.
type Tensor struct {
	Info Info   `json:"info"`
	Data []byte `json:"bytes_data"`
}

// New encodes values as dt with the given shape.
func New(values any, dt DatumType, dims []uint64) (Tensor, error) {
	data, err := Encode(values, dt)
	if err != nil {
		return Tensor{}, err
	}
	t := Tensor{
		Info: Info{Dims: append([]uint64(nil), dims...), DatumType: dt},
		Data: data,
	}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// Validate checks that the payload length matches shape × width.
func (t Tensor) Validate() error {
	want, err := t.Info.ByteLen()
	if err != nil {
		return err
	}
	if uint64(len(t.Data)) != want {
		return trusterr.Encoding("tensor %d: shape %v of %s needs %d bytes, have %d",
			t.Info.Index, t.Info.Dims, t.Info.DatumType, want, len(t.Data))
	}
	return nil
}

// Shape returns a copy of the dims.
func (t Tensor) Shape() []uint64 {
	return append([]uint64(nil), t.Info.Dims...)
}

// Values decodes the payload into the slice type matching the datum type.
func (t Tensor) Values() (any, error) {
	return Decode(t.Data, t.Info.DatumType)
}

// Element is the set of Go types a tensor can decode into.
type Element interface {
	float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | bool
}

// As decodes t into []T. It fails when T does not match the datum type.
func As[T Element](t Tensor) ([]T, error) {
	v, err := t.Values()
	if err != nil {
		return nil, err
	}
	out, ok := v.([]T)
	if !ok {
		var zero T
		return nil, trusterr.Encoding("tensor of %s cannot be read as %T", t.Info.DatumType, zero)
	}
	return out, nil
}

// InputHash is the SHA-256 over the chunk sequence of every tensor in order,
// which is what the enclave embeds in a signed run response.
func InputHash(tensors []Tensor) []byte {
	h := sha256.New()
	for _, t := range tensors {
		for _, chunk := range Chunk(t.Data, DefaultChunkSize) {
			h.Write(chunk)
		}
	}
	return h.Sum(nil)
}
