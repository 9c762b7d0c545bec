package tensor

import "math"

// Cast converts t to dt, keeping its shape. Floats are truncated toward zero
// and saturate at the bounds of integer types; NaN becomes 0.
func Cast(t Tensor, dt DatumType) (Tensor, error) {
	if _, err := dt.Width(); err != nil {
		return Tensor{}, err
	}
	if t.Info.DatumType == dt {
		out := t
		out.Info.Dims = t.Shape()
		out.Data = append([]byte(nil), t.Data...)
		return out, nil
	}
	vals, err := t.Values()
	if err != nil {
		return Tensor{}, err
	}
	f, err := ToFloat64(vals)
	if err != nil {
		return Tensor{}, err
	}
	if lo, hi, ok := intBounds(dt); ok {
		for i, v := range f {
			switch {
			case math.IsNaN(v):
				f[i] = 0
			case v <= lo:
				f[i] = lo
			case v >= hi:
				f[i] = hi
			default:
				f[i] = math.Trunc(v)
			}
		}
	}
	conv, err := FromFloat64(f, dt)
	if err != nil {
		return Tensor{}, err
	}
	out, err := New(conv, dt, t.Info.Dims)
	if err != nil {
		return Tensor{}, err
	}
	out.Info.Index = t.Info.Index
	out.Info.Name = t.Info.Name
	return out, nil
}

// intBounds returns the representable float64 range of an integer type. The
// 64-bit upper bounds are stepped down to the largest float64 that still
// converts exactly.
func intBounds(dt DatumType) (lo, hi float64, ok bool) {
	switch dt {
	case I8:
		return math.MinInt8, math.MaxInt8, true
	case I16:
		return math.MinInt16, math.MaxInt16, true
	case I32:
		return math.MinInt32, math.MaxInt32, true
	case I64:
		return math.MinInt64, math.Nextafter(math.MaxInt64, 0), true
	case U8:
		return 0, math.MaxUint8, true
	case U16:
		return 0, math.MaxUint16, true
	case U32:
		return 0, math.MaxUint32, true
	case U64:
		return 0, math.Nextafter(math.MaxUint64, 0), true
	}
	return 0, 0, false
}
