package enclave

import (
	"errors"
	"fmt"

	"github.com/aspect-build/sealrun/internal/server/db"
	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/wire"
)

// ErrBadInputs is returned when run inputs do not match what the model
// declared at upload time.
var ErrBadInputs = errors.New("inputs do not match model")

// Execute runs m over inputs. The simulator has no inference runtime: output
// k echoes input min(k, len(inputs)-1) cast to the k-th declared output type.
// Without declared outputs every input is echoed as-is.
func Execute(m *db.Model, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no input tensors", ErrBadInputs)
	}
	if err := checkInputs(m.Inputs, inputs); err != nil {
		return nil, err
	}

	if len(m.Outputs) == 0 {
		out := make([]tensor.Tensor, len(inputs))
		for i, in := range inputs {
			t, err := tensor.Cast(in, in.Info.DatumType)
			if err != nil {
				return nil, err
			}
			t.Info.Index = i
			out[i] = t
		}
		return out, nil
	}

	out := make([]tensor.Tensor, len(m.Outputs))
	for k, dt := range m.Outputs {
		src := inputs[min(k, len(inputs)-1)]
		t, err := tensor.Cast(src, dt)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", k, err)
		}
		t.Info.Index = k
		t.Info.Name = ""
		out[k] = t
	}
	return out, nil
}

func checkInputs(declared []wire.TensorFacts, inputs []tensor.Tensor) error {
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrBadInputs, err)
		}
	}
	if len(declared) == 0 {
		return nil
	}
	if len(declared) != len(inputs) {
		return fmt.Errorf("%w: model takes %d inputs, got %d", ErrBadInputs, len(declared), len(inputs))
	}
	for i, f := range declared {
		in := inputs[i]
		if f.DatumType != in.Info.DatumType {
			return fmt.Errorf("%w: input %d is %s, model expects %s", ErrBadInputs, i, in.Info.DatumType, f.DatumType)
		}
		if len(f.Dims) > 0 && !sameDims(f.Dims, in.Info.Dims) {
			return fmt.Errorf("%w: input %d has shape %v, model expects %v", ErrBadInputs, i, in.Info.Dims, f.Dims)
		}
	}
	return nil
}

func sameDims(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
