package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/trusterr"
)

// tensorFile is one entry of an --inputs JSON file.
type tensorFile struct {
	Dims      []uint64  `json:"dims"`
	DatumType string    `json:"datum_type"`
	Values    []float64 `json:"values"`
}

// inputFlags describe run inputs either inline (one tensor) or from a file.
type inputFlags struct {
	values string
	shape  string
	dtype  string
	file   string
}

func (f *inputFlags) tensors() ([]tensor.Tensor, error) {
	if f.file != "" {
		if f.values != "" {
			return nil, trusterr.Config("config", nil, "--inputs and --input are mutually exclusive")
		}
		return loadTensorFile(f.file)
	}
	if f.values == "" {
		return nil, trusterr.Config("config", nil, "input required: use --input or --inputs")
	}
	vals, err := parseFloats(f.values)
	if err != nil {
		return nil, err
	}
	dims := []uint64{uint64(len(vals))}
	if f.shape != "" {
		if dims, err = parseShape(f.shape); err != nil {
			return nil, err
		}
	}
	t, err := buildTensor(vals, f.dtype, dims)
	if err != nil {
		return nil, err
	}
	return []tensor.Tensor{t}, nil
}

func loadTensorFile(path string) ([]tensor.Tensor, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, trusterr.Config("config", err, "read inputs file %s", path)
	}
	var entries []tensorFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, trusterr.Encoding("parse inputs file %s: %v", path, err)
	}
	if len(entries) == 0 {
		return nil, trusterr.Encoding("inputs file %s holds no tensors", path)
	}
	out := make([]tensor.Tensor, len(entries))
	for i, e := range entries {
		t, err := buildTensor(e.Values, e.DatumType, e.Dims)
		if err != nil {
			return nil, err
		}
		t.Info.Index = i
		out[i] = t
	}
	return out, nil
}

func buildTensor(vals []float64, dtype string, dims []uint64) (tensor.Tensor, error) {
	dt := tensor.F32
	if dtype != "" {
		var err error
		if dt, err = tensor.ParseDatumType(dtype); err != nil {
			return tensor.Tensor{}, err
		}
	}
	conv, err := tensor.FromFloat64(vals, dt)
	if err != nil {
		return tensor.Tensor{}, err
	}
	return tensor.New(conv, dt, dims)
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, trusterr.Encoding("invalid value %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseShape(s string) ([]uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, trusterr.Encoding("invalid dimension %q", p)
		}
		out[i] = v
	}
	return out, nil
}

func formatValues(t tensor.Tensor) (string, error) {
	vals, err := t.Values()
	if err != nil {
		return "", err
	}
	f, err := tensor.ToFloat64(vals)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(f))
	for i, v := range f {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}
