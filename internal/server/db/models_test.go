package db

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/wire"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testModel(id string) *Model {
	return &Model{
		ID:      id,
		Name:    id + ".onnx",
		Hash:    []byte{1, 2, 3},
		Inputs:  []wire.TensorFacts{{Dims: []uint64{2, 2}, DatumType: tensor.F32}},
		Outputs: []tensor.DatumType{tensor.F32},
		Blob:    []byte("model-" + id),
	}
}

func TestModelCRUD(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertModel(testModel("m1"), 0); err != nil {
		t.Fatalf("InsertModel: %v", err)
	}

	got, err := s.GetModel("m1")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got == nil {
		t.Fatal("GetModel returned nil")
	}
	if got.Name != "m1.onnx" || !bytes.Equal(got.Blob, []byte("model-m1")) {
		t.Errorf("got model %+v", got)
	}
	if len(got.Inputs) != 1 || got.Inputs[0].Dims[1] != 2 || got.Outputs[0] != tensor.F32 {
		t.Errorf("tensor facts not round-tripped: %+v %+v", got.Inputs, got.Outputs)
	}

	// Not found
	got, err = s.GetModel("nonexistent")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for nonexistent model")
	}

	if _, err := s.InsertModel(testModel("m1"), 0); err != ErrModelDuplicate {
		t.Fatalf("duplicate insert: got %v, want ErrModelDuplicate", err)
	}

	deleted, err := s.DeleteModel("m1")
	if err != nil || !deleted {
		t.Fatalf("DeleteModel = %v, %v", deleted, err)
	}
	deleted, err = s.DeleteModel("m1")
	if err != nil || deleted {
		t.Fatalf("second DeleteModel = %v, %v", deleted, err)
	}
}

func TestModelFIFOEviction(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		evicted, err := s.InsertModel(testModel(fmt.Sprintf("m%d", i)), 3)
		if err != nil {
			t.Fatalf("InsertModel m%d: %v", i, err)
		}
		if len(evicted) != 0 {
			t.Fatalf("unexpected eviction %v", evicted)
		}
	}

	evicted, err := s.InsertModel(testModel("m3"), 3)
	if err != nil {
		t.Fatalf("InsertModel m3: %v", err)
	}
	if len(evicted) != 1 || evicted[0] != "m0" {
		t.Fatalf("evicted = %v, want [m0]", evicted)
	}

	models, err := s.ListModels()
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	var ids []string
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	if fmt.Sprint(ids) != "[m1 m2 m3]" {
		t.Fatalf("ListModels ids = %v", ids)
	}
}

func TestPurgeUnsealed(t *testing.T) {
	s := newTestStore(t)
	kept := testModel("sealed")
	kept.Sealed = true
	if _, err := s.InsertModel(kept, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertModel(testModel("plain"), 0); err != nil {
		t.Fatal(err)
	}
	n, err := s.PurgeUnsealed()
	if err != nil || n != 1 {
		t.Fatalf("PurgeUnsealed = %d, %v", n, err)
	}
	if m, _ := s.GetModel("sealed"); m == nil || !m.Sealed {
		t.Fatalf("sealed model lost: %+v", m)
	}
}
