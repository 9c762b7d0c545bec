package main

import (
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/aspect-build/sealrun/internal/proof"
	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/trusterr"
)

func TestInlineInput(t *testing.T) {
	f := inputFlags{values: "1, 2,3,4", shape: "2,2", dtype: "i32"}
	got, err := f.tensors()
	if err != nil {
		t.Fatalf("tensors: %v", err)
	}
	if len(got) != 1 || got[0].Info.DatumType != tensor.I32 || len(got[0].Data) != 16 {
		t.Fatalf("unexpected tensor %+v", got)
	}

	bad := inputFlags{values: "1.5", dtype: "i32"}
	if _, err := bad.tensors(); !errors.Is(err, trusterr.ErrEncoding) {
		t.Fatalf("fractional int input: want encoding error, got %v", err)
	}
	if _, err := (&inputFlags{}).tensors(); !errors.Is(err, trusterr.ErrConfig) {
		t.Fatalf("missing input: want config error, got %v", err)
	}
}

func TestInputsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.json")
	data := `[{"dims":[2],"datum_type":"f32","values":[1,2]},{"dims":[1],"datum_type":"bool","values":[1]}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := (&inputFlags{file: path}).tensors()
	if err != nil {
		t.Fatalf("tensors: %v", err)
	}
	if len(got) != 2 || got[1].Info.Index != 1 || got[1].Info.DatumType != tensor.Bool {
		t.Fatalf("unexpected tensors %+v", got)
	}

	if _, err := (&inputFlags{file: path, values: "1"}).tensors(); !errors.Is(err, trusterr.ErrConfig) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestVerifyExpectation(t *testing.T) {
	model := []byte("model bytes")
	path := filepath.Join(t.TempDir(), "m.onnx")
	if err := os.WriteFile(path, model, 0o600); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(model)

	f := verifyFlags{modelFile: path}
	e, err := f.expectation("upload")
	if err != nil {
		t.Fatal(err)
	}
	if up, ok := e.(proof.ExpectUpload); !ok || string(up.ModelHash) != string(sum[:]) {
		t.Fatalf("unexpected expectation %#v", e)
	}

	if _, err := (&verifyFlags{}).expectation("delete"); !errors.Is(err, trusterr.ErrConfig) {
		t.Fatalf("delete without model id: want config error, got %v", err)
	}
	if _, err := (&verifyFlags{modelHash: "abcd"}).expectation("upload"); !errors.Is(err, trusterr.ErrConfig) {
		t.Fatalf("short hash: want config error, got %v", err)
	}
}

func TestResolveEnvFallback(t *testing.T) {
	t.Setenv("SEALRUN_ADDR", "enclave.example")
	cmd := &cobra.Command{Use: "x"}
	var conn connFlags
	conn.register(cmd)

	cfg, err := conn.config(cmd)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Addr != "enclave.example" {
		t.Fatalf("addr = %q", cfg.Addr)
	}

	if err := cmd.Flags().Set("addr", "flag.example"); err != nil {
		t.Fatal(err)
	}
	cfg, _ = conn.config(cmd)
	if cfg.Addr != "flag.example" {
		t.Fatalf("flag should win over env, got %q", cfg.Addr)
	}
}
