package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomSealingKey(t *testing.T) SealingKey {
	t.Helper()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatal(err)
	}
	k, err := DeriveSealingKey(secret)
	if err != nil {
		t.Fatalf("DeriveSealingKey: %v", err)
	}
	return k
}

func TestSeal_RoundTrip(t *testing.T) {
	key := randomSealingKey(t)
	model := []byte("onnx model bytes")

	sealed, err := key.Seal("model-1", model)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, model) {
		t.Fatal("sealed blob contains plaintext")
	}
	got, err := key.Unseal("model-1", sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if !bytes.Equal(got, model) {
		t.Fatalf("got %q, want %q", got, model)
	}
}

func TestSeal_WrongKeyOrID(t *testing.T) {
	key := randomSealingKey(t)
	sealed, err := key.Seal("model-1", []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := randomSealingKey(t).Unseal("model-1", sealed); err == nil {
		t.Fatal("expected error unsealing with wrong key")
	}
	if _, err := key.Unseal("model-2", sealed); err == nil {
		t.Fatal("expected error unsealing under another model id")
	}
}

func TestSeal_Tampered(t *testing.T) {
	key := randomSealingKey(t)
	sealed, err := key.Seal("m", []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := key.Unseal("m", sealed); err == nil {
		t.Fatal("expected error for tampered blob")
	}
}

func TestSeal_TooShort(t *testing.T) {
	key := randomSealingKey(t)
	if _, err := key.Unseal("m", make([]byte, minSealedLen-1)); err == nil {
		t.Fatal("expected error for short blob")
	}
}

func TestDeriveSealingKey_Deterministic(t *testing.T) {
	a, err := DeriveSealingKey([]byte("enclave secret"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveSealingKey([]byte("enclave secret"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("derivation is not deterministic")
	}
	if _, err := DeriveSealingKey(nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
