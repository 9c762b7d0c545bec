package enclave

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aspect-build/sealrun/internal/attestation"
)

func TestIdentitySignaturesVerify(t *testing.T) {
	gens := map[string]func(string, time.Duration) (*Identity, error){
		"ed25519": GenerateIdentity,
		"p256":    GenerateHostIdentity,
	}
	for name, gen := range gens {
		t.Run(name, func(t *testing.T) {
			id, err := gen("sealrun-srv", time.Hour)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if err := id.Cert.VerifyHostname("sealrun-srv"); err != nil {
				t.Fatalf("hostname: %v", err)
			}
			key, err := attestation.SigningKeyFromCertificate(id.Cert)
			if err != nil {
				t.Fatalf("signing key: %v", err)
			}
			msg := []byte(`{"delete_model_payload":{"model_id":"m"}}`)
			sig, err := id.Sign(msg)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if err := key.Verify(msg, sig); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if err := key.Verify(append(msg, ' '), sig); err == nil {
				t.Fatal("tampered message verified")
			}
		})
	}
}

func TestSealingKeyStableAcrossReload(t *testing.T) {
	id, err := GenerateIdentity("sealrun-srv", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certPath := filepath.Join(dir, "enclave.pem")
	keyPath := filepath.Join(dir, "enclave.key")
	if err := id.WriteCertPEM(certPath); err != nil {
		t.Fatal(err)
	}
	if err := id.WriteKeyPEM(keyPath); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadIdentity(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if !bytes.Equal(loaded.Cert.Raw, id.Cert.Raw) {
		t.Fatal("certificate changed across reload")
	}
	a, err := id.SealingKey()
	if err != nil {
		t.Fatal(err)
	}
	b, err := loaded.SealingKey()
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("sealing key changed across reload")
	}

	pemData, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := attestation.ParseCertificatePEM(pemData); err != nil {
		t.Fatalf("written certificate does not parse: %v", err)
	}
}
