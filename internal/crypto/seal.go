// Package crypto seals model blobs at rest for the simulation enclave.
//
// Each model gets its own AES-256-GCM key, derived with HKDF-SHA256 from the
// enclave sealing key and the model id. The model id is also bound as
// additional data, so a sealed blob cannot be replayed under another id.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	ivLen     = 12
	gcmTagLen = 16
	keyLen    = 32

	minSealedLen = ivLen + gcmTagLen
)

var sealInfo = []byte("sealrun model sealing v1")

// SealingKey is the enclave-bound root key models are sealed under.
type SealingKey [keyLen]byte

// DeriveSealingKey turns enclave-held secret material (for example the
// enclave private key) into a sealing key.
func DeriveSealingKey(secret []byte) (SealingKey, error) {
	var k SealingKey
	if len(secret) == 0 {
		return k, errors.New("empty sealing secret")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte("sealrun sealing root"))
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return k, fmt.Errorf("derive sealing key: %w", err)
	}
	return k, nil
}

func (k SealingKey) modelAEAD(modelID string) (cipher.AEAD, error) {
	var mk [keyLen]byte
	r := hkdf.New(sha256.New, k[:], []byte(modelID), sealInfo)
	if _, err := io.ReadFull(r, mk[:]); err != nil {
		return nil, fmt.Errorf("derive model key: %w", err)
	}
	block, err := aes.NewCipher(mk[:])
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts a model for storage.
// Output format: iv(12) || ciphertext+tag
func (k SealingKey) Seal(modelID string, plaintext []byte) ([]byte, error) {
	gcm, err := k.modelAEAD(modelID)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}
	ct := gcm.Seal(nil, iv, plaintext, []byte(modelID))

	out := make([]byte, 0, ivLen+len(ct))
	out = append(out, iv...)
	out = append(out, ct...)
	return out, nil
}

// Unseal reverses Seal for the same model id.
func (k SealingKey) Unseal(modelID string, sealed []byte) ([]byte, error) {
	if len(sealed) < minSealedLen {
		return nil, errors.New("sealed blob too short")
	}
	gcm, err := k.modelAEAD(modelID)
	if err != nil {
		return nil, err
	}
	pt, err := gcm.Open(nil, sealed[:ivLen], sealed[ivLen:], []byte(modelID))
	if err != nil {
		return nil, fmt.Errorf("unseal model %s: %w", modelID, err)
	}
	return pt, nil
}
