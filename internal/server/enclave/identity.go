// Package enclave holds what the simulated enclave owns: its TLS identity,
// which doubles as the response signing key, the model sealing key, and the
// model executor.
package enclave

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/aspect-build/sealrun/internal/attestation"
	scrypto "github.com/aspect-build/sealrun/internal/crypto"
)

// Identity is a TLS certificate and its private key.
type Identity struct {
	TLS    tls.Certificate
	Cert   *x509.Certificate
	signer crypto.Signer
}

// GenerateIdentity creates a self-signed Ed25519 certificate for serverName.
func GenerateIdentity(serverName string, validFor time.Duration) (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return selfSigned(serverName, priv, validFor)
}

// GenerateHostIdentity creates a self-signed ECDSA P-256 certificate for the
// untrusted discovery port.
func GenerateHostIdentity(serverName string, validFor time.Duration) (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return selfSigned(serverName, priv, validFor)
}

func selfSigned(serverName string, priv crypto.Signer, validFor time.Duration) (*Identity, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: serverName},
		DNSNames:              []string{serverName},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, priv.Public(), priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Identity{
		TLS:    tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: cert},
		Cert:   cert,
		signer: priv,
	}, nil
}

// LoadIdentity reads a PEM certificate and key pair.
func LoadIdentity(certFile, keyFile string) (*Identity, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	signer, ok := pair.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key of %s cannot sign", certFile)
	}
	pair.Leaf = cert
	return &Identity{TLS: pair, Cert: cert, signer: signer}, nil
}

// Sign signs payload the way attestation.SigningKey verifies it: Ed25519
// over the message, ECDSA over its SHA-256 or SHA-384 digest.
func (id *Identity) Sign(payload []byte) ([]byte, error) {
	switch k := id.signer.(type) {
	case ed25519.PrivateKey:
		return ed25519.Sign(k, payload), nil
	case *ecdsa.PrivateKey:
		var digest []byte
		if k.Curve == elliptic.P384() {
			d := sha512.Sum384(payload)
			digest = d[:]
		} else {
			d := sha256.Sum256(payload)
			digest = d[:]
		}
		return ecdsa.SignASN1(rand.Reader, k, digest)
	default:
		return nil, fmt.Errorf("unsupported signing key %T", id.signer)
	}
}

// SealingKey derives the model sealing key from the private key, so sealed
// models survive restarts that reuse the same identity files.
func (id *Identity) SealingKey() (scrypto.SealingKey, error) {
	der, err := x509.MarshalPKCS8PrivateKey(id.signer)
	if err != nil {
		return scrypto.SealingKey{}, fmt.Errorf("encode private key: %w", err)
	}
	return scrypto.DeriveSealingKey(der)
}

// WriteCertPEM writes the certificate to path so clients can pin it.
func (id *Identity) WriteCertPEM(path string) error {
	data := attestation.EncodeCertificatePEM(id.Cert.Raw)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write certificate %s: %w", path, err)
	}
	return nil
}

// WriteKeyPEM writes the PKCS#8 private key to path, readable by the owner only.
func (id *Identity) WriteKeyPEM(path string) error {
	der, err := x509.MarshalPKCS8PrivateKey(id.signer)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key %s: %w", path, err)
	}
	return nil
}
