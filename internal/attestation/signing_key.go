package attestation

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSignature is returned by SigningKey.Verify on a mismatch.
var ErrInvalidSignature = errors.New("invalid signature")

// oidRATLSAppID is the dstack RA-TLS certificate extension carrying the app id.
var oidRATLSAppID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 62397, 1, 3}

// SigningKey is the public key the enclave signs response payloads with. It
// is the public key of the certificate the attested channel presents.
type SigningKey struct {
	pub crypto.PublicKey
	// AppID is the RA-TLS app id extension of the certificate, if any.
	AppID string
}

// SigningKeyFromCertificate extracts the enclave signing key from cert.
// Ed25519 and ECDSA P-256/P-384 keys are supported.
func SigningKeyFromCertificate(cert *x509.Certificate) (*SigningKey, error) {
	switch pub := cert.PublicKey.(type) {
	case ed25519.PublicKey:
		return &SigningKey{pub: pub, AppID: certAppID(cert)}, nil
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() && pub.Curve != elliptic.P384() {
			return nil, fmt.Errorf("unsupported ECDSA curve %s", pub.Curve.Params().Name)
		}
		return &SigningKey{pub: pub, AppID: certAppID(cert)}, nil
	default:
		return nil, fmt.Errorf("unsupported certificate key type %T", cert.PublicKey)
	}
}

// SigningKeyFromPEM parses the first certificate of a PEM chain.
func SigningKeyFromPEM(pemData []byte) (*SigningKey, error) {
	cert, err := ParseCertificatePEM(pemData)
	if err != nil {
		return nil, err
	}
	return SigningKeyFromCertificate(cert)
}

// SigningKeyFromDER parses a DER certificate.
func SigningKeyFromDER(der []byte) (*SigningKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return SigningKeyFromCertificate(cert)
}

// Verify checks sig over msg. ECDSA signatures are ASN.1 encoded over the
// SHA-256 (P-256) or SHA-384 (P-384) digest of msg.
func (k *SigningKey) Verify(msg, sig []byte) error {
	if k == nil || k.pub == nil {
		return errors.New("no signing key")
	}
	switch pub := k.pub.(type) {
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, msg, sig) {
			return ErrInvalidSignature
		}
	case *ecdsa.PublicKey:
		var digest []byte
		if pub.Curve == elliptic.P384() {
			d := sha512.Sum384(msg)
			digest = d[:]
		} else {
			d := sha256.Sum256(msg)
			digest = d[:]
		}
		if !ecdsa.VerifyASN1(pub, digest, sig) {
			return ErrInvalidSignature
		}
	default:
		return fmt.Errorf("unsupported key type %T", k.pub)
	}
	return nil
}

// Fingerprint is hex(SHA-256(PKIX public key)), for logs.
func (k *SigningKey) Fingerprint() string {
	if k == nil || k.pub == nil {
		return ""
	}
	der, err := x509.MarshalPKIXPublicKey(k.pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// ParseCertificatePEM decodes the first CERTIFICATE block of pemData.
func ParseCertificatePEM(pemData []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("unexpected PEM block type %q (want CERTIFICATE)", block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

// EncodeCertificatePEM wraps DER bytes in a CERTIFICATE block.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func certAppID(cert *x509.Certificate) string {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidRATLSAppID) {
			continue
		}
		var raw []byte
		if _, err := asn1.Unmarshal(ext.Value, &raw); err != nil || len(raw) == 0 {
			continue
		}
		if isPrintableASCII(raw) {
			return strings.TrimSpace(string(raw))
		}
		return hex.EncodeToString(raw)
	}
	return ""
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
