// Package proof holds signed enclave responses and validates them: the
// signature over the payload must come from the attested enclave key, and
// the content descriptor inside the payload must match what the caller sent.
//
// An Artifact can be saved and validated again later, offline, against the
// same request data.
package proof

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/trusterr"
)

// Artifact is a signed response: the raw payload bytes, the signature over
// them, and the attestation evidence of the enclave that produced it. A nil
// Attestation marks a response obtained in simulation mode.
type Artifact struct {
	Payload     []byte                `cbor:"1,keyasint"`
	Signature   []byte                `cbor:"2,keyasint,omitempty"`
	Attestation *attestation.Evidence `cbor:"3,keyasint,omitempty"`
}

func (a *Artifact) IsSimulation() bool { return a.Attestation == nil }

func (a *Artifact) IsSigned() bool { return len(a.Signature) > 0 }

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes the artifact as deterministic CBOR.
func (a *Artifact) Marshal() ([]byte, error) {
	b, err := encMode.Marshal(a)
	if err != nil {
		return nil, trusterr.Encoding("encode proof: %v", err)
	}
	return b, nil
}

// Unmarshal decodes an artifact produced by Marshal.
func Unmarshal(b []byte) (*Artifact, error) {
	var a Artifact
	if err := decMode.Unmarshal(b, &a); err != nil {
		return nil, trusterr.Encoding("decode proof: %v", err)
	}
	return &a, nil
}

// SaveToFile writes the encoded artifact to path.
func (a *Artifact) SaveToFile(path string) error {
	b, err := a.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write proof %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads an artifact saved with SaveToFile.
func LoadFromFile(path string) (*Artifact, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, trusterr.Config("proof", err, "read proof file %s", path)
	}
	return Unmarshal(b)
}
