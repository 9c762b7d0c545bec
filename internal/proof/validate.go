package proof

import (
	"bytes"
	"context"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/logx"
	"github.com/aspect-build/sealrun/internal/policy"
	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/trusterr"
	"github.com/aspect-build/sealrun/internal/wire"
)

const phaseValidate = "validate"

// Expectation is the request-side data a response must be bound to. Each
// operation supplies its own payload check.
type Expectation interface {
	check(p wire.Payload) error
}

// ExpectUpload binds an upload response to the SHA-256 of the model bytes.
type ExpectUpload struct {
	ModelHash []byte
}

func (e ExpectUpload) check(p wire.Payload) error {
	if p.SendModel == nil {
		return trusterr.Signature(phaseValidate, "payload is not an upload response")
	}
	if !bytes.Equal(e.ModelHash, p.SendModel.ModelHash) {
		return trusterr.Signature(phaseValidate, "invalid returned model_hash: expected %x, got %x", e.ModelHash, p.SendModel.ModelHash)
	}
	return nil
}

// ExpectRun binds a run response to the model id and the input tensors.
type ExpectRun struct {
	ModelID string
	Inputs  []tensor.Tensor
}

func (e ExpectRun) check(p wire.Payload) error {
	if p.RunModel == nil {
		return trusterr.Signature(phaseValidate, "payload is not a run response")
	}
	want := tensor.InputHash(e.Inputs)
	if !bytes.Equal(want, p.RunModel.InputHash) {
		return trusterr.Signature(phaseValidate, "invalid returned input_hash: expected %x, got %x", want, p.RunModel.InputHash)
	}
	if e.ModelID != p.RunModel.ModelID {
		return trusterr.Signature(phaseValidate, "invalid returned model_id: expected %s, got %s", e.ModelID, p.RunModel.ModelID)
	}
	return nil
}

// ExpectDelete binds a delete response to the model id.
type ExpectDelete struct {
	ModelID string
}

func (e ExpectDelete) check(p wire.Payload) error {
	if p.DeleteModel == nil {
		return trusterr.Signature(phaseValidate, "payload is not a delete response")
	}
	if e.ModelID != p.DeleteModel.ModelID {
		return trusterr.Signature(phaseValidate, "invalid returned model_id: expected %s, got %s", e.ModelID, p.DeleteModel.ModelID)
	}
	return nil
}

// ValidateOptions controls how much of the trust chain Validate re-derives.
type ValidateOptions struct {
	// ValidateQuote re-verifies the retained attestation evidence against
	// Policy (or PolicyFile) and derives the signing key from it.
	ValidateQuote bool
	Policy        *policy.Policy
	PolicyFile    string
	Verifier      attestation.Verifier
	// SigningKey is used when the quote is not re-validated.
	SigningKey *attestation.SigningKey
	// AllowSimulation accepts responses that carry no attestation.
	AllowSimulation bool
}

// Validate proves that a came from the attested enclave and is bound to the
// request described by expect. Nothing is cached; every call starts from the
// raw bytes.
func (a *Artifact) Validate(ctx context.Context, expect Expectation, opts ValidateOptions) error {
	if !a.IsSigned() {
		return trusterr.Signature(phaseValidate, "response is not signed")
	}
	if a.IsSimulation() && !opts.AllowSimulation {
		return trusterr.Signature(phaseValidate, "response was produced in simulation mode and simulation mode is not allowed")
	}

	key := opts.SigningKey
	if opts.ValidateQuote && !a.IsSimulation() {
		pol := opts.Policy
		if pol == nil && opts.PolicyFile != "" {
			var err error
			if pol, err = policy.Load(opts.PolicyFile); err != nil {
				return err
			}
		}
		if pol == nil {
			return trusterr.Config(phaseValidate, nil, "quote validation requires a policy")
		}
		k, _, err := AttestKey(ctx, opts.Verifier, *a.Attestation, pol)
		if err != nil {
			return err
		}
		key = k
	}

	switch {
	case key != nil:
		if err := key.Verify(a.Payload, a.Signature); err != nil {
			return trusterr.Signature(phaseValidate, "invalid signature")
		}
	case a.IsSimulation():
		logx.Debugf("validate: simulation response without signing key, skipping signature check")
	default:
		return trusterr.Signature(phaseValidate, "no enclave signing key to verify the signature with")
	}

	p, err := wire.UnmarshalPayload(a.Payload)
	if err != nil {
		return trusterr.Signature(phaseValidate, "malformed payload: %v", err)
	}
	return expect.check(p)
}

// AttestKey verifies ev, enforces pol on the verified claims, and returns the
// signing key of the certificate the claims vouch for.
func AttestKey(ctx context.Context, v attestation.Verifier, ev attestation.Evidence, pol *policy.Policy) (*attestation.SigningKey, attestation.Claims, error) {
	if v == nil {
		v = attestation.NewRATLSVerifier()
	}
	claims, err := v.Verify(ctx, ev)
	if err != nil {
		return nil, attestation.Claims{}, trusterr.Attestation("attestation", err, "evidence verification failed")
	}
	if err := pol.Check(claims); err != nil {
		return nil, attestation.Claims{}, err
	}
	if len(claims.ServerCertPEM) == 0 {
		return nil, attestation.Claims{}, trusterr.Attestation("attestation", nil, "verified claims carry no server certificate")
	}
	key, err := attestation.SigningKeyFromPEM(claims.ServerCertPEM)
	if err != nil {
		return nil, attestation.Claims{}, trusterr.Attestation("attestation", err, "derive enclave signing key")
	}
	return key, claims, nil
}
