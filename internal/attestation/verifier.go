package attestation

import "context"

// Verifier checks attestation evidence cryptographically and returns the
// claims it proves. Policy evaluation is left to the caller.
//
// The production implementation is the dstack RA-TLS verifier (build tag
// ratls); tests substitute fakes.
type Verifier interface {
	Verify(ctx context.Context, ev Evidence) (Claims, error)
}

// Collector fetches the local enclave's evidence from the TEE runtime.
// Servers use it to answer the quote call on the discovery channel.
type Collector interface {
	Collect(ctx context.Context) (Evidence, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, ev Evidence) (Claims, error)

func (f VerifierFunc) Verify(ctx context.Context, ev Evidence) (Claims, error) {
	return f(ctx, ev)
}
