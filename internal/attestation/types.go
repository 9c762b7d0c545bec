package attestation

// Evidence is the attestation material an enclave hands out on the untrusted
// discovery channel.
//
// EnclaveHeldData is the data the enclave bound into the quote's report data;
// for sealrun servers it is the PEM certificate of the attested channel.
type Evidence struct {
	Quote           []byte `json:"quote" cbor:"1,keyasint"`
	Collateral      []byte `json:"collateral" cbor:"2,keyasint"`
	EnclaveHeldData []byte `json:"enclave_held_data" cbor:"3,keyasint"`
}

// Clone returns a deep copy so retained evidence cannot be mutated through
// a caller's slices.
func (e *Evidence) Clone() *Evidence {
	if e == nil {
		return nil
	}
	return &Evidence{
		Quote:           append([]byte(nil), e.Quote...),
		Collateral:      append([]byte(nil), e.Collateral...),
		EnclaveHeldData: append([]byte(nil), e.EnclaveHeldData...),
	}
}

// Claims is the normalized identity extracted from verified evidence.
type Claims struct {
	// ServerCertPEM is the certificate the attested channel must present.
	ServerCertPEM []byte
	// Measurement is the enclave code measurement (MRENCLAVE / MRTD).
	Measurement []byte
	// Signer is the enclave signer identity (MRSIGNER / MROWNER).
	Signer    []byte
	AppID     string
	ProductID uint16
	SVN       uint16
	// ISVUnreported is set when the quote format has no ISV product id or
	// SVN (TDX). ProductID and SVN are then zero and meaningless.
	ISVUnreported bool
	Debug         bool
	// TCBStatus as reported by the quote verification library, e.g. "UpToDate".
	TCBStatus   string
	AdvisoryIDs []string
}
