package proof

import (
	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/trusterr"
	"github.com/aspect-build/sealrun/internal/wire"
)

// UploadResult is the outcome of an upload.
type UploadResult struct {
	Artifact
	ModelID   string
	ModelHash []byte
}

// RunResult is the outcome of a run.
type RunResult struct {
	Artifact
	ModelID string
	Outputs []tensor.Tensor
}

// DeleteResult is the outcome of a delete.
type DeleteResult struct {
	Artifact
	ModelID string
}

// FromReply wraps a reply with the evidence of the session that received
// it. An unsigned reply keeps its payload but no signature.
func FromReply(r wire.SignedReply, ev *attestation.Evidence) Artifact {
	a := Artifact{Payload: r.Payload, Attestation: ev.Clone()}
	if len(r.Signature) > 0 {
		a.Signature = r.Signature
	}
	return a
}

func decode(a Artifact) (wire.Payload, error) {
	p, err := wire.UnmarshalPayload(a.Payload)
	if err != nil {
		return wire.Payload{}, trusterr.Encoding("%v", err)
	}
	return p, nil
}

// LoadUpload rebuilds an upload result from an artifact.
func LoadUpload(a Artifact) (*UploadResult, error) {
	p, err := decode(a)
	if err != nil {
		return nil, err
	}
	if p.SendModel == nil {
		return nil, trusterr.Encoding("payload is not an upload response")
	}
	return &UploadResult{Artifact: a, ModelID: p.SendModel.ModelID, ModelHash: p.SendModel.ModelHash}, nil
}

// LoadRun rebuilds a run result from an artifact. Output tensors are checked
// against their declared shapes.
func LoadRun(a Artifact) (*RunResult, error) {
	p, err := decode(a)
	if err != nil {
		return nil, err
	}
	if p.RunModel == nil {
		return nil, trusterr.Encoding("payload is not a run response")
	}
	for _, t := range p.RunModel.OutputTensors {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return &RunResult{Artifact: a, ModelID: p.RunModel.ModelID, Outputs: p.RunModel.OutputTensors}, nil
}

// LoadDelete rebuilds a delete result from an artifact.
func LoadDelete(a Artifact) (*DeleteResult, error) {
	p, err := decode(a)
	if err != nil {
		return nil, err
	}
	if p.DeleteModel == nil {
		return nil, trusterr.Encoding("payload is not a delete response")
	}
	return &DeleteResult{Artifact: a, ModelID: p.DeleteModel.ModelID}, nil
}

// Kind names the operation an artifact answers: "upload", "run" or "delete".
func Kind(a Artifact) (string, error) {
	p, err := decode(a)
	if err != nil {
		return "", err
	}
	switch {
	case p.SendModel != nil:
		return "upload", nil
	case p.RunModel != nil:
		return "run", nil
	case p.DeleteModel != nil:
		return "delete", nil
	}
	return "", trusterr.Encoding("payload carries no operation")
}
