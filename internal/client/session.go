package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/logx"
	"github.com/aspect-build/sealrun/internal/policy"
	"github.com/aspect-build/sealrun/internal/proof"
	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/trusterr"
	"github.com/aspect-build/sealrun/internal/wire"
)

// Session is an open attested connection. It is safe for concurrent use.
// After Close every operation fails with an invalid state error.
type Session struct {
	mu     sync.RWMutex
	closed bool

	ch            *channel
	key           *attestation.SigningKey
	evidence      *attestation.Evidence
	policy        *policy.Policy
	simulation    bool
	serverVersion string
	info          wire.ClientInfo
	codec         tensor.Codec
}

// snapshot is what an operation needs once it is past the state check.
type snapshot struct {
	ch         *channel
	key        *attestation.SigningKey
	evidence   *attestation.Evidence
	simulation bool
	info       wire.ClientInfo
	codec      tensor.Codec
}

func (s *Session) open(phase string) (snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return snapshot{}, trusterr.InvalidState(phase, "session is closed")
	}
	return snapshot{
		ch:         s.ch,
		key:        s.key,
		evidence:   s.evidence,
		simulation: s.simulation,
		info:       s.info,
		codec:      s.codec,
	}, nil
}

func (sn snapshot) validate(ctx context.Context, a *proof.Artifact, expect proof.Expectation) error {
	return a.Validate(ctx, expect, proof.ValidateOptions{
		SigningKey:      sn.key,
		AllowSimulation: sn.simulation,
	})
}

// UploadOptions describes the model being uploaded.
type UploadOptions struct {
	// ModelName defaults to the file base name for UploadModelFile.
	ModelName string
	// ModelID asks the server for a specific id instead of a random one.
	ModelID string
	// Save asks the server to keep the model sealed at rest.
	Save bool
	Sign bool

	// Inputs and Outputs declare the model's tensors. When Inputs is empty a
	// single input of Shape and DatumType is declared if Shape is set; when
	// Outputs is empty a single output of OutputType is declared.
	Inputs     []wire.TensorFacts
	Outputs    []tensor.DatumType
	Shape      []uint64
	DatumType  tensor.DatumType
	OutputType tensor.DatumType
}

func (o UploadOptions) facts() ([]wire.TensorFacts, []tensor.DatumType, error) {
	inputs := o.Inputs
	if len(inputs) == 0 && o.Shape != nil {
		inputs = []wire.TensorFacts{{Dims: o.Shape, DatumType: o.DatumType}}
	}
	out := make([]wire.TensorFacts, len(inputs))
	for i, f := range inputs {
		if !f.DatumType.Valid() {
			return nil, nil, trusterr.Encoding("input %d: unknown datum type %d", i, f.DatumType)
		}
		f.Index = i
		out[i] = f
	}
	outputs := o.Outputs
	if len(outputs) == 0 {
		outputs = []tensor.DatumType{o.OutputType}
	}
	for i, dt := range outputs {
		if !dt.Valid() {
			return nil, nil, trusterr.Encoding("output %d: unknown datum type %d", i, dt)
		}
	}
	return out, outputs, nil
}

// UploadModelFile reads an ONNX model from path and uploads it.
func (s *Session) UploadModelFile(ctx context.Context, path string, opts UploadOptions) (*proof.UploadResult, error) {
	if _, err := s.open("upload"); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, trusterr.Config("upload", err, "read model file %s", path)
	}
	if opts.ModelName == "" {
		opts.ModelName = filepath.Base(path)
	}
	return s.UploadModel(ctx, data, opts)
}

// UploadModel streams model to the enclave in chunks. A signed reply is
// bound to SHA-256(model).
func (s *Session) UploadModel(ctx context.Context, model []byte, opts UploadOptions) (*proof.UploadResult, error) {
	const phase = "upload"
	sn, err := s.open(phase)
	if err != nil {
		return nil, err
	}
	if len(model) == 0 {
		return nil, trusterr.Config(phase, nil, "model is empty")
	}
	inputs, outputs, err := opts.facts()
	if err != nil {
		return nil, err
	}

	chunks := tensor.Chunk(model, sn.codec.ChunkSize)
	body := wire.StreamBody(func(send func(any) error) error {
		for _, chunk := range chunks {
			if err := send(wire.SendModelRequest{
				Length:        uint64(len(model)),
				Data:          chunk,
				Sign:          opts.Sign,
				ModelID:       opts.ModelID,
				ModelName:     opts.ModelName,
				TensorInputs:  inputs,
				TensorOutputs: outputs,
				SaveModel:     opts.Save,
				ClientInfo:    sn.info,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	defer body.Close()

	var reply wire.SignedReply
	if err := sn.ch.do(ctx, phase, http.MethodPost, wire.PathModels, wire.ContentTypeNDJSON, body, &reply); err != nil {
		return nil, err
	}
	a := proof.FromReply(reply, sn.evidence)
	if opts.Sign {
		sum := sha256.Sum256(model)
		if err := sn.validate(ctx, &a, proof.ExpectUpload{ModelHash: sum[:]}); err != nil {
			return nil, err
		}
	}
	res, err := proof.LoadUpload(a)
	if err != nil {
		return nil, err
	}
	logx.Debugf("uploaded model %s (%d bytes, %d chunks, signed=%v)", res.ModelID, len(model), len(chunks), a.IsSigned())
	return res, nil
}

// RunModel streams the input tensors, one chunk per message, and returns the
// outputs. A signed reply is bound to the model id and the input hash.
func (s *Session) RunModel(ctx context.Context, modelID string, inputs []tensor.Tensor, sign bool) (*proof.RunResult, error) {
	const phase = "run"
	sn, err := s.open(phase)
	if err != nil {
		return nil, err
	}
	if modelID == "" {
		return nil, trusterr.Config(phase, nil, "model id is required")
	}
	if len(inputs) == 0 {
		return nil, trusterr.Encoding("at least one input tensor is required")
	}
	for i := range inputs {
		if err := inputs[i].Validate(); err != nil {
			return nil, err
		}
	}

	body := wire.StreamBody(func(send func(any) error) error {
		for i, t := range inputs {
			info := t.Info
			info.Index = i
			chunks := tensor.Chunk(t.Data, sn.codec.ChunkSize)
			if len(chunks) == 0 {
				chunks = [][]byte{{}}
			}
			for _, chunk := range chunks {
				if err := send(wire.RunModelRequest{
					ModelID:      modelID,
					InputTensors: []wire.TensorData{{Info: info, BytesData: chunk}},
					Sign:         sign,
					ClientInfo:   sn.info,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	defer body.Close()

	var reply wire.SignedReply
	if err := sn.ch.do(ctx, phase, http.MethodPost, wire.PathRunModel, wire.ContentTypeNDJSON, body, &reply); err != nil {
		return nil, err
	}
	a := proof.FromReply(reply, sn.evidence)
	if sign {
		if err := sn.validate(ctx, &a, proof.ExpectRun{ModelID: modelID, Inputs: inputs}); err != nil {
			return nil, err
		}
	}
	return proof.LoadRun(a)
}

// DeleteModel removes a model from the enclave.
func (s *Session) DeleteModel(ctx context.Context, modelID string, sign bool) (*proof.DeleteResult, error) {
	const phase = "delete"
	sn, err := s.open(phase)
	if err != nil {
		return nil, err
	}
	if modelID == "" {
		return nil, trusterr.Config(phase, nil, "model id is required")
	}
	req, err := json.Marshal(wire.DeleteModelRequest{ModelID: modelID, Sign: sign, ClientInfo: sn.info})
	if err != nil {
		return nil, trusterr.Encoding("encode delete request: %v", err)
	}
	var reply wire.SignedReply
	path := wire.PathModels + "/" + url.PathEscape(modelID)
	if err := sn.ch.do(ctx, phase, http.MethodDelete, path, "application/json", bytes.NewReader(req), &reply); err != nil {
		return nil, err
	}
	a := proof.FromReply(reply, sn.evidence)
	if sign {
		if err := sn.validate(ctx, &a, proof.ExpectDelete{ModelID: modelID}); err != nil {
			return nil, err
		}
	}
	return proof.LoadDelete(a)
}

// Close releases the channel and forgets the session's trust material.
// Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ch != nil {
		s.ch.close()
	}
	s.ch = nil
	s.key = nil
	s.evidence = nil
	s.policy = nil
	s.serverVersion = ""
	return nil
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) ServerVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverVersion
}

func (s *Session) SimulationMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.simulation
}

// Evidence returns a copy of the attestation evidence; nil in simulation
// mode or after Close.
func (s *Session) Evidence() *attestation.Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evidence.Clone()
}

// SigningKey returns the enclave signing key; nil after Close.
func (s *Session) SigningKey() *attestation.SigningKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Policy returns the policy the session was attested against.
func (s *Session) Policy() *policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Session) ClientInfo() wire.ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}
