// Package wire defines the JSON messages exchanged with a sealrun enclave
// and the routes they travel on.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/tensor"
)

// Routes served on the untrusted discovery port.
const (
	PathServerInfo  = "/v1/untrusted/server-info"
	PathCertificate = "/v1/untrusted/certificate"
	PathQuote       = "/v1/untrusted/quote"
)

// Routes served on the attested port.
const (
	PathHealth    = "/v1/health"
	PathModels    = "/v1/models"
	PathRunModel  = "/v1/models/run"
	PathModelByID = "/v1/models/:id"
)

// ContentTypeNDJSON is the body type of client-streaming calls.
const ContentTypeNDJSON = "application/x-ndjson"

// ClientInfo identifies the calling client. It is attached to every request.
type ClientInfo struct {
	UID              string `json:"uid"`
	PlatformName     string `json:"platform_name"`
	PlatformArch     string `json:"platform_arch"`
	PlatformVersion  string `json:"platform_version"`
	PlatformRelease  string `json:"platform_release"`
	UserAgent        string `json:"user_agent"`
	UserAgentVersion string `json:"user_agent_version"`
}

// ServerInfo is the reply of the server-info call.
type ServerInfo struct {
	Version string `json:"version"`
}

// CertificateReply carries the DER enclave certificate in simulation mode.
type CertificateReply struct {
	EnclaveTLSCertificate []byte `json:"enclave_tls_certificate"`
}

// QuoteReply carries attestation evidence in hardware mode.
type QuoteReply struct {
	attestation.Evidence
}

// TensorFacts describes one declared model input.
type TensorFacts struct {
	Dims      []uint64         `json:"dims"`
	DatumType tensor.DatumType `json:"datum_type"`
	Index     int              `json:"index"`
	Name      string           `json:"index_name,omitempty"`
}

// TensorData is one chunk of one tensor.
type TensorData struct {
	Info      tensor.Info `json:"info"`
	BytesData []byte      `json:"bytes_data"`
}

// SendModelRequest is one message of the upload stream. Every message repeats
// the metadata; Data holds the next chunk of the model.
type SendModelRequest struct {
	Length        uint64             `json:"length"`
	Data          []byte             `json:"data"`
	Sign          bool               `json:"sign"`
	ModelID       string             `json:"model_id,omitempty"`
	ModelName     string             `json:"model_name,omitempty"`
	TensorInputs  []TensorFacts      `json:"tensor_inputs,omitempty"`
	TensorOutputs []tensor.DatumType `json:"tensor_outputs,omitempty"`
	SaveModel     bool               `json:"save_model"`
	ClientInfo    ClientInfo         `json:"client_info"`
}

// RunModelRequest is one message of the run stream; each message carries a
// single chunk of a single input tensor.
type RunModelRequest struct {
	ModelID      string       `json:"model_id"`
	InputTensors []TensorData `json:"input_tensors"`
	Sign         bool         `json:"sign"`
	ClientInfo   ClientInfo   `json:"client_info"`
}

// DeleteModelRequest is the body of a delete call.
type DeleteModelRequest struct {
	ModelID    string     `json:"model_id"`
	Sign       bool       `json:"sign"`
	ClientInfo ClientInfo `json:"client_info"`
}

// SignedReply is the reply of every model operation. Signature is empty when
// the request did not ask for a signature.
type SignedReply struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature,omitempty"`
}

// ErrorReply is the body of a non-2xx reply.
type ErrorReply struct {
	Error string `json:"error"`
}

// Payload is the signed content of a reply. Exactly one member is set.
type Payload struct {
	SendModel   *SendModelPayload   `json:"send_model_payload,omitempty"`
	RunModel    *RunModelPayload    `json:"run_model_payload,omitempty"`
	DeleteModel *DeleteModelPayload `json:"delete_model_payload,omitempty"`
}

type SendModelPayload struct {
	ModelID   string `json:"model_id"`
	ModelHash []byte `json:"model_hash"`
}

type RunModelPayload struct {
	ModelID       string          `json:"model_id"`
	InputHash     []byte          `json:"input_hash"`
	OutputTensors []tensor.Tensor `json:"output_tensors"`
}

type DeleteModelPayload struct {
	ModelID string `json:"model_id"`
}

// MarshalPayload encodes p as the bytes the enclave signs.
func MarshalPayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload decodes signed payload bytes.
func UnmarshalPayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
