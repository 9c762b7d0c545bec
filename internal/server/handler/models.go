package handler

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	scrypto "github.com/aspect-build/sealrun/internal/crypto"
	"github.com/aspect-build/sealrun/internal/logx"
	"github.com/aspect-build/sealrun/internal/server/db"
	"github.com/aspect-build/sealrun/internal/server/enclave"
	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/wire"
)

// Enclave is what the model handlers act on behalf of.
type Enclave struct {
	Store        *db.Store
	Identity     *enclave.Identity
	Sealing      scrypto.SealingKey
	MaxModels    int
	MaxModelSize uint64
}

// errStatus carries the HTTP status a request error maps to.
type errStatus struct {
	code int
	msg  string
}

func (e *errStatus) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &errStatus{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func abort(c *gin.Context, op string, err error) {
	var es *errStatus
	if errors.As(err, &es) {
		c.JSON(es.code, gin.H{"error": es.msg})
		return
	}
	logx.Errorf("%s error: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to %s", op)})
}

// reply encodes p and signs it when asked to.
func (e *Enclave) reply(c *gin.Context, op string, p wire.Payload, sign bool) {
	payload, err := wire.MarshalPayload(p)
	if err != nil {
		abort(c, op, err)
		return
	}
	r := wire.SignedReply{Payload: payload}
	if sign {
		if r.Signature, err = e.Identity.Sign(payload); err != nil {
			abort(c, op, err)
			return
		}
	}
	c.JSON(http.StatusOK, r)
}

type upload struct {
	first *wire.SendModelRequest
	data  bytes.Buffer
}

func (u *upload) add(msg wire.SendModelRequest, limit uint64) error {
	if u.first == nil {
		if msg.Length == 0 {
			return badRequest("model length must be positive")
		}
		if msg.Length > limit {
			return &errStatus{code: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("model of %d bytes exceeds the %d byte limit", msg.Length, limit)}
		}
		m := msg
		m.Data = nil
		u.first = &m
	} else if msg.Length != u.first.Length || msg.ModelID != u.first.ModelID {
		return badRequest("upload metadata changed mid-stream")
	}
	if uint64(u.data.Len()+len(msg.Data)) > u.first.Length {
		return badRequest("model data exceeds declared length %d", u.first.Length)
	}
	u.data.Write(msg.Data)
	return nil
}

// HandleSendModel handles POST /v1/models, an NDJSON stream of
// SendModelRequest messages.
func (e *Enclave) HandleSendModel() gin.HandlerFunc {
	return func(c *gin.Context) {
		var u upload
		err := wire.ReadStream(c.Request.Body, func(msg wire.SendModelRequest) error {
			return u.add(msg, e.MaxModelSize)
		})
		if err != nil {
			var es *errStatus
			if !errors.As(err, &es) {
				err = badRequest("%v", err)
			}
			abort(c, "upload model", err)
			return
		}
		req := u.first
		if uint64(u.data.Len()) != req.Length {
			abort(c, "upload model", badRequest("model data is %d bytes, declared %d", u.data.Len(), req.Length))
			return
		}

		blob := u.data.Bytes()
		sum := sha256.Sum256(blob)
		m := &db.Model{
			ID:       req.ModelID,
			Name:     req.ModelName,
			Hash:     sum[:],
			Inputs:   req.TensorInputs,
			Outputs:  req.TensorOutputs,
			OwnerUID: req.ClientInfo.UID,
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if req.SaveModel {
			if m.Blob, err = e.Sealing.Seal(m.ID, blob); err != nil {
				abort(c, "upload model", err)
				return
			}
			m.Sealed = true
		} else {
			m.Blob = append([]byte(nil), blob...)
		}

		evicted, err := e.Store.InsertModel(m, e.MaxModels)
		if err != nil {
			if errors.Is(err, db.ErrModelDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("model %s already exists", m.ID)})
				return
			}
			abort(c, "upload model", err)
			return
		}
		for _, id := range evicted {
			logx.Infof("model store full, evicted %s", id)
		}
		logx.Infof("model %s uploaded: name=%q size=%d sealed=%v", m.ID, m.Name, len(blob), m.Sealed)

		e.reply(c, "upload model", wire.Payload{
			SendModel: &wire.SendModelPayload{ModelID: m.ID, ModelHash: m.Hash},
		}, req.Sign)
	}
}

type runInputs struct {
	modelID string
	sign    bool
	seen    bool
	tensors map[int]*tensor.Tensor
}

func (r *runInputs) add(msg wire.RunModelRequest, h hash.Hash) error {
	if !r.seen {
		r.modelID, r.sign, r.seen = msg.ModelID, msg.Sign, true
	} else if msg.ModelID != r.modelID {
		return badRequest("model_id changed mid-stream")
	}
	for _, chunk := range msg.InputTensors {
		info := chunk.Info
		t, ok := r.tensors[info.Index]
		if !ok {
			t = &tensor.Tensor{Info: info}
			t.Info.Dims = append([]uint64(nil), info.Dims...)
			r.tensors[info.Index] = t
		} else if t.Info.DatumType != info.DatumType || len(t.Info.Dims) != len(info.Dims) {
			return badRequest("tensor %d info changed mid-stream", info.Index)
		}
		t.Data = append(t.Data, chunk.BytesData...)
		h.Write(chunk.BytesData)
	}
	return nil
}

func (r *runInputs) ordered() ([]tensor.Tensor, error) {
	idx := make([]int, 0, len(r.tensors))
	for i := range r.tensors {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]tensor.Tensor, len(idx))
	for pos, i := range idx {
		if i != pos {
			return nil, badRequest("input tensor indices must be 0..%d, got %d", len(idx)-1, i)
		}
		t := *r.tensors[i]
		if err := t.Validate(); err != nil {
			return nil, badRequest("%v", err)
		}
		out[pos] = t
	}
	return out, nil
}

// HandleRunModel handles POST /v1/models/run, an NDJSON stream of
// RunModelRequest messages, one chunk of one tensor each.
func (e *Enclave) HandleRunModel() gin.HandlerFunc {
	return func(c *gin.Context) {
		in := runInputs{tensors: map[int]*tensor.Tensor{}}
		h := sha256.New()
		if err := wire.ReadStream(c.Request.Body, func(msg wire.RunModelRequest) error {
			return in.add(msg, h)
		}); err != nil {
			var es *errStatus
			if !errors.As(err, &es) {
				err = badRequest("%v", err)
			}
			abort(c, "run model", err)
			return
		}
		inputs, err := in.ordered()
		if err != nil {
			abort(c, "run model", err)
			return
		}

		m, err := e.loadModel(in.modelID)
		if err != nil {
			abort(c, "run model", err)
			return
		}
		outputs, err := enclave.Execute(m, inputs)
		if err != nil {
			if errors.Is(err, enclave.ErrBadInputs) {
				err = badRequest("%v", err)
			}
			abort(c, "run model", err)
			return
		}
		logx.Debugf("model %s ran on %d inputs", m.ID, len(inputs))

		e.reply(c, "run model", wire.Payload{
			RunModel: &wire.RunModelPayload{ModelID: m.ID, InputHash: h.Sum(nil), OutputTensors: outputs},
		}, in.sign)
	}
}

// loadModel fetches a model and, when sealed, checks it still unseals to
// the bytes that were hashed at upload.
func (e *Enclave) loadModel(id string) (*db.Model, error) {
	m, err := e.Store.GetModel(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &errStatus{code: http.StatusNotFound, msg: fmt.Sprintf("model %s not found", id)}
	}
	if m.Sealed {
		blob, err := e.Sealing.Unseal(m.ID, m.Blob)
		if err != nil {
			return nil, fmt.Errorf("unseal model %s: %w", m.ID, err)
		}
		if sum := sha256.Sum256(blob); !bytes.Equal(sum[:], m.Hash) {
			return nil, fmt.Errorf("sealed model %s does not match its hash", m.ID)
		}
	}
	return m, nil
}

// HandleDeleteModel handles DELETE /v1/models/:id.
func (e *Enclave) HandleDeleteModel() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req wire.DeleteModelRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.ModelID != "" && req.ModelID != id {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model_id in body does not match path"})
			return
		}

		deleted, err := e.Store.DeleteModel(id)
		if err != nil {
			abort(c, "delete model", err)
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("model %s not found", id)})
			return
		}
		logx.Infof("model %s deleted", id)

		e.reply(c, "delete model", wire.Payload{
			DeleteModel: &wire.DeleteModelPayload{ModelID: id},
		}, req.Sign)
	}
}
