package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/wire"
)

// Sentinel errors for model operations.
var (
	ErrModelDuplicate = errors.New("model id already exists")
)

// Model is a stored model. Blob is the raw ONNX bytes, or the sealed blob
// when Sealed is set.
type Model struct {
	ID        string
	Name      string
	Hash      []byte
	Inputs    []wire.TensorFacts
	Outputs   []tensor.DatumType
	Blob      []byte
	Sealed    bool
	OwnerUID  string
	CreatedAt time.Time
}

// InsertModel stores m. When maxModels is positive and the store is full, the
// oldest models are evicted first; their ids are returned.
func (s *Store) InsertModel(m *Model, maxModels int) ([]string, error) {
	inputs, err := json.Marshal(nonNilFacts(m.Inputs))
	if err != nil {
		return nil, fmt.Errorf("encode tensor inputs: %w", err)
	}
	outputs, err := json.Marshal(nonNilTypes(m.Outputs))
	if err != nil {
		return nil, fmt.Errorf("encode tensor outputs: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin insert model: %w", err)
	}
	defer tx.Rollback()

	var evicted []string
	if maxModels > 0 {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM models`).Scan(&n); err != nil {
			return nil, fmt.Errorf("count models: %w", err)
		}
		if over := n - maxModels + 1; over > 0 {
			rows, err := tx.Query(`SELECT model_id FROM models ORDER BY seq LIMIT ?`, over)
			if err != nil {
				return nil, fmt.Errorf("select oldest models: %w", err)
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return nil, fmt.Errorf("scan model id: %w", err)
				}
				evicted = append(evicted, id)
			}
			rows.Close()
			for _, id := range evicted {
				if _, err := tx.Exec(`DELETE FROM models WHERE model_id = ?`, id); err != nil {
					return nil, fmt.Errorf("evict model %s: %w", id, err)
				}
			}
		}
	}

	_, err = tx.Exec(
		`INSERT INTO models (model_id, name, model_hash, tensor_inputs, tensor_outputs, blob, sealed, owner_uid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Hash, string(inputs), string(outputs), m.Blob, m.Sealed, m.OwnerUID,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return nil, ErrModelDuplicate
		}
		return nil, fmt.Errorf("insert model: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert model: %w", err)
	}
	return evicted, nil
}

// GetModel retrieves a model by id. It returns nil, nil when absent.
func (s *Store) GetModel(id string) (*Model, error) {
	m := &Model{}
	var inputs, outputs string
	err := s.db.QueryRow(
		`SELECT model_id, name, model_hash, tensor_inputs, tensor_outputs, blob, sealed, owner_uid, created_at
		 FROM models WHERE model_id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.Hash, &inputs, &outputs, &m.Blob, &m.Sealed, &m.OwnerUID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	if err := json.Unmarshal([]byte(inputs), &m.Inputs); err != nil {
		return nil, fmt.Errorf("decode tensor inputs of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(outputs), &m.Outputs); err != nil {
		return nil, fmt.Errorf("decode tensor outputs of %s: %w", id, err)
	}
	return m, nil
}

// ListModels returns model metadata in insertion order, without blobs.
func (s *Store) ListModels() ([]Model, error) {
	rows, err := s.db.Query(`SELECT model_id, name, model_hash, sealed, owner_uid, created_at FROM models ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []Model
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Hash, &m.Sealed, &m.OwnerUID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// DeleteModel removes a model. Returns true if it existed.
func (s *Store) DeleteModel(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM models WHERE model_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete model: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PurgeUnsealed drops models that were not saved sealed. Unsealed models
// only live as long as the server process.
func (s *Store) PurgeUnsealed() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM models WHERE sealed = 0`)
	if err != nil {
		return 0, fmt.Errorf("purge unsealed models: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nonNilFacts(f []wire.TensorFacts) []wire.TensorFacts {
	if f == nil {
		return []wire.TensorFacts{}
	}
	return f
}

func nonNilTypes(t []tensor.DatumType) []tensor.DatumType {
	if t == nil {
		return []tensor.DatumType{}
	}
	return t
}
