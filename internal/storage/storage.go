// Package storage provides persistent state for the prediction engine. It
// uses BoltDB as the underlying storage engine to store models, prediction
// audit records, reviewer feedback, and training run history.
//
// The package provides thread-safe operations with simple prefix-scan
// queries and automatic bucket management.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	modelsBucket      = "models"      // one row per (organisation, prediction type)
	predictionsBucket = "predictions" // audit records
	feedbackBucket    = "feedback"    // reviewer corrections
	runsBucket        = "training_runs"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = fmt.Errorf("storage: not found")

// Store provides persistent storage for the engine's state.
type Store struct {
	db *bbolt.DB
}

// New creates a storage instance rooted at dataPath. It initializes the
// BoltDB database and creates the required buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "riskengine.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{modelsBucket, predictionsBucket, feedbackBucket, runsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func modelKey(orgID, predictionType string) []byte {
	return []byte(fmt.Sprintf("%s|%s", orgID, predictionType))
}

// SaveModel writes a model row, keyed by organisation and prediction type.
// There is exactly one row per pair, so the single active model invariant
// holds structurally.
func (s *Store) SaveModel(m *Model) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket))

		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal model: %w", err)
		}
		return b.Put(modelKey(m.OrganisationID, m.PredictionType), data)
	})
}

// UpdateModel applies mutate to the current model row inside a single write
// transaction. The row is re-read under the write lock, so concurrent
// writers can never revert each other's fields with a stale snapshot.
func (s *Store) UpdateModel(orgID, predictionType string, mutate func(*Model) error) (*Model, error) {
	var m *Model
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket))
		key := modelKey(orgID, predictionType)

		data := b.Get(key)
		if data == nil {
			return ErrNotFound
		}
		m = &Model{}
		if err := json.Unmarshal(data, m); err != nil {
			return fmt.Errorf("unmarshal model: %w", err)
		}
		if err := mutate(m); err != nil {
			return err
		}
		updated, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal model: %w", err)
		}
		return b.Put(key, updated)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// IncrementPredictionCount bumps the served-prediction counter without
// touching any other model field.
func (s *Store) IncrementPredictionCount(orgID, predictionType string, now time.Time) error {
	_, err := s.UpdateModel(orgID, predictionType, func(m *Model) error {
		m.TotalPredictions++
		m.UpdatedAt = now
		return nil
	})
	return err
}

// GetModel fetches the model for an (organisation, prediction type) pair.
func (s *Store) GetModel(orgID, predictionType string) (*Model, error) {
	var m *Model
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(modelsBucket)).Get(modelKey(orgID, predictionType))
		if data == nil {
			return ErrNotFound
		}
		m = &Model{}
		if err := json.Unmarshal(data, m); err != nil {
			return fmt.Errorf("unmarshal model: %w", err)
		}
		return nil
	})
	return m, err
}

func orgScopedKey(orgID, id string) []byte {
	return []byte(fmt.Sprintf("%s|%s", orgID, id))
}

func orgPrefix(orgID string) []byte {
	return []byte(orgID + "|")
}

// scanPrefix walks all values under a key prefix in one bucket.
func (s *Store) scanPrefix(bucket string, prefix []byte, fn func(k, v []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
