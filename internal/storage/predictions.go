package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// SavePrediction stores one audit record.
func (s *Store) SavePrediction(p *Prediction) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}
		return b.Put(orgScopedKey(p.OrganisationID, p.ID), data)
	})
}

// GetPrediction fetches one prediction by organisation and id.
func (s *Store) GetPrediction(orgID, id string) (*Prediction, error) {
	var p *Prediction
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(predictionsBucket)).Get(orgScopedKey(orgID, id))
		if data == nil {
			return ErrNotFound
		}
		p = &Prediction{}
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("unmarshal prediction: %w", err)
		}
		return nil
	})
	return p, err
}

// LatestValidPrediction returns the freshest non-expired, non-test
// prediction for an entity under a given model, or ErrNotFound. Expired and
// test rows are never reused as a cache.
func (s *Store) LatestValidPrediction(orgID, entityID, modelID string, now time.Time) (*Prediction, error) {
	var best *Prediction
	err := s.scanPrefix(predictionsBucket, orgPrefix(orgID), func(k, v []byte) error {
		var p Prediction
		if err := json.Unmarshal(v, &p); err != nil {
			return nil // skip malformed records
		}
		if p.EntityID != entityID || p.ModelID != modelID || p.IsTest {
			return nil
		}
		if !p.ExpiresAt.After(now) {
			return nil
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = &p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// AttachOutcome records the observed outcome on an existing prediction.
// This is the single permitted mutation of a prediction row.
func (s *Store) AttachOutcome(orgID, id string, outcome float64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		key := orgScopedKey(orgID, id)
		data := b.Get(key)
		if data == nil {
			return ErrNotFound
		}
		var p Prediction
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal prediction: %w", err)
		}
		p.ObservedOutcome = &outcome
		updated, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}
		return b.Put(key, updated)
	})
}
