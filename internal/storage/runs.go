package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"
)

func runKey(r *TrainingRun) []byte {
	return []byte(fmt.Sprintf("%s|%s|%020d", r.OrganisationID, r.PredictionType, r.StartedAt.UnixNano()))
}

// SaveTrainingRun writes a training run row. Runs are keyed by start time so
// repeated saves of one run (progress checkpoints) overwrite in place.
func (s *Store) SaveTrainingRun(r *TrainingRun) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal training run: %w", err)
		}
		return b.Put(runKey(r), data)
	})
}

// RecentTrainingRuns returns the latest runs for a prediction type, newest
// first, capped at limit.
func (s *Store) RecentTrainingRuns(orgID, predictionType string, limit int) ([]*TrainingRun, error) {
	prefix := []byte(fmt.Sprintf("%s|%s|", orgID, predictionType))

	var runs []*TrainingRun
	err := s.scanPrefix(runsBucket, prefix, func(k, v []byte) error {
		var r TrainingRun
		if err := json.Unmarshal(v, &r); err != nil {
			return nil
		}
		runs = append(runs, &r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// LatestTrainingRun returns the most recent run for a prediction type, or
// ErrNotFound when none has been recorded yet.
func (s *Store) LatestTrainingRun(orgID, predictionType string) (*TrainingRun, error) {
	runs, err := s.RecentTrainingRuns(orgID, predictionType, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}
