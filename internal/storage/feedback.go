package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"riskengine/internal/common"
)

// SaveFeedback stores one feedback row.
func (s *Store) SaveFeedback(f *Feedback) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(feedbackBucket))

		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal feedback: %w", err)
		}
		return b.Put(orgScopedKey(f.OrganisationID, f.ID), data)
	})
}

// GetFeedback fetches one feedback row by organisation and id.
func (s *Store) GetFeedback(orgID, id string) (*Feedback, error) {
	var f *Feedback
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(feedbackBucket)).Get(orgScopedKey(orgID, id))
		if data == nil {
			return ErrNotFound
		}
		f = &Feedback{}
		if err := json.Unmarshal(data, f); err != nil {
			return fmt.Errorf("unmarshal feedback: %w", err)
		}
		return nil
	})
	return f, err
}

// linkedModelID resolves which model a feedback row belongs to through its
// prediction, inside the caller's open transaction. Rows whose prediction is
// missing or unreadable resolve to the empty string and get filtered out.
func linkedModelID(preds *bbolt.Bucket, orgID, predictionID string) string {
	data := preds.Get(orgScopedKey(orgID, predictionID))
	if data == nil {
		return ""
	}
	var p Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.ModelID
}

// UnusedFeedback returns feedback rows for a model that have not yet been
// consumed by training, oldest first, capped at limit. The model filter goes
// through the linked prediction row, joined in the same read transaction.
func (s *Store) UnusedFeedback(orgID, modelID string, limit int) ([]*Feedback, error) {
	var rows []*Feedback
	err := s.db.View(func(tx *bbolt.Tx) error {
		preds := tx.Bucket([]byte(predictionsBucket))
		c := tx.Bucket([]byte(feedbackBucket)).Cursor()
		prefix := orgPrefix(orgID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var f Feedback
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			if f.UsedForTraining {
				continue
			}
			if linkedModelID(preds, orgID, f.PredictionID) != modelID {
				continue
			}
			rows = append(rows, &f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// MarkFeedbackUsed flags a batch of feedback rows as consumed by a training
// run. Rows already marked are left untouched so a retried run cannot
// double-count.
func (s *Store) MarkFeedbackUsed(orgID string, ids []string, trainingRunID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(feedbackBucket))
		for _, id := range ids {
			key := orgScopedKey(orgID, id)
			data := b.Get(key)
			if data == nil {
				continue
			}
			var f Feedback
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			if f.UsedForTraining {
				continue
			}
			f.UsedForTraining = true
			f.TrainingRunID = trainingRunID
			updated, err := json.Marshal(&f)
			if err != nil {
				return fmt.Errorf("marshal feedback: %w", err)
			}
			if err := b.Put(key, updated); err != nil {
				return err
			}
		}
		return nil
	})
}

// FeedbackStats summarises accumulated feedback for one model.
type FeedbackStats struct {
	Total            int `json:"total"`
	Correct          int `json:"correct"`
	Incorrect        int `json:"incorrect"`
	PartiallyCorrect int `json:"partiallyCorrect"`
	Unused           int `json:"unused"`
}

// FeedbackStatsFor aggregates feedback counts for a model.
func (s *Store) FeedbackStatsFor(orgID, modelID string) (*FeedbackStats, error) {
	stats := &FeedbackStats{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		preds := tx.Bucket([]byte(predictionsBucket))
		c := tx.Bucket([]byte(feedbackBucket)).Cursor()
		prefix := orgPrefix(orgID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var f Feedback
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			if linkedModelID(preds, orgID, f.PredictionID) != modelID {
				continue
			}
			stats.Total++
			switch f.FeedbackType {
			case common.FeedbackCorrect:
				stats.Correct++
			case common.FeedbackIncorrect:
				stats.Incorrect++
			case common.FeedbackPartiallyCorrect:
				stats.PartiallyCorrect++
			}
			if !f.UsedForTraining {
				stats.Unused++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
