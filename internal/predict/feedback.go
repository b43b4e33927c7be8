package predict

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"riskengine/internal/common"
	"riskengine/internal/storage"
)

// FeedbackInput is one reviewer submission against a past prediction.
type FeedbackInput struct {
	PredictionID      string   `json:"predictionId"`
	FeedbackType      string   `json:"feedbackType"`
	CorrectedScore    *float64 `json:"correctedScore,omitempty"`
	CorrectedCategory *string  `json:"correctedCategory,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

func (in *FeedbackInput) validate() error {
	switch in.FeedbackType {
	case common.FeedbackCorrect, common.FeedbackIncorrect, common.FeedbackPartiallyCorrect:
	default:
		return fmt.Errorf("unknown feedback type %q", in.FeedbackType)
	}
	if in.CorrectedScore != nil && (*in.CorrectedScore < common.MinScore || *in.CorrectedScore > common.MaxScore) {
		return fmt.Errorf("corrected score must be between 0 and 100, got %f", *in.CorrectedScore)
	}
	return nil
}

// SubmitFeedback records a reviewer correction. Each submission is one
// feedback row and adjusts the model counters exactly once; there is no
// cross-submission deduplication.
func (s *Service) SubmitFeedback(orgID string, in FeedbackInput) (*storage.Feedback, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p, err := s.store.GetPrediction(orgID, in.PredictionID)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", in.PredictionID, err)
	}

	f := &storage.Feedback{
		ID:                uuid.NewString(),
		PredictionID:      p.ID,
		OrganisationID:    orgID,
		FeedbackType:      in.FeedbackType,
		CorrectedScore:    in.CorrectedScore,
		CorrectedCategory: in.CorrectedCategory,
		Notes:             in.Notes,
		CreatedAt:         s.now(),
	}
	if err := s.store.SaveFeedback(f); err != nil {
		return nil, fmt.Errorf("persist feedback: %w", err)
	}

	if in.CorrectedScore != nil {
		if err := s.store.AttachOutcome(orgID, p.ID, *in.CorrectedScore); err != nil {
			log.Warn().Err(err).Str("predictionId", p.ID).Msg("attach outcome failed")
		}
	}

	// counter-only update against the current row; rows for a superseded
	// model are left alone
	if _, err := s.store.UpdateModel(orgID, common.PredictionTypeBreachProbability, func(m *storage.Model) error {
		if m.ID != p.ModelID {
			return nil
		}
		m.FeedbackCount++
		if in.FeedbackType == common.FeedbackCorrect {
			m.CorrectPredictions++
		}
		m.UpdatedAt = s.now()
		return nil
	}); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("predictionId", p.ID).Msg("feedback counter update failed")
	}

	s.metrics.FeedbackTotal.WithLabelValues(in.FeedbackType).Inc()
	return f, nil
}

// ModelMetrics is the monitoring view over one organisation's model.
type ModelMetrics struct {
	ModelID            string                 `json:"modelId"`
	Status             string                 `json:"status"`
	Version            int                    `json:"version"`
	TotalPredictions   int                    `json:"totalPredictions"`
	CorrectPredictions int                    `json:"correctPredictions"`
	TrainingAccuracy   float64                `json:"trainingAccuracy"`
	ValidationAccuracy float64                `json:"validationAccuracy"`
	LastTrainedAt      *time.Time             `json:"lastTrainedAt,omitempty"`
	FeedbackStats      *storage.FeedbackStats `json:"feedbackStats"`
	TrainingReady      bool                   `json:"trainingReady"`
	RecentTrainingRuns []*storage.TrainingRun `json:"recentTrainingRuns"`
}

// GetModelMetrics reports model health for an organisation. Training is
// flagged ready once accumulated feedback reaches the configured minimum.
func (s *Service) GetModelMetrics(orgID string) (*ModelMetrics, error) {
	model, err := s.registry.GetOrCreate(orgID, common.PredictionTypeBreachProbability)
	if err != nil {
		return nil, err
	}

	stats, err := s.store.FeedbackStatsFor(orgID, model.ID)
	if err != nil {
		return nil, fmt.Errorf("feedback stats: %w", err)
	}
	runs, err := s.store.RecentTrainingRuns(orgID, model.PredictionType, 5)
	if err != nil {
		return nil, fmt.Errorf("recent training runs: %w", err)
	}

	return &ModelMetrics{
		ModelID:            model.ID,
		Status:             model.Status,
		Version:            model.Version,
		TotalPredictions:   model.TotalPredictions,
		CorrectPredictions: model.CorrectPredictions,
		TrainingAccuracy:   model.TrainingAccuracy,
		ValidationAccuracy: model.ValidationAccuracy,
		LastTrainedAt:      model.LastTrainedAt,
		FeedbackStats:      stats,
		TrainingReady:      model.FeedbackCount >= s.minTraining,
		RecentTrainingRuns: runs,
	}, nil
}

// UpdateModelSettings applies hyperparameter and feature-weight overrides.
func (s *Service) UpdateModelSettings(orgID string, h storage.Hyperparameters, featureWeights map[string]float64) (*storage.Model, error) {
	return s.registry.UpdateSettings(orgID, common.PredictionTypeBreachProbability, h, featureWeights)
}
