// Package registry manages the lifecycle of per-organisation models. Each
// (organisation, prediction type) pair has exactly one model row, created
// lazily on first use and updated in place thereafter.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"riskengine/internal/cfg"
	"riskengine/internal/common"
	"riskengine/internal/features"
	"riskengine/internal/storage"
)

// Registry hands out the single model for each organisation and prediction
// type, creating it on first request.
type Registry struct {
	store    *storage.Store
	settings cfg.Settings

	mu sync.Mutex // serialises concurrent first-use creation
}

func New(store *storage.Store, settings cfg.Settings) *Registry {
	return &Registry{store: store, settings: settings}
}

// GetOrCreate returns the model for an (organisation, prediction type)
// pair. A missing model is created in TRAINING status with the full feature
// catalogue and configured hyperparameter defaults; it carries no weights
// until the first training run completes.
func (r *Registry) GetOrCreate(orgID, predictionType string) (*storage.Model, error) {
	m, err := r.store.GetModel(orgID, predictionType)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load model: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// re-check under the lock, another caller may have won the race
	if m, err := r.store.GetModel(orgID, predictionType); err == nil {
		return m, nil
	}

	now := time.Now().UTC()
	m = &storage.Model{
		ID:               uuid.NewString(),
		OrganisationID:   orgID,
		PredictionType:   predictionType,
		Version:          1,
		Status:           common.StatusTraining,
		FeatureNames:     features.Names(),
		HiddenSizes:      []int{64, 32},
		OutputActivation: "sigmoid",
		Hyperparameters: storage.Hyperparameters{
			LearningRate: r.settings.LearningRate,
			Epochs:       r.settings.Epochs,
			BatchSize:    r.settings.BatchSize,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveModel(m); err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}

	log.Info().
		Str("modelId", m.ID).
		Str("org", orgID).
		Str("predictionType", predictionType).
		Msg("created model")
	return m, nil
}

// Get returns an existing model without creating one.
func (r *Registry) Get(orgID, predictionType string) (*storage.Model, error) {
	return r.store.GetModel(orgID, predictionType)
}

// UpdateSettings applies hyperparameter and feature-weight overrides to an
// existing model. Zero-valued fields leave the current value untouched.
// Changing settings never alters weights or version; the new values take
// effect on the next training run.
func (r *Registry) UpdateSettings(orgID, predictionType string, h storage.Hyperparameters, featureWeights map[string]float64) (*storage.Model, error) {
	return r.store.UpdateModel(orgID, predictionType, func(m *storage.Model) error {
		if h.LearningRate > 0 {
			if h.LearningRate > 1 {
				return fmt.Errorf("learning rate must be between 0 and 1, got %f", h.LearningRate)
			}
			m.Hyperparameters.LearningRate = h.LearningRate
		}
		if h.Epochs > 0 {
			m.Hyperparameters.Epochs = h.Epochs
		}
		if h.BatchSize > 0 {
			m.Hyperparameters.BatchSize = h.BatchSize
		}
		if featureWeights != nil {
			for name := range featureWeights {
				if !containsName(m.FeatureNames, name) {
					return fmt.Errorf("unknown feature %q in weight overrides", name)
				}
			}
			m.FeatureWeights = featureWeights
		}
		m.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
