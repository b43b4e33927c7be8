// Package training runs the feedback-driven retraining pipeline: it labels
// accumulated feedback, bootstraps cold-start examples from the statistical
// scorer, trains the primary backend with a fallback retry, and swaps the
// new weights into the model atomically.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"riskengine/internal/cfg"
	"riskengine/internal/common"
	"riskengine/internal/features"
	"riskengine/internal/metrics"
	"riskengine/internal/ml"
	"riskengine/internal/predict"
	"riskengine/internal/registry"
	"riskengine/internal/scorer"
	"riskengine/internal/storage"
)

// ErrAlreadyTraining signals that a run for the same model is in flight.
var ErrAlreadyTraining = errors.New("training already in progress for model")

// ErrInsufficientData signals that neither feedback nor bootstrapping
// produced enough usable examples.
var ErrInsufficientData = errors.New("not enough training examples")

// Orchestrator serialises and executes training runs, one at a time per
// model.
type Orchestrator struct {
	store    *storage.Store
	registry *registry.Registry
	scorer   scorer.Scorer
	cache    *predict.BackendCache
	metrics  *metrics.Metrics
	settings cfg.Settings

	mu     sync.Mutex
	active map[string]bool

	progress *hub

	// injection points for tests
	newPrimary  func() ml.Backend
	newFallback func() ml.Backend
	now         func() time.Time
}

func New(store *storage.Store, reg *registry.Registry, sc scorer.Scorer, cache *predict.BackendCache, m *metrics.Metrics, settings cfg.Settings) *Orchestrator {
	return &Orchestrator{
		store:       store,
		registry:    reg,
		scorer:      sc,
		cache:       cache,
		metrics:     m,
		settings:    settings,
		active:      make(map[string]bool),
		progress:    newHub(),
		newPrimary:  func() ml.Backend { return ml.NewTensorBackend() },
		newFallback: func() ml.Backend { return ml.NewFeedForward() },
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe returns a channel of live progress events plus a cancel func.
func (o *Orchestrator) Subscribe() (<-chan ProgressEvent, func()) {
	return o.progress.subscribe()
}

// RunSummary is the outcome of a completed training run.
type RunSummary struct {
	RunID              string          `json:"runId"`
	ModelID            string          `json:"modelId"`
	ModelVersion       int             `json:"modelVersion"`
	Backend            string          `json:"backend"`
	SampleCount        int             `json:"sampleCount"`
	FeedbackSamples    int             `json:"feedbackSamples"`
	BootstrapSamples   int             `json:"bootstrapSamples"`
	FinalAccuracy      float64         `json:"finalAccuracy"`
	FinalLoss          float64         `json:"finalLoss"`
	ValidationAccuracy float64         `json:"validationAccuracy"`
	ValidationLoss     float64         `json:"validationLoss"`
	History            []ml.EpochStats `json:"epochHistory"`
}

// Trigger starts a training run in the background and returns its id
// immediately. The per-model lock is taken before returning so a second
// trigger for the same model fails fast.
func (o *Orchestrator) Trigger(orgID string, overrides *storage.Hyperparameters) (string, error) {
	model, err := o.registry.GetOrCreate(orgID, common.PredictionTypeBreachProbability)
	if err != nil {
		return "", err
	}
	if err := o.acquire(model.ID); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	go func() {
		defer o.release(model.ID)
		if _, err := o.run(context.Background(), runID, model, overrides); err != nil {
			log.Error().Err(err).Str("modelId", model.ID).Str("runId", runID).Msg("background training failed")
		}
	}()
	return runID, nil
}

// Run executes a training run synchronously.
func (o *Orchestrator) Run(ctx context.Context, orgID string, overrides *storage.Hyperparameters) (*RunSummary, error) {
	model, err := o.registry.GetOrCreate(orgID, common.PredictionTypeBreachProbability)
	if err != nil {
		return nil, err
	}
	if err := o.acquire(model.ID); err != nil {
		return nil, err
	}
	defer o.release(model.ID)

	return o.run(ctx, uuid.NewString(), model, overrides)
}

func (o *Orchestrator) acquire(modelID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[modelID] {
		return ErrAlreadyTraining
	}
	o.active[modelID] = true
	return nil
}

func (o *Orchestrator) release(modelID string) {
	o.mu.Lock()
	delete(o.active, modelID)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, runID string, model *storage.Model, overrides *storage.Hyperparameters) (*RunSummary, error) {
	started := o.now()
	hp := model.Hyperparameters
	if overrides != nil {
		if overrides.LearningRate > 0 {
			hp.LearningRate = overrides.LearningRate
		}
		if overrides.Epochs > 0 {
			hp.Epochs = overrides.Epochs
		}
		if overrides.BatchSize > 0 {
			hp.BatchSize = overrides.BatchSize
		}
	}

	run := &storage.TrainingRun{
		ID:              runID,
		ModelID:         model.ID,
		OrganisationID:  model.OrganisationID,
		PredictionType:  model.PredictionType,
		Status:          common.StatusTraining,
		Hyperparameters: hp,
		StartedAt:       started,
	}
	if err := o.store.SaveTrainingRun(run); err != nil {
		return nil, fmt.Errorf("open training run: %w", err)
	}

	examples, usedFeedback, bootstrapped, err := o.buildTrainingSet(ctx, model)
	if err != nil {
		return nil, o.fail(run, model, err)
	}
	run.SampleCount = len(examples)
	run.FeedbackSamples = len(usedFeedback)
	run.BootstrapSamples = bootstrapped

	tc := ml.TrainConfig{
		LearningRate: hp.LearningRate,
		Epochs:       hp.Epochs,
		BatchSize:    hp.BatchSize,
		Seed:         started.UnixNano(),
	}
	resetProgress := func() {
		run.History = nil
		run.CurrentEpoch = 0
		run.Progress = 0
	}
	onProgress := func(epoch, total int, stats ml.EpochStats) {
		run.CurrentEpoch = epoch
		run.Progress = float64(epoch) / float64(total) * 100
		run.History = append(run.History, stats)
		if err := o.store.SaveTrainingRun(run); err != nil {
			log.Warn().Err(err).Str("runId", run.ID).Msg("training checkpoint save failed")
		}
		o.progress.publish(ProgressEvent{
			RunID:          run.ID,
			ModelID:        model.ID,
			OrganisationID: model.OrganisationID,
			Status:         common.StatusTraining,
			Epoch:          epoch,
			TotalEpochs:    total,
			Progress:       run.Progress,
			Loss:           stats.Loss,
			Accuracy:       stats.Accuracy,
		})
	}

	backend, result, err := o.train(ctx, model, examples, tc, onProgress, resetProgress)
	if err != nil {
		return nil, o.fail(run, model, err)
	}

	weights, err := backend.ExportWeights()
	if err != nil {
		return nil, o.fail(run, model, fmt.Errorf("export weights: %w", err))
	}
	blob, err := weights.Encode()
	if err != nil {
		return nil, o.fail(run, model, fmt.Errorf("encode weights: %w", err))
	}

	// Atomic swap: the current row is re-read and mutated inside one write
	// transaction, so counters bumped by concurrent inference or feedback
	// are carried over rather than reverted. The cached backend for the old
	// version is dropped afterwards; in-flight predictions keep their
	// already-loaded snapshot.
	completed := o.now()
	swapped, err := o.store.UpdateModel(model.OrganisationID, model.PredictionType, func(m *storage.Model) error {
		m.Weights = blob
		m.HiddenSizes = weights.HiddenSizes
		m.Status = common.StatusActive
		m.Version++
		m.Hyperparameters = hp
		m.TrainingAccuracy = result.FinalAccuracy * 100
		m.TrainingLoss = result.FinalLoss
		m.ValidationAccuracy = result.ValidationAccuracy * 100
		m.ValidationLoss = result.ValidationLoss
		m.LastTrainedAt = &completed
		m.UpdatedAt = completed
		return nil
	})
	if err != nil {
		return nil, o.fail(run, model, fmt.Errorf("swap model weights: %w", err))
	}
	model = swapped
	o.cache.Invalidate(model.ID)

	if len(usedFeedback) > 0 {
		if err := o.store.MarkFeedbackUsed(model.OrganisationID, usedFeedback, run.ID); err != nil {
			log.Warn().Err(err).Str("runId", run.ID).Msg("marking consumed feedback failed")
		}
	}

	run.Status = common.StatusActive
	run.Backend = backend.Name()
	run.CurrentEpoch = hp.Epochs
	run.Progress = 100
	run.FinalAccuracy = result.FinalAccuracy * 100
	run.FinalLoss = result.FinalLoss
	run.ValidationAccuracy = result.ValidationAccuracy * 100
	run.ValidationLoss = result.ValidationLoss
	run.CompletedAt = &completed
	if err := o.store.SaveTrainingRun(run); err != nil {
		log.Warn().Err(err).Str("runId", run.ID).Msg("closing training run failed")
	}

	o.metrics.TrainingRuns.WithLabelValues(common.StatusActive).Inc()
	o.metrics.ModelAccuracy.WithLabelValues(model.OrganisationID, model.PredictionType).Set(model.TrainingAccuracy)
	o.metrics.TrainingDuration.Observe(completed.Sub(started).Seconds())
	o.metrics.TrainingSamples.Observe(float64(len(examples)))
	o.progress.publish(ProgressEvent{
		RunID:          run.ID,
		ModelID:        model.ID,
		OrganisationID: model.OrganisationID,
		Status:         common.StatusActive,
		Epoch:          run.CurrentEpoch,
		TotalEpochs:    hp.Epochs,
		Progress:       100,
		Loss:           result.FinalLoss,
		Accuracy:       result.FinalAccuracy,
	})

	log.Info().
		Str("modelId", model.ID).
		Str("runId", run.ID).
		Str("backend", backend.Name()).
		Int("samples", len(examples)).
		Float64("accuracy", run.FinalAccuracy).
		Msg("training run complete")

	return &RunSummary{
		RunID:              run.ID,
		ModelID:            model.ID,
		ModelVersion:       model.Version,
		Backend:            backend.Name(),
		SampleCount:        run.SampleCount,
		FeedbackSamples:    run.FeedbackSamples,
		BootstrapSamples:   run.BootstrapSamples,
		FinalAccuracy:      run.FinalAccuracy,
		FinalLoss:          run.FinalLoss,
		ValidationAccuracy: run.ValidationAccuracy,
		ValidationLoss:     run.ValidationLoss,
		History:            run.History,
	}, nil
}

// buildTrainingSet labels unconsumed feedback and, below the minimum,
// bootstraps self-supervised pairs by re-scoring sampled entities.
func (o *Orchestrator) buildTrainingSet(ctx context.Context, model *storage.Model) ([]ml.Example, []string, int, error) {
	rows, err := o.store.UnusedFeedback(model.OrganisationID, model.ID, o.settings.MaxFeedbackBatch)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load feedback: %w", err)
	}

	var examples []ml.Example
	var usedIDs []string
	for _, f := range rows {
		p, err := o.store.GetPrediction(model.OrganisationID, f.PredictionID)
		if err != nil {
			log.Warn().Err(err).Str("feedbackId", f.ID).Msg("feedback references missing prediction, skipping")
			continue
		}

		var target float64
		switch {
		case f.FeedbackType == common.FeedbackCorrect:
			// agreement reinforces the statistical baseline
			target = p.StatScore / common.MaxScore
		case f.CorrectedScore != nil:
			target = *f.CorrectedScore / common.MaxScore
		default:
			// a correction without a corrected score carries no label
			continue
		}

		vec, err := features.WeightedVector(p.Features, model.FeatureNames, model.FeatureWeights)
		if err != nil {
			log.Warn().Err(err).Str("feedbackId", f.ID).Msg("stale feature snapshot, skipping")
			continue
		}
		examples = append(examples, ml.Example{Features: vec, Target: target})
		usedIDs = append(usedIDs, f.ID)
	}

	bootstrapped := 0
	if len(examples) < o.settings.MinTrainingExamples {
		ids, err := o.scorer.SampleEntities(ctx, model.OrganisationID, o.settings.BootstrapSamples)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("sample entities for bootstrap: %w", err)
		}
		for _, entityID := range ids {
			breakdown, err := o.scorer.Score(ctx, entityID, model.OrganisationID)
			if err != nil {
				o.metrics.ScorerErrors.Inc()
				log.Warn().Err(err).Str("entityId", entityID).Msg("bootstrap scoring failed, skipping entity")
				continue
			}
			vec, err := features.WeightedVector(features.FromBreakdown(breakdown), model.FeatureNames, model.FeatureWeights)
			if err != nil {
				continue
			}
			examples = append(examples, ml.Example{Features: vec, Target: breakdown.OverallScore / common.MaxScore})
			bootstrapped++
		}
	}

	if len(examples) < o.settings.MinTrainingExamples {
		return nil, nil, 0, fmt.Errorf("%w: %d usable of %d required", ErrInsufficientData, len(examples), o.settings.MinTrainingExamples)
	}
	return examples, usedIDs, bootstrapped, nil
}

// train attempts the primary backend, seeded with the model's existing
// weights when compatible, and retrains from scratch on the fallback when
// the primary fails. Checkpoint state accumulated by a dead primary attempt
// is discarded via resetProgress before the fallback starts, keeping the
// run's epoch history ordered. Cancellation aborts without a fallback
// attempt.
func (o *Orchestrator) train(ctx context.Context, model *storage.Model, examples []ml.Example, tc ml.TrainConfig, onProgress ml.ProgressFunc, resetProgress func()) (ml.Backend, *ml.TrainResult, error) {
	primary := o.newPrimary()
	if len(model.Weights) > 0 {
		if w, err := ml.DecodeWeights(model.Weights); err == nil {
			if err := primary.LoadWeights(w); err != nil {
				log.Info().Err(err).Str("modelId", model.ID).Msg("existing weights not reusable by primary backend, training fresh")
			}
		}
	}

	result, err := primary.Train(ctx, examples, tc, onProgress)
	if err == nil {
		return primary, result, nil
	}
	if ctx.Err() != nil {
		return nil, nil, fmt.Errorf("training cancelled: %w", ctx.Err())
	}
	log.Warn().Err(err).
		Str("modelId", model.ID).
		Str("backend", primary.Name()).
		Msg("primary backend training failed, retrying on fallback")

	if resetProgress != nil {
		resetProgress()
	}
	fallback := o.newFallback()
	result, err = fallback.Train(ctx, examples, tc, onProgress)
	if err != nil {
		return nil, nil, fmt.Errorf("fallback training: %w", err)
	}
	return fallback, result, nil
}

// fail closes the run as FAILED and leaves the model row completely
// untouched; a failed retrain never corrupts previously good weights.
func (o *Orchestrator) fail(run *storage.TrainingRun, model *storage.Model, cause error) error {
	completed := o.now()
	run.Status = common.StatusFailed
	run.Error = cause.Error()
	run.CompletedAt = &completed
	if err := o.store.SaveTrainingRun(run); err != nil {
		log.Warn().Err(err).Str("runId", run.ID).Msg("recording failed run failed")
	}

	o.metrics.TrainingRuns.WithLabelValues(common.StatusFailed).Inc()
	o.progress.publish(ProgressEvent{
		RunID:          run.ID,
		ModelID:        model.ID,
		OrganisationID: model.OrganisationID,
		Status:         common.StatusFailed,
		Epoch:          run.CurrentEpoch,
		TotalEpochs:    run.Hyperparameters.Epochs,
		Progress:       run.Progress,
		Error:          run.Error,
	})

	log.Error().Err(cause).
		Str("modelId", model.ID).
		Str("runId", run.ID).
		Msg("training run failed")
	return cause
}
