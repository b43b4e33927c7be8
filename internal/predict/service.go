// Package predict orchestrates single-inference calls: statistical baseline,
// feature extraction, the model fallback chain, confidence-weighted
// blending, and the persisted audit record.
package predict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"riskengine/internal/cfg"
	"riskengine/internal/common"
	"riskengine/internal/features"
	"riskengine/internal/metrics"
	"riskengine/internal/ml"
	"riskengine/internal/registry"
	"riskengine/internal/scorer"
	"riskengine/internal/storage"
)

// Service runs breach predictions.
type Service struct {
	store     *storage.Store
	registry  *registry.Registry
	scorer    scorer.Scorer
	extractor *features.Extractor
	cache     *BackendCache
	metrics   *metrics.Metrics

	predictTimeout time.Duration
	predictionTTL  time.Duration
	minTraining    int

	// injection points for tests
	newChain func() *ml.Chain
	now      func() time.Time
}

func NewService(store *storage.Store, reg *registry.Registry, sc scorer.Scorer, m *metrics.Metrics, settings cfg.Settings) *Service {
	return &Service{
		store:          store,
		registry:       reg,
		scorer:         sc,
		extractor:      features.NewExtractor(sc),
		cache:          NewBackendCache(),
		metrics:        m,
		predictTimeout: settings.PredictTimeout,
		predictionTTL:  settings.PredictionTTL,
		minTraining:    settings.MinTrainingExamples,
		newChain:       defaultChain,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func defaultChain() *ml.Chain {
	return ml.NewChain(
		ml.Strategy{Name: "tensor", Backend: ml.NewTensorBackend()},
		ml.Strategy{Name: "feedforward", Backend: ml.NewFeedForward()},
	)
}

// Cache exposes the loaded-backend cache so the training pipeline can
// invalidate entries after a weight swap.
func (s *Service) Cache() *BackendCache { return s.cache }

// Result is the outcome of one prediction call.
type Result struct {
	PredictionID   string     `json:"predictionId"`
	EntityID       string     `json:"entityId"`
	OrganisationID string     `json:"organisationId"`
	ModelID        string     `json:"modelId"`
	ModelVersion   int        `json:"modelVersion"`
	StatScore      float64    `json:"statScore"`
	StatConfidence float64    `json:"statConfidence"`
	MLScore        *float64   `json:"mlScore,omitempty"`
	MLConfidence   *float64   `json:"mlConfidence,omitempty"`
	MLBackend      string     `json:"mlBackend,omitempty"`
	Score          int        `json:"score"`
	Confidence     int        `json:"confidence"`
	Category       string     `json:"riskCategory"`
	DaysToBreach   *int       `json:"daysToBreach,omitempty"`
	BreachDate     *time.Time `json:"predictedBreachDate,omitempty"`
	Source         string     `json:"source"`
	Reused         bool       `json:"reused"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
}

// PredictBreach runs one inference for an entity. A fresh, unexpired
// prediction for the same entity and model is reused instead of recomputed;
// test calls always recompute and are excluded from reuse and counters.
func (s *Service) PredictBreach(ctx context.Context, entityID, orgID string, isTest bool) (*Result, error) {
	started := s.now()
	defer func() {
		s.metrics.PredictionLatency.Observe(time.Since(started).Seconds())
	}()

	model, err := s.registry.GetOrCreate(orgID, common.PredictionTypeBreachProbability)
	if err != nil {
		return nil, err
	}

	if !isTest {
		if prev, err := s.store.LatestValidPrediction(orgID, entityID, model.ID, s.now()); err == nil {
			return resultFromStored(prev, model.Version, true), nil
		}
	}

	breakdown, err := s.scorer.Score(ctx, entityID, orgID)
	if err != nil {
		s.metrics.ScorerErrors.Inc()
		return nil, fmt.Errorf("statistical score for entity %s: %w", entityID, err)
	}
	statScore := breakdown.OverallScore
	statConf := statConfidence(breakdown)

	featureMap, err := s.extractor.Extract(ctx, entityID, orgID, breakdown)
	if err != nil {
		return nil, fmt.Errorf("extract features for entity %s: %w", entityID, err)
	}
	mlScore, mlConf, backendName := s.mlPredict(ctx, model, entityID, featureMap)

	now := s.now()
	blend := BlendScores(statScore, statConf, mlScore, mlConf, now)

	p := &storage.Prediction{
		ID:                  uuid.NewString(),
		ModelID:             model.ID,
		EntityID:            entityID,
		OrganisationID:      orgID,
		StatScore:           statScore,
		StatConfidence:      statConf,
		MLScore:             mlScore,
		MLConfidence:        mlConf,
		MLBackend:           backendName,
		BlendedScore:        blend.Score,
		BlendedConfidence:   blend.Confidence,
		RiskCategory:        blend.Category,
		DaysToBreach:        blend.DaysToBreach,
		PredictedBreachDate: blend.BreachDate,
		Source:              blend.Source,
		Features:            featureMap,
		IsTest:              isTest,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.predictionTTL),
	}
	if err := s.store.SavePrediction(p); err != nil {
		return nil, fmt.Errorf("persist prediction: %w", err)
	}

	if !isTest {
		// counter-only update; a whole-row write here could revert a weight
		// swap committed by a training run mid-inference
		if err := s.store.IncrementPredictionCount(orgID, model.PredictionType, now); err != nil {
			log.Warn().Err(err).Str("modelId", model.ID).Msg("prediction counter update failed")
		}
	}

	label := backendName
	if label == "" {
		label = "none"
	}
	s.metrics.PredictionsTotal.WithLabelValues(blend.Source, label).Inc()

	return resultFromStored(p, model.Version, false), nil
}

// GetPrediction returns a stored prediction by id.
func (s *Service) GetPrediction(orgID, predictionID string) (*storage.Prediction, error) {
	return s.store.GetPrediction(orgID, predictionID)
}

// mlPredict runs the backend chain against the model's weights of record.
// Every failure path degrades to a nil score so the caller falls back to
// statistical-only output.
func (s *Service) mlPredict(ctx context.Context, model *storage.Model, entityID string, featureMap map[string]float64) (*float64, *float64, string) {
	if model.Status != common.StatusActive || len(model.Weights) == 0 {
		return nil, nil, ""
	}

	vec, err := features.WeightedVector(featureMap, model.FeatureNames, model.FeatureWeights)
	if err != nil {
		log.Error().Err(err).
			Str("modelId", model.ID).
			Str("entityId", entityID).
			Msg("feature catalogue mismatch, model output disabled")
		return nil, nil, ""
	}

	tctx, cancel := context.WithTimeout(ctx, s.predictTimeout)
	defer cancel()

	if be, name, ok := s.cache.Get(model.ID, model.Version); ok {
		s.metrics.CacheHits.Inc()
		if score, err := be.Predict(tctx, vec); err == nil {
			return s.mlResult(model, score, name)
		} else {
			log.Warn().Err(err).Str("modelId", model.ID).Str("backend", name).
				Str("entityId", entityID).Msg("cached backend failed, reloading chain")
			s.cache.Invalidate(model.ID)
		}
	} else {
		s.metrics.CacheMisses.Inc()
	}

	w, err := ml.DecodeWeights(model.Weights)
	if err != nil {
		log.Info().Err(err).Str("modelId", model.ID).
			Msg("unusable stored weights, treating as no model")
		return nil, nil, ""
	}

	score, winner, ok := s.newChain().PredictKeep(tctx, w, vec)
	if !ok {
		log.Warn().Str("modelId", model.ID).Str("entityId", entityID).
			Msg("all inference backends failed, degrading to statistical output")
		return nil, nil, ""
	}
	if winner.Name != "tensor" {
		s.metrics.BackendFallbacks.WithLabelValues("tensor").Inc()
	}
	s.cache.Put(model.ID, model.Version, winner.Name, winner.Backend)
	return s.mlResult(model, score, winner.Name)
}

func (s *Service) mlResult(model *storage.Model, score float64, backend string) (*float64, *float64, string) {
	if score < common.MinScore {
		score = common.MinScore
	}
	if score > common.MaxScore {
		score = common.MaxScore
	}
	conf := modelConfidence(model)
	return &score, &conf, backend
}

// modelConfidence weights the model's output by how well it validated; a
// model with no recorded accuracy gets an even-odds confidence.
func modelConfidence(model *storage.Model) float64 {
	switch {
	case model.ValidationAccuracy > 0:
		return model.ValidationAccuracy
	case model.TrainingAccuracy > 0:
		return model.TrainingAccuracy
	default:
		return 50
	}
}

// statConfidence scores how much to trust the rule-based baseline. Hard
// signals like expiring or overdue certificates and open defects raise it;
// a breakdown driven only by coverage gaps lowers it.
func statConfidence(b *scorer.Breakdown) float64 {
	f := b.Factors

	conf := 70.0
	if f.ExpiringCertificates > 0 || f.OverdueCertificates > 0 {
		conf += 15
	}
	if f.OpenDefects > 0 {
		conf += 10
	}
	if f.CriticalDefects > 0 {
		conf += 5
	}

	onlyCoverageGaps := f.MissingCoverage > 0 &&
		f.ExpiringCertificates == 0 && f.OverdueCertificates == 0 && f.OpenDefects == 0
	if onlyCoverageGaps {
		conf = 50
	}

	if conf > common.MaxScore {
		conf = common.MaxScore
	}
	return conf
}

func resultFromStored(p *storage.Prediction, modelVersion int, reused bool) *Result {
	return &Result{
		PredictionID:   p.ID,
		EntityID:       p.EntityID,
		OrganisationID: p.OrganisationID,
		ModelID:        p.ModelID,
		ModelVersion:   modelVersion,
		StatScore:      p.StatScore,
		StatConfidence: p.StatConfidence,
		MLScore:        p.MLScore,
		MLConfidence:   p.MLConfidence,
		MLBackend:      p.MLBackend,
		Score:          p.BlendedScore,
		Confidence:     p.BlendedConfidence,
		Category:       p.RiskCategory,
		DaysToBreach:   p.DaysToBreach,
		BreachDate:     p.PredictedBreachDate,
		Source:         p.Source,
		Reused:         reused,
		CreatedAt:      p.CreatedAt,
		ExpiresAt:      p.ExpiresAt,
	}
}
