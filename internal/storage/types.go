package storage

import (
	"encoding/json"
	"time"

	"riskengine/internal/ml"
)

// Hyperparameters is the training configuration snapshot carried by models
// and training runs.
type Hyperparameters struct {
	LearningRate float64 `json:"learningRate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batchSize"`
}

// Model is the single learned model for one (organisation, prediction-type)
// pair. It is created on the first prediction request and updated in place
// by retraining; it is never re-created per run.
type Model struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisationId"`
	PredictionType string `json:"predictionType"`
	Version        int    `json:"version"`
	Status         string `json:"status"`

	FeatureNames     []string           `json:"featureNames"`
	HiddenSizes      []int              `json:"hiddenSizes"`
	OutputActivation string             `json:"outputActivation"`
	Weights          json.RawMessage    `json:"weights,omitempty"`
	Hyperparameters  Hyperparameters    `json:"hyperparameters"`
	FeatureWeights   map[string]float64 `json:"featureWeights,omitempty"`

	TotalPredictions   int        `json:"totalPredictions"`
	CorrectPredictions int        `json:"correctPredictions"`
	FeedbackCount      int        `json:"feedbackCount"`
	TrainingAccuracy   float64    `json:"trainingAccuracy"`
	ValidationAccuracy float64    `json:"validationAccuracy"`
	TrainingLoss       float64    `json:"trainingLoss"`
	ValidationLoss     float64    `json:"validationLoss"`
	LastTrainedAt      *time.Time `json:"lastTrainedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Prediction is the immutable audit record of one inference call. It doubles
// as a short-lived evaluation cache via ExpiresAt; it is never mutated after
// creation except to attach an observed outcome.
type Prediction struct {
	ID             string `json:"id"`
	ModelID        string `json:"modelId"`
	EntityID       string `json:"entityId"`
	OrganisationID string `json:"organisationId"`

	StatScore      float64  `json:"statScore"`
	StatConfidence float64  `json:"statConfidence"`
	MLScore        *float64 `json:"mlScore,omitempty"`
	MLConfidence   *float64 `json:"mlConfidence,omitempty"`
	MLBackend      string   `json:"mlBackend,omitempty"`

	BlendedScore        int        `json:"blendedScore"`
	BlendedConfidence   int        `json:"blendedConfidence"`
	RiskCategory        string     `json:"riskCategory"`
	DaysToBreach        *int       `json:"daysToBreach,omitempty"`
	PredictedBreachDate *time.Time `json:"predictedBreachDate,omitempty"`
	Source              string     `json:"source"`

	Features        map[string]float64 `json:"features"`
	IsTest          bool               `json:"isTest"`
	ObservedOutcome *float64           `json:"observedOutcome,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Feedback is one human correction against a past prediction. It is mutated
// exactly once, when a training run consumes it.
type Feedback struct {
	ID                string    `json:"id"`
	PredictionID      string    `json:"predictionId"`
	OrganisationID    string    `json:"organisationId"`
	FeedbackType      string    `json:"feedbackType"`
	CorrectedScore    *float64  `json:"correctedScore,omitempty"`
	CorrectedCategory *string   `json:"correctedCategory,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	UsedForTraining   bool      `json:"usedForTraining"`
	TrainingRunID     string    `json:"trainingRunId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// TrainingRun is one retraining attempt. Status transitions TRAINING to
// ACTIVE or FAILED are terminal; a run is never resumed.
type TrainingRun struct {
	ID             string `json:"id"`
	ModelID        string `json:"modelId"`
	OrganisationID string `json:"organisationId"`
	PredictionType string `json:"predictionType"`
	Status         string `json:"status"`

	Hyperparameters Hyperparameters `json:"hyperparameters"`
	Backend         string          `json:"backend,omitempty"`

	CurrentEpoch     int     `json:"currentEpoch"`
	Progress         float64 `json:"progress"`
	SampleCount      int     `json:"sampleCount"`
	FeedbackSamples  int     `json:"feedbackSamples"`
	BootstrapSamples int     `json:"bootstrapSamples"`

	FinalAccuracy      float64         `json:"finalAccuracy"`
	FinalLoss          float64         `json:"finalLoss"`
	ValidationAccuracy float64         `json:"validationAccuracy"`
	ValidationLoss     float64         `json:"validationLoss"`
	History            []ml.EpochStats `json:"history,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}
