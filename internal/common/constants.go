package common

// Prediction types
const (
	PredictionTypeBreachProbability = "BREACH_PROBABILITY"
	PredictionTypeDaysToBreach      = "DAYS_TO_BREACH"
	PredictionTypeRiskCategory      = "RISK_CATEGORY"
)

// Model and training run statuses
const (
	StatusTraining = "TRAINING"
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusFailed   = "FAILED"
)

// Feedback types
const (
	FeedbackCorrect          = "CORRECT"
	FeedbackIncorrect        = "INCORRECT"
	FeedbackPartiallyCorrect = "PARTIALLY_CORRECT"
)

// Risk categories
const (
	CategoryCritical = "CRITICAL"
	CategoryHigh     = "HIGH"
	CategoryMedium   = "MEDIUM"
	CategoryLow      = "LOW"
)

// Environment variable keys
const (
	EnvScorerURL           = "SCORER_URL"
	EnvScorerTimeout       = "SCORER_TIMEOUT"
	EnvDataPath            = "DATA_PATH"
	EnvMetricsPort         = "METRICS_PORT"
	EnvListenPort          = "LISTEN_PORT"
	EnvPredictTimeout      = "PREDICT_TIMEOUT"
	EnvPredictionTTL       = "PREDICTION_TTL"
	EnvLearningRate        = "LEARNING_RATE"
	EnvEpochs              = "EPOCHS"
	EnvBatchSize           = "BATCH_SIZE"
	EnvMaxFeedbackBatch    = "MAX_FEEDBACK_BATCH"
	EnvMinTrainingExamples = "MIN_TRAINING_EXAMPLES"
	EnvBootstrapSamples    = "BOOTSTRAP_SAMPLES"
)

// Configuration defaults
const (
	DefaultScorerURL           = "http://localhost:8090"
	DefaultMetricsPort         = 9091
	DefaultListenPort          = 8080
	DefaultLearningRate        = 0.01
	DefaultEpochs              = 100
	DefaultBatchSize           = 32
	DefaultMaxFeedbackBatch    = 1000
	DefaultMinTrainingExamples = 10
	DefaultBootstrapSamples    = 50
)

// Score bounds shared across the engine. Scores and confidences live on a
// 0-100 scale at the interface boundary; training targets are score/100.
const (
	MinScore = 0.0
	MaxScore = 100.0

	// A training prediction counts as correct when it lands within this
	// many points of the target on the 0-100 scale.
	AccuracyTolerance = 15.0
)
