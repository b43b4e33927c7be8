package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"riskengine/internal/common"
)

// Settings holds the resolved runtime configuration for the engine.
type Settings struct {
	DataPath       string
	ScorerURL      string
	ScorerTimeout  time.Duration
	MetricsPort    int
	ListenPort     int
	PredictTimeout time.Duration
	PredictionTTL  time.Duration

	// Training defaults; per-model hyperparameters stored on the Model
	// take precedence once a model exists.
	LearningRate        float64
	Epochs              int
	BatchSize           int
	MaxFeedbackBatch    int
	MinTrainingExamples int
	BootstrapSamples    int
}

type ConfigFile struct {
	Scorer struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"scorer"`

	Training struct {
		LearningRate        float64 `yaml:"learningRate"`
		Epochs              int     `yaml:"epochs"`
		BatchSize           int     `yaml:"batchSize"`
		MaxFeedbackBatch    int     `yaml:"maxFeedbackBatch"`
		MinTrainingExamples int     `yaml:"minTrainingExamples"`
		BootstrapSamples    int     `yaml:"bootstrapSamples"`
	} `yaml:"training"`

	Prediction struct {
		Timeout string `yaml:"timeout"`
		TTL     string `yaml:"ttl"`
	} `yaml:"prediction"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		MetricsPort int    `yaml:"metricsPort"`
		ListenPort  int    `yaml:"listenPort"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	scorerTimeout, err := time.ParseDuration(config.Scorer.Timeout)
	if err != nil {
		scorerTimeout = 5 * time.Second
	}
	predictTimeout, err := time.ParseDuration(config.Prediction.Timeout)
	if err != nil {
		predictTimeout = 2 * time.Second
	}
	predictionTTL, err := time.ParseDuration(config.Prediction.TTL)
	if err != nil {
		predictionTTL = 24 * time.Hour
	}

	settings := Settings{
		DataPath:            getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		ScorerURL:           getEnvOrDefault(common.EnvScorerURL, config.Scorer.URL),
		ScorerTimeout:       scorerTimeout,
		MetricsPort:         getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort),
		ListenPort:          getIntFromEnvOrConfig(common.EnvListenPort, config.System.ListenPort),
		PredictTimeout:      predictTimeout,
		PredictionTTL:       predictionTTL,
		LearningRate:        getFloatFromEnvOrConfig(common.EnvLearningRate, config.Training.LearningRate),
		Epochs:              getIntFromEnvOrConfig(common.EnvEpochs, config.Training.Epochs),
		BatchSize:           getIntFromEnvOrConfig(common.EnvBatchSize, config.Training.BatchSize),
		MaxFeedbackBatch:    getIntFromEnvOrConfig(common.EnvMaxFeedbackBatch, config.Training.MaxFeedbackBatch),
		MinTrainingExamples: getIntFromEnvOrConfig(common.EnvMinTrainingExamples, config.Training.MinTrainingExamples),
		BootstrapSamples:    getIntFromEnvOrConfig(common.EnvBootstrapSamples, config.Training.BootstrapSamples),
	}
	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		DataPath:            os.Getenv(common.EnvDataPath), // optional
		ScorerURL:           getEnvOrDefault(common.EnvScorerURL, common.DefaultScorerURL),
		ScorerTimeout:       getDurationOrDefault(common.EnvScorerTimeout, 5*time.Second),
		MetricsPort:         getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		ListenPort:          getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		PredictTimeout:      getDurationOrDefault(common.EnvPredictTimeout, 2*time.Second),
		PredictionTTL:       getDurationOrDefault(common.EnvPredictionTTL, 24*time.Hour),
		LearningRate:        getFloatOrDefault(common.EnvLearningRate, common.DefaultLearningRate),
		Epochs:              getIntOrDefault(common.EnvEpochs, common.DefaultEpochs),
		BatchSize:           getIntOrDefault(common.EnvBatchSize, common.DefaultBatchSize),
		MaxFeedbackBatch:    getIntOrDefault(common.EnvMaxFeedbackBatch, common.DefaultMaxFeedbackBatch),
		MinTrainingExamples: getIntOrDefault(common.EnvMinTrainingExamples, common.DefaultMinTrainingExamples),
		BootstrapSamples:    getIntOrDefault(common.EnvBootstrapSamples, common.DefaultBootstrapSamples),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func applyDefaults(s *Settings) {
	if s.ScorerURL == "" {
		s.ScorerURL = common.DefaultScorerURL
	}
	if s.MetricsPort == 0 {
		s.MetricsPort = common.DefaultMetricsPort
	}
	if s.ListenPort == 0 {
		s.ListenPort = common.DefaultListenPort
	}
	if s.LearningRate == 0 {
		s.LearningRate = common.DefaultLearningRate
	}
	if s.Epochs == 0 {
		s.Epochs = common.DefaultEpochs
	}
	if s.BatchSize == 0 {
		s.BatchSize = common.DefaultBatchSize
	}
	if s.MaxFeedbackBatch == 0 {
		s.MaxFeedbackBatch = common.DefaultMaxFeedbackBatch
	}
	if s.MinTrainingExamples == 0 {
		s.MinTrainingExamples = common.DefaultMinTrainingExamples
	}
	if s.BootstrapSamples == 0 {
		s.BootstrapSamples = common.DefaultBootstrapSamples
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	return configValue
}

func getFloatFromEnvOrConfig(key string, configValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs validation of configuration values.
func validateSettings(s *Settings) error {
	if s.ScorerURL == "" {
		return fmt.Errorf("scorer URL cannot be empty")
	}
	if s.ScorerTimeout < time.Second || s.ScorerTimeout > time.Minute {
		return fmt.Errorf("scorer timeout must be between 1s and 1m, got %v", s.ScorerTimeout)
	}
	if s.PredictTimeout < 100*time.Millisecond || s.PredictTimeout > time.Minute {
		return fmt.Errorf("predict timeout must be between 100ms and 1m, got %v", s.PredictTimeout)
	}
	if s.PredictionTTL < time.Minute || s.PredictionTTL > 7*24*time.Hour {
		return fmt.Errorf("prediction TTL must be between 1m and 168h, got %v", s.PredictionTTL)
	}
	if s.MetricsPort < 1024 || s.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", s.MetricsPort)
	}
	if s.ListenPort < 1024 || s.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1024 and 65535, got %d", s.ListenPort)
	}
	if s.LearningRate <= 0 || s.LearningRate > 1 {
		return fmt.Errorf("learning rate must be between 0 and 1, got %f", s.LearningRate)
	}
	if s.Epochs <= 0 || s.Epochs > 10000 {
		return fmt.Errorf("epochs must be between 1 and 10000, got %d", s.Epochs)
	}
	if s.BatchSize <= 0 || s.BatchSize > 1024 {
		return fmt.Errorf("batch size must be between 1 and 1024, got %d", s.BatchSize)
	}
	if s.MaxFeedbackBatch <= 0 || s.MaxFeedbackBatch > 100000 {
		return fmt.Errorf("max feedback batch must be between 1 and 100000, got %d", s.MaxFeedbackBatch)
	}
	if s.MinTrainingExamples <= 0 {
		return fmt.Errorf("min training examples must be positive, got %d", s.MinTrainingExamples)
	}
	if s.BootstrapSamples < 0 || s.BootstrapSamples > 10000 {
		return fmt.Errorf("bootstrap samples must be between 0 and 10000, got %d", s.BootstrapSamples)
	}
	return nil
}
