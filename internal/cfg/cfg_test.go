package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults with no env",
			envVars: map[string]string{},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ScorerURL != "http://localhost:8090" {
					t.Errorf("expected default ScorerURL, got %s", settings.ScorerURL)
				}
				if settings.Epochs != 100 {
					t.Errorf("expected default Epochs 100, got %d", settings.Epochs)
				}
				if settings.LearningRate != 0.01 {
					t.Errorf("expected default LearningRate 0.01, got %f", settings.LearningRate)
				}
				if settings.MaxFeedbackBatch != 1000 {
					t.Errorf("expected default MaxFeedbackBatch 1000, got %d", settings.MaxFeedbackBatch)
				}
				if settings.MinTrainingExamples != 10 {
					t.Errorf("expected default MinTrainingExamples 10, got %d", settings.MinTrainingExamples)
				}
				if settings.PredictionTTL != 24*time.Hour {
					t.Errorf("expected default PredictionTTL 24h, got %v", settings.PredictionTTL)
				}
			},
		},
		{
			name: "custom training settings",
			envVars: map[string]string{
				"SCORER_URL":      "http://scorer:9000",
				"LEARNING_RATE":   "0.005",
				"EPOCHS":          "200",
				"BATCH_SIZE":      "64",
				"PREDICT_TIMEOUT": "500ms",
				"METRICS_PORT":    "9100",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ScorerURL != "http://scorer:9000" {
					t.Errorf("expected ScorerURL override, got %s", settings.ScorerURL)
				}
				if settings.LearningRate != 0.005 {
					t.Errorf("expected LearningRate 0.005, got %f", settings.LearningRate)
				}
				if settings.Epochs != 200 {
					t.Errorf("expected Epochs 200, got %d", settings.Epochs)
				}
				if settings.BatchSize != 64 {
					t.Errorf("expected BatchSize 64, got %d", settings.BatchSize)
				}
				if settings.PredictTimeout != 500*time.Millisecond {
					t.Errorf("expected PredictTimeout 500ms, got %v", settings.PredictTimeout)
				}
				if settings.MetricsPort != 9100 {
					t.Errorf("expected MetricsPort 9100, got %d", settings.MetricsPort)
				}
			},
		},
		{
			name: "invalid learning rate rejected",
			envVars: map[string]string{
				"LEARNING_RATE": "1.5",
			},
			wantErr: true,
		},
		{
			name: "invalid metrics port rejected",
			envVars: map[string]string{
				"METRICS_PORT": "80",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			settings, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	os.Clearenv()

	configContent := `
scorer:
  url: "http://scorer.internal:8090"
  timeout: "10s"
training:
  learningRate: 0.02
  epochs: 150
  batchSize: 16
  maxFeedbackBatch: 500
prediction:
  timeout: "1s"
  ttl: "12h"
system:
  dataPath: "/tmp/riskengine"
  metricsPort: 9200
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	os.Setenv("CONFIG_FILE", path)
	defer os.Unsetenv("CONFIG_FILE")

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if settings.ScorerURL != "http://scorer.internal:8090" {
		t.Errorf("expected yaml scorer url, got %s", settings.ScorerURL)
	}
	if settings.ScorerTimeout != 10*time.Second {
		t.Errorf("expected scorer timeout 10s, got %v", settings.ScorerTimeout)
	}
	if settings.LearningRate != 0.02 {
		t.Errorf("expected learning rate 0.02, got %f", settings.LearningRate)
	}
	if settings.Epochs != 150 {
		t.Errorf("expected epochs 150, got %d", settings.Epochs)
	}
	if settings.MaxFeedbackBatch != 500 {
		t.Errorf("expected max feedback batch 500, got %d", settings.MaxFeedbackBatch)
	}
	if settings.PredictionTTL != 12*time.Hour {
		t.Errorf("expected prediction ttl 12h, got %v", settings.PredictionTTL)
	}
	if settings.DataPath != "/tmp/riskengine" {
		t.Errorf("expected data path from yaml, got %s", settings.DataPath)
	}
	// Unset values fall back to defaults.
	if settings.MinTrainingExamples != 10 {
		t.Errorf("expected default MinTrainingExamples, got %d", settings.MinTrainingExamples)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	os.Clearenv()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("training:\n  epochs: 50\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("EPOCHS", "75")
	defer os.Clearenv()

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Epochs != 75 {
		t.Errorf("expected env override 75, got %d", settings.Epochs)
	}
}
