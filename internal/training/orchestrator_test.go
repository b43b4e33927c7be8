package training

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

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

type fakeScorer struct {
	breakdown *scorer.Breakdown
	entities  []string
	scoreErr  error
}

func (f *fakeScorer) Score(ctx context.Context, entityID, orgID string) (*scorer.Breakdown, error) {
	if f.scoreErr != nil {
		return nil, f.scoreErr
	}
	return f.breakdown, nil
}

func (f *fakeScorer) SampleEntities(ctx context.Context, orgID string, limit int) ([]string, error) {
	if limit < len(f.entities) {
		return f.entities[:limit], nil
	}
	return f.entities, nil
}

type trainableFake struct {
	name     string
	trainErr error // returned after any configured checkpoints are emitted
	accuracy float64
	epochs   []int // progress checkpoints to emit
	block    chan struct{}
	onTrain  func()

	mu      sync.Mutex
	trained [][]ml.Example
}

func (f *trainableFake) Name() string                    { return f.name }
func (f *trainableFake) LoadWeights(w *ml.Weights) error { return nil }

func (f *trainableFake) Predict(ctx context.Context, v []float64) (float64, error) {
	return 50, nil
}

func (f *trainableFake) Train(ctx context.Context, ex []ml.Example, cfg ml.TrainConfig, fn ml.ProgressFunc) (*ml.TrainResult, error) {
	if f.block != nil {
		<-f.block
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.trained = append(f.trained, ex)
	f.mu.Unlock()
	if f.onTrain != nil {
		f.onTrain()
	}
	for _, e := range f.epochs {
		if fn != nil {
			fn(e, cfg.Epochs, ml.EpochStats{Epoch: e, Loss: 0.1, Accuracy: f.accuracy})
		}
	}
	if f.trainErr != nil {
		return nil, f.trainErr
	}
	return &ml.TrainResult{
		FinalLoss:          0.1,
		FinalAccuracy:      f.accuracy,
		ValidationLoss:     0.12,
		ValidationAccuracy: f.accuracy - 0.05,
		SampleCount:        len(ex),
	}, nil
}

func (f *trainableFake) ExportWeights() (*ml.Weights, error) {
	in := len(features.Names())
	w := &ml.Weights{
		Format:      ml.FormatFeedForward,
		InputSize:   in,
		HiddenSizes: []int{2},
		Layers: []ml.Layer{
			{Weights: make([][]float64, in), Biases: []float64{0, 0}},
			{Weights: [][]float64{{0.5}, {0.5}}, Biases: []float64{0}},
		},
	}
	for i := range w.Layers[0].Weights {
		w.Layers[0].Weights[i] = []float64{0.1, 0.1}
	}
	return w, nil
}

func (f *trainableFake) trainCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trained)
}

func testBreakdown(score float64) *scorer.Breakdown {
	return &scorer.Breakdown{
		OverallScore: score,
		ExpiryRisk:   score,
		Factors:      scorer.FactorBreakdown{ExpiringCertificates: 1},
	}
}

func testSettings() cfg.Settings {
	return cfg.Settings{
		LearningRate:        common.DefaultLearningRate,
		Epochs:              30,
		BatchSize:           8,
		MaxFeedbackBatch:    common.DefaultMaxFeedbackBatch,
		MinTrainingExamples: common.DefaultMinTrainingExamples,
		BootstrapSamples:    common.DefaultBootstrapSamples,
	}
}

func newTestOrchestrator(t *testing.T, sc scorer.Scorer) (*Orchestrator, *storage.Store, *registry.Registry) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	settings := testSettings()
	reg := registry.New(store, settings)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	o := New(store, reg, sc, predict.NewBackendCache(), m, settings)
	return o, store, reg
}

// seedFeedback stores n predictions with one feedback row each.
func seedFeedback(t *testing.T, store *storage.Store, modelID string, n int, feedbackType string, corrected *float64) {
	t.Helper()
	now := time.Now().UTC()
	fm := features.FromBreakdown(testBreakdown(80))
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		p := &storage.Prediction{
			ID:             "p-" + id,
			ModelID:        modelID,
			EntityID:       "e-" + id,
			OrganisationID: "org-1",
			StatScore:      80,
			Features:       fm,
			CreatedAt:      now,
			ExpiresAt:      now.Add(time.Hour),
		}
		if err := store.SavePrediction(p); err != nil {
			t.Fatal(err)
		}
		f := &storage.Feedback{
			ID:             "f-" + id,
			PredictionID:   p.ID,
			OrganisationID: "org-1",
			FeedbackType:   feedbackType,
			CorrectedScore: corrected,
			CreatedAt:      now.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveFeedback(f); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunTrainsOnFeedback(t *testing.T) {
	o, store, reg := newTestOrchestrator(t, &fakeScorer{breakdown: testBreakdown(80)})
	model, err := reg.GetOrCreate("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	seedFeedback(t, store, model.ID, 12, common.FeedbackCorrect, nil)

	primary := &trainableFake{name: "tensor", accuracy: 0.9, epochs: []int{10, 20, 30}}
	o.newPrimary = func() ml.Backend { return primary }

	sum, err := o.Run(context.Background(), "org-1", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Backend != "tensor" {
		t.Errorf("Backend = %s, want tensor", sum.Backend)
	}
	if sum.FeedbackSamples != 12 || sum.BootstrapSamples != 0 {
		t.Errorf("samples = (%d, %d), want (12, 0)", sum.FeedbackSamples, sum.BootstrapSamples)
	}

	// CORRECT feedback reinforces the statistical score as the target
	for _, ex := range primary.trained[0] {
		if ex.Target != 0.8 {
			t.Errorf("Target = %f, want 0.8", ex.Target)
		}
	}

	updated, err := store.GetModel("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != common.StatusActive {
		t.Errorf("Status = %s, want ACTIVE", updated.Status)
	}
	if updated.Version != model.Version+1 {
		t.Errorf("Version = %d, want bump from %d", updated.Version, model.Version)
	}
	if len(updated.Weights) == 0 {
		t.Error("model weights not swapped in")
	}
	if updated.TrainingAccuracy != 90 {
		t.Errorf("TrainingAccuracy = %f, want 90", updated.TrainingAccuracy)
	}
	if updated.LastTrainedAt == nil {
		t.Error("LastTrainedAt not set")
	}

	fb, err := store.GetFeedback("org-1", "f-a")
	if err != nil {
		t.Fatal(err)
	}
	if !fb.UsedForTraining || fb.TrainingRunID != sum.RunID {
		t.Errorf("feedback not marked consumed: %+v", fb)
	}

	run, err := store.LatestTrainingRun("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != common.StatusActive || run.CompletedAt == nil {
		t.Errorf("run = %+v, want completed ACTIVE", run)
	}
	if len(run.History) != 3 {
		t.Errorf("History = %d checkpoints, want 3", len(run.History))
	}
}

func TestRunCorrectedScoreLabels(t *testing.T) {
	o, store, reg := newTestOrchestrator(t, &fakeScorer{breakdown: testBreakdown(80)})
	model, err := reg.GetOrCreate("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	corrected := 30.0
	seedFeedback(t, store, model.ID, 12, common.FeedbackIncorrect, &corrected)

	primary := &trainableFake{name: "tensor", accuracy: 0.8}
	o.newPrimary = func() ml.Backend { return primary }

	if _, err := o.Run(context.Background(), "org-1", nil); err != nil {
		t.Fatal(err)
	}
	for _, ex := range primary.trained[0] {
		if ex.Target != 0.3 {
			t.Errorf("Target = %f, want corrected 0.3", ex.Target)
		}
	}
}

func TestRunSkipsUnlabelledFeedback(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, reg := newTestOrchestrator(t, sc)
	model, err := reg.GetOrCreate("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	// corrections without a corrected score carry no label
	seedFeedback(t, store, model.ID, 12, common.FeedbackIncorrect, nil)

	primary := &trainableFake{name: "tensor", accuracy: 0.8}
	o.newPrimary = func() ml.Backend { return primary }

	sum, err := o.Run(context.Background(), "org-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.FeedbackSamples != 0 {
		t.Errorf("FeedbackSamples = %d, want 0", sum.FeedbackSamples)
	}
	if sum.BootstrapSamples != 10 {
		t.Errorf("BootstrapSamples = %d, want 10", sum.BootstrapSamples)
	}

	// unlabelled rows stay available, they were never consumed
	fb, err := store.GetFeedback("org-1", "f-a")
	if err != nil {
		t.Fatal(err)
	}
	if fb.UsedForTraining {
		t.Error("unlabelled feedback must not be marked consumed")
	}
}

func TestRunBootstrapsOnColdStart(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10", "e11"}}
	o, _, _ := newTestOrchestrator(t, sc)

	primary := &trainableFake{name: "tensor", accuracy: 0.7}
	o.newPrimary = func() ml.Backend { return primary }

	sum, err := o.Run(context.Background(), "org-1", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.BootstrapSamples != 11 || sum.SampleCount != 11 {
		t.Errorf("samples = (%d, %d), want 11 bootstrapped", sum.BootstrapSamples, sum.SampleCount)
	}
	for _, ex := range primary.trained[0] {
		if ex.Target != 0.6 {
			t.Errorf("bootstrap Target = %f, want statistical 0.6", ex.Target)
		}
	}
}

func TestRunInsufficientData(t *testing.T) {
	o, store, reg := newTestOrchestrator(t, &fakeScorer{breakdown: testBreakdown(60)})
	model, err := reg.GetOrCreate("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.Run(context.Background(), "org-1", nil)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("error = %v, want ErrInsufficientData", err)
	}

	run, err := store.LatestTrainingRun("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != common.StatusFailed || run.Error == "" {
		t.Errorf("run = %+v, want FAILED with error", run)
	}

	unchanged, err := store.GetModel("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if unchanged.Status != common.StatusTraining || unchanged.Weights != nil || unchanged.Version != model.Version {
		t.Errorf("failed run must leave the model untouched, got %+v", unchanged)
	}
}

func TestRunFallsBackWhenPrimaryFails(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, _ := newTestOrchestrator(t, sc)

	primary := &trainableFake{name: "tensor", trainErr: errors.New("solver diverged")}
	fallback := &trainableFake{name: "feedforward", accuracy: 0.75}
	o.newPrimary = func() ml.Backend { return primary }
	o.newFallback = func() ml.Backend { return fallback }

	sum, err := o.Run(context.Background(), "org-1", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Backend != "feedforward" {
		t.Errorf("Backend = %s, want feedforward", sum.Backend)
	}

	run, err := store.LatestTrainingRun("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if run.Backend != "feedforward" || run.Status != common.StatusActive {
		t.Errorf("run = %+v, want ACTIVE on feedforward", run)
	}
}

func TestFallbackRestartsEpochHistory(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, _ := newTestOrchestrator(t, sc)

	// primary checkpoints twice, then dies partway through
	primary := &trainableFake{name: "tensor", epochs: []int{10, 20}, trainErr: errors.New("solver diverged")}
	fallback := &trainableFake{name: "feedforward", accuracy: 0.8, epochs: []int{10, 20, 30}}
	o.newPrimary = func() ml.Backend { return primary }
	o.newFallback = func() ml.Backend { return fallback }

	sum, err := o.Run(context.Background(), "org-1", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sum.History) != 3 {
		t.Fatalf("History = %d entries, want only the 3 fallback checkpoints", len(sum.History))
	}
	for i, st := range sum.History {
		if st.Epoch != (i+1)*10 {
			t.Fatalf("history not ordered from the fallback attempt: %+v", sum.History)
		}
	}

	run, err := store.LatestTrainingRun("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if len(run.History) != 3 {
		t.Errorf("persisted History = %d entries, want 3", len(run.History))
	}
}

func TestSwapKeepsCountersBumpedDuringTraining(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, reg := newTestOrchestrator(t, sc)
	model, err := reg.GetOrCreate("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}

	primary := &trainableFake{name: "tensor", accuracy: 0.9}
	primary.onTrain = func() {
		// an inference lands while the epochs grind on
		if err := store.IncrementPredictionCount("org-1", common.PredictionTypeBreachProbability, time.Now().UTC()); err != nil {
			t.Error(err)
		}
	}
	o.newPrimary = func() ml.Backend { return primary }

	if _, err := o.Run(context.Background(), "org-1", nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	after, err := store.GetModel("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if after.TotalPredictions != 1 {
		t.Errorf("TotalPredictions = %d, want counter bumped mid-run to survive the swap", after.TotalPredictions)
	}
	if after.Version != model.Version+1 || len(after.Weights) == 0 {
		t.Errorf("swap incomplete: version=%d weightsLen=%d", after.Version, len(after.Weights))
	}
}

func TestRunAppliesFeatureWeightPriors(t *testing.T) {
	o, store, reg := newTestOrchestrator(t, &fakeScorer{breakdown: testBreakdown(80)})
	model, err := reg.GetOrCreate("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.UpdateSettings("org-1", common.PredictionTypeBreachProbability,
		storage.Hyperparameters{}, map[string]float64{"overall_risk": 0}); err != nil {
		t.Fatal(err)
	}
	seedFeedback(t, store, model.ID, 12, common.FeedbackCorrect, nil)

	primary := &trainableFake{name: "tensor", accuracy: 0.8}
	o.newPrimary = func() ml.Backend { return primary }

	if _, err := o.Run(context.Background(), "org-1", nil); err != nil {
		t.Fatal(err)
	}
	for _, ex := range primary.trained[0] {
		// overall_risk leads the catalogue
		if ex.Features[0] != 0 {
			t.Errorf("overall_risk = %f, want zeroed by prior", ex.Features[0])
		}
	}
}

func TestRunFailurePreservesExistingWeights(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, reg := newTestOrchestrator(t, sc)
	model, err := reg.GetOrCreate("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}

	good := &trainableFake{name: "tensor", accuracy: 0.9}
	weights, _ := good.ExportWeights()
	blob, _ := weights.Encode()
	model.Weights = blob
	model.Status = common.StatusActive
	if err := store.SaveModel(model); err != nil {
		t.Fatal(err)
	}

	o.newPrimary = func() ml.Backend { return &trainableFake{name: "tensor", trainErr: errors.New("boom")} }
	o.newFallback = func() ml.Backend { return &trainableFake{name: "feedforward", trainErr: errors.New("also boom")} }

	if _, err := o.Run(context.Background(), "org-1", nil); err == nil {
		t.Fatal("expected training failure")
	}

	after, err := store.GetModel("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if string(after.Weights) != string(blob) {
		t.Error("failed retrain corrupted the previous weights")
	}
	if after.Status != common.StatusActive || after.Version != model.Version {
		t.Errorf("model = %+v, want prior ACTIVE state intact", after)
	}
}

func TestRunSerialisesPerModel(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, _, _ := newTestOrchestrator(t, sc)

	block := make(chan struct{})
	o.newPrimary = func() ml.Backend {
		return &trainableFake{name: "tensor", accuracy: 0.8, block: block}
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), "org-1", nil)
		done <- err
	}()

	// wait until the first run holds the model lock
	deadline := time.After(2 * time.Second)
	for {
		o.mu.Lock()
		held := len(o.active) == 1
		o.mu.Unlock()
		if held {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first run never acquired the model lock")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := o.Run(context.Background(), "org-1", nil); !errors.Is(err, ErrAlreadyTraining) {
		t.Errorf("concurrent run error = %v, want ErrAlreadyTraining", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// the lock is released after completion
	if _, err := o.Run(context.Background(), "org-1", nil); err != nil {
		t.Errorf("follow-up run error = %v", err)
	}
}

func TestRunCancellation(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, _ := newTestOrchestrator(t, sc)

	fallback := &trainableFake{name: "feedforward", accuracy: 0.8}
	o.newPrimary = func() ml.Backend { return &trainableFake{name: "tensor", accuracy: 0.8} }
	o.newFallback = func() ml.Backend { return fallback }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := o.Run(ctx, "org-1", nil); err == nil {
		t.Fatal("expected cancellation error")
	}
	if fallback.trainCalls() != 0 {
		t.Error("cancellation must not trigger the fallback backend")
	}

	run, err := store.LatestTrainingRun("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != common.StatusFailed {
		t.Errorf("run status = %s, want FAILED after cancellation", run.Status)
	}
}

func TestProgressEvents(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, _ := newTestOrchestrator(t, sc)

	o.newPrimary = func() ml.Backend {
		return &trainableFake{name: "tensor", accuracy: 0.8, epochs: []int{10, 20, 30}}
	}

	events, cancel := o.Subscribe()
	defer cancel()

	sum, err := o.Run(context.Background(), "org-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	var got []ProgressEvent
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	if got[0].Epoch != 10 || got[0].Status != common.StatusTraining {
		t.Errorf("first event = %+v, want epoch 10 TRAINING", got[0])
	}
	last := got[len(got)-1]
	if last.Status != common.StatusActive || last.Progress != 100 {
		t.Errorf("final event = %+v, want ACTIVE at 100%%", last)
	}

	// checkpoints were persisted along the way, not only at completion
	run, err := store.LatestTrainingRun("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != sum.RunID || len(run.History) != 3 {
		t.Errorf("run history = %d entries, want 3", len(run.History))
	}
}

func TestTriggerRunsInBackground(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, _ := newTestOrchestrator(t, sc)

	block := make(chan struct{})
	o.newPrimary = func() ml.Backend {
		return &trainableFake{name: "tensor", accuracy: 0.8, block: block}
	}

	runID, err := o.Trigger("org-1", nil)
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if runID == "" {
		t.Fatal("Trigger() returned empty run id")
	}

	if _, err := o.Trigger("org-1", nil); !errors.Is(err, ErrAlreadyTraining) {
		t.Errorf("second trigger error = %v, want ErrAlreadyTraining", err)
	}
	close(block)

	deadline := time.After(2 * time.Second)
	for {
		run, err := store.LatestTrainingRun("org-1", common.PredictionTypeBreachProbability)
		if err == nil && run.ID == runID && run.Status == common.StatusActive {
			return
		}
		select {
		case <-deadline:
			t.Fatal("background run never completed")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestRunHonoursOverrides(t *testing.T) {
	sc := &fakeScorer{breakdown: testBreakdown(60), entities: []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"}}
	o, store, _ := newTestOrchestrator(t, sc)

	o.newPrimary = func() ml.Backend { return &trainableFake{name: "tensor", accuracy: 0.8} }

	if _, err := o.Run(context.Background(), "org-1", &storage.Hyperparameters{Epochs: 5, LearningRate: 0.1}); err != nil {
		t.Fatal(err)
	}

	run, err := store.LatestTrainingRun("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if run.Hyperparameters.Epochs != 5 || run.Hyperparameters.LearningRate != 0.1 {
		t.Errorf("run hyperparameters = %+v, want overrides applied", run.Hyperparameters)
	}

	// overrides are per-run; the model keeps them only via the swap snapshot
	m, err := store.GetModel("org-1", common.PredictionTypeBreachProbability)
	if err != nil {
		t.Fatal(err)
	}
	if m.Hyperparameters.Epochs != 5 {
		t.Errorf("model Epochs = %d, want trained snapshot 5", m.Hyperparameters.Epochs)
	}
}
