package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"riskengine/internal/common"
)

// Default hidden layer sizes for the hand-rolled network.
var feedForwardHidden = []int{16, 8}

// FeedForward is the fallback backend: a small fully-connected network with
// an explicit forward pass and hand-coded backpropagation. Weights live in
// shaped row-major matrices so an indexing mistake panics instead of
// silently misreading a neighbour cell.
type FeedForward struct {
	mu      sync.RWMutex
	sizes   []int        // input, hidden..., 1
	weights []*mat.Dense // layer l: sizes[l] x sizes[l+1]
	biases  []*mat.VecDense
	rng     *rand.Rand
	loaded  bool
}

func NewFeedForward() *FeedForward {
	return NewFeedForwardSeeded(time.Now().UnixNano())
}

func NewFeedForwardSeeded(seed int64) *FeedForward {
	return &FeedForward{rng: rand.New(rand.NewSource(seed))}
}

func (f *FeedForward) Name() string { return "feedforward" }

// init allocates weights with a He-style scale of sqrt(2/fan-in) and small
// random biases.
func (f *FeedForward) init(inputSize int, hidden []int) {
	sizes := make([]int, 0, len(hidden)+2)
	sizes = append(sizes, inputSize)
	sizes = append(sizes, hidden...)
	sizes = append(sizes, 1)

	f.sizes = sizes
	f.weights = make([]*mat.Dense, len(sizes)-1)
	f.biases = make([]*mat.VecDense, len(sizes)-1)
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(2.0 / float64(in))
		w := mat.NewDense(in, out, nil)
		for i := 0; i < in; i++ {
			for j := 0; j < out; j++ {
				w.Set(i, j, f.rng.NormFloat64()*scale)
			}
		}
		b := mat.NewVecDense(out, nil)
		for j := 0; j < out; j++ {
			b.SetVec(j, f.rng.NormFloat64()*0.01)
		}
		f.weights[l] = w
		f.biases[l] = b
	}
	f.loaded = true
}

// LoadWeights accepts its native nested-array format and, for fallback runs
// against a tensor-trained model, the tensor record format as well.
func (f *FeedForward) LoadWeights(w *Weights) error {
	if w == nil {
		return ErrUnknownWeightsFormat
	}
	layers, err := w.ToLayers()
	if err != nil {
		return err
	}

	sizes := w.LayerSizes()
	weights := make([]*mat.Dense, len(layers))
	biases := make([]*mat.VecDense, len(layers))
	for l, layer := range layers {
		in, out := sizes[l], sizes[l+1]
		wm := mat.NewDense(in, out, nil)
		for i := 0; i < in; i++ {
			for j := 0; j < out; j++ {
				wm.Set(i, j, layer.Weights[i][j])
			}
		}
		bv := mat.NewVecDense(out, nil)
		for j := 0; j < out; j++ {
			bv.SetVec(j, layer.Biases[j])
		}
		weights[l] = wm
		biases[l] = bv
	}

	f.mu.Lock()
	f.sizes = sizes
	f.weights = weights
	f.biases = biases
	f.loaded = true
	f.mu.Unlock()
	return nil
}

func (f *FeedForward) ExportWeights() (*Weights, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.loaded {
		return nil, ErrNotLoaded
	}

	layers := make([]Layer, len(f.weights))
	for l, wm := range f.weights {
		in, out := f.sizes[l], f.sizes[l+1]
		rows := make([][]float64, in)
		for i := 0; i < in; i++ {
			rows[i] = make([]float64, out)
			for j := 0; j < out; j++ {
				rows[i][j] = wm.At(i, j)
			}
		}
		biases := make([]float64, out)
		for j := 0; j < out; j++ {
			biases[j] = f.biases[l].AtVec(j)
		}
		layers[l] = Layer{Weights: rows, Biases: biases}
	}

	return &Weights{
		Format:      FormatFeedForward,
		InputSize:   f.sizes[0],
		HiddenSizes: append([]int(nil), f.sizes[1:len(f.sizes)-1]...),
		Layers:      layers,
	}, nil
}

// forward runs one example through the network, keeping both pre-activation
// and post-activation values per layer for backpropagation.
func (f *FeedForward) forward(features []float64) (pre, post [][]float64) {
	layers := len(f.weights)
	pre = make([][]float64, layers)
	post = make([][]float64, layers)

	a := features
	for l := 0; l < layers; l++ {
		in, out := f.sizes[l], f.sizes[l+1]
		z := make([]float64, out)
		for j := 0; j < out; j++ {
			sum := f.biases[l].AtVec(j)
			for i := 0; i < in; i++ {
				sum += a[i] * f.weights[l].At(i, j)
			}
			z[j] = sum
		}
		act := make([]float64, out)
		if l == layers-1 {
			for j := range z {
				act[j] = sigmoid(z[j])
			}
		} else {
			for j := range z {
				act[j] = relu(z[j])
			}
		}
		pre[l] = z
		post[l] = act
		a = act
	}
	return pre, post
}

func (f *FeedForward) Predict(ctx context.Context, features []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.loaded {
		return 0, ErrNotLoaded
	}
	if len(features) != f.sizes[0] {
		return 0, fmt.Errorf("%w: got %d features, network expects %d", ErrDimensionMismatch, len(features), f.sizes[0])
	}

	_, post := f.forward(features)
	return post[len(post)-1][0] * common.MaxScore, nil
}

// Train runs per-example stochastic gradient descent, reshuffling the whole
// training set every epoch. The batch size hyperparameter applies only to
// the tensor backend; this backend always updates per example.
func (f *FeedForward) Train(ctx context.Context, examples []Example, cfg TrainConfig, onProgress ProgressFunc) (*TrainResult, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("ml: no training examples")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	inputSize := len(examples[0].Features)
	if !f.loaded {
		f.init(inputSize, feedForwardHidden)
	} else if f.sizes[0] != inputSize {
		return nil, fmt.Errorf("%w: examples carry %d features, network expects %d", ErrDimensionMismatch, inputSize, f.sizes[0])
	}

	lr := cfg.LearningRate
	if lr <= 0 {
		lr = common.DefaultLearningRate
	}
	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = common.DefaultEpochs
	}

	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}

	result := &TrainResult{SampleCount: len(examples)}
	layers := len(f.weights)

	for epoch := 1; epoch <= epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		var correct int
		for _, idx := range order {
			ex := examples[idx]
			if len(ex.Features) != inputSize {
				return nil, fmt.Errorf("%w: example has %d features, want %d", ErrDimensionMismatch, len(ex.Features), inputSize)
			}

			pre, post := f.forward(ex.Features)
			pred := post[layers-1][0]

			errVal := ex.Target - pred
			lossSum += errVal * errVal
			if math.Abs(errVal)*common.MaxScore <= common.AccuracyTolerance {
				correct++
			}

			// Output delta: (target - prediction) * sigmoid'(z). Hidden
			// deltas propagate backward through the ReLU derivative.
			deltas := make([][]float64, layers)
			outZ := pre[layers-1][0]
			deltas[layers-1] = []float64{errVal * sigmoidPrime(outZ)}
			for l := layers - 2; l >= 0; l-- {
				out := f.sizes[l+1]
				next := f.sizes[l+2]
				d := make([]float64, out)
				for i := 0; i < out; i++ {
					if pre[l][i] <= 0 {
						continue
					}
					var sum float64
					for j := 0; j < next; j++ {
						sum += f.weights[l+1].At(i, j) * deltas[l+1][j]
					}
					d[i] = sum
				}
				deltas[l] = d
			}

			// weight += lr * activation_in * delta_out; error is defined as
			// target-prediction, so adding the scaled gradient descends.
			for l := 0; l < layers; l++ {
				in, out := f.sizes[l], f.sizes[l+1]
				var aIn []float64
				if l == 0 {
					aIn = ex.Features
				} else {
					aIn = post[l-1]
				}
				for j := 0; j < out; j++ {
					d := deltas[l][j]
					if d == 0 {
						continue
					}
					for i := 0; i < in; i++ {
						f.weights[l].Set(i, j, f.weights[l].At(i, j)+lr*aIn[i]*d)
					}
					f.biases[l].SetVec(j, f.biases[l].AtVec(j)+lr*d)
				}
			}
		}

		stats := EpochStats{
			Epoch:    epoch,
			Loss:     lossSum / float64(len(examples)),
			Accuracy: float64(correct) / float64(len(examples)),
		}
		if epoch%10 == 0 || epoch == epochs {
			result.History = append(result.History, stats)
			if onProgress != nil {
				onProgress(epoch, epochs, stats)
			}
		}
		result.FinalLoss = stats.Loss
		result.FinalAccuracy = stats.Accuracy
	}

	return result, nil
}

// Evaluate computes loss and within-tolerance accuracy against a dataset
// without touching the weights.
func (f *FeedForward) Evaluate(examples []Example) (loss, accuracy float64, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.loaded {
		return 0, 0, ErrNotLoaded
	}
	if len(examples) == 0 {
		return 0, 0, nil
	}

	var lossSum float64
	var correct int
	for _, ex := range examples {
		_, post := f.forward(ex.Features)
		pred := post[len(post)-1][0]
		diff := ex.Target - pred
		lossSum += diff * diff
		if math.Abs(diff)*common.MaxScore <= common.AccuracyTolerance {
			correct++
		}
	}
	return lossSum / float64(len(examples)), float64(correct) / float64(len(examples)), nil
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func sigmoidPrime(x float64) float64 {
	s := sigmoid(x)
	return s * (1 - s)
}
