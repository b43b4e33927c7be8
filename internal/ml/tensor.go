package ml

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"riskengine/internal/common"
)

// Default hidden layer sizes for the tensor backend.
var tensorHidden = []int{64, 32}

const defaultValidationSplit = 0.2

// TensorBackend is the primary backend, built on an autodiff expression
// graph. Parameters are held as shaped tensors and serialized as (flat
// data, shape) pairs; training uses Adam over mini-batches with a held-out
// validation split.
type TensorBackend struct {
	mu     sync.Mutex
	sizes  []int // input, hidden..., 1
	params []*tensor.Dense
	loaded bool
}

func NewTensorBackend() *TensorBackend {
	return &TensorBackend{}
}

func (t *TensorBackend) Name() string { return "tensor" }

func (t *TensorBackend) LoadWeights(w *Weights) error {
	if w == nil {
		return ErrUnknownWeightsFormat
	}
	if w.Format != FormatTensor {
		return fmt.Errorf("%w: tensor backend cannot load %q", ErrUnknownWeightsFormat, w.Format)
	}
	if err := w.Validate(); err != nil {
		return err
	}

	params := make([]*tensor.Dense, len(w.Tensors))
	for i, rec := range w.Tensors {
		backing := make([]float64, len(rec.Data))
		copy(backing, rec.Data)
		params[i] = tensor.New(tensor.WithShape(rec.Shape...), tensor.WithBacking(backing))
	}

	t.mu.Lock()
	t.sizes = w.LayerSizes()
	t.params = params
	t.loaded = true
	t.mu.Unlock()
	return nil
}

func (t *TensorBackend) ExportWeights() (*Weights, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return nil, ErrNotLoaded
	}

	records := make([]TensorRecord, len(t.params))
	for i, p := range t.params {
		data := p.Data().([]float64)
		records[i] = TensorRecord{
			Data:  append([]float64(nil), data...),
			Shape: append([]int(nil), p.Shape()...),
		}
	}
	return &Weights{
		Format:      FormatTensor,
		InputSize:   t.sizes[0],
		HiddenSizes: append([]int(nil), t.sizes[1:len(t.sizes)-1]...),
		Tensors:     records,
	}, nil
}

// network holds the compiled expression graph for one batch size.
type network struct {
	g          *G.ExprGraph
	x, y       *G.Node
	out, cost  *G.Node
	learnables G.Nodes
}

// buildNetwork compiles the graph: ReLU hidden layers, one sigmoid output
// unit, mean squared error cost. When fresh is false, parameters start from
// the backend's stored tensors so retraining continues from the
// weights-of-record.
func (t *TensorBackend) buildNetwork(batch int, fresh, withGrad bool) (*network, error) {
	g := G.NewGraph()
	x := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, t.sizes[0]), G.WithName("x"))
	y := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, 1), G.WithName("y"))

	var learnables G.Nodes
	a := x
	for l := 0; l < len(t.sizes)-1; l++ {
		in, out := t.sizes[l], t.sizes[l+1]
		var w, b *G.Node
		if fresh {
			w = G.NewMatrix(g, tensor.Float64, G.WithShape(in, out),
				G.WithName(fmt.Sprintf("w%d", l)), G.WithInit(G.GlorotN(1.0)))
			b = G.NewMatrix(g, tensor.Float64, G.WithShape(1, out),
				G.WithName(fmt.Sprintf("b%d", l)), G.WithInit(G.Zeroes()))
		} else {
			w = G.NewMatrix(g, tensor.Float64, G.WithShape(in, out),
				G.WithName(fmt.Sprintf("w%d", l)), G.WithValue(t.params[l*2].Clone().(*tensor.Dense)))
			b = G.NewMatrix(g, tensor.Float64, G.WithShape(1, out),
				G.WithName(fmt.Sprintf("b%d", l)), G.WithValue(t.params[l*2+1].Clone().(*tensor.Dense)))
		}
		learnables = append(learnables, w, b)

		xw, err := G.Mul(a, w)
		if err != nil {
			return nil, fmt.Errorf("layer %d mul: %w", l, err)
		}
		z, err := G.BroadcastAdd(xw, b, nil, []byte{0})
		if err != nil {
			return nil, fmt.Errorf("layer %d bias: %w", l, err)
		}
		if l == len(t.sizes)-2 {
			a, err = G.Sigmoid(z)
		} else {
			a, err = G.Rectify(z)
		}
		if err != nil {
			return nil, fmt.Errorf("layer %d activation: %w", l, err)
		}
	}

	diff, err := G.Sub(y, a)
	if err != nil {
		return nil, fmt.Errorf("cost sub: %w", err)
	}
	sq, err := G.Square(diff)
	if err != nil {
		return nil, fmt.Errorf("cost square: %w", err)
	}
	cost, err := G.Mean(sq)
	if err != nil {
		return nil, fmt.Errorf("cost mean: %w", err)
	}

	if withGrad {
		if _, err := G.Grad(cost, learnables...); err != nil {
			return nil, fmt.Errorf("grad: %w", err)
		}
	}

	return &network{g: g, x: x, y: y, out: a, cost: cost, learnables: learnables}, nil
}

func (t *TensorBackend) Predict(ctx context.Context, features []float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return 0, ErrNotLoaded
	}
	if len(features) != t.sizes[0] {
		return 0, fmt.Errorf("%w: got %d features, network expects %d", ErrDimensionMismatch, len(features), t.sizes[0])
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	net, err := t.buildNetwork(1, false, false)
	if err != nil {
		return 0, err
	}

	xT := tensor.New(tensor.WithShape(1, t.sizes[0]), tensor.WithBacking(append([]float64(nil), features...)))
	yT := tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]float64{0}))
	if err := G.Let(net.x, xT); err != nil {
		return 0, err
	}
	if err := G.Let(net.y, yT); err != nil {
		return 0, err
	}

	vm := G.NewTapeMachine(net.g)
	defer vm.Close()

	// TapeMachine runs are not interruptible; the deadline is enforced by
	// racing the run against the context.
	done := make(chan error, 1)
	go func() { done <- vm.RunAll() }()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-done:
		if err != nil {
			return 0, fmt.Errorf("tensor inference: %w", err)
		}
	}

	outs := net.out.Value().Data().([]float64)
	return clampScore(outs[0] * common.MaxScore), nil
}

func (t *TensorBackend) Train(ctx context.Context, examples []Example, cfg TrainConfig, onProgress ProgressFunc) (*TrainResult, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("ml: no training examples")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	inputSize := len(examples[0].Features)
	fresh := !t.loaded || t.sizes[0] != inputSize
	if fresh {
		sizes := make([]int, 0, len(tensorHidden)+2)
		sizes = append(sizes, inputSize)
		sizes = append(sizes, tensorHidden...)
		t.sizes = append(sizes, 1)
	}

	lr := cfg.LearningRate
	if lr <= 0 {
		lr = common.DefaultLearningRate
	}
	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = common.DefaultEpochs
	}
	split := cfg.ValidationSplit
	if split <= 0 || split >= 1 {
		split = defaultValidationSplit
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	shuffled := make([]Example, len(examples))
	copy(shuffled, examples)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	valCount := int(float64(len(shuffled)) * split)
	if valCount >= len(shuffled) {
		valCount = len(shuffled) - 1
	}
	train := shuffled[valCount:]
	val := shuffled[:valCount]

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = common.DefaultBatchSize
	}
	if batchSize > len(train) {
		batchSize = len(train)
	}
	batches := len(train) / batchSize

	net, err := t.buildNetwork(batchSize, fresh, true)
	if err != nil {
		return nil, err
	}

	vm := G.NewTapeMachine(net.g, G.BindDualValues(net.learnables...))
	defer vm.Close()
	solver := G.NewAdamSolver(G.WithLearnRate(lr), G.WithBatchSize(float64(batchSize)))

	xBacking := make([]float64, batchSize*inputSize)
	yBacking := make([]float64, batchSize)
	xT := tensor.New(tensor.WithShape(batchSize, inputSize), tensor.WithBacking(xBacking))
	yT := tensor.New(tensor.WithShape(batchSize, 1), tensor.WithBacking(yBacking))

	result := &TrainResult{SampleCount: len(examples)}

	for epoch := 1; epoch <= epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })

		var lossSum float64
		var correct, seen int
		for b := 0; b < batches; b++ {
			batch := train[b*batchSize : (b+1)*batchSize]
			for i, ex := range batch {
				copy(xBacking[i*inputSize:(i+1)*inputSize], ex.Features)
				yBacking[i] = ex.Target
			}
			if err := G.Let(net.x, xT); err != nil {
				return nil, err
			}
			if err := G.Let(net.y, yT); err != nil {
				return nil, err
			}
			if err := vm.RunAll(); err != nil {
				return nil, fmt.Errorf("tensor training epoch %d: %w", epoch, err)
			}

			lossSum += net.cost.Value().Data().(float64)
			outs := net.out.Value().Data().([]float64)
			for i, ex := range batch {
				if abs(outs[i]-ex.Target)*common.MaxScore <= common.AccuracyTolerance {
					correct++
				}
				seen++
			}

			if err := solver.Step(G.NodesToValueGrads(net.learnables)); err != nil {
				return nil, fmt.Errorf("solver step: %w", err)
			}
			vm.Reset()
		}

		if seen == 0 {
			return nil, fmt.Errorf("ml: batch size %d exceeds training set of %d", batchSize, len(train))
		}

		stats := EpochStats{
			Epoch:    epoch,
			Loss:     lossSum / float64(batches),
			Accuracy: float64(correct) / float64(seen),
		}
		result.FinalLoss = stats.Loss
		result.FinalAccuracy = stats.Accuracy

		if epoch%10 == 0 || epoch == epochs {
			if len(val) > 0 {
				vl, va, err := evaluateNodes(net.learnables, t.sizes, val)
				if err == nil {
					stats.ValidationLoss = &vl
					stats.ValidationAccuracy = &va
					result.ValidationLoss = vl
					result.ValidationAccuracy = va
				}
			}
			result.History = append(result.History, stats)
			if onProgress != nil {
				onProgress(epoch, epochs, stats)
			}
		}
	}

	// Adopt the trained values as the new weights-of-record.
	params := make([]*tensor.Dense, len(net.learnables))
	for i, n := range net.learnables {
		params[i] = n.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	}
	t.params = params
	t.loaded = true

	return result, nil
}

// evaluateNodes scores a dataset against the current learnable values
// without building another graph: the layers are tiny, so a direct pass is
// cheaper than compiling an eval tape.
func evaluateNodes(learnables G.Nodes, sizes []int, examples []Example) (loss, accuracy float64, err error) {
	layers := len(sizes) - 1
	net := &FeedForward{}
	w := &Weights{
		Format:      FormatTensor,
		InputSize:   sizes[0],
		HiddenSizes: append([]int(nil), sizes[1:len(sizes)-1]...),
	}
	for l := 0; l < layers; l++ {
		wt := learnables[l*2].Value().(*tensor.Dense)
		bt := learnables[l*2+1].Value().(*tensor.Dense)
		w.Tensors = append(w.Tensors,
			TensorRecord{Data: append([]float64(nil), wt.Data().([]float64)...), Shape: append([]int(nil), wt.Shape()...)},
			TensorRecord{Data: append([]float64(nil), bt.Data().([]float64)...), Shape: append([]int(nil), bt.Shape()...)},
		)
	}
	if err := net.LoadWeights(w); err != nil {
		return 0, 0, err
	}
	return net.Evaluate(examples)
}

func clampScore(v float64) float64 {
	if v < common.MinScore {
		return common.MinScore
	}
	if v > common.MaxScore {
		return common.MaxScore
	}
	return v
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
