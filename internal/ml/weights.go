package ml

import (
	"encoding/json"
	"fmt"
)

// Weight serialization formats. The tag is persisted alongside the payload
// so the two layouts are distinguished explicitly instead of by structural
// sniffing of the first array element.
const (
	FormatTensor      = "tensor.v1"
	FormatFeedForward = "feedforward.v1"
)

// TensorRecord is one parameter tensor as flat data plus its shape.
type TensorRecord struct {
	Data  []float64 `json:"data"`
	Shape []int     `json:"shape"`
}

// Layer holds one dense layer in nested-array form: Weights[in][out] and a
// bias per output unit.
type Layer struct {
	Weights [][]float64 `json:"weights"`
	Biases  []float64   `json:"biases"`
}

// Weights is the persisted weight blob for either backend. Exactly one of
// Tensors or Layers is populated, according to Format.
type Weights struct {
	Format      string         `json:"format"`
	InputSize   int            `json:"inputSize"`
	HiddenSizes []int          `json:"hiddenSizes"`
	Tensors     []TensorRecord `json:"tensors,omitempty"`
	Layers      []Layer        `json:"layers,omitempty"`
}

// DecodeWeights parses a stored blob and rejects anything without a known
// format tag.
func DecodeWeights(raw []byte) (*Weights, error) {
	if len(raw) == 0 {
		return nil, ErrUnknownWeightsFormat
	}
	var w Weights
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownWeightsFormat, err)
	}
	switch w.Format {
	case FormatTensor, FormatFeedForward:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWeightsFormat, w.Format)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

func (w *Weights) Encode() ([]byte, error) {
	return json.Marshal(w)
}

// LayerSizes returns the full layer size chain input -> hidden... -> 1.
func (w *Weights) LayerSizes() []int {
	sizes := make([]int, 0, len(w.HiddenSizes)+2)
	sizes = append(sizes, w.InputSize)
	sizes = append(sizes, w.HiddenSizes...)
	return append(sizes, 1)
}

// Validate checks that the stored parameters agree with the declared
// input/hidden sizes. Parameters come in (weight, bias) pairs, one per
// layer, ordered input to output.
func (w *Weights) Validate() error {
	sizes := w.LayerSizes()
	layers := len(sizes) - 1
	if w.InputSize <= 0 {
		return fmt.Errorf("%w: input size %d", ErrDimensionMismatch, w.InputSize)
	}

	switch w.Format {
	case FormatTensor:
		if len(w.Tensors) != layers*2 {
			return fmt.Errorf("%w: expected %d parameter tensors, got %d", ErrDimensionMismatch, layers*2, len(w.Tensors))
		}
		for l := 0; l < layers; l++ {
			wt, bt := w.Tensors[l*2], w.Tensors[l*2+1]
			if len(wt.Shape) != 2 || wt.Shape[0] != sizes[l] || wt.Shape[1] != sizes[l+1] {
				return fmt.Errorf("%w: layer %d weight shape %v, want [%d %d]", ErrDimensionMismatch, l, wt.Shape, sizes[l], sizes[l+1])
			}
			if len(wt.Data) != sizes[l]*sizes[l+1] {
				return fmt.Errorf("%w: layer %d weight data length %d", ErrDimensionMismatch, l, len(wt.Data))
			}
			if len(bt.Shape) != 2 || bt.Shape[0] != 1 || bt.Shape[1] != sizes[l+1] || len(bt.Data) != sizes[l+1] {
				return fmt.Errorf("%w: layer %d bias shape %v", ErrDimensionMismatch, l, bt.Shape)
			}
		}
	case FormatFeedForward:
		if len(w.Layers) != layers {
			return fmt.Errorf("%w: expected %d layers, got %d", ErrDimensionMismatch, layers, len(w.Layers))
		}
		for l, layer := range w.Layers {
			if len(layer.Weights) != sizes[l] {
				return fmt.Errorf("%w: layer %d has %d weight rows, want %d", ErrDimensionMismatch, l, len(layer.Weights), sizes[l])
			}
			for _, row := range layer.Weights {
				if len(row) != sizes[l+1] {
					return fmt.Errorf("%w: layer %d has row of %d, want %d", ErrDimensionMismatch, l, len(row), sizes[l+1])
				}
			}
			if len(layer.Biases) != sizes[l+1] {
				return fmt.Errorf("%w: layer %d has %d biases, want %d", ErrDimensionMismatch, l, len(layer.Biases), sizes[l+1])
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownWeightsFormat, w.Format)
	}
	return nil
}

// ToLayers converts either format into nested-array layers, letting the
// feedforward backend run with the tensor backend's weights-of-record.
func (w *Weights) ToLayers() ([]Layer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.Format == FormatFeedForward {
		return w.Layers, nil
	}

	sizes := w.LayerSizes()
	layers := make([]Layer, len(sizes)-1)
	for l := range layers {
		wt, bt := w.Tensors[l*2], w.Tensors[l*2+1]
		in, out := sizes[l], sizes[l+1]
		rows := make([][]float64, in)
		for i := 0; i < in; i++ {
			rows[i] = make([]float64, out)
			copy(rows[i], wt.Data[i*out:(i+1)*out])
		}
		biases := make([]float64, out)
		copy(biases, bt.Data)
		layers[l] = Layer{Weights: rows, Biases: biases}
	}
	return layers, nil
}
