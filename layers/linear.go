package layers

import (
	"fmt"

	"github.com/quic-ykota/aimet/tensor"
)

// Linear is a fully-connected layer computing x·Wᵀ + b.
// Weight shape: [outFeatures, inFeatures]. Input shape: [batch, inFeatures].
type Linear struct {
	InFeatures  int
	OutFeatures int

	weight *tensor.Tensor
	bias   *tensor.Tensor // nil when the layer has no bias
}

// NewLinear creates a linear layer with zero-initialized parameters.
func NewLinear(inFeatures, outFeatures int, useBias bool) (*Linear, error) {
	if inFeatures <= 0 || outFeatures <= 0 {
		return nil, fmt.Errorf("feature counts must be positive, got in=%d out=%d", inFeatures, outFeatures)
	}

	weight, err := tensor.New(outFeatures, inFeatures)
	if err != nil {
		return nil, err
	}

	l := &Linear{
		InFeatures:  inFeatures,
		OutFeatures: outFeatures,
		weight:      weight,
	}
	if useBias {
		l.bias, err = tensor.New(outFeatures)
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Weight returns the layer's weight tensor.
func (l *Linear) Weight() *tensor.Tensor {
	return l.weight
}

// Bias returns the layer's bias tensor, or nil.
func (l *Linear) Bias() *tensor.Tensor {
	return l.bias
}

// SetWeight replaces the weight tensor atomically.
func (l *Linear) SetWeight(w *tensor.Tensor) error {
	if !w.SameShape(l.weight) {
		return fmt.Errorf("weight shape %v does not match %v", w.Shape, l.weight.Shape)
	}
	l.weight = w
	return nil
}

// Forward computes the layer output for a [batch, inFeatures] input.
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return l.ForwardUsing(x, l.weight)
}

// ForwardUsing computes the layer output with an alternate weight tensor.
func (l *Linear) ForwardUsing(x, w *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != l.InFeatures {
		return nil, fmt.Errorf("expected input shape [batch, %d], got %v", l.InFeatures, x.Shape)
	}
	if !w.SameShape(l.weight) {
		return nil, fmt.Errorf("weight shape %v does not match %v", w.Shape, l.weight.Shape)
	}

	batch := x.Shape[0]
	out, err := tensor.New(batch, l.OutFeatures)
	if err != nil {
		return nil, err
	}

	for n := 0; n < batch; n++ {
		for o := 0; o < l.OutFeatures; o++ {
			var sum float32
			for i := 0; i < l.InFeatures; i++ {
				sum += x.Data[n*l.InFeatures+i] * w.Data[o*l.InFeatures+i]
			}
			if l.bias != nil {
				sum += l.bias.Data[o]
			}
			out.Data[n*l.OutFeatures+o] = sum
		}
	}
	return out, nil
}

// WeightGradient computes dLoss/dWeight for the given input and output
// gradient: gradW[o,i] = Σ_n outputGrad[n,o] · input[n,i].
func (l *Linear) WeightGradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 || input.Shape[1] != l.InFeatures {
		return nil, fmt.Errorf("expected input shape [batch, %d], got %v", l.InFeatures, input.Shape)
	}
	if len(outputGrad.Shape) != 2 || outputGrad.Shape[0] != input.Shape[0] || outputGrad.Shape[1] != l.OutFeatures {
		return nil, fmt.Errorf("expected output gradient shape [%d, %d], got %v", input.Shape[0], l.OutFeatures, outputGrad.Shape)
	}

	grad, err := tensor.New(l.OutFeatures, l.InFeatures)
	if err != nil {
		return nil, err
	}

	batch := input.Shape[0]
	for n := 0; n < batch; n++ {
		for o := 0; o < l.OutFeatures; o++ {
			g := outputGrad.Data[n*l.OutFeatures+o]
			if g == 0 {
				continue
			}
			for i := 0; i < l.InFeatures; i++ {
				grad.Data[o*l.InFeatures+i] += g * input.Data[n*l.InFeatures+i]
			}
		}
	}
	return grad, nil
}

// Clone deep-copies the layer.
func (l *Linear) Clone() Module {
	clone := &Linear{
		InFeatures:  l.InFeatures,
		OutFeatures: l.OutFeatures,
		weight:      l.weight.Clone(),
	}
	if l.bias != nil {
		clone.bias = l.bias.Clone()
	}
	return clone
}
