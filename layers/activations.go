package layers

import (
	"fmt"
	"math"

	"github.com/quic-ykota/aimet/tensor"
)

// ReLU applies max(0, x) elementwise.
type ReLU struct{}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies the activation.
func (r *ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out, nil
}

// Gradient computes dLoss/dInput: the output gradient gated by input > 0.
func (r *ReLU) Gradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error) {
	if !input.SameShape(outputGrad) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", input.Shape, outputGrad.Shape)
	}
	grad := outputGrad.Clone()
	for i, v := range input.Data {
		if v <= 0 {
			grad.Data[i] = 0
		}
	}
	return grad, nil
}

// Clone returns a copy of the activation.
func (r *ReLU) Clone() Module {
	return &ReLU{}
}

// Sigmoid applies 1/(1+e^-x) elementwise.
type Sigmoid struct{}

// NewSigmoid creates a sigmoid activation.
func NewSigmoid() *Sigmoid {
	return &Sigmoid{}
}

func sigmoid32(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// Forward applies the activation.
func (s *Sigmoid) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		out.Data[i] = sigmoid32(v)
	}
	return out, nil
}

// Gradient computes dLoss/dInput using σ'(x) = σ(x)(1-σ(x)).
func (s *Sigmoid) Gradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error) {
	if !input.SameShape(outputGrad) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", input.Shape, outputGrad.Shape)
	}
	grad := outputGrad.Clone()
	for i, v := range input.Data {
		sv := sigmoid32(v)
		grad.Data[i] *= sv * (1 - sv)
	}
	return grad, nil
}

// Clone returns a copy of the activation.
func (s *Sigmoid) Clone() Module {
	return &Sigmoid{}
}

// Tanh applies the hyperbolic tangent elementwise.
type Tanh struct{}

// NewTanh creates a tanh activation.
func NewTanh() *Tanh {
	return &Tanh{}
}

// Forward applies the activation.
func (t *Tanh) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32(math.Tanh(float64(v)))
	}
	return out, nil
}

// Gradient computes dLoss/dInput using tanh'(x) = 1 - tanh²(x).
func (t *Tanh) Gradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error) {
	if !input.SameShape(outputGrad) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", input.Shape, outputGrad.Shape)
	}
	grad := outputGrad.Clone()
	for i, v := range input.Data {
		tv := float32(math.Tanh(float64(v)))
		grad.Data[i] *= 1 - tv*tv
	}
	return grad, nil
}

// Clone returns a copy of the activation.
func (t *Tanh) Clone() Module {
	return &Tanh{}
}
