package adaround

import (
	"fmt"
	"math"

	"github.com/quic-ykota/aimet/quantsim"
	"github.com/quic-ykota/aimet/tensor"
)

// Stretch parameters of the rectified sigmoid. Stretching the sigmoid past
// [0, 1] lets the rounding decision reach exactly 0 and 1 with finite alpha.
const (
	stretchGamma = -0.1
	stretchZeta  = 1.1
)

// RoundingQuantizer is the adaptive rounding parameterization for one weight
// tensor. It wraps a precomputed encoding and owns a continuous per-element
// rounding logit alpha. In soft mode the rounding decision is the rectified
// sigmoid of alpha; in hard mode it is thresholded to {0, 1}.
//
// Alpha is initialized from the fractional rounding residual of the weight,
// so the initial hard reconstruction equals round-to-nearest exactly and
// optimization never starts worse than naive rounding.
type RoundingQuantizer struct {
	encoding *quantsim.Encoding
	alpha    *tensor.Tensor
	soft     bool
	enabled  bool
}

// NewRoundingQuantizer builds a rounding quantizer from an already-computed
// static quantizer and the weight tensor it applies to. The static quantizer
// must carry an encoding and use an integer grid.
func NewRoundingQuantizer(base *quantsim.TensorQuantizer, weight *tensor.Tensor) (*RoundingQuantizer, error) {
	if base == nil {
		return nil, fmt.Errorf("base quantizer cannot be nil")
	}
	enc := base.Encoding()
	if enc == nil {
		return nil, fmt.Errorf("base quantizer has no encoding; compute encodings before rounding optimization")
	}
	if enc.DataType != quantsim.DataTypeInt {
		return nil, fmt.Errorf("rounding optimization requires an integer grid, got %v", enc.DataType)
	}

	q := &RoundingQuantizer{
		encoding: enc.Clone(),
		soft:     true,
		enabled:  base.IsEnabled(),
	}
	q.initializeAlpha(weight)
	return q, nil
}

// initializeAlpha sets alpha so that the rectified sigmoid equals the
// fractional part of weight/delta for every element.
func (q *RoundingQuantizer) initializeAlpha(weight *tensor.Tensor) {
	alpha := weight.Clone()
	for i, w := range weight.Data {
		x := float64(w) / q.encoding.Delta
		frac := x - math.Floor(x)
		alpha.Data[i] = float32(-math.Log((stretchZeta-stretchGamma)/(frac-stretchGamma) - 1))
	}
	q.alpha = alpha
}

// Alpha returns the rounding logit tensor.
func (q *RoundingQuantizer) Alpha() *tensor.Tensor {
	return q.alpha
}

// Encoding returns the quantizer's encoding.
func (q *RoundingQuantizer) Encoding() *quantsim.Encoding {
	return q.encoding
}

// IsEnabled reports whether the quantizer participates in forward passes.
func (q *RoundingQuantizer) IsEnabled() bool {
	return q.enabled
}

// SoftRounding reports whether the soft (training) path is active.
func (q *RoundingQuantizer) SoftRounding() bool {
	return q.soft
}

// SetSoftRounding selects the soft or hard reconstruction path. The mode is
// switched to hard exactly once per layer, after its optimization converges.
func (q *RoundingQuantizer) SetSoftRounding(soft bool) {
	q.soft = soft
}

// rectifiedSigmoid maps an alpha value to the clamped rounding decision.
func rectifiedSigmoid(alpha float64) float64 {
	s := 1 / (1 + math.Exp(-alpha))
	h := s*(stretchZeta-stretchGamma) + stretchGamma
	if h < 0 {
		return 0
	}
	if h > 1 {
		return 1
	}
	return h
}

// decision returns the current rounding decision for one alpha value.
func (q *RoundingQuantizer) decision(alpha float64) float64 {
	if q.soft {
		return rectifiedSigmoid(alpha)
	}
	if alpha >= 0 {
		return 1
	}
	return 0
}

// SoftDecisions returns the current per-element soft rounding decisions in
// [0, 1], regardless of the mode flag.
func (q *RoundingQuantizer) SoftDecisions() []float32 {
	out := make([]float32, q.alpha.NumElems)
	for i, a := range q.alpha.Data {
		out[i] = float32(rectifiedSigmoid(float64(a)))
	}
	return out
}

// QuantizeDequantize reconstructs the weight tensor on the quantization grid
// using the current rounding decisions. The tensor must have the shape alpha
// was initialized with.
func (q *RoundingQuantizer) QuantizeDequantize(t *tensor.Tensor) (*tensor.Tensor, error) {
	if !q.enabled {
		return t, nil
	}
	if !t.SameShape(q.alpha) {
		return nil, fmt.Errorf("tensor shape %v does not match rounding parameter shape %v", t.Shape, q.alpha.Shape)
	}

	e := q.encoding
	steps := e.GridSteps()
	out := t.Clone()
	for i, v := range t.Data {
		x := float64(v) / e.Delta
		g := math.Floor(x) + q.decision(float64(q.alpha.Data[i])) - e.Offset
		g = math.Min(math.Max(g, 0), steps)
		out.Data[i] = float32((g + e.Offset) * e.Delta)
	}
	return out, nil
}
