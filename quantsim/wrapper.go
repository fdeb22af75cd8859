package quantsim

import (
	"fmt"

	"github.com/quic-ykota/aimet/layers"

	"github.com/quic-ykota/aimet/tensor"
)

// QuantMode controls whether a wrapper fake-quantizes or passes through.
type QuantMode int

const (
	ModePassthrough QuantMode = iota
	ModeActive
)

// QuantWrapper wraps one weight-bearing layer with parameter, input, and
// output quantizers. It implements layers.WeightLayer so that a wrapped
// model traces exactly like the float model.
type QuantWrapper struct {
	wrapped layers.WeightLayer

	param  Quantizer
	input  *TensorQuantizer
	output *TensorQuantizer

	mode   QuantMode
	frozen bool
}

// NewQuantWrapper wraps l with freshly-configured quantizers. The wrapper
// starts in passthrough mode.
func NewQuantWrapper(l layers.WeightLayer, paramBitwidth int, scheme QuantScheme, symmetric bool, dataType DataType) (*QuantWrapper, error) {
	param, err := NewTensorQuantizer(paramBitwidth, scheme, symmetric, dataType)
	if err != nil {
		return nil, err
	}
	// Activation quantizers use a fixed 8-bit asymmetric default; rounding
	// optimization never enables them.
	input, err := NewTensorQuantizer(8, scheme, false, DataTypeInt)
	if err != nil {
		return nil, err
	}
	output, err := NewTensorQuantizer(8, scheme, false, DataTypeInt)
	if err != nil {
		return nil, err
	}
	return &QuantWrapper{
		wrapped: l,
		param:   param,
		input:   input,
		output:  output,
		mode:    ModePassthrough,
	}, nil
}

// Wrapped returns the underlying layer.
func (w *QuantWrapper) Wrapped() layers.WeightLayer {
	return w.wrapped
}

// ParamQuantizer returns the weight quantizer.
func (w *QuantWrapper) ParamQuantizer() Quantizer {
	return w.param
}

// SetParamQuantizer replaces the weight quantizer.
func (w *QuantWrapper) SetParamQuantizer(q Quantizer) {
	w.param = q
}

// InputQuantizer returns the input activation quantizer.
func (w *QuantWrapper) InputQuantizer() *TensorQuantizer {
	return w.input
}

// OutputQuantizer returns the output activation quantizer.
func (w *QuantWrapper) OutputQuantizer() *TensorQuantizer {
	return w.output
}

// Mode returns the wrapper mode.
func (w *QuantWrapper) Mode() QuantMode {
	return w.mode
}

// SetMode switches between passthrough and active fake-quantization.
func (w *QuantWrapper) SetMode(m QuantMode) {
	w.mode = m
}

// Frozen reports whether the wrapped layer's weight has been committed.
func (w *QuantWrapper) Frozen() bool {
	return w.frozen
}

// CommitWeight assigns the final weight tensor to the wrapped layer and
// freezes the wrapper so subsequent forwards use the committed value without
// re-quantizing it.
func (w *QuantWrapper) CommitWeight(t *tensor.Tensor) error {
	if err := w.wrapped.SetWeight(t); err != nil {
		return err
	}
	w.frozen = true
	return nil
}

// Weight returns the wrapped layer's weight tensor.
func (w *QuantWrapper) Weight() *tensor.Tensor {
	return w.wrapped.Weight()
}

// SetWeight replaces the wrapped layer's weight tensor.
func (w *QuantWrapper) SetWeight(t *tensor.Tensor) error {
	return w.wrapped.SetWeight(t)
}

// ForwardUsing runs the wrapped layer with an alternate weight, bypassing
// quantization.
func (w *QuantWrapper) ForwardUsing(x, weight *tensor.Tensor) (*tensor.Tensor, error) {
	return w.wrapped.ForwardUsing(x, weight)
}

// WeightGradient delegates to the wrapped layer.
func (w *QuantWrapper) WeightGradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error) {
	return w.wrapped.WeightGradient(input, outputGrad)
}

// Forward runs the wrapped layer with fake quantization applied according to
// the wrapper mode and quantizer states.
func (w *QuantWrapper) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if w.mode == ModePassthrough {
		return w.wrapped.Forward(x)
	}

	cur := x
	if w.input.IsEnabled() {
		xq, err := w.input.QuantizeDequantize(cur)
		if err != nil {
			return nil, fmt.Errorf("input quantizer: %w", err)
		}
		cur = xq
	}

	var out *tensor.Tensor
	var err error
	if !w.frozen && w.param != nil && w.param.IsEnabled() {
		wq, qerr := w.param.QuantizeDequantize(w.wrapped.Weight())
		if qerr != nil {
			return nil, fmt.Errorf("param quantizer: %w", qerr)
		}
		out, err = w.wrapped.ForwardUsing(cur, wq)
	} else {
		out, err = w.wrapped.Forward(cur)
	}
	if err != nil {
		return nil, err
	}

	if w.output.IsEnabled() {
		oq, err := w.output.QuantizeDequantize(out)
		if err != nil {
			return nil, fmt.Errorf("output quantizer: %w", err)
		}
		out = oq
	}
	return out, nil
}

// Clone deep-copies the wrapper. A non-static param quantizer (the adaptive
// rounding quantizer) is shared by reference; clones are only taken before
// rounding optimization begins.
func (w *QuantWrapper) Clone() layers.Module {
	clone := &QuantWrapper{
		wrapped: w.wrapped.Clone().(layers.WeightLayer),
		param:   w.param,
		input:   w.input.Clone(),
		output:  w.output.Clone(),
		mode:    w.mode,
		frozen:  w.frozen,
	}
	if tq, ok := w.param.(*TensorQuantizer); ok {
		clone.param = tq.Clone()
	}
	return clone
}
