package quantsim

import (
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/quic-ykota/aimet/tensor"
)

// Quantizer is the slot a QuantWrapper holds for each parameter tensor. The
// static-grid TensorQuantizer implements it, as does the adaptive rounding
// quantizer that replaces it during rounding optimization.
type Quantizer interface {
	QuantizeDequantize(t *tensor.Tensor) (*tensor.Tensor, error)
	Encoding() *Encoding
	IsEnabled() bool
}

// TensorQuantizer quantizes a tensor onto a static grid with round-to-nearest.
type TensorQuantizer struct {
	Bitwidth  int
	Scheme    QuantScheme
	Symmetric bool
	DataType  DataType

	enabled  bool
	encoding *Encoding
}

// NewTensorQuantizer creates an enabled quantizer with no encoding.
func NewTensorQuantizer(bitwidth int, scheme QuantScheme, symmetric bool, dataType DataType) (*TensorQuantizer, error) {
	if err := validateBitwidth(bitwidth); err != nil {
		return nil, err
	}
	if dataType == DataTypeFloat && bitwidth != 16 {
		return nil, fmt.Errorf("float data type requires bitwidth 16, got %d", bitwidth)
	}
	return &TensorQuantizer{
		Bitwidth:  bitwidth,
		Scheme:    scheme,
		Symmetric: symmetric,
		DataType:  dataType,
		enabled:   true,
	}, nil
}

// IsEnabled reports whether the quantizer participates in forward passes.
func (q *TensorQuantizer) IsEnabled() bool {
	return q.enabled
}

// SetEnabled toggles the quantizer.
func (q *TensorQuantizer) SetEnabled(enabled bool) {
	q.enabled = enabled
}

// Encoding returns the current encoding, or nil before ComputeEncoding.
func (q *TensorQuantizer) Encoding() *Encoding {
	return q.encoding
}

// SetEncoding installs a precomputed encoding.
func (q *TensorQuantizer) SetEncoding(e *Encoding) {
	q.encoding = e
}

// ResetEncoding discards the current encoding.
func (q *TensorQuantizer) ResetEncoding() {
	q.encoding = nil
}

// ComputeEncoding derives the encoding from the statistics of data. For the
// TF scheme this is closed-form from the observed min/max; the TF-enhanced
// scheme additionally searches shrunk ranges for the lowest quantization
// noise.
func (q *TensorQuantizer) ComputeEncoding(data *tensor.Tensor) error {
	min32, max32 := tensor.MinMax(data)
	min, max := float64(min32), float64(max32)

	if q.DataType == DataTypeFloat {
		q.encoding = &Encoding{
			Min:      min,
			Max:      max,
			Bitwidth: q.Bitwidth,
			DataType: DataTypeFloat,
		}
		return nil
	}

	switch q.Scheme {
	case SchemeTF:
		q.encoding = computeEncodingFromRange(min, max, q.Bitwidth, q.Symmetric)
	case SchemeTFEnhanced:
		q.encoding = searchBestEncoding(data, min, max, q.Bitwidth, q.Symmetric)
	default:
		return fmt.Errorf("unsupported quant scheme %v", q.Scheme)
	}
	return nil
}

// searchBestEncoding tries proportionally shrunk ranges and keeps the one
// with the lowest quantize-dequantize error on data.
func searchBestEncoding(data *tensor.Tensor, min, max float64, bitwidth int, symmetric bool) *Encoding {
	const candidates = 50

	var best *Encoding
	bestErr := math.Inf(1)
	for i := 0; i <= candidates; i++ {
		f := 1.0 - 0.5*float64(i)/candidates
		e := computeEncodingFromRange(min*f, max*f, bitwidth, symmetric)

		var sse float64
		for _, v := range data.Data {
			d := float64(v) - quantizeDequantizeValue(float64(v), e)
			sse += d * d
		}
		if sse < bestErr {
			bestErr = sse
			best = e
		}
	}
	return best
}

// quantizeDequantizeValue round-trips one value through the fixed-point grid.
// Rounding is floor(x + 0.5), matching the hard rounding decision used by
// the adaptive rounding quantizer.
func quantizeDequantizeValue(v float64, e *Encoding) float64 {
	g := math.Floor(v/e.Delta+0.5) - e.Offset
	g = math.Min(math.Max(g, 0), e.GridSteps())
	return (g + e.Offset) * e.Delta
}

// QuantizeDequantize round-trips t through the quantization grid, or through
// float16 when the data type is float.
func (q *TensorQuantizer) QuantizeDequantize(t *tensor.Tensor) (*tensor.Tensor, error) {
	if !q.enabled {
		return t, nil
	}

	if q.DataType == DataTypeFloat {
		out := t.Clone()
		for i, v := range out.Data {
			out.Data[i] = float16.Fromfloat32(v).Float32()
		}
		return out, nil
	}

	if q.encoding == nil {
		return nil, fmt.Errorf("quantizer has no encoding, call ComputeEncoding first")
	}

	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32(quantizeDequantizeValue(float64(v), q.encoding))
	}
	return out, nil
}

// Clone copies the quantizer including its encoding.
func (q *TensorQuantizer) Clone() *TensorQuantizer {
	clone := &TensorQuantizer{
		Bitwidth:  q.Bitwidth,
		Scheme:    q.Scheme,
		Symmetric: q.Symmetric,
		DataType:  q.DataType,
		enabled:   q.enabled,
	}
	if q.encoding != nil {
		clone.encoding = q.encoding.Clone()
	}
	return clone
}
