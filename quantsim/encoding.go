// Package quantsim simulates fixed-point quantization of a float model:
// per-layer fake-quantize wrappers, encoding computation, and encoding
// export.
package quantsim

import (
	"fmt"
	"math"
)

// QuantScheme selects how encodings are computed from tensor statistics.
type QuantScheme int

const (
	// SchemeTF uses the observed min/max directly.
	SchemeTF QuantScheme = iota
	// SchemeTFEnhanced searches over shrunk min/max candidates for the
	// range with the lowest quantization noise.
	SchemeTFEnhanced
)

func (s QuantScheme) String() string {
	switch s {
	case SchemeTF:
		return "tf"
	case SchemeTFEnhanced:
		return "tf_enhanced"
	default:
		return "unknown"
	}
}

// DataType distinguishes fixed-point grids from float16 simulation.
type DataType int

const (
	DataTypeInt DataType = iota
	DataTypeFloat
)

func (d DataType) String() string {
	switch d {
	case DataTypeInt:
		return "int"
	case DataTypeFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Encoding maps a real-valued tensor to and from its fixed-point grid:
// value ≈ (gridIndex + Offset) · Delta with gridIndex ∈ [0, 2^Bitwidth - 1].
type Encoding struct {
	Min       float64
	Max       float64
	Delta     float64
	Offset    float64
	Bitwidth  int
	Symmetric bool
	DataType  DataType
}

// Clone returns a copy of the encoding.
func (e *Encoding) Clone() *Encoding {
	clone := *e
	return &clone
}

// GridSteps returns the number of quantization steps, 2^Bitwidth - 1.
func (e *Encoding) GridSteps() float64 {
	return float64(uint64(1)<<uint(e.Bitwidth)) - 1
}

const minDelta = 1e-8

// computeEncodingFromRange derives the grid parameters for an observed value
// range. The range is widened to include zero so that zero is always exactly
// representable.
func computeEncodingFromRange(min, max float64, bitwidth int, symmetric bool) *Encoding {
	min = math.Min(min, 0)
	max = math.Max(max, 0)

	numSteps := float64(uint64(1)<<uint(bitwidth)) - 1

	var delta, offset float64
	if symmetric {
		absMax := math.Max(math.Abs(min), math.Abs(max))
		half := float64(uint64(1)<<uint(bitwidth-1)) - 1
		delta = absMax / half
		if delta < minDelta {
			delta = minDelta
		}
		offset = -half
	} else {
		delta = (max - min) / numSteps
		if delta < minDelta {
			delta = minDelta
		}
		offset = math.Round(min / delta)
	}

	return &Encoding{
		Min:       delta * offset,
		Max:       delta * (numSteps + offset),
		Delta:     delta,
		Offset:    offset,
		Bitwidth:  bitwidth,
		Symmetric: symmetric,
		DataType:  DataTypeInt,
	}
}

func validateBitwidth(bitwidth int) error {
	if bitwidth < 2 || bitwidth > 31 {
		return fmt.Errorf("bitwidth must be in [2, 31], got %d", bitwidth)
	}
	return nil
}
