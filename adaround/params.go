// Package adaround implements AdaRound, a post-training quantization
// technique that learns a per-element rounding decision for each layer's
// weight tensor by minimizing the reconstruction error of the layer output
// on calibration data.
package adaround

import (
	"fmt"

	"github.com/quic-ykota/aimet/dataloader"
)

// BetaRange is the annealing range for the rounding-loss sharpness β,
// monotonically decreasing from Start to End.
type BetaRange struct {
	Start float64
	End   float64
}

// Parameters configures one AdaRound run.
type Parameters struct {
	// DataSource yields calibration input batches.
	DataSource dataloader.BatchSource
	// NumBatches is the number of batches cached from DataSource.
	NumBatches int
	// NumIterations is the number of optimization steps per layer.
	NumIterations int
	// RegParam trades rounding loss against reconstruction loss.
	RegParam float64
	// BetaRange anneals the rounding-loss sharpness.
	BetaRange BetaRange
	// WarmStart is the fraction of iterations during which the rounding
	// loss contributes nothing.
	WarmStart float64
}

// NewParameters creates parameters with the default hyperparameters:
// 10000 iterations, regularization 0.01, β annealed 20 → 2, 20% warm start.
func NewParameters(src dataloader.BatchSource, numBatches int) *Parameters {
	return &Parameters{
		DataSource:    src,
		NumBatches:    numBatches,
		NumIterations: 10000,
		RegParam:      0.01,
		BetaRange:     BetaRange{Start: 20, End: 2},
		WarmStart:     0.2,
	}
}

// Validate checks the parameter invariants.
func (p *Parameters) Validate() error {
	if p.DataSource == nil {
		return fmt.Errorf("data source cannot be nil")
	}
	if p.NumBatches <= 0 {
		return fmt.Errorf("number of batches must be positive, got %d", p.NumBatches)
	}
	if p.NumIterations <= 0 {
		return fmt.Errorf("number of iterations must be positive, got %d", p.NumIterations)
	}
	if p.RegParam < 0 {
		return fmt.Errorf("regularization parameter cannot be negative, got %f", p.RegParam)
	}
	if p.BetaRange.Start < p.BetaRange.End {
		return fmt.Errorf("beta range must decrease, got start=%f end=%f", p.BetaRange.Start, p.BetaRange.End)
	}
	if p.BetaRange.End <= 0 {
		return fmt.Errorf("beta range end must be positive, got %f", p.BetaRange.End)
	}
	if p.WarmStart < 0 || p.WarmStart >= 1 {
		return fmt.Errorf("warm start fraction must be in [0, 1), got %f", p.WarmStart)
	}
	return nil
}
