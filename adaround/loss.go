package adaround

import (
	"fmt"
	"math"

	"github.com/quic-ykota/aimet/tensor"
)

// InWarmStart reports whether the given iteration falls inside the warm-start
// phase, during which the rounding loss contributes nothing. The boundary is
// strict: iteration < warmStart · numIterations.
func InWarmStart(iteration, numIterations int, warmStart float64) bool {
	return float64(iteration) < warmStart*float64(numIterations)
}

// AnnealedBeta returns the rounding-loss sharpness for the given iteration.
// β follows a half-cosine from Start down to End across the post-warm-start
// span of the run.
func AnnealedBeta(iteration, numIterations int, betaRange BetaRange, warmStart float64) float64 {
	warmEnd := warmStart * float64(numIterations)
	rel := (float64(iteration) - warmEnd) / (float64(numIterations) - warmEnd)
	return betaRange.End + 0.5*(betaRange.Start-betaRange.End)*(1+math.Cos(rel*math.Pi))
}

// ReconstructionLoss is the mean squared error between the soft-quantized
// layer output and the float layer output.
func ReconstructionLoss(quantOut, floatOut *tensor.Tensor) (float64, error) {
	return tensor.MSE(quantOut, floatOut)
}

// RoundingLoss sums the per-element penalty 1 − |2h − 1|^β over the soft
// rounding decisions, scaled by regParam. The penalty is 0 when a decision
// is exactly 0 or 1 and maximal at 0.5.
func RoundingLoss(decisions []float32, beta, regParam float64) float64 {
	var sum float64
	for _, h := range decisions {
		sum += 1 - math.Pow(math.Abs(2*float64(h)-1), beta)
	}
	return regParam * sum
}

// ComputeLoss evaluates the total annealed loss for one optimization step:
// reconstruction error plus the annealed rounding penalty. During the
// warm-start phase the rounding term is exactly 0 regardless of RegParam.
func ComputeLoss(quantOut, floatOut *tensor.Tensor, q *RoundingQuantizer, p *Parameters, iteration int) (total, recon, round float64, err error) {
	recon, err = ReconstructionLoss(quantOut, floatOut)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("reconstruction loss: %w", err)
	}

	if !InWarmStart(iteration, p.NumIterations, p.WarmStart) {
		beta := AnnealedBeta(iteration, p.NumIterations, p.BetaRange, p.WarmStart)
		round = RoundingLoss(q.SoftDecisions(), beta, p.RegParam)
	}
	return recon + round, recon, round, nil
}
