package adaround

import (
	"fmt"
	"math"

	"github.com/quic-ykota/aimet/dataloader"
	"github.com/quic-ykota/aimet/layers"
	"github.com/quic-ykota/aimet/optimizer"
	"github.com/quic-ykota/aimet/quantsim"
	"github.com/quic-ykota/aimet/tensor"
)

// layerData holds the per-batch activations one layer's optimization replays:
// the input feeding the quantized layer and the float layer's reference
// output (post-activation when the layer has a paired activation).
type layerData struct {
	quantIn  []*tensor.Tensor
	floatOut []*tensor.Tensor
	refOut   []*tensor.Tensor
}

// collectLayerData runs every cached batch through the float and quantized
// models once, capturing the activations at the target layer. Layers already
// processed contribute their committed rounded weights on the quantized side;
// the float model stays pristine.
func collectLayerData(wrapper *quantsim.QuantWrapper, floatModel, quantModel layers.Module,
	floatLayer layers.WeightLayer, act layers.Activation, cached *dataloader.CachedDataset) (*layerData, error) {

	n := cached.Len()
	data := &layerData{
		quantIn:  make([]*tensor.Tensor, n),
		floatOut: make([]*tensor.Tensor, n),
		refOut:   make([]*tensor.Tensor, n),
	}

	for b := 0; b < n; b++ {
		batch, err := cached.Batch(b)
		if err != nil {
			return nil, err
		}

		floatEvents, _, err := layers.Trace(floatModel, batch)
		if err != nil {
			return nil, fmt.Errorf("float model forward: %w", err)
		}
		for _, ev := range floatEvents {
			if ev.Module == floatLayer {
				data.floatOut[b] = ev.Output
				break
			}
		}
		if data.floatOut[b] == nil {
			return nil, fmt.Errorf("layer was not invoked by the float model forward pass")
		}

		quantEvents, _, err := layers.Trace(quantModel, batch)
		if err != nil {
			return nil, fmt.Errorf("quantized model forward: %w", err)
		}
		for _, ev := range quantEvents {
			if ev.Module == layers.Module(wrapper) {
				data.quantIn[b] = ev.Input
				break
			}
		}
		if data.quantIn[b] == nil {
			return nil, fmt.Errorf("layer was not invoked by the quantized model forward pass")
		}

		data.refOut[b] = data.floatOut[b]
		if act != nil {
			data.refOut[b], err = act.Forward(data.floatOut[b])
			if err != nil {
				return nil, fmt.Errorf("activation forward: %w", err)
			}
		}
	}
	return data, nil
}

// optimizeRounding runs the per-layer optimization loop: NumIterations Adam
// steps over the rounding logits, cycling through the cached batches, with
// the rounding loss annealed after the warm-start phase.
func optimizeRounding(wrapper *quantsim.QuantWrapper, rq *RoundingQuantizer,
	floatModel, quantModel layers.Module, floatLayer layers.WeightLayer, act layers.Activation,
	cached *dataloader.CachedDataset, p *Parameters, progress ProgressFunc, layerName string) error {

	if rq.Encoding() == nil {
		return fmt.Errorf("rounding quantizer has no encoding")
	}

	data, err := collectLayerData(wrapper, floatModel, quantModel, floatLayer, act, cached)
	if err != nil {
		return err
	}

	weight := wrapper.Weight()
	adam, err := optimizer.NewAdam(optimizer.DefaultAdamConfig(), weight.NumElems)
	if err != nil {
		return err
	}

	e := rq.Encoding()
	steps := e.GridSteps()
	gradAlpha := make([]float32, weight.NumElems)

	for iter := 0; iter < p.NumIterations; iter++ {
		b := iter % cached.Len()
		input := data.quantIn[b]
		target := data.refOut[b]

		softWeight, err := rq.QuantizeDequantize(weight)
		if err != nil {
			return err
		}
		out, err := wrapper.ForwardUsing(input, softWeight)
		if err != nil {
			return err
		}

		actOut := out
		if act != nil {
			actOut, err = act.Forward(out)
			if err != nil {
				return err
			}
		}

		// Reconstruction loss and its gradient with respect to the layer
		// output, accumulated in one pass.
		numel := float64(actOut.NumElems)
		gradOut := actOut.Clone()
		var reconLoss float64
		for i := range gradOut.Data {
			d := float64(actOut.Data[i]) - float64(target.Data[i])
			reconLoss += d * d
			gradOut.Data[i] = float32(2 * d / numel)
		}
		reconLoss /= numel

		gradPre := gradOut
		if act != nil {
			gradPre, err = act.Gradient(out, gradOut)
			if err != nil {
				return err
			}
		}

		gradWeight, err := wrapper.WeightGradient(input, gradPre)
		if err != nil {
			return err
		}

		warm := InWarmStart(iter, p.NumIterations, p.WarmStart)
		var beta float64
		if !warm {
			beta = AnnealedBeta(iter, p.NumIterations, p.BetaRange, p.WarmStart)
		}

		// Chain the output gradient through the soft rounding decision into
		// alpha, adding the rounding-loss gradient outside the warm start.
		var roundLoss float64
		for i, a := range rq.alpha.Data {
			s := 1 / (1 + math.Exp(-float64(a)))
			hRaw := s*(stretchZeta-stretchGamma) + stretchGamma
			h := math.Min(math.Max(hRaw, 0), 1)

			var dhda float64
			if hRaw > 0 && hRaw < 1 {
				dhda = (stretchZeta - stretchGamma) * s * (1 - s)
			}

			var g float64
			x := float64(weight.Data[i]) / e.Delta
			u := math.Floor(x) + h - e.Offset
			if u >= 0 && u <= steps {
				g = float64(gradWeight.Data[i]) * e.Delta * dhda
			}

			if !warm {
				t := 2*h - 1
				abs := math.Abs(t)
				roundLoss += 1 - math.Pow(abs, beta)
				if abs > 0 {
					sign := 1.0
					if t < 0 {
						sign = -1
					}
					g -= p.RegParam * beta * math.Pow(abs, beta-1) * sign * 2 * dhda
				}
			}
			gradAlpha[i] = float32(g)
		}

		if err := adam.Step(rq.alpha.Data, gradAlpha); err != nil {
			return err
		}

		if progress != nil {
			progress(layerName, iter, reconLoss+p.RegParam*roundLoss)
		}
	}
	return nil
}
