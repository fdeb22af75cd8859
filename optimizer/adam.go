// Package optimizer provides gradient-descent optimizers over flat parameter
// slices.
package optimizer

import (
	"fmt"
	"math"
)

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	// Moment buffers
	momentum []float32
	variance []float32

	// Step tracking
	StepCount uint64
}

// NewAdam creates an Adam optimizer for numParams parameters.
func NewAdam(config AdamConfig, numParams int) (*Adam, error) {
	if numParams <= 0 {
		return nil, fmt.Errorf("number of parameters must be positive, got %d", numParams)
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1.0 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1.0 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	return &Adam{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		momentum:     make([]float32, numParams),
		variance:     make([]float32, numParams),
	}, nil
}

// Step applies one parameter update in place. params and grads must have the
// length the optimizer was created with.
func (a *Adam) Step(params, grads []float32) error {
	if len(params) != len(a.momentum) {
		return fmt.Errorf("expected %d parameters, got %d", len(a.momentum), len(params))
	}
	if len(grads) != len(params) {
		return fmt.Errorf("parameter and gradient lengths differ: %d vs %d", len(params), len(grads))
	}

	a.StepCount++
	biasCorr1 := 1 - math.Pow(float64(a.Beta1), float64(a.StepCount))
	biasCorr2 := 1 - math.Pow(float64(a.Beta2), float64(a.StepCount))

	for i := range params {
		g := grads[i]
		if a.WeightDecay > 0 {
			g += a.WeightDecay * params[i]
		}

		a.momentum[i] = a.Beta1*a.momentum[i] + (1-a.Beta1)*g
		a.variance[i] = a.Beta2*a.variance[i] + (1-a.Beta2)*g*g

		mHat := float64(a.momentum[i]) / biasCorr1
		vHat := float64(a.variance[i]) / biasCorr2

		params[i] -= a.LearningRate * float32(mHat/(math.Sqrt(vHat)+float64(a.Epsilon)))
	}
	return nil
}
