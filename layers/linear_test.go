package layers

import (
	"math"
	"math/rand"
	"testing"

	"github.com/quic-ykota/aimet/tensor"
)

// numericalWeightGradient approximates dLoss/dWeight by central differences,
// where the loss is the inner product of the layer output with coeff.
func numericalWeightGradient(t *testing.T, l WeightLayer, input, coeff *tensor.Tensor) *tensor.Tensor {
	t.Helper()

	const eps = 1e-3
	weight := l.Weight()
	grad := weight.Clone()
	for i := range weight.Data {
		perturbed := weight.Clone()

		perturbed.Data[i] = weight.Data[i] + eps
		up, err := l.ForwardUsing(input, perturbed)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}

		perturbed.Data[i] = weight.Data[i] - eps
		down, err := l.ForwardUsing(input, perturbed)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}

		var diff float64
		for j := range up.Data {
			diff += float64(coeff.Data[j]) * (float64(up.Data[j]) - float64(down.Data[j]))
		}
		grad.Data[i] = float32(diff / (2 * eps))
	}
	return grad
}

func checkWeightGradient(t *testing.T, l WeightLayer, input *tensor.Tensor) {
	t.Helper()

	out, err := l.Forward(input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	r := rand.New(rand.NewSource(7))
	coeff, err := tensor.Rand(r, out.Shape...)
	if err != nil {
		t.Fatalf("failed to create coefficients: %v", err)
	}

	analytic, err := l.WeightGradient(input, coeff)
	if err != nil {
		t.Fatalf("WeightGradient failed: %v", err)
	}
	numerical := numericalWeightGradient(t, l, input, coeff)

	if !tensor.AllClose(analytic, numerical, 1e-2) {
		t.Errorf("Analytic gradient diverges from numerical gradient:\n%v\nvs\n%v", analytic.Data, numerical.Data)
	}
}

// TestLinearForward tests the fully-connected forward pass with known values
func TestLinearForward(t *testing.T) {
	l, err := NewLinear(3, 2, true)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	weight, _ := tensor.FromSlice([]float32{1, 0, -1, 2, 1, 0}, 2, 3)
	if err := l.SetWeight(weight); err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}
	l.Bias().Data[0] = 0.5
	l.Bias().Data[1] = -0.5

	x, _ := tensor.FromSlice([]float32{1, 2, 3}, 1, 3)
	out, err := l.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Row 0: 1*1 + 0*2 + (-1)*3 + 0.5 = -1.5
	// Row 1: 2*1 + 1*2 + 0*3 - 0.5 = 3.5
	expected := []float32{-1.5, 3.5}
	for i, v := range out.Data {
		if math.Abs(float64(v-expected[i])) > 1e-6 {
			t.Errorf("Expected output %v, got %v", expected, out.Data)
			break
		}
	}
}

// TestLinearInputValidation tests input shape checking
func TestLinearInputValidation(t *testing.T) {
	l, err := NewLinear(3, 2, false)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	bad, _ := tensor.New(1, 4)
	if _, err := l.Forward(bad); err == nil {
		t.Error("Expected error for wrong input width")
	}

	badWeight, _ := tensor.New(2, 4)
	if err := l.SetWeight(badWeight); err == nil {
		t.Error("Expected error for wrong weight shape")
	}
}

// TestLinearWeightGradient tests the analytic gradient against finite differences
func TestLinearWeightGradient(t *testing.T) {
	l, err := NewLinear(4, 3, true)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	r := rand.New(rand.NewSource(1))
	weight, _ := tensor.Rand(r, 3, 4)
	if err := l.SetWeight(weight); err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}

	input, _ := tensor.Rand(r, 2, 4)
	checkWeightGradient(t, l, input)
}

// TestLinearClone tests deep copying
func TestLinearClone(t *testing.T) {
	l, err := NewLinear(2, 2, true)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}
	l.Weight().Data[0] = 1

	clone := l.Clone().(*Linear)
	clone.Weight().Data[0] = 99

	if l.Weight().Data[0] != 1 {
		t.Error("Modifying a clone's weight should not affect the original")
	}
}
