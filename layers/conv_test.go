package layers

import (
	"math"
	"math/rand"
	"testing"

	"github.com/quic-ykota/aimet/tensor"
)

// TestConv2DForward tests the convolution forward pass with known values
func TestConv2DForward(t *testing.T) {
	c, err := NewConv2D(1, 1, 2, 1, 0, false)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	weight, _ := tensor.FromSlice([]float32{1, 0, 0, 1}, 1, 1, 2, 2)
	if err := c.SetWeight(weight); err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}

	x, _ := tensor.FromSlice([]float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 1, 3, 3)

	out, err := c.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Kernel picks top-left + bottom-right of each 2x2 window.
	expected := []float32{1 + 5, 2 + 6, 4 + 8, 5 + 9}
	if len(out.Data) != 4 {
		t.Fatalf("Expected 2x2 output, got shape %v", out.Shape)
	}
	for i, v := range out.Data {
		if math.Abs(float64(v-expected[i])) > 1e-6 {
			t.Errorf("Expected output %v, got %v", expected, out.Data)
			break
		}
	}
}

// TestConv2DPaddingShape tests output shape with padding and stride
func TestConv2DPaddingShape(t *testing.T) {
	c, err := NewConv2D(3, 4, 3, 1, 1, true)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	x, _ := tensor.New(2, 3, 8, 8)
	out, err := c.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	expected := []int{2, 4, 8, 8}
	for i, d := range out.Shape {
		if d != expected[i] {
			t.Errorf("Expected shape %v, got %v", expected, out.Shape)
			break
		}
	}
}

// TestConv2DWeightGradient tests the analytic gradient against finite differences
func TestConv2DWeightGradient(t *testing.T) {
	c, err := NewConv2D(2, 3, 3, 1, 1, true)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	r := rand.New(rand.NewSource(2))
	weight, _ := tensor.Rand(r, 3, 2, 3, 3)
	if err := c.SetWeight(weight); err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}

	input, _ := tensor.Rand(r, 2, 2, 5, 5)
	checkWeightGradient(t, c, input)
}

// TestConv2DStridedWeightGradient tests gradients with stride > 1
func TestConv2DStridedWeightGradient(t *testing.T) {
	c, err := NewConv2D(1, 2, 2, 2, 0, false)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	r := rand.New(rand.NewSource(3))
	weight, _ := tensor.Rand(r, 2, 1, 2, 2)
	if err := c.SetWeight(weight); err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}

	input, _ := tensor.Rand(r, 1, 1, 6, 6)
	checkWeightGradient(t, c, input)
}

// TestConvTranspose2DForward tests the transposed convolution output shape
// and a known upsampling case
func TestConvTranspose2DForward(t *testing.T) {
	c, err := NewConvTranspose2D(1, 1, 2, 2, 0, false)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	weight, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	if err := c.SetWeight(weight); err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	out, err := c.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	expectedShape := []int{1, 1, 4, 4}
	for i, d := range out.Shape {
		if d != expectedShape[i] {
			t.Fatalf("Expected shape %v, got %v", expectedShape, out.Shape)
		}
	}

	// Stride 2 with a 2x2 kernel tiles each input value by the kernel.
	expected := []float32{
		1, 2, 2, 4,
		3, 4, 6, 8,
		3, 6, 4, 8,
		9, 12, 12, 16,
	}
	for i, v := range out.Data {
		if math.Abs(float64(v-expected[i])) > 1e-6 {
			t.Errorf("Expected output %v, got %v", expected, out.Data)
			break
		}
	}
}

// TestConvTranspose2DWeightGradient tests the analytic gradient against
// finite differences
func TestConvTranspose2DWeightGradient(t *testing.T) {
	c, err := NewConvTranspose2D(2, 2, 3, 2, 1, true)
	if err != nil {
		t.Fatalf("Failed to create layer: %v", err)
	}

	r := rand.New(rand.NewSource(4))
	weight, _ := tensor.Rand(r, 2, 2, 3, 3)
	if err := c.SetWeight(weight); err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}

	input, _ := tensor.Rand(r, 1, 2, 4, 4)
	checkWeightGradient(t, c, input)
}
