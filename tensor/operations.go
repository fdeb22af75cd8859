package tensor

import (
	"fmt"
	"math"
)

// Add returns the elementwise sum a + b.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x + y })
}

// Sub returns the elementwise difference a - b.
func Sub(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x - y })
}

// Mul returns the elementwise product a * b.
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x * y })
}

func elementwise(a, b *Tensor, op func(x, y float32) float32) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out, err := New(a.Shape...)
	if err != nil {
		return nil, err
	}
	for i := range a.Data {
		out.Data[i] = op(a.Data[i], b.Data[i])
	}
	return out, nil
}

// Scale returns t scaled by s.
func Scale(t *Tensor, s float32) *Tensor {
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] *= s
	}
	return out
}

// MinMax returns the smallest and largest elements of t.
func MinMax(t *Tensor) (float32, float32) {
	min := t.Data[0]
	max := t.Data[0]
	for _, v := range t.Data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// MSE returns the mean squared error between a and b in float64 precision.
func MSE(a, b *Tensor) (float64, error) {
	if !a.SameShape(b) {
		return 0, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	var sum float64
	for i := range a.Data {
		d := float64(a.Data[i]) - float64(b.Data[i])
		sum += d * d
	}
	return sum / float64(a.NumElems), nil
}

// AllClose reports whether a and b match elementwise within tol.
func AllClose(a, b *Tensor, tol float64) bool {
	if !a.SameShape(b) {
		return false
	}
	for i := range a.Data {
		if math.Abs(float64(a.Data[i])-float64(b.Data[i])) > tol {
			return false
		}
	}
	return true
}
