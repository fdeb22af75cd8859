package tensor

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense, row-major float32 tensor.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape cannot be empty")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		Data:     make([]float32, numElems),
		NumElems: numElems,
	}, nil
}

// FromSlice creates a tensor that takes ownership of data.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}

	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Rand creates a tensor with uniform values in [-1, 1) drawn from r.
func Rand(r *rand.Rand, shape ...int) (*Tensor, error) {
	t, err := New(shape...)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = r.Float32()*2 - 1
	}
	return t, nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:    append([]int{}, t.Shape...),
		Strides:  append([]int{}, t.Strides...),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(indices ...int) (float32, error) {
	offset, err := t.offset(indices)
	if err != nil {
		return 0, err
	}
	return t.Data[offset], nil
}

// Set assigns the element at the given multi-dimensional index.
func (t *Tensor) Set(value float32, indices ...int) error {
	offset, err := t.offset(indices)
	if err != nil {
		return err
	}
	t.Data[offset] = value
	return nil
}

func (t *Tensor) offset(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d with size %d", idx, i, t.Shape[i])
		}
		offset += idx * t.Strides[i]
	}
	return offset, nil
}

// SameShape reports whether t and other have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i, dim := range t.Shape {
		if dim != other.Shape[i] {
			return false
		}
	}
	return true
}
