// Package layers provides runnable neural-network modules: weight-bearing
// layers, activations, and containers with stable hierarchical names.
package layers

import (
	"fmt"
	"strings"

	"github.com/quic-ykota/aimet/tensor"
)

// Module is the basic building block of a model.
type Module interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Clone() Module
}

// WeightLayer is a module carrying a learnable weight tensor whose rounding
// can be optimized. Supported kinds: Linear, Conv2D, ConvTranspose2D.
type WeightLayer interface {
	Module
	Weight() *tensor.Tensor
	// SetWeight replaces the weight tensor in one assignment. The layer
	// takes ownership of w.
	SetWeight(w *tensor.Tensor) error
	// ForwardUsing runs the layer with an alternate weight tensor, leaving
	// the stored weight untouched.
	ForwardUsing(x, w *tensor.Tensor) (*tensor.Tensor, error)
	// WeightGradient computes dLoss/dWeight given the layer input and the
	// gradient of the loss with respect to the layer output.
	WeightGradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error)
}

// Activation is a stateless nonlinearity with an analytic gradient.
type Activation interface {
	Module
	// Gradient computes dLoss/dInput given the layer input and the gradient
	// of the loss with respect to the activation output.
	Gradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error)
}

// NamedModule pairs a module with the name it carries inside its parent.
type NamedModule struct {
	Name   string
	Module Module
}

// Container is a module composed of named children. Containers make the
// module tree walkable so that wrappers can be spliced in and out.
type Container interface {
	Module
	Children() []NamedModule
	ReplaceChild(name string, m Module) error
}

// Sequential runs its children in order, feeding each child the previous
// child's output.
type Sequential struct {
	children []NamedModule
	index    map[string]int
}

// NewSequential creates an empty sequential container.
func NewSequential() *Sequential {
	return &Sequential{index: make(map[string]int)}
}

// Add appends a named child. Names must be unique within the container and
// must not contain '.', which is reserved for hierarchical paths.
func (s *Sequential) Add(name string, m Module) error {
	if name == "" {
		return fmt.Errorf("child name cannot be empty")
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("child name %q cannot contain '.'", name)
	}
	if _, exists := s.index[name]; exists {
		return fmt.Errorf("duplicate child name %q", name)
	}
	s.index[name] = len(s.children)
	s.children = append(s.children, NamedModule{Name: name, Module: m})
	return nil
}

// MustAdd is Add that panics on error, for static model construction.
func (s *Sequential) MustAdd(name string, m Module) *Sequential {
	if err := s.Add(name, m); err != nil {
		panic(err)
	}
	return s
}

// Forward runs every child in insertion order.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return s.ForwardWithTrace(x, nil)
}

// ForwardWithTrace runs every child in insertion order, recording each leaf
// invocation into rec when rec is non-nil.
func (s *Sequential) ForwardWithTrace(x *tensor.Tensor, rec *Recorder) (*tensor.Tensor, error) {
	cur := x
	for _, child := range s.children {
		out, err := forwardChild(child, cur, rec)
		if err != nil {
			return nil, fmt.Errorf("child %q: %w", child.Name, err)
		}
		cur = out
	}
	return cur, nil
}

// Children returns the children in insertion order.
func (s *Sequential) Children() []NamedModule {
	return append([]NamedModule{}, s.children...)
}

// ReplaceChild swaps the child with the given name for m.
func (s *Sequential) ReplaceChild(name string, m Module) error {
	i, ok := s.index[name]
	if !ok {
		return fmt.Errorf("no child named %q", name)
	}
	s.children[i].Module = m
	return nil
}

// Clone deep-copies the container and all of its children.
func (s *Sequential) Clone() Module {
	clone := NewSequential()
	for _, child := range s.children {
		clone.MustAdd(child.Name, child.Module.Clone())
	}
	return clone
}

// NamedModules returns every leaf module under root with its dotted
// hierarchical path, in declaration order.
func NamedModules(root Module) []NamedModule {
	var out []NamedModule
	collectNamed(root, "", &out)
	return out
}

func collectNamed(m Module, prefix string, out *[]NamedModule) {
	c, ok := m.(Container)
	if !ok {
		*out = append(*out, NamedModule{Name: prefix, Module: m})
		return
	}
	for _, child := range c.Children() {
		path := child.Name
		if prefix != "" {
			path = prefix + "." + child.Name
		}
		collectNamed(child.Module, path, out)
	}
}

// FindModule resolves a dotted hierarchical path to a module under root.
func FindModule(root Module, path string) (Module, bool) {
	for _, nm := range NamedModules(root) {
		if nm.Name == path {
			return nm.Module, true
		}
	}
	return nil, false
}
