package quantsim

import (
	"fmt"
	"sort"

	"github.com/quic-ykota/aimet/layers"
)

// SimConfig configures a quantization simulation.
type SimConfig struct {
	DefaultParamBitwidth int
	Scheme               QuantScheme
	Symmetric            bool
	DataType             DataType

	// RuntimeConfig optionally refines quantizer settings per layer.
	RuntimeConfig *Config
}

// DefaultSimConfig returns an 8-bit asymmetric TF-enhanced configuration.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		DefaultParamBitwidth: 8,
		Scheme:               SchemeTFEnhanced,
		DataType:             DataTypeInt,
	}
}

// Sim owns a deep copy of a model in which every supported weight-bearing
// layer is replaced by a QuantWrapper. The original model is never touched.
type Sim struct {
	model    layers.Container
	wrappers map[string]*QuantWrapper
}

// NewSim builds a simulation model from a float model. The model root must
// be a container so that wrappers can be spliced in.
func NewSim(model layers.Module, cfg SimConfig) (*Sim, error) {
	if err := validateBitwidth(cfg.DefaultParamBitwidth); err != nil {
		return nil, fmt.Errorf("default param bitwidth: %w", err)
	}

	root, ok := model.Clone().(layers.Container)
	if !ok {
		return nil, fmt.Errorf("model root must be a container, got %T", model)
	}

	s := &Sim{
		model:    root,
		wrappers: make(map[string]*QuantWrapper),
	}
	if err := s.wrapLayers(root, "", cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (s *Sim) wrapLayers(c layers.Container, prefix string, cfg SimConfig) error {
	for _, child := range c.Children() {
		path := joinPath(prefix, child.Name)

		if sub, ok := child.Module.(layers.Container); ok {
			if err := s.wrapLayers(sub, path, cfg); err != nil {
				return err
			}
			continue
		}

		wl, ok := child.Module.(layers.WeightLayer)
		if !ok {
			continue
		}

		bitwidth := cfg.DefaultParamBitwidth
		symmetric := cfg.Symmetric
		if cfg.RuntimeConfig != nil {
			bitwidth, symmetric = cfg.RuntimeConfig.resolve(path, bitwidth, symmetric)
		}

		w, err := NewQuantWrapper(wl, bitwidth, cfg.Scheme, symmetric, cfg.DataType)
		if err != nil {
			return fmt.Errorf("layer %q: %w", path, err)
		}
		if err := c.ReplaceChild(child.Name, w); err != nil {
			return err
		}
		s.wrappers[path] = w
	}
	return nil
}

// Model returns the simulation model.
func (s *Sim) Model() layers.Module {
	return s.model
}

// Wrapper returns the wrapper for a hierarchical layer name.
func (s *Sim) Wrapper(name string) (*QuantWrapper, bool) {
	w, ok := s.wrappers[name]
	return w, ok
}

// WrapperNames returns the wrapped layer names in sorted order.
func (s *Sim) WrapperNames() []string {
	names := make([]string, 0, len(s.wrappers))
	for name := range s.wrappers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetParamBitwidth overrides the weight quantizer bitwidth for one layer.
// The layer must resolve to a wrapped module.
func (s *Sim) SetParamBitwidth(name string, bitwidth int) error {
	w, ok := s.wrappers[name]
	if !ok {
		return fmt.Errorf("bitwidth override: no quantized layer named %q", name)
	}
	tq, ok := w.ParamQuantizer().(*TensorQuantizer)
	if !ok {
		return fmt.Errorf("bitwidth override: layer %q no longer has a static quantizer", name)
	}
	if err := validateBitwidth(bitwidth); err != nil {
		return fmt.Errorf("bitwidth override for %q: %w", name, err)
	}
	tq.Bitwidth = bitwidth
	tq.ResetEncoding()
	return nil
}

// ExcludeLayers removes the quantization wrappers for the named layers,
// restoring the plain layers. Unknown names are fatal.
func (s *Sim) ExcludeLayers(names []string) error {
	for _, name := range names {
		w, ok := s.wrappers[name]
		if !ok {
			return fmt.Errorf("exclusion list: no quantized layer named %q", name)
		}
		if err := s.replaceInTree(s.model, "", name, w.Wrapped()); err != nil {
			return err
		}
		delete(s.wrappers, name)
	}
	return nil
}

func (s *Sim) replaceInTree(c layers.Container, prefix, target string, m layers.Module) error {
	for _, child := range c.Children() {
		path := joinPath(prefix, child.Name)
		if path == target {
			return c.ReplaceChild(child.Name, m)
		}
		if sub, ok := child.Module.(layers.Container); ok {
			if err := s.replaceInTree(sub, path, target, m); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("layer %q not found in simulation model", target)
}

// ComputeParamEncodings computes every weight quantizer's encoding directly
// from the layer's weight statistics, disables all activation quantizers,
// and switches the wrappers to active fake-quantization.
func (s *Sim) ComputeParamEncodings() error {
	for _, name := range s.WrapperNames() {
		w := s.wrappers[name]
		w.InputQuantizer().SetEnabled(false)
		w.OutputQuantizer().SetEnabled(false)

		tq, ok := w.ParamQuantizer().(*TensorQuantizer)
		if !ok {
			return fmt.Errorf("layer %q: param quantizer is not a static quantizer", name)
		}
		if err := tq.ComputeEncoding(w.Weight()); err != nil {
			return fmt.Errorf("layer %q: %w", name, err)
		}
		w.SetMode(ModeActive)
	}
	return nil
}

// StripWrappers removes every remaining wrapper from the simulation model
// and returns the plain model. The Sim must not be used afterwards.
func (s *Sim) StripWrappers() layers.Module {
	for name, w := range s.wrappers {
		// Ignore the not-found case: the wrapper was already stripped.
		_ = s.replaceInTree(s.model, "", name, w.Wrapped())
	}
	s.wrappers = make(map[string]*QuantWrapper)
	return s.model
}
