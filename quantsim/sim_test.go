package quantsim

import (
	"math/rand"
	"testing"

	"github.com/quic-ykota/aimet/layers"
	"github.com/quic-ykota/aimet/tensor"
)

func newSimTestModel(t *testing.T) *layers.Sequential {
	t.Helper()
	mk := func(in, out int, seed int64) *layers.Linear {
		l, err := layers.NewLinear(in, out, false)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}
		rng := rand.New(rand.NewSource(seed))
		w, _ := tensor.Rand(rng, out, in)
		if err := l.SetWeight(w); err != nil {
			t.Fatalf("SetWeight failed: %v", err)
		}
		return l
	}
	return layers.NewSequential().
		MustAdd("fc1", mk(4, 3, 1)).
		MustAdd("act", layers.NewReLU()).
		MustAdd("fc2", mk(3, 2, 2))
}

// TestNewSimWrapsWeightLayers tests that every weight layer gets a wrapper
// and the original model is untouched
func TestNewSimWrapsWeightLayers(t *testing.T) {
	model := newSimTestModel(t)
	sim, err := NewSim(model, DefaultSimConfig())
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}

	names := sim.WrapperNames()
	if len(names) != 2 || names[0] != "fc1" || names[1] != "fc2" {
		t.Fatalf("Expected wrappers for fc1, fc2; got %v", names)
	}

	// The source model keeps its plain layers.
	m, ok := layers.FindModule(model, "fc1")
	if !ok {
		t.Fatal("fc1 missing from source model")
	}
	if _, isWrapper := m.(*QuantWrapper); isWrapper {
		t.Error("Expected the source model to stay unwrapped")
	}
}

// TestSimSetParamBitwidth tests per-layer bitwidth overrides
func TestSimSetParamBitwidth(t *testing.T) {
	sim, err := NewSim(newSimTestModel(t), DefaultSimConfig())
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}

	if err := sim.SetParamBitwidth("fc1", 4); err != nil {
		t.Fatalf("SetParamBitwidth failed: %v", err)
	}
	w, _ := sim.Wrapper("fc1")
	if tq := w.ParamQuantizer().(*TensorQuantizer); tq.Bitwidth != 4 {
		t.Errorf("Expected bitwidth 4 after override, got %d", tq.Bitwidth)
	}

	if err := sim.SetParamBitwidth("nope", 4); err == nil {
		t.Error("Expected error for unknown layer name")
	}
	if err := sim.SetParamBitwidth("fc1", 1); err == nil {
		t.Error("Expected error for invalid bitwidth")
	}
}

// TestSimExcludeLayers tests wrapper removal for excluded layers
func TestSimExcludeLayers(t *testing.T) {
	sim, err := NewSim(newSimTestModel(t), DefaultSimConfig())
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}

	if err := sim.ExcludeLayers([]string{"fc2"}); err != nil {
		t.Fatalf("ExcludeLayers failed: %v", err)
	}
	if _, ok := sim.Wrapper("fc2"); ok {
		t.Error("Expected fc2 wrapper to be removed")
	}
	m, ok := layers.FindModule(sim.Model(), "fc2")
	if !ok {
		t.Fatal("fc2 missing from simulation model")
	}
	if _, isWrapper := m.(*QuantWrapper); isWrapper {
		t.Error("Expected fc2 to be restored to the plain layer")
	}

	if err := sim.ExcludeLayers([]string{"ghost"}); err == nil {
		t.Error("Expected error for unknown exclusion name")
	}
}

// TestComputeParamEncodings tests that encodings land on every wrapper and
// activation quantizers stay disabled
func TestComputeParamEncodings(t *testing.T) {
	sim, err := NewSim(newSimTestModel(t), DefaultSimConfig())
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}
	if err := sim.ComputeParamEncodings(); err != nil {
		t.Fatalf("ComputeParamEncodings failed: %v", err)
	}

	for _, name := range sim.WrapperNames() {
		w, _ := sim.Wrapper(name)
		if w.ParamQuantizer().Encoding() == nil {
			t.Errorf("Expected encoding for %q", name)
		}
		if w.InputQuantizer().IsEnabled() || w.OutputQuantizer().IsEnabled() {
			t.Errorf("Expected activation quantizers disabled for %q", name)
		}
		if w.Mode() != ModeActive {
			t.Errorf("Expected %q in active mode", name)
		}
	}
}

// TestStripWrappers tests that the final model contains no wrappers
func TestStripWrappers(t *testing.T) {
	sim, err := NewSim(newSimTestModel(t), DefaultSimConfig())
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}

	model := sim.StripWrappers()
	for _, nm := range layers.NamedModules(model) {
		if _, isWrapper := nm.Module.(*QuantWrapper); isWrapper {
			t.Errorf("Expected no wrapper at %q after strip", nm.Name)
		}
	}
}

// TestNewSimRejectsLeafRoot tests that a bare layer cannot seed a simulation
func TestNewSimRejectsLeafRoot(t *testing.T) {
	l, err := layers.NewLinear(2, 2, false)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	if _, err := NewSim(l, DefaultSimConfig()); err == nil {
		t.Error("Expected error for a non-container model root")
	}
}
