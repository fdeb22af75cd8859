package adaround

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/quic-ykota/aimet/dataloader"
	"github.com/quic-ykota/aimet/layers"
	"github.com/quic-ykota/aimet/quantsim"
	"github.com/quic-ykota/aimet/tensor"
)

// ProgressFunc receives the per-step loss during a layer's optimization.
type ProgressFunc func(layer string, iteration int, loss float64)

// Config controls how the quantization simulation around the model is built
// and where the calibration cache lives.
type Config struct {
	// DefaultParamBitwidth is the weight bitwidth used for every layer
	// without an override.
	DefaultParamBitwidth int
	// Scheme selects how initial encodings are computed.
	Scheme quantsim.QuantScheme
	// Symmetric selects symmetric weight encodings.
	Symmetric bool
	// ParamBitwidthOverrides maps layer names to per-layer bitwidths.
	// Names that do not resolve to a quantized layer are fatal.
	ParamBitwidthOverrides map[string]int
	// ExcludeLayers lists layers to leave unquantized. Names that do not
	// resolve to a quantized layer are fatal.
	ExcludeLayers []string
	// QuantizerConfig optionally refines quantizer settings per layer.
	QuantizerConfig *quantsim.Config
	// WorkingDir holds the calibration cache for the duration of one run.
	// When empty a temporary directory is used. The directory is removed
	// on every exit path.
	WorkingDir string
	// Progress, when set, receives the loss after every optimization step.
	Progress ProgressFunc
}

// DefaultConfig returns the default AdaRound configuration: 4-bit weights
// with TF-enhanced asymmetric encodings.
func DefaultConfig() Config {
	return Config{
		DefaultParamBitwidth: 4,
		Scheme:               quantsim.SchemeTFEnhanced,
	}
}

// ApplyAdaround optimizes the weight rounding of every supported layer of
// model (Conv2D, ConvTranspose2D, Linear) and writes the resulting
// per-parameter quantization encodings to <exportDir>/<filenamePrefix>.encodings.
//
// Layers are processed in the model's execution order, determined by tracing
// a forward pass on dummyInput. The quantized model accumulates committed
// rounded weights as processing proceeds; the float model is never modified.
// The returned model carries the rounded weights with all simulation
// wrapping removed.
func ApplyAdaround(model layers.Module, dummyInput *tensor.Tensor, params *Parameters,
	exportDir, filenamePrefix string, cfg Config) (layers.Module, error) {

	if params == nil {
		return nil, fmt.Errorf("adaround parameters cannot be nil")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid adaround parameters: %w", err)
	}

	sim, err := quantsim.NewSim(model, quantsim.SimConfig{
		DefaultParamBitwidth: cfg.DefaultParamBitwidth,
		Scheme:               cfg.Scheme,
		Symmetric:            cfg.Symmetric,
		DataType:             quantsim.DataTypeInt,
		RuntimeConfig:        cfg.QuantizerConfig,
	})
	if err != nil {
		return nil, err
	}

	// Configuration errors surface before any optimization work begins.
	overrideNames := make([]string, 0, len(cfg.ParamBitwidthOverrides))
	for name := range cfg.ParamBitwidthOverrides {
		overrideNames = append(overrideNames, name)
	}
	sort.Strings(overrideNames)
	for _, name := range overrideNames {
		if err := sim.SetParamBitwidth(name, cfg.ParamBitwidthOverrides[name]); err != nil {
			return nil, err
		}
	}
	if err := sim.ExcludeLayers(cfg.ExcludeLayers); err != nil {
		return nil, err
	}

	// Initial encodings are closed-form from the weight statistics; no
	// calibration data is involved. Activation quantizers stay disabled for
	// the whole procedure.
	if err := sim.ComputeParamEncodings(); err != nil {
		return nil, err
	}

	events, _, err := layers.Trace(model, dummyInput)
	if err != nil {
		return nil, fmt.Errorf("trace model: %w", err)
	}
	ordered := layers.OrderedWeightLayers(events)
	pairing := layers.ActivationPairing(events)

	workingDir := cfg.WorkingDir
	if workingDir == "" {
		workingDir, err = os.MkdirTemp("", "adaround-")
		if err != nil {
			return nil, fmt.Errorf("create working directory: %w", err)
		}
	}
	// The cache directory is reclaimed on every exit path, success or not.
	defer os.RemoveAll(workingDir)

	cached, err := dataloader.NewCachedDataset(params.DataSource, params.NumBatches,
		filepath.Join(workingDir, "model_inputs"))
	if err != nil {
		return nil, err
	}
	defer cached.Close()

	encodings := make(map[string]*quantsim.Encoding)
	for _, nm := range ordered {
		name := nm.Name
		wrapper, ok := sim.Wrapper(name)
		if !ok {
			// Excluded from quantization.
			continue
		}
		floatLayer := nm.Module.(layers.WeightLayer)

		staticQuantizer, ok := wrapper.ParamQuantizer().(*quantsim.TensorQuantizer)
		if !ok {
			return nil, fmt.Errorf("layer %q: weight quantizer already replaced", name)
		}
		rq, err := NewRoundingQuantizer(staticQuantizer, wrapper.Weight())
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", name, err)
		}
		wrapper.SetParamQuantizer(rq)

		if err := optimizeRounding(wrapper, rq, model, sim.Model(), floatLayer,
			pairing[name], cached, params, cfg.Progress, name); err != nil {
			return nil, fmt.Errorf("optimize layer %q: %w", name, err)
		}

		// Commit the final hard-rounded weight and freeze the wrapper so
		// later layers see the rounded value without re-quantization.
		rq.SetSoftRounding(false)
		rounded, err := rq.QuantizeDequantize(wrapper.Weight())
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", name, err)
		}
		if err := wrapper.CommitWeight(rounded); err != nil {
			return nil, fmt.Errorf("layer %q: %w", name, err)
		}
		encodings[name+".weight"] = rq.Encoding()
	}

	if err := quantsim.SaveParamEncodings(exportDir, filenamePrefix, encodings); err != nil {
		return nil, err
	}

	return sim.StripWrappers(), nil
}
