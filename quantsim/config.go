package quantsim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config refines quantizer settings beyond the SimConfig defaults. It is
// typically loaded from a YAML file shipped alongside the model.
type Config struct {
	Defaults struct {
		// ParamBitwidth overrides the default weight bitwidth when > 0.
		ParamBitwidth int `yaml:"param_bitwidth"`
		// Symmetric overrides the default weight symmetry when set.
		Symmetric *bool `yaml:"symmetric"`
	} `yaml:"defaults"`

	// Layers maps hierarchical layer names to per-layer settings.
	Layers map[string]LayerConfig `yaml:"layers"`
}

// LayerConfig holds per-layer quantizer settings.
type LayerConfig struct {
	Bitwidth  int   `yaml:"bitwidth"`
	Symmetric *bool `yaml:"symmetric"`
}

// LoadConfig reads a YAML quantizer configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quantizer config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig parses YAML quantizer configuration bytes.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse quantizer config: %w", err)
	}
	if cfg.Defaults.ParamBitwidth != 0 {
		if err := validateBitwidth(cfg.Defaults.ParamBitwidth); err != nil {
			return nil, fmt.Errorf("quantizer config defaults: %w", err)
		}
	}
	for name, lc := range cfg.Layers {
		if lc.Bitwidth != 0 {
			if err := validateBitwidth(lc.Bitwidth); err != nil {
				return nil, fmt.Errorf("quantizer config layer %q: %w", name, err)
			}
		}
	}
	return &cfg, nil
}

// resolve applies the config on top of the given defaults for one layer.
func (c *Config) resolve(path string, bitwidth int, symmetric bool) (int, bool) {
	if c.Defaults.ParamBitwidth > 0 {
		bitwidth = c.Defaults.ParamBitwidth
	}
	if c.Defaults.Symmetric != nil {
		symmetric = *c.Defaults.Symmetric
	}
	if lc, ok := c.Layers[path]; ok {
		if lc.Bitwidth > 0 {
			bitwidth = lc.Bitwidth
		}
		if lc.Symmetric != nil {
			symmetric = *lc.Symmetric
		}
	}
	return bitwidth, symmetric
}
