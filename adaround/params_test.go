package adaround

import (
	"math/rand"
	"testing"

	"github.com/quic-ykota/aimet/dataloader"
	"github.com/quic-ykota/aimet/tensor"
)

func newTestSource(t *testing.T, n int, shape ...int) *dataloader.SliceSource {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	batches := make([]*tensor.Tensor, n)
	for i := range batches {
		b, err := tensor.Rand(rng, shape...)
		if err != nil {
			t.Fatalf("Rand failed: %v", err)
		}
		batches[i] = b
	}
	src, err := dataloader.NewSliceSource(batches)
	if err != nil {
		t.Fatalf("NewSliceSource failed: %v", err)
	}
	return src
}

// TestNewParametersDefaults tests the default hyperparameters
func TestNewParametersDefaults(t *testing.T) {
	src := newTestSource(t, 2, 1, 4)
	p := NewParameters(src, 2)

	if p.NumIterations != 10000 {
		t.Errorf("Expected 10000 iterations, got %d", p.NumIterations)
	}
	if p.RegParam != 0.01 {
		t.Errorf("Expected regularization 0.01, got %f", p.RegParam)
	}
	if p.BetaRange.Start != 20 || p.BetaRange.End != 2 {
		t.Errorf("Expected beta range 20 -> 2, got %v", p.BetaRange)
	}
	if p.WarmStart != 0.2 {
		t.Errorf("Expected 20%% warm start, got %f", p.WarmStart)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Expected default parameters to validate: %v", err)
	}
}

// TestParametersValidate tests the validation of each invariant
func TestParametersValidate(t *testing.T) {
	src := newTestSource(t, 2, 1, 4)

	tests := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"nil data source", func(p *Parameters) { p.DataSource = nil }},
		{"zero batches", func(p *Parameters) { p.NumBatches = 0 }},
		{"zero iterations", func(p *Parameters) { p.NumIterations = 0 }},
		{"negative reg param", func(p *Parameters) { p.RegParam = -0.1 }},
		{"increasing beta", func(p *Parameters) { p.BetaRange = BetaRange{Start: 2, End: 20} }},
		{"non-positive beta end", func(p *Parameters) { p.BetaRange = BetaRange{Start: 2, End: 0} }},
		{"negative warm start", func(p *Parameters) { p.WarmStart = -0.1 }},
		{"warm start at one", func(p *Parameters) { p.WarmStart = 1.0 }},
	}
	for _, tt := range tests {
		p := NewParameters(src, 2)
		tt.mutate(p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
