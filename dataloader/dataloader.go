// Package dataloader supplies calibration batches and their on-disk cache.
package dataloader

import (
	"fmt"
	"io"

	"github.com/quic-ykota/aimet/tensor"
)

// BatchSource yields calibration input batches. NextBatch returns io.EOF
// when the source is exhausted.
type BatchSource interface {
	NextBatch() (*tensor.Tensor, error)
	Reset() error
}

// SliceSource is an in-memory BatchSource over a fixed list of batches.
type SliceSource struct {
	batches []*tensor.Tensor
	pos     int
}

// NewSliceSource creates a source over the given batches.
func NewSliceSource(batches []*tensor.Tensor) (*SliceSource, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("at least one batch is required")
	}
	for i, b := range batches {
		if b == nil {
			return nil, fmt.Errorf("batch %d is nil", i)
		}
	}
	return &SliceSource{batches: batches}, nil
}

// NextBatch returns the next batch, or io.EOF past the end.
func (s *SliceSource) NextBatch() (*tensor.Tensor, error) {
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

// Reset rewinds the source to the first batch.
func (s *SliceSource) Reset() error {
	s.pos = 0
	return nil
}
