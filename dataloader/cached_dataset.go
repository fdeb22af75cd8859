package dataloader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quic-ykota/aimet/tensor"
)

// batchRecord is the serialized form of one cached batch.
type batchRecord struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// CachedDataset materializes a fixed number of batches from a BatchSource
// into a working directory, one lz4-compressed msgpack file per batch, so
// that every layer's optimization can replay identical inputs without
// re-invoking the source. The caller owns the directory for the lifetime of
// one run and reclaims it with Close.
type CachedDataset struct {
	dir        string
	numBatches int
}

// NewCachedDataset drains numBatches batches from src into dir. It fails
// when the source yields fewer batches than requested; the partially-written
// directory is removed before returning an error.
func NewCachedDataset(src BatchSource, numBatches int, dir string) (*CachedDataset, error) {
	if numBatches <= 0 {
		return nil, fmt.Errorf("number of batches must be positive, got %d", numBatches)
	}
	if dir == "" {
		return nil, fmt.Errorf("working directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	if err := src.Reset(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("reset batch source: %w", err)
	}

	for i := 0; i < numBatches; i++ {
		batch, err := src.NextBatch()
		if errors.Is(err, io.EOF) {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("batch source yielded %d of %d requested batches", i, numBatches)
		}
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("read batch %d: %w", i, err)
		}
		if err := writeBatch(batchPath(dir, i), batch); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
	}

	return &CachedDataset{dir: dir, numBatches: numBatches}, nil
}

func batchPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("batch_%05d.bin", i))
}

func writeBatch(path string, batch *tensor.Tensor) error {
	raw, err := msgpack.Marshal(batchRecord{Shape: batch.Shape, Data: batch.Data})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create batch file: %w", err)
	}
	defer f.Close()

	zw := lz4.NewWriter(f)
	if _, err := zw.Write(raw); err != nil {
		return fmt.Errorf("compress batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	return nil
}

// Len returns the number of cached batches.
func (c *CachedDataset) Len() int {
	return c.numBatches
}

// Dir returns the working directory holding the cached batches.
func (c *CachedDataset) Dir() string {
	return c.dir
}

// Batch decodes the batch at the given index. Repeated reads of one index
// return identical content.
func (c *CachedDataset) Batch(i int) (*tensor.Tensor, error) {
	if i < 0 || i >= c.numBatches {
		return nil, fmt.Errorf("batch index %d out of range [0, %d)", i, c.numBatches)
	}

	f, err := os.Open(batchPath(c.dir, i))
	if err != nil {
		return nil, fmt.Errorf("open batch %d: %w", i, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(f)); err != nil {
		return nil, fmt.Errorf("decompress batch %d: %w", i, err)
	}

	var rec batchRecord
	if err := msgpack.Unmarshal(buf.Bytes(), &rec); err != nil {
		return nil, fmt.Errorf("decode batch %d: %w", i, err)
	}
	return tensor.FromSlice(rec.Data, rec.Shape...)
}

// Close deletes the working directory and everything in it.
func (c *CachedDataset) Close() error {
	return os.RemoveAll(c.dir)
}
