package quantsim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EncodingRecord is the on-disk JSON form of one parameter encoding. Field
// order matches the sorted-key layout downstream consumers diff against.
type EncodingRecord struct {
	Bitwidth    int     `json:"bitwidth"`
	Dtype       string  `json:"dtype"`
	IsSymmetric string  `json:"is_symmetric"`
	Max         float64 `json:"max"`
	Min         float64 `json:"min"`
	Offset      float64 `json:"offset"`
	Scale       float64 `json:"scale"`
}

// RecordFromEncoding converts an encoding to its export form.
func RecordFromEncoding(e *Encoding) EncodingRecord {
	symmetric := "False"
	if e.Symmetric {
		symmetric = "True"
	}
	return EncodingRecord{
		Bitwidth:    e.Bitwidth,
		Dtype:       e.DataType.String(),
		IsSymmetric: symmetric,
		Max:         e.Max,
		Min:         e.Min,
		Offset:      e.Offset,
		Scale:       e.Delta,
	}
}

// SaveParamEncodings writes parameter encodings to <dir>/<prefix>.encodings
// as UTF-8 JSON with sorted keys and 4-space indentation. Each parameter
// name maps to a single-element list of encoding records.
func SaveParamEncodings(dir, prefix string, encodings map[string]*Encoding) error {
	out := make(map[string][]EncodingRecord, len(encodings))
	for name, e := range encodings {
		out[name] = []EncodingRecord{RecordFromEncoding(e)}
	}

	raw, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal encodings: %w", err)
	}

	path := filepath.Join(dir, prefix+".encodings")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write encodings file: %w", err)
	}
	return nil
}
