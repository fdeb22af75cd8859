package quantsim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestSaveParamEncodings tests the exact on-disk encoding file format
func TestSaveParamEncodings(t *testing.T) {
	dir := t.TempDir()
	encodings := map[string]*Encoding{
		"conv1.weight": {
			Min:      -1,
			Max:      0.875,
			Delta:    0.125,
			Offset:   -8,
			Bitwidth: 4,
			DataType: DataTypeInt,
		},
	}

	if err := SaveParamEncodings(dir, "model", encodings); err != nil {
		t.Fatalf("SaveParamEncodings failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "model.encodings"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	want := `{
    "conv1.weight": [
        {
            "bitwidth": 4,
            "dtype": "int",
            "is_symmetric": "False",
            "max": 0.875,
            "min": -1,
            "offset": -8,
            "scale": 0.125
        }
    ]
}`
	if string(raw) != want {
		t.Errorf("Encoding file mismatch.\nGot:\n%s\nWant:\n%s", raw, want)
	}
}

// TestSaveParamEncodingsSortedKeys tests that parameter names appear in
// sorted order
func TestSaveParamEncodingsSortedKeys(t *testing.T) {
	dir := t.TempDir()
	encodings := map[string]*Encoding{
		"zeta.weight":  {Min: 0, Max: 1, Delta: 1.0 / 255, Offset: 0, Bitwidth: 8},
		"alpha.weight": {Min: 0, Max: 1, Delta: 1.0 / 255, Offset: 0, Bitwidth: 8},
	}
	if err := SaveParamEncodings(dir, "m", encodings); err != nil {
		t.Fatalf("SaveParamEncodings failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "m.encodings"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	s := string(raw)
	ia := strings.Index(s, "alpha.weight")
	iz := strings.Index(s, "zeta.weight")
	if ia < 0 || iz < 0 || ia > iz {
		t.Errorf("Expected alpha.weight before zeta.weight in output:\n%s", s)
	}
}

// TestRecordFromEncoding tests the symmetric flag string form
func TestRecordFromEncoding(t *testing.T) {
	r := RecordFromEncoding(&Encoding{Bitwidth: 8, Symmetric: true, DataType: DataTypeInt})
	if r.IsSymmetric != "True" || r.Dtype != "int" {
		t.Errorf("Expected (True, int), got (%s, %s)", r.IsSymmetric, r.Dtype)
	}
	r = RecordFromEncoding(&Encoding{Bitwidth: 16, DataType: DataTypeFloat})
	if r.IsSymmetric != "False" || r.Dtype != "float" {
		t.Errorf("Expected (False, float), got (%s, %s)", r.IsSymmetric, r.Dtype)
	}
}
