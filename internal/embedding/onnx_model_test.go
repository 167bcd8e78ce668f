package embedding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/effctx/internal/errs"
)

func TestCheckModel(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(model, []byte("onnx"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		dims    int
		wantErr bool
	}{
		{"ok", model, 384, false},
		{"zero dimensions", model, 0, true},
		{"missing file", filepath.Join(dir, "missing.onnx"), 384, true},
		{"directory", dir, 384, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkModel(tt.path, tt.dims)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errs.IsConfiguration(err) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestNew_ONNXMissingModel(t *testing.T) {
	_, err := New(Config{Model: "onnx", ModelPath: filepath.Join(t.TempDir(), "none.onnx"), Dimensions: 8})
	if !errs.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError for missing model, got %v", err)
	}
}
