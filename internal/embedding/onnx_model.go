package embedding

import (
	"os"

	"github.com/hyperjump/effctx/internal/errs"
)

// Node names of the exported sentence model; inputs are fed in Tokenize order.
var (
	onnxInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputName = "output"
)

// checkModel rejects a missing model file or a non-positive dimension before the runtime loads.
func checkModel(modelPath string, dimensions int) error {
	if dimensions <= 0 {
		return errs.Configf("embedding", "dimensions", "must be positive, got %d", dimensions)
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		return errs.Configf("embedding", "model_path", "cannot read %s: %v", modelPath, err)
	}
	if info.IsDir() {
		return errs.Configf("embedding", "model_path", "%s is a directory", modelPath)
	}
	return nil
}
