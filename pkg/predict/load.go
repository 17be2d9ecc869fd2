package predict

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadModel reads a trained model from a JSON file with fields "coef"
// (3x140 matrix) and "intercept" (3-element vector). Loaded once at
// startup; shape problems surface here rather than on the first prediction.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}
	return &m, nil
}
