package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// runtimeConfig is the JSON file shipped next to the model.
type runtimeConfig struct {
	Threshold *float64 `json:"threshold"`
}

// LoadThreshold reads the anomaly threshold from a JSON file of the form
// {"threshold": <number>}.
func LoadThreshold(path string) (float64, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, fmt.Errorf("%w: read runtime config %s: %w", domain.ErrConfigInvalid, path, err)
	}

	var rc runtimeConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return 0, fmt.Errorf("%w: parse runtime config %s: %w", domain.ErrConfigInvalid, path, err)
	}
	if rc.Threshold == nil {
		return 0, fmt.Errorf("%w: %s has no threshold", domain.ErrConfigInvalid, path)
	}
	if math.IsNaN(*rc.Threshold) || math.IsInf(*rc.Threshold, 0) {
		return 0, fmt.Errorf("%w: threshold must be a finite number, got %v",
			domain.ErrConfigInvalid, *rc.Threshold)
	}
	return *rc.Threshold, nil
}
