package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// ArtifactExt is the file extension of serialized compiled engines.
const ArtifactExt = ".engine"

// ResolvePath returns where the compiled engine for modelPath lives: the model's
// directory, the model's base name without extension, plus ArtifactExt.
// It never touches the filesystem.
func ResolvePath(modelPath string) (string, error) {
	if modelPath == "" {
		return "", fmt.Errorf("%w: model path is empty", domain.ErrConfigInvalid)
	}

	base := filepath.Base(modelPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}

	return filepath.Join(filepath.Dir(modelPath), stem+ArtifactExt), nil
}
