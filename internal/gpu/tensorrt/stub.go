//go:build !tensorrt

package tensorrt

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/gpu"
)

// Open always fails: the binary was built without the tensorrt tag.
func Open(_ Options, _ *zap.Logger) (*Toolkit, error) {
	return nil, fmt.Errorf("%w: built without the tensorrt tag", gpu.ErrUnavailable)
}
