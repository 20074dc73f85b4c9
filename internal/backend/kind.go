// Package backend selects and decorates the inference engine behind domain.Backend.
package backend

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// Kind is the closed set of inference engines.
type Kind int

// Supported kinds.
const (
	KindPortable Kind = iota + 1
	KindCompiled
)

func (k Kind) String() string {
	switch k {
	case KindPortable:
		return "portable"
	case KindCompiled:
		return "compiled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var kindAliases = map[string]Kind{
	"portable": KindPortable,
	"onnx":     KindPortable,
	"compiled": KindCompiled,
	"tensorrt": KindCompiled,
	"trt":      KindCompiled,
	"tensor":   KindCompiled,
}

// ParseKind maps a configuration token to a Kind. Matching ignores case and
// surrounding whitespace.
func ParseKind(token string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnsupportedBackend, token)
	}
	return k, nil
}
