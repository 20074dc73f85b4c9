package backend

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		token string
		want  Kind
	}{
		{"onnx", KindPortable},
		{"ONNX", KindPortable},
		{"Onnx", KindPortable},
		{" portable ", KindPortable},
		{"tensorrt", KindCompiled},
		{"TensorRT", KindCompiled},
		{"trt", KindCompiled},
		{"TRT", KindCompiled},
		{"tensor", KindCompiled},
		{"compiled", KindCompiled},
	}

	for _, tc := range tests {
		t.Run(tc.token, func(t *testing.T) {
			got, err := ParseKind(tc.token)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseKind(%q) = %s, want %s", tc.token, got, tc.want)
			}
		})
	}
}

func TestParseKind_Unsupported(t *testing.T) {
	for _, token := range []string{"", "openvino", "cuda", "onnxx", "tensor rt"} {
		_, err := ParseKind(token)
		if !errors.Is(err, domain.ErrUnsupportedBackend) {
			t.Errorf("ParseKind(%q): expected ErrUnsupportedBackend, got %v", token, err)
		}
	}
}

func TestKind_String(t *testing.T) {
	if KindPortable.String() != "portable" || KindCompiled.String() != "compiled" {
		t.Errorf("unexpected names %s, %s", KindPortable, KindCompiled)
	}
	if Kind(42).String() != "Kind(42)" {
		t.Errorf("unexpected name for unknown kind: %s", Kind(42))
	}
}
