package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"models/model.onnx", filepath.Join("models", "model.engine")},
		{"/srv/models/autoencoder.onnx", "/srv/models/autoencoder.engine"},
		{"model.onnx", "model.engine"},
		{"/srv/models/model", "/srv/models/model.engine"},
		{"/srv/models/model.v2.onnx", "/srv/models/model.v2.engine"},
		{"/srv/models/.hidden", "/srv/models/.hidden.engine"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ResolvePath(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("ResolvePath(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestResolvePath_Deterministic(t *testing.T) {
	first, err := ResolvePath("/srv/models/model.onnx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := ResolvePath("/srv/models/model.onnx")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != first {
			t.Fatalf("expected %q, got %q", first, again)
		}
	}
}

func TestResolvePath_Empty(t *testing.T) {
	_, err := ResolvePath("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestResolvePath_DoesNotTouchFilesystem(t *testing.T) {
	got, err := ResolvePath("/definitely/not/there/model.onnx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/definitely/not/there/model.engine" {
		t.Errorf("unexpected path %q", got)
	}
}
