package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigInvalid signals a malformed or missing configuration value.
	ErrConfigInvalid = errors.New("invalid config")
	// ErrModelNotFound signals a missing portable model file.
	ErrModelNotFound = errors.New("model not found")
	// ErrUnsupportedBackend signals an unknown backend kind token.
	ErrUnsupportedBackend = errors.New("unsupported backend")
	// ErrInvalidModelShape signals a model whose declared input shape cannot be resolved.
	ErrInvalidModelShape = errors.New("invalid model shape")
	// ErrInputSizeMismatch signals an input vector of the wrong length.
	ErrInputSizeMismatch = errors.New("input size mismatch")
	// ErrEngineBuild signals a failed compiled-engine build.
	ErrEngineBuild = errors.New("engine build failed")
	// ErrEngineIO signals a failure reading or writing a compiled-engine artifact.
	ErrEngineIO = errors.New("engine io failed")
	// ErrInvalidEngineIO signals a compiled engine with unusable input/output tensors.
	ErrInvalidEngineIO = errors.New("invalid engine io")
	// ErrInferenceExecution signals a failure of the underlying compute call.
	ErrInferenceExecution = errors.New("inference execution failed")
)

// InputSizeError wraps ErrInputSizeMismatch with the expected and received lengths.
type InputSizeError struct {
	Expected int
	Got      int
}

func (e *InputSizeError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrInputSizeMismatch.Error(), e.Expected, e.Got)
}

func (e *InputSizeError) Unwrap() error { return ErrInputSizeMismatch }

// NewInputSizeError creates an input size mismatch error.
func NewInputSizeError(expected, got int) error {
	return &InputSizeError{Expected: expected, Got: got}
}

// CheckInputSize returns an InputSizeError when len(input) != expected.
func CheckInputSize(input []float32, expected int) error {
	if len(input) != expected {
		return NewInputSizeError(expected, len(input))
	}
	return nil
}
