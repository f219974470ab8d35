package pipeline

import (
	"errors"
	"fmt"
)

// Option-level configuration errors.
var (
	ErrEmptyPipeline       = errors.New("pipeline has no layers")
	ErrDropoutModeConflict = errors.New("DisableDropout and FreezeDropout are mutually exclusive")
)

// Kernel dispatch errors, wrapped into a layer-scoped error by the
// executor.
var (
	errMissingMask      = errors.New("FreezeDropout with no recorded mask")
	errMissingMoments   = errors.New("no batch moments recorded and none configured")
	errNoCustomBackward = errors.New("custom layer has no backward function")
	errShapeInfer       = errors.New("target shape does not resolve")
)

// ConfigError reports a malformed layer list or option set: an unknown
// kind, a kind with no backward form, or a layer missing a field its kernel
// requires. Configuration errors are raised before any kernel call for the
// offending layer.
type ConfigError struct {
	Layer  int
	Kind   LayerKind
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("layer %d (%s): %s", e.Layer, e.Kind, e.Reason)
}

// KernelError wraps a numeric kernel's rejection of its input, preserving
// which layer it came from. The wrapped error is the kernel's own.
type KernelError struct {
	Layer int
	Kind  LayerKind
	Err   error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("layer %d (%s): kernel: %v", e.Layer, e.Kind, e.Err)
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

// StateError reports records that are inconsistent with the requested
// pass: backward without a matching forward, or required auxiliary data
// missing.
type StateError struct {
	Layer  int
	Kind   LayerKind
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("layer %d (%s): %s", e.Layer, e.Kind, e.Reason)
}

func configErr(i int, kind LayerKind, format string, args ...any) error {
	return &ConfigError{Layer: i, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func kernelErr(i int, kind LayerKind, err error) error {
	return &KernelError{Layer: i, Kind: kind, Err: err}
}

func stateErr(i int, kind LayerKind, format string, args ...any) error {
	return &StateError{Layer: i, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
