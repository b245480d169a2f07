package bayes

import (
	"errors"
	"fmt"

	"github.com/born-ml/bdl/internal/nn"
)

// Sentinel configuration errors. Use errors.Is to test for them.
var (
	// ErrGroups reports channel counts not divisible by the group count.
	ErrGroups = nn.ErrGroups

	// ErrBiasUnsupported reports a sampling mode that is only defined for
	// bias-free layers (local reparameterization, flipout).
	ErrBiasUnsupported = errors.New("sampling mode does not support a bias")

	// ErrSamples reports a missing or non-positive Monte-Carlo sample count.
	ErrSamples = errors.New("num_mc_samples must be positive")

	// ErrMode reports an unknown sampling mode.
	ErrMode = errors.New("unknown sampling mode")

	// ErrSize reports a non-positive layer dimension.
	ErrSize = errors.New("layer dimensions must be positive")
)

// ConfigError is returned when a layer is constructed or switched into an
// invalid configuration. It is never raised from Forward.
type ConfigError struct {
	Layer  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Layer, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Layer, e.Reason, e.Err)
}

// Unwrap returns the sentinel error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(layer string, err error, format string, args ...any) *ConfigError {
	return &ConfigError{Layer: layer, Reason: fmt.Sprintf(format, args...), Err: err}
}
