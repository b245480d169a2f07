package bayes

import (
	"fmt"
	"strings"
)

// SamplingMode selects how a mean-field layer turns its posterior into an
// output. Modes are mutually exclusive; the numeric order is the precedence
// used when overrides are active (see Mode).
type SamplingMode int

const (
	// Deterministic uses the posterior mean only.
	Deterministic SamplingMode = iota + 1
	// Parallel draws NumMCSamples weight samples and evaluates all of them in
	// one grouped operation. Outputs gain a sample dimension: [B, S, ...].
	Parallel
	// SingleEps draws one weight sample shared by the whole batch.
	SingleEps
	// LocalReparam samples pre-activations from their analytic mean and
	// variance. Bias-free layers only.
	LocalReparam
	// Flipout shares one weight perturbation across the batch and decorrelates
	// examples with random sign flips. Bias-free layers only.
	Flipout
	// Independent draws one weight sample per batch element.
	Independent
)

var modeNames = map[SamplingMode]string{
	Deterministic: "deterministic",
	Parallel:      "parallel",
	SingleEps:     "single_eps",
	LocalReparam:  "local_reparam",
	Flipout:       "flipout",
	Independent:   "independent",
}

// String returns the mode name.
func (m SamplingMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("SamplingMode(%d)", int(m))
}

// Valid reports whether m is a known mode.
func (m SamplingMode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseSamplingMode parses a mode name as returned by String. Matching is
// case-insensitive and accepts '-' for '_'.
func ParseSamplingMode(s string) (SamplingMode, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for m, name := range modeNames {
		if name == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrMode)
}

// modeState is the sampling-mode bookkeeping shared by all mean-field
// layers. The base mode is what the layer was configured with; freezing and
// parallel evaluation override it without forgetting it.
type modeState struct {
	layer    string
	base     SamplingMode
	frozen   bool
	parallel bool
	samples  int
	hasBias  bool
}

func newModeState(layer string, opts Options, hasBias bool) (modeState, error) {
	s := modeState{layer: layer, hasBias: hasBias}
	if opts.NumMCSamples < 0 {
		return s, configError(layer, ErrSamples, "got %d", opts.NumMCSamples)
	}
	s.samples = opts.NumMCSamples
	mode := opts.Mode
	if mode == 0 {
		mode = Independent
	}
	if err := s.SetMode(mode); err != nil {
		return s, err
	}
	return s, nil
}

func (s *modeState) check(m SamplingMode) error {
	switch {
	case !m.Valid():
		return configError(s.layer, ErrMode, "mode %d", int(m))
	case (m == LocalReparam || m == Flipout) && s.hasBias:
		return configError(s.layer, ErrBiasUnsupported, "mode %s", m)
	case m == Parallel && s.samples <= 0:
		return configError(s.layer, ErrSamples, "mode %s with num_mc_samples=%d", m, s.samples)
	}
	return nil
}

// Mode returns the effective sampling mode: Deterministic while frozen,
// Parallel while parallel evaluation is enabled, the base mode otherwise.
func (s *modeState) Mode() SamplingMode {
	switch {
	case s.frozen:
		return Deterministic
	case s.parallel:
		return Parallel
	}
	return s.base
}

// BaseMode returns the configured mode, ignoring overrides.
func (s *modeState) BaseMode() SamplingMode {
	return s.base
}

// SetMode changes the base mode. Modes the layer cannot run are rejected
// with a *ConfigError and leave the layer unchanged. Active overrides stay
// in effect.
func (s *modeState) SetMode(m SamplingMode) error {
	if err := s.check(m); err != nil {
		return err
	}
	s.base = m
	return nil
}

// Freeze forces deterministic forward passes until Unfreeze.
func (s *modeState) Freeze() {
	s.frozen = true
}

// Unfreeze restores the previous mode.
func (s *modeState) Unfreeze() {
	s.frozen = false
}

// Frozen reports whether the layer is frozen.
func (s *modeState) Frozen() bool {
	return s.frozen
}

// EnableParallelEval switches the layer to parallel evaluation with n
// Monte-Carlo samples.
func (s *modeState) EnableParallelEval(n int) error {
	if n <= 0 {
		return configError(s.layer, ErrSamples, "got %d", n)
	}
	s.samples = n
	s.parallel = true
	return nil
}

// DisableParallelEval restores the previous mode.
func (s *modeState) DisableParallelEval() {
	s.parallel = false
}

// NumMCSamples returns the number of samples used in parallel mode.
func (s *modeState) NumMCSamples() int {
	return s.samples
}
