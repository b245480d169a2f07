// Package config loads the YAML configuration of the bdl command.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/bdl/internal/bayes"
)

// Config is the full configuration of a training run.
type Config struct {
	Seed       uint64      `yaml:"seed"`
	Data       DataConfig  `yaml:"data"`
	Model      ModelConfig `yaml:"model"`
	Train      TrainConfig `yaml:"train"`
	Eval       EvalConfig  `yaml:"eval"`
	LogLevel   string      `yaml:"log_level"`
	Checkpoint string      `yaml:"checkpoint"`
}

// DataConfig describes the synthetic dataset.
type DataConfig struct {
	Classes  int     `yaml:"classes"`
	Examples int     `yaml:"examples_per_class"`
	Channels int     `yaml:"channels"`
	Height   int     `yaml:"height"`
	Width    int     `yaml:"width"`
	Noise    float64 `yaml:"noise"`
	// TestSplit is the fraction of examples held out for evaluation.
	TestSplit float64 `yaml:"test_split"`
}

// ModelConfig describes the network and its conversion to mean-field form.
type ModelConfig struct {
	Width        int        `yaml:"width"`
	Mode         string     `yaml:"mode"`
	BiasFreeMode string     `yaml:"bias_free_mode"`
	PsiInit      [2]float64 `yaml:"psi_init"`
}

// TrainConfig holds the optimizer and loop settings.
type TrainConfig struct {
	Epochs      int     `yaml:"epochs"`
	BatchSize   int     `yaml:"batch_size"`
	MuOptimizer string  `yaml:"mu_optimizer"` // sgd or adam
	MuLR        float32 `yaml:"mu_lr"`
	PsiLR       float32 `yaml:"psi_lr"`
	Momentum    float32 `yaml:"momentum"`
	WeightDecay float32 `yaml:"weight_decay"`
	Nesterov    bool    `yaml:"nesterov"`
	LogEvery    int     `yaml:"log_every"`
}

// EvalConfig holds the ensemble settings.
type EvalConfig struct {
	NumMCSamples int `yaml:"num_mc_samples"`
	BatchSize    int `yaml:"batch_size"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Seed: 1,
		Data: DataConfig{
			Classes:   3,
			Examples:  64,
			Channels:  1,
			Height:    8,
			Width:     8,
			Noise:     0.5,
			TestSplit: 0.25,
		},
		Model: ModelConfig{
			Width:   8,
			Mode:    bayes.Independent.String(),
			PsiInit: bayes.DefaultPsiInit,
		},
		Train: TrainConfig{
			Epochs:      1,
			BatchSize:   4,
			MuOptimizer: "sgd",
			MuLR:        0.0008,
			PsiLR:       0.1,
			Momentum:    0.9,
			WeightDecay: 2e-4,
			Nesterov:    true,
			LogEvery:    10,
		},
		Eval: EvalConfig{
			NumMCSamples: 20,
			BatchSize:    16,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "config: read")
	}
	cfg, err := Parse(bytes.NewReader(b))
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "decode")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes c as YAML that Parse accepts.
func (c Config) Marshal() ([]byte, error) {
	b, err := yaml.Marshal(c)
	return b, errors.Wrap(err, "config: encode")
}

// Validate rejects non-positive sizes, unknown modes and inconsistent
// optimizer settings.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"data.classes", c.Data.Classes},
		{"data.examples_per_class", c.Data.Examples},
		{"data.channels", c.Data.Channels},
		{"data.height", c.Data.Height},
		{"data.width", c.Data.Width},
		{"model.width", c.Model.Width},
		{"train.epochs", c.Train.Epochs},
		{"train.batch_size", c.Train.BatchSize},
		{"train.log_every", c.Train.LogEvery},
		{"eval.num_mc_samples", c.Eval.NumMCSamples},
		{"eval.batch_size", c.Eval.BatchSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Errorf("config: %s must be positive, got %d", p.name, p.value)
		}
	}
	if c.Data.Classes < 2 {
		return errors.Errorf("config: data.classes must be at least 2, got %d", c.Data.Classes)
	}
	if c.Data.TestSplit <= 0 || c.Data.TestSplit >= 1 {
		return errors.Errorf("config: data.test_split must be in (0, 1), got %v", c.Data.TestSplit)
	}
	if c.Model.PsiInit[0] > c.Model.PsiInit[1] {
		return errors.Errorf("config: model.psi_init %v is not a range", c.Model.PsiInit)
	}
	if _, err := c.SamplingMode(); err != nil {
		return err
	}
	if _, err := c.BiasFreeSamplingMode(); err != nil {
		return err
	}
	switch c.Train.MuOptimizer {
	case "sgd", "adam":
	default:
		return errors.Errorf("config: train.mu_optimizer must be sgd or adam, got %q", c.Train.MuOptimizer)
	}
	if c.Train.MuLR <= 0 || c.Train.PsiLR <= 0 {
		return errors.New("config: learning rates must be positive")
	}
	if c.Train.Nesterov && c.Train.Momentum <= 0 {
		return errors.New("config: nesterov requires momentum > 0")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config: log_level")
	}
	return nil
}

// SamplingMode returns the parsed model.mode.
func (c Config) SamplingMode() (bayes.SamplingMode, error) {
	m, err := bayes.ParseSamplingMode(c.Model.Mode)
	return m, errors.Wrap(err, "config: model.mode")
}

// BiasFreeSamplingMode returns the parsed model.bias_free_mode, or zero
// when unset.
func (c Config) BiasFreeSamplingMode() (bayes.SamplingMode, error) {
	if strings.TrimSpace(c.Model.BiasFreeMode) == "" {
		return 0, nil
	}
	m, err := bayes.ParseSamplingMode(c.Model.BiasFreeMode)
	return m, errors.Wrap(err, "config: model.bias_free_mode")
}

// TestSize returns the number of held-out examples, at least one.
func (c Config) TestSize() int {
	total := c.Data.Classes * c.Data.Examples
	n := int(float64(total) * c.Data.TestSplit)
	return max(1, min(n, total-1))
}
