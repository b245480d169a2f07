package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/tensor"
)

// ErrGroups reports channel counts that are not divisible by the group count.
var ErrGroups = errors.New("channels not divisible by groups")

// Conv2DConfig describes a 2D convolution layer. Zero values of Stride and
// Dilation mean 1; zero Groups means 1.
type Conv2DConfig struct {
	In       int
	Out      int
	Kernel   [2]int
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
	Groups   int
	Bias     bool
}

// Validate checks channel/group divisibility and positive sizes.
func (c Conv2DConfig) Validate() error {
	g := c.groups()
	if c.In <= 0 || c.Out <= 0 || c.Kernel[0] <= 0 || c.Kernel[1] <= 0 || g <= 0 {
		return fmt.Errorf("invalid conv2d config in=%d out=%d kernel=%v groups=%d", c.In, c.Out, c.Kernel, g)
	}
	if c.In%g != 0 {
		return fmt.Errorf("in_channels %d: %w %d", c.In, ErrGroups, g)
	}
	if c.Out%g != 0 {
		return fmt.Errorf("out_channels %d: %w %d", c.Out, ErrGroups, g)
	}
	return nil
}

func (c Conv2DConfig) groups() int {
	if c.Groups == 0 {
		return 1
	}
	return c.Groups
}

// Params returns the backend convolution parameters.
func (c Conv2DConfig) Params() tensor.Conv2DParams {
	p := tensor.Conv2DParams{Stride: c.Stride, Padding: c.Padding, Dilation: c.Dilation, Groups: c.groups()}
	for i := 0; i < 2; i++ {
		if p.Stride[i] == 0 {
			p.Stride[i] = 1
		}
		if p.Dilation[i] == 0 {
			p.Dilation[i] = 1
		}
	}
	return p
}

// KernelShape returns [Out, In/Groups, KH, KW].
func (c Conv2DConfig) KernelShape() tensor.Shape {
	return tensor.Shape{c.Out, c.In / c.groups(), c.Kernel[0], c.Kernel[1]}
}

// FanIn returns the number of inputs feeding one output element.
func (c Conv2DConfig) FanIn() int {
	return c.In / c.groups() * c.Kernel[0] * c.Kernel[1]
}

// Conv2D implements a 2D convolution layer with stride, padding, dilation
// and groups.
//
// Input shape: [batch, in_channels, height, width]
// Output shape: [batch, out_channels, out_height, out_width]
type Conv2D[B tensor.Backend] struct {
	cfg    Conv2DConfig
	weight *Parameter[B]
	bias   *Parameter[B]
}

// NewConv2D creates a Conv2D layer with Kaiming-uniform initialization.
// Returns an error wrapping ErrGroups when channels do not divide into groups.
func NewConv2D[B tensor.Backend](cfg Conv2DConfig, rng *rand.Rand, backend B) (*Conv2D[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("conv2d: %w", err)
	}
	c := &Conv2D[B]{
		cfg:    cfg,
		weight: NewParameter("weight", KaimingUniform(cfg.FanIn(), cfg.KernelShape(), rng, backend)),
	}
	if cfg.Bias {
		c.bias = NewParameter("bias", KaimingUniform(cfg.FanIn(), tensor.Shape{cfg.Out}, rng, backend))
	}
	return c, nil
}

// MustConv2D is NewConv2D for configurations known to be valid.
func MustConv2D[B tensor.Backend](cfg Conv2DConfig, rng *rand.Rand, backend B) *Conv2D[B] {
	c, err := NewConv2D(cfg, rng, backend)
	if err != nil {
		panic(err)
	}
	return c
}

// Forward applies the convolution and adds the bias per output channel.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if s := input.Shape(); len(s) != 4 || s[1] != c.cfg.In {
		panic(fmt.Sprintf("conv2d: expected input [N, %d, H, W], got %v", c.cfg.In, s))
	}
	out := input.Conv2D(c.weight.Tensor(), c.cfg.Params())
	if c.bias != nil {
		out = out.Add(c.bias.Tensor().Reshape(1, c.cfg.Out, 1, 1))
	}
	return out
}

// Parameters returns [weight, bias] or [weight].
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// Config returns the layer configuration.
func (c *Conv2D[B]) Config() Conv2DConfig {
	return c.cfg
}

// Weight returns the kernel parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// Bias returns the bias parameter, or nil.
func (c *Conv2D[B]) Bias() *Parameter[B] {
	return c.bias
}
