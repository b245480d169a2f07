package bayes

import (
	"fmt"

	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

// ConvertOptions configures ToBayesian.
type ConvertOptions struct {
	Options

	// BiasFreeMode, if set, is the mode of converted convolution and linear
	// layers without a bias, typically LocalReparam or Flipout.
	BiasFreeMode SamplingMode
}

// ToBayesian returns a network of the same topology with every Conv2D,
// Linear and BatchNorm2D replaced by its mean-field counterpart. Posterior
// means are copies of the deterministic weights; psi is drawn from
// opts.PsiInit. Sequential containers are rebuilt, other containers are
// updated in place and every other module is shared with root.
func ToBayesian[B tensor.Backend](root nn.Module[B], opts ConvertOptions) (nn.Module[B], error) {
	if opts.RNG == nil {
		opts.RNG = opts.rng()
	}
	return convert(root, "", opts)
}

func convert[B tensor.Backend](m nn.Module[B], path string, opts ConvertOptions) (nn.Module[B], error) {
	var (
		out nn.Module[B]
		err error
	)
	switch t := m.(type) {
	case *nn.Conv2D[B]:
		out, err = FromConv2D(t, opts.forBias(t.Bias() != nil))
	case *nn.Linear[B]:
		out, err = FromLinear(t, opts.forBias(t.Bias() != nil))
	case *nn.BatchNorm2D[B]:
		out, err = FromBatchNorm2D(t, opts.Options)
	case *nn.Sequential[B]:
		children := make([]nn.Module[B], t.Len())
		for i, child := range t.Children() {
			if children[i], err = convert(child, nn.JoinPath(path, fmt.Sprint(i)), opts); err != nil {
				return nil, err
			}
		}
		return nn.NewSequential(children...), nil
	case nn.Replacer[B]:
		for i, child := range t.Children() {
			c, err := convert(child, nn.JoinPath(path, fmt.Sprint(i)), opts)
			if err != nil {
				return nil, err
			}
			t.ReplaceChild(i, c)
		}
		return t, nil
	default:
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", path, err)
	}
	return out, nil
}

func (o ConvertOptions) forBias(hasBias bool) Options {
	opts := o.Options
	if !hasBias && o.BiasFreeMode != 0 {
		opts.Mode = o.BiasFreeMode
	}
	return opts
}
