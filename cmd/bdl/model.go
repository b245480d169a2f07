package main

import (
	"github.com/born-ml/bdl/internal/autodiff"
	"github.com/born-ml/bdl/internal/backend/cpu"
	"github.com/born-ml/bdl/internal/bayes"
	"github.com/born-ml/bdl/internal/config"
	"github.com/born-ml/bdl/internal/data"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

// AD is the backend every command trains and evaluates on.
type AD = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newBackend() AD {
	return autodiff.New(cpu.New())
}

// buildModel creates the deterministic CNN
//
//	conv3x3 - bn - relu - conv3x3/2 - bn - relu - flatten - linear
//
// and converts it to mean-field form. The convolutions have no bias, so
// model.bias_free_mode applies to them.
func buildModel(cfg config.Config, backend AD) (nn.Module[AD], error) {
	mode, err := cfg.SamplingMode()
	if err != nil {
		return nil, err
	}
	biasFree, err := cfg.BiasFreeSamplingMode()
	if err != nil {
		return nil, err
	}

	rng := tensor.NewRNG(cfg.Seed)
	d, w := cfg.Data, cfg.Model.Width
	conv1, err := nn.NewConv2D(nn.Conv2DConfig{
		In:      d.Channels,
		Out:     w,
		Kernel:  [2]int{3, 3},
		Padding: [2]int{1, 1},
	}, rng, backend)
	if err != nil {
		return nil, err
	}
	conv2, err := nn.NewConv2D(nn.Conv2DConfig{
		In:      w,
		Out:     w,
		Kernel:  [2]int{3, 3},
		Stride:  [2]int{2, 2},
		Padding: [2]int{1, 1},
	}, rng, backend)
	if err != nil {
		return nil, err
	}
	h, wd := (d.Height-1)/2+1, (d.Width-1)/2+1

	det := nn.NewSequential[AD](
		conv1,
		nn.NewBatchNorm2D(w, backend),
		nn.NewReLU[AD](),
		conv2,
		nn.NewBatchNorm2D(w, backend),
		nn.NewReLU[AD](),
		nn.NewFlatten[AD](-3),
		nn.NewLinear(w*h*wd, d.Classes, true, rng, backend),
	)
	return bayes.ToBayesian[AD](det, bayes.ConvertOptions{
		Options: bayes.Options{
			Mode:         mode,
			NumMCSamples: cfg.Eval.NumMCSamples,
			PsiInit:      cfg.Model.PsiInit,
			RNG:          rng,
		},
		BiasFreeMode: biasFree,
	})
}

// splitData generates the dataset of cfg and returns the train and test
// halves. The same config always yields the same split.
func splitData(cfg config.Config) (trainSet, testSet *data.Dataset, err error) {
	ds, err := data.Blobs(data.BlobsConfig{
		Classes:  cfg.Data.Classes,
		Examples: cfg.Data.Examples,
		Channels: cfg.Data.Channels,
		Height:   cfg.Data.Height,
		Width:    cfg.Data.Width,
		Noise:    cfg.Data.Noise,
		Seed:     cfg.Seed,
	})
	if err != nil {
		return nil, nil, err
	}
	testSet, trainSet, err = ds.Split(cfg.TestSize())
	return trainSet, testSet, err
}

func testLoader(cfg config.Config, testSet *data.Dataset) (*data.SliceLoader, error) {
	return testSet.Loader(data.LoaderConfig{Name: "test", BatchSize: cfg.Eval.BatchSize})
}

func numParams(m nn.Module[AD]) int {
	n := 0
	for _, p := range nn.NamedParameters(m) {
		n += p.Param.Shape().NumElements()
	}
	return n
}
