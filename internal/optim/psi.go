package optim

import (
	"fmt"

	"github.com/born-ml/bdl/internal/bayes"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

// PsiSGD is SGD over posterior log standard deviations with the learning
// rate divided by the number of training examples. Paired with an ordinary
// optimizer for the posterior means, it balances the per-example likelihood
// gradient against the dataset-level variance term.
type PsiSGD[B tensor.Backend] struct {
	*SGD[B]
	baseLR      float32
	datasetSize int
}

// NewPsiSGD creates a PsiSGD over params, which must all be psi parameters.
// config.LR is the base learning rate; the applied rate is LR/datasetSize.
func NewPsiSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, datasetSize int, backend B) (*PsiSGD[B], error) {
	if datasetSize <= 0 {
		return nil, fmt.Errorf("psi_sgd: dataset size must be positive, got %d", datasetSize)
	}
	for _, p := range params {
		if !bayes.IsPsi(p.Name()) {
			return nil, fmt.Errorf("psi_sgd: parameter %q is not a log standard deviation", p.Name())
		}
	}
	if config.LR == 0 {
		config.LR = 0.01
	}
	base := config.LR
	config.LR = base / float32(datasetSize)

	sgd, err := newSGD("psi_sgd", params, config, backend)
	if err != nil {
		return nil, err
	}
	return &PsiSGD[B]{SGD: sgd, baseLR: base, datasetSize: datasetSize}, nil
}

// BaseLR returns the learning rate before division by the dataset size.
func (p *PsiSGD[B]) BaseLR() float32 {
	return p.baseLR
}

// SetLR sets the base learning rate.
func (p *PsiSGD[B]) SetLR(lr float32) {
	p.baseLR = lr
	p.SGD.SetLR(lr / float32(p.datasetSize))
}

// DatasetSize returns the divisor of the learning rate.
func (p *PsiSGD[B]) DatasetSize() int {
	return p.datasetSize
}
