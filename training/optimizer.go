package training

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/mvidmar/morphbert/tensor"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	LearningRate() float64
}

// AdamWConfig configures an AdamW optimizer. Zero-valued fields take
// the usual defaults.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// AdamW is Adam with decoupled weight decay: the decay term scales the
// parameter directly instead of being folded into the gradient, so it
// is not modulated by the adaptive learning rate.
type AdamW struct {
	mu sync.Mutex

	params []*tensor.Tensor
	config AdamWConfig

	m    [][]float32
	v    [][]float32
	step int
}

func NewAdamW(params []*tensor.Tensor, config AdamWConfig) (*AdamW, error) {
	if len(params) == 0 {
		return nil, errors.New("optimizer requires at least one parameter")
	}
	if config.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.Beta1 == 0 {
		config.Beta1 = 0.9
	}
	if config.Beta2 == 0 {
		config.Beta2 = 0.999
	}
	if config.Epsilon == 0 {
		config.Epsilon = 1e-8
	}
	if config.WeightDecay < 0 {
		return nil, errors.Errorf("weight decay must be non-negative, got %v", config.WeightDecay)
	}

	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		if p == nil || !p.RequiresGrad() {
			return nil, errors.Errorf("parameter %d does not require gradients", i)
		}
		m[i] = make([]float32, p.NumElems)
		v[i] = make([]float32, p.NumElems)
	}

	return &AdamW{params: params, config: config, m: m, v: v}, nil
}

func (opt *AdamW) LearningRate() float64 { return opt.config.LearningRate }

// Step applies one AdamW update. Parameters whose gradient is nil are
// skipped; they did not take part in the last backward pass.
func (opt *AdamW) Step() error {
	opt.mu.Lock()
	defer opt.mu.Unlock()

	opt.step++
	beta1 := opt.config.Beta1
	beta2 := opt.config.Beta2
	biasCorr1 := 1 - math.Pow(beta1, float64(opt.step))
	biasCorr2 := 1 - math.Pow(beta2, float64(opt.step))
	lr := opt.config.LearningRate
	eps := opt.config.Epsilon
	decay := float32(lr * opt.config.WeightDecay)

	for i, p := range opt.params {
		gradTensor := p.Grad()
		if gradTensor == nil {
			continue
		}
		grad, err := gradTensor.GetFloat32Data()
		if err != nil {
			return errors.Wrapf(err, "parameter %d gradient", i)
		}
		data, err := p.GetFloat32Data()
		if err != nil {
			return errors.Wrapf(err, "parameter %d", i)
		}
		if len(grad) != len(data) {
			return errors.Errorf("parameter %d gradient size %d does not match parameter size %d", i, len(grad), len(data))
		}

		m, v := opt.m[i], opt.v[i]
		for j := range data {
			g := float64(grad[j])
			m[j] = float32(beta1*float64(m[j]) + (1-beta1)*g)
			v[j] = float32(beta2*float64(v[j]) + (1-beta2)*g*g)

			mHat := float64(m[j]) / biasCorr1
			vHat := float64(v[j]) / biasCorr2

			update := float32(lr * mHat / (math.Sqrt(vHat) + eps))
			data[j] -= update + decay*data[j]
		}
	}
	return nil
}

// ZeroGrad clears all parameter gradients for the next backward pass.
func (opt *AdamW) ZeroGrad() {
	opt.mu.Lock()
	defer opt.mu.Unlock()
	tensor.ZeroGrad(opt.params)
}
