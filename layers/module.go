package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/mvidmar/morphbert/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization and dropout masks.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform
// initialized weights of shape [inputSize, outputSize].
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weight, err := tensor.RandomUniform([]int{inputSize, outputSize}, bound, globalRng, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1])
	}

	output := tensor.MatMulAutograd(input, l.weight)
	if l.bias != nil {
		output = tensor.AddAutograd(output, l.bias)
	}
	return output, nil
}

// Weight exposes the [inputSize, outputSize] weight matrix.
func (l *Linear) Weight() *tensor.Tensor { return l.weight }

// Bias exposes the bias vector, nil when the layer has none.
func (l *Linear) Bias() *tensor.Tensor { return l.bias }

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) Train() { l.training = true }

func (l *Linear) Eval() { l.training = false }

func (l *Linear) IsTraining() bool { return l.training }

// Embedding maps discrete ids to dense vectors via a [numEmbeddings,
// embeddingDim] lookup table. The row at paddingIdx is initialized to
// zero and never receives gradient, so the padding vector stays fixed
// for the lifetime of the model.
type Embedding struct {
	weight     *tensor.Tensor
	paddingIdx int
	training   bool
}

// NewEmbedding creates an embedding table with N(0, 1) initialized rows
// and a frozen zero row at paddingIdx.
func NewEmbedding(numEmbeddings, embeddingDim, paddingIdx int, device tensor.DeviceType) (*Embedding, error) {
	if numEmbeddings <= 0 || embeddingDim <= 0 {
		return nil, fmt.Errorf("embedding sizes must be positive, got %d x %d", numEmbeddings, embeddingDim)
	}
	if paddingIdx < 0 || paddingIdx >= numEmbeddings {
		return nil, fmt.Errorf("padding index %d out of range [0, %d)", paddingIdx, numEmbeddings)
	}

	weight, err := tensor.RandomNormal([]int{numEmbeddings, embeddingDim}, 0, 1, globalRng, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding table: %v", err)
	}
	data := weight.Data.([]float32)
	for j := 0; j < embeddingDim; j++ {
		data[paddingIdx*embeddingDim+j] = 0
	}
	weight.SetRequiresGrad(true)

	return &Embedding{
		weight:     weight,
		paddingIdx: paddingIdx,
		training:   true,
	}, nil
}

// Forward looks up rows for an Int32 id tensor of any shape, producing
// an output with one extra embedding dimension appended.
func (e *Embedding) Forward(ids *tensor.Tensor) (*tensor.Tensor, error) {
	if ids.DType != tensor.Int32 {
		return nil, fmt.Errorf("Embedding expects Int32 ids, got %s", ids.DType)
	}
	return tensor.EmbeddingAutograd(e.weight, ids, e.paddingIdx), nil
}

// PaddingIdx returns the frozen padding row index.
func (e *Embedding) PaddingIdx() int { return e.paddingIdx }

// Weight exposes the lookup table.
func (e *Embedding) Weight() *tensor.Tensor { return e.weight }

func (e *Embedding) Parameters() []*tensor.Tensor { return []*tensor.Tensor{e.weight} }

func (e *Embedding) Train() { e.training = true }

func (e *Embedding) Eval() { e.training = false }

func (e *Embedding) IsTraining() bool { return e.training }

// Dropout zeroes each activation with probability p during training and
// rescales the rest by 1/(1-p). In evaluation mode it is the identity.
type Dropout struct {
	p        float64
	training bool
}

func NewDropout(p float64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	return &Dropout{p: p, training: true}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return input, nil
	}
	return tensor.DropoutAutograd(input, d.p, globalRng), nil
}

func (d *Dropout) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }

func (d *Dropout) Train() { d.training = true }

func (d *Dropout) Eval() { d.training = false }

func (d *Dropout) IsTraining() bool { return d.training }
