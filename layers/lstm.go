package layers

import (
	"fmt"
	"math"

	"github.com/mvidmar/morphbert/tensor"
)

// LSTM is a single-layer batch-first LSTM that consumes a [B, T, E]
// sequence and exposes the final hidden state. Gate weights are kept as
// separate input/hidden matrices per gate.
type LSTM struct {
	inputSize  int
	hiddenSize int

	// Gate order: input, forget, cell, output.
	wx [4]*tensor.Tensor // [inputSize, hiddenSize] each
	wh [4]*tensor.Tensor // [hiddenSize, hiddenSize] each
	b  [4]*tensor.Tensor // [hiddenSize] each

	training bool
}

// NewLSTM creates an LSTM with uniform(-1/sqrt(H), 1/sqrt(H))
// initialized weights, the standard recurrent initialization.
func NewLSTM(inputSize, hiddenSize int, device tensor.DeviceType) (*LSTM, error) {
	if inputSize <= 0 || hiddenSize <= 0 {
		return nil, fmt.Errorf("LSTM sizes must be positive, got input=%d hidden=%d", inputSize, hiddenSize)
	}
	bound := 1.0 / math.Sqrt(float64(hiddenSize))

	l := &LSTM{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		training:   true,
	}
	for g := 0; g < 4; g++ {
		wx, err := tensor.RandomUniform([]int{inputSize, hiddenSize}, bound, globalRng, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create input weight: %v", err)
		}
		wx.SetRequiresGrad(true)
		l.wx[g] = wx

		wh, err := tensor.RandomUniform([]int{hiddenSize, hiddenSize}, bound, globalRng, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create hidden weight: %v", err)
		}
		wh.SetRequiresGrad(true)
		l.wh[g] = wh

		b, err := tensor.RandomUniform([]int{hiddenSize}, bound, globalRng, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias: %v", err)
		}
		b.SetRequiresGrad(true)
		l.b[g] = b
	}
	return l, nil
}

// Forward runs the recurrence over the full sequence and returns the
// final hidden state [B, hiddenSize].
func (l *LSTM) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 3 {
		return nil, fmt.Errorf("LSTM expects 3D input [batch, seq, emb], got shape %v", input.Shape)
	}
	if input.Shape[2] != l.inputSize {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.inputSize, input.Shape[2])
	}

	batch := input.Shape[0]
	seqLen := input.Shape[1]

	h, err := tensor.Zeros([]int{batch, l.hiddenSize}, tensor.Float32, input.Device)
	if err != nil {
		return nil, err
	}
	c, err := tensor.Zeros([]int{batch, l.hiddenSize}, tensor.Float32, input.Device)
	if err != nil {
		return nil, err
	}

	const (
		gateInput = iota
		gateForget
		gateCell
		gateOutput
	)

	for t := 0; t < seqLen; t++ {
		xt := tensor.SelectAutograd(input, 1, t) // [B, E]

		gate := func(g int) *tensor.Tensor {
			pre := tensor.AddAutograd(tensor.MatMulAutograd(xt, l.wx[g]), tensor.MatMulAutograd(h, l.wh[g]))
			return tensor.AddAutograd(pre, l.b[g])
		}

		i := tensor.SigmoidAutograd(gate(gateInput))
		f := tensor.SigmoidAutograd(gate(gateForget))
		g := tensor.TanhAutograd(gate(gateCell))
		o := tensor.SigmoidAutograd(gate(gateOutput))

		c = tensor.AddAutograd(tensor.MulAutograd(f, c), tensor.MulAutograd(i, g))
		h = tensor.MulAutograd(o, tensor.TanhAutograd(c))
	}

	return h, nil
}

// HiddenSize returns the hidden state dimensionality.
func (l *LSTM) HiddenSize() int { return l.hiddenSize }

func (l *LSTM) Parameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, 12)
	for g := 0; g < 4; g++ {
		params = append(params, l.wx[g], l.wh[g], l.b[g])
	}
	return params
}

func (l *LSTM) Train() { l.training = true }

func (l *LSTM) Eval() { l.training = false }

func (l *LSTM) IsTraining() bool { return l.training }
