package layers

import (
	"fmt"

	"github.com/mvidmar/morphbert/tensor"
)

// Pooler reduces a [B, T, E] sequence of embeddings and a [B, T]
// validity mask to one [B, E] vector per example.
type Pooler interface {
	Pool(data, mask *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
}

// Pooling strategy names accepted by NewPooler.
const (
	PoolingMean     = "mean"
	PoolingWeighted = "weighted"
	PoolingLSTM     = "lstm"
)

// NewPooler builds the pooling strategy for one feature's embedding
// size. Unrecognized names fall back to masked-mean pooling; this is
// deliberate, not an error.
func NewPooler(poolingType string, embeddingSize int, device tensor.DeviceType) (Pooler, error) {
	switch poolingType {
	case PoolingLSTM:
		lstm, err := NewLSTM(embeddingSize, embeddingSize, device)
		if err != nil {
			return nil, err
		}
		return &LSTMPooler{lstm: lstm}, nil
	case PoolingWeighted:
		linear, err := NewLinear(embeddingSize, 1, true, device)
		if err != nil {
			return nil, err
		}
		return &WeightedSumPooler{linear: linear}, nil
	default:
		return &MaskedMeanPooler{}, nil
	}
}

// MaskedMeanPooler zeroes masked-out positions and sums over the
// sequence axis. Despite the name it does NOT divide by the valid-token
// count: the result is a masked sum, kept for compatibility with
// previously trained weights. Callers that need a true mean must divide
// by the per-example count themselves. An all-zero mask yields a zero
// vector.
type MaskedMeanPooler struct{}

func (p *MaskedMeanPooler) Pool(data, mask *tensor.Tensor) (*tensor.Tensor, error) {
	if len(data.Shape) != 3 {
		return nil, fmt.Errorf("pooler expects 3D data [batch, seq, emb], got shape %v", data.Shape)
	}
	if len(mask.Shape) != 2 || mask.Shape[0] != data.Shape[0] || mask.Shape[1] != data.Shape[1] {
		return nil, fmt.Errorf("mask shape %v does not match data shape %v", mask.Shape, data.Shape)
	}

	maskCol, err := mask.Reshape([]int{mask.Shape[0], mask.Shape[1], 1})
	if err != nil {
		return nil, err
	}
	masked := tensor.MulAutograd(data, maskCol)
	return tensor.SumAutograd(masked, 1), nil
}

func (p *MaskedMeanPooler) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }

// WeightedSumPooler compresses each position's embedding to a scalar
// score with a learned linear map, softmax-normalizes the scores over
// the sequence axis and sums the weighted embeddings. The mask is
// accepted but not applied: padding positions take part in the softmax,
// so the output is a convex combination over ALL positions including
// padding. Known limitation, preserved deliberately.
type WeightedSumPooler struct {
	linear *Linear
}

func (p *WeightedSumPooler) Pool(data, mask *tensor.Tensor) (*tensor.Tensor, error) {
	if len(data.Shape) != 3 {
		return nil, fmt.Errorf("pooler expects 3D data [batch, seq, emb], got shape %v", data.Shape)
	}
	batch, seqLen, emb := data.Shape[0], data.Shape[1], data.Shape[2]

	flat := tensor.ReshapeAutograd(data, []int{batch * seqLen, emb})
	scores, err := p.linear.Forward(flat)
	if err != nil {
		return nil, err
	}
	scores = tensor.ReshapeAutograd(scores, []int{batch, seqLen, 1})

	weights := tensor.SoftmaxAutograd(scores, 1)
	weighted := tensor.MulAutograd(weights, data)
	return tensor.SumAutograd(weighted, 1), nil
}

func (p *WeightedSumPooler) Parameters() []*tensor.Tensor { return p.linear.Parameters() }

// LSTMPooler runs a recurrent model over the full embedding sequence
// and returns its final hidden state. The mask is accepted but
// intentionally unused, so padding positions influence the final
// state. Known limitation, preserved deliberately.
type LSTMPooler struct {
	lstm *LSTM
}

func (p *LSTMPooler) Pool(data, mask *tensor.Tensor) (*tensor.Tensor, error) {
	return p.lstm.Forward(data)
}

func (p *LSTMPooler) Parameters() []*tensor.Tensor { return p.lstm.Parameters() }
