package training

import (
	"github.com/pkg/errors"

	"github.com/mvidmar/morphbert/tensor"
)

// Loss maps model outputs and targets to a one-element loss tensor
// wired into the autograd graph, so Backward on the result reaches the
// model parameters.
type Loss interface {
	Forward(logits, labels *tensor.Tensor) (*tensor.Tensor, error)
}

// CrossEntropyLoss is mean cross entropy over the batch, computed from
// raw logits and Int32 class labels.
type CrossEntropyLoss struct{}

func NewCrossEntropyLoss() *CrossEntropyLoss { return &CrossEntropyLoss{} }

func (ce *CrossEntropyLoss) Forward(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	if logits == nil || labels == nil {
		return nil, errors.New("cross entropy requires logits and labels")
	}
	if len(logits.Shape) != 2 {
		return nil, errors.Errorf("cross entropy expects 2D logits [batch, classes], got shape %v", logits.Shape)
	}
	if labels.DType != tensor.Int32 {
		return nil, errors.Errorf("cross entropy expects Int32 labels, got %s", labels.DType)
	}
	if len(labels.Shape) != 1 || labels.Shape[0] != logits.Shape[0] {
		return nil, errors.Errorf("label shape %v does not match logits shape %v", labels.Shape, logits.Shape)
	}
	labelData, err := labels.GetInt32Data()
	if err != nil {
		return nil, err
	}
	classes := int32(logits.Shape[1])
	for i, label := range labelData {
		if label < 0 || label >= classes {
			return nil, errors.Errorf("label %d at position %d out of range [0, %d)", label, i, classes)
		}
	}
	return tensor.CrossEntropyAutograd(logits, labels), nil
}
