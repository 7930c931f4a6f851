package training

import (
	"github.com/pkg/errors"

	"github.com/mvidmar/morphbert/tensor"
)

// ValidationMetrics summarizes one pass over a held-out dataset.
type ValidationMetrics struct {
	Loss     float64
	Accuracy float64
	Examples int
}

// countCorrect compares argmax predictions against Int32 labels and
// returns how many rows match.
func countCorrect(logits, labels *tensor.Tensor) (int, error) {
	predictions, err := tensor.ArgMax(logits)
	if err != nil {
		return 0, errors.Wrap(err, "argmax over logits")
	}
	predicted, err := predictions.GetInt32Data()
	if err != nil {
		return 0, err
	}
	expected, err := labels.GetInt32Data()
	if err != nil {
		return 0, err
	}
	if len(predicted) != len(expected) {
		return 0, errors.Errorf("prediction count %d does not match label count %d", len(predicted), len(expected))
	}

	correct := 0
	for i := range predicted {
		if predicted[i] == expected[i] {
			correct++
		}
	}
	return correct, nil
}
