package training

import (
	"github.com/pkg/errors"

	"github.com/mvidmar/morphbert/tensor"
)

// Example is one sample's tensors keyed by field name: model inputs
// plus the "labels" tensor.
type Example map[string]*tensor.Tensor

// Dataset is a finite, random-access collection of examples.
type Dataset interface {
	Len() int
	Get(idx int) (Example, error)
}

// SliceDataset serves examples straight from a slice.
type SliceDataset struct {
	examples []Example
}

func NewSliceDataset(examples []Example) *SliceDataset {
	return &SliceDataset{examples: examples}
}

func (d *SliceDataset) Len() int { return len(d.examples) }

func (d *SliceDataset) Get(idx int) (Example, error) {
	if idx < 0 || idx >= len(d.examples) {
		return nil, errors.Errorf("index %d out of range [0, %d)", idx, len(d.examples))
	}
	return d.examples[idx], nil
}

// SubsetDataset exposes a subset of an underlying dataset through an
// index slice. The fit loop uses it to carve shuffled minisets out of
// the training set without copying examples.
type SubsetDataset struct {
	original Dataset
	indices  []int
}

// NewSubsetDataset wraps original so that subset index i resolves to
// original index indices[i].
func NewSubsetDataset(original Dataset, indices []int) (*SubsetDataset, error) {
	if original == nil {
		return nil, errors.New("subset requires an underlying dataset")
	}
	n := original.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, errors.Errorf("subset index %d out of range [0, %d)", idx, n)
		}
	}
	return &SubsetDataset{
		original: original,
		indices:  append([]int{}, indices...),
	}, nil
}

func (d *SubsetDataset) Len() int { return len(d.indices) }

func (d *SubsetDataset) Get(idx int) (Example, error) {
	if idx < 0 || idx >= len(d.indices) {
		return nil, errors.Errorf("index %d out of range [0, %d)", idx, len(d.indices))
	}
	return d.original.Get(d.indices[idx])
}
