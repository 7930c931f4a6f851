package training

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/mvidmar/morphbert/tensor"
)

// Batch holds one batch of stacked example tensors keyed by field name.
type Batch = map[string]*tensor.Tensor

// DataLoader slices a dataset into consecutive fixed-size batches. The
// final batch is smaller when the dataset length is not a multiple of
// the batch size. Shuffling is the caller's job: wrap the dataset in a
// SubsetDataset over permuted indices.
type DataLoader struct {
	dataset   Dataset
	batchSize int
}

func NewDataLoader(dataset Dataset, batchSize int) (*DataLoader, error) {
	if dataset == nil {
		return nil, errors.New("data loader requires a dataset")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &DataLoader{dataset: dataset, batchSize: batchSize}, nil
}

// NumBatches returns how many batches one pass over the dataset yields.
func (dl *DataLoader) NumBatches() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// NumExamples returns the underlying dataset length.
func (dl *DataLoader) NumExamples() int { return dl.dataset.Len() }

// GetBatch stacks the examples of batch idx along a new leading axis.
// Every example must carry the same field names with matching shapes
// and dtypes.
func (dl *DataLoader) GetBatch(idx int) (Batch, error) {
	start := idx * dl.batchSize
	if idx < 0 || start >= dl.dataset.Len() {
		return nil, errors.Errorf("batch index %d out of range [0, %d)", idx, dl.NumBatches())
	}
	end := start + dl.batchSize
	if end > dl.dataset.Len() {
		end = dl.dataset.Len()
	}

	examples := make([]Example, 0, end-start)
	for i := start; i < end; i++ {
		ex, err := dl.dataset.Get(i)
		if err != nil {
			return nil, errors.Wrapf(err, "example %d", i)
		}
		examples = append(examples, ex)
	}
	return stackExamples(examples)
}

func stackExamples(examples []Example) (Batch, error) {
	keys := make([]string, 0, len(examples[0]))
	for k := range examples[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := make(Batch, len(keys))
	for _, key := range keys {
		first := examples[0][key]
		shape := append([]int{len(examples)}, first.Shape...)

		switch first.DType {
		case tensor.Float32:
			data := make([]float32, 0, len(examples)*first.NumElems)
			for i, ex := range examples {
				t, err := fieldTensor(ex, key, first, i)
				if err != nil {
					return nil, err
				}
				part, err := t.GetFloat32Data()
				if err != nil {
					return nil, errors.Wrapf(err, "field %q", key)
				}
				data = append(data, part...)
			}
			stacked, err := tensor.NewTensor(shape, tensor.Float32, first.Device, data)
			if err != nil {
				return nil, errors.Wrapf(err, "stacking field %q", key)
			}
			batch[key] = stacked
		case tensor.Int32:
			data := make([]int32, 0, len(examples)*first.NumElems)
			for i, ex := range examples {
				t, err := fieldTensor(ex, key, first, i)
				if err != nil {
					return nil, err
				}
				part, err := t.GetInt32Data()
				if err != nil {
					return nil, errors.Wrapf(err, "field %q", key)
				}
				data = append(data, part...)
			}
			stacked, err := tensor.NewTensor(shape, tensor.Int32, first.Device, data)
			if err != nil {
				return nil, errors.Wrapf(err, "stacking field %q", key)
			}
			batch[key] = stacked
		default:
			return nil, errors.Errorf("field %q has unsupported dtype %s", key, first.DType)
		}
	}
	return batch, nil
}

func fieldTensor(ex Example, key string, first *tensor.Tensor, idx int) (*tensor.Tensor, error) {
	t, ok := ex[key]
	if !ok || t == nil {
		return nil, errors.Errorf("example %d is missing field %q", idx, key)
	}
	if t.DType != first.DType || t.NumElems != first.NumElems {
		return nil, errors.Errorf("example %d field %q does not match the first example's dtype and shape", idx, key)
	}
	return t, nil
}
