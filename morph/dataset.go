package morph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/mvidmar/morphbert/encoder"
	"github.com/mvidmar/morphbert/tensor"
	"github.com/mvidmar/morphbert/training"
)

// SequenceDatasetConfig configures the tensor encoding of annotated
// records.
type SequenceDatasetConfig struct {
	MaxSeqLen int
	// FeatureNames selects which annotated features become model
	// inputs; each gets "{name}_ids" and "{name}_mask" tensors. Order
	// does not matter here, the model fixes fusion order.
	FeatureNames []string
	// Labels fixes the target-to-id mapping. When nil, the mapping is
	// built from the distinct targets in the records, sorted. A dev or
	// test set must reuse the training set's mapping.
	Labels map[string]int32
}

// SequenceDataset turns annotated records into fixed-length training
// examples on demand.
type SequenceDataset struct {
	records   []Record
	tokenizer encoder.Tokenizer
	registry  *Registry
	config    SequenceDatasetConfig
	labels    map[string]int32
}

// NewSequenceDataset validates the configuration and resolves the
// label mapping. Records whose target is absent from a supplied label
// mapping fail at Get time, not construction.
func NewSequenceDataset(records []Record, tokenizer encoder.Tokenizer, registry *Registry, config SequenceDatasetConfig) (*SequenceDataset, error) {
	if tokenizer == nil {
		return nil, errors.New("dataset requires a tokenizer")
	}
	if registry == nil {
		return nil, errors.New("dataset requires a feature vocabulary registry")
	}
	if config.MaxSeqLen <= 0 {
		return nil, errors.Errorf("max sequence length must be positive, got %d", config.MaxSeqLen)
	}
	for _, name := range config.FeatureNames {
		if _, err := registry.Feature(name); err != nil {
			return nil, err
		}
	}

	labels := config.Labels
	if labels == nil {
		distinct := map[string]bool{}
		for _, rec := range records {
			distinct[rec.Target] = true
		}
		targets := make([]string, 0, len(distinct))
		for t := range distinct {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		labels = make(map[string]int32, len(targets))
		for i, t := range targets {
			labels[t] = int32(i)
		}
	}
	if len(labels) == 0 {
		return nil, errors.New("dataset has no labels")
	}

	return &SequenceDataset{
		records:   records,
		tokenizer: tokenizer,
		registry:  registry,
		config:    config,
		labels:    labels,
	}, nil
}

func (d *SequenceDataset) Len() int { return len(d.records) }

// NumLabels returns the number of distinct classes.
func (d *SequenceDataset) NumLabels() int { return len(d.labels) }

// Labels exposes the target-to-id mapping, so dev and test sets can be
// built against the training set's classes.
func (d *SequenceDataset) Labels() map[string]int32 {
	out := make(map[string]int32, len(d.labels))
	for k, v := range d.labels {
		out[k] = v
	}
	return out
}

func (d *SequenceDataset) Get(idx int) (training.Example, error) {
	if idx < 0 || idx >= len(d.records) {
		return nil, errors.Errorf("index %d out of range [0, %d)", idx, len(d.records))
	}
	rec := d.records[idx]

	label, ok := d.labels[rec.Target]
	if !ok {
		return nil, errors.Errorf("record %d has unknown target %q", idx, rec.Target)
	}

	inputIDs, tokenTypeIDs, attentionMask := d.tokenizer.Encode(rec.Content, d.config.MaxSeqLen)

	example := make(training.Example, 4+2*len(d.config.FeatureNames))
	var err error
	if example["input_ids"], err = tensor.NewTensor([]int{d.config.MaxSeqLen}, tensor.Int32, tensor.CPU, inputIDs); err != nil {
		return nil, err
	}
	if example["token_type_ids"], err = tensor.NewTensor([]int{d.config.MaxSeqLen}, tensor.Int32, tensor.CPU, tokenTypeIDs); err != nil {
		return nil, err
	}
	if example["attention_mask"], err = tensor.NewTensor([]int{d.config.MaxSeqLen}, tensor.Float32, tensor.CPU, attentionMask); err != nil {
		return nil, err
	}
	if example["labels"], err = tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{label}); err != nil {
		return nil, err
	}

	for _, name := range d.config.FeatureNames {
		vocab, err := d.registry.Feature(name)
		if err != nil {
			return nil, err
		}
		ids, mask, err := EncodeFeature(rec.Features, name, vocab, d.config.MaxSeqLen)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d feature %q", idx, name)
		}
		example[name+"_ids"] = ids
		example[name+"_mask"] = mask
	}
	return example, nil
}
