package layers

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mvidmar/morphbert/encoder"
	"github.com/mvidmar/morphbert/tensor"
)

// FeatureConfig describes one morphological feature channel fused into
// the classification head.
type FeatureConfig struct {
	// Name keys the batch tensors: the classifier reads "{Name}_ids"
	// and "{Name}_mask" for this channel.
	Name string
	// VocabSize is the number of distinct feature values, padding
	// included at index 0.
	VocabSize int
	// EmbeddingSize is the width of this channel's embedding table.
	EmbeddingSize int
}

// ClassifierConfig configures a fusion classifier.
type ClassifierConfig struct {
	NumLabels   int
	Dropout     float64
	PoolingType string
	Features    []FeatureConfig
	Device      tensor.DeviceType
	Logger      *zap.Logger
}

type featureChannel struct {
	config    FeatureConfig
	embedding *Embedding
	pooler    Pooler
}

// Classifier fuses a frozen encoder's pooled output with pooled
// morphological feature embeddings and maps the result to label
// logits. Feature channels are fused in the order they were
// configured.
type Classifier struct {
	encoder   encoder.Encoder
	features  []featureChannel
	dropout   *Dropout
	head      *Linear
	numLabels int
	training  bool
	logger    *zap.Logger
}

// NewClassifier wires the fusion head around enc. Each feature channel
// gets its own embedding table and its own pooler sized to that
// channel's embedding width.
func NewClassifier(enc encoder.Encoder, config ClassifierConfig) (*Classifier, error) {
	if enc == nil {
		return nil, errors.New("classifier requires an encoder")
	}
	if config.NumLabels <= 0 {
		return nil, errors.Errorf("invalid label count %d", config.NumLabels)
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fusionWidth := enc.HiddenSize()
	channels := make([]featureChannel, 0, len(config.Features))
	for _, fc := range config.Features {
		if fc.Name == "" {
			return nil, errors.New("feature channel missing a name")
		}
		emb, err := NewEmbedding(fc.VocabSize, fc.EmbeddingSize, 0, config.Device)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %q embedding", fc.Name)
		}
		pooler, err := NewPooler(config.PoolingType, fc.EmbeddingSize, config.Device)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %q pooler", fc.Name)
		}
		channels = append(channels, featureChannel{config: fc, embedding: emb, pooler: pooler})
		fusionWidth += fc.EmbeddingSize
	}

	dropout, err := NewDropout(config.Dropout)
	if err != nil {
		return nil, err
	}
	head, err := NewLinear(fusionWidth, config.NumLabels, true, config.Device)
	if err != nil {
		return nil, errors.Wrap(err, "classification head")
	}

	logger.Info("built fusion classifier",
		zap.Int("hidden_size", enc.HiddenSize()),
		zap.Int("fusion_width", fusionWidth),
		zap.Int("num_labels", config.NumLabels),
		zap.Int("feature_channels", len(channels)),
		zap.String("pooling", config.PoolingType))

	return &Classifier{
		encoder:   enc,
		features:  channels,
		dropout:   dropout,
		head:      head,
		numLabels: config.NumLabels,
		training:  true,
		logger:    logger,
	}, nil
}

// NumLabels reports the width of the logits this classifier produces.
func (c *Classifier) NumLabels() int { return c.numLabels }

// Forward maps a batch to logits [batch, numLabels]. The batch must
// carry "input_ids", "token_type_ids" and "attention_mask"; every
// configured feature channel must have its "{name}_ids" and
// "{name}_mask" tensors present.
func (c *Classifier) Forward(batch map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	inputIDs, err := requireTensor(batch, "input_ids")
	if err != nil {
		return nil, err
	}
	tokenTypeIDs, err := requireTensor(batch, "token_type_ids")
	if err != nil {
		return nil, err
	}
	attentionMask, err := requireTensor(batch, "attention_mask")
	if err != nil {
		return nil, err
	}

	_, pooled, err := c.encoder.Encode(inputIDs, tokenTypeIDs, attentionMask)
	if err != nil {
		return nil, errors.Wrap(err, "encoder")
	}

	parts := []*tensor.Tensor{pooled}
	for i := range c.features {
		ch := &c.features[i]
		ids, err := requireTensor(batch, ch.config.Name+"_ids")
		if err != nil {
			return nil, err
		}
		mask, err := requireTensor(batch, ch.config.Name+"_mask")
		if err != nil {
			return nil, err
		}

		embedded, err := ch.embedding.Forward(ids)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %q embedding", ch.config.Name)
		}
		pooledFeature, err := ch.pooler.Pool(embedded, mask)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %q pooling", ch.config.Name)
		}
		parts = append(parts, pooledFeature)
	}

	fused := parts[0]
	if len(parts) > 1 {
		fused = tensor.ConcatAutograd(parts, 1)
	}

	dropped, err := c.dropout.Forward(fused)
	if err != nil {
		return nil, err
	}
	logits, err := c.head.Forward(dropped)
	if err != nil {
		return nil, errors.Wrap(err, "classification head")
	}
	return logits, nil
}

func requireTensor(batch map[string]*tensor.Tensor, key string) (*tensor.Tensor, error) {
	t, ok := batch[key]
	if !ok || t == nil {
		return nil, errors.Errorf("batch is missing tensor %q", key)
	}
	return t, nil
}

// Parameters returns the trainable tensors: feature embeddings, pooler
// parameters and the head. The encoder is frozen and contributes none.
func (c *Classifier) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for i := range c.features {
		params = append(params, c.features[i].embedding.Parameters()...)
		params = append(params, c.features[i].pooler.Parameters()...)
	}
	params = append(params, c.head.Parameters()...)
	return params
}

// NamedParameters mirrors Parameters with stable checkpoint names.
func (c *Classifier) NamedParameters() map[string]*tensor.Tensor {
	named := make(map[string]*tensor.Tensor)
	for i := range c.features {
		ch := &c.features[i]
		named["features."+ch.config.Name+".embedding.weight"] = ch.embedding.Weight()
		for j, p := range ch.pooler.Parameters() {
			named[fmt.Sprintf("features.%s.pooler.%d", ch.config.Name, j)] = p
		}
	}
	named["head.weight"] = c.head.Weight()
	named["head.bias"] = c.head.Bias()
	return named
}

// Train puts the classifier in training mode (dropout active).
func (c *Classifier) Train() {
	c.training = true
	c.dropout.Train()
}

// Eval puts the classifier in evaluation mode (dropout disabled).
func (c *Classifier) Eval() {
	c.training = false
	c.dropout.Eval()
}

// IsTraining reports the current mode.
func (c *Classifier) IsTraining() bool { return c.training }
