package training

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"go.uber.org/zap"

	"github.com/mvidmar/morphbert/checkpoints"
	"github.com/mvidmar/morphbert/tensor"
)

// Model is what the controller trains: a module mapping a named tensor
// batch to logits.
type Model interface {
	Forward(batch Batch) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	NamedParameters() map[string]*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// FitState reports how a fit run ended.
type FitState string

const (
	FitCompleted    FitState = "completed"
	FitEarlyStopped FitState = "early_stopped"
)

// FitResult summarizes a fit run.
type FitResult struct {
	State          FitState
	BestAccuracy   float64
	BestArtifactID string
	Validations    int
	Epochs         int
}

// ControllerConfig configures a training controller.
type ControllerConfig struct {
	// ModelName labels checkpoints and log lines.
	ModelName string
	BatchSize int

	LearningRate float64
	WeightDecay  float64

	// EarlyStoppingRounds is how many consecutive validations without
	// an accuracy improvement end the fit run early.
	EarlyStoppingRounds int
	// ValidateEveryN is the miniset size: the fit loop validates after
	// every ValidateEveryN training examples.
	ValidateEveryN int

	// Progress draws a terminal progress bar per training pass.
	Progress bool
	Seed     int64
}

// Controller drives the fine-tuning loop: miniset training passes
// interleaved with validation, strict-improvement checkpointing and
// early stopping.
type Controller struct {
	model     Model
	loss      Loss
	optimizer Optimizer
	store     checkpoints.Store
	logger    *zap.Logger
	rng       *rand.Rand
	config    ControllerConfig
}

// NewController wires a controller around model. The store may be nil,
// in which case improved models are not persisted and FitResult carries
// no artifact id.
func NewController(model Model, store checkpoints.Store, logger *zap.Logger, config ControllerConfig) (*Controller, error) {
	if model == nil {
		return nil, errors.New("controller requires a model")
	}
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.ValidateEveryN <= 0 {
		return nil, errors.Errorf("validation interval must be positive, got %d", config.ValidateEveryN)
	}
	if config.EarlyStoppingRounds <= 0 {
		return nil, errors.Errorf("early stopping rounds must be positive, got %d", config.EarlyStoppingRounds)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	optimizer, err := NewAdamW(model.Parameters(), AdamWConfig{
		LearningRate: config.LearningRate,
		WeightDecay:  config.WeightDecay,
	})
	if err != nil {
		return nil, errors.Wrap(err, "building optimizer")
	}

	return &Controller{
		model:     model,
		loss:      NewCrossEntropyLoss(),
		optimizer: optimizer,
		store:     store,
		logger:    logger.With(zap.String("model", config.ModelName)),
		rng:       rand.New(rand.NewSource(config.Seed)),
		config:    config,
	}, nil
}

// Train runs one optimization pass over the dataset and returns the
// mean per-batch loss. The model is left in training mode.
func (c *Controller) Train(dataset Dataset) (float64, error) {
	loader, err := NewDataLoader(dataset, c.config.BatchSize)
	if err != nil {
		return 0, err
	}

	c.model.Train()

	var totalLoss float64
	numBatches := loader.NumBatches()

	runBatch := func(idx int) error {
		batch, err := loader.GetBatch(idx)
		if err != nil {
			return errors.Wrapf(err, "batch %d", idx)
		}
		inputs, labels, err := splitLabels(batch)
		if err != nil {
			return errors.Wrapf(err, "batch %d", idx)
		}

		logits, err := c.model.Forward(inputs)
		if err != nil {
			return errors.Wrapf(err, "forward pass on batch %d", idx)
		}
		lossTensor, err := c.loss.Forward(logits, labels)
		if err != nil {
			return errors.Wrapf(err, "loss on batch %d", idx)
		}

		c.optimizer.ZeroGrad()
		if err := lossTensor.Backward(nil); err != nil {
			return errors.Wrapf(err, "backward pass on batch %d", idx)
		}
		if err := c.optimizer.Step(); err != nil {
			return errors.Wrapf(err, "optimizer step on batch %d", idx)
		}

		value, err := lossTensor.GetFloat32Data()
		if err != nil {
			return err
		}
		totalLoss += float64(value[0])
		return nil
	}

	if c.config.Progress {
		var batchErr error
		err = tqdm.With(iterators.Interval(0, numBatches), "Training", func(v interface{}) (brk bool) {
			batchErr = runBatch(v.(int))
			return batchErr != nil
		})
		if batchErr != nil {
			return 0, batchErr
		}
		if err != nil {
			return 0, errors.Wrap(err, "progress loop")
		}
	} else {
		for idx := 0; idx < numBatches; idx++ {
			if err := runBatch(idx); err != nil {
				return 0, err
			}
		}
	}

	if numBatches == 0 {
		return 0, nil
	}
	return totalLoss / float64(numBatches), nil
}

// Validate computes loss and accuracy over the dataset without touching
// model parameters. It puts the model in evaluation mode and leaves it
// there; the next training pass switches back.
func (c *Controller) Validate(dataset Dataset) (ValidationMetrics, error) {
	loader, err := NewDataLoader(dataset, c.config.BatchSize)
	if err != nil {
		return ValidationMetrics{}, err
	}

	c.model.Eval()

	var totalLoss float64
	var correct, examples int
	for idx := 0; idx < loader.NumBatches(); idx++ {
		batch, err := loader.GetBatch(idx)
		if err != nil {
			return ValidationMetrics{}, errors.Wrapf(err, "batch %d", idx)
		}
		inputs, labels, err := splitLabels(batch)
		if err != nil {
			return ValidationMetrics{}, errors.Wrapf(err, "batch %d", idx)
		}

		logits, err := c.model.Forward(inputs)
		if err != nil {
			return ValidationMetrics{}, errors.Wrapf(err, "forward pass on batch %d", idx)
		}
		lossTensor, err := c.loss.Forward(logits, labels)
		if err != nil {
			return ValidationMetrics{}, errors.Wrapf(err, "loss on batch %d", idx)
		}
		value, err := lossTensor.GetFloat32Data()
		if err != nil {
			return ValidationMetrics{}, err
		}

		batchCorrect, err := countCorrect(logits, labels)
		if err != nil {
			return ValidationMetrics{}, errors.Wrapf(err, "accuracy on batch %d", idx)
		}

		batchSize := labels.Shape[0]
		totalLoss += float64(value[0]) * float64(batchSize)
		correct += batchCorrect
		examples += batchSize
	}

	metrics := ValidationMetrics{Examples: examples}
	if examples > 0 {
		metrics.Loss = totalLoss / float64(examples)
		metrics.Accuracy = float64(correct) / float64(examples)
	}
	return metrics, nil
}

// Fit interleaves miniset training with validation for the given number
// of epochs. Each epoch shuffles the training set and splits it into
// minisets of ValidateEveryN examples (the last one takes the
// remainder). After each miniset the dev set is evaluated; a strict
// accuracy improvement checkpoints the model and resets the
// early-stopping counter, anything else advances it. Once the counter
// reaches EarlyStoppingRounds the run stops.
//
// Validation after a miniset is skipped when dev is nil or when the
// miniset holds fewer than half of ValidateEveryN examples; skipped
// validations do not advance the counter.
func (c *Controller) Fit(train, dev Dataset, epochs int) (FitResult, error) {
	if train == nil || train.Len() == 0 {
		return FitResult{}, errors.New("fit requires a non-empty training set")
	}
	if epochs <= 0 {
		return FitResult{}, errors.Errorf("epoch count must be positive, got %d", epochs)
	}

	result := FitResult{State: FitCompleted}
	stale := 0

	for epoch := 0; epoch < epochs; epoch++ {
		result.Epochs = epoch + 1
		perm := c.rng.Perm(train.Len())
		minisets := splitMinisets(perm, c.config.ValidateEveryN)

		c.logger.Info("starting epoch",
			zap.Int("epoch", epoch),
			zap.Int("examples", train.Len()),
			zap.Int("minisets", len(minisets)))

		for step, miniset := range minisets {
			subset, err := NewSubsetDataset(train, miniset)
			if err != nil {
				return result, err
			}
			trainLoss, err := c.Train(subset)
			if err != nil {
				return result, errors.Wrapf(err, "epoch %d miniset %d", epoch, step)
			}
			c.logger.Info("trained miniset",
				zap.Int("epoch", epoch),
				zap.Int("miniset", step),
				zap.Int("examples", len(miniset)),
				zap.Float64("train_loss", trainLoss))

			if dev == nil || float64(len(miniset)) < float64(c.config.ValidateEveryN)/2 {
				continue
			}

			metrics, err := c.Validate(dev)
			if err != nil {
				return result, errors.Wrapf(err, "validation after epoch %d miniset %d", epoch, step)
			}
			result.Validations++

			if metrics.Accuracy > result.BestAccuracy {
				result.BestAccuracy = metrics.Accuracy
				stale = 0

				artifactID, err := c.saveCheckpoint(epoch, result.Validations, metrics.Accuracy)
				if err != nil {
					return result, err
				}
				result.BestArtifactID = artifactID

				c.logger.Info("validation improved",
					zap.Int("epoch", epoch),
					zap.Float64("accuracy", metrics.Accuracy),
					zap.Float64("dev_loss", metrics.Loss),
					zap.String("artifact_id", artifactID))
			} else {
				stale++
				c.logger.Info("validation did not improve",
					zap.Int("epoch", epoch),
					zap.Float64("accuracy", metrics.Accuracy),
					zap.Float64("best_accuracy", result.BestAccuracy),
					zap.Int("stale_rounds", stale))
			}

			if stale >= c.config.EarlyStoppingRounds {
				c.logger.Info("early stopping",
					zap.Int("epoch", epoch),
					zap.Float64("best_accuracy", result.BestAccuracy))
				result.State = FitEarlyStopped
				return result, nil
			}
		}
	}
	return result, nil
}

func (c *Controller) saveCheckpoint(epoch, validations int, accuracy float64) (string, error) {
	if c.store == nil {
		return "", nil
	}
	weights, err := checkpoints.FromNamedParameters(c.model.NamedParameters())
	if err != nil {
		return "", errors.Wrap(err, "collecting model weights")
	}
	checkpoint := &checkpoints.Checkpoint{
		Weights: weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:           epoch,
			LearningRate:    c.config.LearningRate,
			WeightDecay:     c.config.WeightDecay,
			BestAccuracy:    accuracy,
			ValidationCount: validations,
		},
		Metadata: checkpoints.CheckpointMetadata{
			ModelName: c.config.ModelName,
		},
	}
	artifactID, err := c.store.Save(checkpoint)
	if err != nil {
		return "", errors.Wrap(err, "saving checkpoint")
	}
	return artifactID, nil
}

// splitLabels separates the labels tensor from the model inputs,
// flattening stacked per-example labels down to one id per row.
func splitLabels(batch Batch) (Batch, *tensor.Tensor, error) {
	labels, ok := batch["labels"]
	if !ok {
		return nil, nil, errors.New("batch is missing the labels tensor")
	}
	if len(labels.Shape) > 1 {
		flat, err := labels.Reshape([]int{labels.Shape[0]})
		if err != nil {
			return nil, nil, errors.Wrap(err, "flattening labels")
		}
		labels = flat
	}
	inputs := make(Batch, len(batch)-1)
	for k, v := range batch {
		if k != "labels" {
			inputs[k] = v
		}
	}
	return inputs, labels, nil
}

// splitMinisets chops a permutation into consecutive chunks of size;
// the final chunk takes whatever remains.
func splitMinisets(perm []int, size int) [][]int {
	var minisets [][]int
	for start := 0; start < len(perm); start += size {
		end := start + size
		if end > len(perm) {
			end = len(perm)
		}
		minisets = append(minisets, perm[start:end])
	}
	return minisets
}

// RestoreCheckpoint loads the weights stored under artifactID into the
// model.
func (c *Controller) RestoreCheckpoint(artifactID string) error {
	if c.store == nil {
		return errors.New("controller has no checkpoint store")
	}
	checkpoint, err := c.store.Load(artifactID)
	if err != nil {
		return err
	}
	return checkpoints.ApplyToNamedParameters(checkpoint.Weights, c.model.NamedParameters())
}
