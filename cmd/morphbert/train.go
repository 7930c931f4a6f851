package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mvidmar/morphbert/checkpoints"
	"github.com/mvidmar/morphbert/encoder"
	"github.com/mvidmar/morphbert/layers"
	"github.com/mvidmar/morphbert/morph"
	"github.com/mvidmar/morphbert/tensor"
	"github.com/mvidmar/morphbert/training"
)

func trainCmd(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "fine-tune a classifier on a preprocessed annotation artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := bindConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(*verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return runTrain(logger, trainOptions{
				ModelName:           v.GetString("model-name"),
				TrainPath:           v.GetString("train-path"),
				DevPath:             v.GetString("dev-path"),
				CheckpointDir:       v.GetString("checkpoint-dir"),
				BatchSize:           v.GetInt("batch-size"),
				Epochs:              v.GetInt("epochs"),
				LearningRate:        v.GetFloat64("lr"),
				WeightDecay:         v.GetFloat64("weight-decay"),
				Dropout:             v.GetFloat64("dropout"),
				EarlyStoppingRounds: v.GetInt("early-stopping-rounds"),
				ValidateEveryN:      v.GetInt("validate-every-n-examples"),
				MaxSeqLen:           v.GetInt("max-seq-len"),
				IncludeUpostag:      v.GetBool("include-upostag"),
				IncludeUfeats:       v.GetBool("include-ufeats"),
				UposEmbeddingSize:   v.GetInt("upos-embedding-size"),
				UfeatsEmbeddingSize: v.GetInt("ufeats-embedding-size"),
				Pooling:             v.GetString("pooling"),
				VocabSize:           v.GetInt("vocab-size"),
				HiddenSize:          v.GetInt("hidden-size"),
				Seed:                v.GetInt64("seed"),
				Progress:            v.GetBool("progress"),
			})
		},
	}

	flags := cmd.Flags()
	flags.String("model-name", "morphbert", "name recorded in checkpoints and logs")
	flags.String("train-path", "", "preprocessed training artifact (csv)")
	flags.String("dev-path", "", "preprocessed validation artifact (csv), empty disables validation")
	flags.String("checkpoint-dir", "checkpoints", "directory for model checkpoints")
	flags.Int("batch-size", 8, "examples per optimization step")
	flags.Int("epochs", 2, "passes over the training set")
	flags.Float64("lr", 2e-5, "learning rate")
	flags.Float64("weight-decay", 0.01, "decoupled weight decay")
	flags.Float64("dropout", 0.2, "dropout before the classification head")
	flags.Int("early-stopping-rounds", 5, "consecutive non-improving validations before stopping")
	flags.Int("validate-every-n-examples", 3000, "training examples between validations")
	flags.Int("max-seq-len", 64, "fixed token sequence length")
	flags.Bool("include-upostag", false, "fuse part-of-speech tag embeddings")
	flags.Bool("include-ufeats", false, "fuse universal feature embeddings")
	flags.Int("upos-embedding-size", 50, "embedding width for part-of-speech tags")
	flags.Int("ufeats-embedding-size", 15, "embedding width for each universal feature")
	flags.String("pooling", "mean", "pooling strategy: mean, weighted or lstm")
	flags.Int("vocab-size", 30522, "encoder token vocabulary size")
	flags.Int("hidden-size", 768, "encoder hidden size")
	flags.Int64("seed", 1, "random seed")
	flags.Bool("progress", true, "draw training progress bars")
	cobra.CheckErr(cmd.MarkFlagRequired("train-path"))

	return cmd
}

type trainOptions struct {
	ModelName           string
	TrainPath           string
	DevPath             string
	CheckpointDir       string
	BatchSize           int
	Epochs              int
	LearningRate        float64
	WeightDecay         float64
	Dropout             float64
	EarlyStoppingRounds int
	ValidateEveryN      int
	MaxSeqLen           int
	IncludeUpostag      bool
	IncludeUfeats       bool
	UposEmbeddingSize   int
	UfeatsEmbeddingSize int
	Pooling             string
	VocabSize           int
	HiddenSize          int
	Seed                int64
	Progress            bool
}

func runTrain(logger *zap.Logger, opts trainOptions) error {
	layers.SetRandomSeed(opts.Seed)
	registry := morph.DefaultRegistry()

	featureNames := selectFeatures(registry, opts)
	logger.Info("loading training data",
		zap.String("path", opts.TrainPath),
		zap.Strings("features", featureNames))

	trainRecords, err := morph.ReadArtifact(opts.TrainPath)
	if err != nil {
		return errors.Wrap(err, "loading training artifact")
	}

	tokenizer, err := encoder.NewHashTokenizer(opts.VocabSize)
	if err != nil {
		return err
	}
	datasetConfig := morph.SequenceDatasetConfig{
		MaxSeqLen:    opts.MaxSeqLen,
		FeatureNames: featureNames,
	}
	trainSet, err := morph.NewSequenceDataset(trainRecords, tokenizer, registry, datasetConfig)
	if err != nil {
		return errors.Wrap(err, "building training dataset")
	}

	var devSet training.Dataset
	if opts.DevPath != "" {
		devRecords, err := morph.ReadArtifact(opts.DevPath)
		if err != nil {
			return errors.Wrap(err, "loading validation artifact")
		}
		devConfig := datasetConfig
		devConfig.Labels = trainSet.Labels()
		dev, err := morph.NewSequenceDataset(devRecords, tokenizer, registry, devConfig)
		if err != nil {
			return errors.Wrap(err, "building validation dataset")
		}
		devSet = dev
	}

	enc, err := encoder.NewBagEncoder(opts.VocabSize, opts.HiddenSize, opts.Seed)
	if err != nil {
		return errors.Wrap(err, "building encoder")
	}

	model, err := layers.NewClassifier(enc, layers.ClassifierConfig{
		NumLabels:   trainSet.NumLabels(),
		Dropout:     opts.Dropout,
		PoolingType: opts.Pooling,
		Features:    featureConfigs(registry, featureNames, opts),
		Device:      tensor.CPU,
		Logger:      logger,
	})
	if err != nil {
		return errors.Wrap(err, "building model")
	}

	store, err := checkpoints.NewDirStore(opts.CheckpointDir)
	if err != nil {
		return err
	}

	controller, err := training.NewController(model, store, logger, training.ControllerConfig{
		ModelName:           opts.ModelName,
		BatchSize:           opts.BatchSize,
		LearningRate:        opts.LearningRate,
		WeightDecay:         opts.WeightDecay,
		EarlyStoppingRounds: opts.EarlyStoppingRounds,
		ValidateEveryN:      opts.ValidateEveryN,
		Progress:            opts.Progress,
		Seed:                opts.Seed,
	})
	if err != nil {
		return err
	}

	result, err := controller.Fit(trainSet, devSet, opts.Epochs)
	if err != nil {
		return errors.Wrap(err, "fit")
	}

	logger.Info("training finished",
		zap.String("state", string(result.State)),
		zap.Float64("best_accuracy", result.BestAccuracy),
		zap.String("best_artifact_id", result.BestArtifactID),
		zap.Int("validations", result.Validations),
		zap.Int("epochs", result.Epochs))
	return nil
}

func selectFeatures(registry *morph.Registry, opts trainOptions) []string {
	var names []string
	if opts.IncludeUpostag {
		names = append(names, morph.UposFeature)
	}
	if opts.IncludeUfeats {
		names = append(names, registry.UfeatNames()...)
	}
	return names
}

func featureConfigs(registry *morph.Registry, names []string, opts trainOptions) []layers.FeatureConfig {
	configs := make([]layers.FeatureConfig, 0, len(names))
	for _, name := range names {
		vocab, err := registry.Feature(name)
		if err != nil {
			continue
		}
		size := opts.UfeatsEmbeddingSize
		if name == morph.UposFeature {
			size = opts.UposEmbeddingSize
		}
		configs = append(configs, layers.FeatureConfig{
			Name:          name,
			VocabSize:     vocab.Len(),
			EmbeddingSize: size,
		})
	}
	return configs
}
