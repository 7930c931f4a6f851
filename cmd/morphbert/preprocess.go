package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mvidmar/morphbert/morph"
)

func preprocessCmd(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "annotate raw text once and cache the result as a csv artifact",
		Long: "Runs each input row through a morphological tagging service and writes " +
			"the annotations next to the text, so training never has to re-annotate.",
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

			return runPreprocess(cmd.Context(), logger, preprocessOptions{
				DataPath:     v.GetString("data-path"),
				DataColumn:   v.GetString("data-column"),
				TargetColumn: v.GetString("target-column"),
				TargetDir:    v.GetString("target-dir"),
				AnnotatorURL: v.GetString("annotator-url"),
				Language:     v.GetString("language"),
			})
		},
	}

	flags := cmd.Flags()
	flags.String("data-path", "", "input csv with raw text and labels")
	flags.String("data-column", "content", "column holding the text to annotate")
	flags.String("target-column", "target", "column holding the class label")
	flags.String("target-dir", "preprocessed", "directory for the annotated artifact")
	flags.String("annotator-url", "", "tagging service endpoint returning conllu")
	flags.String("language", "", "tagging model to request, empty for the service default")
	cobra.CheckErr(cmd.MarkFlagRequired("data-path"))
	cobra.CheckErr(cmd.MarkFlagRequired("annotator-url"))

	return cmd
}

type preprocessOptions struct {
	DataPath     string
	DataColumn   string
	TargetColumn string
	TargetDir    string
	AnnotatorURL string
	Language     string
}

func runPreprocess(ctx context.Context, logger *zap.Logger, opts preprocessOptions) error {
	rows, err := morph.ReadRawRows(opts.DataPath, opts.DataColumn, opts.TargetColumn)
	if err != nil {
		return err
	}
	logger.Info("annotating",
		zap.String("path", opts.DataPath),
		zap.Int("rows", len(rows)))

	annotator, err := morph.NewHTTPAnnotator(opts.AnnotatorURL, nil, logger)
	if err != nil {
		return err
	}
	annotator.SetLanguage(opts.Language)
	records, err := morph.AnnotateRecords(ctx, annotator, rows, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.TargetDir, 0o755); err != nil {
		return errors.Wrap(err, "creating target directory")
	}
	target := filepath.Join(opts.TargetDir, filepath.Base(opts.DataPath))
	if err := morph.WriteArtifact(target, records); err != nil {
		return err
	}
	logger.Info("wrote artifact",
		zap.String("path", target),
		zap.Int("records", len(records)))
	return nil
}
