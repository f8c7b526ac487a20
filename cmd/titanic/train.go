package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"titanic-predictor/internal/metrics"
	"titanic-predictor/internal/storage"
	"titanic-predictor/internal/training"
)

func (a *app) trainCmd() *cobra.Command {
	var (
		data, artifacts, metricsFile string
		trees, maxDepth              int
		testSize                     float64
		seed                         int64
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier on a passenger CSV and save the artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings
			flags := cmd.Flags()
			if flags.Changed("data") {
				s.DataPath = data
			}
			if flags.Changed("artifacts") {
				s.ArtifactDir = artifacts
			}
			if flags.Changed("trees") {
				s.Trees = trees
			}
			if flags.Changed("max-depth") {
				s.MaxDepth = maxDepth
			}
			if flags.Changed("test-size") {
				s.TestSize = testSize
			}
			if flags.Changed("seed") {
				s.Seed = seed
			}
			if flags.Changed("metrics-file") {
				s.MetricsFile = metricsFile
			}
			if s.Trees < 1 || s.MaxDepth < 1 || s.TestSize <= 0 || s.TestSize >= 1 {
				return fmt.Errorf("invalid training parameters: trees=%d max-depth=%d test-size=%v", s.Trees, s.MaxDepth, s.TestSize)
			}

			var opts []training.Option
			var m *metrics.Metrics
			if s.MetricsFile != "" {
				m = metrics.NewWithRegistry(prometheus.NewRegistry())
				opts = append(opts, training.WithRecorder(m))
			}

			p := training.NewPipeline(training.Config{
				DataPath: s.DataPath,
				TestSize: s.TestSize,
				Seed:     s.Seed,
				Trees:    s.Trees,
				MaxDepth: s.MaxDepth,
				Workers:  s.Workers,
			}, storage.New(s.ArtifactDir), opts...)

			report, err := p.Run(context.Background())
			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}
			training.WriteReport(os.Stdout, report)

			if m != nil {
				if err := m.WriteTextfile(s.MetricsFile); err != nil {
					return fmt.Errorf("failed to write training metrics: %w", err)
				}
				log.Info().Str("path", s.MetricsFile).Msg("Training metrics written")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&data, "data", "", "passenger CSV to train on")
	f.StringVar(&artifacts, "artifacts", "", "directory to write the model bundle to")
	f.IntVar(&trees, "trees", 0, "number of trees in the forest")
	f.IntVar(&maxDepth, "max-depth", 0, "maximum tree depth")
	f.Float64Var(&testSize, "test-size", 0, "fraction of rows held out for evaluation")
	f.Int64Var(&seed, "seed", 0, "random seed for the split and the forest")
	f.StringVar(&metricsFile, "metrics-file", "", "write training metrics in Prometheus text format to this file")
	return cmd
}
