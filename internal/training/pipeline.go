// Package training runs the offline pipeline: load and clean the passenger
// table, split it, fit the scaler and the forest on the training partition,
// evaluate, persist the bundle and check that the persisted bundle predicts
// exactly like the in-memory one.
package training

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"titanic-predictor/internal/dataprep"
	"titanic-predictor/internal/features"
	"titanic-predictor/internal/metrics"
	"titanic-predictor/internal/ml"
	"titanic-predictor/internal/storage"
)

// Config holds the training parameters.
type Config struct {
	DataPath string
	TestSize float64
	Seed     int64
	Trees    int
	MaxDepth int
	Workers  int
}

// Importance is one feature's share of the forest's impurity decrease.
type Importance struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"importance"`
}

// Report is everything a training run learned about its data and model.
type Report struct {
	Prepare          dataprep.PrepareStats `json:"prepare"`
	TrainRows        int                   `json:"train_rows"`
	TestRows         int                   `json:"test_rows"`
	TrainClassCounts map[int]int           `json:"train_class_counts"`
	TestClassCounts  map[int]int           `json:"test_class_counts"`
	TrainAccuracy    float64               `json:"train_accuracy"`
	Test             *ml.Report            `json:"test"`
	Importances      []Importance          `json:"feature_importances"`
	Permutation      []Importance          `json:"permutation_importances"`
	ArtifactPath     string                `json:"artifact_path"`
	Verified         bool                  `json:"verified"`
	Duration         time.Duration         `json:"duration"`
}

// permutationRepeats is how many shuffles are averaged per feature when
// measuring permutation importance on the test partition.
const permutationRepeats = 5

// Pipeline trains a model and writes it to a store.
type Pipeline struct {
	cfg      Config
	store    *storage.Store
	recorder metrics.TrainingRecorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder reports the run summary to r.
func WithRecorder(r metrics.TrainingRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// NewPipeline returns a pipeline writing to store.
func NewPipeline(cfg Config, store *storage.Store, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, store: store, recorder: metrics.Nop{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes the pipeline end to end. Stages run to completion; ctx is only
// checked between them.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	log.Info().Str("path", p.cfg.DataPath).Msg("Loading dataset")
	table, err := dataprep.LoadFile(p.cfg.DataPath)
	if err != nil {
		return nil, err
	}
	ds, stats, err := dataprep.Prepare(table)
	if err != nil {
		return nil, err
	}
	report.Prepare = stats
	log.Info().
		Int("rows_read", stats.RowsRead).
		Int("rows_dropped", stats.RowsDropped).
		Int("age_imputed", stats.AgeImputed).
		Float64("age_median", stats.AgeMedian).
		Int("fare_imputed", stats.FareImputed).
		Float64("fare_median", stats.FareMedian).
		Msg("Dataset prepared")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	split, err := dataprep.StratifiedSplit(ds, p.cfg.TestSize, p.cfg.Seed)
	if err != nil {
		return nil, err
	}
	report.TrainRows = len(split.YTrain)
	report.TestRows = len(split.YTest)
	report.TrainClassCounts = dataprep.ClassCounts(split.YTrain)
	report.TestClassCounts = dataprep.ClassCounts(split.YTest)
	log.Info().Int("train", report.TrainRows).Int("test", report.TestRows).Msg("Stratified split done")

	// The scaler sees training rows only.
	scaler := ml.NewStandardScaler()
	if err := scaler.Fit(split.XTrain); err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	xTrain, err := scaler.Transform(split.XTrain)
	if err != nil {
		return nil, fmt.Errorf("failed to scale training rows: %w", err)
	}
	xTest, err := scaler.Transform(split.XTest)
	if err != nil {
		return nil, fmt.Errorf("failed to scale test rows: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	forest := ml.NewRandomForest(
		ml.WithEstimators(p.cfg.Trees),
		ml.WithMaxDepth(p.cfg.MaxDepth),
		ml.WithSeed(p.cfg.Seed),
		ml.WithWorkers(p.cfg.Workers),
	)
	fitStart := time.Now()
	if err := forest.Fit(xTrain, split.YTrain); err != nil {
		return nil, fmt.Errorf("failed to fit classifier: %w", err)
	}
	log.Info().Int("trees", p.cfg.Trees).Int("max_depth", p.cfg.MaxDepth).Dur("took", time.Since(fitStart)).Msg("Random forest fitted")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trainPred, err := predictAll(forest, xTrain)
	if err != nil {
		return nil, err
	}
	report.TrainAccuracy, err = ml.Accuracy(split.YTrain, trainPred)
	if err != nil {
		return nil, err
	}
	testPred, err := predictAll(forest, xTest)
	if err != nil {
		return nil, err
	}
	report.Test, err = ml.ClassificationReport(split.YTest, testPred, features.Labels())
	if err != nil {
		return nil, err
	}
	report.Importances = rankImportances(ds.Features, forest.FeatureImportances())
	perm, err := ml.PermutationImportance(forest, xTest, split.YTest, permutationRepeats, p.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to compute permutation importance: %w", err)
	}
	report.Permutation = rankImportances(ds.Features, perm)
	log.Info().
		Float64("train_accuracy", report.TrainAccuracy).
		Float64("test_accuracy", report.Test.Accuracy).
		Msg("Model evaluated")

	manifest := storage.NewManifest()
	manifest.DataPath = p.cfg.DataPath
	manifest.TrainRows = report.TrainRows
	manifest.TestRows = report.TestRows
	manifest.TrainAccuracy = report.TrainAccuracy
	manifest.TestAccuracy = report.Test.Accuracy
	manifest.Seed = p.cfg.Seed
	manifest.NEstimators = p.cfg.Trees
	manifest.MaxDepth = p.cfg.MaxDepth
	manifest.AgeMedian = stats.AgeMedian
	manifest.FareMedian = stats.FareMedian

	bundle := &storage.Bundle{Forest: forest, Scaler: scaler, Features: ds.Features, Manifest: manifest}
	if err := p.store.Save(bundle); err != nil {
		return nil, fmt.Errorf("failed to save artifacts: %w", err)
	}
	report.ArtifactPath = p.store.Path()

	if err := p.verify(bundle, split.XTest[0]); err != nil {
		return nil, fmt.Errorf("artifact verification failed: %w", err)
	}
	report.Verified = true
	report.Duration = time.Since(start)

	p.recorder.ObserveTraining(metrics.TrainingResult{
		TrainAccuracy: report.TrainAccuracy,
		TestAccuracy:  report.Test.Accuracy,
		RowsRead:      stats.RowsRead,
		RowsKept:      stats.RowsKept,
		TrainRows:     report.TrainRows,
		TestRows:      report.TestRows,
		Duration:      report.Duration,
		Importances:   importanceMap(report.Importances),
	})

	log.Info().Str("path", report.ArtifactPath).Dur("took", report.Duration).Msg("Training complete")
	return report, nil
}

// verify reloads the saved bundle and checks that it scores row (unscaled)
// exactly like the in-memory model.
func (p *Pipeline) verify(saved *storage.Bundle, row []float64) error {
	loaded, err := p.store.Load()
	if err != nil {
		return err
	}

	want, err := score(saved, row)
	if err != nil {
		return err
	}
	got, err := score(loaded, row)
	if err != nil {
		return err
	}
	if want.class != got.class {
		return fmt.Errorf("reloaded model predicts class %d, in-memory model %d", got.class, want.class)
	}
	for c := range want.proba {
		if want.proba[c] != got.proba[c] {
			return fmt.Errorf("reloaded model probability %v differs from %v", got.proba, want.proba)
		}
	}
	log.Debug().Int("class", got.class).Floats64("proba", got.proba).Msg("Reloaded bundle verified")
	return nil
}

type scored struct {
	class int
	proba []float64
}

func score(b *storage.Bundle, row []float64) (scored, error) {
	x, err := b.Scaler.TransformRow(row)
	if err != nil {
		return scored{}, err
	}
	class, err := b.Forest.Predict(x)
	if err != nil {
		return scored{}, err
	}
	proba, err := b.Forest.PredictProba(x)
	if err != nil {
		return scored{}, err
	}
	return scored{class: class, proba: proba}, nil
}

func predictAll(c ml.Classifier, x [][]float64) ([]int, error) {
	out := make([]int, len(x))
	for i, row := range x {
		class, err := c.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("predict row %d: %w", i, err)
		}
		out[i] = class
	}
	return out, nil
}

func rankImportances(names []string, values []float64) []Importance {
	out := make([]Importance, len(values))
	for i, v := range values {
		out[i] = Importance{Feature: names[i], Value: v}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

func importanceMap(imps []Importance) map[string]float64 {
	m := make(map[string]float64, len(imps))
	for _, imp := range imps {
		m[imp.Feature] = imp.Value
	}
	return m
}
